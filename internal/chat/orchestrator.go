// Package chat implements the retrieval-augmented chat orchestrator: context
// retrieval routed by the session's frozen RAG mode, streaming token
// generation, client-keyed cancellation, and history persistence.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/bus"
	"github.com/quarryworks/quarry/internal/capability"
	"github.com/quarryworks/quarry/internal/metrics"
	"github.com/quarryworks/quarry/internal/models"
	"github.com/quarryworks/quarry/internal/store"
)

const (
	vectorTopK     = 5
	graphTermLimit = 8
	historyTurns   = 10
)

// Orchestrator consumes chat events and drives retrieval plus generation.
// Messages within one session are processed strictly in order; different
// sessions run concurrently.
type Orchestrator struct {
	Chats     *store.ChatStore
	Snapshots *store.SnapshotCache
	Registry  *capability.Registry
	Bus       bus.Bus
	Log       *logrus.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*sync.Mutex
	cancels  map[string]context.CancelFunc
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(chats *store.ChatStore, snaps *store.SnapshotCache, reg *capability.Registry, b bus.Bus, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		Chats:     chats,
		Snapshots: snaps,
		Registry:  reg,
		Bus:       b,
		Log:       log,
		sessions:  make(map[uuid.UUID]*sync.Mutex),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Register subscribes the orchestrator to its topics.
func (o *Orchestrator) Register() {
	o.Bus.Subscribe(bus.TopicChatMessageReceived, o.handleMessage)
	o.Bus.Subscribe(bus.TopicChatCancelRequested, o.handleCancel)
}

// messagePayload carries the user's question on chat.message_received.
type messagePayload struct {
	Content string `json:"content"`
}

// chunkPayload is one streamed token on chat.response_chunk. Index restores
// ordering for clients that buffer.
type chunkPayload struct {
	Token string `json:"token"`
	Index int    `json:"index"`
}

// sessionLock returns the mutex serializing one session's turns.
func (o *Orchestrator) sessionLock(id uuid.UUID) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	lock, ok := o.sessions[id]
	if !ok {
		lock = &sync.Mutex{}
		o.sessions[id] = lock
	}

	return lock
}

// handleMessage runs one chat turn. Errors are reported on chat.error and the
// event is acked: replaying a failed generation would duplicate streamed
// tokens the client already saw.
func (o *Orchestrator) handleMessage(ctx context.Context, env models.Envelope) error {
	lock := o.sessionLock(env.SessionID)
	lock.Lock()
	defer lock.Unlock()

	var payload messagePayload
	if err := env.DecodePayload(&payload); err != nil {
		return models.Permanentf("decoding chat payload: %v", err)
	}

	if err := o.runTurn(ctx, env, payload.Content); err != nil {
		if ctx.Err() != nil {
			// Cancelled turns already emitted chat.cancelled.
			return nil
		}

		o.Log.WithError(err).WithFields(logrus.Fields{
			"session_id":     env.SessionID,
			"correlation_id": env.CorrelationID,
		}).Warn("chat turn failed")

		o.emit(ctx, bus.TopicChatError, env, map[string]string{"error": err.Error()})
	}

	return nil
}

func (o *Orchestrator) runTurn(ctx context.Context, env models.Envelope, question string) error {
	session, err := o.Chats.GetSession(ctx, env.SessionID)
	if err != nil {
		return err
	}

	snap, err := o.Snapshots.GetSnapshotByWorkspace(ctx, session.WorkspaceID)
	if err != nil {
		return err
	}

	retrieved, err := o.retrieve(ctx, session, snap, question)
	if err != nil {
		return err
	}

	// No grounding context means no LLM call: the client gets an explicit
	// signal instead of a hallucinated answer.
	if len(retrieved) == 0 {
		o.emit(ctx, bus.TopicChatNoContext, env, nil)

		return nil
	}

	history, err := o.Chats.GetMessages(ctx, session.ID, historyTurns, 0)
	if err != nil {
		return err
	}

	prompt := buildPrompt(history, retrieved, question)

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.registerCancel(env.CorrelationID, cancel)
	defer o.unregisterCancel(env.CorrelationID)

	metrics.ChatStreamsActive.Inc()
	defer metrics.ChatStreamsActive.Dec()

	var (
		answer strings.Builder
		index  int
	)

	err = o.Registry.Llm().GenerateStream(genCtx, prompt, func(token string) error {
		answer.WriteString(token)
		o.emit(ctx, bus.TopicChatResponseChunk, env, chunkPayload{Token: token, Index: index})
		index++

		return nil
	})
	if err != nil {
		if genCtx.Err() != nil {
			// Client cancelled: discard the partial answer, keep the history
			// clean of half-generated turns.
			o.emit(ctx, bus.TopicChatCancelled, env, nil)

			return nil
		}

		return fmt.Errorf("generating answer: %w", err)
	}

	// Persist the assistant turn only after the full answer streamed.
	_, err = o.Chats.AppendMessage(ctx, &models.ChatMessage{
		SessionID:        session.ID,
		Role:             models.RoleAssistant,
		Content:          answer.String(),
		RetrievedContext: retrieved,
	})
	if err != nil {
		return err
	}

	o.emit(ctx, bus.TopicChatResponseDone, env, nil)

	return nil
}

// retrieve gathers grounding context per the session's frozen mode. Hybrid
// queries both paths, vector hits first so clients render the tighter matches
// before the broader graph context.
func (o *Orchestrator) retrieve(ctx context.Context, session *models.ChatSession, snap *models.RagConfigSnapshot, question string) ([]models.RetrievedChunk, error) {
	var out []models.RetrievedChunk

	workspace := &models.Workspace{ID: session.WorkspaceID}

	if session.RagMode.UsesVector() {
		hits, err := o.retrieveVector(ctx, workspace, snap, question)
		if err != nil {
			return nil, err
		}

		out = append(out, hits...)
	}

	if session.RagMode.UsesGraph() {
		hits, err := o.retrieveGraph(ctx, workspace, snap, question)
		if err != nil {
			return nil, err
		}

		out = append(out, hits...)
	}

	return out, nil
}

func (o *Orchestrator) retrieveVector(ctx context.Context, w *models.Workspace, snap *models.RagConfigSnapshot, question string) ([]models.RetrievedChunk, error) {
	embedder, err := o.Registry.EmbedderFor(snap)
	if err != nil {
		return nil, err
	}

	vectors, err := embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	hits, err := o.Registry.VectorStore().Search(ctx, w.VectorCollection(), vectors[0], vectorTopK)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}

	out := make([]models.RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		out = append(out, models.RetrievedChunk{
			Provenance: models.ProvenanceVector,
			Text:       hit.Text,
			Score:      hit.Score,
		})
	}

	return out, nil
}

func (o *Orchestrator) retrieveGraph(ctx context.Context, w *models.Workspace, snap *models.RagConfigSnapshot, question string) ([]models.RetrievedChunk, error) {
	terms := queryTerms(question)
	if len(terms) == 0 {
		return nil, nil
	}

	gc, err := o.Registry.GraphStore().Traverse(ctx, w.GraphNamespace(), terms, snap.TraversalDepth)
	if err != nil {
		return nil, fmt.Errorf("traversing graph: %w", err)
	}

	return renderGraphContext(gc), nil
}

// renderGraphContext flattens a subgraph into provenance-tagged text pieces:
// one per relationship triple, plus orphan entities that matched directly.
func renderGraphContext(gc *models.GraphContext) []models.RetrievedChunk {
	if gc == nil {
		return nil
	}

	names := make(map[uuid.UUID]string, len(gc.Entities))
	linked := make(map[uuid.UUID]bool)

	for _, ent := range gc.Entities {
		names[ent.ID] = ent.Text
	}

	var out []models.RetrievedChunk

	for _, rel := range gc.Relationships {
		src, okSrc := names[rel.SourceID]
		dst, okDst := names[rel.TargetID]

		if !okSrc || !okDst {
			continue
		}

		linked[rel.SourceID] = true
		linked[rel.TargetID] = true

		out = append(out, models.RetrievedChunk{
			Provenance: models.ProvenanceGraph,
			Text:       fmt.Sprintf("%s %s %s", src, strings.ReplaceAll(rel.Type, "_", " "), dst),
			Score:      rel.Confidence,
		})
	}

	for _, ent := range gc.Entities {
		if !linked[ent.ID] {
			out = append(out, models.RetrievedChunk{
				Provenance: models.ProvenanceGraph,
				Text:       ent.Text,
				Score:      ent.Confidence,
			})
		}
	}

	return out
}

// queryTerms picks the significant words of a question for graph seeding.
func queryTerms(question string) []string {
	fields := strings.FieldsFunc(question, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(fields))

	var terms []string

	for _, field := range fields {
		if len(field) < 3 || seen[strings.ToLower(field)] {
			continue
		}

		seen[strings.ToLower(field)] = true
		terms = append(terms, field)

		if len(terms) == graphTermLimit {
			break
		}
	}

	return terms
}

// buildPrompt assembles recent history, retrieved context, and the question.
func buildPrompt(history []models.ChatMessage, retrieved []models.RetrievedChunk, question string) string {
	var sb strings.Builder

	sb.WriteString("Answer the question using only the context below.\n\nContext:\n")

	for _, chunk := range retrieved {
		sb.WriteString("- [")
		sb.WriteString(chunk.Provenance)
		sb.WriteString("] ")
		sb.WriteString(chunk.Text)
		sb.WriteByte('\n')
	}

	if len(history) > 0 {
		sb.WriteString("\nConversation so far:\n")

		for _, msg := range history {
			sb.WriteString(msg.Role)
			sb.WriteString(": ")
			sb.WriteString(msg.Content)
			sb.WriteByte('\n')
		}
	}

	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\nAnswer:")

	return sb.String()
}

func (o *Orchestrator) registerCancel(correlationID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancels[correlationID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) unregisterCancel(correlationID string) {
	o.mu.Lock()
	delete(o.cancels, correlationID)
	o.mu.Unlock()
}

// handleCancel stops an in-flight generation identified by the client's
// correlation ID. Cancelling an unknown or already-finished stream is a no-op.
func (o *Orchestrator) handleCancel(_ context.Context, env models.Envelope) error {
	o.mu.Lock()
	cancel, ok := o.cancels[env.CorrelationID]
	o.mu.Unlock()

	if !ok {
		return nil
	}

	cancel()
	metrics.ChatCancellations.Inc()

	o.Log.WithField("correlation_id", env.CorrelationID).Info("chat generation cancelled")

	return nil
}

// emit publishes a chat event tied to the turn's correlation chain.
func (o *Orchestrator) emit(ctx context.Context, topic string, env models.Envelope, payload any) {
	out := models.NewEnvelope(topic)
	out.WorkspaceID = env.WorkspaceID
	out.SessionID = env.SessionID
	out.CorrelationID = env.CorrelationID

	if payload != nil {
		out = out.WithPayload(payload)
	}

	if err := o.Bus.Publish(ctx, topic, out); err != nil {
		o.Log.WithError(err).WithField("topic", topic).Error("failed to publish chat event")
	}
}
