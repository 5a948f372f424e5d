package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/quarryworks/quarry/internal/bus"
	"github.com/quarryworks/quarry/internal/models"
	"github.com/quarryworks/quarry/internal/storage"
)

// embeddedPayload carries the embed stage's vectors to the index stage.
type embeddedPayload struct {
	Vectors [][]float32 `json:"vectors"`
}

// handleUploaded fetches the raw bytes and extracts plain text.
func (p *Pipeline) handleUploaded(ctx context.Context, env models.Envelope) error {
	doc, err := p.Docs.GetDocument(ctx, env.DocumentID)
	if err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			// Document deleted while the event was in flight.
			return nil
		}

		return err
	}

	if doc.Status.Terminal() {
		return nil
	}

	if err := p.advance(ctx, doc.ID, models.DocParsing); err != nil {
		return err
	}

	data, err := p.Objects.Get(ctx, doc.SourceURI)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Permanentf("source object missing at %s", doc.SourceURI)
		}

		return fmt.Errorf("fetching source object: %w", err)
	}

	text, err := p.Registry.Parser().Extract(ctx, data, doc.MimeType)
	if err != nil {
		return err
	}

	if err := p.Docs.SetParsedText(ctx, doc.ID, text); err != nil {
		return err
	}

	return p.forward(ctx, bus.TopicDocumentParsed, env)
}

// handleParsed splits the parsed text into chunks per the workspace snapshot.
func (p *Pipeline) handleParsed(ctx context.Context, env models.Envelope) error {
	if err := p.advance(ctx, env.DocumentID, models.DocChunking); err != nil {
		return err
	}

	snap, err := p.Snapshots.GetSnapshotByWorkspace(ctx, env.WorkspaceID)
	if err != nil {
		return err
	}

	chunker, err := p.Registry.ChunkerFor(snap)
	if err != nil {
		return err
	}

	text, err := p.Docs.GetParsedText(ctx, env.DocumentID)
	if err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			return nil
		}

		return err
	}

	spans := chunker.Split(text)
	if len(spans) == 0 {
		return models.Permanentf("chunker produced no chunks")
	}

	chunks := make([]models.Chunk, len(spans))
	for i, span := range spans {
		chunks[i] = models.Chunk{
			ID:         uuid.New(),
			DocumentID: env.DocumentID,
			Ordinal:    i,
			Text:       span.Text,
			ByteStart:  span.ByteStart,
			ByteEnd:    span.ByteEnd,
		}
	}

	if err := p.Chunks.ReplaceChunks(ctx, env.DocumentID, chunks); err != nil {
		return err
	}

	if err := p.Docs.SetChunkCount(ctx, env.DocumentID, len(chunks)); err != nil {
		return err
	}

	return p.forward(ctx, bus.TopicDocumentChunked, env)
}

// handleChunked is the mode router: it fans the chunked document out to the
// sub-pipelines the workspace's frozen mode requires. Hybrid gets both.
func (p *Pipeline) handleChunked(ctx context.Context, env models.Envelope) error {
	snap, err := p.Snapshots.GetSnapshotByWorkspace(ctx, env.WorkspaceID)
	if err != nil {
		return err
	}

	if snap.Mode.UsesVector() {
		if err := p.forward(ctx, bus.TopicVectorChunksReady, env); err != nil {
			return err
		}
	}

	if snap.Mode.UsesGraph() {
		if err := p.forward(ctx, bus.TopicGraphChunksReady, env); err != nil {
			return err
		}
	}

	return nil
}

// handleVectorChunks embeds the document's chunks in one batch.
func (p *Pipeline) handleVectorChunks(ctx context.Context, env models.Envelope) error {
	if err := p.advance(ctx, env.DocumentID, models.DocEmbedding); err != nil {
		return err
	}

	snap, err := p.Snapshots.GetSnapshotByWorkspace(ctx, env.WorkspaceID)
	if err != nil {
		return err
	}

	embedder, err := p.Registry.EmbedderFor(snap)
	if err != nil {
		return err
	}

	chunks, err := p.Chunks.GetChunks(ctx, env.DocumentID)
	if err != nil {
		return err
	}

	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
	}

	next := models.NewEnvelope(bus.TopicDocumentEmbedded).WithPayload(embeddedPayload{Vectors: vectors})
	next.WorkspaceID = env.WorkspaceID
	next.DocumentID = env.DocumentID
	next.SnapshotID = env.SnapshotID
	next.CorrelationID = env.CorrelationID

	return p.Bus.Publish(ctx, bus.TopicDocumentEmbedded, next)
}

// handleEmbedded upserts the vectors into the workspace collection and records
// the vector path complete.
func (p *Pipeline) handleEmbedded(ctx context.Context, env models.Envelope) error {
	if err := p.advance(ctx, env.DocumentID, models.DocIndexing); err != nil {
		return err
	}

	var payload embeddedPayload
	if err := env.DecodePayload(&payload); err != nil {
		return models.Permanentf("decoding embedded payload: %v", err)
	}

	chunks, err := p.Chunks.GetChunks(ctx, env.DocumentID)
	if err != nil {
		return err
	}

	if len(chunks) != len(payload.Vectors) {
		return fmt.Errorf("have %d chunks but %d vectors", len(chunks), len(payload.Vectors))
	}

	collection := (&models.Workspace{ID: env.WorkspaceID}).VectorCollection()

	if err := p.Registry.VectorStore().Upsert(ctx, collection, chunks, payload.Vectors); err != nil {
		return err
	}

	if err := p.Docs.RecordCompletion(ctx, env.DocumentID, models.PathVector); err != nil {
		return err
	}

	return p.forward(ctx, bus.TopicDocumentIndexed, env)
}

// handleGraphChunks extracts entities and relationships from the chunks,
// merges them into the workspace graph, recomputes communities over the full
// namespace, and records the graph path complete.
func (p *Pipeline) handleGraphChunks(ctx context.Context, env models.Envelope) error {
	if err := p.advance(ctx, env.DocumentID, models.DocIndexing); err != nil {
		return err
	}

	snap, err := p.Snapshots.GetSnapshotByWorkspace(ctx, env.WorkspaceID)
	if err != nil {
		return err
	}

	extractor, err := p.Registry.ExtractorFor(snap)
	if err != nil {
		return err
	}

	chunks, err := p.Chunks.GetChunks(ctx, env.DocumentID)
	if err != nil {
		return err
	}

	extraction, err := extractor.Extract(ctx, chunks)
	if err != nil {
		return err
	}

	namespace := (&models.Workspace{ID: env.WorkspaceID}).GraphNamespace()
	graph := p.Registry.GraphStore()

	for i := range extraction.Entities {
		extraction.Entities[i].WorkspaceID = env.WorkspaceID
		extraction.Entities[i].DocumentID = env.DocumentID
	}

	canonical, err := graph.UpsertEntities(ctx, namespace, extraction.Entities)
	if err != nil {
		return err
	}

	// The store keeps pre-existing IDs for already-known entities; remap
	// relationship endpoints onto the canonical IDs before upserting edges.
	remap := make(map[uuid.UUID]uuid.UUID, len(canonical))
	for i := range canonical {
		remap[extraction.Entities[i].ID] = canonical[i].ID
	}

	rels := extraction.Relationships[:0]

	for _, rel := range extraction.Relationships {
		src, okSrc := remap[rel.SourceID]
		dst, okDst := remap[rel.TargetID]

		if !okSrc || !okDst || src == dst {
			continue
		}

		rel.WorkspaceID = env.WorkspaceID
		rel.SourceID = src
		rel.TargetID = dst
		rels = append(rels, rel)
	}

	if err := graph.UpsertRelationships(ctx, namespace, rels); err != nil {
		return err
	}

	if err := p.recluster(ctx, snap, namespace); err != nil {
		return err
	}

	if err := p.Docs.RecordCompletion(ctx, env.DocumentID, models.PathGraph); err != nil {
		return err
	}

	return p.forward(ctx, bus.TopicGraphUpdated, env)
}

// recluster recomputes communities over the whole namespace so documents
// indexed earlier keep contributing to the clustering.
func (p *Pipeline) recluster(ctx context.Context, snap *models.RagConfigSnapshot, namespace string) error {
	detector, err := p.Registry.DetectorFor(snap)
	if err != nil {
		return err
	}

	graph := p.Registry.GraphStore()

	entities, err := graph.Entities(ctx, namespace)
	if err != nil {
		return err
	}

	rels, err := graph.Relationships(ctx, namespace)
	if err != nil {
		return err
	}

	communities, err := detector.Detect(ctx, entities, rels)
	if err != nil {
		return err
	}

	return graph.ReplaceCommunities(ctx, namespace, communities)
}
