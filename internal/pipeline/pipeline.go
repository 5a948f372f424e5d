// Package pipeline implements the asynchronous document processing stages:
// parse, chunk, route, embed, index, graph construction, and enrichment.
//
// Stages communicate only through bus topics and are individually idempotent,
// so at-least-once delivery and crash/redelivery converge on the same final
// document state. A failure in one document never blocks another.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/bus"
	"github.com/quarryworks/quarry/internal/capability"
	"github.com/quarryworks/quarry/internal/metrics"
	"github.com/quarryworks/quarry/internal/models"
	"github.com/quarryworks/quarry/internal/storage"
	"github.com/quarryworks/quarry/internal/store"
)

// Pipeline wires the stage handlers to their stores and providers.
type Pipeline struct {
	Docs      *store.DocumentStore
	Chunks    *store.ChunkStore
	Snapshots *store.SnapshotCache
	Registry  *capability.Registry
	Objects   storage.ObjectStore
	Bus       bus.Bus
	Log       *logrus.Logger

	// StageTimeout bounds a single stage invocation. Zero means no bound
	// beyond the bus handler timeout.
	StageTimeout time.Duration

	// HybridJoinTimeout bounds how long a document may wait for its slower
	// sub-pipeline path before the reaper fails it. Zero disables the reaper.
	HybridJoinTimeout time.Duration
}

// Register subscribes every stage to its topic. Call before the bus runs.
func (p *Pipeline) Register() {
	p.Bus.Subscribe(bus.TopicDocumentUploaded, p.stage("parse", p.handleUploaded))
	p.Bus.Subscribe(bus.TopicDocumentParsed, p.stage("chunk", p.handleParsed))
	p.Bus.Subscribe(bus.TopicDocumentChunked, p.stage("route", p.handleChunked))
	p.Bus.Subscribe(bus.TopicVectorChunksReady, p.stage("embed", p.handleVectorChunks))
	p.Bus.Subscribe(bus.TopicDocumentEmbedded, p.stage("index", p.handleEmbedded))
	p.Bus.Subscribe(bus.TopicGraphChunksReady, p.stage("graph", p.handleGraphChunks))
	p.Bus.Subscribe(bus.TopicDocumentIndexed, p.stage("enrich", p.handleJoin))
	p.Bus.Subscribe(bus.TopicGraphUpdated, p.stage("enrich", p.handleJoin))
}

// stage wraps a handler with the per-stage timeout and duration metric.
func (p *Pipeline) stage(name string, h bus.Handler) bus.Handler {
	return func(ctx context.Context, env models.Envelope) error {
		if p.StageTimeout > 0 {
			var cancel context.CancelFunc

			ctx, cancel = context.WithTimeout(ctx, p.StageTimeout)
			defer cancel()
		}

		start := time.Now()
		err := h(ctx, env)
		metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		if err != nil {
			p.Log.WithFields(logrus.Fields{
				"stage":       name,
				"document_id": env.DocumentID,
			}).WithError(err).Warn("pipeline stage failed")
		}

		return err
	}
}

// advance moves the document's status forward, treating an illegal transition
// as "a redelivered event lost the race": the work was already done.
func (p *Pipeline) advance(ctx context.Context, id uuid.UUID, next models.DocumentStatus) error {
	err := p.Docs.AdvanceStatus(ctx, id, next)
	if err != nil && !errors.Is(err, models.ErrInvalidTransition) {
		return err
	}

	return nil
}

// OnFailure is the bus FailureHook: a dead-lettered document event
// terminalizes its document so the client sees failed instead of a silent
// stall. Events without a document (saga and chat topics) are left to their
// own error paths.
func (p *Pipeline) OnFailure(ctx context.Context, env models.Envelope, cause error) {
	if env.DocumentID == uuid.Nil {
		return
	}

	if err := p.Docs.MarkFailed(ctx, env.DocumentID, cause.Error()); err != nil {
		p.Log.WithError(err).WithField("document_id", env.DocumentID).
			Error("failed to terminalize document after dead-letter")

		return
	}

	metrics.DocumentsFailed.Inc()
}

// forward publishes the next stage's event, carrying over the causal chain.
func (p *Pipeline) forward(ctx context.Context, topic string, env models.Envelope) error {
	next := models.NewEnvelope(topic)
	next.WorkspaceID = env.WorkspaceID
	next.DocumentID = env.DocumentID
	next.SnapshotID = env.SnapshotID
	next.CorrelationID = env.CorrelationID

	return p.Bus.Publish(ctx, topic, next)
}
