// Package bus provides the durable publish/subscribe primitive coordinating
// the document pipeline, workspace sagas, and chat signals.
//
// Delivery is at-least-once with per-message manual acknowledgment: a message
// is acked only after its handler returns nil. Handlers must therefore be
// idempotent. Ordering is guaranteed only within the chat stream topic set;
// everything else may be dispatched out of order.
package bus

import (
	"context"

	"github.com/quarryworks/quarry/internal/models"
)

// Pipeline and saga topics.
const (
	TopicDocumentUploaded  = "document.uploaded"
	TopicDocumentParsed    = "document.parsed"
	TopicDocumentChunked   = "document.chunked"
	TopicVectorChunksReady = "vector.chunks.ready"
	TopicGraphChunksReady  = "graph.chunks.ready"
	TopicDocumentEmbedded  = "document.embedded"
	TopicDocumentIndexed   = "document.indexed"
	TopicGraphUpdated      = "graph.updated"
	TopicDocumentEnriched  = "document.enriched"

	TopicProvisionRequested = "workspace.provision_requested"
	TopicProvisionStatus    = "workspace.provision_status"
	TopicDeletionRequested  = "workspace.deletion_requested"
	TopicDeletionStatus     = "workspace.deletion_status"

	TopicChatMessageReceived = "chat.message_received"
	TopicChatResponseChunk   = "chat.response_chunk"
	TopicChatResponseDone    = "chat.response_complete"
	TopicChatNoContext       = "chat.no_context_found"
	TopicChatCancelRequested = "chat.cancel_requested"
	TopicChatCancelled       = "chat.cancelled"
	TopicChatError           = "chat.error"
)

// ChatStreamTopics carry the per-correlation chat output stream. Token frames
// and the terminal frame must reach clients in publish order, so the durable
// bus drains these topics with a single ordered worker.
var ChatStreamTopics = []string{
	TopicChatResponseChunk,
	TopicChatResponseDone,
	TopicChatNoContext,
	TopicChatCancelled,
	TopicChatError,
}

// Handler processes one envelope. A nil return acks the message. An error
// marked models.Permanent dead-letters immediately; any other error is retried
// with bounded exponential backoff until the attempt budget is exhausted.
type Handler func(ctx context.Context, env models.Envelope) error

// Bus is the publish/consume contract shared by the Postgres-backed
// implementation and the in-process Memory implementation.
type Bus interface {
	// Publish appends an envelope to the topic. The message survives restarts
	// on durable implementations.
	Publish(ctx context.Context, topic string, env models.Envelope) error

	// Subscribe registers a handler for the topic. Must be called before Run.
	// Multiple subscriptions to the same topic each receive every message.
	Subscribe(topic string, h Handler)
}

// FailureHook is invoked after a message is dead-lettered, with the envelope
// and the final handler error. The pipeline uses it to terminalize the owning
// document without affecting other documents or workspaces.
type FailureHook func(ctx context.Context, env models.Envelope, err error)
