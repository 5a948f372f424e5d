package models

import (
	"time"

	"github.com/google/uuid"
)

// Chat message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatSession is a conversation container bound to one workspace. The rag mode
// is copied from the workspace at creation so retrieval routing stays stable
// for the session's lifetime.
type ChatSession struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	RagMode     RagMode   `json:"rag_mode"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChatMessage is one turn in a session, immutable once written.
type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	// RetrievedContext holds the provenance-tagged context used to ground an
	// assistant answer. Empty for user messages.
	RetrievedContext []RetrievedChunk `json:"retrieved_context,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Retrieval provenance tags.
const (
	ProvenanceVector = "vector"
	ProvenanceGraph  = "graph"
)

// RetrievedChunk is one piece of grounding context with its provenance.
type RetrievedChunk struct {
	Provenance string  `json:"provenance"`
	Text       string  `json:"text"`
	Score      float64 `json:"score,omitempty"`
}

// SendMessageRequest is the payload for sending a chat message.
type SendMessageRequest struct {
	Content string `json:"content"`
	// CorrelationID keys the response stream; supplied by the client so it can
	// match chunk events and issue cancellation.
	CorrelationID string `json:"correlation_id"`
}

// Validate checks required fields on SendMessageRequest.
func (r *SendMessageRequest) Validate() error {
	if r.Content == "" {
		return ErrMissingContent
	}

	if len(r.Content) > 32768 {
		return ErrFieldTooLong("content", 32768)
	}

	if r.CorrelationID == "" {
		r.CorrelationID = uuid.New().String()
	}

	if len(r.CorrelationID) > 128 {
		return ErrFieldTooLong("correlation_id", 128)
	}

	return nil
}
