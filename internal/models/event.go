package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the event carried on the bus between pipeline stages. It is
// published by one stage, consumed by the next, and never mutated. Ordering is
// guaranteed only within a causal chain tied by DocumentID or CorrelationID.
type Envelope struct {
	EventType     string          `json:"event_type"`
	WorkspaceID   uuid.UUID       `json:"workspace_id,omitempty"`
	DocumentID    uuid.UUID       `json:"document_id,omitempty"`
	SessionID     uuid.UUID       `json:"session_id,omitempty"`
	SnapshotID    uuid.UUID       `json:"snapshot_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewEnvelope creates an envelope for the given event type, stamped now.
func NewEnvelope(eventType string) Envelope {
	return Envelope{EventType: eventType, OccurredAt: time.Now().UTC()}
}

// WithPayload returns a copy of e carrying the JSON encoding of v.
// Encoding failures are impossible for the internal payload structs we pass,
// so the error is folded into an empty payload.
func (e Envelope) WithPayload(v any) Envelope {
	data, err := json.Marshal(v)
	if err != nil {
		return e
	}

	e.Payload = data

	return e
}

// DecodePayload unmarshals the envelope payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}

	return json.Unmarshal(e.Payload, v)
}
