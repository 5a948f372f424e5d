package ws

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/quarryworks/quarry/internal/bus"
	"github.com/quarryworks/quarry/internal/models"
)

// Forwarder bridges bus events to the WebSocket hub so browser clients see
// chat stream frames and pipeline milestones without polling. Store-level
// notifications arrive separately through the Postgres notify bridge; the
// forwarder covers the event types that exist only on the bus.
type Forwarder struct {
	Hub *Hub
	Bus bus.Bus
}

// forwardedTopics are the bus topics mirrored to WebSocket clients.
var forwardedTopics = []string{
	bus.TopicChatResponseChunk,
	bus.TopicChatResponseDone,
	bus.TopicChatNoContext,
	bus.TopicChatCancelled,
	bus.TopicChatError,
	bus.TopicDocumentEnriched,
	bus.TopicProvisionStatus,
	bus.TopicDeletionStatus,
}

// Register subscribes the forwarder to every mirrored topic.
func (f *Forwarder) Register() {
	for _, topic := range forwardedTopics {
		f.Bus.Subscribe(topic, f.forward)
	}
}

// wsFrame is the event body sent to clients for a forwarded bus event.
type wsFrame struct {
	DocumentID    string          `json:"document_id,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

func (f *Forwarder) forward(_ context.Context, env models.Envelope) error {
	if env.WorkspaceID == uuid.Nil {
		return nil
	}

	frame := wsFrame{
		CorrelationID: env.CorrelationID,
		Payload:       env.Payload,
	}

	if env.DocumentID != uuid.Nil {
		frame.DocumentID = env.DocumentID.String()
	}

	if env.SessionID != uuid.Nil {
		frame.SessionID = env.SessionID.String()
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return nil
	}

	f.Hub.BroadcastEvent(env.EventType, env.WorkspaceID.String(), data)

	return nil
}
