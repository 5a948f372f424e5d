package models

import (
	"time"

	"github.com/google/uuid"
)

// GraphEntity is a knowledge-graph vertex extracted from document chunks.
type GraphEntity struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	DocumentID  uuid.UUID `json:"document_id"`
	Type        string    `json:"type"`
	Text        string    `json:"text"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// GraphRelationship links two entities within the same workspace.
// Self-loops (source == target) are rejected at both validation and schema level.
type GraphRelationship struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	SourceID    uuid.UUID `json:"source_id"`
	TargetID    uuid.UUID `json:"target_id"`
	Type        string    `json:"type"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks structural constraints on a relationship.
func (r *GraphRelationship) Validate() error {
	if r.SourceID == r.TargetID {
		return Permanentf("relationship source and target must differ (%s)", r.SourceID)
	}

	if r.Type == "" {
		return Permanentf("relationship type is required")
	}

	return nil
}

// Community is a cluster of related entities produced by community detection.
type Community struct {
	ID          uuid.UUID   `json:"id"`
	WorkspaceID uuid.UUID   `json:"workspace_id"`
	Algorithm   string      `json:"algorithm"`
	MemberIDs   []uuid.UUID `json:"member_ids"`
	CreatedAt   time.Time   `json:"created_at"`
}

// GraphContext is a retrieved subgraph used to ground a chat answer.
type GraphContext struct {
	Entities      []GraphEntity       `json:"entities"`
	Relationships []GraphRelationship `json:"relationships"`
}
