// Package models defines data types for quarry workspaces, documents, and chat.
package models

import (
	"time"

	"github.com/google/uuid"
)

// RagMode selects which retrieval sub-pipelines a workspace runs.
type RagMode string

// Supported RAG modes.
const (
	ModeVector RagMode = "vector"
	ModeGraph  RagMode = "graph"
	ModeHybrid RagMode = "hybrid"
)

// Valid reports whether m is a known RAG mode.
func (m RagMode) Valid() bool {
	switch m {
	case ModeVector, ModeGraph, ModeHybrid:
		return true
	}

	return false
}

// UsesVector reports whether the vector sub-pipeline runs under this mode.
func (m RagMode) UsesVector() bool { return m == ModeVector || m == ModeHybrid }

// UsesGraph reports whether the graph sub-pipeline runs under this mode.
func (m RagMode) UsesGraph() bool { return m == ModeGraph || m == ModeHybrid }

// WorkspaceStatus is the lifecycle state of a workspace.
type WorkspaceStatus string

// Workspace lifecycle states. provisioning -> ready|failed, ready -> deleting -> deleted.
const (
	WorkspaceProvisioning WorkspaceStatus = "provisioning"
	WorkspaceReady        WorkspaceStatus = "ready"
	WorkspaceFailed       WorkspaceStatus = "failed"
	WorkspaceDeleting     WorkspaceStatus = "deleting"
	WorkspaceDeleted      WorkspaceStatus = "deleted"
)

// Workspace is an isolated knowledge base with its own documents, index
// resources, and chat sessions.
type Workspace struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	RagMode      RagMode         `json:"rag_mode"`
	Status       WorkspaceStatus `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// VectorCollection returns the per-workspace vector store collection name.
func (w *Workspace) VectorCollection() string {
	return "ws_" + w.ID.String() + "_chunks"
}

// GraphNamespace returns the per-workspace graph namespace.
func (w *Workspace) GraphNamespace() string {
	return "ws_" + w.ID.String() + "_graph"
}

// StoragePrefix returns the object-storage key prefix for workspace uploads.
func (w *Workspace) StoragePrefix() string {
	return "workspaces/" + w.ID.String()
}

// CreateWorkspaceRequest is the payload for creating a workspace.
type CreateWorkspaceRequest struct {
	Name    string  `json:"name"`
	RagMode RagMode `json:"rag_mode"`
}

// Validate checks required fields and limits on CreateWorkspaceRequest.
func (r *CreateWorkspaceRequest) Validate() error {
	if r.Name == "" {
		return ErrMissingName
	}

	if len(r.Name) > 255 {
		return ErrFieldTooLong("name", 255)
	}

	if r.RagMode == "" {
		return ErrMissingMode
	}

	if !r.RagMode.Valid() {
		return ErrMissingMode
	}

	return nil
}
