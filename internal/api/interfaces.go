package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/quarryworks/quarry/internal/models"
)

// The handler layer depends on these narrow interfaces rather than the
// concrete stores so tests can substitute in-memory fakes.

// WorkspaceService is the workspace operations the handlers need.
type WorkspaceService interface {
	CreateWorkspace(ctx context.Context, req models.CreateWorkspaceRequest) (*models.Workspace, *models.RagConfigSnapshot, error)
	GetWorkspace(ctx context.Context, id uuid.UUID) (*models.Workspace, error)
	ListWorkspaces(ctx context.Context, limit, offset int) ([]models.Workspace, error)
	MarkDeleting(ctx context.Context, id uuid.UUID) error
}

// DocumentService is the document operations the handlers need.
type DocumentService interface {
	CreateDocument(ctx context.Context, workspaceID uuid.UUID, req models.UploadDocumentRequest) (*models.Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	ListDocuments(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]models.Document, error)
	CountDocuments(ctx context.Context, workspaceID uuid.UUID) (map[models.DocumentStatus]int, error)
}

// ConfigService is the configuration operations the handlers need.
type ConfigService interface {
	GetDefaultConfig(ctx context.Context) (*models.DefaultRagConfig, error)
	UpdateDefaultConfig(ctx context.Context, cfg *models.DefaultRagConfig) (*models.DefaultRagConfig, error)
	GetSnapshotByWorkspace(ctx context.Context, workspaceID uuid.UUID) (*models.RagConfigSnapshot, error)
}

// ChatService is the chat session and history operations the handlers need.
type ChatService interface {
	CreateSession(ctx context.Context, workspaceID uuid.UUID, mode models.RagMode) (*models.ChatSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.ChatSession, error)
	ListSessions(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]models.ChatSession, error)
	AppendMessage(ctx context.Context, msg *models.ChatMessage) (*models.ChatMessage, error)
	GetMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]models.ChatMessage, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
}
