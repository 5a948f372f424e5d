package api_test

import (
	"context"

	"github.com/google/uuid"

	"github.com/quarryworks/quarry/internal/models"
)

// Service mocks: each method delegates to its Fn field, so tests override only
// what they exercise.

type mockWorkspaceService struct {
	createFn       func(ctx context.Context, req models.CreateWorkspaceRequest) (*models.Workspace, *models.RagConfigSnapshot, error)
	getFn          func(ctx context.Context, id uuid.UUID) (*models.Workspace, error)
	listFn         func(ctx context.Context, limit, offset int) ([]models.Workspace, error)
	markDeletingFn func(ctx context.Context, id uuid.UUID) error
}

func (m *mockWorkspaceService) CreateWorkspace(ctx context.Context, req models.CreateWorkspaceRequest) (*models.Workspace, *models.RagConfigSnapshot, error) {
	return m.createFn(ctx, req)
}

func (m *mockWorkspaceService) GetWorkspace(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	return m.getFn(ctx, id)
}

func (m *mockWorkspaceService) ListWorkspaces(ctx context.Context, limit, offset int) ([]models.Workspace, error) {
	return m.listFn(ctx, limit, offset)
}

func (m *mockWorkspaceService) MarkDeleting(ctx context.Context, id uuid.UUID) error {
	return m.markDeletingFn(ctx, id)
}

type mockDocumentService struct {
	createFn func(ctx context.Context, workspaceID uuid.UUID, req models.UploadDocumentRequest) (*models.Document, error)
	getFn    func(ctx context.Context, id uuid.UUID) (*models.Document, error)
	listFn   func(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]models.Document, error)
	countFn  func(ctx context.Context, workspaceID uuid.UUID) (map[models.DocumentStatus]int, error)
}

func (m *mockDocumentService) CreateDocument(ctx context.Context, workspaceID uuid.UUID, req models.UploadDocumentRequest) (*models.Document, error) {
	return m.createFn(ctx, workspaceID, req)
}

func (m *mockDocumentService) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	return m.getFn(ctx, id)
}

func (m *mockDocumentService) ListDocuments(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]models.Document, error) {
	return m.listFn(ctx, workspaceID, limit, offset)
}

func (m *mockDocumentService) CountDocuments(ctx context.Context, workspaceID uuid.UUID) (map[models.DocumentStatus]int, error) {
	return m.countFn(ctx, workspaceID)
}

type mockConfigService struct {
	getDefaultFn    func(ctx context.Context) (*models.DefaultRagConfig, error)
	updateDefaultFn func(ctx context.Context, cfg *models.DefaultRagConfig) (*models.DefaultRagConfig, error)
	getSnapshotFn   func(ctx context.Context, workspaceID uuid.UUID) (*models.RagConfigSnapshot, error)
}

func (m *mockConfigService) GetDefaultConfig(ctx context.Context) (*models.DefaultRagConfig, error) {
	return m.getDefaultFn(ctx)
}

func (m *mockConfigService) UpdateDefaultConfig(ctx context.Context, cfg *models.DefaultRagConfig) (*models.DefaultRagConfig, error) {
	return m.updateDefaultFn(ctx, cfg)
}

func (m *mockConfigService) GetSnapshotByWorkspace(ctx context.Context, workspaceID uuid.UUID) (*models.RagConfigSnapshot, error) {
	return m.getSnapshotFn(ctx, workspaceID)
}

type mockChatService struct {
	createSessionFn func(ctx context.Context, workspaceID uuid.UUID, mode models.RagMode) (*models.ChatSession, error)
	getSessionFn    func(ctx context.Context, id uuid.UUID) (*models.ChatSession, error)
	listSessionsFn  func(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]models.ChatSession, error)
	appendFn        func(ctx context.Context, msg *models.ChatMessage) (*models.ChatMessage, error)
	getMessagesFn   func(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]models.ChatMessage, error)
	deleteSessionFn func(ctx context.Context, id uuid.UUID) error
}

func (m *mockChatService) CreateSession(ctx context.Context, workspaceID uuid.UUID, mode models.RagMode) (*models.ChatSession, error) {
	return m.createSessionFn(ctx, workspaceID, mode)
}

func (m *mockChatService) GetSession(ctx context.Context, id uuid.UUID) (*models.ChatSession, error) {
	return m.getSessionFn(ctx, id)
}

func (m *mockChatService) ListSessions(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]models.ChatSession, error) {
	return m.listSessionsFn(ctx, workspaceID, limit, offset)
}

func (m *mockChatService) AppendMessage(ctx context.Context, msg *models.ChatMessage) (*models.ChatMessage, error) {
	return m.appendFn(ctx, msg)
}

func (m *mockChatService) GetMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]models.ChatMessage, error) {
	return m.getMessagesFn(ctx, sessionID, limit, offset)
}

func (m *mockChatService) DeleteSession(ctx context.Context, id uuid.UUID) error {
	return m.deleteSessionFn(ctx, id)
}

// readyWorkspace returns a ready workspace and a getFn resolving it.
func readyWorkspace(mode models.RagMode) *models.Workspace {
	return &models.Workspace{
		ID:      uuid.New(),
		Name:    "test",
		RagMode: mode,
		Status:  models.WorkspaceReady,
	}
}
