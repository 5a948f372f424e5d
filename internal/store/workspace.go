package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quarryworks/quarry/internal/models"
)

// WorkspaceStore handles workspace rows and their lifecycle status.
type WorkspaceStore struct {
	Base
}

// NewWorkspaceStore creates a new WorkspaceStore.
func NewWorkspaceStore(base Base) *WorkspaceStore {
	return &WorkspaceStore{Base: base}
}

const workspaceColumns = "id, name, rag_mode, status, error_message, created_at, updated_at"

func scanWorkspace(scan func(dest ...any) error) (*models.Workspace, error) {
	var w models.Workspace

	err := scan(&w.ID, &w.Name, &w.RagMode, &w.Status, &w.ErrorMessage, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &w, nil
}

// CreateWorkspace inserts a workspace in provisioning state and freezes the
// current DefaultRagConfig into its snapshot within the same transaction:
// either both rows exist afterwards or neither does.
func (s *WorkspaceStore) CreateWorkspace(
	ctx context.Context,
	req models.CreateWorkspaceRequest,
) (*models.Workspace, *models.RagConfigSnapshot, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("creating workspace: %w", err)
	}

	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	cfg, err := defaultConfigForUpdate(ctx, tx)
	if err != nil {
		return nil, nil, err
	}

	workspaceID := uuid.New()

	row := tx.QueryRow(ctx,
		`INSERT INTO workspaces (id, name, rag_mode, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+workspaceColumns,
		workspaceID, req.Name, req.RagMode, models.WorkspaceProvisioning)

	w, err := scanWorkspace(row.Scan)
	if err != nil {
		return nil, nil, fmt.Errorf("scanning created workspace: %w", err)
	}

	snap := models.SnapshotFrom(cfg, workspaceID, req.RagMode)

	err = insertSnapshot(ctx, tx, snap)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("committing create workspace: %w", err)
	}

	s.notify("workspace.created", workspaceID.String(), nil)

	return w, snap, nil
}

// GetWorkspace returns a workspace by ID.
func (s *WorkspaceStore) GetWorkspace(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.Pool.QueryRow(ctx,
		"SELECT "+workspaceColumns+" FROM workspaces WHERE id = $1", id)

	w, err := scanWorkspace(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrWorkspaceNotFound
		}

		return nil, fmt.Errorf("scanning workspace: %w", err)
	}

	return w, nil
}

// ListWorkspaces returns workspaces ordered by creation time, newest first.
func (s *WorkspaceStore) ListWorkspaces(ctx context.Context, limit, offset int) ([]models.Workspace, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = 50
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		"SELECT "+workspaceColumns+" FROM workspaces WHERE status <> 'deleted' ORDER BY created_at DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	defer rows.Close()

	var out []models.Workspace

	for rows.Next() {
		w, err := scanWorkspace(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning workspace row: %w", err)
		}

		out = append(out, *w)
	}

	return out, rows.Err()
}

// SetWorkspaceStatus transitions a workspace's lifecycle status and records an
// optional error message. The caller is responsible for transition legality;
// the store only refuses updates to deleted workspaces.
func (s *WorkspaceStore) SetWorkspaceStatus(ctx context.Context, id uuid.UUID, status models.WorkspaceStatus, errMsg string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx,
		`UPDATE workspaces SET status = $1, error_message = $2, updated_at = now()
		WHERE id = $3 AND status <> 'deleted'`,
		status, errMsg, id)
	if err != nil {
		return fmt.Errorf("updating workspace status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrWorkspaceNotFound
	}

	s.notify("workspace.status", id.String(), map[string]any{"status": string(status)})

	return nil
}

// MarkDeleting moves a workspace into the deleting state. Re-issuing deletion
// against an already-deleting workspace returns ErrResourceConflict so the
// caller can treat it as an idempotent no-op.
func (s *WorkspaceStore) MarkDeleting(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var status models.WorkspaceStatus

	err := s.Pool.QueryRow(ctx,
		`UPDATE workspaces SET status = 'deleting', updated_at = now()
		WHERE id = $1 AND status NOT IN ('deleting', 'deleted')
		RETURNING status`, id).Scan(&status)
	if err == nil {
		s.notify("workspace.status", id.String(), map[string]any{"status": "deleting"})

		return nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("marking workspace deleting: %w", err)
	}

	// Distinguish missing from already-deleting.
	if _, getErr := s.GetWorkspace(ctx, id); getErr != nil {
		return getErr
	}

	return models.ErrResourceConflict
}

// DeleteWorkspace removes the workspace row. The schema cascades snapshots,
// documents, chunks, embeddings, graph artifacts, and chat history.
func (s *WorkspaceStore) DeleteWorkspace(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx, "DELETE FROM workspaces WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting workspace: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrWorkspaceNotFound
	}

	s.notify("workspace.status", id.String(), map[string]any{"status": "deleted"})

	return nil
}
