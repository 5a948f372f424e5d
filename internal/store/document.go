package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quarryworks/quarry/internal/models"
)

// DocumentStore handles document rows, their pipeline status, parsed text,
// enrichment output, and fan-in completion records.
type DocumentStore struct {
	Base
}

// NewDocumentStore creates a new DocumentStore.
func NewDocumentStore(base Base) *DocumentStore {
	return &DocumentStore{Base: base}
}

const documentColumns = "id, workspace_id, source_uri, mime_type, status, error_message, chunk_count, created_at, updated_at"

func scanDocument(scan func(dest ...any) error) (*models.Document, error) {
	var d models.Document

	err := scan(&d.ID, &d.WorkspaceID, &d.SourceURI, &d.MimeType, &d.Status,
		&d.ErrorMessage, &d.ChunkCount, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &d, nil
}

// CreateDocument registers an uploaded document in pending state.
func (s *DocumentStore) CreateDocument(ctx context.Context, workspaceID uuid.UUID, req models.UploadDocumentRequest) (*models.Document, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.Pool.QueryRow(ctx,
		`INSERT INTO documents (id, workspace_id, source_uri, mime_type)
		VALUES ($1, $2, $3, $4)
		RETURNING `+documentColumns,
		uuid.New(), workspaceID, req.SourceURI, req.MimeType)

	doc, err := scanDocument(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("inserting document: %w", translateDBError(err))
	}

	s.notify("document.status", workspaceID.String(), map[string]any{
		"document_id": doc.ID.String(),
		"status":      string(doc.Status),
	})

	return doc, nil
}

// GetDocument returns a document by ID.
func (s *DocumentStore) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.Pool.QueryRow(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = $1", id)

	doc, err := scanDocument(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDocumentNotFound
		}

		return nil, fmt.Errorf("scanning document: %w", err)
	}

	return doc, nil
}

// ListDocuments returns a workspace's documents ordered by creation time.
func (s *DocumentStore) ListDocuments(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]models.Document, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = 50
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE workspace_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		workspaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var out []models.Document

	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}

		out = append(out, *doc)
	}

	return out, rows.Err()
}

// AdvanceStatus moves a document forward on the success path. Transitions that
// would move backwards or leave a terminal state return ErrInvalidTransition;
// a redelivered stage event observing an already-advanced document treats that
// as "someone else did the work" and skips.
func (s *DocumentStore) AdvanceStatus(ctx context.Context, id uuid.UUID, next models.DocumentStatus) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("advancing document status: %w", err)
	}

	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	var (
		current     models.DocumentStatus
		workspaceID uuid.UUID
	)

	err = tx.QueryRow(ctx,
		"SELECT status, workspace_id FROM documents WHERE id = $1 FOR UPDATE", id).
		Scan(&current, &workspaceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrDocumentNotFound
		}

		return fmt.Errorf("locking document: %w", err)
	}

	if !current.CanAdvanceTo(next) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current, next)
	}

	_, err = tx.Exec(ctx,
		"UPDATE documents SET status = $1, updated_at = now() WHERE id = $2", next, id)
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing status advance: %w", err)
	}

	s.notify("document.status", workspaceID.String(), map[string]any{
		"document_id": id.String(),
		"status":      string(next),
	})

	return nil
}

// MarkFailed terminalizes a document with an error message. Failing an
// already-terminal document is a no-op so redeliveries stay idempotent.
func (s *DocumentStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var workspaceID uuid.UUID

	err := s.Pool.QueryRow(ctx,
		`UPDATE documents SET status = 'failed', error_message = $1, updated_at = now()
		WHERE id = $2 AND status NOT IN ('ready', 'failed')
		RETURNING workspace_id`, reason, id).Scan(&workspaceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}

		return fmt.Errorf("marking document failed: %w", err)
	}

	s.notify("document.status", workspaceID.String(), map[string]any{
		"document_id": id.String(),
		"status":      string(models.DocFailed),
		"error":       reason,
	})

	return nil
}

// SetParsedText stores the parser output for downstream chunking.
func (s *DocumentStore) SetParsedText(ctx context.Context, id uuid.UUID, text string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx,
		"UPDATE documents SET parsed_text = $1, updated_at = now() WHERE id = $2", text, id)
	if err != nil {
		return fmt.Errorf("storing parsed text: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrDocumentNotFound
	}

	return nil
}

// GetParsedText returns the stored parser output.
func (s *DocumentStore) GetParsedText(ctx context.Context, id uuid.UUID) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var text *string

	err := s.Pool.QueryRow(ctx, "SELECT parsed_text FROM documents WHERE id = $1", id).Scan(&text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", models.ErrDocumentNotFound
		}

		return "", fmt.Errorf("reading parsed text: %w", err)
	}

	if text == nil {
		return "", fmt.Errorf("document %s has no parsed text", id)
	}

	return *text, nil
}

// SetChunkCount records how many chunks the chunker produced.
func (s *DocumentStore) SetChunkCount(ctx context.Context, id uuid.UUID, count int) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx,
		"UPDATE documents SET chunk_count = $1, updated_at = now() WHERE id = $2", count, id)
	if err != nil {
		return fmt.Errorf("storing chunk count: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrDocumentNotFound
	}

	return nil
}

// SetEnrichment stores the summary and keywords computed during enrichment.
func (s *DocumentStore) SetEnrichment(ctx context.Context, id uuid.UUID, summary string, keywords []string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx,
		"UPDATE documents SET summary = $1, keywords = $2, updated_at = now() WHERE id = $3",
		summary, keywords, id)
	if err != nil {
		return fmt.Errorf("storing enrichment: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrDocumentNotFound
	}

	return nil
}

// RecordCompletion marks a sub-pipeline path done for a document. The primary
// key makes duplicate recordings from redelivered events harmless.
func (s *DocumentStore) RecordCompletion(ctx context.Context, documentID uuid.UUID, path string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.Pool.Exec(ctx,
		`INSERT INTO document_completions (document_id, path) VALUES ($1, $2)
		ON CONFLICT (document_id, path) DO NOTHING`,
		documentID, path)
	if err != nil {
		return fmt.Errorf("recording completion: %w", translateDBError(err))
	}

	return nil
}

// CompletedPaths returns the paths recorded complete for a document.
func (s *DocumentStore) CompletedPaths(ctx context.Context, documentID uuid.UUID) ([]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		"SELECT path FROM document_completions WHERE document_id = $1 ORDER BY path", documentID)
	if err != nil {
		return nil, fmt.Errorf("listing completions: %w", err)
	}
	defer rows.Close()

	var paths []string

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning completion row: %w", err)
		}

		paths = append(paths, p)
	}

	return paths, rows.Err()
}

// StaleJoins returns documents stuck mid-pipeline longer than maxAge with at
// least one recorded completion, the candidates for the hybrid fan-in reaper.
func (s *DocumentStore) StaleJoins(ctx context.Context, maxAge time.Duration) ([]models.Document, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents d
		WHERE d.status NOT IN ('ready', 'failed', 'pending')
		  AND d.updated_at < now() - $1::interval
		  AND EXISTS (SELECT 1 FROM document_completions c WHERE c.document_id = d.id)
		ORDER BY d.updated_at`,
		fmt.Sprintf("%d seconds", int(maxAge.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("finding stale joins: %w", err)
	}
	defer rows.Close()

	var out []models.Document

	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning stale document: %w", err)
		}

		out = append(out, *doc)
	}

	return out, rows.Err()
}

// DeleteDocument removes a document row; chunks, embeddings, graph artifacts,
// and completion records cascade.
func (s *DocumentStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrDocumentNotFound
	}

	return nil
}

// CountDocuments returns per-status document counts for a workspace.
func (s *DocumentStore) CountDocuments(ctx context.Context, workspaceID uuid.UUID) (map[models.DocumentStatus]int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		"SELECT status, count(*) FROM documents WHERE workspace_id = $1 GROUP BY status", workspaceID)
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DocumentStatus]int)

	for rows.Next() {
		var (
			status models.DocumentStatus
			n      int
		)

		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}

		counts[status] = n
	}

	return counts, rows.Err()
}
