package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quarryworks/quarry/internal/models"
)

// ChunkStore handles the immutable chunk rows produced by the chunking stage.
type ChunkStore struct {
	Base
}

// NewChunkStore creates a new ChunkStore.
func NewChunkStore(base Base) *ChunkStore {
	return &ChunkStore{Base: base}
}

// ReplaceChunks writes a document's chunk set in one transaction, replacing
// any earlier set. Redelivered chunking events regenerate identical chunks, so
// replace-then-insert keeps (document_id, ordinal) stable without partial mixes.
func (s *ChunkStore) ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []models.Chunk) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replacing chunks: %w", err)
	}

	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	_, err = tx.Exec(ctx, "DELETE FROM chunks WHERE document_id = $1", documentID)
	if err != nil {
		return fmt.Errorf("clearing old chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(
			`INSERT INTO chunks (id, document_id, ordinal, text, byte_start, byte_end)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, documentID, c.Ordinal, c.Text, c.ByteStart, c.ByteEnd)
	}

	results := tx.SendBatch(ctx, batch)

	for range chunks {
		if _, err := results.Exec(); err != nil {
			results.Close() //nolint:errcheck // already failing.

			return fmt.Errorf("inserting chunk: %w", translateDBError(err))
		}
	}

	if err := results.Close(); err != nil {
		return fmt.Errorf("closing chunk batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chunks: %w", err)
	}

	return nil
}

// GetChunks returns a document's chunks in ordinal order.
func (s *ChunkStore) GetChunks(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		`SELECT id, document_id, ordinal, text, byte_start, byte_end
		FROM chunks WHERE document_id = $1 ORDER BY ordinal`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	var out []models.Chunk

	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text, &c.ByteStart, &c.ByteEnd); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}

		out = append(out, c)
	}

	return out, rows.Err()
}

// DeleteByDocument removes all chunks of a document.
func (s *ChunkStore) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.Pool.Exec(ctx, "DELETE FROM chunks WHERE document_id = $1", documentID)
	if err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}

	return nil
}
