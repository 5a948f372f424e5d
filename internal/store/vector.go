package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quarryworks/quarry/internal/capability"
	"github.com/quarryworks/quarry/internal/models"
)

// VectorStore is the pgvector-backed capability.VectorStore. Collections are
// a column on one shared embeddings table, so ensure/drop are row operations
// rather than DDL.
type VectorStore struct {
	Base
}

// NewVectorStore creates a new VectorStore.
func NewVectorStore(base Base) *VectorStore {
	return &VectorStore{Base: base}
}

var _ capability.VectorStore = (*VectorStore)(nil)

// EnsureCollection implements capability.VectorStore. Column-scoped
// collections need no setup; this exists so provisioning can verify the
// database is reachable before marking a workspace ready.
func (s *VectorStore) EnsureCollection(ctx context.Context, collection string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := s.Pool.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("ensuring collection %s: %w", collection, err)
	}

	return nil
}

// DropCollection removes every embedding in the collection.
func (s *VectorStore) DropCollection(ctx context.Context, collection string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.Pool.Exec(ctx, "DELETE FROM embeddings WHERE collection = $1", collection)
	if err != nil {
		return fmt.Errorf("dropping collection %s: %w", collection, err)
	}

	return nil
}

// Upsert writes chunk vectors in one transaction. Conflicting chunk IDs are
// overwritten so a redelivered embedding event converges on the same state.
func (s *VectorStore) Upsert(ctx context.Context, collection string, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("got %d chunks but %d vectors", len(chunks), len(vectors))
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("upserting embeddings: %w", err)
	}

	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	batch := &pgx.Batch{}
	for i, c := range chunks {
		batch.Queue(
			`INSERT INTO embeddings (chunk_id, document_id, collection, embedding, dimension)
			VALUES ($1, $2, $3, $4::vector, $5)
			ON CONFLICT (chunk_id) DO UPDATE
			SET collection = EXCLUDED.collection,
			    embedding = EXCLUDED.embedding,
			    dimension = EXCLUDED.dimension`,
			c.ID, c.DocumentID, collection, formatEmbedding(vectors[i]), len(vectors[i]))
	}

	results := tx.SendBatch(ctx, batch)

	for range chunks {
		if _, err := results.Exec(); err != nil {
			results.Close() //nolint:errcheck // already failing.

			return fmt.Errorf("inserting embedding: %w", translateDBError(err))
		}
	}

	if err := results.Close(); err != nil {
		return fmt.Errorf("closing embedding batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing embeddings: %w", err)
	}

	return nil
}

// Search returns the closest chunks by cosine distance, best first. Score is
// similarity (1 - distance) so larger is better.
func (s *VectorStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]capability.ScoredChunk, error) {
	if limit <= 0 {
		limit = 10
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		`SELECT c.id, c.text, 1 - (e.embedding <=> $1::vector) AS score
		FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		WHERE e.collection = $2
		ORDER BY e.embedding <=> $1::vector
		LIMIT $3`,
		formatEmbedding(vector), collection, limit)
	if err != nil {
		return nil, fmt.Errorf("searching collection %s: %w", collection, err)
	}
	defer rows.Close()

	var out []capability.ScoredChunk

	for rows.Next() {
		var hit capability.ScoredChunk
		if err := rows.Scan(&hit.ChunkID, &hit.Text, &hit.Score); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}

		out = append(out, hit)
	}

	return out, rows.Err()
}

// DeleteDocument removes a document's vectors from the collection.
func (s *VectorStore) DeleteDocument(ctx context.Context, collection string, documentID uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.Pool.Exec(ctx,
		"DELETE FROM embeddings WHERE collection = $1 AND document_id = $2", collection, documentID)
	if err != nil {
		return fmt.Errorf("deleting document embeddings: %w", err)
	}

	return nil
}
