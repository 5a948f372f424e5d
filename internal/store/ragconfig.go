package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quarryworks/quarry/internal/models"
)

// ConfigStore handles the global default RAG configuration and the immutable
// per-workspace snapshots frozen from it.
type ConfigStore struct {
	Base
}

// NewConfigStore creates a new ConfigStore.
func NewConfigStore(base Base) *ConfigStore {
	return &ConfigStore{Base: base}
}

const defaultConfigColumns = `version, chunking_algorithm, chunk_size, chunk_overlap,
	embedding_algorithm, rerank_algorithm, distance_metric,
	extraction_algorithm, clustering_algorithm, traversal_depth, updated_at`

func scanDefaultConfig(scan func(dest ...any) error) (*models.DefaultRagConfig, error) {
	var c models.DefaultRagConfig

	err := scan(&c.Version, &c.ChunkingAlgorithm, &c.ChunkSize, &c.ChunkOverlap,
		&c.EmbeddingAlgorithm, &c.RerankAlgorithm, &c.DistanceMetric,
		&c.ExtractionAlgorithm, &c.ClusteringAlgorithm, &c.TraversalDepth, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &c, nil
}

// GetDefaultConfig returns the global configuration template.
func (s *ConfigStore) GetDefaultConfig(ctx context.Context) (*models.DefaultRagConfig, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.Pool.QueryRow(ctx, "SELECT "+defaultConfigColumns+" FROM default_rag_config WHERE id = 1")

	cfg, err := scanDefaultConfig(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("reading default rag config: %w", err)
	}

	return cfg, nil
}

// UpdateDefaultConfig replaces the template and bumps its version. Workspaces
// created before the update keep their frozen snapshots.
func (s *ConfigStore) UpdateDefaultConfig(ctx context.Context, cfg *models.DefaultRagConfig) (*models.DefaultRagConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.Pool.QueryRow(ctx,
		`UPDATE default_rag_config SET
			version = version + 1,
			chunking_algorithm = $1, chunk_size = $2, chunk_overlap = $3,
			embedding_algorithm = $4, rerank_algorithm = $5, distance_metric = $6,
			extraction_algorithm = $7, clustering_algorithm = $8, traversal_depth = $9,
			updated_at = now()
		WHERE id = 1
		RETURNING `+defaultConfigColumns,
		cfg.ChunkingAlgorithm, cfg.ChunkSize, cfg.ChunkOverlap,
		cfg.EmbeddingAlgorithm, cfg.RerankAlgorithm, cfg.DistanceMetric,
		cfg.ExtractionAlgorithm, cfg.ClusteringAlgorithm, cfg.TraversalDepth)

	updated, err := scanDefaultConfig(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("updating default rag config: %w", err)
	}

	return updated, nil
}

// defaultConfigForUpdate reads the template inside a transaction with a row
// lock, so the version recorded in a snapshot matches the values copied.
func defaultConfigForUpdate(ctx context.Context, tx pgx.Tx) (*models.DefaultRagConfig, error) {
	row := tx.QueryRow(ctx, "SELECT "+defaultConfigColumns+" FROM default_rag_config WHERE id = 1 FOR UPDATE")

	cfg, err := scanDefaultConfig(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("locking default rag config: %w", err)
	}

	return cfg, nil
}

const snapshotColumns = `id, workspace_id, mode, chunking_algorithm, chunk_size, chunk_overlap,
	embedding_algorithm, rerank_algorithm, distance_metric,
	extraction_algorithm, clustering_algorithm, traversal_depth, source_version, created_at`

func insertSnapshot(ctx context.Context, tx pgx.Tx, snap *models.RagConfigSnapshot) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO rag_config_snapshots (id, workspace_id, mode,
			chunking_algorithm, chunk_size, chunk_overlap,
			embedding_algorithm, rerank_algorithm, distance_metric,
			extraction_algorithm, clustering_algorithm, traversal_depth, source_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		snap.ID, snap.WorkspaceID, snap.Mode,
		snap.ChunkingAlgorithm, snap.ChunkSize, snap.ChunkOverlap,
		snap.EmbeddingAlgorithm, snap.RerankAlgorithm, snap.DistanceMetric,
		snap.ExtractionAlgorithm, snap.ClusteringAlgorithm, snap.TraversalDepth, snap.SourceVersion)
	if err != nil {
		return fmt.Errorf("inserting rag config snapshot: %w", translateDBError(err))
	}

	return nil
}

func scanSnapshot(scan func(dest ...any) error) (*models.RagConfigSnapshot, error) {
	var snap models.RagConfigSnapshot

	err := scan(&snap.ID, &snap.WorkspaceID, &snap.Mode,
		&snap.ChunkingAlgorithm, &snap.ChunkSize, &snap.ChunkOverlap,
		&snap.EmbeddingAlgorithm, &snap.RerankAlgorithm, &snap.DistanceMetric,
		&snap.ExtractionAlgorithm, &snap.ClusteringAlgorithm, &snap.TraversalDepth,
		&snap.SourceVersion, &snap.CreatedAt)
	if err != nil {
		return nil, err
	}

	return &snap, nil
}

// GetSnapshot returns a snapshot by its ID.
func (s *ConfigStore) GetSnapshot(ctx context.Context, id uuid.UUID) (*models.RagConfigSnapshot, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.Pool.QueryRow(ctx, "SELECT "+snapshotColumns+" FROM rag_config_snapshots WHERE id = $1", id)

	snap, err := scanSnapshot(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrSnapshotNotFound
		}

		return nil, fmt.Errorf("scanning snapshot: %w", err)
	}

	return snap, nil
}

// GetSnapshotByWorkspace returns the single snapshot of a workspace.
func (s *ConfigStore) GetSnapshotByWorkspace(ctx context.Context, workspaceID uuid.UUID) (*models.RagConfigSnapshot, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.Pool.QueryRow(ctx, "SELECT "+snapshotColumns+" FROM rag_config_snapshots WHERE workspace_id = $1", workspaceID)

	snap, err := scanSnapshot(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrSnapshotNotFound
		}

		return nil, fmt.Errorf("scanning workspace snapshot: %w", err)
	}

	return snap, nil
}

// UpdateSnapshot always fails: snapshots are frozen at workspace creation and
// the store exposes no mutation path.
func (s *ConfigStore) UpdateSnapshot(context.Context, *models.RagConfigSnapshot) error {
	return models.ErrConfigImmutable
}
