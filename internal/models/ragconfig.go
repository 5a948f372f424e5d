package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Chunking strategies selectable via configuration.
const (
	ChunkBySentence  = "sentence"
	ChunkByCharacter = "character"
	ChunkByParagraph = "paragraph"
)

// Distance metrics for vector search.
const (
	DistanceCosine = "cosine"
	DistanceL2     = "l2"
)

// DefaultRagConfig is the single-row global template copied into a snapshot at
// workspace-creation time. Edits never retroactively affect existing workspaces.
type DefaultRagConfig struct {
	Version int64 `json:"version"`

	// Vector-mode fields.
	ChunkingAlgorithm  string `json:"chunking_algorithm"`
	ChunkSize          int    `json:"chunk_size"`
	ChunkOverlap       int    `json:"chunk_overlap"`
	EmbeddingAlgorithm string `json:"embedding_algorithm"`
	RerankAlgorithm    string `json:"rerank_algorithm"`
	DistanceMetric     string `json:"distance_metric"`

	// Graph-mode fields.
	ExtractionAlgorithm string `json:"extraction_algorithm"`
	ClusteringAlgorithm string `json:"clustering_algorithm"`
	TraversalDepth      int    `json:"traversal_depth"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks field values on DefaultRagConfig before an update.
func (c *DefaultRagConfig) Validate() error {
	switch c.ChunkingAlgorithm {
	case ChunkBySentence, ChunkByCharacter, ChunkByParagraph:
	default:
		return fmt.Errorf("unknown chunking algorithm %q", c.ChunkingAlgorithm)
	}

	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}

	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.ChunkOverlap)
	}

	switch c.DistanceMetric {
	case DistanceCosine, DistanceL2:
	default:
		return fmt.Errorf("unknown distance metric %q", c.DistanceMetric)
	}

	if c.TraversalDepth < 1 || c.TraversalDepth > 5 {
		return fmt.Errorf("traversal_depth must be between 1 and 5, got %d", c.TraversalDepth)
	}

	return nil
}

// RagConfigSnapshot is the immutable, per-workspace copy of the default config
// taken in the same transaction that creates the workspace. Downstream stages
// read configuration by snapshot ID only, never the live default.
type RagConfigSnapshot struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Mode        RagMode   `json:"mode"`

	ChunkingAlgorithm  string `json:"chunking_algorithm"`
	ChunkSize          int    `json:"chunk_size"`
	ChunkOverlap       int    `json:"chunk_overlap"`
	EmbeddingAlgorithm string `json:"embedding_algorithm"`
	RerankAlgorithm    string `json:"rerank_algorithm"`
	DistanceMetric     string `json:"distance_metric"`

	ExtractionAlgorithm string `json:"extraction_algorithm"`
	ClusteringAlgorithm string `json:"clustering_algorithm"`
	TraversalDepth      int    `json:"traversal_depth"`

	// SourceVersion is the DefaultRagConfig version the snapshot was taken from.
	SourceVersion int64     `json:"source_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// SnapshotFrom freezes the given default config into a snapshot for a workspace.
func SnapshotFrom(cfg *DefaultRagConfig, workspaceID uuid.UUID, mode RagMode) *RagConfigSnapshot {
	return &RagConfigSnapshot{
		ID:                  uuid.New(),
		WorkspaceID:         workspaceID,
		Mode:                mode,
		ChunkingAlgorithm:   cfg.ChunkingAlgorithm,
		ChunkSize:           cfg.ChunkSize,
		ChunkOverlap:        cfg.ChunkOverlap,
		EmbeddingAlgorithm:  cfg.EmbeddingAlgorithm,
		RerankAlgorithm:     cfg.RerankAlgorithm,
		DistanceMetric:      cfg.DistanceMetric,
		ExtractionAlgorithm: cfg.ExtractionAlgorithm,
		ClusteringAlgorithm: cfg.ClusteringAlgorithm,
		TraversalDepth:      cfg.TraversalDepth,
		SourceVersion:       cfg.Version,
	}
}
