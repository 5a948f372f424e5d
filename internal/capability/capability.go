// Package capability defines the pluggable provider contracts the pipeline
// and chat orchestrator consume: parsing, chunking, embedding, vector and
// graph indexing, and LLM generation. Concrete implementations are selected
// per workspace from its RagConfigSnapshot; the stages never branch on
// provider identity.
package capability

import (
	"context"

	"github.com/google/uuid"

	"github.com/quarryworks/quarry/internal/models"
)

// Parser extracts plain text from raw document bytes.
type Parser interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Span is one contiguous slice of parsed text produced by a Chunker.
type Span struct {
	Text      string
	ByteStart int
	ByteEnd   int
}

// Chunker splits parsed text into spans. Implementations are constructed from
// a snapshot's chunking algorithm, size, and overlap.
type Chunker interface {
	Split(text string) []Span
}

// Embedder turns a batch of texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ScoredChunk is a vector search hit.
type ScoredChunk struct {
	ChunkID uuid.UUID
	Text    string
	Score   float64
}

// VectorStore indexes chunk vectors per workspace collection. Only the indexer
// stage writes; query workers are read-only.
type VectorStore interface {
	EnsureCollection(ctx context.Context, collection string) error
	DropCollection(ctx context.Context, collection string) error
	Upsert(ctx context.Context, collection string, chunks []models.Chunk, vectors [][]float32) error
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredChunk, error)
	DeleteDocument(ctx context.Context, collection string, documentID uuid.UUID) error
}

// GraphStore persists extracted knowledge-graph artifacts per workspace
// namespace and answers traversal queries at chat time.
type GraphStore interface {
	EnsureNamespace(ctx context.Context, namespace string) error
	DropNamespace(ctx context.Context, namespace string) error
	UpsertEntities(ctx context.Context, namespace string, entities []models.GraphEntity) ([]models.GraphEntity, error)
	UpsertRelationships(ctx context.Context, namespace string, rels []models.GraphRelationship) error
	Entities(ctx context.Context, namespace string) ([]models.GraphEntity, error)
	Relationships(ctx context.Context, namespace string) ([]models.GraphRelationship, error)
	ReplaceCommunities(ctx context.Context, namespace string, communities []models.Community) error
	Traverse(ctx context.Context, namespace string, terms []string, depth int) (*models.GraphContext, error)
	DeleteDocument(ctx context.Context, namespace string, documentID uuid.UUID) error
}

// Extraction is the output of one extractor pass over a document's chunks.
type Extraction struct {
	Entities      []models.GraphEntity
	Relationships []models.GraphRelationship
}

// GraphExtractor pulls entities and relationships out of chunk text.
type GraphExtractor interface {
	Extract(ctx context.Context, chunks []models.Chunk) (*Extraction, error)
}

// CommunityDetector clusters entities using the workspace's relationship set.
type CommunityDetector interface {
	Detect(ctx context.Context, entities []models.GraphEntity, rels []models.GraphRelationship) ([]models.Community, error)
}

// LlmProvider streams generated tokens for a prompt. onToken is called once
// per token in generation order; returning an error from onToken aborts the
// stream, as does context cancellation.
type LlmProvider interface {
	GenerateStream(ctx context.Context, prompt string, onToken func(token string) error) error
}
