package models

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the processing state of an uploaded document.
type DocumentStatus string

// Document lifecycle states. Status advances monotonically on success and may
// drop to failed from any non-terminal state; failed and ready are terminal.
const (
	DocPending   DocumentStatus = "pending"
	DocParsing   DocumentStatus = "parsing"
	DocChunking  DocumentStatus = "chunking"
	DocEmbedding DocumentStatus = "embedding"
	DocIndexing  DocumentStatus = "indexing"
	DocEnriching DocumentStatus = "enriching"
	DocReady     DocumentStatus = "ready"
	DocFailed    DocumentStatus = "failed"
)

// statusRank orders the success path. failed is handled separately.
var statusRank = map[DocumentStatus]int{
	DocPending:   0,
	DocParsing:   1,
	DocChunking:  2,
	DocEmbedding: 3,
	DocIndexing:  4,
	DocEnriching: 5,
	DocReady:     6,
}

// Rank returns the position of s on the success path, or -1 for failed.
func (s DocumentStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}

	return r
}

// Terminal reports whether no further transitions are allowed from s.
func (s DocumentStatus) Terminal() bool {
	return s == DocReady || s == DocFailed
}

// CanAdvanceTo reports whether a transition from s to next is legal:
// strictly forward on the success path, or to failed from any non-terminal state.
func (s DocumentStatus) CanAdvanceTo(next DocumentStatus) bool {
	if s.Terminal() {
		return false
	}

	if next == DocFailed {
		return true
	}

	return next.Rank() > s.Rank()
}

// Document is an uploaded or fetched source artifact tracked through the pipeline.
type Document struct {
	ID           uuid.UUID      `json:"id"`
	WorkspaceID  uuid.UUID      `json:"workspace_id"`
	SourceURI    string         `json:"source_uri"`
	MimeType     string         `json:"mime_type"`
	Status       DocumentStatus `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ChunkCount   int            `json:"chunk_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Chunk is an immutable contiguous slice of a document's parsed text.
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	// Ordinal is the stable zero-based position of the chunk within its document.
	Ordinal   int    `json:"ordinal"`
	Text      string `json:"text"`
	ByteStart int    `json:"byte_start"`
	ByteEnd   int    `json:"byte_end"`
}

// Embedding is the vector representation of a chunk, one-to-one under vector mode.
type Embedding struct {
	ChunkID   uuid.UUID `json:"chunk_id"`
	Vector    []float32 `json:"vector"`
	Dimension int       `json:"dimension"`
}

// Completion paths joined by the enricher before a document becomes ready.
const (
	PathVector = "vector"
	PathGraph  = "graph"
)

// RequiredPaths returns the completion paths a mode must observe before ready.
func RequiredPaths(mode RagMode) []string {
	switch mode {
	case ModeVector:
		return []string{PathVector}
	case ModeGraph:
		return []string{PathGraph}
	default:
		return []string{PathVector, PathGraph}
	}
}

// UploadDocumentRequest is the payload for registering an uploaded document.
type UploadDocumentRequest struct {
	SourceURI string `json:"source_uri"`
	MimeType  string `json:"mime_type"`
}

// Validate checks required fields on UploadDocumentRequest.
func (r *UploadDocumentRequest) Validate() error {
	if r.SourceURI == "" {
		return ErrMissingSourceURI
	}

	if len(r.SourceURI) > 2048 {
		return ErrFieldTooLong("source_uri", 2048)
	}

	if r.MimeType == "" {
		r.MimeType = "text/plain"
	}

	return nil
}
