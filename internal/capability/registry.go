package capability

import (
	"github.com/quarryworks/quarry/internal/models"
)

// Registry resolves snapshot algorithm names to provider implementations.
// Unknown names are permanent errors: retrying a typo'd config never helps.
type Registry struct {
	parser    Parser
	embedders map[string]Embedder
	extractor map[string]GraphExtractor
	detectors map[string]CommunityDetector
	vector    VectorStore
	graph     GraphStore
	llm       LlmProvider
}

// NewRegistry creates an empty registry. Providers are registered at wire-up.
func NewRegistry() *Registry {
	return &Registry{
		embedders: make(map[string]Embedder),
		extractor: make(map[string]GraphExtractor),
		detectors: make(map[string]CommunityDetector),
	}
}

// SetParser registers the document parser.
func (r *Registry) SetParser(p Parser) { r.parser = p }

// RegisterEmbedder registers an embedder under an algorithm name.
func (r *Registry) RegisterEmbedder(name string, e Embedder) { r.embedders[name] = e }

// RegisterExtractor registers a graph extractor under an algorithm name.
func (r *Registry) RegisterExtractor(name string, e GraphExtractor) { r.extractor[name] = e }

// RegisterDetector registers a community detector under an algorithm name.
func (r *Registry) RegisterDetector(name string, d CommunityDetector) { r.detectors[name] = d }

// SetVectorStore registers the vector store.
func (r *Registry) SetVectorStore(v VectorStore) { r.vector = v }

// SetGraphStore registers the graph store.
func (r *Registry) SetGraphStore(g GraphStore) { r.graph = g }

// SetLlm registers the LLM provider.
func (r *Registry) SetLlm(l LlmProvider) { r.llm = l }

// Parser returns the registered parser.
func (r *Registry) Parser() Parser { return r.parser }

// VectorStore returns the registered vector store.
func (r *Registry) VectorStore() VectorStore { return r.vector }

// GraphStore returns the registered graph store.
func (r *Registry) GraphStore() GraphStore { return r.graph }

// Llm returns the registered LLM provider.
func (r *Registry) Llm() LlmProvider { return r.llm }

// ChunkerFor builds a chunker from the snapshot's chunking configuration.
func (r *Registry) ChunkerFor(snap *models.RagConfigSnapshot) (Chunker, error) {
	switch snap.ChunkingAlgorithm {
	case models.ChunkBySentence:
		return NewSentenceChunker(snap.ChunkSize, snap.ChunkOverlap), nil
	case models.ChunkByCharacter:
		return NewCharacterChunker(snap.ChunkSize, snap.ChunkOverlap), nil
	case models.ChunkByParagraph:
		return NewParagraphChunker(snap.ChunkSize), nil
	default:
		return nil, models.Permanentf("unknown chunking algorithm %q", snap.ChunkingAlgorithm)
	}
}

// EmbedderFor resolves the snapshot's embedding algorithm.
func (r *Registry) EmbedderFor(snap *models.RagConfigSnapshot) (Embedder, error) {
	e, ok := r.embedders[snap.EmbeddingAlgorithm]
	if !ok {
		return nil, models.Permanentf("unknown embedding algorithm %q", snap.EmbeddingAlgorithm)
	}

	return e, nil
}

// ExtractorFor resolves the snapshot's extraction algorithm.
func (r *Registry) ExtractorFor(snap *models.RagConfigSnapshot) (GraphExtractor, error) {
	e, ok := r.extractor[snap.ExtractionAlgorithm]
	if !ok {
		return nil, models.Permanentf("unknown extraction algorithm %q", snap.ExtractionAlgorithm)
	}

	return e, nil
}

// DetectorFor resolves the snapshot's clustering algorithm.
func (r *Registry) DetectorFor(snap *models.RagConfigSnapshot) (CommunityDetector, error) {
	d, ok := r.detectors[snap.ClusteringAlgorithm]
	if !ok {
		return nil, models.Permanentf("unknown clustering algorithm %q", snap.ClusteringAlgorithm)
	}

	return d, nil
}
