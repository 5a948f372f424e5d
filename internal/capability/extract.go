package capability

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/quarryworks/quarry/internal/models"
)

// Extraction algorithm names used in RAG configuration.
const (
	ExtractCooccurrence     = "cooccurrence"
	ClusterLabelPropagation = "label_propagation"
)

// properNounRe matches capitalized multi-word terms, the cheap stand-in for
// named entities when no model-backed extractor is configured.
var properNounRe = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]+(?:[ -][A-Z][a-zA-Z0-9]+)*\b`)

// CooccurrenceExtractor derives entities from capitalized terms and links
// entities that appear within the same chunk. Confidence reflects how many
// chunks support the entity or pair.
type CooccurrenceExtractor struct {
	// MaxEntitiesPerDocument caps extraction output so a pathological document
	// cannot flood the graph.
	MaxEntitiesPerDocument int
}

// NewCooccurrenceExtractor creates an extractor with the default entity cap.
func NewCooccurrenceExtractor() *CooccurrenceExtractor {
	return &CooccurrenceExtractor{MaxEntitiesPerDocument: 500}
}

// Extract implements GraphExtractor.
func (e *CooccurrenceExtractor) Extract(ctx context.Context, chunks []models.Chunk) (*Extraction, error) {
	entityCounts := make(map[string]int)
	pairCounts := make(map[[2]string]int)

	for _, chunk := range chunks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		terms := properNounRe.FindAllString(chunk.Text, -1)

		seen := make(map[string]bool, len(terms))
		for _, term := range terms {
			term = strings.TrimSpace(term)
			if len(term) < 3 || seen[term] {
				continue
			}

			seen[term] = true
			entityCounts[term]++
		}

		// Co-occurrence within the chunk links every distinct pair once.
		distinct := make([]string, 0, len(seen))
		for term := range seen {
			distinct = append(distinct, term)
		}

		sort.Strings(distinct)

		for i := 0; i < len(distinct); i++ {
			for j := i + 1; j < len(distinct); j++ {
				pairCounts[[2]string{distinct[i], distinct[j]}]++
			}
		}
	}

	terms := make([]string, 0, len(entityCounts))
	for term := range entityCounts {
		terms = append(terms, term)
	}

	// Most-supported entities first, then lexical for stability.
	sort.Slice(terms, func(i, j int) bool {
		if entityCounts[terms[i]] != entityCounts[terms[j]] {
			return entityCounts[terms[i]] > entityCounts[terms[j]]
		}

		return terms[i] < terms[j]
	})

	if e.MaxEntitiesPerDocument > 0 && len(terms) > e.MaxEntitiesPerDocument {
		terms = terms[:e.MaxEntitiesPerDocument]
	}

	kept := make(map[string]uuid.UUID, len(terms))

	out := &Extraction{}
	maxCount := 1

	for _, term := range terms {
		if entityCounts[term] > maxCount {
			maxCount = entityCounts[term]
		}
	}

	for _, term := range terms {
		id := uuid.New()
		kept[term] = id
		out.Entities = append(out.Entities, models.GraphEntity{
			ID:         id,
			Type:       "term",
			Text:       term,
			Confidence: float64(entityCounts[term]) / float64(maxCount),
		})
	}

	maxPair := 1

	for _, count := range pairCounts {
		if count > maxPair {
			maxPair = count
		}
	}

	for pair, count := range pairCounts {
		srcID, okSrc := kept[pair[0]]
		dstID, okDst := kept[pair[1]]

		if !okSrc || !okDst {
			continue
		}

		out.Relationships = append(out.Relationships, models.GraphRelationship{
			ID:         uuid.New(),
			SourceID:   srcID,
			TargetID:   dstID,
			Type:       "cooccurs_with",
			Confidence: float64(count) / float64(maxPair),
		})
	}

	// Stable order keeps upserts deterministic across redeliveries.
	sort.Slice(out.Relationships, func(i, j int) bool {
		if out.Relationships[i].SourceID != out.Relationships[j].SourceID {
			return out.Relationships[i].SourceID.String() < out.Relationships[j].SourceID.String()
		}

		return out.Relationships[i].TargetID.String() < out.Relationships[j].TargetID.String()
	})

	return out, nil
}

// LabelPropagationDetector clusters entities into communities by propagating
// labels along relationships until convergence. With the deterministic sweep
// order this reduces to connected components for sparse graphs, which is what
// chat-time community context needs.
type LabelPropagationDetector struct{}

// NewLabelPropagationDetector creates a detector.
func NewLabelPropagationDetector() *LabelPropagationDetector {
	return &LabelPropagationDetector{}
}

// Detect implements CommunityDetector.
func (d *LabelPropagationDetector) Detect(ctx context.Context, entities []models.GraphEntity, rels []models.GraphRelationship) ([]models.Community, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	parent := make(map[uuid.UUID]uuid.UUID, len(entities))
	for _, ent := range entities {
		parent[ent.ID] = ent.ID
	}

	var find func(uuid.UUID) uuid.UUID
	find = func(id uuid.UUID) uuid.UUID {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}

		return parent[id]
	}

	for _, rel := range rels {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if _, ok := parent[rel.SourceID]; !ok {
			continue
		}

		if _, ok := parent[rel.TargetID]; !ok {
			continue
		}

		rootA, rootB := find(rel.SourceID), find(rel.TargetID)
		if rootA != rootB {
			parent[rootB] = rootA
		}
	}

	groups := make(map[uuid.UUID][]uuid.UUID)
	for _, ent := range entities {
		root := find(ent.ID)
		groups[root] = append(groups[root], ent.ID)
	}

	var communities []models.Community

	workspaceID := entities[0].WorkspaceID

	for _, members := range groups {
		// Singleton clusters carry no retrieval signal.
		if len(members) < 2 {
			continue
		}

		sort.Slice(members, func(i, j int) bool { return members[i].String() < members[j].String() })

		communities = append(communities, models.Community{
			ID:          uuid.New(),
			WorkspaceID: workspaceID,
			Algorithm:   ClusterLabelPropagation,
			MemberIDs:   members,
		})
	}

	sort.Slice(communities, func(i, j int) bool {
		return communities[i].MemberIDs[0].String() < communities[j].MemberIDs[0].String()
	})

	return communities, nil
}
