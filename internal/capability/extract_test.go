package capability_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/quarryworks/quarry/internal/capability"
	"github.com/quarryworks/quarry/internal/models"
)

func chunksOf(texts ...string) []models.Chunk {
	out := make([]models.Chunk, len(texts))
	for i, text := range texts {
		out[i] = models.Chunk{ID: uuid.New(), Ordinal: i, Text: text}
	}

	return out
}

func TestCooccurrenceExtractor_EntitiesAndLinks(t *testing.T) {
	ex := capability.NewCooccurrenceExtractor()

	chunks := chunksOf(
		"Alice Smith works with Bob Jones at Quarry Labs.",
		"Alice Smith leads the retrieval team.",
	)

	res, err := ex.Extract(context.Background(), chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byText := make(map[string]models.GraphEntity)
	for _, ent := range res.Entities {
		byText[ent.Text] = ent
	}

	for _, want := range []string{"Alice Smith", "Bob Jones", "Quarry Labs"} {
		if _, ok := byText[want]; !ok {
			t.Errorf("expected entity %q, got %v", want, res.Entities)
		}
	}

	// Alice appears in two chunks, Bob in one: higher confidence.
	if byText["Alice Smith"].Confidence <= byText["Bob Jones"].Confidence {
		t.Errorf("repeated entity should score higher: alice=%f bob=%f",
			byText["Alice Smith"].Confidence, byText["Bob Jones"].Confidence)
	}

	if len(res.Relationships) == 0 {
		t.Fatal("expected co-occurrence relationships")
	}

	for _, rel := range res.Relationships {
		if rel.Type != "cooccurs_with" {
			t.Errorf("unexpected relationship type %q", rel.Type)
		}

		if rel.SourceID == rel.TargetID {
			t.Error("self-loop in extraction output")
		}
	}
}

func TestCooccurrenceExtractor_DeterministicEntityOrder(t *testing.T) {
	ex := capability.NewCooccurrenceExtractor()
	chunks := chunksOf("Zeta and Alpha and Mike met Nora in Oslo.")

	first, err := ex.Extract(context.Background(), chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := ex.Extract(context.Background(), chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first.Entities) != len(second.Entities) {
		t.Fatalf("entity counts differ: %d vs %d", len(first.Entities), len(second.Entities))
	}

	for i := range first.Entities {
		if first.Entities[i].Text != second.Entities[i].Text {
			t.Errorf("entity order differs at %d: %q vs %q",
				i, first.Entities[i].Text, second.Entities[i].Text)
		}
	}
}

func TestCooccurrenceExtractor_EntityCap(t *testing.T) {
	ex := &capability.CooccurrenceExtractor{MaxEntitiesPerDocument: 2}

	res, err := ex.Extract(context.Background(), chunksOf("Aaa Bbb Ccc. Ddd mentions Eee and Fff."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Entities) > 2 {
		t.Errorf("expected at most 2 entities, got %d", len(res.Entities))
	}

	// Relationships must only reference kept entities.
	kept := make(map[uuid.UUID]bool)
	for _, ent := range res.Entities {
		kept[ent.ID] = true
	}

	for _, rel := range res.Relationships {
		if !kept[rel.SourceID] || !kept[rel.TargetID] {
			t.Error("relationship references a capped-out entity")
		}
	}
}

func TestLabelPropagationDetector_ConnectedComponents(t *testing.T) {
	d := capability.NewLabelPropagationDetector()
	wsID := uuid.New()

	ents := make([]models.GraphEntity, 5)
	for i := range ents {
		ents[i] = models.GraphEntity{ID: uuid.New(), WorkspaceID: wsID}
	}

	// Two components: {0,1,2} and {3,4}.
	rels := []models.GraphRelationship{
		{SourceID: ents[0].ID, TargetID: ents[1].ID, Type: "cooccurs_with"},
		{SourceID: ents[1].ID, TargetID: ents[2].ID, Type: "cooccurs_with"},
		{SourceID: ents[3].ID, TargetID: ents[4].ID, Type: "cooccurs_with"},
	}

	communities, err := d.Detect(context.Background(), ents, rels)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(communities) != 2 {
		t.Fatalf("expected 2 communities, got %d", len(communities))
	}

	sizes := map[int]int{}
	for _, c := range communities {
		sizes[len(c.MemberIDs)]++

		if c.WorkspaceID != wsID {
			t.Error("community should carry the workspace id")
		}

		if c.Algorithm != capability.ClusterLabelPropagation {
			t.Errorf("unexpected algorithm %q", c.Algorithm)
		}
	}

	if sizes[3] != 1 || sizes[2] != 1 {
		t.Errorf("expected components of size 3 and 2, got %v", sizes)
	}
}

func TestLabelPropagationDetector_SingletonsDropped(t *testing.T) {
	d := capability.NewLabelPropagationDetector()

	ents := []models.GraphEntity{
		{ID: uuid.New(), WorkspaceID: uuid.New()},
		{ID: uuid.New()},
	}

	communities, err := d.Detect(context.Background(), ents, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(communities) != 0 {
		t.Errorf("unlinked entities should produce no communities, got %d", len(communities))
	}
}

func TestLabelPropagationDetector_IgnoresForeignEndpoints(t *testing.T) {
	d := capability.NewLabelPropagationDetector()

	a := models.GraphEntity{ID: uuid.New(), WorkspaceID: uuid.New()}
	b := models.GraphEntity{ID: uuid.New()}

	rels := []models.GraphRelationship{
		{SourceID: a.ID, TargetID: uuid.New(), Type: "x"}, // unknown target
		{SourceID: a.ID, TargetID: b.ID, Type: "x"},
	}

	communities, err := d.Detect(context.Background(), []models.GraphEntity{a, b}, rels)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(communities) != 1 || len(communities[0].MemberIDs) != 2 {
		t.Fatalf("expected one community of the two known entities, got %v", communities)
	}
}

func TestRegistry_SelectionFromSnapshot(t *testing.T) {
	reg := capability.NewRegistry()
	reg.RegisterExtractor("cooccurrence", capability.NewCooccurrenceExtractor())
	reg.RegisterDetector("label_propagation", capability.NewLabelPropagationDetector())

	snap := &models.RagConfigSnapshot{
		ChunkingAlgorithm:   models.ChunkBySentence,
		ChunkSize:           500,
		ChunkOverlap:        50,
		EmbeddingAlgorithm:  "missing",
		ExtractionAlgorithm: "cooccurrence",
		ClusteringAlgorithm: "label_propagation",
	}

	if _, err := reg.ChunkerFor(snap); err != nil {
		t.Errorf("sentence chunker should resolve: %v", err)
	}

	if _, err := reg.ExtractorFor(snap); err != nil {
		t.Errorf("extractor should resolve: %v", err)
	}

	if _, err := reg.DetectorFor(snap); err != nil {
		t.Errorf("detector should resolve: %v", err)
	}

	_, err := reg.EmbedderFor(snap)
	if err == nil {
		t.Fatal("unregistered embedder should error")
	}

	if !models.IsPermanent(err) {
		t.Errorf("unknown algorithm should be a permanent error, got %v", err)
	}

	snap.ChunkingAlgorithm = "typo"
	if _, err := reg.ChunkerFor(snap); err == nil || !models.IsPermanent(err) {
		t.Errorf("unknown chunker should be a permanent error, got %v", err)
	}
}
