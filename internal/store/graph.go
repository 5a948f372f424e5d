package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quarryworks/quarry/internal/capability"
	"github.com/quarryworks/quarry/internal/models"
)

// GraphStore is the Postgres-backed capability.GraphStore. Namespaces are a
// column on the entity table; relationships and communities hang off entities
// by workspace.
type GraphStore struct {
	Base
}

// NewGraphStore creates a new GraphStore.
func NewGraphStore(base Base) *GraphStore {
	return &GraphStore{Base: base}
}

var _ capability.GraphStore = (*GraphStore)(nil)

// EnsureNamespace implements capability.GraphStore. Column-scoped namespaces
// need no setup beyond a reachability check.
func (s *GraphStore) EnsureNamespace(ctx context.Context, namespace string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := s.Pool.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("ensuring namespace %s: %w", namespace, err)
	}

	return nil
}

// DropNamespace removes every entity in the namespace; relationships and
// communities cascade through entity deletion and workspace scoping.
func (s *GraphStore) DropNamespace(ctx context.Context, namespace string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.Pool.Exec(ctx, "DELETE FROM graph_entities WHERE namespace = $1", namespace)
	if err != nil {
		return fmt.Errorf("dropping namespace %s: %w", namespace, err)
	}

	return nil
}

// UpsertEntities merges extracted entities into the namespace. An entity that
// already exists under (workspace, type, text) keeps its stored ID; the
// returned slice carries canonical IDs so the caller can rewrite relationship
// endpoints before upserting those.
func (s *GraphStore) UpsertEntities(ctx context.Context, namespace string, entities []models.GraphEntity) ([]models.GraphEntity, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("upserting entities: %w", err)
	}

	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	out := make([]models.GraphEntity, 0, len(entities))

	for _, ent := range entities {
		row := tx.QueryRow(ctx,
			`INSERT INTO graph_entities (id, namespace, workspace_id, document_id, type, text, confidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (workspace_id, type, text) DO UPDATE
			SET confidence = GREATEST(graph_entities.confidence, EXCLUDED.confidence)
			RETURNING id, namespace, workspace_id, document_id, type, text, confidence, created_at`,
			ent.ID, namespace, ent.WorkspaceID, ent.DocumentID, ent.Type, ent.Text, ent.Confidence)

		var (
			got   models.GraphEntity
			nsCol string
		)

		err := row.Scan(&got.ID, &nsCol, &got.WorkspaceID, &got.DocumentID, &got.Type, &got.Text, &got.Confidence, &got.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("upserting entity %q: %w", ent.Text, translateDBError(err))
		}

		out = append(out, got)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing entities: %w", err)
	}

	return out, nil
}

// UpsertRelationships merges extracted relationships. Duplicate edges under
// (workspace, source, target, type) are kept at their highest confidence.
func (s *GraphStore) UpsertRelationships(ctx context.Context, _ string, rels []models.GraphRelationship) error {
	if len(rels) == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("upserting relationships: %w", err)
	}

	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	batch := &pgx.Batch{}

	for i := range rels {
		if err := rels[i].Validate(); err != nil {
			return err
		}

		batch.Queue(
			`INSERT INTO graph_relationships (id, workspace_id, source_id, target_id, type, confidence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (workspace_id, source_id, target_id, type) DO UPDATE
			SET confidence = GREATEST(graph_relationships.confidence, EXCLUDED.confidence)`,
			rels[i].ID, rels[i].WorkspaceID, rels[i].SourceID, rels[i].TargetID, rels[i].Type, rels[i].Confidence)
	}

	results := tx.SendBatch(ctx, batch)

	for range rels {
		if _, err := results.Exec(); err != nil {
			results.Close() //nolint:errcheck // already failing.

			return fmt.Errorf("inserting relationship: %w", translateDBError(err))
		}
	}

	if err := results.Close(); err != nil {
		return fmt.Errorf("closing relationship batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing relationships: %w", err)
	}

	return nil
}

// Entities returns every entity in the namespace.
func (s *GraphStore) Entities(ctx context.Context, namespace string) ([]models.GraphEntity, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		`SELECT id, workspace_id, document_id, type, text, confidence, created_at
		FROM graph_entities WHERE namespace = $1 ORDER BY created_at, id`, namespace)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

// Relationships returns every relationship whose endpoints live in the namespace.
func (s *GraphStore) Relationships(ctx context.Context, namespace string) ([]models.GraphRelationship, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		`SELECT r.id, r.workspace_id, r.source_id, r.target_id, r.type, r.confidence, r.created_at
		FROM graph_relationships r
		JOIN graph_entities e ON e.id = r.source_id
		WHERE e.namespace = $1
		ORDER BY r.created_at, r.id`, namespace)
	if err != nil {
		return nil, fmt.Errorf("listing relationships: %w", err)
	}
	defer rows.Close()

	var out []models.GraphRelationship

	for rows.Next() {
		var rel models.GraphRelationship
		if err := rows.Scan(&rel.ID, &rel.WorkspaceID, &rel.SourceID, &rel.TargetID, &rel.Type, &rel.Confidence, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}

		out = append(out, rel)
	}

	return out, rows.Err()
}

// ReplaceCommunities swaps the namespace's community set atomically. Community
// detection always recomputes the full clustering, so replacement is the
// idempotent write.
func (s *GraphStore) ReplaceCommunities(ctx context.Context, namespace string, communities []models.Community) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replacing communities: %w", err)
	}

	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	_, err = tx.Exec(ctx,
		`DELETE FROM graph_communities WHERE workspace_id IN
			(SELECT DISTINCT workspace_id FROM graph_entities WHERE namespace = $1)`,
		namespace)
	if err != nil {
		return fmt.Errorf("clearing communities: %w", err)
	}

	for _, c := range communities {
		_, err = tx.Exec(ctx,
			`INSERT INTO graph_communities (id, workspace_id, algorithm, member_ids)
			VALUES ($1, $2, $3, $4)`,
			c.ID, c.WorkspaceID, c.Algorithm, c.MemberIDs)
		if err != nil {
			return fmt.Errorf("inserting community: %w", translateDBError(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing communities: %w", err)
	}

	return nil
}

// Traverse seeds on entities whose text matches any query term, then walks
// relationships breadth-first up to depth hops, returning the touched subgraph.
func (s *GraphStore) Traverse(ctx context.Context, namespace string, terms []string, depth int) (*models.GraphContext, error) {
	if depth < 1 {
		depth = 1
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	seeds, err := s.matchEntities(ctx, namespace, terms)
	if err != nil {
		return nil, err
	}

	gc := &models.GraphContext{}
	visited := make(map[uuid.UUID]bool, len(seeds))
	frontier := make([]uuid.UUID, 0, len(seeds))

	for _, ent := range seeds {
		visited[ent.ID] = true
		frontier = append(frontier, ent.ID)
		gc.Entities = append(gc.Entities, ent)
	}

	seenRels := make(map[uuid.UUID]bool)

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		rels, err := s.edgesFrom(ctx, frontier)
		if err != nil {
			return nil, err
		}

		var next []uuid.UUID

		for _, rel := range rels {
			if seenRels[rel.ID] {
				continue
			}

			seenRels[rel.ID] = true
			gc.Relationships = append(gc.Relationships, rel)

			for _, id := range []uuid.UUID{rel.SourceID, rel.TargetID} {
				if !visited[id] {
					visited[id] = true
					next = append(next, id)
				}
			}
		}

		if len(next) > 0 {
			ents, err := s.entitiesByID(ctx, next)
			if err != nil {
				return nil, err
			}

			gc.Entities = append(gc.Entities, ents...)
		}

		frontier = next
	}

	return gc, nil
}

func (s *GraphStore) matchEntities(ctx context.Context, namespace string, terms []string) ([]models.GraphEntity, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	rows, err := s.Pool.Query(ctx,
		`SELECT id, workspace_id, document_id, type, text, confidence, created_at
		FROM graph_entities
		WHERE namespace = $1 AND text ILIKE ANY($2)
		ORDER BY confidence DESC
		LIMIT 50`,
		namespace, likePatterns(terms))
	if err != nil {
		return nil, fmt.Errorf("matching entities: %w", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

func (s *GraphStore) entitiesByID(ctx context.Context, ids []uuid.UUID) ([]models.GraphEntity, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, workspace_id, document_id, type, text, confidence, created_at
		FROM graph_entities WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("loading entities: %w", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

func (s *GraphStore) edgesFrom(ctx context.Context, ids []uuid.UUID) ([]models.GraphRelationship, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, workspace_id, source_id, target_id, type, confidence, created_at
		FROM graph_relationships
		WHERE source_id = ANY($1) OR target_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("loading edges: %w", err)
	}
	defer rows.Close()

	var out []models.GraphRelationship

	for rows.Next() {
		var rel models.GraphRelationship
		if err := rows.Scan(&rel.ID, &rel.WorkspaceID, &rel.SourceID, &rel.TargetID, &rel.Type, &rel.Confidence, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}

		out = append(out, rel)
	}

	return out, rows.Err()
}

func collectEntities(rows pgx.Rows) ([]models.GraphEntity, error) {
	var out []models.GraphEntity

	for rows.Next() {
		var ent models.GraphEntity
		if err := rows.Scan(&ent.ID, &ent.WorkspaceID, &ent.DocumentID, &ent.Type, &ent.Text, &ent.Confidence, &ent.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}

		out = append(out, ent)
	}

	return out, rows.Err()
}

func likePatterns(terms []string) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = "%" + t + "%"
	}

	return out
}

// DeleteDocument removes the entities a document contributed. Entities that
// other documents also mention stay; only rows first created by this document
// go, and their relationships cascade.
func (s *GraphStore) DeleteDocument(ctx context.Context, namespace string, documentID uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.Pool.Exec(ctx,
		"DELETE FROM graph_entities WHERE namespace = $1 AND document_id = $2", namespace, documentID)
	if err != nil {
		return fmt.Errorf("deleting document entities: %w", err)
	}

	return nil
}
