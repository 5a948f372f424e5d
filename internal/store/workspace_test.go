package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/quarryworks/quarry/internal/models"
	"github.com/quarryworks/quarry/internal/store"
)

func TestCreateWorkspace_SnapshotCreatedAtomically(t *testing.T) {
	base := setupTestBase(t)
	ws := store.NewWorkspaceStore(base)
	configs := store.NewConfigStore(base)
	ctx := context.Background()

	w, snap, err := ws.CreateWorkspace(ctx, models.CreateWorkspaceRequest{
		Name:    "atomic-snapshot",
		RagMode: models.ModeHybrid,
	})
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}

	t.Cleanup(func() { ws.DeleteWorkspace(context.Background(), w.ID) }) //nolint:errcheck

	if w.Status != models.WorkspaceProvisioning {
		t.Errorf("new workspace should be provisioning, got %s", w.Status)
	}

	if snap == nil || snap.WorkspaceID != w.ID {
		t.Fatal("snapshot should be bound to the workspace")
	}

	if snap.Mode != models.ModeHybrid {
		t.Errorf("snapshot mode mismatch: %s", snap.Mode)
	}

	// The snapshot is readable immediately: same transaction as the workspace.
	stored, err := configs.GetSnapshotByWorkspace(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetSnapshotByWorkspace: %v", err)
	}

	if stored.ID != snap.ID {
		t.Errorf("stored snapshot id mismatch: %s vs %s", stored.ID, snap.ID)
	}
}

func TestCreateWorkspace_SnapshotFrozenAgainstDefaultEdits(t *testing.T) {
	base := setupTestBase(t)
	ws := store.NewWorkspaceStore(base)
	configs := store.NewConfigStore(base)
	ctx := context.Background()

	w, snap, err := ws.CreateWorkspace(ctx, models.CreateWorkspaceRequest{
		Name:    "frozen-config",
		RagMode: models.ModeVector,
	})
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}

	t.Cleanup(func() { ws.DeleteWorkspace(context.Background(), w.ID) }) //nolint:errcheck

	// Change the global default after the snapshot was taken.
	def, err := configs.GetDefaultConfig(ctx)
	if err != nil {
		t.Fatalf("GetDefaultConfig: %v", err)
	}

	original := def.ChunkSize
	def.ChunkSize = original + 111

	if _, err := configs.UpdateDefaultConfig(ctx, def); err != nil {
		t.Fatalf("UpdateDefaultConfig: %v", err)
	}

	t.Cleanup(func() {
		def.ChunkSize = original
		configs.UpdateDefaultConfig(context.Background(), def) //nolint:errcheck
	})

	stored, err := configs.GetSnapshot(ctx, snap.ID)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}

	if stored.ChunkSize != original {
		t.Errorf("snapshot chunk size should stay %d, got %d", original, stored.ChunkSize)
	}
}

func TestGetWorkspace_NotFound(t *testing.T) {
	base := setupTestBase(t)
	ws := store.NewWorkspaceStore(base)

	_, err := ws.GetWorkspace(context.Background(), uuid.New())
	if !errors.Is(err, models.ErrWorkspaceNotFound) {
		t.Errorf("expected ErrWorkspaceNotFound, got %v", err)
	}
}

func TestMarkDeleting_Transitions(t *testing.T) {
	base := setupTestBase(t)
	ws := store.NewWorkspaceStore(base)
	ctx := context.Background()

	w := createTestWorkspace(t, base, models.ModeVector)

	if err := ws.MarkDeleting(ctx, w.ID); err != nil {
		t.Fatalf("MarkDeleting: %v", err)
	}

	got, err := ws.GetWorkspace(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}

	if got.Status != models.WorkspaceDeleting {
		t.Errorf("expected deleting, got %s", got.Status)
	}

	// A second deletion request is a conflict, not a failure.
	err = ws.MarkDeleting(ctx, w.ID)
	if !errors.Is(err, models.ErrResourceConflict) {
		t.Errorf("expected ErrResourceConflict on repeat, got %v", err)
	}

	// Unknown workspaces report not found.
	err = ws.MarkDeleting(ctx, uuid.New())
	if !errors.Is(err, models.ErrWorkspaceNotFound) {
		t.Errorf("expected ErrWorkspaceNotFound, got %v", err)
	}
}

func TestDeleteWorkspace_Cascades(t *testing.T) {
	base := setupTestBase(t)
	ws := store.NewWorkspaceStore(base)
	docs := store.NewDocumentStore(base)
	configs := store.NewConfigStore(base)
	ctx := context.Background()

	w := createTestWorkspace(t, base, models.ModeVector)

	doc, err := docs.CreateDocument(ctx, w.ID, models.UploadDocumentRequest{
		SourceURI: "file://" + w.StoragePrefix() + "/doc",
		MimeType:  "text/plain",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	if err := ws.DeleteWorkspace(ctx, w.ID); err != nil {
		t.Fatalf("DeleteWorkspace: %v", err)
	}

	if _, err := ws.GetWorkspace(ctx, w.ID); !errors.Is(err, models.ErrWorkspaceNotFound) {
		t.Errorf("workspace should be gone, got %v", err)
	}

	if _, err := docs.GetDocument(ctx, doc.ID); !errors.Is(err, models.ErrDocumentNotFound) {
		t.Errorf("documents should cascade, got %v", err)
	}

	if _, err := configs.GetSnapshotByWorkspace(ctx, w.ID); !errors.Is(err, models.ErrSnapshotNotFound) {
		t.Errorf("snapshot should cascade, got %v", err)
	}
}

func TestListWorkspaces_ExcludesDeleted(t *testing.T) {
	base := setupTestBase(t)
	ws := store.NewWorkspaceStore(base)
	ctx := context.Background()

	w := createTestWorkspace(t, base, models.ModeGraph)

	all, err := ws.ListWorkspaces(ctx, 500, 0)
	if err != nil {
		t.Fatalf("ListWorkspaces: %v", err)
	}

	if !containsWorkspace(all, w.ID) {
		t.Error("ready workspace should be listed")
	}

	if err := ws.SetWorkspaceStatus(ctx, w.ID, models.WorkspaceDeleting, ""); err != nil {
		t.Fatalf("SetWorkspaceStatus: %v", err)
	}

	// Deleting is still visible; only fully deleted rows disappear.
	all, err = ws.ListWorkspaces(ctx, 500, 0)
	if err != nil {
		t.Fatalf("ListWorkspaces: %v", err)
	}

	if !containsWorkspace(all, w.ID) {
		t.Error("deleting workspace should still be listed")
	}
}

func containsWorkspace(list []models.Workspace, id uuid.UUID) bool {
	for _, w := range list {
		if w.ID == id {
			return true
		}
	}

	return false
}
