package pipeline

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/db"
	"github.com/quarryworks/quarry/internal/db/migrations"
	"github.com/quarryworks/quarry/internal/dbpool"
	"github.com/quarryworks/quarry/internal/models"
	"github.com/quarryworks/quarry/internal/store"
)

var reaperPool *dbpool.Pool

func reaperBase(t *testing.T) store.Base {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	if reaperPool == nil {
		pool, err := dbpool.NewPool(ctx, dbURL)
		if err != nil {
			t.Fatalf("connecting to test DB: %v", err)
		}

		if err := db.RunMigrations(ctx, pool, log, migrations.FS); err != nil {
			t.Fatalf("running migrations: %v", err)
		}

		reaperPool = pool
	}

	return store.Base{Pool: reaperPool, Log: log}
}

// stuckDocument creates a document frozen mid-join: advanced into indexing,
// optionally with one path already recorded complete.
func stuckDocument(t *testing.T, base store.Base, withCompletion bool) *models.Document {
	t.Helper()

	ctx := context.Background()
	ws := store.NewWorkspaceStore(base)

	w, _, err := ws.CreateWorkspace(ctx, models.CreateWorkspaceRequest{Name: "reaper", RagMode: models.ModeHybrid})
	if err != nil {
		t.Fatalf("creating workspace: %v", err)
	}

	t.Cleanup(func() { ws.DeleteWorkspace(context.Background(), w.ID) }) //nolint:errcheck

	if err := ws.SetWorkspaceStatus(ctx, w.ID, models.WorkspaceReady, ""); err != nil {
		t.Fatalf("readying workspace: %v", err)
	}

	docs := store.NewDocumentStore(base)

	doc, err := docs.CreateDocument(ctx, w.ID, models.UploadDocumentRequest{SourceURI: "mem://reaper/doc", MimeType: "text/plain"})
	if err != nil {
		t.Fatalf("creating document: %v", err)
	}

	for _, status := range []models.DocumentStatus{models.DocParsing, models.DocChunking, models.DocEmbedding, models.DocIndexing} {
		if err := docs.AdvanceStatus(ctx, doc.ID, status); err != nil {
			t.Fatalf("advancing to %s: %v", status, err)
		}
	}

	if withCompletion {
		if err := docs.RecordCompletion(ctx, doc.ID, models.PathVector); err != nil {
			t.Fatalf("recording completion: %v", err)
		}
	}

	return doc
}

func TestReapStaleJoins_FailsDocumentStuckWaitingOnSibling(t *testing.T) {
	base := reaperBase(t)
	docs := store.NewDocumentStore(base)

	// Vector done, graph never arrived. A zero-length timeout makes the fresh
	// row immediately eligible without fabricating timestamps.
	doc := stuckDocument(t, base, true)

	p := &Pipeline{Docs: docs, Log: base.Log, HybridJoinTimeout: time.Nanosecond}
	p.reapStaleJoins(context.Background())

	got, err := docs.GetDocument(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}

	if got.Status != models.DocFailed {
		t.Fatalf("stale join should terminalize the document, got %s", got.Status)
	}

	if !strings.Contains(got.ErrorMessage, "timed out") {
		t.Errorf("failure reason should name the timeout, got %q", got.ErrorMessage)
	}

	// The recorded completion stays for diagnosis.
	paths, err := docs.CompletedPaths(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("CompletedPaths: %v", err)
	}

	if len(paths) != 1 || paths[0] != models.PathVector {
		t.Errorf("completion record should survive reaping, got %v", paths)
	}
}

func TestReapStaleJoins_IgnoresDocumentsWithoutCompletions(t *testing.T) {
	base := reaperBase(t)
	docs := store.NewDocumentStore(base)

	// Still mid-flight on its first path; the stage retry policy owns this one.
	doc := stuckDocument(t, base, false)

	p := &Pipeline{Docs: docs, Log: base.Log, HybridJoinTimeout: time.Nanosecond}
	p.reapStaleJoins(context.Background())

	got, err := docs.GetDocument(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}

	if got.Status != models.DocIndexing {
		t.Errorf("document without completions must not be reaped, got %s", got.Status)
	}
}
