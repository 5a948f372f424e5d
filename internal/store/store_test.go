package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/db"
	"github.com/quarryworks/quarry/internal/db/migrations"
	"github.com/quarryworks/quarry/internal/dbpool"
	"github.com/quarryworks/quarry/internal/models"
	"github.com/quarryworks/quarry/internal/store"
)

// testEnv holds shared test infrastructure (single pool across all tests).
type testEnv struct {
	pool *dbpool.Pool
	log  *logrus.Logger
}

var sharedEnv *testEnv

func getTestEnv(t *testing.T) *testEnv {
	t.Helper()

	if sharedEnv != nil {
		return sharedEnv
	}

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()

	pool, err := dbpool.NewPool(ctx, dbURL)
	if err != nil {
		t.Fatalf("connecting to test DB: %v", err)
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	if err := db.RunMigrations(ctx, pool, log, migrations.FS); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	sharedEnv = &testEnv{pool: pool, log: log}

	return sharedEnv
}

// setupTestBase returns a store.Base bound to the shared test pool.
func setupTestBase(t *testing.T) store.Base {
	t.Helper()

	env := getTestEnv(t)

	return store.Base{Pool: env.pool, Log: env.log}
}

// createTestWorkspace creates a workspace in the given mode, flips it to
// ready, and registers cleanup that cascades everything it owns.
func createTestWorkspace(t *testing.T, base store.Base, mode models.RagMode) *models.Workspace {
	t.Helper()

	ws := store.NewWorkspaceStore(base)
	ctx := context.Background()

	w, _, err := ws.CreateWorkspace(ctx, models.CreateWorkspaceRequest{
		Name:    "test-" + string(mode),
		RagMode: mode,
	})
	if err != nil {
		t.Fatalf("creating test workspace: %v", err)
	}

	if err := ws.SetWorkspaceStatus(ctx, w.ID, models.WorkspaceReady, ""); err != nil {
		t.Fatalf("readying test workspace: %v", err)
	}

	t.Cleanup(func() {
		ws.DeleteWorkspace(context.Background(), w.ID) //nolint:errcheck // best-effort cleanup
	})

	w.Status = models.WorkspaceReady

	return w
}
