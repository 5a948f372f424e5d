package lifecycle_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/bus"
	"github.com/quarryworks/quarry/internal/capability"
	"github.com/quarryworks/quarry/internal/db"
	"github.com/quarryworks/quarry/internal/db/migrations"
	"github.com/quarryworks/quarry/internal/dbpool"
	"github.com/quarryworks/quarry/internal/lifecycle"
	"github.com/quarryworks/quarry/internal/models"
	"github.com/quarryworks/quarry/internal/storage"
	"github.com/quarryworks/quarry/internal/store"
)

// fakeVectorStore records collection operations and can fail allocation.
type fakeVectorStore struct {
	ensureErr error
	ensured   []string
	dropped   []string
}

func (f *fakeVectorStore) EnsureCollection(_ context.Context, collection string) error {
	if f.ensureErr != nil {
		return f.ensureErr
	}

	f.ensured = append(f.ensured, collection)

	return nil
}

func (f *fakeVectorStore) DropCollection(_ context.Context, collection string) error {
	f.dropped = append(f.dropped, collection)

	return nil
}

func (f *fakeVectorStore) Upsert(context.Context, string, []models.Chunk, [][]float32) error {
	return nil
}

func (f *fakeVectorStore) Search(context.Context, string, []float32, int) ([]capability.ScoredChunk, error) {
	return nil, nil
}

func (f *fakeVectorStore) DeleteDocument(context.Context, string, uuid.UUID) error {
	return nil
}

type sagaRig struct {
	base       store.Base
	busMem     *bus.Memory
	workspaces *store.WorkspaceStore
	vector     *fakeVectorStore
	objects    *storage.Memory
	statuses   map[string][]models.Envelope
}

var sharedPool *dbpool.Pool

func newSagaRig(t *testing.T) *sagaRig {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	if sharedPool == nil {
		pool, err := dbpool.NewPool(ctx, dbURL)
		if err != nil {
			t.Fatalf("connecting to test DB: %v", err)
		}

		if err := db.RunMigrations(ctx, pool, log, migrations.FS); err != nil {
			t.Fatalf("running migrations: %v", err)
		}

		sharedPool = pool
	}

	base := store.Base{Pool: sharedPool, Log: log}

	testCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)

	vector := &fakeVectorStore{}
	objects := storage.NewMemory()
	workspaces := store.NewWorkspaceStore(base)
	busMem := bus.NewMemory(log, 2, nil)

	manager := &lifecycle.Manager{
		Workspaces: workspaces,
		Snapshots:  store.NewSnapshotCache(testCtx, store.NewConfigStore(base)),
		Vector:     vector,
		Graph:      store.NewGraphStore(base),
		Objects:    objects,
		Bus:        busMem,
		Log:        log,
	}
	manager.Register()

	rig := &sagaRig{
		base:       base,
		busMem:     busMem,
		workspaces: workspaces,
		vector:     vector,
		objects:    objects,
		statuses:   make(map[string][]models.Envelope),
	}

	for _, topic := range []string{bus.TopicProvisionStatus, bus.TopicDeletionStatus} {
		topic := topic
		busMem.Subscribe(topic, func(_ context.Context, env models.Envelope) error {
			rig.statuses[topic] = append(rig.statuses[topic], env)

			return nil
		})
	}

	return rig
}

func (r *sagaRig) newWorkspace(t *testing.T, mode models.RagMode) *models.Workspace {
	t.Helper()

	w, _, err := r.workspaces.CreateWorkspace(context.Background(), models.CreateWorkspaceRequest{
		Name: "saga-" + string(mode), RagMode: mode,
	})
	if err != nil {
		t.Fatalf("creating workspace: %v", err)
	}

	t.Cleanup(func() { r.workspaces.DeleteWorkspace(context.Background(), w.ID) }) //nolint:errcheck

	return w
}

func (r *sagaRig) request(t *testing.T, topic string, workspaceID uuid.UUID) {
	t.Helper()

	env := models.NewEnvelope(topic)
	env.WorkspaceID = workspaceID

	if err := r.busMem.Publish(context.Background(), topic, env); err != nil {
		t.Fatalf("publishing %s: %v", topic, err)
	}
}

func TestProvision_AllocatesAndReadies(t *testing.T) {
	rig := newSagaRig(t)
	w := rig.newWorkspace(t, models.ModeVector)

	rig.request(t, bus.TopicProvisionRequested, w.ID)

	got, err := rig.workspaces.GetWorkspace(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}

	if got.Status != models.WorkspaceReady {
		t.Fatalf("expected ready, got %s (%s)", got.Status, got.ErrorMessage)
	}

	if len(rig.vector.ensured) != 1 || rig.vector.ensured[0] != w.VectorCollection() {
		t.Errorf("vector collection not allocated: %v", rig.vector.ensured)
	}

	statuses := rig.statuses[bus.TopicProvisionStatus]
	if len(statuses) != 1 {
		t.Fatalf("expected one provision status event, got %d", len(statuses))
	}

	var payload map[string]string
	if err := statuses[0].DecodePayload(&payload); err != nil {
		t.Fatalf("decoding status payload: %v", err)
	}

	if payload["status"] != string(models.WorkspaceReady) {
		t.Errorf("status payload wrong: %v", payload)
	}
}

func TestProvision_FailureCompensatesAndMarksFailed(t *testing.T) {
	rig := newSagaRig(t)
	rig.vector.ensureErr = errors.New("vector backend unavailable")

	w := rig.newWorkspace(t, models.ModeVector)

	rig.request(t, bus.TopicProvisionRequested, w.ID)

	got, err := rig.workspaces.GetWorkspace(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}

	if got.Status != models.WorkspaceFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}

	if got.ErrorMessage == "" {
		t.Error("failure reason should be recorded")
	}

	// Compensation released the partially allocated resources.
	if len(rig.vector.dropped) == 0 {
		t.Error("expected the vector collection to be released")
	}

	// The saga handled the failure itself; nothing dead-letters.
	if len(rig.busMem.DeadLetters()) != 0 {
		t.Errorf("provision failure should ack, got %+v", rig.busMem.DeadLetters())
	}
}

func TestProvision_RedeliveryOnReadyWorkspaceIsNoop(t *testing.T) {
	rig := newSagaRig(t)
	w := rig.newWorkspace(t, models.ModeVector)

	rig.request(t, bus.TopicProvisionRequested, w.ID)
	rig.request(t, bus.TopicProvisionRequested, w.ID)

	if len(rig.vector.ensured) != 1 {
		t.Errorf("redelivered provision should not re-allocate, got %v", rig.vector.ensured)
	}
}

func TestDeletion_TearsDownEverything(t *testing.T) {
	rig := newSagaRig(t)
	w := rig.newWorkspace(t, models.ModeHybrid)

	rig.request(t, bus.TopicProvisionRequested, w.ID)

	// A stored object under the workspace prefix goes away with it.
	if _, err := rig.objects.Put(context.Background(), w.StoragePrefix()+"/doc", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rig.request(t, bus.TopicDeletionRequested, w.ID)

	if _, err := rig.workspaces.GetWorkspace(context.Background(), w.ID); !errors.Is(err, models.ErrWorkspaceNotFound) {
		t.Errorf("expected ErrWorkspaceNotFound after deletion, got %v", err)
	}

	if rig.objects.Len() != 0 {
		t.Errorf("workspace objects should be gone, %d remain", rig.objects.Len())
	}

	if len(rig.vector.dropped) == 0 {
		t.Error("vector collection should be released on deletion")
	}

	// The saga reports each teardown phase before the terminal status.
	statuses := rig.statuses[bus.TopicDeletionStatus]
	if len(statuses) != 2 {
		t.Fatalf("expected phase and terminal deletion status events, got %d", len(statuses))
	}

	want := []string{lifecycle.StatusResourcesReleased, string(models.WorkspaceDeleted)}

	for i, env := range statuses {
		var payload map[string]string
		if err := env.DecodePayload(&payload); err != nil {
			t.Fatalf("decoding deletion status %d: %v", i, err)
		}

		if payload["status"] != want[i] {
			t.Errorf("deletion status %d: want %q, got %q", i, want[i], payload["status"])
		}
	}
}

func TestDeletion_UnknownWorkspaceIsIdempotent(t *testing.T) {
	rig := newSagaRig(t)

	rig.request(t, bus.TopicDeletionRequested, uuid.New())

	if len(rig.busMem.DeadLetters()) != 0 {
		t.Errorf("deleting a missing workspace should ack, got %+v", rig.busMem.DeadLetters())
	}
}

func TestDeletion_WaitsOutProvisioning(t *testing.T) {
	rig := newSagaRig(t)

	// Workspace stays in provisioning: no provision request is published.
	w := rig.newWorkspace(t, models.ModeVector)

	rig.request(t, bus.TopicDeletionRequested, w.ID)

	// The transient error exhausts the in-process attempt budget.
	if len(rig.busMem.DeadLetters()) != 1 {
		t.Fatalf("expected the deletion to keep retrying, got %d dead letters", len(rig.busMem.DeadLetters()))
	}

	// The workspace itself is untouched.
	got, err := rig.workspaces.GetWorkspace(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}

	if got.Status != models.WorkspaceProvisioning {
		t.Errorf("workspace should still be provisioning, got %s", got.Status)
	}
}
