// Package lifecycle implements the workspace provisioning and deletion sagas.
//
// Both sagas run as bus consumers so they survive restarts and retry with the
// bus's backoff policy. Provisioning compensates on failure: resources
// allocated before the failing step are released before the workspace is
// marked failed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/bus"
	"github.com/quarryworks/quarry/internal/capability"
	"github.com/quarryworks/quarry/internal/models"
	"github.com/quarryworks/quarry/internal/storage"
	"github.com/quarryworks/quarry/internal/store"
)

// StatusResourcesReleased is the deletion progress marker emitted once the
// workspace's external resources (indexes, stored objects) are gone and only
// the database rows remain.
const StatusResourcesReleased = "resources_released"

// Manager runs the provisioning and deletion sagas.
type Manager struct {
	Workspaces *store.WorkspaceStore
	Snapshots  *store.SnapshotCache
	Vector     capability.VectorStore
	Graph      capability.GraphStore
	Objects    storage.ObjectStore
	Bus        bus.Bus
	Log        *logrus.Logger
}

// Register subscribes the sagas to their request topics.
func (m *Manager) Register() {
	m.Bus.Subscribe(bus.TopicProvisionRequested, m.handleProvision)
	m.Bus.Subscribe(bus.TopicDeletionRequested, m.handleDeletion)
}

// handleProvision allocates the per-mode resources for a new workspace and
// flips it to ready. Each allocation step is idempotent, so a redelivered
// request re-runs the saga from the top without harm.
func (m *Manager) handleProvision(ctx context.Context, env models.Envelope) error {
	w, err := m.Workspaces.GetWorkspace(ctx, env.WorkspaceID)
	if err != nil {
		if errors.Is(err, models.ErrWorkspaceNotFound) {
			return nil
		}

		return err
	}

	// Redelivery after the saga already finished, or deletion won the race.
	if w.Status != models.WorkspaceProvisioning {
		return nil
	}

	if err := m.allocate(ctx, w); err != nil {
		m.Log.WithError(err).WithField("workspace_id", w.ID).Warn("workspace provisioning failed, compensating")

		m.release(ctx, w)

		if markErr := m.Workspaces.SetWorkspaceStatus(ctx, w.ID, models.WorkspaceFailed, err.Error()); markErr != nil {
			return markErr
		}

		m.publishStatus(ctx, bus.TopicProvisionStatus, env, string(models.WorkspaceFailed))

		// The saga handled the failure; ack so the bus does not retry a
		// workspace that is already terminally failed.
		return nil
	}

	if err := m.Workspaces.SetWorkspaceStatus(ctx, w.ID, models.WorkspaceReady, ""); err != nil {
		return err
	}

	m.publishStatus(ctx, bus.TopicProvisionStatus, env, string(models.WorkspaceReady))

	return nil
}

// allocate provisions only what the workspace's mode needs.
func (m *Manager) allocate(ctx context.Context, w *models.Workspace) error {
	if w.RagMode.UsesVector() {
		if err := m.Vector.EnsureCollection(ctx, w.VectorCollection()); err != nil {
			return fmt.Errorf("allocating vector collection: %w", err)
		}
	}

	if w.RagMode.UsesGraph() {
		if err := m.Graph.EnsureNamespace(ctx, w.GraphNamespace()); err != nil {
			return fmt.Errorf("allocating graph namespace: %w", err)
		}
	}

	// Probe the storage prefix with a marker object so a broken object store
	// fails provisioning instead of the first upload.
	uri, err := m.Objects.Put(ctx, w.StoragePrefix()+"/.keep", nil)
	if err != nil {
		return fmt.Errorf("allocating storage prefix: %w", err)
	}

	if err := m.Objects.Delete(ctx, uri); err != nil {
		return fmt.Errorf("releasing storage probe: %w", err)
	}

	return nil
}

// release drops whatever allocate may have created. Safe on partially
// allocated and on never-allocated workspaces.
func (m *Manager) release(ctx context.Context, w *models.Workspace) {
	if w.RagMode.UsesVector() {
		if err := m.Vector.DropCollection(ctx, w.VectorCollection()); err != nil {
			m.Log.WithError(err).WithField("workspace_id", w.ID).Error("failed to release vector collection")
		}
	}

	if w.RagMode.UsesGraph() {
		if err := m.Graph.DropNamespace(ctx, w.GraphNamespace()); err != nil {
			m.Log.WithError(err).WithField("workspace_id", w.ID).Error("failed to release graph namespace")
		}
	}

	if err := m.Objects.DeletePrefix(ctx, w.StoragePrefix()); err != nil {
		m.Log.WithError(err).WithField("workspace_id", w.ID).Error("failed to release storage prefix")
	}
}

// handleDeletion tears a workspace down: indexes first, then stored objects,
// then the rows. A workspace still provisioning is retried later rather than
// deleted out from under its own provisioning saga.
func (m *Manager) handleDeletion(ctx context.Context, env models.Envelope) error {
	w, err := m.Workspaces.GetWorkspace(ctx, env.WorkspaceID)
	if err != nil {
		if errors.Is(err, models.ErrWorkspaceNotFound) {
			// Already gone; deletion is idempotent.
			return nil
		}

		return err
	}

	if w.Status == models.WorkspaceProvisioning {
		// Transient error: the bus redelivers with backoff until the
		// provisioning saga reaches a terminal state.
		return fmt.Errorf("workspace %s still provisioning, retrying deletion later", w.ID)
	}

	// Drop the cached snapshot before the rows go so no pipeline stage
	// resolves configuration for a dead workspace.
	m.Snapshots.Invalidate(w.ID)

	m.release(ctx, w)

	// Progress marker for watchers: the expensive half of teardown is done.
	m.publishStatus(ctx, bus.TopicDeletionStatus, env, StatusResourcesReleased)

	if err := m.Workspaces.DeleteWorkspace(ctx, w.ID); err != nil {
		if errors.Is(err, models.ErrWorkspaceNotFound) {
			return nil
		}

		return err
	}

	m.publishStatus(ctx, bus.TopicDeletionStatus, env, string(models.WorkspaceDeleted))

	m.Log.WithField("workspace_id", w.ID).Info("workspace deleted")

	return nil
}

// publishStatus emits a saga progress event; failures are logged, not fatal,
// since the state change itself has already committed.
func (m *Manager) publishStatus(ctx context.Context, topic string, env models.Envelope, status string) {
	out := models.NewEnvelope(topic).WithPayload(map[string]string{"status": status})
	out.WorkspaceID = env.WorkspaceID
	out.CorrelationID = env.CorrelationID

	if err := m.Bus.Publish(ctx, topic, out); err != nil {
		m.Log.WithError(err).WithField("topic", topic).Error("failed to publish saga status")
	}
}
