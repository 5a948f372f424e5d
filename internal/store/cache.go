package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quarryworks/quarry/internal/models"
)

const (
	snapshotCacheTTL    = 5 * time.Minute
	maxSnapshotEntries  = 10000
	snapshotSweepPeriod = 60 * time.Second
)

type cachedSnapshot struct {
	snap      *models.RagConfigSnapshot
	fetchedAt time.Time
}

// SnapshotCache wraps a ConfigStore with a bounded in-memory cache keyed by
// workspace ID. Snapshots are immutable, so entries only need eviction for
// workspace deletion (Invalidate) and memory bounds (TTL sweep).
type SnapshotCache struct {
	inner *ConfigStore
	mu    sync.RWMutex
	cache map[uuid.UUID]cachedSnapshot
}

// NewSnapshotCache creates a caching wrapper around the given ConfigStore.
// The provided context controls the lifetime of the background sweep goroutine.
func NewSnapshotCache(ctx context.Context, inner *ConfigStore) *SnapshotCache {
	c := &SnapshotCache{
		inner: inner,
		cache: make(map[uuid.UUID]cachedSnapshot),
	}
	go c.sweepLoop(ctx)

	return c
}

func (c *SnapshotCache) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(snapshotSweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()

			now := time.Now()
			for k, v := range c.cache {
				if now.Sub(v.fetchedAt) >= snapshotCacheTTL {
					delete(c.cache, k)
				}
			}

			c.mu.Unlock()
		}
	}
}

// GetSnapshotByWorkspace returns the workspace's frozen snapshot, consulting
// the cache first. Every pipeline stage resolves configuration through this
// path, so the hot set stays resident between stage hops.
func (c *SnapshotCache) GetSnapshotByWorkspace(ctx context.Context, workspaceID uuid.UUID) (*models.RagConfigSnapshot, error) {
	c.mu.RLock()

	entry, ok := c.cache[workspaceID]
	if ok && time.Since(entry.fetchedAt) < snapshotCacheTTL {
		c.mu.RUnlock()

		return entry.snap, nil
	}
	c.mu.RUnlock()

	snap, err := c.inner.GetSnapshotByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()

	if len(c.cache) >= maxSnapshotEntries {
		now := time.Now()
		for k, v := range c.cache {
			if now.Sub(v.fetchedAt) >= snapshotCacheTTL {
				delete(c.cache, k)
			}
		}

		for k := range c.cache {
			if len(c.cache) < maxSnapshotEntries {
				break
			}

			delete(c.cache, k)
		}
	}

	c.cache[workspaceID] = cachedSnapshot{snap: snap, fetchedAt: time.Now()}
	c.mu.Unlock()

	return snap, nil
}

// Invalidate drops a workspace's cache entry. Called before the deletion saga
// removes the snapshot row so no stage resolves a dead workspace's config.
func (c *SnapshotCache) Invalidate(workspaceID uuid.UUID) {
	c.mu.Lock()
	delete(c.cache, workspaceID)
	c.mu.Unlock()
}
