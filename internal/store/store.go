// Package store provides focused, single-concern data access stores for
// quarry workspaces, documents, indexes, and chat history.
//
// Each store owns one domain (workspaces, documents, vectors, graph, chat)
// and embeds shared helpers (Pool, logger) via the Base struct. Stores never
// import each other; shared logic lives in this file or helpers.go.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/dbpool"
)

const defaultQueryTimeout = 30 * time.Second

// Base contains shared dependencies for all stores.
// Embed this in each store struct.
type Base struct {
	Pool *dbpool.Pool
	Log  *logrus.Logger
}

// withTimeout creates a context with the default query timeout.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// notify emits a workspace-scoped event on the ws_events channel so WebSocket
// clients on any process see it (best-effort, post-commit).
func (b *Base) notify(eventType, workspaceID string, detail map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body := map[string]any{
		"type":         eventType,
		"workspace_id": workspaceID,
	}

	for k, v := range detail {
		body[k] = v
	}

	payload, _ := json.Marshal(body) //nolint:errcheck // static keys, cannot fail.
	if _, err := b.Pool.Exec(ctx, "SELECT pg_notify('ws_events', $1)", string(payload)); err != nil {
		b.Log.WithError(err).Warn("failed to send " + eventType + " notification")
	}
}
