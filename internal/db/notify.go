package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/dbpool"
)

// Notification channels.
const (
	// busWakeupChannel carries the topic name of a freshly published bus
	// message so claim workers wake without waiting for the poll tick.
	busWakeupChannel = "bus_wakeup"
	// wsEventsChannel carries workspace-scoped events for WebSocket fan-out,
	// letting any process's clients see events produced by another process.
	wsEventsChannel = "ws_events"
)

const (
	initialBackoff    = 1 * time.Second
	maxBackoff        = 30 * time.Second
	backoffMultiplier = 2
)

// Waker pokes bus consumers for a topic.
type Waker interface {
	Wake(topic string)
}

// Broadcaster sends events to connected WebSocket clients.
type Broadcaster interface {
	BroadcastEvent(eventType, workspaceID string, data json.RawMessage)
}

// NotifyBridge subscribes to PostgreSQL LISTEN/NOTIFY and forwards bus wakeups
// to the bus consumers and workspace events to the WebSocket hub.
type NotifyBridge struct {
	log   *logrus.Logger
	pool  *dbpool.Pool
	waker Waker
	hub   Broadcaster
}

// NewNotifyBridge creates a NotifyBridge wired to the given pool, bus, and hub.
func NewNotifyBridge(log *logrus.Logger, pool *dbpool.Pool, waker Waker, hub Broadcaster) *NotifyBridge {
	return &NotifyBridge{
		log:   log,
		pool:  pool,
		waker: waker,
		hub:   hub,
	}
}

// Start launches the LISTEN/NOTIFY loop in a background goroutine. It verifies
// the initial connection before returning; the background goroutine handles
// reconnection for subsequent failures.
func (b *NotifyBridge) Start(ctx context.Context) error {
	if err := b.pool.Ping(ctx); err != nil {
		return fmt.Errorf("notify bridge: database not reachable: %w", err)
	}

	go b.listen(ctx)

	return nil
}

// listen acquires a connection, subscribes, and processes notifications until
// the context is cancelled, reconnecting with jittered backoff on failure.
func (b *NotifyBridge) listen(ctx context.Context) {
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		err := b.subscribeAndForward(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		b.log.WithError(err).WithField("retry_in", backoff).
			Warn("notify bridge connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff = nextBackoff(backoff)
	}
}

func (b *NotifyBridge) subscribeAndForward(ctx context.Context) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	for _, channel := range []string{busWakeupChannel, wsEventsChannel} {
		// LISTEN requires the channel name inline (not a parameter); both names
		// are compile-time constants, sanitized regardless.
		sanitized := pgx.Identifier{channel}.Sanitize()
		if _, err := conn.Exec(ctx, "LISTEN "+sanitized); err != nil {
			return fmt.Errorf("executing LISTEN %s: %w", channel, err)
		}
	}

	b.log.Info("notify bridge listening")

	for {
		// A read deadline makes the blocking wait periodically re-check ctx.
		if err := conn.Conn().PgConn().Conn().SetReadDeadline(time.Now().Add(2 * time.Minute)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			return fmt.Errorf("waiting for notification: %w", err)
		}

		b.handleNotification(notification)
	}
}

// handleNotification routes a single notification by channel.
func (b *NotifyBridge) handleNotification(n *pgconn.Notification) {
	switch n.Channel {
	case busWakeupChannel:
		if b.waker != nil && n.Payload != "" {
			b.waker.Wake(n.Payload)
		}

	case wsEventsChannel:
		var payload struct {
			WorkspaceID string `json:"workspace_id"`
			Type        string `json:"type"`
		}
		if err := json.Unmarshal([]byte(n.Payload), &payload); err != nil || payload.WorkspaceID == "" {
			b.log.Warn("dropping ws event without workspace_id")

			return
		}

		if b.hub != nil {
			b.hub.BroadcastEvent(payload.Type, payload.WorkspaceID, json.RawMessage(n.Payload))
		}
	}
}

// nextBackoff doubles the current backoff duration with random jitter (±25%),
// capped at maxBackoff. Jitter prevents thundering herd on reconnect.
func nextBackoff(current time.Duration) time.Duration {
	next := current * backoffMultiplier
	if next > maxBackoff {
		next = maxBackoff
	}

	jitter := float64(next) * (0.75 + rand.Float64()*0.5) //nolint:gosec // jitter doesn't need crypto rand.

	return time.Duration(jitter)
}
