package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/dbpool"
	"github.com/quarryworks/quarry/internal/metrics"
	"github.com/quarryworks/quarry/internal/models"
)

// Delivery policy defaults.
const (
	defaultMaxAttempts  = 5
	defaultPollInterval = 500 * time.Millisecond
	defaultHandlerLimit = 2 * time.Minute
	baseRetryDelay      = 2 * time.Second
	maxRetryDelay       = 5 * time.Minute
	wakeupBuffer        = 64
)

// PGOptions tunes the Postgres-backed bus.
type PGOptions struct {
	// MaxAttempts before a message is dead-lettered. Defaults to 5.
	MaxAttempts int
	// Concurrency is the number of claim workers per subscribed topic. Defaults to 2.
	Concurrency int
	// PollInterval is the claim poll period when no wakeups arrive. Defaults to 500ms.
	PollInterval time.Duration
	// HandlerTimeout caps a single handler invocation. Exceeding it counts as a
	// handler failure subject to the retry policy. Defaults to 2m.
	HandlerTimeout time.Duration
	// OrderedTopics are claimed by a single shared worker that drains them
	// strictly by insertion order across the whole set, so their messages reach
	// handlers in publish order. Chat stream frames need this; everything else
	// is claimed by Concurrency workers per topic.
	OrderedTopics []string
	// OnFailure runs after a message is dead-lettered.
	OnFailure FailureHook
}

// PG is the durable bus backed by the bus_messages table. Claims use
// FOR UPDATE SKIP LOCKED so concurrent workers never double-process a live
// message; a crash before commit releases the row lock and the message is
// redelivered, giving at-least-once semantics. Topics listed in OrderedTopics
// are drained by a single shared worker so their dispatch order matches
// publish order; concurrent claims on other topics may complete out of order.
type PG struct {
	pool *dbpool.Pool
	log  *logrus.Logger
	opts PGOptions

	mu     sync.RWMutex
	subs   map[string][]Handler
	wakeup map[string]chan struct{}

	ordered     map[string]bool
	orderedWake chan struct{}
}

// NewPG creates a Postgres-backed bus.
func NewPG(pool *dbpool.Pool, log *logrus.Logger, opts PGOptions) *PG {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = defaultHandlerLimit
	}

	ordered := make(map[string]bool, len(opts.OrderedTopics))
	for _, topic := range opts.OrderedTopics {
		ordered[topic] = true
	}

	return &PG{
		pool:        pool,
		log:         log,
		opts:        opts,
		subs:        make(map[string][]Handler),
		wakeup:      make(map[string]chan struct{}),
		ordered:     ordered,
		orderedWake: make(chan struct{}, wakeupBuffer),
	}
}

// Publish appends the envelope to the topic queue and fires a wakeup notify.
func (b *PG) Publish(ctx context.Context, topic string, env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope for %s: %w", topic, err)
	}

	_, err = b.pool.Exec(ctx,
		"INSERT INTO bus_messages (topic, envelope) VALUES ($1, $2)", topic, data)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}

	metrics.BusPublished.WithLabelValues(topic).Inc()

	// Best-effort wakeup for low-latency pickup; pollers catch it regardless.
	if _, err := b.pool.Exec(ctx, "SELECT pg_notify('bus_wakeup', $1)", topic); err != nil {
		b.log.WithError(err).WithField("topic", topic).Debug("bus wakeup notify failed")
	}

	return nil
}

// Subscribe registers a handler for the topic. All handlers for a topic run
// sequentially per message; the message is acked only when every handler
// succeeds. Must be called before Run.
func (b *PG) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[topic] = append(b.subs[topic], h)

	if _, ok := b.wakeup[topic]; !ok {
		if b.ordered[topic] {
			// Ordered topics share the single worker's wakeup channel.
			b.wakeup[topic] = b.orderedWake
		} else {
			b.wakeup[topic] = make(chan struct{}, wakeupBuffer)
		}
	}
}

// Wake pokes the claim workers of a topic. Called by the notify bridge when a
// bus_wakeup notification arrives; a no-op for unsubscribed topics.
func (b *PG) Wake(topic string) {
	b.mu.RLock()
	ch, ok := b.wakeup[topic]
	b.mu.RUnlock()

	if !ok {
		return
	}

	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run starts the claim workers for every subscribed topic and blocks until the
// context is cancelled and all workers have drained. Call in a goroutine.
func (b *PG) Run(ctx context.Context) {
	var wg sync.WaitGroup

	b.mu.RLock()

	var serial, parallel []string

	for topic := range b.subs {
		if b.ordered[topic] {
			serial = append(serial, topic)
		} else {
			parallel = append(parallel, topic)
		}
	}
	b.mu.RUnlock()

	sort.Strings(serial)

	b.log.WithFields(logrus.Fields{
		"topics":      len(serial) + len(parallel),
		"ordered":     len(serial),
		"concurrency": b.opts.Concurrency,
	}).Info("starting bus consumers")

	// One worker drains the whole ordered set so those messages are dispatched
	// strictly by insertion order.
	if len(serial) > 0 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			b.consumeLoop(ctx, serial, b.orderedWake, 0)
		}()
	}

	for _, topic := range parallel {
		b.mu.RLock()
		wake := b.wakeup[topic]
		b.mu.RUnlock()

		for i := range b.opts.Concurrency {
			wg.Add(1)

			go func(topic string, wake chan struct{}, id int) {
				defer wg.Done()
				b.consumeLoop(ctx, []string{topic}, wake, id)
			}(topic, wake, i)
		}
	}

	wg.Wait()
	b.log.Info("all bus consumers stopped")
}

func (b *PG) consumeLoop(ctx context.Context, topics []string, wake chan struct{}, id int) {
	b.log.WithFields(logrus.Fields{"topics": topics, "worker_id": id}).Debug("bus consumer started")

	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	for {
		processed, err := b.claimOne(ctx, topics)
		if err != nil && ctx.Err() == nil {
			b.log.WithError(err).WithField("topics", topics).Warn("bus claim failed")
		}

		if processed {
			// Keep draining while the queue is hot.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}

// claimOne claims and processes at most one due message across the given
// topics, oldest first. It reports whether a message was processed.
func (b *PG) claimOne(ctx context.Context, topics []string) (bool, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning claim transaction: %w", err)
	}

	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	var (
		msgID    int64
		topic    string
		data     []byte
		attempts int
	)

	err = tx.QueryRow(ctx,
		`SELECT id, topic, envelope, attempts FROM bus_messages
		WHERE topic = ANY($1) AND available_at <= now()
		ORDER BY id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, topics).Scan(&msgID, &topic, &data, &attempts)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}

		return false, fmt.Errorf("claiming message: %w", err)
	}

	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Undecodable envelopes can never succeed; dead-letter immediately.
		if dlErr := b.deadLetter(ctx, tx, topic, msgID, data, attempts, err); dlErr != nil {
			return false, dlErr
		}

		return true, tx.Commit(ctx)
	}

	handlerErr := b.dispatch(ctx, topic, env)
	if handlerErr == nil {
		if _, err := tx.Exec(ctx, "DELETE FROM bus_messages WHERE id = $1", msgID); err != nil {
			return false, fmt.Errorf("acking message %d: %w", msgID, err)
		}

		metrics.BusConsumed.WithLabelValues(topic).Inc()

		return true, tx.Commit(ctx)
	}

	attempts++

	if models.IsPermanent(handlerErr) || attempts >= b.opts.MaxAttempts {
		if err := b.deadLetter(ctx, tx, topic, msgID, data, attempts, handlerErr); err != nil {
			return false, err
		}

		if err := tx.Commit(ctx); err != nil {
			return false, fmt.Errorf("committing dead-letter: %w", err)
		}

		if b.opts.OnFailure != nil {
			b.opts.OnFailure(ctx, env, handlerErr)
		}

		return true, nil
	}

	delay := retryDelay(attempts)

	b.log.WithError(handlerErr).WithFields(logrus.Fields{
		"topic":    topic,
		"attempt":  attempts,
		"retry_in": delay,
	}).Warn("bus handler failed, scheduling retry")

	_, err = tx.Exec(ctx,
		"UPDATE bus_messages SET attempts = $1, available_at = now() + $2 WHERE id = $3",
		attempts, delay, msgID)
	if err != nil {
		return false, fmt.Errorf("scheduling retry for message %d: %w", msgID, err)
	}

	return true, tx.Commit(ctx)
}

// dispatch runs every registered handler for the topic under the handler timeout.
func (b *PG) dispatch(ctx context.Context, topic string, env models.Envelope) error {
	b.mu.RLock()
	handlers := b.subs[topic]
	b.mu.RUnlock()

	hctx, cancel := context.WithTimeout(ctx, b.opts.HandlerTimeout)
	defer cancel()

	for _, h := range handlers {
		if err := h(hctx, env); err != nil {
			return err
		}
	}

	return nil
}

// deadLetter moves a message into bus_dead_letters inside the claim transaction.
func (b *PG) deadLetter(ctx context.Context, tx pgx.Tx, topic string, msgID int64, data []byte, attempts int, cause error) error {
	b.log.WithError(cause).WithFields(logrus.Fields{
		"topic":    topic,
		"attempts": attempts,
	}).Error("dead-lettering message")

	_, err := tx.Exec(ctx,
		`INSERT INTO bus_dead_letters (topic, envelope, attempts, last_error)
		VALUES ($1, $2, $3, $4)`, topic, data, attempts, cause.Error())
	if err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM bus_messages WHERE id = $1", msgID); err != nil {
		return fmt.Errorf("removing dead-lettered message %d: %w", msgID, err)
	}

	metrics.BusDeadLettered.WithLabelValues(topic).Inc()

	return nil
}

// retryDelay computes bounded exponential backoff with ±25% jitter.
func retryDelay(attempt int) time.Duration {
	delay := baseRetryDelay << (attempt - 1)
	if delay > maxRetryDelay || delay <= 0 {
		delay = maxRetryDelay
	}

	jitter := float64(delay) * (0.75 + rand.Float64()*0.5) //nolint:gosec // jitter doesn't need crypto rand.

	return time.Duration(jitter)
}
