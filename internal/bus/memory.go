package bus

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/models"
)

// Memory is an in-process Bus with the same delivery policy as PG: handlers
// are retried up to MaxAttempts, permanent errors dead-letter immediately, and
// the failure hook runs after dead-lettering. Delivery is synchronous and
// depth-first: publishing from inside a handler drives the downstream stages
// to completion before Publish returns, which makes pipeline tests and
// single-process runs deterministic.
type Memory struct {
	log       *logrus.Logger
	maxTries  int
	onFailure FailureHook

	mu   sync.RWMutex
	subs map[string][]Handler
	dead []DeadLetter
}

// DeadLetter records a message that exhausted its delivery attempts.
type DeadLetter struct {
	Topic    string
	Envelope models.Envelope
	Err      error
}

// NewMemory creates an in-process bus.
func NewMemory(log *logrus.Logger, maxAttempts int, onFailure FailureHook) *Memory {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Memory{
		log:       log,
		maxTries:  maxAttempts,
		onFailure: onFailure,
		subs:      make(map[string][]Handler),
	}
}

// Subscribe registers a handler for the topic.
func (b *Memory) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[topic] = append(b.subs[topic], h)
}

// Publish delivers the envelope to every subscribed handler, applying the
// retry and dead-letter policy per handler invocation.
func (b *Memory) Publish(ctx context.Context, topic string, env models.Envelope) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(ctx, topic, env, h)
	}

	return nil
}

func (b *Memory) deliver(ctx context.Context, topic string, env models.Envelope, h Handler) {
	var lastErr error

	for attempt := 1; attempt <= b.maxTries; attempt++ {
		if ctx.Err() != nil {
			return
		}

		lastErr = h(ctx, env)
		if lastErr == nil {
			return
		}

		if models.IsPermanent(lastErr) {
			break
		}

		b.log.WithError(lastErr).WithFields(logrus.Fields{
			"topic":   topic,
			"attempt": attempt,
		}).Warn("bus handler failed")
	}

	b.log.WithError(lastErr).WithField("topic", topic).Error("dead-lettering message")

	b.mu.Lock()
	b.dead = append(b.dead, DeadLetter{Topic: topic, Envelope: env, Err: lastErr})
	b.mu.Unlock()

	if b.onFailure != nil {
		b.onFailure(ctx, env, lastErr)
	}
}

// DeadLetters returns a copy of the dead-letter queue.
func (b *Memory) DeadLetters() []DeadLetter {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return append([]DeadLetter(nil), b.dead...)
}
