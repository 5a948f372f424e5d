// Package middleware provides HTTP middleware for quarryd.
package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// maxBuckets caps the number of tracked client IPs so the bucket table cannot
// grow without bound.
const maxBuckets = 100_000

// RateLimiter is a per-IP token bucket. Every request draws one token through
// Handler; routes that enqueue pipeline or model work draw extra through
// Weighted, so a client hammering uploads or chat turns runs dry long before a
// client polling document status does.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    int
	burst   int
}

// bucket tracks the remaining tokens for one client IP.
type bucket struct {
	tokens   int
	lastFill time.Time
}

// take refills the bucket for elapsed time, then draws cost tokens if enough
// are available. Callers hold rl.mu.
func (rl *RateLimiter) take(b *bucket, cost int) bool {
	now := time.Now()

	if refill := int(now.Sub(b.lastFill).Seconds() * float64(rl.rate)); refill > 0 {
		b.tokens += refill
		if b.tokens > rl.burst {
			b.tokens = rl.burst
		}

		b.lastFill = now
	}

	if b.tokens < cost {
		return false
	}

	b.tokens -= cost

	return true
}

// NewRateLimiter creates a RateLimiter with the given refill rate per second
// and burst size. It starts a background goroutine to evict stale buckets,
// which stops when ctx is cancelled.
func NewRateLimiter(ctx context.Context, ratePerSec, burst int) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    ratePerSec,
		burst:   burst,
	}
	go rl.startCleanup(ctx)

	return rl
}

// startCleanup periodically evicts stale rate-limit buckets.
func (rl *RateLimiter) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	const maxAge = 10 * time.Minute

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for ip, b := range rl.buckets {
				if now.Sub(b.lastFill) > maxAge {
					delete(rl.buckets, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Handler returns Gin middleware charging one token per request.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return rl.Weighted(1)
}

// Weighted returns Gin middleware charging cost tokens per request, on top of
// whatever outer limiter middleware on the same chain already charged.
func (rl *RateLimiter) Weighted(cost int) gin.HandlerFunc {
	return func(c *gin.Context) {
		// c.ClientIP() is safe from X-Forwarded-For spoofing because
		// SetTrustedProxies(nil) in router.go disables proxy header trust.
		ip := c.ClientIP()

		rl.mu.Lock()
		b, ok := rl.buckets[ip]
		if !ok {
			// Reject new IPs when the bucket table is full.
			if len(rl.buckets) >= maxBuckets {
				rl.mu.Unlock()
				respondError(c, http.StatusTooManyRequests, "rate_limited", "too many clients")

				return
			}

			b = &bucket{tokens: rl.burst, lastFill: time.Now()}
			rl.buckets[ip] = b
		}

		allowed := rl.take(b, cost)
		rl.mu.Unlock()

		if !allowed {
			respondError(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")

			return
		}

		c.Next()
	}
}
