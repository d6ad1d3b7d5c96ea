// Package limiter throttles how often a remote host may open replay sessions.
package limiter

import (
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/tickreplay/internal/clock"
)

// maxIdleBuckets bounds the bucket map before full buckets are pruned.
const maxIdleBuckets = 1024

// Decision captures the result of an admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAt is the earliest time a denied host may try again.
	RetryAt time.Time
}

// SessionLimiter is a per-key token bucket. Each admitted session consumes
// one token; tokens refill at a constant rate up to burst.
type SessionLimiter struct {
	clock    clock.Clock
	rate     float64 // tokens per second
	capacity int
	mu       sync.Mutex
	buckets  map[string]*bucket
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewSessionLimiter allows rate sessions per window for each key, with
// bursts of up to burst sessions (0 means burst = rate).
func NewSessionLimiter(rate int, window time.Duration, burst int, c clock.Clock) *SessionLimiter {
	if burst <= 0 {
		burst = rate
	}
	return &SessionLimiter{
		clock:    c,
		rate:     float64(rate) / window.Seconds(),
		capacity: burst,
		buckets:  make(map[string]*bucket),
	}
}

// Allow reports whether key may open another session now.
func (l *SessionLimiter) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxIdleBuckets {
			l.prune(now)
		}
		b = &bucket{tokens: float64(l.capacity), lastFill: now}
		l.buckets[key] = b
	}

	l.refill(b, now)

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return Decision{Allowed: true, Remaining: int(b.tokens)}
	}

	needed := 1.0 - b.tokens
	retryAfter := time.Duration(needed / l.rate * float64(time.Second))
	return Decision{RetryAt: now.Add(retryAfter)}
}

func (l *SessionLimiter) refill(b *bucket, now time.Time) {
	b.tokens += now.Sub(b.lastFill).Seconds() * l.rate
	if b.tokens > float64(l.capacity) {
		b.tokens = float64(l.capacity)
	}
	b.lastFill = now
}

// prune drops buckets that have refilled completely; they behave exactly
// like a new bucket.
func (l *SessionLimiter) prune(now time.Time) {
	for key, b := range l.buckets {
		l.refill(b, now)
		if b.tokens >= float64(l.capacity) {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (l *SessionLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
