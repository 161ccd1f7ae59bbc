// Package ratelimit provides per-provider request and token pacing shared by
// every conversation touching the same vendor within one process.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// PaceThreshold is the minimum sleep worth announcing to observers.
const PaceThreshold = 100 * time.Millisecond

// Config configures one provider's limits.
type Config struct {
	// RequestsPerMinute caps admissions; <= 0 disables the request bucket.
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	// TokensPerMinute caps estimated token throughput; <= 0 disables the
	// token bucket.
	TokensPerMinute float64 `yaml:"tokens_per_minute"`
	// Enabled is the master switch; a disabled limiter admits immediately.
	Enabled bool `yaml:"enabled"`
}

// PaceFunc observes sleeps longer than PaceThreshold.
type PaceFunc func(wait time.Duration, reason string)

// bucket is a continuously refilling token bucket.
type bucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(perMinute float64) *bucket {
	return &bucket{
		tokens:     perMinute,
		maxTokens:  perMinute,
		refillRate: perMinute / 60.0,
		lastRefill: time.Now(),
	}
}

// refill adds tokens based on elapsed time (caller holds the limiter lock).
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// waitTime reports how long until n tokens are available.
func (b *bucket) waitTime(n float64, now time.Time) time.Duration {
	b.refill(now)
	if b.tokens >= n {
		return 0
	}
	needed := n - b.tokens
	return time.Duration(needed / b.refillRate * float64(time.Second))
}

func (b *bucket) take(n float64) {
	b.tokens -= n
	if b.tokens < -b.maxTokens {
		b.tokens = -b.maxTokens
	}
}

// Limiter paces calls against one provider across concurrent conversations.
// Admission is first-come-first-served: a waiter holds its place in line
// while sleeping, so a burst of callers drains in arrival order.
type Limiter struct {
	provider string

	// line serializes admissions to preserve FIFO fairness.
	line sync.Mutex

	mu       sync.Mutex
	cfg      Config
	requests *bucket
	tokens   *bucket

	totalRequests int64
	totalTokens   int64
}

// NewLimiter creates a limiter for one provider.
func NewLimiter(provider string, cfg Config) *Limiter {
	l := &Limiter{provider: provider, cfg: cfg}
	if cfg.RequestsPerMinute > 0 {
		l.requests = newBucket(cfg.RequestsPerMinute)
	}
	if cfg.TokensPerMinute > 0 {
		l.tokens = newBucket(cfg.TokensPerMinute)
	}
	return l
}

// Provider returns the vendor name this limiter paces.
func (l *Limiter) Provider() string { return l.provider }

// Acquire blocks until one request plus estimatedTokens fit both buckets,
// then consumes them. Sleeps longer than PaceThreshold are reported to
// onPace. Cancellation of ctx aborts the wait.
func (l *Limiter) Acquire(ctx context.Context, estimatedTokens int, onPace PaceFunc) error {
	if !l.enabled() {
		return nil
	}
	l.line.Lock()
	defer l.line.Unlock()

	for {
		wait, reason := l.admissionWait(estimatedTokens)
		if wait <= 0 {
			l.consume(estimatedTokens)
			return nil
		}
		// Jitter spreads concurrent wakeups so waiters don't thunder.
		wait += time.Duration(rand.Int63n(int64(50 * time.Millisecond)))
		if wait > PaceThreshold && onPace != nil {
			onPace(wait, reason)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limiter %s: %w", l.provider, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// Record adjusts the token bucket for actual usage after a response and adds
// the consumed counts to the running totals. actualTokens may exceed the
// estimate passed to Acquire; the difference is debited.
func (l *Limiter) Record(estimatedTokens, actualTokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalRequests++
	l.totalTokens += int64(actualTokens)
	if l.tokens != nil {
		if diff := actualTokens - estimatedTokens; diff != 0 {
			l.tokens.take(float64(diff))
		}
	}
}

// Totals returns the cumulative requests and actual tokens passed to Record
// since creation.
func (l *Limiter) Totals() (requests, tokens int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalRequests, l.totalTokens
}

func (l *Limiter) enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg.Enabled && (l.requests != nil || l.tokens != nil)
}

func (l *Limiter) admissionWait(estimatedTokens int) (time.Duration, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	var wait time.Duration
	reason := ""
	if l.requests != nil {
		if w := l.requests.waitTime(1, now); w > wait {
			wait, reason = w, "request_bucket"
		}
	}
	if l.tokens != nil && estimatedTokens > 0 {
		if w := l.tokens.waitTime(float64(estimatedTokens), now); w > wait {
			wait, reason = w, "token_bucket"
		}
	}
	return wait, reason
}

func (l *Limiter) consume(estimatedTokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.requests != nil {
		l.requests.take(1)
	}
	if l.tokens != nil && estimatedTokens > 0 {
		l.tokens.take(float64(estimatedTokens))
	}
}
