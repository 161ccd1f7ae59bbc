package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledLimiterAdmitsImmediately(t *testing.T) {
	l := NewLimiter("test", Config{Enabled: false})
	start := time.Now()
	require.NoError(t, l.Acquire(context.Background(), 1_000_000, nil))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRequestBucketForcesWait(t *testing.T) {
	// Sixty requests per minute (one per second of refill): once the bucket
	// is drained, the next acquire must sleep.
	l := NewLimiter("test", Config{RequestsPerMinute: 60, Enabled: true})
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, 0, nil))

	// Drain the bucket just below zero so the wait (about two seconds)
	// outlasts the context.
	for i := 0; i < 60; i++ {
		l.consume(0)
	}
	var paced bool
	ctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, 0, func(wait time.Duration, reason string) {
		paced = true
		assert.Equal(t, "request_bucket", reason)
	})
	assert.Error(t, err, "acquire should still be waiting when the context expires")
	assert.True(t, paced)
}

func TestAcquireObservesCancellation(t *testing.T) {
	l := NewLimiter("test", Config{RequestsPerMinute: 1, TokensPerMinute: 10, Enabled: true})
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, 10, nil))

	ctx, cancel := context.WithCancel(ctx)
	cancel()
	err := l.Acquire(ctx, 10, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecordTracksTotals(t *testing.T) {
	l := NewLimiter("test", Config{RequestsPerMinute: 600, TokensPerMinute: 60_000, Enabled: true})
	require.NoError(t, l.Acquire(context.Background(), 100, nil))
	l.Record(100, 250)

	reqs, toks := l.Totals()
	assert.Equal(t, int64(1), reqs)
	assert.Equal(t, int64(250), toks)
}

func TestRegistrySharesLimitersByProvider(t *testing.T) {
	r := NewRegistry(true, nil)
	a := r.For("anthropic")
	b := r.For("anthropic")
	assert.Same(t, a, b)
	assert.NotSame(t, a, r.For("openai"))
}

func TestDisabledRegistryDisablesAllLimiters(t *testing.T) {
	r := NewRegistry(false, nil)
	l := r.For("anthropic")
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Acquire(context.Background(), 1_000_000, nil))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
