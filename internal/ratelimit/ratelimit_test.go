package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitNoopWhenUnlimited(t *testing.T) {
	l := New()
	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), "job-1", 10_000_000))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitThrottlesUnderLimit(t *testing.T) {
	l := New()
	l.SetLimit(1000) // 1000 B/s, burst 1000

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "job-1", 1000)) // drains the burst, no wait

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "job-1", 500))
	require.Greater(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	l := New()
	l.SetLimit(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx, "job-1", 1_000_000)
	require.Error(t, err)
}

func TestLowPriorityGetsExtraDelay(t *testing.T) {
	l := New()
	l.SetLimit(1_000_000)
	l.SetPriority("low-job", PriorityLow)

	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), "low-job", 1))
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}
