package rpcclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBucketAvailableWhenFreshlyActive(t *testing.T) {
	b := newBucket("a", nil, defaultInitRPS)
	require.True(t, b.available())
}

func TestBucketDeactivatesOnFailureThenReactivatesAfterBackoff(t *testing.T) {
	b := newBucket("a", nil, defaultInitRPS)
	b.beginRequest()
	b.recordFailure(10 * time.Millisecond)

	require.False(t, b.available())

	b.mu.Lock()
	b.deactivatedUntil = time.Now().Add(-time.Millisecond) // force the backoff to have elapsed
	b.mu.Unlock()

	require.True(t, b.available())
	b.mu.Lock()
	warming := b.isWarmingUp
	b.mu.Unlock()
	require.True(t, warming)
}

func TestBucketShrinksRPSLimitOnFailure(t *testing.T) {
	b := newBucket("a", nil, 10)
	b.beginRequest()
	b.recordFailure(time.Millisecond)

	b.mu.Lock()
	defer b.mu.Unlock()
	require.InDelta(t, 9.5, b.rpsLimit, 0.001)
}

func TestBucketGrowsRPSLimitAfterSuccessWindow(t *testing.T) {
	b := newBucket("a", nil, 10)
	for i := 0; i < successWindow; i++ {
		b.beginRequest()
		for j := 0; j < 10; j++ {
			b.window = append(b.window, time.Now())
		}
		b.recordSuccess(time.Millisecond)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Greater(t, b.rpsLimit, 10.0)
}

func TestBucketWarmupLimitsInFlight(t *testing.T) {
	b := newBucket("a", nil, defaultInitRPS)
	b.mu.Lock()
	b.isWarmingUp = true
	b.activeConnections = warmupInFlight + 1
	b.mu.Unlock()

	require.False(t, b.available())
}

func TestAverageLatencyIsLargeWithNoHistory(t *testing.T) {
	b := newBucket("a", nil, defaultInitRPS)
	require.Equal(t, time.Hour, b.averageLatency())
}

func TestRingBufferWraps(t *testing.T) {
	b := newBucket("a", nil, defaultInitRPS)
	for i := 0; i < ringBufferSize+10; i++ {
		b.pushSampleLocked(latencySample{latency: time.Duration(i) * time.Millisecond, success: true})
	}
	require.Len(t, b.ring, ringBufferSize)
}
