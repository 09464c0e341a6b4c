package rpcclient

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/evmweave/indexer/pkg/evmclient"
)

const (
	minRPS = 1.0
	maxRPS = 50.0

	successWindow   = 100
	warmupInFlight  = 3
	epsilon         = 0.1
	latencyHurdle   = 0.10 // 10%
	backoffBase     = 100 * time.Millisecond
	backoffFactor   = 1.5
	backoffCap      = 5 * time.Second
	perCallTimeout  = 5 * time.Second
	ringBufferSize  = 64
	rpsShrinkFactor = 0.95
	rpsGrowFactor   = 1.05
)

// latencySample is one entry in a bucket's ring buffer of recent call
// outcomes, used for the EWMA-like average latency comparison the
// scheduler uses to pick between buckets.
type latencySample struct {
	latency time.Duration
	success bool
}

// bucket is the per-endpoint state record the scheduler routes requests
// across: health flags, dynamic RPS limit, and recent latency history.
// Every field here is mutated from multiple goroutines issuing concurrent
// requests, so access goes through mu.
type bucket struct {
	name   string
	client *evmclient.Client

	mu                   sync.Mutex
	isActive             bool
	isWarmingUp          bool
	activeConnections    int
	rpsLimit             float64
	consecutiveSuccesses int
	deactivatedUntil     time.Time
	backoff              time.Duration
	ring                 []latencySample
	ringPos              int

	limiter *rate.Limiter
	window  []time.Time // recent request timestamps, for live RPS measurement
}

func newBucket(name string, client *evmclient.Client, initialRPS float64) *bucket {
	return &bucket{
		name:     name,
		client:   client,
		isActive: true,
		rpsLimit: initialRPS,
		limiter:  rate.NewLimiter(rate.Limit(initialRPS), int(initialRPS)+1),
		ring:     make([]latencySample, 0, ringBufferSize),
	}
}

// available reports whether this bucket can take another request right
// now: active, not warming up past the in-flight threshold, and under its
// live RPS limit.
func (b *bucket) available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isActive {
		if time.Now().Before(b.deactivatedUntil) {
			return false
		}
		b.isActive = true
		b.isWarmingUp = true
		b.consecutiveSuccesses = 0
	}
	if b.isWarmingUp && b.activeConnections > warmupInFlight {
		return false
	}
	return b.currentRPSLocked() < b.rpsLimit
}

func (b *bucket) currentRPSLocked() float64 {
	cutoff := time.Now().Add(-time.Second)
	kept := b.window[:0]
	for _, t := range b.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.window = kept
	return float64(len(b.window))
}

// beginRequest records the dispatch of a request, for RPS measurement and
// in-flight accounting.
func (b *bucket) beginRequest() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeConnections++
	b.window = append(b.window, time.Now())
}

// averageLatency returns the mean latency over the ring buffer, or an
// arbitrarily large value if the bucket has no history yet (so untested
// buckets lose the latency comparison but remain eligible for
// exploration).
func (b *bucket) averageLatency() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ring) == 0 {
		return time.Hour
	}
	var sum time.Duration
	for _, s := range b.ring {
		sum += s.latency
	}
	return sum / time.Duration(len(b.ring))
}

func (b *bucket) inFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeConnections
}

// recordSuccess finishes a request that completed normally, feeding the
// ring buffer and potentially raising rpsLimit after a long enough streak
// of healthy throughput.
func (b *bucket) recordSuccess(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeConnections--
	b.pushSampleLocked(latencySample{latency: latency, success: true})
	b.consecutiveSuccesses++
	if b.isWarmingUp {
		b.isWarmingUp = false
	}
	if b.consecutiveSuccesses >= successWindow {
		observedRPS := b.currentRPSLocked()
		if observedRPS >= 0.8*b.rpsLimit {
			b.rpsLimit = minF(b.rpsLimit*rpsGrowFactor, maxRPS)
			b.limiter.SetLimit(rate.Limit(b.rpsLimit))
		}
		b.consecutiveSuccesses = 0
	}
	b.backoff = 0
}

// recordFailure finishes a request that hit a 429 or timeout: deactivates
// the bucket for an exponentially growing delay and shrinks rpsLimit.
func (b *bucket) recordFailure(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeConnections--
	b.pushSampleLocked(latencySample{latency: latency, success: false})
	b.consecutiveSuccesses = 0
	b.isActive = false
	b.rpsLimit = maxF(b.rpsLimit*rpsShrinkFactor, minRPS)
	b.limiter.SetLimit(rate.Limit(b.rpsLimit))

	if b.backoff == 0 {
		b.backoff = backoffBase
	} else {
		b.backoff = minDuration(time.Duration(float64(b.backoff)*backoffFactor), backoffCap)
	}
	b.deactivatedUntil = time.Now().Add(b.backoff)
}

func (b *bucket) pushSampleLocked(s latencySample) {
	if len(b.ring) < ringBufferSize {
		b.ring = append(b.ring, s)
		return
	}
	b.ring[b.ringPos] = s
	b.ringPos = (b.ringPos + 1) % ringBufferSize
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
