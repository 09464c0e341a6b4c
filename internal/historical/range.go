package historical

import "sync"

const (
	initialRangeSize = 500
	rangeGrowFactor  = 1.05
)

// rangeEstimator tracks the current guess at a "safe" eth_getLogs chunk
// size per fragment. It grows slowly on success and snaps down
// immediately when a provider rejects a range as too wide. There is no
// fixed batch size because providers vary too much for one constant to
// work everywhere.
type rangeEstimator struct {
	mu   sync.Mutex
	size uint64
}

func newRangeEstimator() *rangeEstimator {
	return &rangeEstimator{size: initialRangeSize}
}

func (r *rangeEstimator) current() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// grow widens the estimate by 5% after a clean fetch.
func (r *rangeEstimator) grow() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.size = uint64(float64(r.size) * rangeGrowFactor)
	if r.size < 1 {
		r.size = 1
	}
}

// shrinkTo snaps the estimate down to confirmed, the largest range the
// provider has actually accepted this run.
func (r *rangeEstimator) shrinkTo(confirmed uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if confirmed < r.size {
		r.size = confirmed
	}
	if r.size < 1 {
		r.size = 1
	}
}
