// Package historical implements the two-phase backfill sync1 (logs +
// factories) / sync2 (blocks/transactions/receipts/traces): a
// batch-then-checkpoint loop and a worker pool driving filter-aware,
// dynamically-ranged, multi-artefact fetching.
package historical

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/evmweave/indexer/internal/metrics"
	"github.com/evmweave/indexer/internal/rpcclient"
	"github.com/evmweave/indexer/internal/syncstore"
	"github.com/evmweave/indexer/pkg/models"
)

const (
	// blockWorkerConcurrency bounds the per-chain block-fetch worker pool
	// in sync2.
	blockWorkerConcurrency = 40
	// logRangeConcurrency is the bound for concurrent eth_getLogs range
	// fetches. sync1 does not apply it: syncLogFragment fetches a
	// fragment's ranges one at a time.
	logRangeConcurrency = 10
	// addressBatchSize caps how many addresses a single eth_getLogs call
	// carries, since providers reject overly long address lists.
	addressBatchSize = 50
	// addressCardinalityThreshold is the point past which it's cheaper to
	// drop the address filter and post-filter client-side against the
	// known child-address set, rather than paging through address
	// batches.
	addressCardinalityThreshold = 200
)

// Engine drives sync1/sync2 for one chain.
type Engine struct {
	Chain   models.Chain
	RPC     *rpcclient.Client
	Store   *syncstore.Store
	Logger  zerolog.Logger
	Metrics *metrics.Registry

	estMu      sync.Mutex
	estimators map[models.FragmentID]*rangeEstimator

	receiptsMu      sync.Mutex
	receiptsPerHash bool
}

// New builds an Engine for chain. metrics may be nil in tests that don't
// care about observability.
func New(chain models.Chain, rpc *rpcclient.Client, store *syncstore.Store, logger zerolog.Logger, reg *metrics.Registry) *Engine {
	return &Engine{
		Chain:      chain,
		RPC:        rpc,
		Store:      store,
		Logger:     logger.With().Str("component", "historical").Str("chain", chain.Name).Logger(),
		Metrics:    reg,
		estimators: make(map[models.FragmentID]*rangeEstimator),
	}
}

func (e *Engine) recordBlockIndexed() {
	if e.Metrics == nil {
		return
	}
	e.Metrics.BlocksIndexed.WithLabelValues(e.Chain.Name, "historical").Inc()
}

func (e *Engine) estimatorFor(fragmentID models.FragmentID) *rangeEstimator {
	e.estMu.Lock()
	defer e.estMu.Unlock()
	r, ok := e.estimators[fragmentID]
	if !ok {
		r = newRangeEstimator()
		e.estimators[fragmentID] = r
	}
	return r
}
