// Package omnichain implements the driver that merges per-chain event
// streams into a single checkpoint-ordered stream and dispatches them to
// user handlers inside a DB transaction, advancing per-chain checkpoints
// atomically.
//
// The batch-then-checkpoint shape (fetch a range, write it, record a
// checkpoint, repeat) is extended here to a k-way merge across chains,
// plus the realtime reorg/finalize bookkeeping a backfill-only syncer
// never needs.
package omnichain

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/evmweave/indexer/internal/fanout"
	"github.com/evmweave/indexer/internal/indexstore"
	"github.com/evmweave/indexer/internal/metrics"
	"github.com/evmweave/indexer/internal/realtime"
	"github.com/evmweave/indexer/internal/rpcclient"
	"github.com/evmweave/indexer/internal/syncstore"
	"github.com/evmweave/indexer/pkg/models"
)

// ChainSource bundles the per-chain dependencies the driver reads from:
// the raw sync store historical sync already populated, the RPC client
// handlers may call through, and the chain's realtime engine (nil if the
// chain is historical-only, e.g. in a one-shot backfill run).
type ChainSource struct {
	Chain    models.Chain
	RPC      *rpcclient.Client
	Realtime *realtime.Engine
}

// Driver merges event streams from every configured chain, dispatching
// each in checkpoint order to Handler.
type Driver struct {
	Sources    []ChainSource
	Filters    []models.Filter
	SyncStore  *syncstore.Store
	IndexStore *indexstore.Store
	Handler    models.Handler
	Logger     zerolog.Logger
	Metrics    *metrics.Registry

	// Fanout is optional: when set, every committed dispatch batch is
	// also published as a compact envelope for cmd/consumer.
	Fanout *fanout.Publisher

	checkpoints *checkpointStore

	tsMu    sync.Mutex
	tsCache map[tsKey]uint64
}

type tsKey struct {
	chain models.ChainID
	block uint64
}

// New builds a Driver. checkpointPath is the embedded bbolt file backing
// per-chain ChainCheckpoint persistence. fan is optional and may be nil
// to disable downstream publishing.
func New(sources []ChainSource, filters []models.Filter, syncStore *syncstore.Store, indexStore *indexstore.Store, handler models.Handler, logger zerolog.Logger, reg *metrics.Registry, fan *fanout.Publisher, checkpointPath string) (*Driver, error) {
	cp, err := newCheckpointStore(checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("omnichain: open checkpoint store: %w", err)
	}
	return &Driver{
		Sources:     sources,
		Filters:     filters,
		SyncStore:   syncStore,
		IndexStore:  indexStore,
		Handler:     handler,
		Logger:      logger.With().Str("component", "omnichain").Logger(),
		Metrics:     reg,
		Fanout:      fan,
		checkpoints: cp,
		tsCache:     make(map[tsKey]uint64),
	}, nil
}

func (d *Driver) Close() error { return d.checkpoints.Close() }

func (d *Driver) sourceFor(chainID models.ChainID) (ChainSource, bool) {
	for _, s := range d.Sources {
		if s.Chain.ID == chainID {
			return s, true
		}
	}
	return ChainSource{}, false
}

func (d *Driver) filtersFor(chainID models.ChainID) []models.Filter {
	var out []models.Filter
	for _, f := range d.Filters {
		if f.ChainID == chainID {
			out = append(out, f)
		}
	}
	return out
}

// blockTimestamp resolves a (chain, block number) pair to the block's
// unix timestamp, the one field models.SyncLog doesn't carry but
// Checkpoint's global ordering needs. Results are cached for the
// process lifetime since a finalized block's timestamp never changes;
// dispatchRealtimeReorg drops a chain's entries above the common
// ancestor, so replayed blocks are fetched again.
func (d *Driver) blockTimestamp(ctx context.Context, chainID models.ChainID, number uint64) (uint64, error) {
	key := tsKey{chain: chainID, block: number}
	d.tsMu.Lock()
	ts, ok := d.tsCache[key]
	d.tsMu.Unlock()
	if ok {
		return ts, nil
	}

	src, ok := d.sourceFor(chainID)
	if !ok {
		return 0, fmt.Errorf("omnichain: no RPC source configured for chain %d", chainID)
	}
	block, err := src.RPC.BlockByNumber(ctx, number)
	if err != nil {
		return 0, fmt.Errorf("omnichain: fetch block %d timestamp: %w", number, err)
	}
	ts = block.Time()

	d.tsMu.Lock()
	d.tsCache[key] = ts
	d.tsMu.Unlock()
	return ts, nil
}

func (d *Driver) recordDispatched(chain models.Chain, filterID models.FilterID) {
	if d.Metrics == nil {
		return
	}
	d.Metrics.EventsDispatched.WithLabelValues(chain.Name, string(filterID)).Inc()
}

func (d *Driver) recordDispatchError(chain models.Chain, filterID models.FilterID) {
	if d.Metrics == nil {
		return
	}
	d.Metrics.DispatchErrors.WithLabelValues(chain.Name, string(filterID)).Inc()
}
