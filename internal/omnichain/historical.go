package omnichain

import (
	"context"
	"errors"
	"fmt"

	"github.com/evmweave/indexer/internal/indexstore"
	"github.com/evmweave/indexer/pkg/models"
)

// dispatchBatchSize bounds how many zippered events one DB transaction
// carries, the unit a block-range retry replays on InvalidEventAccessError.
const dispatchBatchSize = 500

// SetupEvents is an optional build-layer hook returning the one-time
// events a chain dispatches before any user event, when no
// crash-recovery checkpoint exists yet for it (contract-deploy-style
// bootstrapping). The core never constructs these itself.
type SetupEvents func(chain models.Chain) []models.Event

// RunHistorical drives the historical phase: for every chain, zipper its
// filters' persisted sync-store rows up to tip, dispatching transactional
// batches to Handler in global checkpoint order, then persists the
// resulting per-chain ChainCheckpoint.
func (d *Driver) RunHistorical(ctx context.Context, tips map[models.ChainID]uint64, setup SetupEvents) error {
	var sources []*eventSource
	progress := make(map[models.ChainID]*chainProgress)

	for _, src := range d.Sources {
		tip, ok := tips[src.Chain.ID]
		if !ok {
			continue
		}
		filters := d.filtersFor(src.Chain.ID)
		cp, found, err := d.checkpoints.load(src.Chain.Name)
		if err != nil {
			return fmt.Errorf("omnichain: load checkpoint for %s: %w", src.Chain.Name, err)
		}
		if !found && setup != nil {
			if err := d.dispatchSetup(ctx, src.Chain, setup(src.Chain)); err != nil {
				return fmt.Errorf("omnichain: setup dispatch for %s: %w", src.Chain.Name, err)
			}
		}

		end, hasEnd := models.Checkpoint{}, false
		for _, f := range filters {
			sources = append(sources, newEventSource(d, src.Chain, f, tip))
			if b, ok := f.EffectiveToBlock(); ok {
				c := models.Checkpoint{ChainID: src.Chain.ID, BlockNumber: b}
				if !hasEnd || end.Less(c) {
					end, hasEnd = c, true
				}
			}
		}
		progress[src.Chain.ID] = &chainProgress{Current: cp.Latest, End: end, HasEnd: hasEnd}
	}

	if len(sources) == 0 {
		return nil
	}

	z := newZipper(sources)
	for {
		batch, err := d.nextBatch(ctx, z)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		if err := d.dispatchBatch(ctx, batch, progress); err != nil {
			return err
		}
	}

	for chainID, p := range progress {
		src, _ := d.sourceFor(chainID)
		if err := d.checkpoints.save(models.ChainCheckpoint{
			ChainName: src.Chain.Name,
			ChainID:   chainID,
			Latest:    p.Current,
			Safe:      p.Current,
		}); err != nil {
			return fmt.Errorf("omnichain: persist checkpoint for %s: %w", src.Chain.Name, err)
		}
	}
	return nil
}

func (d *Driver) nextBatch(ctx context.Context, z *zipper) ([]models.Event, error) {
	var batch []models.Event
	for len(batch) < dispatchBatchSize {
		ev, ok, err := z.next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		batch = append(batch, ev)
	}
	return batch, nil
}

func (d *Driver) dispatchSetup(ctx context.Context, chain models.Chain, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	return d.dispatchBatch(ctx, events, nil)
}

// dispatchBatch runs one block-range transaction: every event in batch is
// handed to Handler in order, inside a single indexstore.Tx. On
// InvalidEventAccessError the whole batch is retried once (the build
// layer is expected to have widened its field selection by then); any
// other error rolls the transaction back, rolls the dispatch metrics
// back to their start-of-transaction snapshot, and propagates as fatal.
func (d *Driver) dispatchBatch(ctx context.Context, batch []models.Event, progress map[models.ChainID]*chainProgress) error {
	retried := false
	for {
		err := d.tryDispatch(ctx, batch, progress)
		if err == nil {
			return nil
		}
		var invalid *indexstore.InvalidEventAccessError
		if errors.As(err, &invalid) && !retried {
			retried = true
			d.Logger.Warn().Str("field", invalid.Field).Msg("invalid event access, retrying batch once")
			continue
		}
		return fmt.Errorf("omnichain: dispatch batch: %w", err)
	}
}

// tryDispatch runs batch inside one transaction. Dispatch-count metrics
// are only applied once the transaction commits. A CounterVec can't be
// decremented, so the "roll metrics back to the start-of-transaction
// snapshot" behavior on failure is achieved by never incrementing them
// for a transaction that doesn't survive to Commit, rather than by
// incrementing eagerly and undoing.
func (d *Driver) tryDispatch(ctx context.Context, batch []models.Event, progress map[models.ChainID]*chainProgress) error {
	tx, err := d.IndexStore.BeginTx(ctx)
	if err != nil {
		return err
	}

	type dispatchCount struct {
		chain    models.Chain
		filterID models.FilterID
	}
	var toRecord []dispatchCount

	for _, ev := range batch {
		src, ok := d.sourceFor(ev.ChainID)
		if !ok {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("no source for chain %d", ev.ChainID)
		}
		tx.SetCheckpoint(ev.Checkpoint)
		hc := models.HandlerContext{Context: ctx, Client: rpcCaller{src.RPC}, DB: tx}
		if err := d.Handler(ctx, ev, hc); err != nil {
			d.recordDispatchError(src.Chain, ev.FilterID)
			_ = tx.Rollback(ctx)
			return err
		}
		toRecord = append(toRecord, dispatchCount{chain: src.Chain, filterID: ev.FilterID})
		if p, ok := progress[ev.ChainID]; ok && p.Current.Less(ev.Checkpoint) {
			p.Current = ev.Checkpoint
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for _, r := range toRecord {
		d.recordDispatched(r.chain, r.filterID)
	}
	if d.Fanout != nil {
		if err := d.Fanout.PublishBatch(ctx, batch); err != nil {
			d.Logger.Error().Err(err).Msg("fanout publish failed after commit")
		}
	}
	return nil
}

// rpcCaller adapts rpcclient.Client's Request method to the narrower
// models.RPCCaller surface handlers see.
type rpcCaller struct {
	client interface {
		Request(ctx context.Context, method string, params []any, result any) error
	}
}

func (c rpcCaller) Call(ctx context.Context, method string, params []any, result any) error {
	return c.client.Request(ctx, method, params, result)
}
