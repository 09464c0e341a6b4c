package omnichain

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/evmweave/indexer/internal/filter"
	"github.com/evmweave/indexer/internal/realtime"
	"github.com/evmweave/indexer/pkg/models"
)

// realtimeBufferSize bounds the buffer every chain's realtime.Engine
// fans into before dispatch.
const realtimeBufferSize = 64

type taggedRealtimeEvent struct {
	chain models.Chain
	event realtime.Event
}

// RunRealtime fans every configured chain's realtime.Engine.Events()
// channel into one bounded buffer and dispatches them in the order
// produced, transactionally, against the indexing store. It returns when
// ctx is cancelled or every source channel closes.
func (d *Driver) RunRealtime(ctx context.Context) error {
	merged := make(chan taggedRealtimeEvent, realtimeBufferSize)
	var wg sync.WaitGroup

	for _, src := range d.Sources {
		if src.Realtime == nil {
			continue
		}
		wg.Add(1)
		go func(chain models.Chain, events <-chan realtime.Event) {
			defer wg.Done()
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return
					}
					select {
					case merged <- taggedRealtimeEvent{chain: chain, event: ev}:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(src.Chain, src.Realtime.Events())
	}

	go func() {
		wg.Wait()
		close(merged)
	}()

	for {
		select {
		case tagged, ok := <-merged:
			if !ok {
				return nil
			}
			if err := d.dispatchRealtimeEvent(ctx, tagged); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Driver) dispatchRealtimeEvent(ctx context.Context, tagged taggedRealtimeEvent) error {
	switch tagged.event.Kind {
	case realtime.KindBlock:
		return d.dispatchRealtimeBlock(ctx, tagged.chain, tagged.event.Block)
	case realtime.KindReorg:
		return d.dispatchRealtimeReorg(ctx, tagged.chain, tagged.event.Reorg)
	case realtime.KindFinalize:
		return d.dispatchRealtimeFinalize(ctx, tagged.chain, tagged.event.Finalize)
	default:
		return fmt.Errorf("omnichain: unknown realtime event kind %v", tagged.event.Kind)
	}
}

// dispatchRealtimeBlock is the "block events are split into per-block
// sub-batches" step: every matched log (against this chain's configured
// filters) and block-interval hit in b becomes one event, all dispatched
// inside a single transaction tagged with this block's events.
func (d *Driver) dispatchRealtimeBlock(ctx context.Context, chain models.Chain, b *realtime.BlockEvent) error {
	if b == nil {
		return nil
	}
	filters := d.filtersFor(chain.ID)
	batch := d.buildBlockBatch(chain, filters, b)
	if len(batch) == 0 {
		return nil
	}
	if err := d.dispatchBatch(ctx, batch, nil); err != nil {
		return err
	}

	src, _ := d.sourceFor(chain.ID)
	latest := batch[len(batch)-1].Checkpoint
	return d.checkpoints.save(models.ChainCheckpoint{
		ChainName: src.Chain.Name,
		ChainID:   chain.ID,
		Latest:    latest,
		Safe:      latest,
	})
}

func (d *Driver) buildBlockBatch(chain models.Chain, filters []models.Filter, b *realtime.BlockEvent) []models.Event {
	var batch []models.Event
	eventIdx := uint32(0)

	for _, l := range b.Logs {
		for _, f := range filters {
			if f.Type != models.FilterTypeLog {
				continue
			}
			addr := l.Address
			topics := l.Topics
			if !filter.MatchLog(f, nil, addr, topics) {
				continue
			}
			log := l
			batch = append(batch, models.Event{
				Type:     models.EventKindLog,
				ChainID:  chain.ID,
				FilterID: f.ID,
				Checkpoint: models.Checkpoint{
					BlockTimestamp:   b.Block.Timestamp,
					ChainID:          chain.ID,
					BlockNumber:      b.Block.Number,
					TransactionIndex: uint32(l.TransactionIndex),
					EventType:        models.EventKindLog,
					EventIndex:       eventIdx,
					LogIndex:         uint32(l.LogIndex),
				},
				Log: &log,
			})
			eventIdx++
		}
	}

	for _, f := range filters {
		if f.Type != models.FilterTypeBlock || !filter.MatchBlock(f, b.Block.Number) {
			continue
		}
		batch = append(batch, models.Event{
			Type:     models.EventKindBlock,
			ChainID:  chain.ID,
			FilterID: f.ID,
			Checkpoint: models.Checkpoint{
				BlockTimestamp: b.Block.Timestamp,
				ChainID:        chain.ID,
				BlockNumber:    b.Block.Number,
				EventType:      models.EventKindBlock,
				EventIndex:     eventIdx,
			},
		})
		eventIdx++
	}
	return batch
}

// dispatchRealtimeReorg reverts, via ReorgChain, the indexstore rows
// written after the common ancestor, drops this chain's cached block
// timestamps above the ancestor, and saves the ancestor's block upper
// bound as the chain's persisted Latest and Safe checkpoint.
func (d *Driver) dispatchRealtimeReorg(ctx context.Context, chain models.Chain, r *realtime.ReorgEvent) error {
	if r == nil {
		return nil
	}
	boundary := blockUpperBound(chain.ID, r.CommonAncestor.Timestamp, r.CommonAncestor.Number)

	tx, err := d.IndexStore.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := tx.ReorgChain(ctx, chain.ID, boundary); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("omnichain: reorg undo for chain %d: %w", chain.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("omnichain: commit reorg undo for chain %d: %w", chain.ID, err)
	}

	d.tsMu.Lock()
	for k := range d.tsCache {
		if k.chain == chain.ID && k.block > r.CommonAncestor.Number {
			delete(d.tsCache, k)
		}
	}
	d.tsMu.Unlock()

	src, _ := d.sourceFor(chain.ID)
	return d.checkpoints.save(models.ChainCheckpoint{
		ChainName: src.Chain.Name,
		ChainID:   chain.ID,
		Latest:    boundary,
		Safe:      boundary,
	})
}

func (d *Driver) dispatchRealtimeFinalize(ctx context.Context, chain models.Chain, f *realtime.FinalizeEvent) error {
	if f == nil {
		return nil
	}
	ts, err := d.blockTimestamp(ctx, chain.ID, f.FinalizedNumber)
	if err != nil {
		return err
	}
	boundary := blockUpperBound(chain.ID, ts, f.FinalizedNumber)

	tx, err := d.IndexStore.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := tx.FinalizeChain(ctx, chain.ID, boundary); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("omnichain: finalize prune for chain %d: %w", chain.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("omnichain: commit finalize prune for chain %d: %w", chain.ID, err)
	}

	src, _ := d.sourceFor(chain.ID)
	cp, found, err := d.checkpoints.load(src.Chain.Name)
	if err != nil {
		return err
	}
	if !found {
		cp.ChainName, cp.ChainID = src.Chain.Name, chain.ID
	}
	cp.Finalized = boundary
	return d.checkpoints.save(cp)
}

// blockUpperBound is the maximal Checkpoint within a given block: every
// tiebreak field saturated, so a strict-greater-than compare against it
// only catches events in a strictly later block.
func blockUpperBound(chainID models.ChainID, timestamp, blockNumber uint64) models.Checkpoint {
	return models.Checkpoint{
		BlockTimestamp:   timestamp,
		ChainID:          chainID,
		BlockNumber:      blockNumber,
		TransactionIndex: math.MaxUint32,
		EventType:        models.EventKind(math.MaxUint8),
		EventIndex:       math.MaxUint32,
		TraceIndex:       math.MaxUint32,
		LogIndex:         math.MaxUint32,
		CheckIndex:       math.MaxUint32,
		Reserved:         math.MaxUint32,
	}
}
