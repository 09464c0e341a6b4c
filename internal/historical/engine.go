package historical

import (
	"context"
	"fmt"

	"github.com/evmweave/indexer/internal/filter"
	"github.com/evmweave/indexer/internal/intervalset"
	"github.com/evmweave/indexer/pkg/models"
)

// Run drives one backfill pass over want for filters: it computes the
// still-missing work per fragment, runs sync1 (logs + factory
// discovery), then sync2 (blocks/transactions/receipts/traces) over
// whatever blocks that implies. Calling it again with the same want
// returns at once when no fragment has uncovered work; otherwise sync1
// fetches only the log ranges CachedIntervals doesn't yet cover, and
// sync2 runs over want again.
func (e *Engine) Run(ctx context.Context, want intervalset.Interval, filters []models.Filter) error {
	cached := func(chainID models.ChainID, fragmentID models.FragmentID) intervalset.Set {
		set, err := e.Store.CachedIntervals(ctx, chainID, fragmentID)
		if err != nil {
			e.Logger.Warn().Err(err).Str("fragment", string(fragmentID)).Msg("cached intervals lookup failed, treating as empty")
			return nil
		}
		return set
	}
	factoryRange := func(factoryID models.FactoryID) intervalset.Set {
		return cached(e.Chain.ID, factoryFragmentID(factoryID))
	}

	work := filter.GetRequiredIntervals(want, filters, cached, factoryRange)
	if len(work) == 0 {
		return nil
	}

	logs, err := e.SyncLogs(ctx, work)
	if err != nil {
		return fmt.Errorf("historical: sync1: %w", err)
	}

	if err := e.SyncBlocks(ctx, want, filters, logs); err != nil {
		return fmt.Errorf("historical: sync2: %w", err)
	}
	return nil
}

// CaughtUp reports the highest block for which every filter's data is
// fully persisted, the safe resume point for a restarted backfill.
func (e *Engine) CaughtUp(ctx context.Context, filters []models.Filter) (uint64, bool) {
	cached := func(chainID models.ChainID, fragmentID models.FragmentID) intervalset.Set {
		set, _ := e.Store.CachedIntervals(ctx, chainID, fragmentID)
		return set
	}
	return filter.GetCachedBlock(filters, cached)
}
