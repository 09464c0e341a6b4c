// Package filter holds the interval-planning and event-matching logic
// that sits between a user's declared models.Filter set and the raw
// chain data fetchers in internal/historical and internal/realtime.
package filter

import (
	"github.com/evmweave/indexer/internal/fragment"
	"github.com/evmweave/indexer/internal/intervalset"
	"github.com/evmweave/indexer/pkg/models"
)

// CachedIntervalsFunc looks up the union-normal-form cached set for one
// fragment, as stored by internal/syncstore.
type CachedIntervalsFunc func(chainID models.ChainID, fragmentID models.FragmentID) intervalset.Set

// FactoryRangeFunc returns the block range over which factory's child
// addresses are known to be complete (i.e. the factory's own cached
// interval), used to widen a dependent filter's required work.
type FactoryRangeFunc func(factoryID models.FactoryID) intervalset.Set

// RequiredWork is one filter's still-missing work within the requested
// interval, decomposed to the fragment level so a fetcher knows exactly
// which wire-level request to issue.
type RequiredWork struct {
	Filter   models.Filter
	Fragment fragment.Fragment
	Missing  intervalset.Set
}

// GetRequiredIntervals computes, for every filter, the work still
// needed to cover want. For each filter: intersect want with the
// filter's own [FromBlock, ToBlock]; if the filter's address is a
// factory, union in the factory's live range (child addresses must be
// known before the filter's own range can be trusted); then subtract
// whatever is already cached per fragment. When the filter depends on a
// factory, the remaining work is additionally widened rightward to the
// filter's ToBlock starting at the earliest still-missing block,
// because factory discovery is strictly block-order-sensitive: a gap
// part-way through must force re-scanning everything after it.
func GetRequiredIntervals(want intervalset.Interval, filters []models.Filter, cached CachedIntervalsFunc, factoryRange FactoryRangeFunc) []RequiredWork {
	var out []RequiredWork
	for _, f := range filters {
		scope := filterScope(f, want)
		if len(scope) == 0 {
			continue
		}

		if factory := factoryOf(f); factory != nil && factoryRange != nil {
			scope = intervalset.Union(scope, factoryRange(factory.ID))
		}

		for _, frag := range fragment.Decompose(f) {
			cachedSet := cached(f.ChainID, frag.ID)
			missing := intervalset.Difference(scope, cachedSet)
			if factoryOf(f) != nil {
				missing = widenForFactory(missing, f)
			}
			if len(missing) == 0 {
				continue
			}
			out = append(out, RequiredWork{Filter: f, Fragment: frag, Missing: missing})
		}
	}
	return out
}

// filterScope intersects want with the filter's own declared range.
func filterScope(f models.Filter, want intervalset.Interval) intervalset.Set {
	hi := want.Hi
	if to, ok := f.EffectiveToBlock(); ok && to < hi {
		hi = to
	}
	lo := want.Lo
	if f.FromBlock > lo {
		lo = f.FromBlock
	}
	if lo > hi {
		return nil
	}
	return intervalset.NewSet(intervalset.Interval{Lo: lo, Hi: hi})
}

// widenForFactory extends missing rightward to the filter's effective
// ToBlock once any gap is found, starting from the earliest missing
// block: a factory filter can't skip ahead past an unresolved gap
// because later child addresses depend on earlier ones being known.
func widenForFactory(missing intervalset.Set, f models.Filter) intervalset.Set {
	if len(missing) == 0 {
		return missing
	}
	earliest := missing[0].Lo
	hi := missing[len(missing)-1].Hi
	if to, ok := f.EffectiveToBlock(); ok && to > hi {
		hi = to
	}
	return intervalset.NewSet(intervalset.Interval{Lo: earliest, Hi: hi})
}

func factoryOf(f models.Filter) *models.Factory {
	switch {
	case f.LogAddress != nil && f.LogAddress.IsFactory():
		return f.LogAddress.Factory
	case f.FromAddress != nil && f.FromAddress.IsFactory():
		return f.FromAddress.Factory
	case f.ToAddress != nil && f.ToAddress.IsFactory():
		return f.ToAddress.Factory
	default:
		return nil
	}
}

// GetCachedBlock returns the closest-to-tip block B such that every
// filter has [FromBlock, B] fully cached across all of its fragments,
// the safe resume point on restart. ok is false when no block (not
// even FromBlock) is fully cached for some filter.
func GetCachedBlock(filters []models.Filter, cached CachedIntervalsFunc) (block uint64, ok bool) {
	if len(filters) == 0 {
		return 0, false
	}
	var min uint64
	first := true
	for _, f := range filters {
		b, fok := cachedBlockForFilter(f, cached)
		if !fok {
			return 0, false
		}
		if first || b < min {
			min = b
			first = false
		}
	}
	return min, true
}

func cachedBlockForFilter(f models.Filter, cached CachedIntervalsFunc) (uint64, bool) {
	var frontier uint64
	first := true
	for _, frag := range fragment.Decompose(f) {
		set := cached(f.ChainID, frag.ID)
		b, ok := coveredFrom(set, f.FromBlock)
		if !ok {
			return 0, false
		}
		if first || b < frontier {
			frontier = b
			first = false
		}
	}
	if first {
		return 0, false
	}
	return frontier, true
}

// coveredFrom returns the highest block B such that [from, B] is fully
// contained in set's first interval starting at or before from.
func coveredFrom(set intervalset.Set, from uint64) (uint64, bool) {
	for _, iv := range set {
		if iv.Lo <= from && iv.Hi >= from {
			return iv.Hi, true
		}
	}
	return 0, false
}
