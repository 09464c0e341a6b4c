package omnichain

import "github.com/evmweave/indexer/pkg/models"

// chainProgress is one chain's view into the driver's checkpoint math: its
// current position and whether it has reached its configured end (an
// unbounded filter's chain never "ends").
type chainProgress struct {
	Current models.Checkpoint
	End     models.Checkpoint
	HasEnd  bool
	Ended   bool
}

// aggregateStart returns the minimum Current across every chain, the
// position a fresh run begins dispatching from.
func aggregateStart(chains []chainProgress) models.Checkpoint {
	return minCheckpoint(chains, func(c chainProgress) models.Checkpoint { return c.Current })
}

// aggregateCurrent is the min across chains that haven't reached their
// end; once every chain has ended, it's the max across all of them (the
// run is complete).
func aggregateCurrent(chains []chainProgress) models.Checkpoint {
	var live []chainProgress
	for _, c := range chains {
		if !c.Ended {
			live = append(live, c)
		}
	}
	if len(live) > 0 {
		return minCheckpoint(live, func(c chainProgress) models.Checkpoint { return c.Current })
	}
	return maxCheckpoint(chains, func(c chainProgress) models.Checkpoint { return c.Current })
}

// aggregateEnd is the max End across chains, or ok=false if any chain is
// unbounded (tracking to tip indefinitely).
func aggregateEnd(chains []chainProgress) (cp models.Checkpoint, ok bool) {
	for _, c := range chains {
		if !c.HasEnd {
			return models.Checkpoint{}, false
		}
	}
	return maxCheckpoint(chains, func(c chainProgress) models.Checkpoint { return c.End }), true
}

// aggregateFinalized is the minimum finalized checkpoint across chains:
// the position at which every chain's data is simultaneously safe from
// reorg.
func aggregateFinalized(finalized []models.Checkpoint) models.Checkpoint {
	if len(finalized) == 0 {
		return models.Checkpoint{}
	}
	min := finalized[0]
	for _, c := range finalized[1:] {
		if c.Less(min) {
			min = c
		}
	}
	return min
}

func minCheckpoint(chains []chainProgress, get func(chainProgress) models.Checkpoint) models.Checkpoint {
	min := get(chains[0])
	for _, c := range chains[1:] {
		v := get(c)
		if v.Less(min) {
			min = v
		}
	}
	return min
}

func maxCheckpoint(chains []chainProgress, get func(chainProgress) models.Checkpoint) models.Checkpoint {
	max := get(chains[0])
	for _, c := range chains[1:] {
		v := get(c)
		if max.Less(v) {
			max = v
		}
	}
	return max
}
