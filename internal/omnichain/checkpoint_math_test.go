package omnichain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evmweave/indexer/pkg/models"
)

func cp(ts uint64) models.Checkpoint { return models.Checkpoint{BlockTimestamp: ts} }

func TestAggregateStartIsMinimum(t *testing.T) {
	chains := []chainProgress{{Current: cp(50)}, {Current: cp(10)}, {Current: cp(30)}}
	require.Equal(t, cp(10), aggregateStart(chains))
}

func TestAggregateCurrentPrefersLiveChains(t *testing.T) {
	chains := []chainProgress{
		{Current: cp(100), Ended: true},
		{Current: cp(20), Ended: false},
		{Current: cp(30), Ended: false},
	}
	require.Equal(t, cp(20), aggregateCurrent(chains), "must ignore the ended chain while others are still live")
}

func TestAggregateCurrentFallsBackToMaxWhenAllEnded(t *testing.T) {
	chains := []chainProgress{
		{Current: cp(100), Ended: true},
		{Current: cp(50), Ended: true},
	}
	require.Equal(t, cp(100), aggregateCurrent(chains))
}

func TestAggregateEndUnboundedIfAnyChainHasNoEnd(t *testing.T) {
	chains := []chainProgress{
		{End: cp(100), HasEnd: true},
		{HasEnd: false},
	}
	_, ok := aggregateEnd(chains)
	require.False(t, ok)
}

func TestAggregateEndIsMaximumWhenAllBounded(t *testing.T) {
	chains := []chainProgress{
		{End: cp(100), HasEnd: true},
		{End: cp(200), HasEnd: true},
	}
	end, ok := aggregateEnd(chains)
	require.True(t, ok)
	require.Equal(t, cp(200), end)
}

func TestAggregateFinalizedIsMinimum(t *testing.T) {
	finalized := []models.Checkpoint{cp(300), cp(100), cp(200)}
	require.Equal(t, cp(100), aggregateFinalized(finalized))
}

func TestAggregateFinalizedEmpty(t *testing.T) {
	require.Equal(t, models.Checkpoint{}, aggregateFinalized(nil))
}
