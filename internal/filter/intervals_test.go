package filter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evmweave/indexer/internal/fragment"
	"github.com/evmweave/indexer/internal/intervalset"
	"github.com/evmweave/indexer/pkg/models"
)

func noCache(models.ChainID, models.FragmentID) intervalset.Set { return nil }

func TestGetRequiredIntervalsClipsToFilterRange(t *testing.T) {
	to := uint64(500)
	f := models.Filter{
		ChainID:    1,
		Type:       models.FilterTypeLog,
		FromBlock:  100,
		ToBlock:    &to,
		LogAddress: &models.AddressOrFactory{Address: models.NewAddress("0xabc")},
	}

	work := GetRequiredIntervals(intervalset.Interval{Lo: 0, Hi: 1000}, []models.Filter{f}, noCache, nil)
	require.Len(t, work, 1)
	require.Equal(t, intervalset.NewSet(intervalset.Interval{Lo: 100, Hi: 500}), work[0].Missing)
}

func TestGetRequiredIntervalsSubtractsCached(t *testing.T) {
	f := models.Filter{
		ChainID:    1,
		Type:       models.FilterTypeLog,
		FromBlock:  0,
		LogAddress: &models.AddressOrFactory{Address: models.NewAddress("0xabc")},
	}
	frag := fragment.Decompose(f)[0]

	cached := func(models.ChainID, models.FragmentID) intervalset.Set {
		return intervalset.NewSet(intervalset.Interval{Lo: 0, Hi: 50})
	}

	work := GetRequiredIntervals(intervalset.Interval{Lo: 0, Hi: 100}, []models.Filter{f}, cached, nil)
	require.Len(t, work, 1)
	require.Equal(t, frag.ID, work[0].Fragment.ID)
	require.Equal(t, intervalset.NewSet(intervalset.Interval{Lo: 51, Hi: 100}), work[0].Missing)
}

func TestGetRequiredIntervalsSkipsFullyCachedFilter(t *testing.T) {
	f := models.Filter{
		ChainID:    1,
		Type:       models.FilterTypeLog,
		FromBlock:  0,
		LogAddress: &models.AddressOrFactory{Address: models.NewAddress("0xabc")},
	}
	cached := func(models.ChainID, models.FragmentID) intervalset.Set {
		return intervalset.NewSet(intervalset.Interval{Lo: 0, Hi: 100})
	}

	work := GetRequiredIntervals(intervalset.Interval{Lo: 0, Hi: 100}, []models.Filter{f}, cached, nil)
	require.Empty(t, work)
}

func TestGetRequiredIntervalsWidensForFactoryGap(t *testing.T) {
	factory := &models.Factory{ID: "fac-1"}
	f := models.Filter{
		ChainID:    1,
		Type:       models.FilterTypeLog,
		FromBlock:  0,
		LogAddress: &models.AddressOrFactory{Factory: factory},
	}
	// cached [0,50] and [70,100] -> missing [51,69] before widening, but the
	// gap forces a rescan through the whole remainder.
	cached := func(models.ChainID, models.FragmentID) intervalset.Set {
		return intervalset.NewSet(
			intervalset.Interval{Lo: 0, Hi: 50},
			intervalset.Interval{Lo: 70, Hi: 100},
		)
	}

	work := GetRequiredIntervals(intervalset.Interval{Lo: 0, Hi: 100}, []models.Filter{f}, cached, nil)
	require.Len(t, work, 1)
	require.Equal(t, uint64(51), work[0].Missing[0].Lo)
	require.Equal(t, uint64(100), work[0].Missing[len(work[0].Missing)-1].Hi)
}

func TestGetCachedBlockReturnsMinimumAcrossFilters(t *testing.T) {
	f1 := models.Filter{ChainID: 1, Type: models.FilterTypeLog, LogAddress: &models.AddressOrFactory{Address: models.NewAddress("0xaaa")}}
	f2 := models.Filter{ChainID: 1, Type: models.FilterTypeLog, LogAddress: &models.AddressOrFactory{Address: models.NewAddress("0xbbb")}}

	cached := func(_ models.ChainID, fragID models.FragmentID) intervalset.Set {
		f1Frag := fragment.Decompose(f1)[0]
		if fragID == f1Frag.ID {
			return intervalset.NewSet(intervalset.Interval{Lo: 0, Hi: 200})
		}
		return intervalset.NewSet(intervalset.Interval{Lo: 0, Hi: 80})
	}

	block, ok := GetCachedBlock([]models.Filter{f1, f2}, cached)
	require.True(t, ok)
	require.Equal(t, uint64(80), block)
}

func TestGetCachedBlockFalseWhenFromBlockUncovered(t *testing.T) {
	f := models.Filter{ChainID: 1, FromBlock: 10, Type: models.FilterTypeLog, LogAddress: &models.AddressOrFactory{Address: models.NewAddress("0xaaa")}}
	block, ok := GetCachedBlock([]models.Filter{f}, noCache)
	require.False(t, ok)
	require.Zero(t, block)
}
