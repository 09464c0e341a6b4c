package omnichain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evmweave/indexer/pkg/models"
)

// fakeSource builds an eventSource whose buffer is pre-filled and marked
// exhausted, so peek/pop never call fill and the zipper can be exercised
// without a driver, sync store, or RPC client.
func fakeSource(events ...models.Event) *eventSource {
	return &eventSource{buf: events, exhausted: true}
}

func evAt(chain models.ChainID, block uint64, logIndex uint32) models.Event {
	return models.Event{
		ChainID: chain,
		Checkpoint: models.Checkpoint{
			BlockTimestamp: block * 10,
			ChainID:        chain,
			BlockNumber:    block,
			LogIndex:       logIndex,
		},
	}
}

func drain(t *testing.T, z *zipper) []models.Event {
	t.Helper()
	var out []models.Event
	for {
		ev, ok, err := z.next(context.Background())
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func TestZipperMergesTwoSourcesInCheckpointOrder(t *testing.T) {
	chain1 := fakeSource(evAt(1, 10, 0), evAt(1, 20, 0), evAt(1, 30, 0))
	chain2 := fakeSource(evAt(2, 15, 0), evAt(2, 25, 0))

	z := newZipper([]*eventSource{chain1, chain2})
	out := drain(t, z)

	require.Len(t, out, 5)
	for i := 1; i < len(out); i++ {
		require.False(t, out[i].Checkpoint.Less(out[i-1].Checkpoint), "events must come out in non-decreasing checkpoint order")
	}
	require.Equal(t, []uint64{10, 15, 20, 25, 30}, blockNumbers(out))
}

func TestZipperTiesBrokenByChainIDWithinCheckpoint(t *testing.T) {
	// Equal block timestamps (same BlockTimestamp, BlockNumber, LogIndex)
	// across two chains must order by ChainID, the tiebreak Checkpoint.Less
	// already encodes as a struct field.
	chain2 := fakeSource(models.Event{ChainID: 2, Checkpoint: models.Checkpoint{BlockTimestamp: 100, ChainID: 2}})
	chain1 := fakeSource(models.Event{ChainID: 1, Checkpoint: models.Checkpoint{BlockTimestamp: 100, ChainID: 1}})

	z := newZipper([]*eventSource{chain2, chain1})
	out := drain(t, z)

	require.Len(t, out, 2)
	require.Equal(t, models.ChainID(1), out[0].ChainID)
	require.Equal(t, models.ChainID(2), out[1].ChainID)
}

func TestZipperEmptySourceYieldsNothing(t *testing.T) {
	z := newZipper([]*eventSource{fakeSource()})
	out := drain(t, z)
	require.Empty(t, out)
}

func TestZipperSingleSourcePreservesOrder(t *testing.T) {
	chain1 := fakeSource(evAt(1, 1, 0), evAt(1, 2, 0), evAt(1, 3, 1))
	z := newZipper([]*eventSource{chain1})
	out := drain(t, z)
	require.Equal(t, []uint64{1, 2, 3}, blockNumbers(out))
}

func blockNumbers(events []models.Event) []uint64 {
	out := make([]uint64, len(events))
	for i, e := range events {
		out[i] = e.Checkpoint.BlockNumber
	}
	return out
}
