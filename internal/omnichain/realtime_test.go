package omnichain

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evmweave/indexer/internal/realtime"
	"github.com/evmweave/indexer/pkg/models"
)

func newTestRealtimeDriver(t *testing.T) *Driver {
	t.Helper()
	d := newTestDriver(t, func(ctx context.Context, ev models.Event, hc models.HandlerContext) error { return nil })

	cs, err := newCheckpointStore(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	d.checkpoints = cs
	d.tsCache = make(map[tsKey]uint64)
	return d
}

func writeRow(t *testing.T, d *Driver, id string, cp models.Checkpoint) {
	t.Helper()
	tx, err := d.IndexStore.BeginTx(context.Background())
	require.NoError(t, err)
	tx.SetCheckpoint(cp)
	require.NoError(t, tx.Table("rows").Create(context.Background(), map[string]any{"id": id}))
	require.NoError(t, tx.Commit(context.Background()))
}

func rowExists(t *testing.T, d *Driver, id string) bool {
	t.Helper()
	tx, err := d.IndexStore.BeginTx(context.Background())
	require.NoError(t, err)
	var row map[string]any
	found, err := tx.Table("rows").FindUnique(context.Background(), id, &row)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(context.Background()))
	return found
}

func TestDispatchRealtimeReorgUndoesPastAncestor(t *testing.T) {
	d := newTestRealtimeDriver(t)

	writeRow(t, d, "safe", models.Checkpoint{BlockTimestamp: 100, ChainID: 1, BlockNumber: 10})
	writeRow(t, d, "orphaned", models.Checkpoint{BlockTimestamp: 200, ChainID: 1, BlockNumber: 20})

	chain := models.Chain{ID: 1, Name: "testchain"}
	reorg := &realtime.ReorgEvent{CommonAncestor: models.LightBlock{Number: 10, Timestamp: 100}}
	require.NoError(t, d.dispatchRealtimeReorg(context.Background(), chain, reorg))

	require.True(t, rowExists(t, d, "safe"))
	require.False(t, rowExists(t, d, "orphaned"))

	cp, found, err := d.checkpoints.load("testchain")
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 10, cp.Latest.BlockNumber)
}

func TestDispatchRealtimeReorgScopedToItsChain(t *testing.T) {
	d := newTestRealtimeDriver(t)
	d.Sources = []ChainSource{
		{Chain: models.Chain{ID: 1, Name: "chain1"}},
		{Chain: models.Chain{ID: 2, Name: "chain2"}},
	}

	writeRow(t, d, "chain1-orphaned", models.Checkpoint{BlockTimestamp: 200, ChainID: 1, BlockNumber: 20})
	writeRow(t, d, "chain2-later", models.Checkpoint{BlockTimestamp: 300, ChainID: 2, BlockNumber: 3})

	chain1 := models.Chain{ID: 1, Name: "chain1"}
	reorg := &realtime.ReorgEvent{CommonAncestor: models.LightBlock{Number: 10, Timestamp: 100}}
	require.NoError(t, d.dispatchRealtimeReorg(context.Background(), chain1, reorg))

	require.False(t, rowExists(t, d, "chain1-orphaned"))
	require.True(t, rowExists(t, d, "chain2-later"), "a chain-1 reorg must never undo chain 2's rows")
}

func TestDispatchRealtimeFinalizeRecordsBoundary(t *testing.T) {
	d := newTestRealtimeDriver(t)
	d.Sources = []ChainSource{{Chain: models.Chain{ID: 1, Name: "testchain"}, RPC: nil}}

	// blockTimestamp would normally hit RPC; seed the cache so
	// dispatchRealtimeFinalize's lookup is satisfied without a client.
	d.tsCache[tsKey{chain: 1, block: 50}] = 555

	f := &realtime.FinalizeEvent{FinalizedNumber: 50}
	require.NoError(t, d.dispatchRealtimeFinalize(context.Background(), models.Chain{ID: 1, Name: "testchain"}, f))

	cp, found, err := d.checkpoints.load("testchain")
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 50, cp.Finalized.BlockNumber)
	require.EqualValues(t, 555, cp.Finalized.BlockTimestamp)
}

func TestDispatchRealtimeEventNilPayloadsAreNoops(t *testing.T) {
	d := newTestRealtimeDriver(t)
	chain := models.Chain{ID: 1, Name: "testchain"}
	require.NoError(t, d.dispatchRealtimeReorg(context.Background(), chain, nil))
	require.NoError(t, d.dispatchRealtimeFinalize(context.Background(), chain, nil))
	require.NoError(t, d.dispatchRealtimeBlock(context.Background(), chain, nil))
}
