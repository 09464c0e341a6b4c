package omnichain

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/evmweave/indexer/internal/indexstore"
	"github.com/evmweave/indexer/pkg/models"
)

func newTestDriver(t *testing.T, handler models.Handler) *Driver {
	t.Helper()
	bo, err := indexstore.NewBolt(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bo.Close() })

	chain := models.Chain{ID: 1, Name: "testchain"}
	return &Driver{
		Sources:    []ChainSource{{Chain: chain}},
		IndexStore: indexstore.New(bo),
		Handler:    handler,
		Logger:     zerolog.Nop(),
	}
}

func TestDispatchBatchRetriesOnceOnInvalidEventAccess(t *testing.T) {
	var calls int
	handler := func(ctx context.Context, ev models.Event, hc models.HandlerContext) error {
		calls++
		if calls == 1 {
			return &indexstore.InvalidEventAccessError{Field: "args.amount"}
		}
		return nil
	}
	d := newTestDriver(t, handler)

	batch := []models.Event{{ChainID: 1, Checkpoint: models.Checkpoint{ChainID: 1, BlockNumber: 1}}}
	err := d.dispatchBatch(context.Background(), batch, nil)
	require.NoError(t, err)
	require.Equal(t, 2, calls, "batch must be retried exactly once after InvalidEventAccessError")
}

func TestDispatchBatchFailsAfterSecondInvalidEventAccess(t *testing.T) {
	var calls int
	handler := func(ctx context.Context, ev models.Event, hc models.HandlerContext) error {
		calls++
		return &indexstore.InvalidEventAccessError{Field: "args.amount"}
	}
	d := newTestDriver(t, handler)

	batch := []models.Event{{ChainID: 1, Checkpoint: models.Checkpoint{ChainID: 1, BlockNumber: 1}}}
	err := d.dispatchBatch(context.Background(), batch, nil)
	require.Error(t, err)
	require.Equal(t, 2, calls, "a second failure must not trigger a third attempt")
}

func TestDispatchBatchPropagatesOtherErrorsWithoutRetry(t *testing.T) {
	var calls int
	boom := errBoom{}
	handler := func(ctx context.Context, ev models.Event, hc models.HandlerContext) error {
		calls++
		return boom
	}
	d := newTestDriver(t, handler)

	batch := []models.Event{{ChainID: 1, Checkpoint: models.Checkpoint{ChainID: 1, BlockNumber: 1}}}
	err := d.dispatchBatch(context.Background(), batch, nil)
	require.Error(t, err)
	require.Equal(t, 1, calls, "a non-retryable error must not be retried")
}

func TestDispatchBatchAdvancesChainProgress(t *testing.T) {
	handler := func(ctx context.Context, ev models.Event, hc models.HandlerContext) error { return nil }
	d := newTestDriver(t, handler)

	progress := map[models.ChainID]*chainProgress{1: {}}
	batch := []models.Event{
		{ChainID: 1, Checkpoint: models.Checkpoint{ChainID: 1, BlockNumber: 5}},
		{ChainID: 1, Checkpoint: models.Checkpoint{ChainID: 1, BlockNumber: 9}},
	}
	require.NoError(t, d.dispatchBatch(context.Background(), batch, progress))
	require.Equal(t, uint64(9), progress[1].Current.BlockNumber)
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
