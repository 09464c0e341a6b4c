package omnichain

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evmweave/indexer/pkg/models"
)

func TestCheckpointStoreSaveLoadRoundTrip(t *testing.T) {
	cs, err := newCheckpointStore(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	_, found, err := cs.load("unknown")
	require.NoError(t, err)
	require.False(t, found, "a chain with no prior run has no checkpoint yet")

	want := models.ChainCheckpoint{
		ChainName: "polygon",
		ChainID:   137,
		Latest:    models.Checkpoint{BlockNumber: 100},
		Safe:      models.Checkpoint{BlockNumber: 90},
		Finalized: models.Checkpoint{BlockNumber: 80},
	}
	require.NoError(t, cs.save(want))

	got, found, err := cs.load("polygon")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, want, got)
}

func TestCheckpointStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	cs, err := newCheckpointStore(path)
	require.NoError(t, err)
	require.NoError(t, cs.save(models.ChainCheckpoint{ChainName: "arbitrum", ChainID: 42161, Latest: models.Checkpoint{BlockNumber: 5}}))
	require.NoError(t, cs.Close())

	reopened, err := newCheckpointStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, found, err := reopened.load("arbitrum")
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 5, got.Latest.BlockNumber)
}
