package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evmweave/indexer/pkg/models"
)

func lb(number uint64, hash, parent string) models.LightBlock {
	return models.LightBlock{Number: number, Hash: models.NewHash(hash), ParentHash: models.NewHash(parent)}
}

func TestUnfinalizedChainAppendAndHead(t *testing.T) {
	c := newUnfinalizedChain(lb(40, "0x40", "0x39"))
	require.Equal(t, uint64(40), c.head().Number)
	require.Equal(t, 1, c.len())

	c.append(lb(41, "0x41", "0x40"))
	require.Equal(t, uint64(41), c.head().Number)
	require.Equal(t, 2, c.len())
}

func TestUnfinalizedChainContainsAndIndexOf(t *testing.T) {
	c := newUnfinalizedChain(lb(40, "0x40", "0x39"))
	c.append(lb(41, "0x41", "0x40"))
	c.append(lb(42, "0x42", "0x41"))

	require.True(t, c.contains(models.NewHash("0x41")))
	require.False(t, c.contains(models.NewHash("0x99")))

	idx, ok := c.indexOf(models.NewHash("0x42"))
	require.True(t, ok)
	require.Equal(t, 2, idx)

	_, ok = c.indexOf(models.NewHash("0x99"))
	require.False(t, ok)
}

func TestUnfinalizedChainAdvanceFinalizationPrunesOlderBlocks(t *testing.T) {
	c := newUnfinalizedChain(lb(40, "0x40", "0x39"))
	c.append(lb(41, "0x41", "0x40"))
	c.append(lb(42, "0x42", "0x41"))
	c.append(lb(43, "0x43", "0x42"))

	pruned, ok := c.advanceFinalization(42)
	require.True(t, ok)
	require.Equal(t, uint64(42), pruned.Number)
	require.Equal(t, uint64(42), c.finalized().Number)
	require.Equal(t, 2, c.len(), "blocks older than the new finalized watermark must be dropped")
}

func TestUnfinalizedChainAdvanceFinalizationMissingReturnsFalse(t *testing.T) {
	c := newUnfinalizedChain(lb(40, "0x40", "0x39"))
	_, ok := c.advanceFinalization(99)
	require.False(t, ok)
	require.Equal(t, uint64(40), c.finalized().Number, "a failed advance must not mutate the buffer")
}
