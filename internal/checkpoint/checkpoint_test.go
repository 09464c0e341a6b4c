package checkpoint

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evmweave/indexer/pkg/models"
)

func sample() models.Checkpoint {
	return models.Checkpoint{
		BlockTimestamp:   1_700_000_000,
		ChainID:          137,
		BlockNumber:      55_000_321,
		TransactionIndex: 4,
		EventType:        models.EventKindLog,
		EventIndex:       2,
		TraceIndex:       0,
		LogIndex:         7,
		CheckIndex:       1,
		Reserved:         0,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := sample()
	enc := Encode(c)
	require.Len(t, enc, EncodedLen)

	got, err := Decode(enc)
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	_, err := Decode("deadbeef")
	require.Error(t, err)
}

func TestEncodeOrderingMatchesLess(t *testing.T) {
	a := sample()
	b := sample()
	b.BlockNumber++

	require.True(t, a.Less(b))
	require.Less(t, Encode(a), Encode(b))
	require.Equal(t, -1, Compare(a, b))
	require.Equal(t, 1, Compare(b, a))
	require.Equal(t, 0, Compare(a, a))
}

func TestEncodedStringsSortIntoCheckpointOrder(t *testing.T) {
	c1 := sample()
	c2 := sample()
	c2.EventIndex++
	c3 := sample()
	c3.BlockNumber++

	encoded := []string{Encode(c3), Encode(c1), Encode(c2)}
	sort.Strings(encoded)
	require.Equal(t, []string{Encode(c1), Encode(c2), Encode(c3)}, encoded)
}

func TestTaggedPrefixDoesNotBreakOrdering(t *testing.T) {
	c := sample()
	start := Tagged(models.TagStart, c)
	current := Tagged(models.TagCurrent, c)
	require.NotEqual(t, start, current)
	require.Len(t, start, EncodedLen+2)

	later := sample()
	later.BlockNumber++
	require.Less(t, start, Tagged(models.TagStart, later))
}
