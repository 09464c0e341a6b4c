package historical

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRangeEstimatorGrowsAndShrinks(t *testing.T) {
	r := newRangeEstimator()
	require.Equal(t, uint64(initialRangeSize), r.current())

	r.grow()
	require.Equal(t, uint64(525), r.current())

	r.shrinkTo(100)
	require.Equal(t, uint64(100), r.current())

	// shrinkTo never widens past a larger confirmed value.
	r.shrinkTo(200)
	require.Equal(t, uint64(100), r.current())
}

func TestRangeEstimatorNeverGoesBelowOne(t *testing.T) {
	r := newRangeEstimator()
	r.shrinkTo(0)
	require.Equal(t, uint64(1), r.current())
}
