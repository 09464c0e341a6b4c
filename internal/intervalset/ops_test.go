package intervalset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSetNormalizes(t *testing.T) {
	s := NewSet(Interval{1, 5}, Interval{6, 9}, Interval{20, 25})
	require.True(t, s.IsNormal())
	require.Equal(t, Set{{1, 9}, {20, 25}}, s)
}

func TestDifferenceBoundaryCases(t *testing.T) {
	// [[1,5]] - [[0,3]] = [[4,5]]
	got := Difference(NewSet(Interval{1, 5}), NewSet(Interval{0, 3}))
	require.Equal(t, Set{{4, 5}}, got)

	// [[1,5],[10,15]] - [[3,12]] = [[1,2],[13,15]]
	got = Difference(NewSet(Interval{1, 5}, Interval{10, 15}), NewSet(Interval{3, 12}))
	require.Equal(t, Set{{1, 2}, {13, 15}}, got)

	// [[1,5],[9,12]] - [[0,3]] = [[4,5],[9,12]]
	got = Difference(NewSet(Interval{1, 5}, Interval{9, 12}), NewSet(Interval{0, 3}))
	require.Equal(t, Set{{4, 5}, {9, 12}}, got)
}

func TestDifferenceSelfIsEmpty(t *testing.T) {
	a := NewSet(Interval{1, 5}, Interval{10, 20})
	require.Empty(t, Difference(a, a))
}

func TestUnionWithEmptyIsIdentity(t *testing.T) {
	a := NewSet(Interval{1, 5})
	require.Equal(t, a, Union(a, nil))
}

func TestIntersectionCommutative(t *testing.T) {
	a := NewSet(Interval{1, 10}, Interval{20, 30})
	b := NewSet(Interval{5, 25})
	require.Equal(t, Intersection(a, b), Intersection(b, a))
	require.Equal(t, Set{{5, 10}, {20, 25}}, Intersection(a, b))
}

func TestChunk(t *testing.T) {
	chunks := Chunk(Interval{1, 10}, 3)
	require.Equal(t, []Interval{{1, 3}, {4, 6}, {7, 9}, {10, 10}}, chunks)

	single := Chunk(Interval{5, 5}, 100)
	require.Equal(t, []Interval{{5, 5}}, single)
}

func TestBoundsAndContains(t *testing.T) {
	s := NewSet(Interval{1, 5}, Interval{10, 20})
	lo, hi, ok := s.Bounds()
	require.True(t, ok)
	require.Equal(t, uint64(1), lo)
	require.Equal(t, uint64(20), hi)

	require.True(t, s.Contains(3))
	require.False(t, s.Contains(7))
	require.True(t, s.ContainsRange(10, 15))
	require.False(t, s.ContainsRange(4, 11))
}

func TestInvariantAfterRepeatedInserts(t *testing.T) {
	var s Set
	inserts := []Interval{{10, 20}, {1, 5}, {21, 25}, {6, 9}, {100, 200}}
	for _, iv := range inserts {
		s = NewSet(append(s, iv)...)
		require.True(t, s.IsNormal(), "set not normal after inserting %+v: %+v", iv, s)
	}
	require.Equal(t, Set{{1, 25}, {100, 200}}, s)
}
