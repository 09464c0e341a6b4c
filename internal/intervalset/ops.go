package intervalset

// Union returns the union-normal-form union of a and b.
func Union(a, b Set) Set {
	all := make([]Interval, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return NewSet(all...)
}

// Intersection returns the union-normal-form intersection of a and b.
// Intersection(A, B) == Intersection(B, A) for all inputs.
func Intersection(a, b Set) Set {
	var out []Interval
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		lo := max64(a[i].Lo, b[j].Lo)
		hi := min64(a[i].Hi, b[j].Hi)
		if lo <= hi {
			out = append(out, Interval{Lo: lo, Hi: hi})
		}
		if a[i].Hi < b[j].Hi {
			i++
		} else {
			j++
		}
	}
	return NewSet(out...)
}

// Difference returns a with every block covered by b removed.
// Difference(A, A) == the empty set for all A.
func Difference(a, b Set) Set {
	if len(b) == 0 {
		return a.Clone()
	}
	var out []Interval
	for _, iv := range a {
		remaining := []Interval{iv}
		for _, sub := range b {
			var next []Interval
			for _, r := range remaining {
				next = append(next, subtractOne(r, sub)...)
			}
			remaining = next
			if len(remaining) == 0 {
				break
			}
		}
		out = append(out, remaining...)
	}
	return NewSet(out...)
}

// subtractOne removes sub from iv, returning 0, 1, or 2 resulting
// intervals depending on whether sub splits iv, truncates one end, or
// doesn't overlap it at all.
func subtractOne(iv, sub Interval) []Interval {
	if !iv.Overlaps(sub) {
		return []Interval{iv}
	}
	var out []Interval
	if sub.Lo > iv.Lo {
		out = append(out, Interval{Lo: iv.Lo, Hi: sub.Lo - 1})
	}
	if sub.Hi < iv.Hi {
		out = append(out, Interval{Lo: sub.Hi + 1, Hi: iv.Hi})
	}
	return out
}

// Intersect1 intersects the whole set with a single interval.
func Intersect1(s Set, iv Interval) Set {
	return Intersection(s, Set{iv})
}

// Chunk splits iv into consecutive sub-intervals of at most size blocks
// each, preserving order. size must be > 0.
func Chunk(iv Interval, size uint64) []Interval {
	if size == 0 {
		panic("intervalset: chunk size must be > 0")
	}
	var out []Interval
	lo := iv.Lo
	for lo <= iv.Hi {
		hi := lo + size - 1
		if hi > iv.Hi || hi < lo { // guard overflow on size near MaxUint64
			hi = iv.Hi
		}
		out = append(out, Interval{Lo: lo, Hi: hi})
		if hi == iv.Hi {
			break
		}
		lo = hi + 1
	}
	return out
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
