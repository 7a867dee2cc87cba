// Package generics implements generic data structure functions missing from the stdlib.
package generics

import (
	"cmp"
	"iter"
	"maps"
	"slices"
)

// SliceMap executes the given function sequentially for every element on in, and returns a mapped slice.
func SliceMap[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// SliceFilter returns the elements of in for which keep returns true, in order.
func SliceFilter[T any](in []T, keep func(e T) bool) (out []T) {
	for _, e := range in {
		if keep(e) {
			out = append(out, e)
		}
	}
	return
}

// SortedKeys returns an iterator over the sorted keys of the given map.
//
// It extracts the keys, sort them and then iterate over, so it's convenient but not fast.
func SortedKeys[M interface{ ~map[K]V }, K cmp.Ordered, V any](m M) iter.Seq[K] {
	sortedKeys := slices.Collect(maps.Keys(m))
	slices.Sort(sortedKeys)
	return slices.Values(sortedKeys)
}

// ArgMin returns the index of the first smallest element of values, or -1 if values is empty.
// Ties are broken by the lowest index, so the result is stable.
func ArgMin[T cmp.Ordered](values []T) int {
	if len(values) == 0 {
		return -1
	}
	best := 0
	for ii, v := range values[1:] {
		if v < values[best] {
			best = ii + 1
		}
	}
	return best
}
