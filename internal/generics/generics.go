// Package generics implements generic data structure functions missing from the stdlib.
package generics

import (
	"cmp"
	"iter"
	"maps"
	"slices"

	"golang.org/x/exp/constraints"
)

// SliceMap executes the given function sequentially for every element on in, and returns a mapped slice.
func SliceMap[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
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

// SortedKeysAndValues returns an interator over keys and values of a map m in a sorted fashion by the keys.
//
// It extracts the keys, sort them and then iterate over, so it's convenient but not fast.
func SortedKeysAndValues[M interface{ ~map[K]V }, K cmp.Ordered, V any](m M) iter.Seq2[K, V] {
	sortedKeys := slices.Collect(maps.Keys(m))
	slices.Sort(sortedKeys)
	return func(yield func(K, V) bool) {
		for _, key := range sortedKeys {
			if !yield(key, m[key]) {
				break
			}
		}
	}
}

// ArgMax returns the index of the first largest element of values, or -1 if values is empty.
func ArgMax[T constraints.Ordered](values []T) int {
	if len(values) == 0 {
		return -1
	}
	best := 0
	for ii, v := range values[1:] {
		if v > values[best] {
			best = ii + 1
		}
	}
	return best
}

// Mean of values, or 0 for an empty slice.
func Mean[T constraints.Integer | constraints.Float](values []T) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	return sum / float64(len(values))
}

// Set implements a Set for the key type T.
type Set[T comparable] map[T]struct{}

// MakeSet returns an empty Set of the given type. Size is optional, and if given
// will reserve the expected size.
func MakeSet[T comparable](size ...int) Set[T] {
	if len(size) == 0 {
		return make(Set[T])
	}
	return make(Set[T], size[0])
}

// SetWith creates a Set[T] with the given elements inserted.
func SetWith[T comparable](elements ...T) Set[T] {
	s := MakeSet[T](len(elements))
	for _, element := range elements {
		s.Insert(element)
	}
	return s
}

// Has returns true if Set s has the given key.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// Insert keys into set.
func (s Set[T]) Insert(keys ...T) {
	for _, key := range keys {
		s[key] = struct{}{}
	}
}
