// Package mapx holds generic map helpers.
package mapx

import (
	"cmp"
	"slices"
)

// SortedKeys returns the keys of m in ascending order, so output built from
// a map is stable. Returns nil for a nil map.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	if m == nil {
		return nil
	}

	keys := make([]K, 0, len(m))

	for k := range m {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}
