// Package combination proposes fixed-size groups of scored items for
// group-level review. The number of groups grows as C(n,k), so selection is
// guarded by an explicit cap.
package combination

import (
	"iter"
	"math"
	"math/bits"
)

// Count returns the binomial coefficient C(n, k). It is 0 when k < 0 or
// k > n and saturates at math.MaxUint64.
func Count(n, k int) uint64 {
	if k < 0 || n < 0 || k > n {
		return 0
	}

	k = min(k, n-k)

	result := uint64(1)

	for i := range k {
		hi, lo := bits.Mul64(result, uint64(n-i))

		divisor := uint64(i + 1)
		if hi >= divisor {
			return math.MaxUint64
		}

		// C(n,i)*(n-i) is always divisible by i+1.
		result, _ = bits.Div64(hi, lo, divisor)
	}

	return result
}

// Generate yields every k-element combination of items in lexicographic
// index order. Each yielded slice is freshly allocated and owned by the
// caller. The sequence is empty when k < 0 or k > len(items), and holds a
// single empty tuple when k == 0. Ranging over it again starts over.
func Generate[T any](items []T, k int) iter.Seq[[]T] {
	return func(yield func([]T) bool) {
		n := len(items)
		if k < 0 || k > n {
			return
		}

		indices := make([]int, k)
		for i := range indices {
			indices[i] = i
		}

		for {
			tuple := make([]T, k)
			for i, idx := range indices {
				tuple[i] = items[idx]
			}

			if !yield(tuple) {
				return
			}

			// Find the rightmost index that can still advance.
			pos := k - 1
			for pos >= 0 && indices[pos] == n-k+pos {
				pos--
			}

			if pos < 0 {
				return
			}

			indices[pos]++

			for j := pos + 1; j < k; j++ {
				indices[j] = indices[j-1] + 1
			}
		}
	}
}
