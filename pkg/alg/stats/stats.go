// Package stats provides the small numeric helpers shared by the scheduler
// and the candidate-set ranking. Standard deviations are population (÷n).
package stats

import (
	"cmp"
	"math"
)

// Mean returns the arithmetic mean of values.
// Returns 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64

	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

// MeanStdDev returns the arithmetic mean and population standard deviation.
// Returns (0, 0) for an empty slice.
func MeanStdDev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}

	mean = Mean(values)

	var sumSq float64

	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}

	return mean, math.Sqrt(sumSq / float64(len(values)))
}

// CoefficientOfVariation returns stddev/|mean|.
// Returns 0 for fewer than two values or a zero mean.
func CoefficientOfVariation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	mean, stddev := MeanStdDev(values)
	if mean == 0 {
		return 0
	}

	return stddev / math.Abs(mean)
}

// Clamp restricts val to the range [lo, hi].
func Clamp[T cmp.Ordered](val, lo, hi T) T {
	return max(lo, min(val, hi))
}
