// Package stats provides the robust statistics shared by the anomaly scorer
// and driver attribution engine.
package stats

import (
	"math"
	"sort"
)

// madConsistency rescales MAD to a consistent estimator of the standard
// deviation under normality.
const madConsistency = 1.4826

// spreadEpsilon is the denominator floor when a window has zero spread.
const spreadEpsilon = 1e-9

// Median returns the median of values. Returns 0 for an empty slice.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// MAD returns the median absolute deviation of values around center.
func MAD(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - center)
	}
	return Median(devs)
}

// PopStdDev returns the population standard deviation (ddof=0) of values.
func PopStdDev(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n))
}

// RobustScore returns the z-like deviation of current from the window's
// median. The MAD scale is preferred; a zero MAD falls back to the population
// standard deviation, and a zero spread altogether falls back to a fixed
// epsilon so the score stays finite. The result is always non-negative.
func RobustScore(current float64, window []float64) (score, baseline float64) {
	baseline = Median(window)
	mad := MAD(window, baseline)
	if mad == 0 {
		denom := PopStdDev(window)
		if denom <= 0 {
			denom = spreadEpsilon
		}
		return math.Abs(current-baseline) / denom, baseline
	}
	return math.Abs(current-baseline) / (madConsistency * mad), baseline
}

// SafeRate divides numerator by denominator, returning 0 when the
// denominator is 0.
func SafeRate(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
