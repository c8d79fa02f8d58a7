// Package stats holds the descriptive statistics shared by the pattern detectors.
// All functions are total: empty input yields zero values, never a panic or NaN.
package stats

import (
	"math"
	"sort"
)

const (
	// OutlierZScore is the 3-sigma boundary; a value at exactly 3 is an outlier
	OutlierZScore = 3.0
	// SkewThreshold marks a distribution as abnormal
	SkewThreshold = 0.3

	clusterSpanSeconds     = 86400
	clusterIntervalSeconds = 21600
)

// Sum adds the values
func Sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

// Mean returns the arithmetic mean, 0 for empty input
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return Sum(values) / float64(len(values))
}

// Variance returns the population variance
func Variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return sq / float64(len(values))
}

// StdDev returns the population standard deviation
func StdDev(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// CoefficientOfVariation is stddev/mean, 0 when the mean is not positive
func CoefficientOfVariation(values []float64) float64 {
	mean := Mean(values)
	if mean <= 0 {
		return 0
	}
	return StdDev(values) / mean
}

// DispersionIndex is variance/mean. ok is false when the mean is not positive.
func DispersionIndex(values []float64) (index float64, ok bool) {
	mean := Mean(values)
	if mean <= 0 {
		return 0, false
	}
	return Variance(values) / mean, true
}

// Median returns the middle value, averaging the two middle values for even lengths
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// Max returns the largest value, 0 for empty input
func Max(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Outliers returns the indices of values whose |z| >= OutlierZScore.
// A zero standard deviation yields no outliers.
func Outliers(values []float64) []int {
	std := StdDev(values)
	if std == 0 {
		return nil
	}
	mean := Mean(values)
	var idx []int
	for i, v := range values {
		if math.Abs((v-mean)/std) >= OutlierZScore {
			idx = append(idx, i)
		}
	}
	return idx
}

// Skew is the |mean-median|/max(mean,median) heuristic
func Skew(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	median := Median(values)
	denom := math.Max(mean, median)
	if denom <= 0 {
		return 0
	}
	return math.Abs(mean-median) / denom
}

// IsSkewed reports whether Skew exceeds SkewThreshold
func IsSkewed(values []float64) bool {
	return Skew(values) > SkewThreshold
}

// TimeDifferences returns consecutive gaps, in seconds, between sorted timestamps
func TimeDifferences(unix []int64) []float64 {
	if len(unix) < 2 {
		return nil
	}
	sorted := append([]int64(nil), unix...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	diffs := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		diffs = append(diffs, float64(sorted[i]-sorted[i-1]))
	}
	return diffs
}

// HasRegularIntervals is true when there are at least two intervals and
// variance/mean of the intervals is below 0.2
func HasRegularIntervals(intervals []float64) bool {
	if len(intervals) < 2 {
		return false
	}
	idx, ok := DispersionIndex(intervals)
	return ok && idx < 0.2
}

// IsClusteredInTime is true for three or more events that either fit inside 24h
// or average at most 6h between events
func IsClusteredInTime(unix []int64) bool {
	if len(unix) < 3 {
		return false
	}
	first, last := unix[0], unix[0]
	for _, ts := range unix[1:] {
		if ts < first {
			first = ts
		}
		if ts > last {
			last = ts
		}
	}
	span := last - first
	if span <= clusterSpanSeconds {
		return true
	}
	avg := float64(span) / float64(len(unix)-1)
	return avg <= clusterIntervalSeconds
}
