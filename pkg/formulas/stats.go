package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the population standard deviation of a slice of values
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return math.Sqrt(stat.PopVariance(data, nil))
}

// Percentile returns the value below which p percent of the observations fall.
// p is expressed in [0, 100]. The input is not modified.
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	return stat.Quantile(p/100.0, stat.Empirical, sorted, nil)
}

// PercentileRank returns the percentile rank of v within data, in [0, 100].
func PercentileRank(data []float64, v float64) float64 {
	if len(data) == 0 {
		return 0
	}
	below := 0
	for _, d := range data {
		if d <= v {
			below++
		}
	}
	return 100.0 * float64(below) / float64(len(data))
}

// Clamp bounds v to the inclusive range [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
