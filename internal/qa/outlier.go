package qa

import (
	"math"
	"sort"
)

const (
	// DefaultOutlierCents is the fixed threshold used for small samples
	DefaultOutlierCents = 200000

	// MinOutlierSample is the sample size from which the percentile applies
	MinOutlierSample = 20

	outlierPercentile = 99.0
)

// OutlierThreshold returns the amount above which a record is an outlier:
// DefaultOutlierCents when fewer than MinOutlierSample amounts are known,
// otherwise the 99th percentile of the amounts.
func OutlierThreshold(amounts []int64) float64 {
	if len(amounts) < MinOutlierSample {
		return DefaultOutlierCents
	}
	return Percentile(amounts, outlierPercentile)
}

// Percentile computes the p-th percentile (0-100) with linear interpolation
// between the closest ranks. It returns NaN for an empty sample.
func Percentile(values []int64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}

	sorted := make([]float64, len(values))
	for i, v := range values {
		sorted[i] = float64(v)
	}
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
