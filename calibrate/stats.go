package calibrate

import (
	"math"
	"slices"
)

// Median returns the middle value of xs, averaging the two middle values
// for even lengths. Empty input yields 0.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// Percentile returns the p-th percentile (p in [0,100]) with linear
// interpolation between the two nearest order statistics.
func Percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)

	p = min(max(p, 0), 100)
	idx := p / 100 * float64(len(sorted)-1)
	lo, hi := int(math.Floor(idx)), int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	w := idx - float64(lo)
	return sorted[lo] + w*(sorted[hi]-sorted[lo])
}

// MAD is the median absolute deviation from the median.
func MAD(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	med := Median(xs)
	dev := make([]float64, len(xs))
	for i, x := range xs {
		dev[i] = math.Abs(x - med)
	}
	return Median(dev)
}

// FilterOutliers drops values further than 3*MAD from the median. Fewer than
// three values, a zero MAD, or a filter that would drop everything all
// return xs unchanged.
func FilterOutliers(xs []float64) []float64 {
	if len(xs) < 3 {
		return xs
	}
	med := Median(xs)
	mad := MAD(xs)
	if mad == 0 {
		return xs
	}
	limit := 3 * mad
	kept := make([]float64, 0, len(xs))
	for _, x := range xs {
		if math.Abs(x-med) <= limit {
			kept = append(kept, x)
		}
	}
	if len(kept) == 0 {
		return xs
	}
	return kept
}
