package fairvalue

import (
	"math"
	"sort"

	"github.com/guregu/null/v6"
)

// Quartiles returns Q1 and Q3 of sorted values using linear interpolation
// between closest ranks.
func Quartiles(sorted []float64) (q1, q3 float64) {
	return quantile(sorted, 0.25), quantile(sorted, 0.75)
}

func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}

	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// TrimOutliers drops values outside [Q1 - factor*IQR, Q3 + factor*IQR]
func TrimOutliers(values []float64, factor float64) []float64 {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return clean
	}

	sorted := append([]float64(nil), clean...)
	sort.Float64s(sorted)

	q1, q3 := Quartiles(sorted)
	iqr := q3 - q1
	lower, upper := q1-factor*iqr, q3+factor*iqr

	kept := make([]float64, 0, len(clean))
	for _, v := range clean {
		if v >= lower && v <= upper {
			kept = append(kept, v)
		}
	}
	return kept
}

// TrimmedMean is the mean after IQR trimming, null with fewer than minValues survivors
func TrimmedMean(values []float64, factor float64, minValues int) (null.Float, int) {
	kept := TrimOutliers(values, factor)
	if len(kept) == 0 || len(kept) < minValues {
		return null.Float{}, len(kept)
	}

	sum := 0.0
	for _, v := range kept {
		sum += v
	}
	return null.FloatFrom(sum / float64(len(kept))), len(kept)
}
