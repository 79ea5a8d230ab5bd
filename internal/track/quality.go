package track

import (
	"math"
	"sort"
)

// medianUncertainty computes the median of the per-frame scalar uncertainty
// metric across a trimmed history. Even-length histories interpolate
// between the two middle values.
func medianUncertainty(history []Estimate) float64 {
	if len(history) == 0 {
		return math.NaN()
	}
	vals := make([]float64, len(history))
	for i, e := range history {
		vals[i] = e.Uncertainty
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}

// excursionDistance is the larger of the x and y spatial spans of the
// filtered positions across a history.
func excursionDistance(history []Estimate) float64 {
	if len(history) == 0 {
		return 0
	}
	minX, maxX := history[0].State[0], history[0].State[0]
	minY, maxY := history[0].State[1], history[0].State[1]
	for _, e := range history[1:] {
		minX = math.Min(minX, e.State[0])
		maxX = math.Max(maxX, e.State[0])
		minY = math.Min(minY, e.State[1])
		maxY = math.Max(maxY, e.State[1])
	}
	return math.Max(maxX-minX, maxY-minY)
}
