package preprocess

import (
	"math"
	"sort"
)

// WeightedPercentile computes the p-th (0-100) weighted percentile of data
// using linear interpolation between the cumulative-weight midpoints of
// the sorted samples, so uniform weights give the ordinary median at
// p=50. weights need not sum to 1; they are normalized internally.
func WeightedPercentile(data, weights []float64, percentile float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return data[0]
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return data[idx[a]] < data[idx[b]] })

	sortedData := make([]float64, n)
	sortedWeights := make([]float64, n)
	var totalWeight float64
	for i, j := range idx {
		sortedData[i] = data[j]
		sortedWeights[i] = weights[j]
		totalWeight += weights[j]
	}
	if totalWeight == 0 {
		totalWeight = 1
	}

	cumsum := make([]float64, n)
	var running float64
	for i, w := range sortedWeights {
		cumsum[i] = (running + w/2) / totalWeight
		running += w
	}

	target := percentile / 100.0
	pos := sort.SearchFloat64s(cumsum, target)

	if pos >= n {
		return sortedData[n-1]
	}
	if pos == 0 {
		return sortedData[0]
	}

	lowerWeight := cumsum[pos-1]
	upperWeight := cumsum[pos]
	if upperWeight-lowerWeight < 1e-12 {
		return sortedData[pos]
	}
	fraction := (target - lowerWeight) / (upperWeight - lowerWeight)
	return sortedData[pos-1] + fraction*(sortedData[pos]-sortedData[pos-1])
}

// WeightedMedian is WeightedPercentile at the 50th percentile.
func WeightedMedian(data, weights []float64) float64 {
	return WeightedPercentile(data, weights, 50.0)
}

// WeightedMAD computes the weighted median absolute deviation around
// center. When centerOverride is nil, the weighted median is used as the
// center, matching the original's default.
func WeightedMAD(data, weights []float64, centerOverride *float64) float64 {
	center := WeightedMedian(data, weights)
	if centerOverride != nil {
		center = *centerOverride
	}
	deviations := make([]float64, len(data))
	for i, x := range data {
		d := x - center
		if d < 0 {
			d = -d
		}
		deviations[i] = d
	}
	return WeightedMedian(deviations, weights)
}

// WeightedMean computes a weighted arithmetic mean.
func WeightedMean(data, weights []float64) float64 {
	var sumW, sumWX float64
	for i, x := range data {
		sumW += weights[i]
		sumWX += weights[i] * x
	}
	if sumW == 0 {
		return 0
	}
	return sumWX / sumW
}

// WeightedStdDev computes a weighted standard deviation around the
// weighted mean.
func WeightedStdDev(data, weights []float64) float64 {
	mean := WeightedMean(data, weights)
	var sumW, sumWSq float64
	for i, x := range data {
		d := x - mean
		sumW += weights[i]
		sumWSq += weights[i] * d * d
	}
	if sumW == 0 {
		return 0
	}
	return math.Sqrt(sumWSq / sumW)
}
