// Package detectors implements the four statistical detectors described
// in spec.md §4.5 — MAD, Z-Score, IQR, and Manual Bounds — sharing the
// windowing, warm-up, and missing-value rules common to all of them.
package detectors

import (
	"encoding/json"
	"sort"

	"github.com/alexeiveselov92/detectkit/internal/model"
)

const epsilon = 1e-10

// Result is one detector's verdict at a single position.
type Result struct {
	IsAnomaly       bool
	ConfidenceLower *float64
	ConfidenceUpper *float64
	Direction       model.Direction
	Severity        float64
	Metadata        map[string]any
	Reason          model.Reason
}

// Detector is the common interface every statistical detector satisfies
// (§4.5): given a preprocessed window and its aligned seasonality rows,
// produce one Result per position from startIndex onward.
type Detector interface {
	Detect(values []*float64, seasonalityRows []map[string]any, startIndex int) []Result
	Hash() string
}

// Windowed is implemented by detectors that need trailing history (MAD,
// ZScore, IQR); ManualBounds does not and so is exempt from the runner's
// load_window history-sizing step.
type Windowed interface {
	WindowSize() int
}

func insufficientData() Result {
	return Result{IsAnomaly: false, Direction: model.DirectionNone, Reason: model.ReasonInsufficientData}
}

func missingData() Result {
	return Result{IsAnomaly: false, Direction: model.DirectionNone, Reason: model.ReasonMissingData}
}

// historyIndices returns the indices of the trailing window_size
// positions strictly before i — i.e. values[max(0,i-windowSize) : i] in
// spec.md §4.5's common-rules slice notation. The position being scored
// never contributes to its own statistics.
func historyIndices(i, windowSize int) []int {
	lo := i - windowSize
	if lo < 0 {
		lo = 0
	}
	idxs := make([]int, 0, i-lo)
	for j := lo; j < i; j++ {
		idxs = append(idxs, j)
	}
	return idxs
}

func countFinite(values []*float64, idxs []int) int {
	n := 0
	for _, j := range idxs {
		if values[j] != nil {
			n++
		}
	}
	return n
}

// weightedSample builds the finite-valued subset of a history window plus
// its recency weights and aligned seasonality rows, ready to hand to a
// statistic function or the seasonality adjuster.
func weightedSample(values []*float64, rows []map[string]any, idxs []int, recentWeight float64) (data, weights []float64, sampleRows []map[string]any) {
	allWeights := recentWeights(len(idxs), recentWeight)
	for k, j := range idxs {
		if values[j] == nil {
			continue
		}
		data = append(data, *values[j])
		weights = append(weights, allWeights[k])
		if rows != nil {
			sampleRows = append(sampleRows, rows[j])
		}
	}
	return data, weights, sampleRows
}

// recentWeights mirrors preprocess.RecentWeights without importing that
// package's window-sizing assumptions — detectors apply recency weighting
// over their own history slice, not the raw preprocessed array.
func recentWeights(n int, w float64) []float64 {
	weights := make([]float64, n)
	if n == 0 {
		return weights
	}
	if w == 0 {
		for i := range weights {
			weights[i] = 1
		}
		return weights
	}

	trailingCount := n / 5
	if trailingCount == 0 {
		trailingCount = 1
	}
	if trailingCount > n {
		trailingCount = n
	}
	leadingCount := n - trailingCount

	for i := 0; i < n; i++ {
		if i < leadingCount {
			if leadingCount == 0 {
				continue
			}
			weights[i] = (1 - w) / float64(leadingCount)
		} else {
			weights[i] = w / float64(trailingCount)
		}
	}
	var total float64
	for _, x := range weights {
		total += x
	}
	if total == 0 {
		for i := range weights {
			weights[i] = 1
		}
		return weights
	}
	scale := float64(n) / total
	for i := range weights {
		weights[i] *= scale
	}
	return weights
}

func directionOf(value, lower, upper float64) model.Direction {
	if value > upper {
		return model.DirectionAbove
	}
	if value < lower {
		return model.DirectionBelow
	}
	return model.DirectionNone
}

// Fingerprint computes the detector_hash spec.md §4.5.5 defines:
// class_name + "|" + JSON(sorted non-default params). Only params that
// differ from defaults are included, so two differently-constructed
// detectors with the same effective configuration hash identically, and
// changing a non-default parameter yields a distinct stream of rows.
func Fingerprint(className string, params, defaults map[string]any) string {
	nonDefault := map[string]any{}
	for k, v := range params {
		if dv, ok := defaults[k]; !ok || !equalParam(v, dv) {
			nonDefault[k] = v
		}
	}

	keys := make([]string, 0, len(nonDefault))
	for k := range nonDefault {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// encoding/json already renders map keys in sorted order, but we
	// build the ordering explicitly since that's part of the contract,
	// not an accident of the standard library's map marshaling.
	ordered := make(map[string]any, len(keys))
	for _, k := range keys {
		ordered[k] = nonDefault[k]
	}
	b, _ := json.Marshal(ordered)

	return className + "|" + string(b)
}

func equalParam(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	ab, abOk := json.Marshal(a)
	bb, bbOk := json.Marshal(b)
	return abOk == nil && bbOk == nil && string(ab) == string(bb)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}
