// Package seasonality implements the seasonality-group adaptive
// confidence interval adjustment described in spec.md §4.6. It is used
// by the statistical detectors (MAD, Z-Score, IQR) when a metric declares
// one or more seasonality components.
package seasonality

import "fmt"

const epsilon = 1e-10

// Component is a single seasonality grouping key: one column name, or
// several for an interaction group (e.g. ["day_of_week", "hour"]).
type Component []string

func (c Component) String() string {
	out := ""
	for i, col := range c {
		if i > 0 {
			out += "+"
		}
		out += col
	}
	return out
}

// StatFunc computes a center-or-scale statistic over a weighted sample,
// letting each detector plug in its own statistic family (median/MAD for
// MAD, mean/stddev for Z-Score, …) per spec.md §4.6 step 2.
type StatFunc func(data, weights []float64) float64

// GroupInfo is one component's contribution to the adjustment, recorded
// for detection metadata (§4.6 step 4).
type GroupInfo struct {
	Component string  `json:"component"`
	GroupKey  string  `json:"group_key"`
	Size      int     `json:"size"`
	Center    float64 `json:"center"`
	Scale     float64 `json:"scale"`
	MuCenter  float64 `json:"mu_center"`
	MuScale   float64 `json:"mu_scale"`
}

// Result is the outcome of Adjust: the global and adjusted statistics
// plus the per-component group detail.
type Result struct {
	GlobalCenter   float64
	GlobalScale    float64
	AdjustedCenter float64
	AdjustedScale  float64
	Groups         []GroupInfo
}

// Metadata renders Result into the detection-metadata shape §4.6 step 4
// calls for: global_*, adjusted_*, seasonality_groups[].
func (r Result) Metadata() map[string]any {
	groups := make([]map[string]any, len(r.Groups))
	for i, g := range r.Groups {
		groups[i] = map[string]any{
			"component": g.Component,
			"group_key": g.GroupKey,
			"size":      g.Size,
			"center":    g.Center,
			"scale":     g.Scale,
			"mu_center": g.MuCenter,
			"mu_scale":  g.MuScale,
		}
	}
	return map[string]any{
		"global_center":     r.GlobalCenter,
		"global_scale":      r.GlobalScale,
		"adjusted_center":   r.AdjustedCenter,
		"adjusted_scale":    r.AdjustedScale,
		"seasonality_groups": groups,
	}
}

// Adjust computes the global statistics over the whole window, then for
// each component derives a group-specific multiplier and folds it into
// the adjusted center/scale, per spec.md §4.6.
//
// rows[i] carries the seasonality column values for data[i]/weights[i];
// currentRow carries the seasonality column values of the position being
// scored — it selects which group's statistics apply, even though the
// position itself contributes no window sample.
func Adjust(data, weights []float64, rows []map[string]any, currentRow map[string]any, components []Component, minSamplesPerGroup int, center, scale StatFunc) Result {
	globalCenter := center(data, weights)
	globalScale := scale(data, weights)

	res := Result{
		GlobalCenter:   globalCenter,
		GlobalScale:    globalScale,
		AdjustedCenter: globalCenter,
		AdjustedScale:  globalScale,
	}

	if len(components) == 0 || currentRow == nil {
		return res
	}

	for _, comp := range components {
		currentKey := groupKey(currentRow, comp)

		var groupData, groupWeights []float64
		for i, row := range rows {
			if groupKey(row, comp) == currentKey {
				groupData = append(groupData, data[i])
				groupWeights = append(groupWeights, weights[i])
			}
		}
		if len(groupData) < minSamplesPerGroup {
			continue
		}

		groupCenter := center(groupData, groupWeights)
		groupScale := scale(groupData, groupWeights)

		muCenter := safeDiv(groupCenter, globalCenter)
		muScale := safeDiv(groupScale, globalScale)

		res.AdjustedCenter *= muCenter
		res.AdjustedScale *= muScale

		res.Groups = append(res.Groups, GroupInfo{
			Component: comp.String(),
			GroupKey:  currentKey,
			Size:      len(groupData),
			Center:    groupCenter,
			Scale:     groupScale,
			MuCenter:  muCenter,
			MuScale:   muScale,
		})
	}

	return res
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		if a == 0 {
			return 1
		}
		b = epsilon
	}
	return a / b
}

// groupKey builds the composite grouping key for one row across a
// component's columns, in declared column order.
func groupKey(row map[string]any, comp Component) string {
	key := ""
	for i, col := range comp {
		if i > 0 {
			key += "|"
		}
		key += fmt.Sprintf("%v", row[col])
	}
	return key
}
