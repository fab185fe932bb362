package detectors

import (
	"fmt"

	"github.com/alexeiveselov92/detectkit/internal/model"
	"github.com/alexeiveselov92/detectkit/internal/preprocess"
	"github.com/alexeiveselov92/detectkit/internal/seasonality"
)

var madDefaults = map[string]any{
	"threshold":   3.0,
	"window_size": 100.0,
	"min_samples": 30.0,
}

// MADConfig configures a median-absolute-deviation detector (§4.5.1).
type MADConfig struct {
	Threshold              float64
	WindowSize             int
	MinSamples             int
	RecentWeight           float64
	SeasonalityComponents  []seasonality.Component
	MinSamplesPerGroup     int
}

// WithDefaults fills the zero value with the original detectkit's MAD
// defaults: threshold=3.0, window_size=100, min_samples=30.
func (c MADConfig) WithDefaults() MADConfig {
	if c.Threshold == 0 {
		c.Threshold = 3.0
	}
	if c.WindowSize == 0 {
		c.WindowSize = 100
	}
	if c.MinSamples == 0 {
		c.MinSamples = 30
	}
	if c.MinSamplesPerGroup == 0 {
		c.MinSamplesPerGroup = 1
	}
	return c
}

func (c MADConfig) params() map[string]any {
	return map[string]any{
		"threshold":   c.Threshold,
		"window_size": float64(c.WindowSize),
		"min_samples": float64(c.MinSamples),
	}
}

func (c MADConfig) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("mad: threshold must be positive, got %v", c.Threshold)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("mad: window_size must be at least 1")
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("mad: min_samples must be at least 1")
	}
	if c.MinSamples > c.WindowSize {
		return fmt.Errorf("mad: min_samples cannot exceed window_size")
	}
	return nil
}

// MAD is the median-absolute-deviation detector.
type MAD struct {
	cfg MADConfig
}

func NewMAD(cfg MADConfig) *MAD {
	return &MAD{cfg: cfg.WithDefaults()}
}

func (d *MAD) Hash() string {
	return Fingerprint("MADDetector", d.cfg.params(), madDefaults)
}

func (d *MAD) WindowSize() int {
	return d.cfg.WindowSize
}

func (d *MAD) Detect(values []*float64, seasonalityRows []map[string]any, startIndex int) []Result {
	out := make([]Result, 0, len(values)-startIndex)
	for i := startIndex; i < len(values); i++ {
		idxs := historyIndices(i, d.cfg.WindowSize)
		if countFinite(values, idxs) < d.cfg.MinSamples {
			out = append(out, insufficientData())
			continue
		}
		if values[i] == nil {
			out = append(out, missingData())
			continue
		}

		data, weights, rows := weightedSample(values, seasonalityRows, idxs, d.cfg.RecentWeight)

		var currentRow map[string]any
		if seasonalityRows != nil {
			currentRow = seasonalityRows[i]
		}

		adj := seasonality.Adjust(data, weights, rows, currentRow, d.cfg.SeasonalityComponents, d.cfg.MinSamplesPerGroup, weightedMedian, weightedMAD)

		center := adj.AdjustedCenter
		scale := adj.AdjustedScale
		if scale == 0 {
			scale = epsilon
		}

		lower := center - d.cfg.Threshold*scale
		upper := center + d.cfg.Threshold*scale
		value := *values[i]
		dir := directionOf(value, lower, upper)

		meta := adj.Metadata()
		meta["global_median"] = adj.GlobalCenter
		meta["global_mad"] = adj.GlobalScale
		meta["adjusted_median"] = adj.AdjustedCenter
		meta["adjusted_mad"] = adj.AdjustedScale
		meta["window_size"] = d.cfg.WindowSize

		out = append(out, Result{
			IsAnomaly:       dir != model.DirectionNone,
			ConfidenceLower: ptr(lower),
			ConfidenceUpper: ptr(upper),
			Direction:       dir,
			Severity:        abs(value-center) / scale,
			Metadata:        meta,
			Reason:          model.ReasonNone,
		})
	}
	return out
}

func weightedMedian(data, weights []float64) float64 {
	return preprocess.WeightedMedian(data, weights)
}

func weightedMAD(data, weights []float64) float64 {
	return preprocess.WeightedMAD(data, weights, nil)
}

func ptr(v float64) *float64 { return &v }

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
