package detectors

import (
	"fmt"

	"github.com/alexeiveselov92/detectkit/internal/model"
	"github.com/alexeiveselov92/detectkit/internal/preprocess"
	"github.com/alexeiveselov92/detectkit/internal/seasonality"
)

var iqrDefaults = map[string]any{
	"threshold":   1.5,
	"window_size": 100.0,
	"min_samples": 30.0,
}

// IQRConfig configures an interquartile-range detector (§4.5.3). The
// seasonality adjustment's "statistic family" for IQR is the box
// midpoint (q1+q3)/2 as center and the interquartile range itself as
// scale, so the adjusted bounds stay centered on the box rather than the
// median used by MAD.
type IQRConfig struct {
	Threshold             float64
	WindowSize            int
	MinSamples            int
	RecentWeight          float64
	SeasonalityComponents []seasonality.Component
	MinSamplesPerGroup    int
}

func (c IQRConfig) WithDefaults() IQRConfig {
	if c.Threshold == 0 {
		c.Threshold = 1.5
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

func (c IQRConfig) params() map[string]any {
	return map[string]any{
		"threshold":   c.Threshold,
		"window_size": float64(c.WindowSize),
		"min_samples": float64(c.MinSamples),
	}
}

func (c IQRConfig) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("iqr: threshold must be positive, got %v", c.Threshold)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("iqr: window_size must be at least 1")
	}
	if c.MinSamples < 4 {
		return fmt.Errorf("iqr: min_samples must be at least 4 (quartiles need >=4 points)")
	}
	if c.MinSamples > c.WindowSize {
		return fmt.Errorf("iqr: min_samples cannot exceed window_size")
	}
	return nil
}

// IQR is the interquartile-range detector.
type IQR struct {
	cfg IQRConfig
}

func NewIQR(cfg IQRConfig) *IQR {
	return &IQR{cfg: cfg.WithDefaults()}
}

func (d *IQR) Hash() string {
	return Fingerprint("IQRDetector", d.cfg.params(), iqrDefaults)
}

func (d *IQR) WindowSize() int {
	return d.cfg.WindowSize
}

func boxMidpoint(data, weights []float64) float64 {
	q1 := preprocess.WeightedPercentile(data, weights, 25)
	q3 := preprocess.WeightedPercentile(data, weights, 75)
	return (q1 + q3) / 2
}

func interquartileRange(data, weights []float64) float64 {
	q1 := preprocess.WeightedPercentile(data, weights, 25)
	q3 := preprocess.WeightedPercentile(data, weights, 75)
	return q3 - q1
}

func (d *IQR) Detect(values []*float64, seasonalityRows []map[string]any, startIndex int) []Result {
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

		adj := seasonality.Adjust(data, weights, rows, currentRow, d.cfg.SeasonalityComponents, d.cfg.MinSamplesPerGroup, boxMidpoint, interquartileRange)

		center := adj.AdjustedCenter
		iqr := adj.AdjustedScale
		if iqr == 0 {
			iqr = epsilon
		}

		lower := center - iqr/2 - d.cfg.Threshold*iqr
		upper := center + iqr/2 + d.cfg.Threshold*iqr
		value := *values[i]
		dir := directionOf(value, lower, upper)

		var distancePastBound float64
		switch dir {
		case model.DirectionAbove:
			distancePastBound = value - upper
		case model.DirectionBelow:
			distancePastBound = lower - value
		}

		meta := adj.Metadata()
		meta["global_midpoint"] = adj.GlobalCenter
		meta["global_iqr"] = adj.GlobalScale
		meta["adjusted_midpoint"] = adj.AdjustedCenter
		meta["adjusted_iqr"] = adj.AdjustedScale
		meta["window_size"] = d.cfg.WindowSize

		out = append(out, Result{
			IsAnomaly:       dir != model.DirectionNone,
			ConfidenceLower: ptr(lower),
			ConfidenceUpper: ptr(upper),
			Direction:       dir,
			Severity:        distancePastBound / iqr,
			Metadata:        meta,
			Reason:          model.ReasonNone,
		})
	}
	return out
}
