package detectors

import (
	"fmt"
	"math"

	"github.com/alexeiveselov92/detectkit/internal/model"
	"github.com/alexeiveselov92/detectkit/internal/preprocess"
	"github.com/alexeiveselov92/detectkit/internal/seasonality"
)

var zscoreDefaults = map[string]any{
	"threshold":   3.0,
	"window_size": 100.0,
	"min_samples": 30.0,
}

// ZScoreConfig configures a mean/standard-deviation detector (§4.5.2).
type ZScoreConfig struct {
	Threshold             float64
	WindowSize            int
	MinSamples            int
	RecentWeight          float64
	SeasonalityComponents []seasonality.Component
	MinSamplesPerGroup    int
}

func (c ZScoreConfig) WithDefaults() ZScoreConfig {
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

func (c ZScoreConfig) params() map[string]any {
	return map[string]any{
		"threshold":   c.Threshold,
		"window_size": float64(c.WindowSize),
		"min_samples": float64(c.MinSamples),
	}
}

func (c ZScoreConfig) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("zscore: threshold must be positive, got %v", c.Threshold)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("zscore: window_size must be at least 1")
	}
	if c.MinSamples < 2 {
		return fmt.Errorf("zscore: min_samples must be at least 2 (stddev needs >=2 points)")
	}
	if c.MinSamples > c.WindowSize {
		return fmt.Errorf("zscore: min_samples cannot exceed window_size")
	}
	return nil
}

// ZScore is the mean/standard-deviation detector.
type ZScore struct {
	cfg ZScoreConfig
}

func NewZScore(cfg ZScoreConfig) *ZScore {
	return &ZScore{cfg: cfg.WithDefaults()}
}

func (d *ZScore) Hash() string {
	return Fingerprint("ZScoreDetector", d.cfg.params(), zscoreDefaults)
}

func (d *ZScore) WindowSize() int {
	return d.cfg.WindowSize
}

func (d *ZScore) Detect(values []*float64, seasonalityRows []map[string]any, startIndex int) []Result {
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

		adj := seasonality.Adjust(data, weights, rows, currentRow, d.cfg.SeasonalityComponents, d.cfg.MinSamplesPerGroup, weightedMean, weightedStdDevUnbiased)

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
		meta["global_mean"] = adj.GlobalCenter
		meta["global_stddev"] = adj.GlobalScale
		meta["adjusted_mean"] = adj.AdjustedCenter
		meta["adjusted_stddev"] = adj.AdjustedScale
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

func weightedMean(data, weights []float64) float64 {
	return preprocess.WeightedMean(data, weights)
}

// weightedStdDevUnbiased applies Bessel's correction (n/(n-1)) to the
// weighted population variance preprocess.WeightedStdDev computes, to
// match the unbiased sample standard deviation §4.5.2 calls for.
func weightedStdDevUnbiased(data, weights []float64) float64 {
	n := len(data)
	if n < 2 {
		return 0
	}
	pop := preprocess.WeightedStdDev(data, weights)
	factor := float64(n) / float64(n-1)
	return pop * math.Sqrt(factor)
}
