package detectors

import (
	"fmt"

	"github.com/alexeiveselov92/detectkit/internal/config"
	"github.com/alexeiveselov92/detectkit/internal/preprocess"
	"github.com/alexeiveselov92/detectkit/internal/seasonality"
)

// Build turns a declared detector entry into a concrete Detector plus the
// preprocessing configuration the runner (C7) must apply to the raw
// window before handing it to Detect.
func Build(dc config.DetectorConfig) (Detector, preprocess.Config, error) {
	p := dc.Params
	if p == nil {
		p = map[string]any{}
	}

	pre := preprocess.Config{
		InputType:       preprocess.InputType(getString(p, "input_type", string(preprocess.InputRaw))),
		SmoothingWindow: getInt(p, "smoothing_window", 1),
	}.WithDefaults()
	if err := pre.Validate(); err != nil {
		return nil, preprocess.Config{}, err
	}

	recentWeight := getFloat(p, "recent_weight", 0)
	components, err := buildComponents(p)
	if err != nil {
		return nil, preprocess.Config{}, err
	}
	minSamplesPerGroup := getInt(p, "min_samples_per_group", 1)

	switch dc.Type {
	case config.DetectorMAD:
		cfg := MADConfig{
			Threshold:             getFloat(p, "threshold", 0),
			WindowSize:            getInt(p, "window_size", 0),
			MinSamples:            getInt(p, "min_samples", 0),
			RecentWeight:          recentWeight,
			SeasonalityComponents: components,
			MinSamplesPerGroup:    minSamplesPerGroup,
		}.WithDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, preprocess.Config{}, err
		}
		return NewMAD(cfg), pre, nil

	case config.DetectorZScore:
		cfg := ZScoreConfig{
			Threshold:             getFloat(p, "threshold", 0),
			WindowSize:            getInt(p, "window_size", 0),
			MinSamples:            getInt(p, "min_samples", 0),
			RecentWeight:          recentWeight,
			SeasonalityComponents: components,
			MinSamplesPerGroup:    minSamplesPerGroup,
		}.WithDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, preprocess.Config{}, err
		}
		return NewZScore(cfg), pre, nil

	case config.DetectorIQR:
		cfg := IQRConfig{
			Threshold:             getFloat(p, "threshold", 0),
			WindowSize:            getInt(p, "window_size", 0),
			MinSamples:            getInt(p, "min_samples", 0),
			RecentWeight:          recentWeight,
			SeasonalityComponents: components,
			MinSamplesPerGroup:    minSamplesPerGroup,
		}.WithDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, preprocess.Config{}, err
		}
		return NewIQR(cfg), pre, nil

	case config.DetectorManualBounds:
		cfg := ManualBoundsConfig{
			LowerBound: optionalFloat(p, "lower_bound"),
			UpperBound: optionalFloat(p, "upper_bound"),
		}
		if err := cfg.Validate(); err != nil {
			return nil, preprocess.Config{}, err
		}
		return NewManualBounds(cfg), preprocess.Config{InputType: preprocess.InputRaw, SmoothingWindow: 1}, nil

	default:
		return nil, preprocess.Config{}, fmt.Errorf("detectors: unsupported detector type %q", dc.Type)
	}
}

func buildComponents(p map[string]any) ([]seasonality.Component, error) {
	raw, ok := p["seasonality_components"]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("detectors: seasonality_components must be a list")
	}
	out := make([]seasonality.Component, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, seasonality.Component{v})
		case []any:
			comp := make(seasonality.Component, 0, len(v))
			for _, col := range v {
				s, ok := col.(string)
				if !ok {
					return nil, fmt.Errorf("detectors: seasonality_components entries must be strings")
				}
				comp = append(comp, s)
			}
			out = append(out, comp)
		default:
			return nil, fmt.Errorf("detectors: seasonality_components entry must be a string or list of strings")
		}
	}
	return out, nil
}

func getFloat(p map[string]any, key string, def float64) float64 {
	v, ok := p[key]
	if !ok {
		return def
	}
	f, ok := toFloat(v)
	if !ok {
		return def
	}
	return f
}

func getInt(p map[string]any, key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	f, ok := toFloat(v)
	if !ok {
		return def
	}
	return int(f)
}

func getString(p map[string]any, key, def string) string {
	v, ok := p[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

func optionalFloat(p map[string]any, key string) *float64 {
	v, ok := p[key]
	if !ok {
		return nil
	}
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	return &f
}
