package detectors

import (
	"fmt"

	"github.com/alexeiveselov92/detectkit/internal/model"
)

// ManualBoundsConfig configures a fixed-bounds detector (§4.5.4). No
// window, warm-up, or preprocessing recent-weight applies — every finite
// value is compared directly against the configured bounds.
type ManualBoundsConfig struct {
	LowerBound *float64
	UpperBound *float64
}

func (c ManualBoundsConfig) params() map[string]any {
	p := map[string]any{}
	if c.LowerBound != nil {
		p["lower_bound"] = *c.LowerBound
	}
	if c.UpperBound != nil {
		p["upper_bound"] = *c.UpperBound
	}
	return p
}

func (c ManualBoundsConfig) Validate() error {
	if c.LowerBound == nil && c.UpperBound == nil {
		return fmt.Errorf("manual_bounds: at least one of lower_bound/upper_bound is required")
	}
	if c.LowerBound != nil && c.UpperBound != nil && *c.LowerBound >= *c.UpperBound {
		return fmt.Errorf("manual_bounds: lower_bound must be < upper_bound")
	}
	return nil
}

// manualBoundsDefaults is empty: every manual_bounds parameter is
// significant, so the detector_hash always includes whichever bounds
// were configured.
var manualBoundsDefaults = map[string]any{}

// ManualBounds is the fixed-bounds detector.
type ManualBounds struct {
	cfg ManualBoundsConfig
}

func NewManualBounds(cfg ManualBoundsConfig) *ManualBounds {
	return &ManualBounds{cfg: cfg}
}

func (d *ManualBounds) Hash() string {
	return Fingerprint("ManualBoundsDetector", d.cfg.params(), manualBoundsDefaults)
}

func (d *ManualBounds) Detect(values []*float64, seasonalityRows []map[string]any, startIndex int) []Result {
	out := make([]Result, 0, len(values)-startIndex)
	for i := startIndex; i < len(values); i++ {
		if values[i] == nil {
			out = append(out, missingData())
			continue
		}
		value := *values[i]

		below := d.cfg.LowerBound != nil && value < *d.cfg.LowerBound
		above := d.cfg.UpperBound != nil && value > *d.cfg.UpperBound

		dir := model.DirectionNone
		var distance float64
		switch {
		case above:
			dir = model.DirectionAbove
			distance = value - *d.cfg.UpperBound
		case below:
			dir = model.DirectionBelow
			distance = *d.cfg.LowerBound - value
		}

		var severity float64
		if dir != model.DirectionNone {
			if d.cfg.LowerBound != nil && d.cfg.UpperBound != nil {
				span := *d.cfg.UpperBound - *d.cfg.LowerBound
				if span == 0 {
					span = epsilon
				}
				severity = distance / span
			} else {
				severity = distance
			}
		}

		out = append(out, Result{
			IsAnomaly:       dir != model.DirectionNone,
			ConfidenceLower: d.cfg.LowerBound,
			ConfidenceUpper: d.cfg.UpperBound,
			Direction:       dir,
			Severity:        severity,
			Metadata: map[string]any{
				"lower_bound": boundOrNil(d.cfg.LowerBound),
				"upper_bound": boundOrNil(d.cfg.UpperBound),
			},
			Reason: model.ReasonNone,
		})
	}
	return out
}

func boundOrNil(b *float64) any {
	if b == nil {
		return nil
	}
	return *b
}
