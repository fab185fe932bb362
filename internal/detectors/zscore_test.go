package detectors

import "testing"

func TestZScoreDetectsSpike(t *testing.T) {
	d := NewZScore(ZScoreConfig{Threshold: 3, WindowSize: 20, MinSamples: 10})
	values := constVals(10, 24)
	spike := 100.0
	values = append(values, &spike)

	results := d.Detect(values, nil, 0)
	last := len(results) - 1
	if !results[last].IsAnomaly {
		t.Fatalf("spike not detected as anomaly")
	}
	if results[last].Direction != "above" {
		t.Errorf("direction = %q, want above", results[last].Direction)
	}
}

func TestZScoreValidateMinSamples(t *testing.T) {
	cfg := ZScoreConfig{Threshold: 3, WindowSize: 10, MinSamples: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() = nil, want error for min_samples < 2")
	}
}

func TestZScoreHashStableUnderDefaults(t *testing.T) {
	a := NewZScore(ZScoreConfig{Threshold: 3.0, WindowSize: 100, MinSamples: 30})
	b := NewZScore(ZScoreConfig{})
	if a.Hash() != b.Hash() {
		t.Errorf("hashes differ for equivalent effective config")
	}
}
