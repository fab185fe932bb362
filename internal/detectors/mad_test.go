package detectors

import "testing"

func constVals(v float64, n int) []*float64 {
	out := make([]*float64, n)
	for i := range out {
		x := v
		out[i] = &x
	}
	return out
}

func TestMADInsufficientData(t *testing.T) {
	d := NewMAD(MADConfig{Threshold: 3, WindowSize: 10, MinSamples: 5})
	values := constVals(10, 20)
	results := d.Detect(values, nil, 0)
	for i := 0; i < 5; i++ {
		if results[i].Reason != "insufficient_data" {
			t.Errorf("index %d reason = %q, want insufficient_data", i, results[i].Reason)
		}
	}
	for i := 5; i < 20; i++ {
		if results[i].IsAnomaly {
			t.Errorf("index %d = anomaly, want not anomaly (all constant)", i)
		}
	}
}

func TestMADDetectsSpike(t *testing.T) {
	d := NewMAD(MADConfig{Threshold: 3, WindowSize: 10, MinSamples: 5})
	values := constVals(10, 14)
	spike := 50.0
	values = append(values, &spike)
	more := constVals(10, 1)
	values = append(values, more...)

	results := d.Detect(values, nil, 0)
	last := len(results) - 2 // index of the spike
	if !results[last].IsAnomaly {
		t.Fatalf("spike at index %d not detected as anomaly", last)
	}
	if results[last].Direction != "above" {
		t.Errorf("direction = %q, want above", results[last].Direction)
	}
}

func TestMADMissingData(t *testing.T) {
	d := NewMAD(MADConfig{Threshold: 3, WindowSize: 10, MinSamples: 5})
	values := constVals(10, 10)
	values = append(values, nil)
	values = append(values, constVals(10, 2)...)

	results := d.Detect(values, nil, 0)
	if results[10].Reason != "missing_data" {
		t.Errorf("reason = %q, want missing_data", results[10].Reason)
	}
	if results[10].IsAnomaly {
		t.Errorf("missing value must not be flagged as anomaly")
	}
}

func TestMADHashStableUnderDefaults(t *testing.T) {
	a := NewMAD(MADConfig{Threshold: 3.0, WindowSize: 100, MinSamples: 30})
	b := NewMAD(MADConfig{})
	if a.Hash() != b.Hash() {
		t.Errorf("hashes differ for equivalent effective config: %q vs %q", a.Hash(), b.Hash())
	}
}

func TestMADHashChangesWithNonDefaultParam(t *testing.T) {
	a := NewMAD(MADConfig{Threshold: 3.0})
	b := NewMAD(MADConfig{Threshold: 2.5})
	if a.Hash() == b.Hash() {
		t.Errorf("hashes should differ when threshold is non-default")
	}
}
