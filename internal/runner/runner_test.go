package runner

import (
	"context"
	"testing"
	"time"

	"github.com/alexeiveselov92/detectkit/internal/config"
	"github.com/alexeiveselov92/detectkit/internal/dbadapter"
	"github.com/alexeiveselov92/detectkit/internal/model"
	"github.com/alexeiveselov92/detectkit/internal/store"
)

func newTestRunner(t *testing.T) (*Runner, *store.Store) {
	t.Helper()
	db, err := dbadapter.OpenDuckDB("")
	if err != nil {
		t.Fatalf("OpenDuckDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(db)
	if err := st.EnsureTables(context.Background()); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	return New(st), st
}

func seedDatapoints(t *testing.T, st *store.Store, metric string, start time.Time, values []float64) {
	t.Helper()
	rows := make([]model.Datapoint, len(values))
	now := time.Now().UTC()
	for i, v := range values {
		rows[i] = model.Datapoint{
			MetricName: metric,
			Timestamp:  start.Add(time.Duration(i) * time.Minute),
			Value:      &values[i],
			CreatedAt:  now,
		}
		_ = v
	}
	if err := st.UpsertDatapoints(context.Background(), rows); err != nil {
		t.Fatalf("seed UpsertDatapoints: %v", err)
	}
}

func manualBoundsConfig(metric string) config.MetricConfig {
	return config.MetricConfig{
		Name:     metric,
		Query:    "SELECT 1",
		Interval: "1min",
		Detectors: []config.DetectorConfig{
			{Type: config.DetectorManualBounds, Params: map[string]any{
				"lower_bound": 0.0,
				"upper_bound": 10.0,
			}},
		},
	}.WithDefaults()
}

func TestDetectFlagsOutOfBoundsValues(t *testing.T) {
	r, st := newTestRunner(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedDatapoints(t, st, "reqs", start, []float64{1, 2, 3, 100, 4, 5})

	n, err := r.Detect(context.Background(), manualBoundsConfig("reqs"), false)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if n != 1 {
		t.Fatalf("Detect anomalies = %d, want 1 (the 100 spike)", n)
	}
}

func TestDetectIsIdempotent(t *testing.T) {
	r, _ := newTestRunner(t)
	st := r.store
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedDatapoints(t, st, "reqs", start, []float64{1, 2, 3, 100, 4, 5})
	cfg := manualBoundsConfig("reqs")

	if _, err := r.Detect(context.Background(), cfg, false); err != nil {
		t.Fatalf("Detect (first): %v", err)
	}
	n, err := r.Detect(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("Detect (second): %v", err)
	}
	if n != 0 {
		t.Errorf("Detect (second run) anomalies = %d, want 0 (nothing new to evaluate)", n)
	}

	all, err := st.LoadRange(context.Background(), "reqs", start, start.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("LoadRange: %v", err)
	}
	if len(all) == 0 {
		t.Fatalf("expected datapoints to remain loaded")
	}
}

func TestDetectFullRefreshRecomputes(t *testing.T) {
	r, st := newTestRunner(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedDatapoints(t, st, "reqs", start, []float64{1, 2, 3, 100, 4, 5})
	cfg := manualBoundsConfig("reqs")

	if _, err := r.Detect(context.Background(), cfg, false); err != nil {
		t.Fatalf("Detect (first): %v", err)
	}
	n, err := r.Detect(context.Background(), cfg, true)
	if err != nil {
		t.Fatalf("Detect (full_refresh): %v", err)
	}
	if n != 1 {
		t.Errorf("Detect (full_refresh) anomalies = %d, want 1", n)
	}
}

func TestDetectNoDatapointsIsNoop(t *testing.T) {
	r, _ := newTestRunner(t)
	n, err := r.Detect(context.Background(), manualBoundsConfig("ghost"), false)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if n != 0 {
		t.Errorf("Detect on metric with no datapoints = %d, want 0", n)
	}
}
