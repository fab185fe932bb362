package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alexeiveselov92/detectkit/internal/alert"
	"github.com/alexeiveselov92/detectkit/internal/config"
	"github.com/alexeiveselov92/detectkit/internal/dbadapter"
	"github.com/alexeiveselov92/detectkit/internal/loader"
	"github.com/alexeiveselov92/detectkit/internal/model"
	"github.com/alexeiveselov92/detectkit/internal/runner"
	"github.com/alexeiveselov92/detectkit/internal/store"
)

type fakeSource struct {
	rows []dbadapter.Row
	err  error
}

func (f *fakeSource) Execute(ctx context.Context, query string, params []any) ([]dbadapter.Row, error) {
	return f.rows, f.err
}

func newTestPipeline(t *testing.T, src loader.QueryRunner) *Pipeline {
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
	ld := loader.New(src, st)
	rn := runner.New(st)
	ev := alert.New(st)
	return New(st, ld, rn, ev, nil)
}

func manualBoundsMetric(name string) config.MetricConfig {
	return config.MetricConfig{
		Name:             name,
		Query:            "SELECT 1",
		Interval:         "1min",
		LoadingStartTime: "2026-01-01 00:00:00",
		Detectors: []config.DetectorConfig{
			{Type: config.DetectorManualBounds, Params: map[string]any{
				"lower_bound": 0.0,
				"upper_bound": 10.0,
			}},
		},
	}.WithDefaults()
}

func rowsAt(start time.Time, values []float64) []dbadapter.Row {
	rows := make([]dbadapter.Row, len(values))
	for i, v := range values {
		rows[i] = dbadapter.Row{
			"timestamp": start.Add(time.Duration(i) * time.Minute).Format("2006-01-02 15:04:05"),
			"value":     v,
		}
	}
	return rows
}

func TestRunLoadDetectAlertEndToEnd(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{rows: rowsAt(start, []float64{1, 2, 3, 100, 4, 5})}
	p := newTestPipeline(t, src)
	cfg := manualBoundsMetric("reqs")

	res := p.Run(context.Background(), cfg, Options{To: start.Add(6 * time.Minute)})
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	if res.Status != model.TaskSuccess {
		t.Fatalf("Run status = %v, want success", res.Status)
	}
	if res.DatapointsLoaded != 6 {
		t.Errorf("DatapointsLoaded = %d, want 6", res.DatapointsLoaded)
	}
	if res.AnomaliesFound != 1 {
		t.Errorf("AnomaliesFound = %d, want 1", res.AnomaliesFound)
	}
}

// A caller that omits To (the common `run --select foo` invocation
// with no explicit --to) must still load through "now", not load zero
// rows and report success.
func TestRunDefaultsToWhenUnset(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{rows: rowsAt(start, []float64{1, 2, 3})}
	p := newTestPipeline(t, src)
	p.now = func() time.Time { return start.Add(3 * time.Minute) }
	cfg := manualBoundsMetric("reqs")

	res := p.Run(context.Background(), cfg, Options{})
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	if res.DatapointsLoaded == 0 {
		t.Fatalf("DatapointsLoaded = 0, want Options.To to default to now and load the pending rows")
	}
}

func TestRunLockContentionFailsWithoutAlteringLock(t *testing.T) {
	src := &fakeSource{}
	p := newTestPipeline(t, src)
	cfg := manualBoundsMetric("reqs")

	held := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ok, err := p.store.AcquireLock(context.Background(), cfg.Name, held, time.Hour)
	if err != nil || !ok {
		t.Fatalf("seed AcquireLock: ok=%v err=%v", ok, err)
	}

	p.now = func() time.Time { return held.Add(time.Minute) }
	res := p.Run(context.Background(), cfg, Options{})
	if res.Err == nil {
		t.Fatalf("Run = nil error, want lock contention error")
	}
	var pe *Error
	if !errors.As(res.Err, &pe) || pe.Kind != KindLockContention {
		t.Errorf("Run error = %v, want KindLockContention", res.Err)
	}
}

func TestRunForceBypassesLock(t *testing.T) {
	src := &fakeSource{}
	p := newTestPipeline(t, src)
	cfg := manualBoundsMetric("reqs")

	held := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ok, err := p.store.AcquireLock(context.Background(), cfg.Name, held, time.Hour)
	if err != nil || !ok {
		t.Fatalf("seed AcquireLock: ok=%v err=%v", ok, err)
	}

	res := p.Run(context.Background(), cfg, Options{Force: true})
	if res.Err != nil {
		t.Fatalf("Run (force): %v", res.Err)
	}
	if res.Status != model.TaskSuccess {
		t.Errorf("Run (force) status = %v, want success", res.Status)
	}
}

func TestRunAbortsDetectWhenLoadFails(t *testing.T) {
	src := &fakeSource{err: errors.New("source unavailable")}
	p := newTestPipeline(t, src)
	cfg := manualBoundsMetric("reqs")

	res := p.Run(context.Background(), cfg, Options{To: time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)})
	if res.Err == nil {
		t.Fatalf("Run = nil error, want load failure")
	}
	if res.Status != model.TaskFailed {
		t.Errorf("Run status = %v, want failed", res.Status)
	}
	if len(res.StepsRun) != 1 || res.StepsRun[0] != StepLoad {
		t.Errorf("StepsRun = %v, want [load] only", res.StepsRun)
	}
}

func TestRunOnlySelectedStepsExecute(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{rows: rowsAt(start, []float64{1, 2, 3})}
	p := newTestPipeline(t, src)
	cfg := manualBoundsMetric("reqs")

	res := p.Run(context.Background(), cfg, Options{Steps: []Step{StepLoad}, To: start.Add(3 * time.Minute)})
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	if len(res.StepsRun) != 1 || res.StepsRun[0] != StepLoad {
		t.Errorf("StepsRun = %v, want [load] only", res.StepsRun)
	}
	if res.AnomaliesFound != 0 {
		t.Errorf("AnomaliesFound = %d, want 0 when detect was not selected", res.AnomaliesFound)
	}
}
