package alert

import (
	"context"
	"testing"
	"time"

	"github.com/alexeiveselov92/detectkit/internal/config"
	"github.com/alexeiveselov92/detectkit/internal/dbadapter"
	"github.com/alexeiveselov92/detectkit/internal/model"
	"github.com/alexeiveselov92/detectkit/internal/store"
)

func newTestEvaluator(t *testing.T) (*Evaluator, *store.Store) {
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

func f(v float64) *float64 { return &v }

func seedDetections(t *testing.T, st *store.Store, metric, hash string, createdAt time.Time, rows []model.Detection) {
	t.Helper()
	for i := range rows {
		rows[i].MetricName = metric
		rows[i].DetectorHash = hash
		rows[i].CreatedAt = createdAt
	}
	if err := st.UpsertDetections(context.Background(), rows); err != nil {
		t.Fatalf("seed UpsertDetections: %v", err)
	}
}

func alertingConfig(metric string, consecutive, minDetectors int, direction config.Direction) config.MetricConfig {
	return config.MetricConfig{
		Name:     metric,
		Query:    "SELECT 1",
		Interval: "10min",
		Alerting: &config.AlertingConfig{
			Enabled:              true,
			ConsecutiveAnomalies: consecutive,
			MinDetectors:         minDetectors,
			Direction:            direction,
		},
	}.WithDefaults()
}

func point(ts time.Time, isAnomaly bool, dir model.Direction) model.Detection {
	return model.Detection{
		Timestamp: ts,
		Value:     f(100),
		IsAnomaly: isAnomaly,
		Direction: dir,
		Severity:  3.0,
	}
}

// Mirrors scenario 3: values [10,10,10,10,100,10,100,10,100,100,100]; a
// single 100 should not alert, but the final run of three should.
func TestEvaluateConsecutiveConfirmation(t *testing.T) {
	ev, st := newTestEvaluator(t)
	runStartedAt := time.Now().Add(-time.Hour).UTC()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := alertingConfig("reqs", 3, 1, config.DirectionSame)
	hash := "MADDetector|{}"

	// Single isolated anomaly at index 4: not enough to reach 3 in a row.
	seedDetections(t, st, "reqs", hash, runStartedAt.Add(time.Minute), []model.Detection{
		point(base, false, model.DirectionNone),
		point(base.Add(10*time.Minute), false, model.DirectionNone),
		point(base.Add(20*time.Minute), false, model.DirectionNone),
		point(base.Add(30*time.Minute), false, model.DirectionNone),
		point(base.Add(40*time.Minute), true, model.DirectionAbove),
	})
	evt, err := ev.Evaluate(context.Background(), cfg, []string{hash}, runStartedAt)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if evt != nil {
		t.Fatalf("Evaluate fired on a single anomaly, want nil")
	}

	// Extend with the final three-in-a-row.
	seedDetections(t, st, "reqs", hash, runStartedAt.Add(time.Minute), []model.Detection{
		point(base.Add(50*time.Minute), false, model.DirectionNone),
		point(base.Add(60*time.Minute), true, model.DirectionAbove),
		point(base.Add(70*time.Minute), false, model.DirectionNone),
		point(base.Add(80*time.Minute), true, model.DirectionAbove),
		point(base.Add(90*time.Minute), true, model.DirectionAbove),
		point(base.Add(100*time.Minute), true, model.DirectionAbove),
	})
	evt, err = ev.Evaluate(context.Background(), cfg, []string{hash}, runStartedAt)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if evt == nil {
		t.Fatalf("Evaluate did not fire on the final three-in-a-row")
	}
	if evt.ConsecutiveCount != 3 {
		t.Errorf("ConsecutiveCount = %d, want 3", evt.ConsecutiveCount)
	}
}

// Mirrors scenario 4: alert_cooldown=30min suppresses a repeat alert
// within the window but allows one once the cooldown has elapsed.
func TestEvaluateCooldownSuppression(t *testing.T) {
	ev, st := newTestEvaluator(t)
	runStartedAt := time.Now().Add(-time.Hour).UTC()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := alertingConfig("reqs", 1, 1, config.DirectionAny)
	cfg.Alerting.AlertCooldown = "30min"
	hash := "MADDetector|{}"

	ev.now = func() time.Time { return base }
	seedDetections(t, st, "reqs", hash, runStartedAt.Add(time.Minute), []model.Detection{
		point(base, true, model.DirectionAbove),
	})
	evt, err := ev.Evaluate(context.Background(), cfg, []string{hash}, runStartedAt)
	if err != nil || evt == nil {
		t.Fatalf("Evaluate (T): evt=%v err=%v, want a fired alert", evt, err)
	}

	ev.now = func() time.Time { return base.Add(10 * time.Minute) }
	seedDetections(t, st, "reqs", hash, runStartedAt.Add(time.Minute), []model.Detection{
		point(base.Add(10*time.Minute), true, model.DirectionAbove),
	})
	evt, err = ev.Evaluate(context.Background(), cfg, []string{hash}, runStartedAt)
	if err != nil {
		t.Fatalf("Evaluate (T+10min): %v", err)
	}
	if evt != nil {
		t.Fatalf("Evaluate fired within the cooldown window")
	}

	ev.now = func() time.Time { return base.Add(40 * time.Minute) }
	seedDetections(t, st, "reqs", hash, runStartedAt.Add(time.Minute), []model.Detection{
		point(base.Add(40*time.Minute), true, model.DirectionAbove),
	})
	evt, err = ev.Evaluate(context.Background(), cfg, []string{hash}, runStartedAt)
	if err != nil {
		t.Fatalf("Evaluate (T+40min): %v", err)
	}
	if evt == nil {
		t.Fatalf("Evaluate did not fire once the cooldown elapsed")
	}
}

// Mirrors scenario 5: two detectors, min_detectors=2, direction=same.
func TestEvaluateMultiDetectorAgreement(t *testing.T) {
	ev, st := newTestEvaluator(t)
	runStartedAt := time.Now().Add(-time.Hour).UTC()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := alertingConfig("reqs", 1, 2, config.DirectionSame)
	madHash, zHash := "MADDetector|{}", "ZScoreDetector|{}"

	seedDetections(t, st, "reqs", madHash, runStartedAt.Add(time.Minute), []model.Detection{point(ts, true, model.DirectionAbove)})
	seedDetections(t, st, "reqs", zHash, runStartedAt.Add(time.Minute), []model.Detection{point(ts, false, model.DirectionNone)})
	evt, err := ev.Evaluate(context.Background(), cfg, []string{madHash, zHash}, runStartedAt)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if evt != nil {
		t.Fatalf("Evaluate fired with only one of two detectors anomalous")
	}

	ts2 := ts.Add(10 * time.Minute)
	seedDetections(t, st, "reqs", madHash, runStartedAt.Add(time.Minute), []model.Detection{point(ts2, true, model.DirectionAbove)})
	seedDetections(t, st, "reqs", zHash, runStartedAt.Add(time.Minute), []model.Detection{point(ts2, true, model.DirectionAbove)})
	evt, err = ev.Evaluate(context.Background(), cfg, []string{madHash, zHash}, runStartedAt)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if evt == nil {
		t.Fatalf("Evaluate did not fire when both detectors agreed above")
	}

	ts3 := ts2.Add(10 * time.Minute)
	seedDetections(t, st, "reqs", madHash, runStartedAt.Add(time.Minute), []model.Detection{point(ts3, true, model.DirectionAbove)})
	seedDetections(t, st, "reqs", zHash, runStartedAt.Add(time.Minute), []model.Detection{point(ts3, true, model.DirectionBelow)})
	evt, err = ev.Evaluate(context.Background(), cfg, []string{madHash, zHash}, runStartedAt)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if evt != nil {
		t.Fatalf("Evaluate fired despite conflicting directions under direction=same")
	}
}

// Mirrors test_should_alert_multiple_detectors: when N>1 detectors agree,
// the aggregated event's detector attribution is the literal "N
// detectors" string, with the count carried separately for metadata.
func TestEvaluateMultiDetectorEventUsesCountLabel(t *testing.T) {
	ev, st := newTestEvaluator(t)
	runStartedAt := time.Now().Add(-time.Hour).UTC()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := alertingConfig("reqs", 1, 2, config.DirectionSame)
	madHash, zHash := "MADDetector|{}", "ZScoreDetector|{}"

	seedDetections(t, st, "reqs", madHash, runStartedAt.Add(time.Minute), []model.Detection{point(ts, true, model.DirectionAbove)})
	seedDetections(t, st, "reqs", zHash, runStartedAt.Add(time.Minute), []model.Detection{point(ts, true, model.DirectionAbove)})

	evt, err := ev.Evaluate(context.Background(), cfg, []string{madHash, zHash}, runStartedAt)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if evt == nil {
		t.Fatalf("Evaluate did not fire when both detectors agreed above")
	}
	if evt.DetectorCount != 2 {
		t.Errorf("DetectorCount = %d, want 2", evt.DetectorCount)
	}
	if got := evt.DetectorLabel(); got != "2 detectors" {
		t.Errorf("DetectorLabel() = %q, want %q", got, "2 detectors")
	}
}

// A detection created exactly at run_started_at is historical backfill
// from a prior run's watermark, not a fresh result of this run, so the
// createdAfter filter must be strict (§4.2/§4.8/§9).
func TestEvaluateExcludesDetectionCreatedAtRunStart(t *testing.T) {
	ev, st := newTestEvaluator(t)
	runStartedAt := time.Now().Add(-time.Hour).UTC()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := alertingConfig("reqs", 1, 1, config.DirectionAny)
	hash := "MADDetector|{}"

	seedDetections(t, st, "reqs", hash, runStartedAt, []model.Detection{point(ts, true, model.DirectionAbove)})

	evt, err := ev.Evaluate(context.Background(), cfg, []string{hash}, runStartedAt)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if evt != nil {
		t.Fatalf("Evaluate fired on a detection created exactly at run_started_at, want excluded")
	}
}

func TestEvaluateIgnoresHistoricalBackfill(t *testing.T) {
	ev, st := newTestEvaluator(t)
	runStartedAt := time.Now().UTC()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := alertingConfig("reqs", 1, 1, config.DirectionAny)
	hash := "MADDetector|{}"

	// created_at before run_started_at: a stale backfill row.
	seedDetections(t, st, "reqs", hash, runStartedAt.Add(-time.Hour), []model.Detection{point(ts, true, model.DirectionAbove)})

	evt, err := ev.Evaluate(context.Background(), cfg, []string{hash}, runStartedAt)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if evt != nil {
		t.Fatalf("Evaluate fired on a detection created before run_started_at")
	}
}
