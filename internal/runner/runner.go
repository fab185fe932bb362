// Package runner implements the detection runner (C7, spec.md §4.7): for
// each of a metric's configured detectors it loads enough trailing
// history to fill every window in a batch, preprocesses it (C4), invokes
// the detector (C5), and persists the per-position verdicts.
package runner

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/alexeiveselov92/detectkit/internal/config"
	"github.com/alexeiveselov92/detectkit/internal/detectors"
	"github.com/alexeiveselov92/detectkit/internal/interval"
	"github.com/alexeiveselov92/detectkit/internal/model"
	"github.com/alexeiveselov92/detectkit/internal/preprocess"
	"github.com/alexeiveselov92/detectkit/internal/store"
)

// Runner evaluates detectors against stored datapoints and writes
// detection rows.
type Runner struct {
	store *store.Store
	now   func() time.Time
}

// New returns a Runner reading and writing through st.
func New(st *store.Store) *Runner {
	return &Runner{store: st, now: time.Now}
}

// Detect implements the §4.7 contract: detect(metric, full_refresh) ->
// number of anomalies written.
func (r *Runner) Detect(ctx context.Context, cfg config.MetricConfig, fullRefresh bool) (int, error) {
	iv, err := cfg.GetInterval()
	if err != nil {
		return 0, err
	}

	st := r.store
	if cfg.Tables.Datapoints != "" || cfg.Tables.Detections != "" {
		st = st.WithTables(cfg.Tables.Datapoints, cfg.Tables.Detections)
	}

	lastDatapoint, ok, err := st.GetLastTimestamp(ctx, cfg.Name)
	if err != nil {
		return 0, err
	}
	if !ok {
		log.Printf("[%s] detect: no datapoints loaded yet, nothing to do", cfg.Name)
		return 0, nil
	}
	endExclusive := iv.Align(lastDatapoint.Add(iv.Duration()))

	configuredStart, hasConfigured := parseLoadingStartTime(cfg.LoadingStartTime)
	if !hasConfigured {
		first, ok, err := st.GetFirstTimestamp(ctx, cfg.Name)
		if err != nil {
			return 0, err
		}
		if ok {
			configuredStart = first
			hasConfigured = true
		}
	}
	if !hasConfigured {
		return 0, nil
	}

	anomalies := 0
	for _, dc := range cfg.Detectors {
		det, preCfg, err := detectors.Build(dc)
		if err != nil {
			return anomalies, fmt.Errorf("runner: metric %q: %w", cfg.Name, err)
		}
		preCfg = preCfg.WithDefaults()
		hash := det.Hash()

		n, err := r.detectOne(ctx, st, cfg, iv, det, preCfg, hash, configuredStart, endExclusive, fullRefresh)
		if err != nil {
			return anomalies, fmt.Errorf("runner: metric %q detector %s: %w", cfg.Name, hash, err)
		}
		anomalies += n
	}
	return anomalies, nil
}

func (r *Runner) detectOne(ctx context.Context, st *store.Store, cfg config.MetricConfig, iv interval.Interval, det detectors.Detector, preCfg preprocess.Config, hash string, configuredStart, endExclusive time.Time, fullRefresh bool) (int, error) {
	if fullRefresh {
		if err := st.PurgeDetections(ctx, cfg.Name, hash); err != nil {
			return 0, err
		}
	}

	start := iv.Align(configuredStart)
	if last, ok, err := st.GetLastDetectionTimestamp(ctx, cfg.Name, hash); err != nil {
		return 0, err
	} else if ok {
		candidate := iv.Align(last.Add(iv.Duration()))
		if candidate.After(start) {
			start = candidate
		}
	}

	if !start.Before(endExclusive) {
		return 0, nil
	}

	windowSize := 0
	if w, ok := det.(detectors.Windowed); ok {
		windowSize = w.WindowSize()
	}

	batchSize := cfg.LoadingBatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	batchSpan := iv.Duration() * time.Duration(batchSize)

	anomalies := 0
	for batchFrom := start; batchFrom.Before(endExclusive); batchFrom = batchFrom.Add(batchSpan) {
		batchTo := batchFrom.Add(batchSpan)
		if batchTo.After(endExclusive) {
			batchTo = endExclusive
		}

		n, err := r.detectBatch(ctx, st, cfg, iv, det, preCfg, hash, windowSize, batchFrom, batchTo)
		if err != nil {
			return anomalies, fmt.Errorf("batch [%s, %s): %w", batchFrom, batchTo, err)
		}
		anomalies += n
	}
	return anomalies, nil
}

func (r *Runner) detectBatch(ctx context.Context, st *store.Store, cfg config.MetricConfig, iv interval.Interval, det detectors.Detector, preCfg preprocess.Config, hash string, windowSize int, batchFrom, batchTo time.Time) (int, error) {
	batchLength := int(batchTo.Sub(batchFrom) / iv.Duration())
	if batchLength <= 0 {
		return 0, nil
	}

	window, err := st.LoadWindow(ctx, cfg.Name, batchTo, windowSize+batchLength)
	if err != nil {
		return 0, err
	}

	startIndex := len(window) - batchLength
	if startIndex < 0 {
		startIndex = 0
	}

	raw := make([]*float64, len(window))
	seasonalityRows := make([]map[string]any, len(window))
	for i, dp := range window {
		raw[i] = dp.Value
		seasonalityRows[i] = dp.SeasonalityData
	}

	values, _ := preprocess.Run(raw, preCfg)

	results := det.Detect(values, seasonalityRows, startIndex)

	now := r.now().UTC()
	var rows []model.Detection
	anomalies := 0
	for k, res := range results {
		i := startIndex + k
		ts := window[i].Timestamp
		if ts.Before(batchFrom) || !ts.Before(batchTo) {
			continue
		}
		if res.IsAnomaly {
			anomalies++
		}
		rows = append(rows, model.Detection{
			MetricName:      cfg.Name,
			DetectorHash:    hash,
			Timestamp:       ts,
			Value:           window[i].Value,
			IsAnomaly:       res.IsAnomaly,
			ConfidenceLower: res.ConfidenceLower,
			ConfidenceUpper: res.ConfidenceUpper,
			Direction:       res.Direction,
			Severity:        res.Severity,
			Metadata:        res.Metadata,
			Reason:          res.Reason,
			CreatedAt:       now,
		})
	}

	if err := st.UpsertDetections(ctx, rows); err != nil {
		return 0, err
	}
	return anomalies, nil
}

func parseLoadingStartTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return time.Time{}, false
		}
	}
	return t.UTC(), true
}
