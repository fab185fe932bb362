// Package store implements the internal store described in spec.md §4.2:
// a narrow set of typed operations over the four internal tables, built on
// top of internal/dbadapter.Adapter. It is grounded on the teacher's
// internal/storage package — same split between schema DDL and a thin
// typed wrapper around generic row scanning.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/alexeiveselov92/detectkit/internal/dbadapter"
	"github.com/alexeiveselov92/detectkit/internal/model"
)

// Store is the internal-table accessor. DatapointsTable and
// DetectionsTable are per-metric overridable (MetricConfig.Tables); the
// zero value defaults to the `_dtk_*` convention.
type Store struct {
	adapter         dbadapter.Adapter
	DatapointsTable string
	DetectionsTable string
}

// New returns a Store using the default table names. Use WithTables to
// override the per-metric datapoints/detections tables.
func New(adapter dbadapter.Adapter) *Store {
	return &Store{
		adapter:         adapter,
		DatapointsTable: DefaultDatapointsTable,
		DetectionsTable: DefaultDetectionsTable,
	}
}

// WithTables returns a copy of s pointed at the given datapoints/detections
// table names, leaving an empty argument to mean "keep current".
func (s *Store) WithTables(datapoints, detections string) *Store {
	out := *s
	if datapoints != "" {
		out.DatapointsTable = datapoints
	}
	if detections != "" {
		out.DetectionsTable = detections
	}
	return &out
}

// EnsureTables creates the four internal tables and their indexes if they
// don't already exist.
func (s *Store) EnsureTables(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(datapointsSchema, s.DatapointsTable),
		fmt.Sprintf(datapointsIndexes, s.DatapointsTable),
		fmt.Sprintf(detectionsSchema, s.DetectionsTable),
		fmt.Sprintf(detectionsIndexes, s.DetectionsTable),
		tasksSchema,
		tasksIndexes,
		metricsSchema,
		metricsIndexes,
	}
	for _, stmt := range stmts {
		if err := s.adapter.ExecuteDDL(ctx, stmt); err != nil {
			return fmt.Errorf("store: ensure tables: %w", err)
		}
	}
	return nil
}

const timeLayout = "2006-01-02 15:04:05.000000"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		t, err := time.Parse(timeLayout, x)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("store: unexpected time value %T", v)
	}
}

func asFloatPtr(v any) *float64 {
	if v == nil {
		return nil
	}
	switch x := v.(type) {
	case float64:
		return &x
	case float32:
		f := float64(x)
		return &f
	case int64:
		f := float64(x)
		return &f
	}
	return nil
}

// UpsertDatapoints writes rows keyed by (metric_name, timestamp), replacing
// any existing rows at the same key (§4.2).
func (s *Store) UpsertDatapoints(ctx context.Context, rows []model.Datapoint) error {
	if len(rows) == 0 {
		return nil
	}
	out := make([]dbadapter.Row, 0, len(rows))
	for _, r := range rows {
		sd := r.SeasonalityData
		if sd == nil {
			sd = model.SeasonalityData{}
		}
		b, err := sd.MarshalJSON()
		if err != nil {
			return fmt.Errorf("store: upsert datapoints: %w", err)
		}
		out = append(out, dbadapter.Row{
			"metric_name":      r.MetricName,
			"timestamp":        formatTime(r.Timestamp),
			"value":            valueOrNil(r.Value),
			"seasonality_data": string(b),
			"created_at":       formatTime(r.CreatedAt),
		})
	}
	return s.adapter.Upsert(ctx, s.DatapointsTable, []string{"metric_name", "timestamp"}, out)
}

// UpsertDetections writes rows keyed by (metric_name, detector_hash, timestamp).
func (s *Store) UpsertDetections(ctx context.Context, rows []model.Detection) error {
	if len(rows) == 0 {
		return nil
	}
	out := make([]dbadapter.Row, 0, len(rows))
	for _, r := range rows {
		meta, err := r.MetadataJSON()
		if err != nil {
			return fmt.Errorf("store: upsert detections: %w", err)
		}
		out = append(out, dbadapter.Row{
			"metric_name":      r.MetricName,
			"detector_hash":    r.DetectorHash,
			"timestamp":        formatTime(r.Timestamp),
			"value":            valueOrNil(r.Value),
			"is_anomaly":       r.IsAnomaly,
			"confidence_lower": valueOrNil(r.ConfidenceLower),
			"confidence_upper": valueOrNil(r.ConfidenceUpper),
			"direction":        string(r.Direction),
			"severity":         r.Severity,
			"metadata":         meta,
			"reason":           string(r.Reason),
			"created_at":       formatTime(r.CreatedAt),
		})
	}
	return s.adapter.Upsert(ctx, s.DetectionsTable, []string{"metric_name", "detector_hash", "timestamp"}, out)
}

func valueOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// PurgeDatapoints deletes every datapoint row for metric — the
// full-refresh purge step in spec.md §4.3.
func (s *Store) PurgeDatapoints(ctx context.Context, metric string) error {
	if err := s.adapter.Delete(ctx, s.DatapointsTable, "metric_name = ?", []any{metric}); err != nil {
		return fmt.Errorf("store: purge datapoints: %w", err)
	}
	return nil
}

// PurgeDetections deletes every detection row for metric, optionally
// restricted to a single detector_hash (full-refresh purge, §4.7 step 1).
func (s *Store) PurgeDetections(ctx context.Context, metric, detectorHash string) error {
	where := "metric_name = ?"
	args := []any{metric}
	if detectorHash != "" {
		where += " AND detector_hash = ?"
		args = append(args, detectorHash)
	}
	if err := s.adapter.Delete(ctx, s.DetectionsTable, where, args); err != nil {
		return fmt.Errorf("store: purge detections: %w", err)
	}
	return nil
}

// GetLastTimestamp returns the latest datapoint timestamp for metric, or
// ok=false when no rows exist — callers must treat absent distinctly from
// the zero instant (§4.2, §9).
func (s *Store) GetLastTimestamp(ctx context.Context, metric string) (ts time.Time, ok bool, err error) {
	q := fmt.Sprintf("SELECT MAX(timestamp) AS ts FROM %s WHERE metric_name = ?", s.DatapointsTable)
	rows, err := s.adapter.Execute(ctx, q, []any{metric})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: get last timestamp: %w", err)
	}
	if len(rows) == 0 || rows[0]["ts"] == nil {
		return time.Time{}, false, nil
	}
	t, err := parseTime(rows[0]["ts"])
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: get last timestamp: %w", err)
	}
	return t, true, nil
}

// GetFirstTimestamp returns the earliest datapoint timestamp for metric,
// or ok=false when no rows exist. Used as the detection runner's lower
// bound when a metric declares no loading_start_time.
func (s *Store) GetFirstTimestamp(ctx context.Context, metric string) (ts time.Time, ok bool, err error) {
	q := fmt.Sprintf("SELECT MIN(timestamp) AS ts FROM %s WHERE metric_name = ?", s.DatapointsTable)
	rows, err := s.adapter.Execute(ctx, q, []any{metric})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: get first timestamp: %w", err)
	}
	if len(rows) == 0 || rows[0]["ts"] == nil {
		return time.Time{}, false, nil
	}
	t, err := parseTime(rows[0]["ts"])
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: get first timestamp: %w", err)
	}
	return t, true, nil
}

// GetLastDetectionTimestamp returns the latest detection timestamp for a
// given (metric, detector_hash) pair, or ok=false when none exist.
func (s *Store) GetLastDetectionTimestamp(ctx context.Context, metric, detectorHash string) (ts time.Time, ok bool, err error) {
	q := fmt.Sprintf("SELECT MAX(timestamp) AS ts FROM %s WHERE metric_name = ? AND detector_hash = ?", s.DetectionsTable)
	rows, err := s.adapter.Execute(ctx, q, []any{metric, detectorHash})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: get last detection timestamp: %w", err)
	}
	if len(rows) == 0 || rows[0]["ts"] == nil {
		return time.Time{}, false, nil
	}
	t, err := parseTime(rows[0]["ts"])
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: get last detection timestamp: %w", err)
	}
	return t, true, nil
}

// LoadWindow returns up to count datapoints for metric strictly before
// endExclusive, ordered ascending by timestamp — the trailing window a
// detector slides over.
func (s *Store) LoadWindow(ctx context.Context, metric string, endExclusive time.Time, count int) ([]model.Datapoint, error) {
	q := fmt.Sprintf(`
		SELECT metric_name, timestamp, value, seasonality_data, created_at
		FROM %s
		WHERE metric_name = ? AND timestamp < CAST(? AS TIMESTAMP)
		ORDER BY timestamp DESC
		LIMIT ?`, s.DatapointsTable)
	rows, err := s.adapter.Execute(ctx, q, []any{metric, formatTime(endExclusive), count})
	if err != nil {
		return nil, fmt.Errorf("store: load window: %w", err)
	}
	out := make([]model.Datapoint, 0, len(rows))
	for _, r := range rows {
		dp, err := rowToDatapoint(r)
		if err != nil {
			return nil, fmt.Errorf("store: load window: %w", err)
		}
		out = append(out, dp)
	}
	// rows came back DESC; reverse to ascending.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LoadRange returns all datapoints for metric within [from, to], ascending.
func (s *Store) LoadRange(ctx context.Context, metric string, from, to time.Time) ([]model.Datapoint, error) {
	q := fmt.Sprintf(`
		SELECT metric_name, timestamp, value, seasonality_data, created_at
		FROM %s
		WHERE metric_name = ? AND timestamp >= CAST(? AS TIMESTAMP) AND timestamp <= CAST(? AS TIMESTAMP)
		ORDER BY timestamp ASC`, s.DatapointsTable)
	rows, err := s.adapter.Execute(ctx, q, []any{metric, formatTime(from), formatTime(to)})
	if err != nil {
		return nil, fmt.Errorf("store: load range: %w", err)
	}
	out := make([]model.Datapoint, 0, len(rows))
	for _, r := range rows {
		dp, err := rowToDatapoint(r)
		if err != nil {
			return nil, fmt.Errorf("store: load range: %w", err)
		}
		out = append(out, dp)
	}
	return out, nil
}

func rowToDatapoint(r dbadapter.Row) (model.Datapoint, error) {
	ts, err := parseTime(r["timestamp"])
	if err != nil {
		return model.Datapoint{}, err
	}
	createdAt, err := parseTime(r["created_at"])
	if err != nil {
		return model.Datapoint{}, err
	}
	sd, err := model.ParseSeasonalityData(stringOrEmpty(r["seasonality_data"]))
	if err != nil {
		return model.Datapoint{}, err
	}
	return model.Datapoint{
		MetricName:      stringOrEmpty(r["metric_name"]),
		Timestamp:       ts,
		Value:           asFloatPtr(r["value"]),
		SeasonalityData: sd,
		CreatedAt:       createdAt,
	}, nil
}

func stringOrEmpty(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// GetRecentDetections returns the most recent count detections for metric
// across all of detectorHashes combined (the limit applies to the merged
// result, not to each hash separately), optionally filtered to rows
// created strictly after createdAfter. The createdAfter filter is how
// the alert evaluator avoids re-triggering on detections that were
// already evaluated in a prior pipeline run (§4.2, §4.8, §9 — detections
// created exactly at a run's start are historical backfill, not fresh).
func (s *Store) GetRecentDetections(ctx context.Context, metric string, detectorHashes []string, count int, createdAfter *time.Time) ([]model.Detection, error) {
	if len(detectorHashes) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(detectorHashes))
	args := []any{metric}
	for i, h := range detectorHashes {
		placeholders[i] = "?"
		args = append(args, h)
	}
	where := fmt.Sprintf("metric_name = ? AND detector_hash IN (%s)", joinPlaceholders(placeholders))
	if createdAfter != nil {
		where += " AND created_at > CAST(? AS TIMESTAMP)"
		args = append(args, formatTime(*createdAfter))
	}
	args = append(args, count)
	q := fmt.Sprintf(`
		SELECT metric_name, detector_hash, timestamp, value, is_anomaly,
		       confidence_lower, confidence_upper, direction, severity,
		       metadata, reason, created_at
		FROM %s
		WHERE %s
		ORDER BY timestamp DESC
		LIMIT ?`, s.DetectionsTable, where)
	rows, err := s.adapter.Execute(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("store: get recent detections: %w", err)
	}
	out := make([]model.Detection, 0, len(rows))
	for _, r := range rows {
		d, err := rowToDetection(r)
		if err != nil {
			return nil, fmt.Errorf("store: get recent detections: %w", err)
		}
		out = append(out, d)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func joinPlaceholders(ph []string) string {
	out := ph[0]
	for _, p := range ph[1:] {
		out += ", " + p
	}
	return out
}

func rowToDetection(r dbadapter.Row) (model.Detection, error) {
	ts, err := parseTime(r["timestamp"])
	if err != nil {
		return model.Detection{}, err
	}
	createdAt, err := parseTime(r["created_at"])
	if err != nil {
		return model.Detection{}, err
	}
	meta, err := parseMetadata(stringOrEmpty(r["metadata"]))
	if err != nil {
		return model.Detection{}, err
	}
	return model.Detection{
		MetricName:      stringOrEmpty(r["metric_name"]),
		DetectorHash:    stringOrEmpty(r["detector_hash"]),
		Timestamp:       ts,
		Value:           asFloatPtr(r["value"]),
		IsAnomaly:       asBool(r["is_anomaly"]),
		ConfidenceLower: asFloatPtr(r["confidence_lower"]),
		ConfidenceUpper: asFloatPtr(r["confidence_upper"]),
		Direction:       model.Direction(stringOrEmpty(r["direction"])),
		Severity:        asFloat(r["severity"]),
		Metadata:        meta,
		Reason:          model.Reason(stringOrEmpty(r["reason"])),
		CreatedAt:       createdAt,
	}, nil
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asFloat(v any) float64 {
	p := asFloatPtr(v)
	if p == nil {
		return 0
	}
	return *p
}

func parseMetadata(raw string) (map[string]any, error) {
	sd, err := model.ParseSeasonalityData(raw)
	if err != nil {
		return nil, err
	}
	return map[string]any(sd), nil
}
