// Package loader implements the metric loader (C3, spec.md §4.3): it
// executes a metric's declared query against a time slice, normalizes
// and gap-fills the result onto the interval grid, and persists the rows
// through the internal store.
package loader

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alexeiveselov92/detectkit/internal/config"
	"github.com/alexeiveselov92/detectkit/internal/dbadapter"
	"github.com/alexeiveselov92/detectkit/internal/interval"
	"github.com/alexeiveselov92/detectkit/internal/model"
	"github.com/alexeiveselov92/detectkit/internal/store"
)

// QueryRunner executes a metric's user-supplied SQL against the data
// namespace. It's a separate interface from dbadapter.Adapter (which
// owns the internal tables) because a deployment may point detectkit's
// internal namespace and the user's analytical tables at different
// databases (§3's "internal namespace chosen by configuration").
type QueryRunner interface {
	Execute(ctx context.Context, query string, params []any) ([]dbadapter.Row, error)
}

// Loader runs metric queries and persists their results.
type Loader struct {
	query QueryRunner
	store *store.Store
	now   func() time.Time
}

// New returns a Loader reading through query and writing through st.
func New(query QueryRunner, st *store.Store) *Loader {
	return &Loader{query: query, store: st, now: time.Now}
}

// Load implements the §4.3 contract: load(metric, from, to, full_refresh)
// -> rows written.
func (l *Loader) Load(ctx context.Context, cfg config.MetricConfig, from, to time.Time, fullRefresh bool) (int, error) {
	iv, err := cfg.GetInterval()
	if err != nil {
		return 0, err
	}

	st := l.store
	if cfg.Tables.Datapoints != "" || cfg.Tables.Detections != "" {
		st = st.WithTables(cfg.Tables.Datapoints, cfg.Tables.Detections)
	}

	effectiveFrom := from
	if configuredStart, ok := parseLoadingStartTime(cfg.LoadingStartTime); ok && configuredStart.After(effectiveFrom) {
		effectiveFrom = configuredStart
	}

	if fullRefresh {
		if err := st.PurgeDatapoints(ctx, cfg.Name); err != nil {
			return 0, err
		}
		if err := st.PurgeDetections(ctx, cfg.Name, ""); err != nil {
			return 0, err
		}
	} else {
		last, ok, err := st.GetLastTimestamp(ctx, cfg.Name)
		if err != nil {
			return 0, err
		}
		if ok {
			candidate := last.Add(iv.Duration())
			if candidate.After(effectiveFrom) {
				effectiveFrom = candidate
			}
		}
	}

	effectiveFrom = iv.Align(effectiveFrom)
	to = iv.Align(to)
	if !effectiveFrom.Before(to) {
		return 0, nil
	}

	batchSize := cfg.LoadingBatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	batchSpan := iv.Duration() * time.Duration(batchSize)

	written := 0
	for batchFrom := effectiveFrom; batchFrom.Before(to); batchFrom = batchFrom.Add(batchSpan) {
		batchTo := batchFrom.Add(batchSpan)
		if batchTo.After(to) {
			batchTo = to
		}

		n, err := l.loadSlice(ctx, cfg, st, iv, batchFrom, batchTo)
		if err != nil {
			return written, fmt.Errorf("loader: slice [%s, %s): %w", batchFrom, batchTo, err)
		}
		written += n
	}

	return written, nil
}

func (l *Loader) loadSlice(ctx context.Context, cfg config.MetricConfig, st *store.Store, iv interval.Interval, from, to time.Time) (int, error) {
	queryText, err := cfg.GetQueryText()
	if err != nil {
		return 0, err
	}

	boundQuery, params := bindNamedParams(queryText, map[string]any{
		"from_date": formatBindTime(from),
		"to_date":   formatBindTime(to),
	})

	rows, err := l.query.Execute(ctx, boundQuery, params)
	if err != nil {
		return 0, fmt.Errorf("loader: query: %w", err)
	}

	cols := cfg.QueryColumns.WithDefaults()
	byTimestamp := map[int64]model.Datapoint{}
	now := l.now().UTC()

	for _, row := range rows {
		ts, err := parseRowTimestamp(row[cols.Timestamp])
		if err != nil {
			return 0, fmt.Errorf("loader: timestamp column %q: %w", cols.Timestamp, err)
		}
		aligned := iv.Align(ts)

		value := rowFloat(row[cols.Metric])

		seasonalityData := model.SeasonalityData{}
		for _, col := range cols.Seasonality {
			seasonalityData[col] = row[col]
		}
		for _, decl := range cfg.SeasonalityColumns {
			seasonalityData[decl.Name] = computeSeasonalityValue(aligned, decl.ExtractKey())
		}

		byTimestamp[aligned.Unix()] = model.Datapoint{
			MetricName:      cfg.Name,
			Timestamp:       aligned,
			Value:           value,
			SeasonalityData: seasonalityData,
			CreatedAt:       now,
		}
	}

	grid := iv.Range(from, to)
	out := make([]model.Datapoint, 0, len(grid))
	for _, ts := range grid {
		if dp, ok := byTimestamp[ts.Unix()]; ok {
			out = append(out, dp)
			continue
		}

		seasonalityData := model.SeasonalityData{}
		for _, decl := range cfg.SeasonalityColumns {
			seasonalityData[decl.Name] = computeSeasonalityValue(ts, decl.ExtractKey())
		}
		out = append(out, model.Datapoint{
			MetricName:      cfg.Name,
			Timestamp:       ts,
			Value:           nil,
			SeasonalityData: seasonalityData,
			CreatedAt:       now,
		})
	}

	if err := st.UpsertDatapoints(ctx, out); err != nil {
		return 0, err
	}
	return len(out), nil
}

func formatBindTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
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

func parseRowTimestamp(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		for _, layout := range []string{"2006-01-02 15:04:05.000000", "2006-01-02 15:04:05", "2006-01-02T15:04:05Z", time.RFC3339} {
			if t, err := time.Parse(layout, x); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", x)
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}

func rowFloat(v any) *float64 {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		return &x
	case float32:
		f := float64(x)
		return &f
	case int64:
		f := float64(x)
		return &f
	case int:
		f := float64(x)
		return &f
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// bindNamedParams rewrites `:name` placeholders in query to driver-style
// "?" positional placeholders and returns the matching ordered argument
// list, the same substitution strategy query-builder libraries in the
// ecosystem apply on top of drivers (like DuckDB's) that only support
// positional binding.
func bindNamedParams(query string, named map[string]any) (string, []any) {
	var out strings.Builder
	var params []any
	i := 0
	for i < len(query) {
		if query[i] == ':' {
			j := i + 1
			for j < len(query) && isIdentByte(query[j]) {
				j++
			}
			name := query[i+1 : j]
			if v, ok := named[name]; ok {
				out.WriteByte('?')
				params = append(params, v)
				i = j
				continue
			}
		}
		out.WriteByte(query[i])
		i++
	}
	return out.String(), params
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func computeSeasonalityValue(ts time.Time, key string) any {
	ts = ts.UTC()
	switch key {
	case "hour":
		return ts.Hour()
	case "day":
		return ts.Day()
	case "day_of_week", "dow":
		return int(ts.Weekday())
	case "month":
		return int(ts.Month())
	case "quarter":
		return (int(ts.Month())-1)/3 + 1
	case "year":
		return ts.Year()
	case "is_weekend":
		return ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday
	default:
		return nil
	}
}
