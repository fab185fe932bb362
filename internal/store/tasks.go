package store

import (
	"context"
	"fmt"
	"time"

	"github.com/alexeiveselov92/detectkit/internal/dbadapter"
	"github.com/alexeiveselov92/detectkit/internal/model"
)

// AcquireLock attempts to take the run lock for metric. It succeeds when
// no row exists for metric, or when the existing row's lock has expired —
// a stale lock is stolen rather than left to block the pipeline forever
// (§5). now+ttl becomes the new lock_expires_at.
//
// The acquire step is a single conditional UPDATE rather than a
// read-then-write: two callers racing a plain SELECT-then-Upsert could
// both observe an unlocked row and both proceed, defeating the
// serialization §5 requires of concurrent backends. The UPDATE's WHERE
// clause only matches a row whose lock is absent or expired, so at most
// one of two concurrent callers can flip it; the affected-row count
// tells them apart without a second round trip reopening the race.
func (s *Store) AcquireLock(ctx context.Context, metric string, now time.Time, ttl time.Duration) (bool, error) {
	expires := now.Add(ttl)

	updateQuery := fmt.Sprintf(`
		UPDATE %s
		SET status = ?, locked_at = ?, lock_expires_at = ?
		WHERE metric_name = ? AND (lock_expires_at IS NULL OR lock_expires_at < CAST(? AS TIMESTAMP))`, TasksTable)
	n, err := s.adapter.ExecuteUpdate(ctx, updateQuery, []any{
		string(model.TaskRunning), formatTime(now), formatTime(expires), metric, formatTime(now),
	})
	if err != nil {
		return false, fmt.Errorf("store: acquire lock: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	// The UPDATE matched nothing: either metric has no row yet, or its
	// row exists and is currently locked. Try the no-row case; the
	// WHERE NOT EXISTS guard plus the table's metric_name primary key
	// means a second caller racing the same never-before-seen metric
	// either inserts nothing (subquery already sees the first row) or
	// has its INSERT rejected by the constraint — never both winners.
	insertQuery := fmt.Sprintf(`
		INSERT INTO %[1]s (metric_name, status, locked_at, lock_expires_at, alert_count)
		SELECT ?, ?, ?, ?, 0
		WHERE NOT EXISTS (SELECT 1 FROM %[1]s WHERE metric_name = ?)`, TasksTable)
	n, err = s.adapter.ExecuteUpdate(ctx, insertQuery, []any{
		metric, string(model.TaskRunning), formatTime(now), formatTime(expires), metric,
	})
	if err != nil {
		// A concurrent INSERT for the same metric committed first and
		// the primary key rejected ours: that race is "the lock is
		// held by the other caller," not a failure to surface.
		if task, ok, getErr := s.getTask(ctx, metric); getErr == nil && ok && task.Locked(now) {
			return false, nil
		}
		return false, fmt.Errorf("store: acquire lock: %w", err)
	}
	return n > 0, nil
}

// ReleaseLock clears the run lock and records the terminal status and
// error (if any) from the just-finished run.
func (s *Store) ReleaseLock(ctx context.Context, metric string, now time.Time, status model.TaskStatus, runErr string) error {
	task, _, err := s.getTask(ctx, metric)
	if err != nil {
		return fmt.Errorf("store: release lock: %w", err)
	}
	row := dbadapter.Row{
		"metric_name":     metric,
		"status":          string(status),
		"locked_at":       nil,
		"lock_expires_at": nil,
		"last_run_at":     formatTime(now),
		"last_error":      runErr,
		"last_alert_sent": timeOrNil(task.LastAlertSent),
		"alert_count":     task.AlertCount,
	}
	if err := s.adapter.Upsert(ctx, TasksTable, []string{"metric_name"}, []dbadapter.Row{row}); err != nil {
		return fmt.Errorf("store: release lock: %w", err)
	}
	return nil
}

// GetLastAlertTimestamp returns the last time an alert fired for metric,
// or ok=false when none has ever fired — this backs the cooldown gate.
func (s *Store) GetLastAlertTimestamp(ctx context.Context, metric string) (ts time.Time, ok bool, err error) {
	task, found, err := s.getTask(ctx, metric)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: get last alert timestamp: %w", err)
	}
	if !found || task.LastAlertSent == nil {
		return time.Time{}, false, nil
	}
	return *task.LastAlertSent, true, nil
}

// RecordAlert marks metric's task row as having just sent an alert at ts
// and increments its alert counter.
func (s *Store) RecordAlert(ctx context.Context, metric string, ts time.Time) error {
	task, _, err := s.getTask(ctx, metric)
	if err != nil {
		return fmt.Errorf("store: record alert: %w", err)
	}
	row := dbadapter.Row{
		"metric_name":     metric,
		"status":          string(task.Status),
		"locked_at":       timeOrNil(task.LockedAt),
		"lock_expires_at": timeOrNil(task.LockExpiresAt),
		"last_run_at":     timeOrNil(task.LastRunAt),
		"last_error":      task.LastError,
		"last_alert_sent": formatTime(ts),
		"alert_count":     task.AlertCount + 1,
	}
	if err := s.adapter.Upsert(ctx, TasksTable, []string{"metric_name"}, []dbadapter.Row{row}); err != nil {
		return fmt.Errorf("store: record alert: %w", err)
	}
	return nil
}

func (s *Store) getTask(ctx context.Context, metric string) (model.Task, bool, error) {
	q := fmt.Sprintf(`
		SELECT metric_name, status, locked_at, lock_expires_at, last_run_at,
		       last_error, last_alert_sent, alert_count
		FROM %s WHERE metric_name = ?`, TasksTable)
	rows, err := s.adapter.Execute(ctx, q, []any{metric})
	if err != nil {
		return model.Task{}, false, err
	}
	if len(rows) == 0 {
		return model.Task{MetricName: metric, Status: model.TaskIdle}, false, nil
	}
	r := rows[0]
	t := model.Task{
		MetricName: stringOrEmpty(r["metric_name"]),
		Status:     model.TaskStatus(stringOrEmpty(r["status"])),
		LastError:  stringOrEmpty(r["last_error"]),
		AlertCount: int64(asFloat(r["alert_count"])),
	}
	if p, err := timePtr(r["locked_at"]); err == nil {
		t.LockedAt = p
	}
	if p, err := timePtr(r["lock_expires_at"]); err == nil {
		t.LockExpiresAt = p
	}
	if p, err := timePtr(r["last_run_at"]); err == nil {
		t.LastRunAt = p
	}
	if p, err := timePtr(r["last_alert_sent"]); err == nil {
		t.LastAlertSent = p
	}
	return t, true, nil
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func timePtr(v any) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	t, err := parseTime(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpsertMetricMetadata writes the declarative metric-configuration
// snapshot into the metrics table (§4.10) — informational only, never
// read back by the engine.
func (s *Store) UpsertMetricMetadata(ctx context.Context, m model.MetricMetadata) error {
	row := dbadapter.Row{
		"metric_name": m.MetricName,
		"interval":    m.Interval,
		"description": m.Description,
		"tags":        joinTags(m.Tags),
		"enabled":     m.Enabled,
		"alerting_on": m.AlertingOn,
		"updated_at":  formatTime(m.UpdatedAt),
	}
	return s.adapter.Upsert(ctx, MetricsTable, []string{"metric_name"}, []dbadapter.Row{row})
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}
