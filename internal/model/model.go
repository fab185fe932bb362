// Package model defines the entities persisted in the four internal
// tables described in spec.md §3: datapoints, detections, tasks, and
// metric metadata. All timestamps are naive UTC instants — see the
// "Time zones" design note in spec.md §9.
package model

import (
	"encoding/json"
	"time"
)

// Direction classifies which side of the confidence interval a value fell
// outside of, or "none" when it is within bounds.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
	DirectionNone  Direction = "none"
)

// Reason explains why a detection could not be performed at a given point.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonInsufficientData Reason = "insufficient_data"
	ReasonMissingData      Reason = "missing_data"
)

// SeasonalityData is the column-name -> value mapping captured per
// datapoint row (§3). Values are what the loader captured: ints and bools
// computed from the timestamp, or raw query-column values; after a round
// trip through the stored JSON text, numbers decode as float64.
type SeasonalityData map[string]any

// MarshalJSON serializes an empty map as "{}" rather than "null" so that
// store-layer comparisons of the JSON text are stable.
func (s SeasonalityData) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(s))
}

// ParseSeasonalityData decodes the JSON blob stored in a datapoint row.
func ParseSeasonalityData(raw string) (SeasonalityData, error) {
	if raw == "" {
		return SeasonalityData{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return SeasonalityData(m), nil
}

// Datapoint is a single row on a metric's interval grid. Value is a
// pointer because absent (gap-filled) values are a first-class state, not
// zero.
type Datapoint struct {
	MetricName      string
	Timestamp       time.Time
	Value           *float64
	SeasonalityData SeasonalityData
	CreatedAt       time.Time
}

// HasValue reports whether the datapoint carries a real (non-gap-filled)
// value.
func (d Datapoint) HasValue() bool {
	return d.Value != nil
}

// Detection is a single (metric, detector, timestamp) verdict row.
type Detection struct {
	MetricName       string
	DetectorHash     string
	Timestamp        time.Time
	Value            *float64
	IsAnomaly        bool
	ConfidenceLower  *float64
	ConfidenceUpper  *float64
	Direction        Direction
	Severity         float64
	Metadata         map[string]any
	Reason           Reason
	CreatedAt        time.Time
}

// MetadataJSON serializes Metadata, defaulting to "{}" when nil.
func (d Detection) MetadataJSON() (string, error) {
	if d.Metadata == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d.Metadata)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// TaskStatus is the lifecycle state of a metric's task row.
type TaskStatus string

const (
	TaskIdle    TaskStatus = "idle"
	TaskRunning TaskStatus = "running"
	TaskSuccess TaskStatus = "success"
	TaskFailed  TaskStatus = "failed"
)

// Task is the per-metric lock/status/alert-bookkeeping row.
type Task struct {
	MetricName     string
	Status         TaskStatus
	LockedAt       *time.Time
	LockExpiresAt  *time.Time
	LastRunAt      *time.Time
	LastError      string
	LastAlertSent  *time.Time
	AlertCount     int64
}

// Locked reports whether the task's lock is currently live, per the
// invariant in §3: status=running iff locked_at is set and
// lock_expires_at > now().
func (t Task) Locked(now time.Time) bool {
	return t.Status == TaskRunning && t.LockExpiresAt != nil && t.LockExpiresAt.After(now)
}

// MetricMetadata mirrors the declarative metric configuration; it is
// informational and never read back by the engine.
type MetricMetadata struct {
	MetricName  string
	Interval    string
	Description string
	Tags        []string
	Enabled     bool
	AlertingOn  bool
	UpdatedAt   time.Time
}
