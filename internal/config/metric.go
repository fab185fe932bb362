// Package config defines the declarative data model consumed by
// detectkit's engine: the shape of a metric declaration and a profile
// declaration (spec.md §6), the fail-fast validation spec.md §7 requires
// at config-load time, and thin helpers (load.go) that read and unmarshal
// a single metric or profiles YAML file. Selector matching and CLI
// argument handling belong to the (out of scope) CLI wrapper.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/alexeiveselov92/detectkit/internal/interval"
)

// DetectorType enumerates the four statistical detector kinds in scope
// (spec.md §1 Non-goals excludes forecasting-model detectors such as the
// original's "prophet"/"timesfm" types).
type DetectorType string

const (
	DetectorMAD          DetectorType = "mad"
	DetectorZScore       DetectorType = "zscore"
	DetectorIQR          DetectorType = "iqr"
	DetectorManualBounds DetectorType = "manual_bounds"
)

func (t DetectorType) valid() bool {
	switch t {
	case DetectorMAD, DetectorZScore, DetectorIQR, DetectorManualBounds:
		return true
	default:
		return false
	}
}

// DetectorConfig is one entry of a metric's `detectors` list.
type DetectorConfig struct {
	Type   DetectorType   `yaml:"type"`
	Params map[string]any `yaml:"params"`
}

// Validate checks the detector type is one of the four in-scope kinds.
func (d DetectorConfig) Validate() error {
	if !d.Type.valid() {
		return fmt.Errorf("invalid detector type %q", d.Type)
	}
	return nil
}

// Direction constrains how alert direction agreement is evaluated (§4.8).
type Direction string

const (
	DirectionSame Direction = "same"
	DirectionAny  Direction = "any"
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

func (d Direction) valid() bool {
	switch d {
	case DirectionSame, DirectionAny, DirectionUp, DirectionDown:
		return true
	default:
		return false
	}
}

// AlertingConfig is the `alerting` block of a metric declaration (§6).
type AlertingConfig struct {
	Enabled                 bool      `yaml:"enabled"`
	Timezone                string    `yaml:"timezone"`
	Channels                []string  `yaml:"channels"`
	MinDetectors            int       `yaml:"min_detectors"`
	Direction               Direction `yaml:"direction"`
	ConsecutiveAnomalies    int       `yaml:"consecutive_anomalies"`
	AlertCooldown           string    `yaml:"alert_cooldown"`
	CooldownResetOnRecovery bool      `yaml:"cooldown_reset_on_recovery"`
	NoDataAlert             bool      `yaml:"no_data_alert"`
	TemplateSingle          string    `yaml:"template_single"`
	TemplateConsecutive     string    `yaml:"template_consecutive"`
}

// WithDefaults returns a copy with the §4.8 defaults for unset fields.
func (a AlertingConfig) WithDefaults() AlertingConfig {
	if a.MinDetectors == 0 {
		a.MinDetectors = 1
	}
	if a.Direction == "" {
		a.Direction = DirectionSame
	}
	if a.ConsecutiveAnomalies == 0 {
		a.ConsecutiveAnomalies = 3
	}
	if a.Timezone == "" {
		a.Timezone = "UTC"
	}
	return a
}

// Validate checks the alerting block's invariants.
func (a AlertingConfig) Validate() error {
	if a.Direction != "" && !a.Direction.valid() {
		return fmt.Errorf("alerting: invalid direction %q", a.Direction)
	}
	if a.ConsecutiveAnomalies < 0 {
		return fmt.Errorf("alerting: consecutive_anomalies must be at least 1")
	}
	if a.MinDetectors < 0 {
		return fmt.Errorf("alerting: min_detectors must be at least 1")
	}
	if a.AlertCooldown != "" {
		if _, err := interval.Parse(a.AlertCooldown); err != nil {
			return fmt.Errorf("alerting: invalid alert_cooldown: %w", err)
		}
	}
	return nil
}

// QueryColumns maps the user's query result columns onto the datapoint
// shape (§6).
type QueryColumns struct {
	Timestamp   string   `yaml:"timestamp"`
	Metric      string   `yaml:"metric"`
	Seasonality []string `yaml:"seasonality"`
}

// WithDefaults fills in the conventional column names when unset.
func (q QueryColumns) WithDefaults() QueryColumns {
	if q.Timestamp == "" {
		q.Timestamp = "timestamp"
	}
	if q.Metric == "" {
		q.Metric = "value"
	}
	return q
}

// TablesConfig allows per-metric overrides of the datapoints/detections
// table names (§6).
type TablesConfig struct {
	Datapoints string `yaml:"datapoints"`
	Detections string `yaml:"detections"`
}

var validSeasonalityColumns = map[string]bool{
	"hour":         true,
	"day":          true,
	"day_of_week":  true,
	"dow":          true,
	"month":        true,
	"quarter":      true,
	"year":         true,
	"is_weekend":   true,
}

// SeasonalityComponent is one entry of a detector's
// `seasonality_components` parameter: either a single column name, or a
// list of column names forming an interaction group (§4.6).
type SeasonalityComponent []string

var metricNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// MetricConfig is the Go shape of a metric declaration (§6).
type MetricConfig struct {
	Name              string           `yaml:"name"`
	Profile           string           `yaml:"profile"`
	Enabled           bool             `yaml:"enabled"`
	Description       string           `yaml:"description"`
	Tags              []string         `yaml:"tags"`
	Interval          string           `yaml:"interval"`
	Query             string           `yaml:"query"`
	QueryFile         string           `yaml:"query_file"`
	QueryColumns      QueryColumns     `yaml:"query_columns"`
	LoadingStartTime  string           `yaml:"loading_start_time"`
	LoadingBatchSize  int              `yaml:"loading_batch_size"`
	SeasonalityColumns []SeasonalityColumnDecl `yaml:"seasonality_columns"`
	Detectors         []DetectorConfig `yaml:"detectors"`
	Alerting          *AlertingConfig  `yaml:"alerting"`
	Tables            TablesConfig     `yaml:"tables"`
}

// SeasonalityColumnDecl is one entry of the metric-level
// `seasonality_columns` list ({name, extract} per §6) — the column the
// loader extracts into each datapoint's seasonality blob, as opposed to a
// SeasonalityComponent, which is how a detector groups by those columns.
type SeasonalityColumnDecl struct {
	Name    string `yaml:"name"`
	Extract string `yaml:"extract"` // one of validSeasonalityColumns; defaults to Name
}

// ExtractKey returns the recognized extraction key (one of
// validSeasonalityColumns) this declaration resolves to: Extract if set,
// else Name.
func (s SeasonalityColumnDecl) ExtractKey() string {
	if s.Extract != "" {
		return s.Extract
	}
	return s.Name
}

const (
	defaultLoadingBatchSize = 1000
	maxLoadingBatchSize     = 1_000_000
)

// WithDefaults fills in engine defaults for unset fields.
func (m MetricConfig) WithDefaults() MetricConfig {
	if m.LoadingBatchSize == 0 {
		m.LoadingBatchSize = defaultLoadingBatchSize
	}
	m.QueryColumns = m.QueryColumns.WithDefaults()
	return m
}

// Validate implements the configuration-error class of spec.md §7: fail
// fast, exit 2, never touch the tasks table.
func (m MetricConfig) Validate() error {
	if err := m.validate(); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

func (m MetricConfig) validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("metric name cannot be empty")
	}
	if !metricNamePattern.MatchString(m.Name) {
		return fmt.Errorf("metric name must be alphanumeric (with '_'/'-'), got %q", m.Name)
	}
	if m.Query == "" && m.QueryFile == "" {
		return fmt.Errorf("metric %q: either 'query' or 'query_file' must be set", m.Name)
	}
	if m.Query != "" && m.QueryFile != "" {
		return fmt.Errorf("metric %q: only one of 'query'/'query_file' may be set", m.Name)
	}
	if m.Interval == "" {
		return fmt.Errorf("metric %q: interval is required", m.Name)
	}
	if _, err := interval.Parse(m.Interval); err != nil {
		return fmt.Errorf("metric %q: %w", m.Name, err)
	}

	if m.LoadingBatchSize < 0 {
		return fmt.Errorf("metric %q: loading_batch_size must be at least 1", m.Name)
	}
	if m.LoadingBatchSize > maxLoadingBatchSize {
		return fmt.Errorf("metric %q: loading_batch_size too large (max %d)", m.Name, maxLoadingBatchSize)
	}

	seen := map[string]bool{}
	for _, sc := range m.SeasonalityColumns {
		key := sc.ExtractKey()
		if !validSeasonalityColumns[key] {
			return fmt.Errorf("metric %q: invalid seasonality column %q", m.Name, key)
		}
		if seen[sc.Name] {
			return fmt.Errorf("metric %q: duplicate seasonality column %q", m.Name, sc.Name)
		}
		seen[sc.Name] = true
	}

	for i, d := range m.Detectors {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("metric %q: detector[%d]: %w", m.Name, i, err)
		}
		if d.Type == DetectorManualBounds {
			lower, hasLower := d.Params["lower_bound"]
			upper, hasUpper := d.Params["upper_bound"]
			if !hasLower && !hasUpper {
				return fmt.Errorf("metric %q: detector[%d]: manual_bounds requires at least one of lower_bound/upper_bound", m.Name, i)
			}
			if hasLower && hasUpper {
				lo, lok := toFloat(lower)
				up, uok := toFloat(upper)
				if lok && uok && lo >= up {
					return fmt.Errorf("metric %q: detector[%d]: lower_bound must be less than upper_bound", m.Name, i)
				}
			}
		}
	}

	if m.Alerting != nil {
		if err := m.Alerting.Validate(); err != nil {
			return fmt.Errorf("metric %q: %w", m.Name, err)
		}
		for _, ch := range m.Alerting.Channels {
			if strings.TrimSpace(ch) == "" {
				return fmt.Errorf("metric %q: alerting.channels contains an empty entry", m.Name)
			}
		}
	}

	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// GetInterval parses the metric's interval string.
func (m MetricConfig) GetInterval() (interval.Interval, error) {
	return interval.Parse(m.Interval)
}

// GetQueryText returns the metric's SQL query text, reading QueryFile from
// disk when Query is not inline.
func (m MetricConfig) GetQueryText() (string, error) {
	if m.Query != "" {
		return m.Query, nil
	}
	b, err := os.ReadFile(m.QueryFile)
	if err != nil {
		return "", fmt.Errorf("metric %q: reading query_file: %w", m.Name, err)
	}
	return string(b), nil
}
