package store

// DDL for the four internal tables described in spec.md §3. Table names
// default to the original detectkit's `_dtk_*` convention; datapoints and
// detections names are overridable per metric via MetricConfig.Tables,
// tasks and metrics names are global (§6).
const (
	DefaultDatapointsTable = "_dtk_datapoints"
	DefaultDetectionsTable = "_dtk_detections"
	TasksTable             = "_dtk_tasks"
	MetricsTable           = "_dtk_metrics"
)

const datapointsSchema = `
CREATE TABLE IF NOT EXISTS %s (
    metric_name      VARCHAR NOT NULL,
    timestamp        TIMESTAMP NOT NULL,
    value            DOUBLE,
    seasonality_data VARCHAR NOT NULL DEFAULT '{}',
    created_at       TIMESTAMP NOT NULL
);
`

const datapointsIndexes = `
CREATE INDEX IF NOT EXISTS idx_%[1]s_metric_ts ON %[1]s(metric_name, timestamp);
`

const detectionsSchema = `
CREATE TABLE IF NOT EXISTS %s (
    metric_name      VARCHAR NOT NULL,
    detector_hash    VARCHAR NOT NULL,
    timestamp        TIMESTAMP NOT NULL,
    value            DOUBLE,
    is_anomaly       BOOLEAN NOT NULL,
    confidence_lower DOUBLE,
    confidence_upper DOUBLE,
    direction        VARCHAR NOT NULL DEFAULT 'none',
    severity         DOUBLE NOT NULL DEFAULT 0,
    metadata         VARCHAR NOT NULL DEFAULT '{}',
    reason           VARCHAR NOT NULL DEFAULT '',
    created_at       TIMESTAMP NOT NULL
);
`

const detectionsIndexes = `
CREATE INDEX IF NOT EXISTS idx_%[1]s_lookup ON %[1]s(metric_name, detector_hash, timestamp);
CREATE INDEX IF NOT EXISTS idx_%[1]s_created ON %[1]s(created_at);
`

const tasksSchema = `
CREATE TABLE IF NOT EXISTS ` + TasksTable + ` (
    metric_name      VARCHAR NOT NULL,
    status           VARCHAR NOT NULL,
    locked_at        TIMESTAMP,
    lock_expires_at  TIMESTAMP,
    last_run_at      TIMESTAMP,
    last_error       VARCHAR NOT NULL DEFAULT '',
    last_alert_sent  TIMESTAMP,
    alert_count      BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (metric_name)
);
`

const tasksIndexes = `
CREATE INDEX IF NOT EXISTS idx_` + TasksTable + `_metric ON ` + TasksTable + `(metric_name);
`

const metricsSchema = `
CREATE TABLE IF NOT EXISTS ` + MetricsTable + ` (
    metric_name  VARCHAR NOT NULL,
    interval     VARCHAR NOT NULL,
    description  VARCHAR NOT NULL DEFAULT '',
    tags         VARCHAR NOT NULL DEFAULT '',
    enabled      BOOLEAN NOT NULL DEFAULT TRUE,
    alerting_on  BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at   TIMESTAMP NOT NULL
);
`

const metricsIndexes = `
CREATE INDEX IF NOT EXISTS idx_` + MetricsTable + `_metric ON ` + MetricsTable + `(metric_name);
`
