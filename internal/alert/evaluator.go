// Package alert implements the alert evaluator (C8, spec.md §4.8): given
// a metric's alert policy and its detectors' recent verdicts, it decides
// whether at most one alert event should fire.
package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alexeiveselov92/detectkit/internal/config"
	"github.com/alexeiveselov92/detectkit/internal/interval"
	"github.com/alexeiveselov92/detectkit/internal/model"
	"github.com/alexeiveselov92/detectkit/internal/store"
)

// Event is the outcome of a successful evaluation, ready for the
// dispatcher to render and deliver.
type Event struct {
	MetricName        string
	Timestamp         time.Time
	Value             *float64
	ConfidenceLower   *float64
	ConfidenceUpper   *float64
	Direction         model.Direction
	Severity          float64
	DetectorNames     []string
	DetectorCount     int
	ConsecutiveCount  int
	NoData            bool
	Timezone          string
}

// DetectorLabel renders the event's detector attribution the way the
// original orchestrator does: the lone detector's own name when exactly
// one agreed, or "N detectors" when several agreed jointly.
func (e Event) DetectorLabel() string {
	if e.DetectorCount > 1 {
		return fmt.Sprintf("%d detectors", e.DetectorCount)
	}
	if len(e.DetectorNames) > 0 {
		return e.DetectorNames[0]
	}
	return ""
}

// IsFirstInSequence reports whether this event represents a single-point
// anomaly (consecutive_anomalies effectively 1) rather than a confirmed
// run — the dispatcher's signal for picking template_single over
// template_consecutive.
func (e Event) IsFirstInSequence() bool {
	return e.ConsecutiveCount <= 1
}

// Evaluator decides whether a metric's recent detections warrant an alert.
type Evaluator struct {
	store *store.Store
	now   func() time.Time
}

// New returns an Evaluator reading/writing bookkeeping through st.
func New(st *store.Store) *Evaluator {
	return &Evaluator{store: st, now: time.Now}
}

// Evaluate implements the §4.8 algorithm. detectorHashes is the set of
// fingerprints configured for this metric (one per entry of
// cfg.Detectors); runStartedAt is the current pipeline invocation's start
// time, used to exclude historical backfill detections from triggering
// fresh alerts.
func (e *Evaluator) Evaluate(ctx context.Context, cfg config.MetricConfig, detectorHashes []string, runStartedAt time.Time) (*Event, error) {
	if cfg.Alerting == nil || !cfg.Alerting.Enabled || len(detectorHashes) == 0 {
		return nil, nil
	}
	policy := cfg.Alerting.WithDefaults()

	st := e.store
	if cfg.Tables.Datapoints != "" || cfg.Tables.Detections != "" {
		st = st.WithTables(cfg.Tables.Datapoints, cfg.Tables.Detections)
	}

	now := e.now().UTC()

	lastAlertSent, hasLastAlert, err := st.GetLastAlertTimestamp(ctx, cfg.Name)
	if err != nil {
		return nil, err
	}

	var cooldown time.Duration
	if policy.AlertCooldown != "" {
		iv, err := interval.Parse(policy.AlertCooldown)
		if err != nil {
			return nil, fmt.Errorf("alert: metric %q: %w", cfg.Name, err)
		}
		cooldown = iv.Duration()
	}
	inCooldown := hasLastAlert && cooldown > 0 && lastAlertSent.Add(cooldown).After(now)

	n := policy.ConsecutiveAnomalies
	if n <= 0 {
		n = 1
	}

	fetchCount := n
	if inCooldown && policy.CooldownResetOnRecovery {
		// Look back further than the alert window so a recovery point
		// that occurred before the most recent N detections is still
		// visible.
		fetchCount = n * 4
	}

	hashes := append([]string(nil), detectorHashes...)
	sort.Strings(hashes)

	perHash := map[string][]model.Detection{}
	for _, h := range hashes {
		rows, err := st.GetRecentDetections(ctx, cfg.Name, []string{h}, fetchCount, &runStartedAt)
		if err != nil {
			return nil, err
		}
		perHash[h] = rows
	}
	aligned := alignByTimestamp(perHash)

	if inCooldown {
		if !policy.CooldownResetOnRecovery {
			return nil, nil
		}
		if !hasRecovery(aligned, policy, lastAlertSent, len(hashes)) {
			return nil, nil
		}
	}

	event := findConsecutiveAlert(aligned, policy, n, len(hashes))
	if event == nil {
		noData, ts, err := e.checkNoData(ctx, st, cfg, policy, now)
		if err != nil {
			return nil, err
		}
		if noData {
			event = &Event{
				MetricName:       cfg.Name,
				Timestamp:        ts,
				NoData:           true,
				ConsecutiveCount: n,
				Timezone:         policy.Timezone,
			}
		}
	}
	if event == nil {
		return nil, nil
	}
	event.MetricName = cfg.Name
	if event.Timezone == "" {
		event.Timezone = policy.Timezone
	}

	// Recording happens before dispatch returns so the cooldown gate is
	// correct even if delivery later fails (§4.8).
	if err := st.RecordAlert(ctx, cfg.Name, now); err != nil {
		return event, err
	}
	return event, nil
}

type alignedPoint struct {
	ts   time.Time
	dets map[string]model.Detection
}

func alignByTimestamp(perHash map[string][]model.Detection) []alignedPoint {
	byTs := map[int64]map[string]model.Detection{}
	for hash, rows := range perHash {
		for _, d := range rows {
			m := byTs[d.Timestamp.Unix()]
			if m == nil {
				m = map[string]model.Detection{}
				byTs[d.Timestamp.Unix()] = m
			}
			m[hash] = d
		}
	}
	out := make([]alignedPoint, 0, len(byTs))
	for _, m := range byTs {
		var ts time.Time
		for _, d := range m {
			ts = d.Timestamp
			break
		}
		out = append(out, alignedPoint{ts: ts, dets: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ts.Before(out[j].ts) })
	return out
}

// jointlyAnomalous implements §4.8 step 3. The "same" predicate requires
// agreement among anomalous detectors only when more than one detector
// is configured at all — with exactly one detector configured, "same" is
// vacuously satisfied by that detector alone. With multiple detectors
// configured, exactly one of them firing resolves to "no alert" (§9 open
// question), regardless of min_detectors.
func jointlyAnomalous(dets map[string]model.Detection, minDetectors int, direction config.Direction, totalDetectors int) (bool, model.Direction) {
	var anomalous []model.Detection
	for _, d := range dets {
		if d.IsAnomaly {
			anomalous = append(anomalous, d)
		}
	}
	if len(anomalous) == 0 || len(anomalous) < minDetectors {
		return false, model.DirectionNone
	}

	switch direction {
	case config.DirectionUp:
		for _, d := range anomalous {
			if d.Direction != model.DirectionAbove {
				return false, model.DirectionNone
			}
		}
		return true, model.DirectionAbove
	case config.DirectionDown:
		for _, d := range anomalous {
			if d.Direction != model.DirectionBelow {
				return false, model.DirectionNone
			}
		}
		return true, model.DirectionBelow
	case config.DirectionSame:
		if totalDetectors > 1 && len(anomalous) < 2 {
			return false, model.DirectionNone
		}
		dir := anomalous[0].Direction
		for _, d := range anomalous[1:] {
			if d.Direction != dir {
				return false, model.DirectionNone
			}
		}
		return true, dir
	default: // "any"
		return true, anomalous[0].Direction
	}
}

func hasRecovery(aligned []alignedPoint, policy config.AlertingConfig, lastAlertSent time.Time, totalDetectors int) bool {
	for _, p := range aligned {
		if !p.ts.After(lastAlertSent) {
			continue
		}
		if ok, _ := jointlyAnomalous(p.dets, policy.MinDetectors, policy.Direction, totalDetectors); !ok {
			return true
		}
	}
	return false
}

func findConsecutiveAlert(aligned []alignedPoint, policy config.AlertingConfig, n, totalDetectors int) *Event {
	if len(aligned) < n {
		return nil
	}
	tail := aligned[len(aligned)-n:]

	names := map[string]bool{}
	var dir model.Direction
	for _, p := range tail {
		ok, d := jointlyAnomalous(p.dets, policy.MinDetectors, policy.Direction, totalDetectors)
		if !ok {
			return nil
		}
		dir = d
		for h, det := range p.dets {
			if det.IsAnomaly {
				names[detectorDisplayName(h)] = true
			}
		}
	}

	last := tail[len(tail)-1]
	rep := pickRepresentative(last.dets)

	nameList := make([]string, 0, len(names))
	for name := range names {
		nameList = append(nameList, name)
	}
	sort.Strings(nameList)

	return &Event{
		Timestamp:        last.ts,
		Value:            rep.Value,
		ConfidenceLower:  rep.ConfidenceLower,
		ConfidenceUpper:  rep.ConfidenceUpper,
		Direction:        dir,
		Severity:         rep.Severity,
		DetectorNames:    nameList,
		DetectorCount:    len(nameList),
		ConsecutiveCount: n,
	}
}

func pickRepresentative(dets map[string]model.Detection) model.Detection {
	var best model.Detection
	bestSeverity := -1.0
	for _, d := range dets {
		if d.IsAnomaly && d.Severity > bestSeverity {
			best = d
			bestSeverity = d.Severity
		}
	}
	return best
}

func detectorDisplayName(hash string) string {
	if i := strings.IndexByte(hash, '|'); i >= 0 {
		return hash[:i]
	}
	return hash
}

func (e *Evaluator) checkNoData(ctx context.Context, st *store.Store, cfg config.MetricConfig, policy config.AlertingConfig, now time.Time) (bool, time.Time, error) {
	if !policy.NoDataAlert {
		return false, time.Time{}, nil
	}
	iv, err := cfg.GetInterval()
	if err != nil {
		return false, time.Time{}, err
	}
	n := policy.ConsecutiveAnomalies
	if n <= 0 {
		n = 1
	}

	expected := iv.Align(now)
	last, ok, err := st.GetLastTimestamp(ctx, cfg.Name)
	if err != nil {
		return false, time.Time{}, err
	}
	if !ok {
		return false, time.Time{}, nil
	}

	missingIntervals := int(expected.Sub(last) / iv.Duration())
	if missingIntervals > n {
		return true, expected, nil
	}

	window, err := st.LoadWindow(ctx, cfg.Name, expected.Add(iv.Duration()), n)
	if err != nil {
		return false, time.Time{}, err
	}
	if len(window) < n {
		return false, time.Time{}, nil
	}
	for _, dp := range window {
		if dp.Value != nil {
			return false, time.Time{}, nil
		}
	}
	return true, expected, nil
}
