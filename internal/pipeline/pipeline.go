// Package pipeline implements the orchestrator (C10, spec.md §4.10): for
// one metric, acquire its run lock, execute the selected steps in order
// (LOAD, DETECT, ALERT), record the declared configuration, and release
// the lock with a terminal status.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/alexeiveselov92/detectkit/internal/alert"
	"github.com/alexeiveselov92/detectkit/internal/config"
	"github.com/alexeiveselov92/detectkit/internal/detectors"
	"github.com/alexeiveselov92/detectkit/internal/loader"
	"github.com/alexeiveselov92/detectkit/internal/model"
	"github.com/alexeiveselov92/detectkit/internal/obs"
	"github.com/alexeiveselov92/detectkit/internal/runner"
	"github.com/alexeiveselov92/detectkit/internal/store"
)

// Step names a stage the caller asked the orchestrator to run, matching
// the --steps load,detect,alert CLI flag (§6, parsing out of scope here).
type Step string

const (
	StepLoad   Step = "load"
	StepDetect Step = "detect"
	StepAlert  Step = "alert"
)

// DefaultLockTimeout is the lock_timeout §5 defaults to (3600s) absent an
// override.
const DefaultLockTimeout = time.Hour

// Kind discriminates the error taxonomy of spec.md §7, so callers can
// errors.As into *Error and pick an exit code without string-matching.
type Kind string

const (
	KindLockContention Kind = "lock_contention"
	KindDatabase        Kind = "database"
	KindData             Kind = "data"
	KindAlert            Kind = "alert"
)

// Error is the orchestrator's typed wrapper for the non-configuration
// error classes of §7's table; configuration errors surface as
// *config.ValidationError instead, before a pipeline run ever starts.
type Error struct {
	Kind   Kind
	Metric string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline: metric %q: %s: %v", e.Metric, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is what a single Run call reports back to the caller (the CLI
// wrapper, out of scope here, exits 0/1 based on it).
type Result struct {
	RunID          string
	MetricName     string
	Status         model.TaskStatus
	StepsRun       []Step
	DatapointsLoaded int
	AnomaliesFound   int
	Alerted          bool
	Err              error
}

// Pipeline wires the four previously-built components (loader, runner,
// evaluator, dispatcher) around the store's lock/bookkeeping tables.
type Pipeline struct {
	store      *store.Store
	loader     *loader.Loader
	runner     *runner.Runner
	evaluator  *alert.Evaluator
	dispatcher *alert.Dispatcher
	now        func() time.Time
}

// New returns a Pipeline. dispatcher may be nil when no metric in this
// invocation has alerting enabled; Run skips ALERT's dispatch step in
// that case rather than erroring.
func New(st *store.Store, ld *loader.Loader, rn *runner.Runner, ev *alert.Evaluator, dp *alert.Dispatcher) *Pipeline {
	return &Pipeline{store: st, loader: ld, runner: rn, evaluator: ev, dispatcher: dp, now: time.Now}
}

// Options controls one Run invocation. To is optional (§6's --to flag);
// a zero value defaults to the run's start time, matching "load/detect
// up through now" rather than silently loading nothing.
type Options struct {
	Steps       []Step
	From, To    time.Time
	FullRefresh bool
	Force       bool
	LockTimeout time.Duration
}

func (o Options) has(s Step) bool {
	if len(o.Steps) == 0 {
		return true // no --steps filter: run everything
	}
	for _, s2 := range o.Steps {
		if s2 == s {
			return true
		}
	}
	return false
}

// Run implements the §4.10 algorithm for one metric.
func (p *Pipeline) Run(ctx context.Context, cfg config.MetricConfig, opts Options) Result {
	runID := uuid.New().String()
	runStartedAt := p.now().UTC()
	res := Result{RunID: runID, MetricName: cfg.Name}

	lockTimeout := opts.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	if opts.To.IsZero() {
		opts.To = runStartedAt
	}

	if !opts.Force {
		ok, err := p.store.AcquireLock(ctx, cfg.Name, runStartedAt, lockTimeout)
		if err != nil {
			res.Status = model.TaskFailed
			res.Err = &Error{Kind: KindDatabase, Metric: cfg.Name, Err: err}
			return res
		}
		if !ok {
			obs.LockContentionTotal.WithLabelValues(cfg.Name).Inc()
			res.Status = model.TaskRunning
			res.Err = &Error{Kind: KindLockContention, Metric: cfg.Name, Err: fmt.Errorf("lock held by another run")}
			return res
		}
	}

	log.Printf("[%s] run %s: starting steps=%v full_refresh=%v", cfg.Name, runID, opts.Steps, opts.FullRefresh)

	status, runErr := p.execute(ctx, cfg, opts, runStartedAt, &res)

	releaseErr := p.store.ReleaseLock(ctx, cfg.Name, p.now().UTC(), status, errString(runErr))
	if releaseErr != nil && runErr == nil {
		runErr = &Error{Kind: KindDatabase, Metric: cfg.Name, Err: releaseErr}
	}

	res.Status = status
	res.Err = runErr
	obs.PipelineRunsTotal.WithLabelValues(cfg.Name, string(status)).Inc()
	if runErr != nil {
		log.Printf("[%s] run %s: failed: %v", cfg.Name, runID, runErr)
	} else {
		log.Printf("[%s] run %s: done: loaded=%d anomalies=%d alerted=%v", cfg.Name, runID, res.DatapointsLoaded, res.AnomaliesFound, res.Alerted)
	}
	return res
}

func (p *Pipeline) execute(ctx context.Context, cfg config.MetricConfig, opts Options, runStartedAt time.Time, res *Result) (model.TaskStatus, error) {
	if opts.has(StepLoad) {
		res.StepsRun = append(res.StepsRun, StepLoad)
		n, err := timeStep(cfg.Name, StepLoad, func() (int, error) {
			return p.loader.Load(ctx, cfg, opts.From, opts.To, opts.FullRefresh)
		})
		res.DatapointsLoaded = n
		obs.DatapointsLoadedTotal.WithLabelValues(cfg.Name).Add(float64(n))
		if err != nil {
			return model.TaskFailed, &Error{Kind: KindData, Metric: cfg.Name, Err: err}
		}
	}

	var hashes []string
	if opts.has(StepDetect) {
		res.StepsRun = append(res.StepsRun, StepDetect)
		n, err := timeStep(cfg.Name, StepDetect, func() (int, error) {
			return p.runner.Detect(ctx, cfg, opts.FullRefresh)
		})
		res.AnomaliesFound = n
		obs.AnomaliesDetectedTotal.WithLabelValues(cfg.Name).Add(float64(n))
		if err != nil {
			return model.TaskFailed, &Error{Kind: KindData, Metric: cfg.Name, Err: err}
		}
	}
	for _, dc := range cfg.Detectors {
		det, _, err := detectors.Build(dc)
		if err != nil {
			return model.TaskFailed, &Error{Kind: KindData, Metric: cfg.Name, Err: err}
		}
		hashes = append(hashes, det.Hash())
	}

	if opts.has(StepAlert) {
		res.StepsRun = append(res.StepsRun, StepAlert)
		started := p.now()
		event, err := p.evaluator.Evaluate(ctx, cfg, hashes, runStartedAt)
		obs.PipelineStepDuration.WithLabelValues(cfg.Name, string(StepAlert)).Observe(p.now().Sub(started).Seconds())
		if err != nil {
			return model.TaskFailed, &Error{Kind: KindAlert, Metric: cfg.Name, Err: err}
		}
		if event != nil {
			res.Alerted = true
			obs.AlertsFiredTotal.WithLabelValues(cfg.Name).Inc()
			if p.dispatcher != nil && cfg.Alerting != nil {
				results := p.dispatcher.Dispatch(ctx, *event, cfg.Alerting.WithDefaults(), cfg.Alerting.Channels)
				for name, derr := range results {
					status := "ok"
					if derr != nil {
						status = "error"
						log.Printf("[%s] run: alert channel %q failed: %v", cfg.Name, name, derr)
					}
					obs.AlertDispatchTotal.WithLabelValues(cfg.Name, name, status).Inc()
				}
			}
		}
	}

	if err := p.store.UpsertMetricMetadata(ctx, metadataOf(cfg, p.now().UTC())); err != nil {
		return model.TaskFailed, &Error{Kind: KindDatabase, Metric: cfg.Name, Err: err}
	}

	return model.TaskSuccess, nil
}

func metadataOf(cfg config.MetricConfig, now time.Time) model.MetricMetadata {
	return model.MetricMetadata{
		MetricName:  cfg.Name,
		Interval:    cfg.Interval,
		Description: cfg.Description,
		Tags:        cfg.Tags,
		Enabled:     cfg.Enabled,
		AlertingOn:  cfg.Alerting != nil && cfg.Alerting.Enabled,
		UpdatedAt:   now,
	}
}

func timeStep(metric string, step Step, fn func() (int, error)) (int, error) {
	started := time.Now()
	n, err := fn()
	obs.PipelineStepDuration.WithLabelValues(metric, string(step)).Observe(time.Since(started).Seconds())
	return n, err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
