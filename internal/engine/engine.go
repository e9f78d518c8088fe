package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"metricwatch/internal/alarm"
	"metricwatch/internal/dispatch"
	"metricwatch/internal/logger"
	"metricwatch/internal/metrics"
	"metricwatch/internal/models"
	"metricwatch/internal/source"
	"metricwatch/internal/worker"
)

// Engine errors
var (
	ErrTickSkipped     = errors.New("tick skipped")
	ErrNonPositiveTick = errors.New("tick period must be positive")
)

// Dispatcher runs the actions for a fired alarm
type Dispatcher interface {
	Dispatch(ctx context.Context, alarm dispatch.Alarm) (dispatch.Outcome, error)
}

// History appends observations and persists them
type History interface {
	Reset(ctx context.Context) error
	Record(ctx context.Context, observations []models.NamedObservation) error
}

// Config holds engine configuration
type Config struct {
	Target         string
	Definitions    []models.MetricDefinition
	Period         time.Duration
	MaxConcurrency int
	ActionTimeout  time.Duration
}

// Fired is one alarm raised during a tick
type Fired struct {
	Metric  string           `json:"metric"`
	Outcome dispatch.Outcome `json:"outcome"`
}

// TickReport summarizes one tick
type TickReport struct {
	StartedAt    time.Time                 `json:"started_at"`
	Duration     time.Duration             `json:"duration"`
	Skipped      bool                      `json:"skipped"`
	Observations []models.NamedObservation `json:"-"`
	Fired        []Fired                   `json:"fired,omitempty"`
}

// Status is the published view of the alarm states after the last tick
type Status struct {
	UpdatedAt time.Time      `json:"updated_at"`
	Ticks     uint64         `json:"ticks"`
	Metrics   []alarm.Status `json:"metrics"`
}

// Engine drives the evaluation loop. Tick and Run must be called from a
// single goroutine; Status and Stats are safe from any goroutine.
type Engine struct {
	cfg        Config
	source     source.Source
	dispatcher Dispatcher
	history    History
	pool       *worker.Pool
	tracker    *alarm.Tracker

	status atomic.Pointer[Status]

	// Metrics
	ticks    atomic.Uint64
	skipped  atomic.Uint64
	failed   atomic.Uint64
	overruns atomic.Uint64
	fired    atomic.Uint64
}

// New creates an engine over validated definitions
func New(cfg Config, src source.Source, d Dispatcher, h History) (*Engine, error) {
	if cfg.Period <= 0 {
		return nil, ErrNonPositiveTick
	}
	if err := models.ValidateDefinitions(cfg.Definitions); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 30 * time.Second
	}

	e := &Engine{
		cfg:        cfg,
		source:     src,
		dispatcher: d,
		history:    h,
		pool: worker.NewPool(worker.Config{
			Evaluator:  MetricEvaluator{Target: cfg.Target},
			MaxWorkers: cfg.MaxConcurrency,
		}),
		tracker: alarm.NewTracker(cfg.Period, cfg.Definitions),
	}
	e.publish()
	return e, nil
}

// Tick runs one evaluation cycle: fetch, evaluate in parallel, update alarm
// states and dispatch in definition order, then persist history once.
func (e *Engine) Tick(ctx context.Context) (*TickReport, error) {
	log := logger.WithComponent("engine")
	report := &TickReport{StartedAt: time.Now().UTC()}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		metrics.TickDuration.Observe(report.Duration.Seconds())
	}()

	snap, err := e.source.Fetch(ctx, e.cfg.Target)
	if err != nil {
		return e.skip(report, err)
	}

	observations := e.pool.Run(ctx, snap, e.cfg.Definitions)
	if err := ctx.Err(); err != nil {
		// Jobs cut short by cancellation are not evidence of recovery
		return e.skip(report, err)
	}

	var errs []error
	report.Observations = make([]models.NamedObservation, len(observations))
	for i, def := range e.cfg.Definitions {
		obs := observations[i]
		report.Observations[i] = models.NamedObservation{Metric: def.Name, Observation: obs}

		fire, accumulated := e.tracker.Apply(def.Name, obs.Breached)
		state, _ := e.tracker.State(def.Name)
		metrics.BreachAccumulatedSeconds.WithLabelValues(def.Name).Set(state.Accumulated.Seconds())
		if !fire {
			continue
		}

		e.fired.Add(1)
		outcome, err := e.dispatch(ctx, dispatch.Alarm{
			Definition:  def,
			Observation: obs,
			Accumulated: accumulated,
		})
		if err != nil {
			log.Error().Err(err).Str("metric", def.Name).Msg("Alarm actions failed")
			errs = append(errs, err)
		}
		report.Fired = append(report.Fired, Fired{Metric: def.Name, Outcome: outcome})
	}

	if err := e.history.Record(ctx, report.Observations); err != nil {
		errs = append(errs, err)
	}

	e.ticks.Add(1)
	e.publish()

	if len(errs) > 0 {
		e.failed.Add(1)
		metrics.TicksTotal.WithLabelValues("failed").Inc()
		return report, errors.Join(errs...)
	}
	metrics.TicksTotal.WithLabelValues("ok").Inc()
	return report, nil
}

func (e *Engine) skip(report *TickReport, cause error) (*TickReport, error) {
	report.Skipped = true
	e.skipped.Add(1)
	metrics.TicksTotal.WithLabelValues("skipped").Inc()
	return report, fmt.Errorf("%w: %w", ErrTickSkipped, cause)
}

func (e *Engine) dispatch(ctx context.Context, a dispatch.Alarm) (dispatch.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()
	return e.dispatcher.Dispatch(ctx, a)
}

// Run resets history and ticks until ctx is cancelled. A tick starts one
// period after the previous tick started, or right away if that tick overran.
// Missed periods are not made up.
func (e *Engine) Run(ctx context.Context) error {
	log := logger.WithComponent("engine")

	if err := e.history.Reset(ctx); err != nil {
		return err
	}

	log.Info().
		Str("target", e.cfg.Target).
		Int("metrics", len(e.cfg.Definitions)).
		Dur("period", e.cfg.Period).
		Int("workers", e.pool.Size(len(e.cfg.Definitions))).
		Msg("Engine started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Uint64("ticks", e.ticks.Load()).Msg("Engine stopped")
			return nil
		case <-timer.C:
		}

		start := time.Now()
		report, err := e.Tick(ctx)
		if err != nil && ctx.Err() == nil {
			level := zerolog.ErrorLevel
			if report.Skipped {
				level = zerolog.WarnLevel
			}
			log.WithLevel(level).Err(err).Dur("duration", report.Duration).Msg("Tick failed")
		}

		elapsed := time.Since(start)
		wait := e.cfg.Period - elapsed
		if wait <= 0 {
			e.overruns.Add(1)
			metrics.TickOverruns.Inc()
			log.Warn().
				Dur("elapsed", elapsed).
				Dur("period", e.cfg.Period).
				Msg("Tick overran its period")
			wait = 0
		}
		timer.Reset(wait)
	}
}

func (e *Engine) publish() {
	e.status.Store(&Status{
		UpdatedAt: time.Now().UTC(),
		Ticks:     e.ticks.Load(),
		Metrics:   e.tracker.Statuses(),
	})
}

// Status returns the alarm states as of the last completed tick
func (e *Engine) Status() Status {
	s := e.status.Load()
	out := *s
	out.Metrics = append([]alarm.Status(nil), s.Metrics...)
	return out
}

// Stats returns engine statistics
func (e *Engine) Stats() Stats {
	return Stats{
		Ticks:    e.ticks.Load(),
		Skipped:  e.skipped.Load(),
		Failed:   e.failed.Load(),
		Overruns: e.overruns.Load(),
		Fired:    e.fired.Load(),
		Workers:  e.pool.Stats(),
	}
}

// Stats holds engine counters
type Stats struct {
	Ticks    uint64       `json:"ticks"`
	Skipped  uint64       `json:"skipped"`
	Failed   uint64       `json:"failed"`
	Overruns uint64       `json:"overruns"`
	Fired    uint64       `json:"fired"`
	Workers  worker.Stats `json:"workers"`
}
