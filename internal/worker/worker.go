package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"metricwatch/internal/logger"
	"metricwatch/internal/metrics"
	"metricwatch/internal/models"
	"metricwatch/internal/snapshot"
)

// MaxWorkers caps the pool regardless of configuration
const MaxWorkers = 64

// Evaluator produces one metric's observation from a snapshot. It must only
// read snap and def.
type Evaluator interface {
	Evaluate(ctx context.Context, snap *snapshot.Snapshot, def models.MetricDefinition) models.Observation
}

// Pool evaluates a tick's metrics in parallel. Workers are started by Run and
// have all exited when Run returns.
type Pool struct {
	evaluator  Evaluator
	maxWorkers int

	// Metrics
	evaluated atomic.Uint64
	panicked  atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Evaluator  Evaluator
	MaxWorkers int
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.MaxWorkers > MaxWorkers {
		cfg.MaxWorkers = MaxWorkers
	}

	return &Pool{
		evaluator:  cfg.Evaluator,
		maxWorkers: cfg.MaxWorkers,
	}
}

// Size returns the number of workers used for n jobs
func (p *Pool) Size(n int) int {
	return max(1, min(n, p.maxWorkers))
}

// Run evaluates every definition against snap and returns the observations
// in definition order. Jobs not started before ctx is done are reported as
// unavailable.
func (p *Pool) Run(ctx context.Context, snap *snapshot.Snapshot, defs []models.MetricDefinition) []models.Observation {
	results := make([]models.Observation, len(defs))
	if len(defs) == 0 {
		return results
	}

	workers := p.Size(len(defs))
	metrics.WorkerPoolSize.Set(float64(workers))

	jobs := make(chan int)
	started := make([]bool, len(defs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, &wg, jobs, snap, defs, results)
	}

feed:
	for i := range defs {
		select {
		case jobs <- i:
			started[i] = true
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	for i, ok := range started {
		if !ok {
			results[i] = models.Observation{Timestamp: snap.FetchedAt}
		}
	}
	return results
}

// worker evaluates jobs until the channel is closed
func (p *Pool) worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan int, snap *snapshot.Snapshot, defs []models.MetricDefinition, results []models.Observation) {
	defer wg.Done()

	for i := range jobs {
		results[i] = p.evaluate(ctx, snap, defs[i])
	}
}

// evaluate runs one job, turning a panic into an unavailable observation
func (p *Pool) evaluate(ctx context.Context, snap *snapshot.Snapshot, def models.MetricDefinition) (obs models.Observation) {
	defer func() {
		if r := recover(); r != nil {
			log := logger.WithMetric("worker", def.Name)
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
			p.panicked.Add(1)
			obs = models.Observation{Timestamp: snap.FetchedAt}
		}
	}()

	obs = p.evaluator.Evaluate(ctx, snap, def)
	p.evaluated.Add(1)
	return obs
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Evaluated: p.evaluated.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Evaluated uint64 `json:"evaluated"`
	Panicked  uint64 `json:"panicked"`
}
