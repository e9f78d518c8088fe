package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"metricwatch/internal/alerts"
	"metricwatch/internal/capacity"
	"metricwatch/internal/config"
	"metricwatch/internal/dispatch"
	"metricwatch/internal/engine"
	"metricwatch/internal/handlers"
	"metricwatch/internal/history"
	"metricwatch/internal/kafka"
	"metricwatch/internal/logger"
	"metricwatch/internal/middleware"
	"metricwatch/internal/models"
	"metricwatch/internal/snapshot"
	"metricwatch/internal/source"
	"metricwatch/internal/storage"
	"metricwatch/internal/worker"
)

// Processor wires the engine to its collaborators and serves the status API.
type Processor struct {
	cfg *config.Config

	store    storage.DocumentStore
	recorder *history.Recorder
	producer *kafka.Producer
	nats     *alerts.NATSNotifier
	engine   *engine.Engine

	httpServer *http.Server
	checks     map[string]handlers.HealthCheck
	wg         sync.WaitGroup
}

// New constructs a Processor with given config.
func New(cfg *config.Config) *Processor {
	return &Processor{
		cfg:    cfg,
		checks: make(map[string]handlers.HealthCheck),
	}
}

// Run builds every component, then evaluates until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Str("target", p.cfg.Target).Msg("processor starting")

	defer p.close()
	if err := p.init(ctx); err != nil {
		log.Error().Err(err).Msg("failed to initialize")
		return err
	}

	if p.httpServer != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			log.Info().Str("addr", p.httpServer.Addr).Msg("starting HTTP server")
			if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("HTTP server error")
			}
		}()
	}

	err := p.engine.Run(ctx)

	p.shutdown()
	return err
}

func (p *Processor) init(ctx context.Context) error {
	defs, err := p.cfg.Definitions()
	if err != nil {
		return err
	}

	if err := p.initHistory(); err != nil {
		return fmt.Errorf("failed to initialize history: %w", err)
	}

	notifier, err := p.initAlerts()
	if err != nil {
		return fmt.Errorf("failed to initialize alerts: %w", err)
	}

	d := dispatch.New(dispatch.Config{Target: p.cfg.Target, Notifier: notifier})

	if p.cfg.Capacity.Enabled {
		asg, err := capacity.NewAutoScaling(ctx, capacity.Config{
			Region:   p.cfg.Capacity.Region,
			Endpoint: p.cfg.Capacity.Endpoint,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize capacity controller: %w", err)
		}
		d.WithCapacity(asg, p.cfg.Capacity.GroupName, p.cfg.Capacity.Metrics...)
	}

	if p.cfg.Archive.Enabled {
		archiver, err := storage.NewS3Archiver(ctx, storage.S3Config{
			Bucket:   p.cfg.Archive.Bucket,
			Key:      p.cfg.Archive.Key,
			Region:   p.cfg.Archive.Region,
			Endpoint: p.cfg.Archive.Endpoint,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize archive: %w", err)
		}
		d.WithArchive(archiver, p.recorder)
	}

	p.engine, err = engine.New(engine.Config{
		Target:         p.cfg.Target,
		Definitions:    defs,
		Period:         p.cfg.Tick.Period,
		MaxConcurrency: p.cfg.Tick.MaxConcurrency,
		ActionTimeout:  p.cfg.Tick.ActionTimeout,
	}, newSource(p.cfg), d, p.recorder)
	if err != nil {
		return err
	}

	p.initHTTPServer()
	return nil
}

// initHistory opens the configured history backend
func (p *Processor) initHistory() error {
	store, err := openStore(p.cfg)
	if err != nil {
		return err
	}
	p.store = store
	p.recorder = history.NewRecorder(p.store)
	return nil
}

// openStore connects the configured history backend
func openStore(cfg *config.Config) (storage.DocumentStore, error) {
	log := logger.WithComponent("processor")

	if cfg.History.Backend == "redis" {
		rc := cfg.History.Redis
		store, err := storage.NewRedisStore(storage.RedisConfig{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
			Key:      rc.Key,
			Timeout:  rc.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	store, err := storage.NewFileStore(cfg.History.Path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", store.Path()).Msg("file history store initialized")
	return store, nil
}

// ReadHistory loads the history document last persisted by a running engine
func ReadHistory(ctx context.Context, cfg *config.Config) (history.Document, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return history.Read(ctx, store)
}

// initAlerts builds the configured alert sinks
func (p *Processor) initAlerts() (alerts.Notifier, error) {
	log := logger.WithComponent("processor")
	var sinks []alerts.Notifier

	if url := p.cfg.Alerts.Slack.WebhookURL; url != "" {
		slack, err := alerts.NewSlackNotifier(url, p.cfg.Tick.ActionTimeout)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, slack)
	}

	if kc := p.cfg.Alerts.Kafka; len(kc.Brokers) > 0 {
		producer, err := kafka.NewProducer(kc.Brokers, kc.Topic, kc.Producer)
		if err != nil {
			return nil, err
		}
		p.producer = producer
		p.checks["kafka"] = producer.HealthCheck
		sinks = append(sinks, alerts.NewKafkaNotifier(producer))
		log.Info().
			Strs("brokers", kc.Brokers).
			Str("topic", kc.Topic).
			Msg("kafka producer initialized")
	}

	if nc := p.cfg.Alerts.NATS; nc.URL != "" {
		n, err := alerts.NewNATSNotifier(nc.URL, nc.Subject)
		if err != nil {
			return nil, err
		}
		p.nats = n
		sinks = append(sinks, n)
	}

	if len(sinks) == 0 {
		log.Warn().Msg("no alert sinks configured, alarms will only be logged")
		return alerts.Nop{}, nil
	}
	multi := alerts.NewMulti(sinks...)
	log.Info().Int("sinks", multi.Len()).Msg("alert sinks initialized")
	return multi, nil
}

// initHTTPServer sets up the status API; an empty address disables it
func (p *Processor) initHTTPServer() {
	if p.cfg.HTTP.Addr == "" {
		return
	}

	mux := http.NewServeMux()
	handlers.NewStatusHandler(p.engine, p.checks).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := middleware.Chain(mux,
		middleware.Timeout(5*time.Second),
		middleware.Recovery,
		middleware.RequestID,
		middleware.Logging,
	)

	p.httpServer = &http.Server{
		Addr:         p.cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// shutdown stops the HTTP server and waits for background goroutines
func (p *Processor) shutdown() {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	if p.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		log.Info().Msg("stopping HTTP server")
		if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	p.wg.Wait()

	stats := p.engine.Stats()
	log.Info().
		Uint64("ticks", stats.Ticks).
		Uint64("skipped", stats.Skipped).
		Uint64("failed", stats.Failed).
		Uint64("fired", stats.Fired).
		Msg("processor stopped gracefully")
}

// close releases transports opened by init
func (p *Processor) close() {
	log := logger.WithComponent("processor")
	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			log.Error().Err(err).Msg("producer close error")
		}
	}
	if p.nats != nil {
		p.nats.Close()
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			log.Error().Err(err).Msg("history store close error")
		}
	}
}

// Probe fetches one snapshot and evaluates every metric without touching
// alarm state, history or actions.
func Probe(ctx context.Context, cfg *config.Config) ([]models.NamedObservation, error) {
	defs, err := cfg.Definitions()
	if err != nil {
		return nil, err
	}

	snap, err := newSource(cfg).Fetch(ctx, cfg.Target)
	if err != nil {
		return nil, err
	}
	return evaluate(ctx, snap, cfg, defs), nil
}

func evaluate(ctx context.Context, snap *snapshot.Snapshot, cfg *config.Config, defs []models.MetricDefinition) []models.NamedObservation {
	pool := worker.NewPool(worker.Config{
		Evaluator:  engine.MetricEvaluator{Target: cfg.Target},
		MaxWorkers: cfg.Tick.MaxConcurrency,
	})
	observations := pool.Run(ctx, snap, defs)

	out := make([]models.NamedObservation, len(defs))
	for i, def := range defs {
		out[i] = models.NamedObservation{Metric: def.Name, Observation: observations[i]}
	}
	return out
}

func newSource(cfg *config.Config) *source.CAdvisor {
	return source.NewCAdvisor(cfg.Source.BaseURL, cfg.Source.Timeout, source.WithMaxBodyBytes(cfg.Source.MaxBodyBytes))
}
