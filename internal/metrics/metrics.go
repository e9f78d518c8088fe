package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metricwatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Tick metrics
	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_ticks_total",
			Help: "Total number of evaluation ticks",
		},
		[]string{"status"}, // status: ok, skipped, failed
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metricwatch_tick_duration_seconds",
			Help:    "Time taken by one evaluation tick",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	TickOverruns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metricwatch_tick_overruns_total",
			Help: "Ticks that took longer than the tick period",
		},
	)

	SourceFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metricwatch_source_fetch_duration_seconds",
			Help:    "Time taken to fetch a snapshot from the metrics source",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// Evaluation metrics
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_evaluations_total",
			Help: "Total number of metric evaluations",
		},
		[]string{"metric", "result"}, // result: ok, breached, unavailable
	)

	MetricValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "metricwatch_metric_value",
			Help: "Last extracted value per metric",
		},
		[]string{"metric"},
	)

	BreachAccumulatedSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "metricwatch_breach_accumulated_seconds",
			Help: "Sustained breach duration accumulated per metric",
		},
		[]string{"metric"},
	)

	WorkerPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metricwatch_worker_pool_size",
			Help: "Workers used for the last tick",
		},
	)

	// Action metrics
	AlarmsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_alarms_fired_total",
			Help: "Total number of alarms fired",
		},
		[]string{"metric"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_notifications_total",
			Help: "Total number of alarm notifications",
		},
		[]string{"sink", "status"}, // status: success, failed
	)

	RemediationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_remediations_total",
			Help: "Total number of capacity remediations",
		},
		[]string{"metric", "status"}, // status: scaled, unchanged, failed
	)

	ArchiveUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_archive_uploads_total",
			Help: "Total number of history archive uploads",
		},
		[]string{"status"},
	)

	// History metrics
	HistoryPersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metricwatch_history_persist_duration_seconds",
			Help:    "Time taken to persist the history document",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	HistoryPersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metricwatch_history_persist_failures_total",
			Help: "Total number of failed history writebacks",
		},
	)

	HistoryBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metricwatch_history_bytes",
			Help: "Size of the last persisted history document",
		},
	)

	// Kafka producer metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_kafka_publish_total",
			Help: "Total number of alarm events published to Kafka",
		},
		[]string{"status"},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metricwatch_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricwatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
