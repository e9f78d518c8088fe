package engine

import (
	"context"

	"metricwatch/internal/alarm"
	"metricwatch/internal/logger"
	"metricwatch/internal/metrics"
	"metricwatch/internal/models"
	"metricwatch/internal/snapshot"
)

// MetricEvaluator extracts a metric for one target and compares it with the
// metric's threshold.
type MetricEvaluator struct {
	Target string
}

// Evaluate never fails: a value that cannot be read yields an unavailable,
// non-breaching observation stamped with the fetch time. The fetch time also
// stands in for a sample without a usable timestamp.
func (e MetricEvaluator) Evaluate(_ context.Context, snap *snapshot.Snapshot, def models.MetricDefinition) models.Observation {
	log := logger.WithMetric("evaluator", def.Name)

	value, ts, err := snapshot.Extract(snap, e.Target, def)
	if err != nil {
		log.Warn().
			Err(err).
			Str("target", e.Target).
			Str("field", def.FieldPath()).
			Msg("Metric unavailable")
		metrics.EvaluationsTotal.WithLabelValues(def.Name, "unavailable").Inc()
		return models.Observation{Timestamp: snap.FetchedAt}
	}

	if ts.IsZero() {
		log.Debug().Time("fetched_at", snap.FetchedAt).Msg("Sample timestamp unusable, using fetch time")
		ts = snap.FetchedAt
	}

	breached := alarm.Breached(&value, def.Threshold, def.Comparator)

	result := "ok"
	if breached {
		result = "breached"
	}
	metrics.EvaluationsTotal.WithLabelValues(def.Name, result).Inc()
	metrics.MetricValue.WithLabelValues(def.Name).Set(value.Float64())

	log.Debug().
		Str("value", value.String()).
		Time("sampled_at", ts).
		Bool("breached", breached).
		Msg("Metric collected")

	return models.Observation{
		Value:     &value,
		Timestamp: ts,
		Breached:  breached,
	}
}
