package alerts

import (
	"context"
	"errors"
	"fmt"

	"metricwatch/internal/logger"
	"metricwatch/internal/metrics"
	"metricwatch/internal/models"
)

// ErrNoSinks is returned by Multi when no sink is configured
var ErrNoSinks = errors.New("no alert sinks configured")

// Notifier delivers an alarm to one destination
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event *models.AlarmEvent) error
}

// Multi fans an alarm out to every sink in order. All sinks are attempted;
// failures are joined.
type Multi struct {
	sinks []Notifier
}

// NewMulti creates a fan-out notifier. Nil sinks are skipped.
func NewMulti(sinks ...Notifier) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) Name() string { return "multi" }

// Len returns the number of sinks
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Notify(ctx context.Context, event *models.AlarmEvent) error {
	if len(m.sinks) == 0 {
		return ErrNoSinks
	}

	log := logger.WithMetric("alerts", event.Metric)
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, event); err != nil {
			metrics.NotificationsTotal.WithLabelValues(s.Name(), "failed").Inc()
			log.Error().
				Err(err).
				Str("sink", s.Name()).
				Str("event_id", event.ID).
				Msg("Failed to send alarm notification")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(s.Name(), "success").Inc()
		log.Info().
			Str("sink", s.Name()).
			Str("event_id", event.ID).
			Msg("Alarm notification sent")
	}
	return errors.Join(errs...)
}

// Nop discards every alarm. Used when no sink is configured.
type Nop struct{}

func (Nop) Name() string                                     { return "nop" }
func (Nop) Notify(context.Context, *models.AlarmEvent) error { return nil }
