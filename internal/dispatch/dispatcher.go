package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metricwatch/internal/alerts"
	"metricwatch/internal/capacity"
	"metricwatch/internal/logger"
	"metricwatch/internal/metrics"
	"metricwatch/internal/models"
	"metricwatch/internal/storage"
)

// ErrNotification wraps notification failures returned by Dispatch
var ErrNotification = errors.New("alarm notification failed")

// ErrArchive wraps archive failures returned by Dispatch
var ErrArchive = errors.New("history archive failed")

// Alarm is a fired metric together with the observation that fired it
type Alarm struct {
	Definition  models.MetricDefinition
	Observation models.Observation
	Accumulated time.Duration
}

// Outcome records which actions succeeded for one alarm
type Outcome struct {
	EventID    string `json:"event_id"`
	Archived   bool   `json:"archived"`
	Notified   bool   `json:"notified"`
	Remediated bool   `json:"remediated"`

	// Set only when the capacity was changed
	PreviousCapacity int `json:"previous_capacity,omitempty"`
	NewCapacity      int `json:"new_capacity,omitempty"`
}

// DocumentSource supplies the history document to archive
type DocumentSource interface {
	Document() ([]byte, error)
}

// Dispatcher runs the actions for a fired alarm: archive, notify, then
// remediate when the metric controls capacity.
type Dispatcher struct {
	target   string
	notifier alerts.Notifier

	controller capacity.Controller
	group      string
	remediated map[string]struct{}

	archiver storage.Archiver
	history  DocumentSource
}

// Config holds dispatcher configuration
type Config struct {
	Target   string
	Notifier alerts.Notifier
}

// New creates a dispatcher that only notifies. Use WithCapacity and
// WithArchive to add the other actions.
func New(cfg Config) *Dispatcher {
	n := cfg.Notifier
	if n == nil {
		n = alerts.Nop{}
	}
	return &Dispatcher{
		target:     cfg.Target,
		notifier:   n,
		remediated: make(map[string]struct{}),
	}
}

// WithCapacity enables remediation of group for the named metrics
func (d *Dispatcher) WithCapacity(c capacity.Controller, group string, metricNames ...string) *Dispatcher {
	d.controller = c
	d.group = group
	for _, name := range metricNames {
		d.RegisterRemediation(name)
	}
	return d
}

// RegisterRemediation adds a metric to the capacity-controlled set
func (d *Dispatcher) RegisterRemediation(metric string) {
	if metric == "" {
		return
	}
	d.remediated[metric] = struct{}{}
}

// WithArchive uploads the history document before notifying
func (d *Dispatcher) WithArchive(a storage.Archiver, history DocumentSource) *Dispatcher {
	d.archiver = a
	d.history = history
	return d
}

// Dispatch runs the alarm's actions. Archive and notification failures are
// returned; remediation failures are only logged and leave Remediated false.
func (d *Dispatcher) Dispatch(ctx context.Context, alarm Alarm) (Outcome, error) {
	def := alarm.Definition
	event := models.NewAlarmEvent(d.target, def, alarm.Observation, alarm.Accumulated)
	out := Outcome{EventID: event.ID}

	log := logger.WithMetric("dispatch", def.Name)
	log.Info().
		Str("event_id", event.ID).
		Str("value", event.ValueString()).
		Str("threshold", def.Threshold.String()).
		Str("comparator", string(def.Comparator)).
		Dur("accumulated", alarm.Accumulated).
		Msg("Alarm triggered")
	metrics.AlarmsFiredTotal.WithLabelValues(def.Name).Inc()

	var errs []error

	if d.archiver != nil {
		if err := d.archive(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to archive history")
			errs = append(errs, fmt.Errorf("%w: %w", ErrArchive, err))
		} else {
			out.Archived = true
		}
	}

	if err := d.notifier.Notify(ctx, event); err != nil {
		errs = append(errs, fmt.Errorf("%w: %s: %w", ErrNotification, def.Name, err))
	} else {
		out.Notified = true
	}

	if _, ok := d.remediated[def.Name]; ok && d.controller != nil {
		prev, next, changed := d.remediate(ctx, def)
		if changed {
			out.Remediated = true
			out.PreviousCapacity = prev
			out.NewCapacity = next
		}
	}

	return out, errors.Join(errs...)
}

func (d *Dispatcher) archive(ctx context.Context) error {
	doc, err := d.history.Document()
	if err != nil {
		return err
	}
	return d.archiver.Archive(ctx, doc)
}

// remediate moves the desired capacity one step in the breach direction:
// up for greater-than, down for less-than but never below zero.
func (d *Dispatcher) remediate(ctx context.Context, def models.MetricDefinition) (prev, next int, changed bool) {
	log := logger.WithMetric("dispatch", def.Name).With().Str("group", d.group).Logger()

	current, err := d.controller.DesiredCapacity(ctx, d.group)
	if err != nil {
		metrics.RemediationsTotal.WithLabelValues(def.Name, "failed").Inc()
		log.Error().Err(err).Msg("Failed to read desired capacity")
		return 0, 0, false
	}

	desired := current
	switch def.Comparator {
	case models.GreaterThan:
		desired = current + 1
	case models.LessThan:
		if current > 0 {
			desired = current - 1
		}
	}
	if desired == current {
		metrics.RemediationsTotal.WithLabelValues(def.Name, "unchanged").Inc()
		log.Info().Int("desired_capacity", current).Msg("Desired capacity unchanged")
		return current, current, false
	}

	if err := d.controller.SetDesiredCapacity(ctx, d.group, desired, true); err != nil {
		metrics.RemediationsTotal.WithLabelValues(def.Name, "failed").Inc()
		log.Error().Err(err).Int("desired_capacity", desired).Msg("Failed to scale group")
		return current, current, false
	}

	metrics.RemediationsTotal.WithLabelValues(def.Name, "scaled").Inc()
	log.Info().
		Int("previous_capacity", current).
		Int("desired_capacity", desired).
		Msg("Auto Scaling group updated")
	return current, desired, true
}
