package models

import (
	"time"

	"github.com/google/uuid"
)

// AlarmEvent is published to alert sinks when a metric's breach has been
// sustained for its window.
type AlarmEvent struct {
	ID         string     `json:"id"`
	Target     string     `json:"target"`
	Metric     string     `json:"metric"`
	Value      *Number    `json:"value"`
	Threshold  Number     `json:"threshold"`
	Comparator Comparator `json:"comparator"`

	// Sustained breach duration that triggered the alarm
	AccumulatedSeconds float64 `json:"accumulated_seconds"`
	WindowSeconds      float64 `json:"window_seconds"`

	SampledAt time.Time `json:"sampled_at"`
	FiredAt   time.Time `json:"fired_at"`
}

// NewAlarmEvent builds an alarm event for def from the observation that fired it
func NewAlarmEvent(target string, def MetricDefinition, obs Observation, accumulated time.Duration) *AlarmEvent {
	return &AlarmEvent{
		ID:                 uuid.New().String(),
		Target:             target,
		Metric:             def.Name,
		Value:              obs.Value,
		Threshold:          def.Threshold,
		Comparator:         def.Comparator,
		AccumulatedSeconds: accumulated.Seconds(),
		WindowSeconds:      def.Window.Seconds(),
		SampledAt:          obs.Timestamp,
		FiredAt:            time.Now().UTC(),
	}
}

// PartitionKey keeps one metric's alarms ordered on keyed transports
func (e *AlarmEvent) PartitionKey() string { return e.Metric }

// ValueString renders the value, or "unavailable"
func (e *AlarmEvent) ValueString() string {
	if e.Value == nil {
		return "unavailable"
	}
	return e.Value.String()
}
