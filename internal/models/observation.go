package models

import (
	"time"
)

// Observation is the result of evaluating one metric against one snapshot.
// Value is nil when extraction failed, in which case Breached is false.
type Observation struct {
	Value     *Number   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Breached  bool      `json:"breached"`
}

// Available reports whether a value was extracted
func (o Observation) Available() bool { return o.Value != nil }

// NamedObservation pairs an observation with its metric name
type NamedObservation struct {
	Metric string `json:"metric"`
	Observation
}
