package alarm

import (
	"sort"
	"time"

	"metricwatch/internal/models"
)

// State is the alarm bookkeeping for one metric
type State struct {
	Breaching   bool          `json:"breaching"`
	Accumulated time.Duration `json:"accumulated"`
}

// Status is a read-only view of one metric's state
type Status struct {
	Metric             string     `json:"metric"`
	Breaching          bool       `json:"breaching"`
	AccumulatedSeconds float64    `json:"accumulated_seconds"`
	WindowSeconds      float64    `json:"window_seconds"`
	Fires              uint64     `json:"fires"`
	LastFiredAt        *time.Time `json:"last_fired_at,omitempty"`
}

type entry struct {
	state    State
	window   time.Duration
	fires    uint64
	lastFire *time.Time
}

// Tracker runs the sustained-breach state machine for every metric.
//
// Per tick with period P:
//
//	Clear     + breach    -> Breaching, accumulated = P
//	Breaching + breach    -> accumulated += P
//	Breaching + no breach -> Clear, accumulated = 0
//
// After the transition the metric fires when accumulated >= window, and
// accumulated is reset to 0 whatever the outcome of the resulting actions.
// A continuing breach fires again only after another full window.
//
// Tracker is not safe for concurrent use; the engine drives it from one goroutine.
type Tracker struct {
	period  time.Duration
	entries map[string]*entry
	now     func() time.Time
}

// NewTracker creates a tracker with one Clear state per definition
func NewTracker(period time.Duration, defs []models.MetricDefinition) *Tracker {
	t := &Tracker{
		period:  period,
		entries: make(map[string]*entry, len(defs)),
		now:     time.Now,
	}
	for _, d := range defs {
		t.entries[d.Name] = &entry{window: d.Window}
	}
	return t
}

// Apply feeds one tick's breach flag for metric and reports whether it fires.
// It also returns the accumulated duration at the moment of the decision,
// before any reset. Unknown metrics never fire.
func (t *Tracker) Apply(metric string, breached bool) (fire bool, accumulated time.Duration) {
	e, ok := t.entries[metric]
	if !ok {
		return false, 0
	}

	if breached {
		if e.state.Breaching {
			e.state.Accumulated += t.period
		} else {
			e.state = State{Breaching: true, Accumulated: t.period}
		}
	} else {
		e.state = State{}
	}

	accumulated = e.state.Accumulated
	if e.state.Breaching && accumulated >= e.window {
		e.state.Accumulated = 0
		e.fires++
		firedAt := t.now().UTC()
		e.lastFire = &firedAt
		return true, accumulated
	}
	return false, accumulated
}

// State returns the current state of metric
func (t *Tracker) State(metric string) (State, bool) {
	e, ok := t.entries[metric]
	if !ok {
		return State{}, false
	}
	return e.state, true
}

// Statuses returns a copy of every metric's state, sorted by name
func (t *Tracker) Statuses() []Status {
	out := make([]Status, 0, len(t.entries))
	for name, e := range t.entries {
		out = append(out, Status{
			Metric:             name,
			Breaching:          e.state.Breaching,
			AccumulatedSeconds: e.state.Accumulated.Seconds(),
			WindowSeconds:      e.window.Seconds(),
			Fires:              e.fires,
			LastFiredAt:        e.lastFire,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out
}
