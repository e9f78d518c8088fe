package alarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metricwatch/internal/models"
)

const period = 60 * time.Second

func definition(name string, cmp models.Comparator, threshold int64, window time.Duration) models.MetricDefinition {
	return models.MetricDefinition{
		Name:       name,
		Area:       "cpu",
		Path:       []string{"usage", "total"},
		Threshold:  models.Int(threshold),
		Comparator: cmp,
		Window:     window,
	}
}

func num(v int64) *models.Number {
	n := models.Int(v)
	return &n
}

func TestBreached(t *testing.T) {
	tests := []struct {
		name  string
		value *models.Number
		cmp   models.Comparator
		want  bool
	}{
		{"above greater-than", num(600), models.GreaterThan, true},
		{"equal greater-than", num(500), models.GreaterThan, false},
		{"below greater-than", num(400), models.GreaterThan, false},
		{"below less-than", num(400), models.LessThan, true},
		{"equal less-than", num(500), models.LessThan, false},
		{"above less-than", num(600), models.LessThan, false},
		{"nil greater-than", nil, models.GreaterThan, false},
		{"nil less-than", nil, models.LessThan, false},
		{"unknown comparator", num(600), models.Comparator("equal"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Breached(tt.value, models.Int(500), tt.cmp))
		})
	}
}

func TestBreachedDirectionsAreExclusive(t *testing.T) {
	threshold := models.Float(10.5)
	for _, v := range []float64{-1, 0, 10, 10.5, 11, 1e9} {
		n := models.Float(v)
		gt := Breached(&n, threshold, models.GreaterThan)
		lt := Breached(&n, threshold, models.LessThan)
		assert.False(t, gt && lt, "value %v breached both directions", v)
	}
}

func feed(tr *Tracker, metric string, values []int64, threshold int64, cmp models.Comparator) []bool {
	fires := make([]bool, len(values))
	for i, v := range values {
		fires[i], _ = tr.Apply(metric, Breached(num(v), models.Int(threshold), cmp))
	}
	return fires
}

func TestTrackerFiresAfterSustainedBreach(t *testing.T) {
	def := definition("m", models.GreaterThan, 500, 180*time.Second)
	tr := NewTracker(period, []models.MetricDefinition{def})

	fire, acc := tr.Apply("m", true)
	assert.False(t, fire)
	assert.Equal(t, 60*time.Second, acc)

	fire, acc = tr.Apply("m", true)
	assert.False(t, fire)
	assert.Equal(t, 120*time.Second, acc)

	fire, acc = tr.Apply("m", true)
	assert.True(t, fire)
	assert.Equal(t, 180*time.Second, acc)

	state, ok := tr.State("m")
	require.True(t, ok)
	assert.True(t, state.Breaching)
	assert.Zero(t, state.Accumulated)

	fire, _ = tr.Apply("m", false)
	assert.False(t, fire)
	state, _ = tr.State("m")
	assert.Equal(t, State{}, state)
}

func TestTrackerClearResetsAccumulation(t *testing.T) {
	def := definition("m", models.LessThan, 10, 120*time.Second)
	tr := NewTracker(period, []models.MetricDefinition{def})

	fires := feed(tr, "m", []int64{5, 15, 5}, 10, models.LessThan)
	assert.Equal(t, []bool{false, false, false}, fires)

	state, _ := tr.State("m")
	assert.True(t, state.Breaching)
	assert.Equal(t, period, state.Accumulated)
}

func TestTrackerSinglePeriodWindowFiresOnFirstBreach(t *testing.T) {
	def := definition("m", models.LessThan, 10, period)
	tr := NewTracker(period, []models.MetricDefinition{def})

	fires := feed(tr, "m", []int64{5, 15, 5}, 10, models.LessThan)
	assert.Equal(t, []bool{true, false, true}, fires)
}

func TestTrackerRefiresOnlyAfterAnotherWindow(t *testing.T) {
	def := definition("m", models.GreaterThan, 500, 180*time.Second)
	tr := NewTracker(period, []models.MetricDefinition{def})

	fires := feed(tr, "m", []int64{600, 600, 600, 600, 600, 600, 600}, 500, models.GreaterThan)
	assert.Equal(t, []bool{false, false, true, false, false, true, false}, fires)

	statuses := tr.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, uint64(2), statuses[0].Fires)
	assert.NotNil(t, statuses[0].LastFiredAt)
}

func TestTrackerAccumulationIsMultipleOfPeriod(t *testing.T) {
	def := definition("m", models.GreaterThan, 500, 10*period)
	tr := NewTracker(period, []models.MetricDefinition{def})

	values := []int64{600, 600, 400, 600, 600, 600, 400, 400, 600}
	for _, v := range values {
		tr.Apply("m", v > 500)
		state, _ := tr.State("m")
		assert.Zero(t, state.Accumulated%period)
		if !state.Breaching {
			assert.Zero(t, state.Accumulated)
		}
	}
}

func TestTrackerIndependentMetrics(t *testing.T) {
	defs := []models.MetricDefinition{
		definition("cpu", models.GreaterThan, 500, 180*time.Second),
		definition("mem", models.GreaterThan, 500, 180*time.Second),
	}
	tr := NewTracker(period, defs)

	tr.Apply("cpu", true)
	tr.Apply("mem", false)

	cpu, _ := tr.State("cpu")
	mem, _ := tr.State("mem")
	assert.Equal(t, period, cpu.Accumulated)
	assert.Zero(t, mem.Accumulated)

	statuses := tr.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "cpu", statuses[0].Metric)
	assert.Equal(t, "mem", statuses[1].Metric)
}

func TestTrackerUnknownMetric(t *testing.T) {
	tr := NewTracker(period, nil)

	fire, acc := tr.Apply("nope", true)
	assert.False(t, fire)
	assert.Zero(t, acc)

	_, ok := tr.State("nope")
	assert.False(t, ok)
}
