package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metricwatch/internal/dispatch"
	"metricwatch/internal/models"
	"metricwatch/internal/snapshot"
)

// fakeSource serves canned documents in order, repeating the last one
type fakeSource struct {
	mu    sync.Mutex
	docs  []string
	errs  []error
	calls int
}

func (f *fakeSource) Fetch(ctx context.Context, target string) (*snapshot.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := min(f.calls, len(f.docs)-1)
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return snapshot.Parse(strings.NewReader(f.docs[i]))
}

type fakeDispatcher struct {
	alarms []dispatch.Alarm
	err    error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, a dispatch.Alarm) (dispatch.Outcome, error) {
	f.alarms = append(f.alarms, a)
	if _, ok := ctx.Deadline(); !ok {
		return dispatch.Outcome{}, errors.New("dispatch without deadline")
	}
	return dispatch.Outcome{Notified: f.err == nil}, f.err
}

type fakeHistory struct {
	mu      sync.Mutex
	resets  int
	records [][]models.NamedObservation
	err     error
}

func (f *fakeHistory) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeHistory) Record(ctx context.Context, obs []models.NamedObservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, obs)
	return f.err
}

func (f *fakeHistory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func doc(values map[string]int) string {
	var fields []string
	for k, v := range values {
		fields = append(fields, fmt.Sprintf("%q: {\"usage\": {\"total\": %d}}", k, v))
	}
	return fmt.Sprintf(`{"/docker/1": {"aliases": ["app"], "stats": [{"timestamp": "2024-01-15T10:30:00Z", %s}]}}`,
		strings.Join(fields, ", "))
}

func def(name, area string, window time.Duration) models.MetricDefinition {
	return models.MetricDefinition{
		Name:       name,
		Area:       area,
		Path:       []string{"usage", "total"},
		Threshold:  models.Int(500),
		Comparator: models.GreaterThan,
		Window:     window,
	}
}

func newEngine(t *testing.T, src *fakeSource, d *fakeDispatcher, h *fakeHistory, defs ...models.MetricDefinition) *Engine {
	t.Helper()
	e, err := New(Config{
		Target:         "app",
		Definitions:    defs,
		Period:         time.Minute,
		MaxConcurrency: 4,
		ActionTimeout:  time.Second,
	}, src, d, h)
	require.NoError(t, err)
	return e
}

func TestTickFiresAfterWindowAndClears(t *testing.T) {
	src := &fakeSource{docs: []string{
		doc(map[string]int{"cpu": 600}),
		doc(map[string]int{"cpu": 600}),
		doc(map[string]int{"cpu": 600}),
		doc(map[string]int{"cpu": 400}),
	}}
	d := &fakeDispatcher{}
	h := &fakeHistory{}
	e := newEngine(t, src, d, h, def("cpu_usage_total", "cpu", 3*time.Minute))

	var fired []int
	for i := 0; i < 4; i++ {
		report, err := e.Tick(context.Background())
		require.NoError(t, err)
		fired = append(fired, len(report.Fired))
	}

	assert.Equal(t, []int{0, 0, 1, 0}, fired)
	require.Len(t, d.alarms, 1)
	assert.Equal(t, "cpu_usage_total", d.alarms[0].Definition.Name)
	assert.Equal(t, 3*time.Minute, d.alarms[0].Accumulated)
	assert.Equal(t, 0, d.alarms[0].Observation.Value.Cmp(models.Int(600)))

	status := e.Status()
	require.Len(t, status.Metrics, 1)
	assert.False(t, status.Metrics[0].Breaching)
	assert.Equal(t, uint64(1), status.Metrics[0].Fires)
	assert.Equal(t, uint64(4), status.Ticks)
	assert.Equal(t, 4, h.count())
}

func TestTickUnavailableMetricDoesNotAffectOthers(t *testing.T) {
	src := &fakeSource{docs: []string{doc(map[string]int{"cpu": 600})}}
	d := &fakeDispatcher{}
	h := &fakeHistory{}
	e := newEngine(t, src, d, h,
		def("cpu_usage_total", "cpu", 3*time.Minute),
		def("net_rx", "network", 3*time.Minute),
	)

	report, err := e.Tick(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Observations, 2)
	assert.True(t, report.Observations[0].Available())
	assert.True(t, report.Observations[0].Breached)

	missing := report.Observations[1]
	assert.Equal(t, "net_rx", missing.Metric)
	assert.False(t, missing.Available())
	assert.False(t, missing.Breached)
	assert.False(t, missing.Timestamp.IsZero())

	status := e.Status()
	assert.True(t, status.Metrics[0].Breaching)
	assert.False(t, status.Metrics[1].Breaching)
	assert.Zero(t, status.Metrics[1].AccumulatedSeconds)
}

func TestTickBreachesWithoutUsableSampleTimestamp(t *testing.T) {
	docs := []string{
		`{"/docker/1": {"aliases": ["app"], "stats": [{"cpu": {"usage": {"total": 600}}}]}}`,
		`{"/docker/1": {"aliases": ["app"], "stats": [{"timestamp": "not a time", "cpu": {"usage": {"total": 600}}}]}}`,
		`{"/docker/1": {"aliases": ["app"], "stats": [{"timestamp": "1705314600", "cpu": {"usage": {"total": 600}}}]}}`,
	}
	src := &fakeSource{docs: docs}
	d := &fakeDispatcher{}
	e := newEngine(t, src, d, &fakeHistory{}, def("cpu_usage_total", "cpu", 3*time.Minute))

	var stamps []time.Time
	for range docs {
		report, err := e.Tick(context.Background())
		require.NoError(t, err)
		obs := report.Observations[0]
		assert.True(t, obs.Available())
		assert.True(t, obs.Breached)
		assert.False(t, obs.Timestamp.IsZero())
		stamps = append(stamps, obs.Timestamp)
	}

	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), stamps[2])
	require.Len(t, d.alarms, 1)
	assert.Equal(t, 3*time.Minute, d.alarms[0].Accumulated)
}

func TestTickRecordsEveryMetricOnce(t *testing.T) {
	src := &fakeSource{docs: []string{doc(map[string]int{"cpu": 600, "memory": 100})}}
	h := &fakeHistory{}
	e := newEngine(t, src, &fakeDispatcher{}, h,
		def("cpu_usage_total", "cpu", 3*time.Minute),
		def("memory_usage", "memory", 3*time.Minute),
	)

	_, err := e.Tick(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, h.count())
	recorded := h.records[0]
	require.Len(t, recorded, 2)
	assert.Equal(t, "cpu_usage_total", recorded[0].Metric)
	assert.True(t, recorded[0].Breached)
	assert.Equal(t, "memory_usage", recorded[1].Metric)
	assert.False(t, recorded[1].Breached)

	status := e.Status()
	assert.Equal(t, 60.0, status.Metrics[0].AccumulatedSeconds)
	assert.Zero(t, status.Metrics[1].AccumulatedSeconds)
}

func TestTickSkippedOnFetchError(t *testing.T) {
	src := &fakeSource{
		docs: []string{doc(map[string]int{"cpu": 600}), doc(map[string]int{"cpu": 600})},
		errs: []error{nil, errors.New("connection refused")},
	}
	h := &fakeHistory{}
	e := newEngine(t, src, &fakeDispatcher{}, h, def("cpu_usage_total", "cpu", 3*time.Minute))

	_, err := e.Tick(context.Background())
	require.NoError(t, err)

	report, err := e.Tick(context.Background())
	assert.ErrorIs(t, err, ErrTickSkipped)
	assert.True(t, report.Skipped)

	assert.Equal(t, 1, h.count())
	status := e.Status()
	assert.Equal(t, 60.0, status.Metrics[0].AccumulatedSeconds)
	assert.Equal(t, uint64(1), e.Stats().Skipped)
}

func TestTickReturnsPersistError(t *testing.T) {
	src := &fakeSource{docs: []string{doc(map[string]int{"cpu": 600})}}
	h := &fakeHistory{err: errors.New("disk full")}
	e := newEngine(t, src, &fakeDispatcher{}, h, def("cpu_usage_total", "cpu", 3*time.Minute))

	_, err := e.Tick(context.Background())
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, uint64(1), e.Stats().Failed)
}

func TestTickJoinsDispatchError(t *testing.T) {
	src := &fakeSource{docs: []string{doc(map[string]int{"cpu": 600})}}
	notifyErr := errors.New("webhook down")
	d := &fakeDispatcher{err: notifyErr}
	h := &fakeHistory{}
	e := newEngine(t, src, d, h, def("cpu_usage_total", "cpu", time.Minute))

	report, err := e.Tick(context.Background())
	assert.ErrorIs(t, err, notifyErr)
	require.Len(t, report.Fired, 1)
	assert.Equal(t, 1, h.count())

	state, _ := e.tracker.State("cpu_usage_total")
	assert.Zero(t, state.Accumulated)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{Period: 0, Definitions: []models.MetricDefinition{def("a", "cpu", time.Minute)}}, &fakeSource{}, &fakeDispatcher{}, &fakeHistory{})
	assert.ErrorIs(t, err, ErrNonPositiveTick)

	_, err = New(Config{Period: time.Minute}, &fakeSource{}, &fakeDispatcher{}, &fakeHistory{})
	assert.ErrorIs(t, err, models.ErrNoMetrics)
}

func TestRunResetsHistoryAndTicksUntilCancelled(t *testing.T) {
	src := &fakeSource{docs: []string{doc(map[string]int{"cpu": 100})}}
	h := &fakeHistory{}
	e, err := New(Config{
		Target:      "app",
		Definitions: []models.MetricDefinition{def("cpu_usage_total", "cpu", time.Minute)},
		Period:      20 * time.Millisecond,
	}, src, &fakeDispatcher{}, h)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return h.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, h.resets)
}

func TestStatusIsACopy(t *testing.T) {
	src := &fakeSource{docs: []string{doc(map[string]int{"cpu": 600})}}
	e := newEngine(t, src, &fakeDispatcher{}, &fakeHistory{}, def("cpu_usage_total", "cpu", 3*time.Minute))

	s := e.Status()
	s.Metrics[0].Breaching = true

	assert.False(t, e.Status().Metrics[0].Breaching)
}
