package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metricwatch/internal/config"
	"metricwatch/internal/models"
)

// mockWriter fails the first failures writes
type mockWriter struct {
	failures int
	messages []kafka.Message
	attempts int
	closed   bool
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.attempts++
	if m.attempts <= m.failures {
		return errors.New("leader not available")
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func testConfig() config.ProducerConfig {
	return config.ProducerConfig{
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}
}

func testEvent() *models.AlarmEvent {
	v := models.Int(600)
	return &models.AlarmEvent{
		ID:      "evt-1",
		Target:  "app",
		Metric:  "cpu_usage_total",
		Value:   &v,
		FiredAt: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestPublishKeyedByMetric(t *testing.T) {
	w := &mockWriter{}
	p, err := NewProducer([]string{"localhost:9092"}, "alarms", testConfig(), WithWriter(w))
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), testEvent()))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "cpu_usage_total", string(msg.Key))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, map[string]string{"metric": "cpu_usage_total", "target": "app", "event_id": "evt-1"}, headers)

	var got models.AlarmEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "evt-1", got.ID)

	assert.Equal(t, ProducerStats{Published: 1}, p.Stats())
}

func TestPublishRetries(t *testing.T) {
	w := &mockWriter{failures: 2}
	p, err := NewProducer([]string{"localhost:9092"}, "alarms", testConfig(), WithWriter(w))
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	assert.Equal(t, 3, w.attempts)
	assert.Equal(t, ProducerStats{Published: 1, Retried: 2}, p.Stats())
}

func TestPublishGivesUp(t *testing.T) {
	w := &mockWriter{failures: 10}
	p, err := NewProducer([]string{"localhost:9092"}, "alarms", testConfig(), WithWriter(w))
	require.NoError(t, err)

	err = p.Publish(context.Background(), testEvent())
	assert.ErrorContains(t, err, "failed after 3 attempts")
	assert.Equal(t, 3, w.attempts)
	assert.Equal(t, uint64(1), p.Stats().Failed)
}

func TestPublishAfterClose(t *testing.T) {
	w := &mockWriter{}
	p, err := NewProducer([]string{"localhost:9092"}, "alarms", testConfig(), WithWriter(w))
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), testEvent()), ErrProducerClosed)
	assert.ErrorIs(t, p.HealthCheck(context.Background()), ErrProducerClosed)
	assert.NoError(t, p.Close())
}

func TestPublishSingleAttemptByDefault(t *testing.T) {
	w := &mockWriter{failures: 1}
	p, err := NewProducer([]string{"localhost:9092"}, "alarms", config.ProducerConfig{}, WithWriter(w))
	require.NoError(t, err)

	assert.Error(t, p.Publish(context.Background(), testEvent()))
	assert.Equal(t, 1, w.attempts)
	assert.Equal(t, ProducerStats{Failed: 1}, p.Stats())
}

func TestPublishStopsOnCancel(t *testing.T) {
	w := &mockWriter{failures: 10}
	cfg := testConfig()
	cfg.RetryBackoff = time.Hour
	p, err := NewProducer([]string{"localhost:9092"}, "alarms", cfg, WithWriter(w))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, p.Publish(ctx, testEvent()), context.DeadlineExceeded)
	assert.Equal(t, 1, w.attempts)
}

func TestHealthCheckUnreachableBroker(t *testing.T) {
	p, err := NewProducer([]string{"127.0.0.1:1"}, "alarms", testConfig(), WithWriter(&mockWriter{}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorContains(t, p.HealthCheck(ctx), "no broker reachable")
}

func TestNewProducerValidation(t *testing.T) {
	_, err := NewProducer(nil, "alarms", testConfig())
	assert.ErrorIs(t, err, ErrNoBrokers)

	_, err = NewProducer([]string{"localhost:9092"}, "", testConfig())
	assert.ErrorIs(t, err, ErrNoTopic)
}
