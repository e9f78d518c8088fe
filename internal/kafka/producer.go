package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"metricwatch/internal/config"
	"metricwatch/internal/logger"
	"metricwatch/internal/metrics"
	"metricwatch/internal/models"
)

// Producer errors
var (
	ErrProducerClosed  = errors.New("producer is closed")
	ErrSerializeFailed = errors.New("failed to serialize alarm event")
	ErrNoBrokers       = errors.New("at least one broker is required")
	ErrNoTopic         = errors.New("topic is required")
)

// maxBackoff caps the delay between publish attempts
const maxBackoff = 5 * time.Second

// MessageWriter is the subset of kafka.Writer used by Producer
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes alarm events to a topic, keyed by metric name so one
// metric's alarms stay ordered on a partition.
type Producer struct {
	cfg     config.ProducerConfig
	brokers []string
	topic   string
	writer  MessageWriter
	closed  atomic.Bool

	published atomic.Uint64
	failed    atomic.Uint64
	retried   atomic.Uint64
}

// ProducerOption customizes a Producer
type ProducerOption func(*Producer)

// WithWriter replaces the kafka.Writer, mainly for tests
func WithWriter(w MessageWriter) ProducerOption {
	return func(p *Producer) { p.writer = w }
}

// NewProducer creates an alarm event producer. Retries are handled by
// Publish, so the underlying writer makes a single attempt per call.
func NewProducer(brokers []string, topic string, cfg config.ProducerConfig, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if topic == "" {
		return nil, ErrNoTopic
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}

	p := &Producer{cfg: cfg, brokers: brokers, topic: topic}
	for _, opt := range opts {
		opt(p)
	}

	if p.writer == nil {
		p.writer = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:  codec(cfg.Compression),
			MaxAttempts:  1,
		}
	}
	return p, nil
}

func codec(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// Topic returns the destination topic
func (p *Producer) Topic() string { return p.topic }

// Publish sends one alarm event, retrying transient write failures
func (p *Producer) Publish(ctx context.Context, event *models.AlarmEvent) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.fail()
		return fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}

	msg := kafka.Message{
		Key:   []byte(event.PartitionKey()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "metric", Value: []byte(event.Metric)},
			{Key: "target", Value: []byte(event.Target)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
		Time: event.FiredAt,
	}

	if err := p.write(ctx, msg); err != nil {
		p.fail()
		return err
	}

	p.published.Add(1)
	metrics.KafkaPublishTotal.WithLabelValues("success").Inc()
	return nil
}

func (p *Producer) fail() {
	p.failed.Add(1)
	metrics.KafkaPublishTotal.WithLabelValues("failed").Inc()
}

// write makes up to MaxRetries+1 attempts, doubling the pause each time
func (p *Producer) write(ctx context.Context, msg kafka.Message) error {
	log := logger.WithComponent("kafka").With().Str("topic", p.topic).Logger()
	attempts := p.cfg.MaxRetries + 1
	pause := p.cfg.RetryBackoff

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = p.writer.WriteMessages(ctx, msg); err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt == attempts {
			break
		}

		p.retried.Add(1)
		metrics.KafkaPublishRetries.Inc()
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", pause).Msg("Alarm event publish failed, retrying")

		t := time.NewTimer(pause)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		pause = min(2*pause, maxBackoff)
	}

	log.Error().Err(err).Int("attempts", attempts).Msg("Alarm event publish failed")
	return fmt.Errorf("publishing to %s failed after %d attempts: %w", p.topic, attempts, err)
}

// Close flushes and closes the writer. It is safe to call more than once.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}

// HealthCheck dials the brokers and confirms the topic has partitions
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	var errs []error
	for _, broker := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		partitions, err := conn.ReadPartitions(p.topic)
		conn.Close()
		if err != nil {
			return fmt.Errorf("reading partitions of %s: %w", p.topic, err)
		}
		if len(partitions) == 0 {
			return fmt.Errorf("topic %s has no partitions", p.topic)
		}
		return nil
	}
	return fmt.Errorf("no broker reachable: %w", errors.Join(errs...))
}

// Stats returns producer counters
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
		Retried:   p.retried.Load(),
	}
}

// ProducerStats holds producer counters
type ProducerStats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Retried   uint64 `json:"retried"`
}
