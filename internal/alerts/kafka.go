package alerts

import (
	"context"

	"metricwatch/internal/models"
)

// EventPublisher publishes alarm events to a keyed topic
type EventPublisher interface {
	Publish(ctx context.Context, event *models.AlarmEvent) error
}

// KafkaNotifier sends alarms to the alarm event topic
type KafkaNotifier struct {
	producer EventPublisher
}

// NewKafkaNotifier wraps a producer
func NewKafkaNotifier(producer EventPublisher) *KafkaNotifier {
	return &KafkaNotifier{producer: producer}
}

func (k *KafkaNotifier) Name() string { return "kafka" }

func (k *KafkaNotifier) Notify(ctx context.Context, event *models.AlarmEvent) error {
	return k.producer.Publish(ctx, event)
}
