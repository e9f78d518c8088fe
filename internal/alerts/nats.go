package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"metricwatch/internal/models"
)

// Publisher is the subset of *nats.Conn used by NATSNotifier
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes alarm events as JSON to a subject
type NATSNotifier struct {
	conn    Publisher
	subject string
	closer  func()
}

// NewNATSNotifier connects to url
func NewNATSNotifier(url, subject string) (*NATSNotifier, error) {
	if subject == "" {
		return nil, errors.New("nats subject is required")
	}
	conn, err := nats.Connect(url, nats.Name("metricwatch"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSNotifier{
		conn:    conn,
		subject: subject,
		closer: func() {
			conn.Drain()
			conn.Close()
		},
	}, nil
}

// NewNATSNotifierWithConn uses an existing publisher
func NewNATSNotifierWithConn(conn Publisher, subject string) *NATSNotifier {
	return &NATSNotifier{conn: conn, subject: subject}
}

func (n *NATSNotifier) Name() string { return "nats" }

func (n *NATSNotifier) Notify(ctx context.Context, event *models.AlarmEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode alarm event: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", n.subject, err)
	}
	return nil
}

// Close drains the connection if it was opened by NewNATSNotifier
func (n *NATSNotifier) Close() {
	if n.closer != nil {
		n.closer()
	}
}
