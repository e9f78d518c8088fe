package alerts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"metricwatch/internal/models"
)

// SlackNotifier posts alarms to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier creates a notifier for webhookURL
func NewSlackNotifier(webhookURL string, timeout time.Duration) (*SlackNotifier, error) {
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Notify(ctx context.Context, event *models.AlarmEvent) error {
	msg := &slack.WebhookMessage{
		Text:   SlackText(event),
		Blocks: &slack.Blocks{BlockSet: SlackBlocks(event)},
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.client, msg); err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	return nil
}

// SlackText is the alarm sentence shown in the message body and in
// notifications that cannot render blocks.
func SlackText(event *models.AlarmEvent) string {
	return fmt.Sprintf("Alarm for metric %s triggered now. Current value is %s.", event.Metric, event.ValueString())
}

// SlackBlocks renders an alarm as a header and a section
func SlackBlocks(event *models.AlarmEvent) []slack.Block {
	header := slack.NewHeaderBlock(
		slack.NewTextBlockObject(slack.PlainTextType, "Alarm Triggered", false, false),
	)
	section := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, SlackText(event), false, false),
		nil, nil,
	)
	return []slack.Block{header, section}
}
