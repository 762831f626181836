package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// SlackNotifier posts notifications to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *resty.Client
}

// SlackMessage represents a Slack message payload.
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment.
type SlackAttachment struct {
	Color  string `json:"color"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Footer string `json:"footer,omitempty"`
}

// NewSlackNotifier creates a new Slack notifier.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     resty.New().SetTimeout(10 * time.Second),
	}
}

// SlackColor returns the Slack color for a notification level.
func SlackColor(l Level) string {
	switch l {
	case LevelSuccess:
		return "good"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// Send posts n to the webhook. An empty webhook disables delivery.
func (s *SlackNotifier) Send(ctx context.Context, n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	msg := SlackMessage{
		Text: n.Title,
		Attachments: []SlackAttachment{
			{
				Color:  SlackColor(n.Level),
				Title:  n.BlockID,
				Text:   n.Message,
				Footer: "ServiceDG",
			},
		},
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(msg).
		Post(s.webhookURL)
	if err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("slack returned %d", resp.StatusCode())
	}
	return nil
}
