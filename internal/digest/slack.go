package digest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"
)

// Slack posts digests to an incoming webhook.
type Slack struct {
	webhookURL string
	client     *http.Client
	backoff    time.Duration
}

// NewSlack returns a notifier posting to webhookURL.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		backoff:    baseBackoff,
	}
}

func (s *Slack) Name() string { return "slack" }

// Notify sends msg as a single attachment.
func (s *Slack) Notify(ctx context.Context, msg Message) error {
	payload := &slackapi.WebhookMessage{
		Text:        msg.Title,
		Attachments: []slackapi.Attachment{toAttachment(msg)},
	}
	err := retryOnRateLimit(ctx, s.backoff, slackRateLimit, func() error {
		return slackapi.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.client, payload)
	})
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	return nil
}

// slackRateLimit reports whether err is a 429. slack-go only returns a
// RateLimitedError when Retry-After is set; a bare 429 is a StatusCodeError
// and falls back to the base backoff.
func slackRateLimit(err error) (bool, time.Duration) {
	var rle *slackapi.RateLimitedError
	if errors.As(err, &rle) {
		return true, rle.RetryAfter
	}
	var sce slackapi.StatusCodeError
	if errors.As(err, &sce) && sce.Code == http.StatusTooManyRequests {
		return true, 0
	}
	return false, 0
}

// toAttachment converts a digest Message into a Slack attachment. Slack
// mrkdwn uses single asterisks for bold.
func toAttachment(msg Message) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:      msg.Title,
		Text:       strings.ReplaceAll(msg.Body, "**", "*"),
		Color:      msg.Color,
		Fallback:   msg.Title,
		MarkdownIn: []string{"text"},
	}
	for _, f := range msg.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}
