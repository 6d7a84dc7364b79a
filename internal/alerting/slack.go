package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// SlackHandler delivers alerts to a Slack incoming webhook
type SlackHandler struct {
	webhookURL string
	logger     *zap.Logger
	httpClient *http.Client
}

// SlackMessage is the webhook payload
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment colors and structures one alert
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField is one short key/value pair in an attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackHandler creates a Slack webhook handler
func NewSlackHandler(webhookURL string, logger *zap.Logger) *SlackHandler {
	return &SlackHandler{
		webhookURL: webhookURL,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Send posts one alert to the webhook
func (h *SlackHandler) Send(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(h.buildMessage(alert))
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	h.logger.Info("Delivered Slack alert",
		zap.String("title", alert.Title),
		zap.String("webhook_url", maskWebhookURL(h.webhookURL)))
	return nil
}

func (h *SlackHandler) buildMessage(alert Alert) SlackMessage {
	fields := make([]SlackField, 0, len(alert.Fields))
	for k, v := range alert.Fields {
		fields = append(fields, SlackField{Title: k, Value: v, Short: true})
	}

	return SlackMessage{
		Username:  "driveline",
		IconEmoji: severityEmoji(alert.Severity),
		Attachments: []SlackAttachment{{
			Color:     severityColor(alert.Severity),
			Title:     alert.Title,
			Text:      alert.Body,
			Fields:    fields,
			Footer:    "driveline alerting",
			Timestamp: time.Now().Unix(),
		}},
	}
}

func severityColor(s Severity) string {
	switch s {
	case SeverityCritical:
		return "danger"
	case SeverityWarning:
		return "warning"
	default:
		return "good"
	}
}

func severityEmoji(s Severity) string {
	switch s {
	case SeverityCritical:
		return ":rotating_light:"
	case SeverityWarning:
		return ":warning:"
	default:
		return ":information_source:"
	}
}

// maskWebhookURL hides the webhook token when logging
func maskWebhookURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	return u.Scheme + "://" + u.Host + "/***"
}
