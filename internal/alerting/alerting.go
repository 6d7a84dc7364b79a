// Package alerting posts operator alerts (circuit transitions, dead-letter
// jobs) to a Slack webhook. Alerts are fire-and-forget: a delivery failure
// is logged, never propagated to the triggering code path.
package alerting

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/driveline/driveline/pkg/config"
)

// Severity classifies an alert
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one operator notification
type Alert struct {
	Severity Severity
	Title    string
	Body     string
	Fields   map[string]string
}

// Manager fans alerts out to the configured channels
type Manager struct {
	slack  *SlackHandler
	logger *zap.Logger
}

// NewManager creates an alert manager; with no webhook configured every
// alert is a logged no-op
func NewManager(cfg config.AlertingConfig, logger *zap.Logger) *Manager {
	m := &Manager{logger: logger}
	if cfg.SlackWebhookURL != "" {
		m.slack = NewSlackHandler(cfg.SlackWebhookURL, logger)
	}
	return m
}

// Notify delivers the alert asynchronously
func (m *Manager) Notify(alert Alert) {
	if m.slack == nil {
		m.logger.Debug("Alert dropped, no channel configured",
			zap.String("title", alert.Title))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := m.slack.Send(ctx, alert); err != nil {
			m.logger.Warn("Failed to deliver alert",
				zap.String("title", alert.Title),
				zap.Error(err))
		}
	}()
}

// CircuitStateChanged builds the breaker OnStateChange hook
func (m *Manager) CircuitStateChanged(provider string, open bool) {
	if open {
		m.Notify(Alert{
			Severity: SeverityCritical,
			Title:    "Provider circuit opened",
			Body:     "Calls to the provider are being skipped until the cooldown elapses.",
			Fields:   map[string]string{"provider": provider},
		})
		return
	}
	m.Notify(Alert{
		Severity: SeverityInfo,
		Title:    "Provider circuit closed",
		Fields:   map[string]string{"provider": provider},
	})
}

// JobDeadLettered reports a job that exhausted its retries
func (m *Manager) JobDeadLettered(jobID, lastError string) {
	m.Notify(Alert{
		Severity: SeverityWarning,
		Title:    "Background job dead-lettered",
		Body:     strings.TrimSpace(lastError),
		Fields:   map[string]string{"job_id": jobID},
	})
}
