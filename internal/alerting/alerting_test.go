package alerting

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driveline/driveline/pkg/config"
)

func captureWebhook(t *testing.T) (*httptest.Server, func() []SlackMessage) {
	t.Helper()
	var mu sync.Mutex
	var received []SlackMessage

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg SlackMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
	}))
	t.Cleanup(server.Close)

	return server, func() []SlackMessage {
		mu.Lock()
		defer mu.Unlock()
		out := make([]SlackMessage, len(received))
		copy(out, received)
		return out
	}
}

func TestCircuitOpenAlertDelivered(t *testing.T) {
	server, messages := captureWebhook(t)
	m := NewManager(config.AlertingConfig{SlackWebhookURL: server.URL}, zap.NewNop())

	m.CircuitStateChanged("anthropic", true)

	require.Eventually(t, func() bool {
		return len(messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msg := messages()[0]
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "Provider circuit opened", msg.Attachments[0].Title)
	assert.Equal(t, "danger", msg.Attachments[0].Color)
}

func TestDeadLetterAlertCarriesJobID(t *testing.T) {
	server, messages := captureWebhook(t)
	m := NewManager(config.AlertingConfig{SlackWebhookURL: server.URL}, zap.NewNop())

	m.JobDeadLettered("job-7", "provider exhausted")

	require.Eventually(t, func() bool {
		return len(messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	att := messages()[0].Attachments[0]
	assert.Equal(t, "warning", att.Color)
	require.Len(t, att.Fields, 1)
	assert.Equal(t, "job-7", att.Fields[0].Value)
}

func TestNoWebhookIsNoop(t *testing.T) {
	m := NewManager(config.AlertingConfig{}, zap.NewNop())
	m.Notify(Alert{Title: "dropped"})
}

func TestMaskWebhookURL(t *testing.T) {
	assert.Equal(t, "https://hooks.slack.com/***",
		maskWebhookURL("https://hooks.slack.com/services/T000/B000/secret"))
}
