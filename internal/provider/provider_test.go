package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveline/driveline/pkg/config"
	apperrors "github.com/driveline/driveline/pkg/errors"
)

func anthropicCfg(endpoint string) config.ProviderConfig {
	return config.ProviderConfig{
		Enabled:        true,
		APIKey:         "test-key",
		Model:          "test-model",
		Endpoint:       endpoint,
		MaxConcurrency: 4,
		Timeout:        5 * time.Second,
	}
}

func TestAnthropicInvoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])
		assert.Equal(t, float64(1024), body["max_tokens"])
		assert.Equal(t, "be helpful", body["system"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": "head north"}},
		})
	}))
	defer server.Close()

	client := NewAnthropic(anthropicCfg(server.URL))
	text, err := client.Invoke(context.Background(), Request{
		System:          "be helpful",
		User:            "where to?",
		MaxOutputTokens: 1024,
	})

	require.NoError(t, err)
	assert.Equal(t, "head north", text)
}

func TestOpenAIInvoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(512), body["max_completion_tokens"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "stay put"}},
			},
		})
	}))
	defer server.Close()

	client := NewOpenAI(anthropicCfg(server.URL))
	text, err := client.Invoke(context.Background(), Request{User: "where to?", MaxOutputTokens: 512})

	require.NoError(t, err)
	assert.Equal(t, "stay put", text)
}

func TestGoogleInvoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"parts": []map[string]string{{"text": "go east"}},
				}},
			},
		})
	}))
	defer server.Close()

	client := NewGoogle(anthropicCfg(server.URL))
	text, err := client.Invoke(context.Background(), Request{User: "where to?", MaxOutputTokens: 256})

	require.NoError(t, err)
	assert.Equal(t, "go east", text)
}

func TestBlankResponseIsTruncation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": "   "}},
		})
	}))
	defer server.Close()

	client := NewAnthropic(anthropicCfg(server.URL))
	_, err := client.Invoke(context.Background(), Request{User: "hi", MaxOutputTokens: 16})

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeTruncation))
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantType apperrors.ErrorType
	}{
		{"rate limited", http.StatusTooManyRequests, apperrors.ErrorTypeRateLimit},
		{"server error", http.StatusInternalServerError, apperrors.ErrorTypeExternal},
		{"bad request", http.StatusBadRequest, apperrors.ErrorTypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error": "nope"}`))
			}))
			defer server.Close()

			client := NewAnthropic(anthropicCfg(server.URL))
			_, err := client.Invoke(context.Background(), Request{User: "hi", MaxOutputTokens: 16})

			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, tt.wantType), "got %v", err)
		})
	}
}

func TestInvokeContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	client := NewAnthropic(anthropicCfg(server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := client.Invoke(ctx, Request{User: "hi", MaxOutputTokens: 16})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStateConcurrencyCap(t *testing.T) {
	cfg := anthropicCfg("http://localhost:0")
	state := NewState(NewAnthropic(cfg), 2, config.RouterConfig{
		FailureThreshold: 3,
		ResetAfter:       time.Minute,
		CallTimeout:      time.Second,
	}, nil)

	assert.True(t, state.TryAcquire())
	assert.True(t, state.TryAcquire())
	assert.False(t, state.TryAcquire())

	state.Release()
	assert.True(t, state.TryAcquire())
	assert.Equal(t, int64(2), state.InFlight())
}

func TestRegistryFromConfig(t *testing.T) {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			Anthropic: anthropicCfg("http://localhost:0"),
			OpenAI:    config.ProviderConfig{Enabled: false},
		},
		Router: config.RouterConfig{
			FailureThreshold: 3,
			ResetAfter:       time.Minute,
			CallTimeout:      time.Second,
		},
	}

	reg := NewRegistry(cfg, nil)
	assert.NotNil(t, reg.Get("anthropic"))
	assert.Nil(t, reg.Get("openai"))
	assert.Equal(t, []string{"anthropic"}, reg.Names())
}
