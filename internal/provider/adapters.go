package provider

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/driveline/driveline/pkg/config"
)

// NewAnthropic creates a client for the Anthropic messages API
func NewAnthropic(cfg config.ProviderConfig) *HTTPClient {
	return NewHTTPClient(Descriptor{
		Name:           "anthropic",
		Endpoint:       cfg.Endpoint,
		Model:          cfg.Model,
		MaxConcurrency: cfg.MaxConcurrency,
		Timeout:        cfg.Timeout,
		BuildBody: func(req Request) ([]byte, error) {
			return json.Marshal(map[string]interface{}{
				"model":      cfg.Model,
				"max_tokens": req.MaxOutputTokens,
				"system":     req.System,
				"messages": []map[string]string{
					{"role": "user", "content": req.User},
				},
			})
		},
		Decorate: func(httpReq *http.Request) {
			httpReq.Header.Set("x-api-key", cfg.APIKey)
			httpReq.Header.Set("anthropic-version", "2023-06-01")
		},
		ExtractText: func(body []byte) (string, error) {
			var resp struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return "", err
			}
			if len(resp.Content) == 0 {
				return "", nil
			}
			return resp.Content[0].Text, nil
		},
	})
}

// NewOpenAI creates a client for the OpenAI chat completions API
func NewOpenAI(cfg config.ProviderConfig) *HTTPClient {
	return newChatCompletions("openai", cfg)
}

// NewLocal creates a client for an OpenAI-compatible local endpoint
// (vLLM, llama.cpp server and friends speak the same wire format)
func NewLocal(cfg config.ProviderConfig) *HTTPClient {
	return newChatCompletions("local", cfg)
}

func newChatCompletions(name string, cfg config.ProviderConfig) *HTTPClient {
	return NewHTTPClient(Descriptor{
		Name:           name,
		Endpoint:       cfg.Endpoint,
		Model:          cfg.Model,
		MaxConcurrency: cfg.MaxConcurrency,
		Timeout:        cfg.Timeout,
		BuildBody: func(req Request) ([]byte, error) {
			return json.Marshal(map[string]interface{}{
				"model":                 cfg.Model,
				"max_completion_tokens": req.MaxOutputTokens,
				"messages": []map[string]string{
					{"role": "system", "content": req.System},
					{"role": "user", "content": req.User},
				},
			})
		},
		Decorate: func(httpReq *http.Request) {
			if cfg.APIKey != "" {
				httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
			}
		},
		ExtractText: func(body []byte) (string, error) {
			var resp struct {
				Choices []struct {
					Message struct {
						Content string `json:"content"`
					} `json:"message"`
				} `json:"choices"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return "", err
			}
			if len(resp.Choices) == 0 {
				return "", nil
			}
			return resp.Choices[0].Message.Content, nil
		},
	})
}

// NewGoogle creates a client for the Gemini generateContent API
func NewGoogle(cfg config.ProviderConfig) *HTTPClient {
	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", cfg.Endpoint, cfg.Model, cfg.APIKey)

	return NewHTTPClient(Descriptor{
		Name:           "google",
		Endpoint:       endpoint,
		Model:          cfg.Model,
		MaxConcurrency: cfg.MaxConcurrency,
		Timeout:        cfg.Timeout,
		BuildBody: func(req Request) ([]byte, error) {
			return json.Marshal(map[string]interface{}{
				"systemInstruction": map[string]interface{}{
					"parts": []map[string]string{{"text": req.System}},
				},
				"contents": []map[string]interface{}{
					{
						"role":  "user",
						"parts": []map[string]string{{"text": req.User}},
					},
				},
				"generationConfig": map[string]interface{}{
					"maxOutputTokens": req.MaxOutputTokens,
				},
			})
		},
		ExtractText: func(body []byte) (string, error) {
			var resp struct {
				Candidates []struct {
					Content struct {
						Parts []struct {
							Text string `json:"text"`
						} `json:"parts"`
					} `json:"content"`
				} `json:"candidates"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return "", err
			}
			if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
				return "", nil
			}
			return resp.Candidates[0].Content.Parts[0].Text, nil
		},
	})
}

// FromConfig builds clients for every enabled backend, keyed by name
func FromConfig(cfg *config.Config) map[string]Client {
	clients := make(map[string]Client)

	if cfg.Providers.Anthropic.Enabled {
		clients["anthropic"] = NewAnthropic(cfg.Providers.Anthropic)
	}
	if cfg.Providers.OpenAI.Enabled {
		clients["openai"] = NewOpenAI(cfg.Providers.OpenAI)
	}
	if cfg.Providers.Google.Enabled {
		clients["google"] = NewGoogle(cfg.Providers.Google)
	}
	if cfg.Providers.Local.Enabled {
		clients["local"] = NewLocal(cfg.Providers.Local)
	}

	return clients
}
