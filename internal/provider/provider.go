package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/driveline/driveline/pkg/errors"
	"github.com/driveline/driveline/pkg/logging"
)

// Request carries one text-generation invocation
type Request struct {
	System          string
	User            string
	MaxOutputTokens int
}

// Client is the single-method contract every inference backend implements.
// Onboarding a new backend means supplying one new Client, not changing
// router logic.
type Client interface {
	Name() string
	Invoke(ctx context.Context, req Request) (string, error)
}

// Descriptor describes one HTTP inference backend. BuildBody and
// ExtractText capture the provider-specific wire format; everything else
// is shared plumbing.
type Descriptor struct {
	Name           string
	Endpoint       string
	Model          string
	MaxConcurrency int
	Timeout        time.Duration

	// BuildBody renders the provider-specific request payload
	BuildBody func(req Request) ([]byte, error)
	// Decorate sets provider-specific headers (auth, version)
	Decorate func(httpReq *http.Request)
	// ExtractText pulls the single text answer out of the response body
	ExtractText func(body []byte) (string, error)
}

// HTTPClient implements Client against an HTTP inference endpoint
type HTTPClient struct {
	desc       Descriptor
	httpClient *http.Client
	logger     *logging.Logger
}

// NewHTTPClient creates a client for the described backend
func NewHTTPClient(desc Descriptor) *HTTPClient {
	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}

	return &HTTPClient{
		desc: desc,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logging.GetLogger(),
	}
}

// Name returns the backend name
func (c *HTTPClient) Name() string {
	return c.desc.Name
}

// Descriptor returns a copy of the backend descriptor
func (c *HTTPClient) Descriptor() Descriptor {
	return c.desc
}

// Invoke sends one generation request and extracts the text answer.
// A blank extracted answer is a truncation-class failure, never a valid
// result.
func (c *HTTPClient) Invoke(ctx context.Context, req Request) (string, error) {
	start := time.Now()

	payload, err := c.desc.BuildBody(req)
	if err != nil {
		return "", apperrors.NewInternalError("failed to build request body").
			WithDetail("provider", c.desc.Name).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.desc.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", apperrors.NewInternalError("failed to create request").
			WithDetail("provider", c.desc.Name).WithCause(err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.desc.Decorate != nil {
		c.desc.Decorate(httpReq)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", apperrors.NewExternalError(c.desc.Name, "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", apperrors.NewExternalError(c.desc.Name, "failed to read response").WithCause(err)
	}

	if err := classifyStatus(c.desc.Name, resp.StatusCode, body); err != nil {
		return "", err
	}

	text, err := c.desc.ExtractText(body)
	if err != nil {
		return "", apperrors.NewExternalError(c.desc.Name, "failed to parse response").WithCause(err)
	}

	if strings.TrimSpace(text) == "" {
		return "", apperrors.NewTruncationError(c.desc.Name, req.MaxOutputTokens)
	}

	c.logger.LogProviderEvent(ctx, "invoke_completed", c.desc.Name, map[string]interface{}{
		"latency_ms": time.Since(start).Milliseconds(),
		"chars":      len(text),
	})

	return text, nil
}

// classifyStatus maps HTTP status families onto the error taxonomy
func classifyStatus(name string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return apperrors.NewRateLimitError(fmt.Sprintf("%s rate limited", name)).
			WithDetail("provider", name)
	case status >= 500:
		return apperrors.NewExternalError(name, fmt.Sprintf("upstream error (status %d)", status)).
			WithDetail("status", fmt.Sprintf("%d", status))
	default:
		return apperrors.NewProviderError(name, fmt.Sprintf("request rejected (status %d): %s", status, truncateBody(body))).
			WithDetail("status", fmt.Sprintf("%d", status))
	}
}

func truncateBody(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
