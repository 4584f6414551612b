// Package llm provides a client for the LLM provider service used by
// query expansion and the llm rerank tier.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
	"github.com/memsearch/mem-search/internal/pkg/logger"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 2
	retryBaseDelay    = 500 * time.Millisecond
)

// Config holds LLM provider settings.
type Config struct {
	// BaseURL is the provider service root.
	BaseURL string

	// Model is the default model identifier.
	Model string

	// Timeout for a single generation call.
	Timeout time.Duration

	// MaxRetries is the number of retries on transient failures.
	MaxRetries int
}

// Request describes one generation call.
type Request struct {
	// Prompt is the user prompt.
	Prompt string `json:"prompt"`

	// System is an optional system prompt.
	System string `json:"system,omitempty"`

	// Schema optionally constrains the output to a JSON schema.
	Schema map[string]any `json:"schema,omitempty"`

	// Model overrides the configured default when set.
	Model string `json:"model,omitempty"`
}

// Response carries the generated content plus token and cost accounting.
type Response struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	CostCents        int64  `json:"cost_cents"`
}

// Client is the generation capability consumed by the core. Tests and
// the multi-query expander depend on this interface, not the HTTP
// implementation.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// HTTPClient talks to the provider service over HTTP with retries.
type HTTPClient struct {
	cfg  Config
	http *http.Client
	log  *logger.Logger
}

// NewHTTPClient creates a provider client.
func NewHTTPClient(cfg Config, log *logger.Logger) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.WithComponent("llm"),
	}
}

// Generate runs one generation call, retrying transient failures with
// exponential backoff. Client errors other than 429 do not retry.
func (c *HTTPClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		req.Model = c.cfg.Model
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			c.log.Warn("retrying llm call", "attempt", attempt, "delay", delay, "error", lastErr)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, apperrors.TimeoutError("llm generation")
			}
		}

		resp, retryable, err := c.generateOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

// generateOnce performs a single HTTP call. The second return reports
// whether the failure is worth retrying.
func (c *HTTPClient) generateOnce(ctx context.Context, req Request) (*Response, bool, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, false, apperrors.LLMError("failed to encode llm request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, false, apperrors.LLMError("failed to build llm request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, false, apperrors.TimeoutError("llm generation")
		}
		return nil, true, apperrors.LLMError("llm request failed", err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusOK:
		// Fall through to decode.
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, true, apperrors.New(apperrors.CodeLLMError, "llm provider rate limited")
	case httpResp.StatusCode >= 500:
		return nil, true, apperrors.New(apperrors.CodeLLMError,
			fmt.Sprintf("llm provider returned status %d", httpResp.StatusCode))
	default:
		b, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		c.log.Error("llm provider rejected request", "status", httpResp.StatusCode, "body", string(b))
		return nil, false, apperrors.New(apperrors.CodeLLMError,
			fmt.Sprintf("llm provider returned status %d", httpResp.StatusCode))
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, false, apperrors.LLMError("failed to decode llm response", err)
	}
	if resp.Content == "" {
		return nil, false, apperrors.New(apperrors.CodeLLMError, "llm returned empty content")
	}

	return &resp, false, nil
}
