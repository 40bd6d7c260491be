// Package llm wraps the external chat-completion capability. The upstream is
// slow, flaky and free to answer in prose; callers get either the raw reply
// text or a transport/timeout sentinel, never a half-read response.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"agrichat-backend/internal/common/config"
	"agrichat-backend/internal/common/logger"
	"agrichat-backend/internal/common/metrics"
)

var (
	ErrTransport = errors.New("LLM_TRANSPORT_FAILED")
	ErrTimeout   = errors.New("LLM_TIMEOUT")
)

// Message is a single chat turn sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Client struct {
	cfg        config.LLMConfig
	httpClient *http.Client
	logger     logger.Logger
}

func NewClient(cfg config.LLMConfig, log logger.Logger) *Client {
	return &Client{
		cfg: cfg,
		// The client timeout caps one attempt; a slow attempt is retried.
		// The caller's context carries the overall budget.
		httpClient: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Millisecond},
		logger:     log.With(map[string]interface{}{"component": "llm"}),
	}
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatCompletion sends the messages upstream and returns the reply text.
// Transport failures are retried with exponential backoff (1s, 2s, 4s) up to
// the configured ceiling; exhaustion yields ErrTransport. A context deadline
// hit at any point yields ErrTimeout.
func (c *Client) ChatCompletion(ctx context.Context, msgs []Message, maxTokens int) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		Temperature: c.cfg.Temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.ClassifierRetries.Inc()
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ErrTimeout
			}
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
		if reqErr != nil {
			return "", fmt.Errorf("%w: %v", ErrTransport, reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, lastErr = c.httpClient.Do(req)

		// Only the caller's context ends the call early; a per-attempt
		// client timeout is a retryable transport failure.
		if ctx.Err() != nil {
			return "", ErrTimeout
		}

		if lastErr == nil {
			if resp.StatusCode == http.StatusOK {
				break
			}
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			resp = nil
		}
	}

	if lastErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("%w: %v", ErrTransport, lastErr)
	}

	if resp == nil {
		return "", fmt.Errorf("%w: no successful response after retries", ErrTransport)
	}
	defer resp.Body.Close()

	var apiResponse completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return "", fmt.Errorf("%w: decode error: %v", ErrTransport, err)
	}
	if len(apiResponse.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrTransport)
	}

	return apiResponse.Choices[0].Message.Content, nil
}
