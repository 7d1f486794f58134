// Package llm talks to the remote classification model. It only moves
// prompts and raw text answers; prompt construction and answer parsing
// live in the importance package.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/starCarlos/HotSpot-Hunter/internal/config"
	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
	"github.com/starCarlos/HotSpot-Hunter/internal/ports"
)

const (
	maxRetries     = 3
	baseRetryDelay = 3 * time.Second
	geminiBaseURL  = "https://generativelanguage.googleapis.com/v1beta/models"
)

// Client implements ChatClient against OpenAI-compatible endpoints and
// Gemini. Transient failures (timeout, connection refused, 502/503/504)
// are retried with a growing delay before surfacing.
type Client struct {
	cfg        config.ClassifierConfig
	httpClient *http.Client
	logger     *slog.Logger

	// test overrides
	geminiURL  string
	retryDelay time.Duration
}

var _ ports.ChatClient = (*Client)(nil)

// New validates the classifier configuration and builds a client.
func New(cfg config.ClassifierConfig, log *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
		geminiURL:  geminiBaseURL,
		retryDelay: baseRetryDelay,
	}, nil
}

// Chat sends one prompt and returns the model's raw text answer.
func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	if c.cfg.Provider == "gemini" {
		return c.withRetries(ctx, func(ctx context.Context) (string, error) {
			return c.chatGemini(ctx, prompt)
		})
	}
	return c.withRetries(ctx, func(ctx context.Context) (string, error) {
		return c.chatOpenAICompatible(ctx, prompt)
	})
}

// withRetries runs call up to maxRetries+1 times, waiting 3s, 6s, 9s
// between attempts. Only transient errors are retried.
func (c *Client) withRetries(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.retryDelay * time.Duration(attempt)
			c.logger.Warn("classifier call failed, retrying",
				"attempt", attempt, "of", maxRetries, "wait", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		answer, err := call(ctx)
		if err == nil {
			return answer, nil
		}
		lastErr = err
		if !isTransient(err) {
			return "", err
		}
	}
	return "", lastErr
}

func isTransient(err error) bool {
	var remote *domain.TransientRemoteError
	if errors.As(err, &remote) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) chatOpenAICompatible(ctx context.Context, prompt string) (string, error) {
	payload := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	raw, err := c.doRequest(req)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &domain.MalformedResponseError{Snippet: snippet(raw), Err: err}
	}
	if len(parsed.Choices) == 0 {
		return "", &domain.MalformedResponseError{Snippet: snippet(raw), Err: errors.New("no choices in response")}
	}
	return parsed.Choices[0].Message.Content, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (c *Client) chatGemini(ctx context.Context, prompt string) (string, error) {
	var payload geminiRequest
	payload.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}}
	payload.GenerationConfig.Temperature = c.cfg.Temperature
	payload.GenerationConfig.MaxOutputTokens = c.cfg.MaxTokens

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", c.geminiURL, c.cfg.Model, url.QueryEscape(c.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.doRequest(req)
	if err != nil {
		return "", err
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &domain.MalformedResponseError{Snippet: snippet(raw), Err: err}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", &domain.MalformedResponseError{Snippet: snippet(raw), Err: errors.New("no candidates in response")}
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransientRemoteError{Op: "classifier", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.TransientRemoteError{Op: "classifier", Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return raw, nil
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, &domain.TransientRemoteError{
			Op:     "classifier",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	default:
		return nil, fmt.Errorf("classifier: HTTP %d: %s", resp.StatusCode, snippet(raw))
	}
}

func snippet(raw []byte) string {
	const limit = 200
	if len(raw) > limit {
		raw = raw[:limit]
	}
	return string(raw)
}
