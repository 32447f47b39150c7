// Package completion adapts an external text-completion service for bot replies.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrProviderUnavailable = errors.New("completion provider unavailable")
	ErrTimeout             = errors.New("completion provider timed out")
	ErrMalformedResponse   = errors.New("malformed completion response")
)

const anthropicVersion = "2023-06-01"

// Prompt is the input of a single completion
type Prompt struct {
	System   string
	UserText string
}

// Result is a completed reply with its accounted cost
type Result struct {
	Text      string
	Units     int64
	Estimated bool
}

// Provider produces a reply for a prompt
type Provider interface {
	Complete(ctx context.Context, prompt Prompt) (*Result, error)
}

// ProviderError carries the status and error type of a rejected request
type ProviderError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("completion: HTTP %d: %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("completion: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return ErrProviderUnavailable
}

// Config holds the provider knobs
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Client calls the Anthropic Messages API
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new completion client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type messagesRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      string        `json:"system,omitempty"`
	Messages    []wireMessage `json:"messages"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
	Usage   *usage         `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// usage fields stay nil when the provider omits them; a reported zero is kept
type usage struct {
	InputTokens  *int64 `json:"input_tokens"`
	OutputTokens *int64 `json:"output_tokens"`
}

// Complete sends one non-streaming request. It never retries.
func (c *Client) Complete(ctx context.Context, prompt Prompt) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(messagesRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		System:      prompt.System,
		Messages:    []wireMessage{{Role: "user", Content: prompt.UserText}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readProviderError(resp)
	}

	var wire messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	text := firstText(wire.Content)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: no text content", ErrMalformedResponse)
	}

	result := &Result{Text: text}
	if u := wire.Usage; u != nil && u.InputTokens != nil && u.OutputTokens != nil {
		result.Units = *u.InputTokens + *u.OutputTokens
	} else {
		result.Units = Estimate(prompt.UserText, text)
		result.Estimated = true
	}
	return result, nil
}

func firstText(blocks []contentBlock) string {
	for _, b := range blocks {
		if b.Type == "text" {
			return b.Text
		}
	}
	return ""
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// readProviderError parses {"error":{"type":..,"message":..}} bodies
func readProviderError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var wire struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Error.Message != "" {
		return &ProviderError{
			StatusCode: resp.StatusCode,
			Type:       wire.Error.Type,
			Message:    wire.Error.Message,
		}
	}
	return &ProviderError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}

// Disabled is used when no provider credentials are configured
type Disabled struct{}

func (Disabled) Complete(context.Context, Prompt) (*Result, error) {
	return nil, fmt.Errorf("%w: no API key configured", ErrProviderUnavailable)
}
