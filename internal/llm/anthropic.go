package llm

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

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com/v1"
	defaultAnthropicVersion   = "2023-06-01"
	anthropicVersionHeaderKey = "anthropic-version"
	anthropicAPIKeyHeaderKey  = "x-api-key"
	anthropicMessagesPath     = "/messages"
	defaultMaxTokens          = 8192

	// statusOverloaded is Anthropic's non-standard "overloaded" status.
	statusOverloaded = 529
)

// AnthropicConfig configures NewAnthropicClient.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int           // rate-limit retries per call
	MaxWait     time.Duration // longest rate-limit wait accepted
	HTTPClient  *http.Client  // optional, overrides Timeout
	Logger      Logger
}

// AnthropicClient implements Client over the Anthropic Messages API.
type AnthropicClient struct {
	apiKey      string
	model       string
	baseURL     string
	maxTokens   int
	temperature float64
	maxRetries  int
	httpClient  *http.Client
	waiter      *RateLimitWaiter
	logger      Logger
}

// APIError is a non-2xx response from the Messages API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
	RateLimit  *RateLimitInfo
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("anthropic API error (status %d, %s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("anthropic API error (status %d): %s", e.StatusCode, e.Message)
}

// ErrMissingAPIKey is returned when no API key is configured.
var ErrMissingAPIKey = errors.New("anthropic API key is not set")

// NewAnthropicClient creates a client. The API key is required.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic model is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 5 * time.Minute
	}

	return &AnthropicClient{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     strings.TrimRight(baseURL, "/"),
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		httpClient:  httpClient,
		waiter:      NewRateLimitWaiter(maxWait, time.Second, cfg.Logger),
		logger:      cfg.Logger,
	}, nil
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string {
	return c.model
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature float64   `json:"temperature"`
}

type anthropicResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one Messages request. Throttled responses (429, 529) are
// retried up to MaxRetries times when the reset falls within MaxWait.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	payload := anthropicRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      req.System,
		Messages:    req.Messages,
		Tools:       req.Tools,
		Temperature: c.temperature,
	}
	if req.MaxTokens > 0 {
		payload.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		payload.Temperature = *req.Temperature
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode anthropic request: %w", err)
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, body)
		if err == nil {
			return resp, nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.RateLimit == nil {
			return nil, err
		}
		if attempt >= c.maxRetries || !c.waiter.ShouldWait(apiErr.RateLimit) {
			return nil, err
		}
		if werr := c.waiter.WaitForReset(ctx, apiErr.RateLimit); werr != nil {
			return nil, werr
		}
	}
}

func (c *AnthropicClient) send(ctx context.Context, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+anthropicMessagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(anthropicAPIKeyHeaderKey, c.apiKey)
	httpReq.Header.Set(anthropicVersionHeaderKey, defaultAnthropicVersion)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read anthropic response: %w", err)
	}
	if c.logger != nil {
		c.logger.LogDebug(fmt.Sprintf("anthropic %d in %s (%d bytes)", httpResp.StatusCode, time.Since(start).Round(time.Millisecond), len(raw)))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, mapHTTPError(httpResp.StatusCode, raw, httpResp.Header)
	}

	var decoded anthropicResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}
	if decoded.Error != nil {
		return nil, &APIError{StatusCode: httpResp.StatusCode, Type: decoded.Error.Type, Message: decoded.Error.Message}
	}

	text, calls := parseContent(decoded.Content)
	return &Response{
		Content:    decoded.Content,
		Text:       text,
		ToolCalls:  calls,
		StopReason: StopReason(decoded.StopReason),
		Usage:      decoded.Usage,
	}, nil
}

func mapHTTPError(status int, body []byte, header http.Header) error {
	apiErr := &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}

	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Type = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
	}

	if status == http.StatusTooManyRequests || status == statusOverloaded {
		apiErr.RateLimit = ParseRateLimit(status, header, apiErr.Message)
	}
	return apiErr
}
