// Package proxy is the client for the hosted generative model, reached
// through OpenRouter's OpenAI-compatible chat completions API.
package proxy

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

	"github.com/sony/gobreaker/v2"

	"github.com/kalambet/gamerec/internal/metrics"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "google/gemini-2.0-flash-001"
	defaultTimeout = 60 * time.Second
)

// ErrCircuitOpen is returned without contacting the model while the circuit
// breaker is open.
var ErrCircuitOpen = errors.New("generative model unavailable (circuit open)")

// RateLimitError is returned on HTTP 429. Calls are never retried here.
type RateLimitError struct {
	Status int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.Status)
}

// Client talks to OpenRouter. Calls are strictly one HTTP request each;
// the breaker only short-circuits while the upstream is failing.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	referer    string
	title      string
	breaker    *gobreaker.CircuitBreaker[Completion]
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithModel(m string) Option {
	return func(c *Client) {
		if m != "" {
			c.model = m
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithBreaker replaces the default circuit breaker settings.
func WithBreaker(s BreakerSettings) Option {
	return func(c *Client) { c.breaker = newBreaker(s) }
}

// NewClient creates an OpenRouter client with the given API key.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		httpClient: &http.Client{Timeout: defaultTimeout},
		referer:    "https://github.com/kalambet/gamerec",
		title:      "gamerec",
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = newBreaker(DefaultBreakerSettings())
	}
	return c
}

// Model returns the model name sent with every request.
func (c *Client) Model() string { return c.model }

// Complete sends messages, with optional tool declarations, and returns the
// first choice.
func (c *Client) Complete(ctx context.Context, messages []Message, tools []Tool) (Completion, error) {
	out, err := c.breaker.Execute(func() (Completion, error) {
		return c.doComplete(ctx, messages, tools)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.LLMCalls.WithLabelValues("rejected").Inc()
		return Completion{}, ErrCircuitOpen
	case err != nil:
		metrics.LLMCalls.WithLabelValues("error").Inc()
		return Completion{}, err
	}
	metrics.LLMCalls.WithLabelValues("ok").Inc()
	return out, nil
}

// Generate sends prompt as a single user message and returns the text reply.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := c.Complete(ctx, []Message{{Role: "user", Content: prompt}}, nil)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

func (c *Client) doComplete(ctx context.Context, messages []Message, tools []Tool) (Completion, error) {
	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, Tools: tools})
	if err != nil {
		return Completion{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Completion{}, &RateLimitError{Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Completion{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Completion{}, fmt.Errorf("decoding completion: %w", err)
	}
	return parseCompletion(cr)
}

func parseCompletion(cr chatResponse) (Completion, error) {
	if cr.Error != nil {
		return Completion{}, fmt.Errorf("model error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return Completion{}, errors.New("completion has no choices")
	}
	msg := cr.Choices[0].Message
	out := Completion{Text: msg.Content}
	if len(msg.ToolCalls) > 0 {
		fn := msg.ToolCalls[0].Function
		args, err := normalizeArguments(fn.Arguments)
		if err != nil {
			return Completion{}, fmt.Errorf("tool call %s: %w", fn.Name, err)
		}
		out.ToolCall = &ToolCall{Name: fn.Name, Arguments: args}
	}
	return out, nil
}

// normalizeArguments accepts arguments either as the JSON-encoded string the
// OpenAI format specifies or as an inline object, and returns the object.
func normalizeArguments(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, fmt.Errorf("decoding arguments string: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage(s), nil
}

// ListModels returns the models OpenRouter offers to this key.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var list ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}
	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
}
