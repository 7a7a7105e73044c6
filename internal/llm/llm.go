package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Message is a single chat turn sent to a provider.
type Message struct {
	Role    string
	Content string
}

// Client is the minimal completion surface the interviewer needs.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL     string
	httpClient  *http.Client
	temperature *float64
}

// WithBaseURL points the provider client at an alternate endpoint,
// used by tests to target an httptest server.
func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithHTTPClient overrides the provider's underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

// WithTemperature fixes the sampling temperature for every completion.
// Left unset, each provider uses its own default.
func WithTemperature(t float64) Option {
	return func(o *clientOptions) {
		o.temperature = &t
	}
}

// ParseModel splits a "provider/model_name" string.
func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

// NewClient builds a provider client. Supported providers: gemini
// (the default for interviews), openai, anthropic.
func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are gemini, openai, anthropic", provider)
	}
}
