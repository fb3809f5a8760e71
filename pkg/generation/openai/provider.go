// Package openai implements the generation provider for the OpenAI Chat
// Completions API and compatible endpoints.
package openai

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/husainf4l/rolevatev7/pkg/core"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o"

	// DefaultMaxTokens is the default completion budget.
	DefaultMaxTokens = 4096

	// DefaultTemperature matches the interview tuning of the hosted agent.
	DefaultTemperature = 0.7
)

// Provider implements generation against the Chat Completions API.
type Provider struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *slog.Logger
}

// New creates a new OpenAI provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:      apiKey,
		baseURL:     DefaultBaseURL,
		model:       DefaultModel,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		httpClient:  &http.Client{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "openai"
}

// Generate sends the conversation to the Chat Completions endpoint and
// returns the assistant's reply.
func (p *Provider) Generate(ctx context.Context, systemPrompt string, history []core.Message) (core.Message, error) {
	req := p.buildRequest(systemPrompt, history)

	respBody, err := p.doRequest(ctx, req)
	if err != nil {
		return core.Message{}, err
	}

	return p.parseResponse(respBody)
}
