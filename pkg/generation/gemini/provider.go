// Package gemini implements the generation provider on the Google GenAI SDK.
package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"google.golang.org/genai"

	"github.com/husainf4l/rolevatev7/pkg/core"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// Provider implements generation against the Gemini API.
type Provider struct {
	client      *genai.Client
	model       string
	temperature *float32
	maxTokens   int32
	baseURL     string
	httpClient  *http.Client
	logger      *slog.Logger
}

// Option configures the Gemini provider.
type Option func(*Provider)

// WithModel sets the model to request.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model == "" {
			return
		}
		p.model = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(p *Provider) {
		p.temperature = genai.Ptr(t)
	}
}

// WithMaxOutputTokens sets the completion token budget.
func WithMaxOutputTokens(n int32) Option {
	return func(p *Provider) {
		if n <= 0 {
			return
		}
		p.maxTokens = n
	}
}

// WithBaseURL sets a custom API endpoint (for testing).
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l == nil {
			return
		}
		p.logger = l
	}
}

// New creates a Gemini provider backed by the public Gemini API.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	p := &Provider{
		model:  DefaultModel,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.httpClient != nil {
		cc.HTTPClient = p.httpClient
	}
	if p.baseURL != "" {
		cc.HTTPOptions.BaseURL = p.baseURL
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, core.NewInternalError("create gemini client", err)
	}
	p.client = client
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// Generate sends the conversation to Gemini and returns the assistant's
// reply. The system prompt travels as a system instruction; assistant turns
// map to the model role.
func (p *Provider) Generate(ctx context.Context, systemPrompt string, history []core.Message) (core.Message, error) {
	contents := buildContents(history)
	if len(contents) == 0 {
		return core.Message{}, core.NewValidationError("generation requires at least one message")
	}

	config := &genai.GenerateContentConfig{
		Temperature:     p.temperature,
		MaxOutputTokens: p.maxTokens,
	}
	if systemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return core.Message{}, classify(ctx, err)
	}

	text := resp.Text()
	if text == "" {
		return core.Message{}, core.NewInternalError("empty generation response", nil)
	}

	p.logger.Debug("generation complete", "model", p.model)
	return core.NewMessage(core.RoleAssistant, text), nil
}

// buildContents converts history to Gemini contents. System messages are
// skipped; they travel as the system instruction.
func buildContents(history []core.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		var role genai.Role
		switch msg.Role {
		case core.RoleAssistant:
			role = genai.RoleModel
		case core.RoleSystem:
			continue
		default:
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}

// classify maps SDK errors to the shared taxonomy.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return core.NewTimeoutError("generation request timed out")
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return &core.Error{Type: core.ErrUnauthorized, Message: apiErr.Message, Code: apiErr.Status}
		case apiErr.Code == http.StatusNotFound:
			return &core.Error{Type: core.ErrNotFound, Message: apiErr.Message, Code: apiErr.Status}
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return &core.Error{Type: core.ErrConnectivity, Message: apiErr.Message, Code: apiErr.Status, Cause: err}
		case apiErr.Code == http.StatusBadRequest:
			return &core.Error{Type: core.ErrValidation, Message: apiErr.Message, Code: apiErr.Status}
		}
	}

	return core.NewConnectivityError("generation request failed", err)
}
