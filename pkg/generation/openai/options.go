package openai

import (
	"log/slog"
	"net/http"
)

// Option configures the OpenAI provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL (for testing or compatible endpoints).
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithModel sets the model to request.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model == "" {
			return
		}
		p.model = model
	}
}

// WithMaxTokens sets the completion token budget.
func WithMaxTokens(n int) Option {
	return func(p *Provider) {
		if n <= 0 {
			return
		}
		p.maxTokens = n
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(p *Provider) {
		p.temperature = t
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
