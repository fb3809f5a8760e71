// Package generation defines the interface to conversational LLM backends.
// Implementations live in subpackages (openai, gemini) and translate between
// the agent's message format and each provider's wire API.
package generation

import (
	"context"

	"github.com/husainf4l/rolevatev7/pkg/core"
)

// Provider is the interface all generation backends must implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "gemini").
	Name() string

	// Generate produces the next assistant message for the given system
	// prompt and conversation history. The returned message always has the
	// assistant role. Errors carry the shared taxonomy so callers can tell
	// retryable transport failures from permanent ones.
	Generate(ctx context.Context, systemPrompt string, history []core.Message) (core.Message, error)
}
