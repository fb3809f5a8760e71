package openai

import (
	"github.com/husainf4l/rolevatev7/pkg/core"
)

// chatRequest is the Chat Completions API request format.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_completion_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// chatMessage is a single message in OpenAI format. The interview loop only
// exchanges text, so content is always a plain string.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// buildRequest converts the system prompt and history to a Chat Completions
// request.
func (p *Provider) buildRequest(systemPrompt string, history []core.Message) *chatRequest {
	req := &chatRequest{
		Model:       p.model,
		MaxTokens:   &p.maxTokens,
		Temperature: &p.temperature,
	}

	req.Messages = make([]chatMessage, 0, len(history)+1)
	if systemPrompt != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	for _, msg := range history {
		req.Messages = append(req.Messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	return req
}
