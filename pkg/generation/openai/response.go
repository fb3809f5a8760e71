package openai

import (
	"encoding/json"

	"github.com/husainf4l/rolevatev7/pkg/core"
)

// chatResponse is the Chat Completions response format.
type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// parseResponse parses a Chat Completions response into an assistant message.
func (p *Provider) parseResponse(body []byte) (core.Message, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Message{}, core.NewInternalError("unmarshal generation response", err)
	}

	if len(resp.Choices) == 0 {
		return core.Message{}, core.NewInternalError("no choices in generation response", nil)
	}

	choice := resp.Choices[0]
	p.logger.Debug("generation complete",
		"model", resp.Model,
		"finish_reason", choice.FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return core.NewMessage(core.RoleAssistant, choice.Message.Content), nil
}
