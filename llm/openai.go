// Package llm provides completion-provider adapters for the agent runtime.
//
// Each adapter converts between the core Message/Completion contract and a
// provider's native API, including native tool-call requests. Tool results
// are folded back into the conversation as plain context text, so adapters
// never need to track provider-side tool-call identifiers.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/xiaot623/flightcopilot/flightcopilot"
)

// OpenAIProvider adapts OpenAI chat models to the CompletionProvider
// contract using native function calling.
//
// Example:
//
//	provider := NewOpenAIProvider("sk-...", "gpt-4o")
//	completion, err := provider.Complete(ctx, instructions, history, tools)
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates an OpenAI provider.
//
// Parameters:
//   - apiKey: OpenAI API key
//   - model: model identifier (default "gpt-4o")
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// Model returns the model identifier.
func (p *OpenAIProvider) Model() string { return p.model }

// Complete generates one completion, surfacing any tool-call requests the
// model makes.
func (p *OpenAIProvider) Complete(ctx context.Context, instructions string, history []*flightcopilot.Message, tools []flightcopilot.ToolSpec) (*flightcopilot.Completion, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if instructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: instructions,
		})
	}
	for _, msg := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    convertRole(msg.Role),
			Content: msg.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	choice := resp.Choices[0]
	completion := &flightcopilot.Completion{
		Text: choice.Message.Content,
		Metadata: map[string]interface{}{
			"model":         resp.Model,
			"finish_reason": string(choice.FinishReason),
			"usage": map[string]interface{}{
				"prompt_tokens":     resp.Usage.PromptTokens,
				"completion_tokens": resp.Usage.CompletionTokens,
				"total_tokens":      resp.Usage.TotalTokens,
			},
		},
	}

	for _, call := range choice.Message.ToolCalls {
		args := make(map[string]interface{})
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("malformed tool arguments from model: %w", err)
			}
		}
		completion.ToolCalls = append(completion.ToolCalls, flightcopilot.ToolCallRequest{
			ToolName:  call.Function.Name,
			Arguments: args,
		})
	}

	return completion, nil
}

// convertRole maps core roles onto OpenAI chat roles. Tool results travel as
// user-visible context since the runtime folds them back as plain text.
func convertRole(role string) string {
	switch role {
	case flightcopilot.RoleAgent:
		return openai.ChatMessageRoleAssistant
	case flightcopilot.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
