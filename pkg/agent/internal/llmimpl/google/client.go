// Package google provides the Google Gemini client implementation for
// the LLM interface.
package google

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"qualgen/pkg/agent/llm"
	"qualgen/pkg/agent/llmerrors"
)

// GeminiClient wraps the Google GenAI client to implement llm.LLMClient.
type GeminiClient struct {
	client *genai.Client
	apiKey string
	model  string
}

// NewGeminiClient creates a raw Gemini client; middleware is applied at a
// higher level. Client creation requires a context, so it is deferred to
// the first Complete call.
func NewGeminiClient(apiKey, model string) llm.LLMClient {
	return &GeminiClient{
		apiKey: apiKey,
		model:  model,
	}
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if g.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "failed to create Gemini client")
		}
		g.client = client
	}

	contents, systemInstruction, err := convertMessagesToGemini(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	//nolint:gosec // MaxTokens validated at higher layer
	maxTokens := int32(in.MaxTokens)
	config := &genai.GenerateContentConfig{
		Temperature:     &in.Temperature,
		MaxOutputTokens: maxTokens,
	}

	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "Gemini API call failed")
	}

	if result == nil || result.Text() == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	return llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: "end_turn",
	}, nil
}

// Stream implements the llm.LLMClient interface (stub - not used).
//
//nolint:revive // ctx and in kept for interface consistency
func (g *GeminiClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, llmerrors.NewError(llmerrors.ErrorTypeUnknown, "streaming not implemented for Gemini client")
}

// GetModelName returns the model name for this client.
func (g *GeminiClient) GetModelName() string {
	return g.model
}

// convertMessagesToGemini converts our message format to Gemini's Content
// format, extracting system messages into the system instruction.
func convertMessagesToGemini(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	var systemInstruction string
	var contents []*genai.Content

	for i := range messages {
		msg := &messages[i]

		if msg.Role == llm.RoleSystem {
			if systemInstruction != "" {
				systemInstruction += "\n\n" + msg.Content
			} else {
				systemInstruction = msg.Content
			}
			continue
		}

		var role string
		switch msg.Role {
		case llm.RoleUser:
			role = "user"
		case llm.RoleAssistant:
			role = "model" // Gemini uses "model" instead of "assistant"
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}

		if msg.Content == "" {
			continue
		}

		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	return contents, systemInstruction, nil
}
