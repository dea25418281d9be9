// Package ollama provides the Ollama client implementation for the LLM
// interface. Ollama is a local LLM runtime for open-source models.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"qualgen/pkg/agent/llm"
	"qualgen/pkg/agent/llmerrors"
)

// Client wraps the Ollama API client to implement llm.LLMClient.
type Client struct {
	client  *api.Client
	model   string
	hostURL string
}

// NewClient creates a new Ollama client with a specific model.
// hostURL should be the Ollama server URL (e.g., "http://localhost:11434").
func NewClient(hostURL, model string) llm.LLMClient {
	parsedURL, err := url.Parse(hostURL)
	if err != nil {
		parsedURL, _ = url.Parse("http://localhost:11434")
	}

	return &Client{
		client:  api.NewClient(parsedURL, http.DefaultClient),
		model:   model,
		hostURL: hostURL,
	}
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	var response api.ChatResponse
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	if response.Message.Content == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Ollama")
	}

	return llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: response.DoneReason,
	}, nil
}

// Stream implements the llm.LLMClient interface (stub - not used).
//
//nolint:revive // ctx and in kept for interface consistency
func (o *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, llmerrors.NewError(llmerrors.ErrorTypeUnknown, "streaming not implemented for Ollama client")
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

func convertMessages(messages []llm.CompletionMessage) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	result := make([]api.Message, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		result = append(result, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return result, nil
}

// classifyError maps Ollama client errors to structured error types.
// A local runtime mostly fails with connection errors.
func classifyError(err error) *llmerrors.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request canceled")
	}

	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "eof") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "Ollama server unreachable")
	}
	if strings.Contains(lower, "model") && strings.Contains(lower, "not found") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "model not available on Ollama server")
	}

	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "Ollama API call failed")
}
