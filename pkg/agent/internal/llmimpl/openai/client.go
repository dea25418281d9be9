// Package openai provides the OpenAI client implementation for the LLM
// interface, using the official OpenAI Go package.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"qualgen/pkg/agent/llm"
	"qualgen/pkg/agent/llmerrors"
)

// Client wraps the official OpenAI Go client to implement llm.LLMClient.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates a raw OpenAI client with a specific model; middleware
// is applied at a higher level.
func NewClient(apiKey, model string) llm.LLMClient {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		client: client,
		model:  model,
	}
}

// Complete implements the llm.LLMClient interface using the Chat
// Completions API.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case llm.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("unsupported message role: %s", msg.Role))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.model),
		Messages:    messages,
		MaxTokens:   openai.Int(int64(in.MaxTokens)),
		Temperature: openai.Float(float64(in.Temperature)),
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	if resp == nil || len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from OpenAI API")
	}

	choice := resp.Choices[0]
	if choice.Message.Content == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "no text content in OpenAI response")
	}

	return llm.CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
	}, nil
}

// Stream implements the llm.LLMClient interface by buffering a Complete
// call; true streaming is not needed by any pipeline stage.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (o *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	go func() {
		defer close(ch)
		resp, err := o.Complete(ctx, in)
		if err != nil {
			ch <- llm.StreamChunk{Error: err}
			return
		}
		ch <- llm.StreamChunk{Content: resp.Content}
		ch <- llm.StreamChunk{Done: true}
	}()
	return ch, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

// classifyError maps OpenAI SDK errors to structured error types.
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

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, apiErr.StatusCode, "authentication failed - check API key")
		case 429:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeRateLimit, apiErr.StatusCode, "rate limit exceeded")
		case 400, 404, 422:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, apiErr.StatusCode, "bad request - check prompt format and parameters")
		case 500, 502, 503, 504:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, apiErr.StatusCode, "server error")
		}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout"),
		strings.Contains(lower, "connection"),
		strings.Contains(lower, "network"),
		strings.Contains(lower, "eof"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "network or connection error")
	case strings.Contains(lower, "rate"), strings.Contains(lower, "quota"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "rate limiting detected")
	case strings.Contains(lower, "api key"), strings.Contains(lower, "unauthorized"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "authentication error")
	}

	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified error")
}
