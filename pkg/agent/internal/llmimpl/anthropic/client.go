// Package anthropic provides the Anthropic Claude client implementation
// for the LLM interface.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"qualgen/pkg/agent/llm"
	"qualgen/pkg/agent/llmerrors"
)

// ClaudeClient wraps the Anthropic API client to implement llm.LLMClient.
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClient creates a raw Claude client; middleware is applied at a
// higher level.
func NewClaudeClient(apiKey, model string) llm.LLMClient {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ClaudeClient{
		client: client,
		model:  anthropic.Model(model),
	}
}

// ensureAlternation prepares messages for Anthropic API requirements:
// system messages move to the top-level system parameter, consecutive
// user messages merge, and the sequence must end with a user message.
func ensureAlternation(messages []llm.CompletionMessage) (systemPrompt string, alternating []llm.CompletionMessage, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var nonSystem []llm.CompletionMessage

	for i := range messages {
		msg := &messages[i]
		if msg.Role == llm.RoleSystem {
			systemParts = append(systemParts, msg.Content)
		} else {
			nonSystem = append(nonSystem, *msg)
		}
	}

	systemPrompt = strings.Join(systemParts, "\n\n")

	if len(nonSystem) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}

	// Merge consecutive non-assistant messages into single user turns.
	var merged []llm.CompletionMessage
	var userParts []string

	for i := range nonSystem {
		msg := &nonSystem[i]
		if msg.Role == llm.RoleAssistant {
			if len(userParts) > 0 {
				merged = append(merged, llm.CompletionMessage{
					Role:    llm.RoleUser,
					Content: strings.Join(userParts, "\n\n"),
				})
				userParts = nil
			}
			merged = append(merged, *msg)
		} else {
			userParts = append(userParts, msg.Content)
		}
	}
	if len(userParts) > 0 {
		merged = append(merged, llm.CompletionMessage{
			Role:    llm.RoleUser,
			Content: strings.Join(userParts, "\n\n"),
		})
	}

	for i := range merged {
		if i > 0 && merged[i].Role == merged[i-1].Role {
			return "", nil, fmt.Errorf("alternation violation at index %d: consecutive %s messages", i, merged[i].Role)
		}
	}
	if merged[0].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got: %s", merged[0].Role)
	}
	if merged[len(merged)-1].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", merged[len(merged)-1].Role)
	}

	return systemPrompt, merged, nil
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	systemPrompt, alternating, err := ensureAlternation(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message alternation error: %v", err))
	}

	messages := make([]anthropic.MessageParam, 0, len(alternating))
	for i := range alternating {
		msg := &alternating[i]
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}

	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{
			Text: systemPrompt,
			Type: "text",
		}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty or nil response from Claude API")
	}

	var responseText string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			textBlock := block.AsText()
			responseText += textBlock.Text
		}
	}

	if responseText == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "no text content in Claude response")
	}

	return llm.CompletionResponse{
		Content:    responseText,
		StopReason: string(resp.StopReason),
	}, nil
}

// Stream implements the llm.LLMClient interface by buffering a Complete
// call; true streaming is not needed by any pipeline stage.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *ClaudeClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	go func() {
		defer close(ch)
		resp, err := c.Complete(ctx, in)
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
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}

// classifyError maps Anthropic SDK errors to structured error types.
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

	errStr := err.Error()
	statusCode := extractStatusCode(errStr)

	switch statusCode {
	case 401:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, statusCode, "authentication failed - check API key")
	case 403:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, statusCode, "permission denied - check API access")
	case 429:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeRateLimit, statusCode, "rate limit exceeded")
	case 400:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, statusCode, "bad request - check prompt format and parameters")
	case 500, 502, 503, 504:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, statusCode, "server error")
	}

	lower := strings.ToLower(errStr)
	switch {
	case strings.Contains(lower, "timeout"),
		strings.Contains(lower, "connection"),
		strings.Contains(lower, "network"),
		strings.Contains(lower, "eof"),
		strings.Contains(lower, "reset"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "network or connection error")
	case strings.Contains(lower, "rate"), strings.Contains(lower, "quota"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "rate limiting detected")
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "api key"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "authentication error")
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "malformed"), strings.Contains(lower, "too large"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "prompt or request error")
	}

	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified error")
}

// extractStatusCode attempts to extract an HTTP status code from an SDK
// error string; Anthropic errors usually embed one.
func extractStatusCode(errStr string) int {
	patterns := []string{"status code: ", "status: ", "http ", "code "}
	lower := strings.ToLower(errStr)

	for _, pattern := range patterns {
		idx := strings.Index(lower, pattern)
		if idx == -1 {
			continue
		}
		start := idx + len(pattern)
		if start >= len(errStr) {
			continue
		}
		end := start + 3
		if end > len(errStr) {
			end = len(errStr)
		}
		switch errStr[start:end] {
		case "400":
			return 400
		case "401":
			return 401
		case "403":
			return 403
		case "429":
			return 429
		case "500":
			return 500
		case "502":
			return 502
		case "503":
			return 503
		case "504":
			return 504
		}
	}

	return 0
}
