package metrics

import (
	"context"
	"errors"
	"time"

	"qualgen/pkg/agent/llm"
	"qualgen/pkg/agent/llmerrors"
	"qualgen/pkg/logx"
	"qualgen/pkg/tokens"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor extracts token usage from a request and response.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor counts tokens with tiktoken over the raw text.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	var promptText string
	for i := range req.Messages {
		promptText += req.Messages[i].Content + "\n"
	}
	promptTokens = tokens.CountSimple(promptText)
	completionTokens = tokens.CountSimple(resp.Content)
	return promptTokens, completionTokens
}

// Middleware returns a middleware function that records metrics for LLM
// operations: request latency, token usage, success/failure rates, and
// error types.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, labeler Labeler, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				model := next.GetModelName()

				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				if err == nil {
					promptTokens, completionTokens = usageExtractor(req, resp)
				}

				errorType := ""
				if err != nil {
					errorType = classifyErrorType(err)
				}

				recorder.ObserveRequest(
					model,
					labeler.GetWorkflowID(),
					labeler.GetAgentName(),
					labeler.GetCurrentState(),
					promptTokens,
					completionTokens,
					err == nil,
					errorType,
					duration,
				)

				if logger != nil {
					status := statusSuccess
					if err != nil {
						status = statusError
					}
					logger.Info("LLM request: model=%s agent=%s state=%s tokens=%d+%d status=%s duration=%dms",
						model, labeler.GetAgentName(), labeler.GetCurrentState(),
						promptTokens, completionTokens, status, duration.Milliseconds())
				}

				return resp, err //nolint:wrapcheck // Middleware passes errors through unchanged
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				start := time.Now()
				model := next.GetModelName()

				ch, err := next.Stream(ctx, req)
				duration := time.Since(start)

				// Streams only track setup time and status; counting tokens
				// would require consuming the whole stream here.
				errorType := ""
				if err != nil {
					errorType = classifyErrorType(err)
				}

				recorder.ObserveRequest(
					model,
					labeler.GetWorkflowID(),
					labeler.GetAgentName(),
					labeler.GetCurrentState(),
					0,
					0,
					err == nil,
					errorType,
					duration,
				)

				return ch, err //nolint:wrapcheck // Middleware passes errors through unchanged
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}

// classifyErrorType maps errors to a metrics label.
func classifyErrorType(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.Type.String()
	}
	return "unknown"
}
