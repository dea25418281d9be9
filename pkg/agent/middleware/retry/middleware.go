package retry

import (
	"context"
	"fmt"
	"time"

	"qualgen/pkg/agent/llm"
	"qualgen/pkg/agent/llmerrors"
)

// Middleware returns a middleware function that wraps an LLM client with
// retry logic. Failed requests are retried according to the configured
// policy with exponential backoff; exhausting retries on a retryable
// error yields a ServiceUnavailable error so the workflow halts instead
// of looping.
func Middleware(policy *Policy) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				var lastErr error

				for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
					if attempt > 1 {
						delay := policy.CalculateDelay(attempt)
						if delay > 0 {
							select {
							case <-ctx.Done():
								return llm.CompletionResponse{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
							case <-time.After(delay):
							}
						}
					}

					resp, err := next.Complete(ctx, req)
					if err == nil {
						return resp, nil
					}

					lastErr = err

					if !policy.ShouldRetry(err) {
						break
					}
					if attempt >= policy.Config.MaxAttempts {
						break
					}
				}

				if policy.ShouldRetry(lastErr) {
					return llm.CompletionResponse{}, llmerrors.NewServiceUnavailableError(lastErr, policy.Config.MaxAttempts)
				}
				return llm.CompletionResponse{}, lastErr
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				var lastErr error

				for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
					if attempt > 1 {
						delay := policy.CalculateDelay(attempt)
						if delay > 0 {
							select {
							case <-ctx.Done():
								return nil, fmt.Errorf("stream retry cancelled: %w", ctx.Err())
							case <-time.After(delay):
							}
						}
					}

					ch, err := next.Stream(ctx, req)
					if err == nil {
						return ch, nil
					}

					lastErr = err

					if !policy.ShouldRetry(err) {
						break
					}
					if attempt >= policy.Config.MaxAttempts {
						break
					}
				}

				if policy.ShouldRetry(lastErr) {
					return nil, llmerrors.NewServiceUnavailableError(lastErr, policy.Config.MaxAttempts)
				}
				return nil, lastErr
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}
