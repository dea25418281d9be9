package llm

import (
	"context"
	"sync"
)

// MockClient is a scripted LLMClient for tests. Responses are returned in
// order; once exhausted the last response repeats. A non-nil Err is
// returned on every call instead.
type MockClient struct {
	mu        sync.Mutex
	responses []CompletionResponse
	err       error
	calls     []CompletionRequest
	index     int
}

// NewMockClient creates a mock client that replays the given responses.
func NewMockClient(responses []CompletionResponse, err error) *MockClient {
	return &MockClient{responses: responses, err: err}
}

// Complete returns the next scripted response.
func (m *MockClient) Complete(_ context.Context, in CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, in)

	if m.err != nil {
		return CompletionResponse{}, m.err
	}
	if len(m.responses) == 0 {
		return CompletionResponse{}, nil
	}

	resp := m.responses[m.index]
	if m.index < len(m.responses)-1 {
		m.index++
	}
	return resp, nil
}

// Stream replays the next scripted response as a two-chunk stream.
func (m *MockClient) Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error) {
	resp, err := m.Complete(ctx, in)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 2)
	ch <- StreamChunk{Content: resp.Content}
	ch <- StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

// GetModelName returns a fixed test model name.
func (m *MockClient) GetModelName() string {
	return "mock-model"
}

// Calls returns a copy of all requests seen by the mock.
func (m *MockClient) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest{}, m.calls...)
}
