package retrieval

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"qualgen/pkg/config"
)

// Embedder converts text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// NewEmbedder builds an embedder for the configured embedding model,
// selecting the backend by provider.
func NewEmbedder(cfg *config.Config) (Embedder, error) {
	model := cfg.Models.Embedder
	provider, err := config.GetModelProvider(model)
	if err != nil {
		return nil, fmt.Errorf("failed to determine embedding provider: %w", err)
	}

	key, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials for embedding provider %s: %w", provider, err)
	}

	switch provider {
	case config.ProviderOpenAI:
		return newOpenAIEmbedder(key, model), nil
	case config.ProviderOllama:
		return newOllamaEmbedder(key, model)
	default:
		return nil, fmt.Errorf("no embedding backend for provider %s", provider)
	}
}

// openAIEmbedder uses the OpenAI embeddings API.
type openAIEmbedder struct {
	client openai.Client
	model  string
}

func newOpenAIEmbedder(apiKey, model string) *openAIEmbedder {
	return &openAIEmbedder{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embedding request failed: %w", err)
	}
	if resp == nil || len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response from OpenAI")
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (e *openAIEmbedder) ModelName() string {
	return e.model
}

// ollamaEmbedder uses a local Ollama server for embeddings.
type ollamaEmbedder struct {
	client *api.Client
	model  string
}

func newOllamaEmbedder(hostURL, model string) (*ollamaEmbedder, error) {
	parsedURL, err := url.Parse(hostURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama host URL %s: %w", hostURL, err)
	}
	return &ollamaEmbedder{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  model,
	}, nil
}

func (e *ollamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  e.model,
		Prompt: text,
	})
	if err != nil {
		return nil, fmt.Errorf("Ollama embedding request failed: %w", err)
	}
	if resp == nil || len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response from Ollama")
	}

	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (e *ollamaEmbedder) ModelName() string {
	return e.model
}
