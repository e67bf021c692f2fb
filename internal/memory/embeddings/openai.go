package embeddings

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI computes embeddings via the OpenAI embeddings API or any
// compatible endpoint.
type OpenAI struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
}

// OpenAIConfig configures an OpenAI embedder.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string

	// Model defaults to text-embedding-3-small.
	Model string

	// Dimension must match the model's output. Default 1536.
	Dimension int
}

// NewOpenAI creates an OpenAI embedder.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1536
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     openai.EmbeddingModel(cfg.Model),
		dimension: cfg.Dimension,
	}
}

// Dimension implements Provider.
func (o *OpenAI) Dimension() int { return o.dimension }

// Embed implements Provider.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: o.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	vec := resp.Data[0].Embedding
	if len(vec) != o.dimension {
		return nil, fmt.Errorf("openai embeddings: dimension %d, want %d", len(vec), o.dimension)
	}
	return vec, nil
}
