package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "text-embedding-3-small"

type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider builds a provider for the OpenAI embeddings API. A
// non-empty baseURL targets a compatible server instead.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) DefaultModel() string { return defaultOpenAIModel }

func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	model := req.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	oReq := openai.EmbeddingRequest{
		Input: req.Input,
		Model: openai.EmbeddingModel(model),
	}

	resp, err := p.client.CreateEmbeddings(ctx, oReq)
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}

	// The API may return items out of order; Index is authoritative.
	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(embeddings) {
			idx = i
		}
		embeddings[idx] = d.Embedding
	}

	return &EmbeddingResponse{
		Provider:   "openai",
		Model:      model,
		Embeddings: embeddings,
		Tokens:     resp.Usage.TotalTokens,
		CostUSD:    CalculateCost(model, resp.Usage.PromptTokens),
	}, nil
}
