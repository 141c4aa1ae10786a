package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaModel = "nomic-embed-text"

type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
}

func NewOllamaProvider(baseURL string) *OllamaProvider {
	return &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) DefaultModel() string { return defaultOllamaModel }

type ollamaEmbedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResp struct {
	Model           string      `json:"model"`
	Embeddings      [][]float32 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

func (p *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	model := req.Model
	if model == "" {
		model = defaultOllamaModel
	}

	var oResp ollamaEmbedResp
	err := postJSON(ctx, p.httpClient, p.baseURL+"/api/embed", nil, ollamaEmbedReq{
		Model: model,
		Input: req.Input,
	}, &oResp)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	return &EmbeddingResponse{
		Provider:   "ollama",
		Model:      model,
		Embeddings: oResp.Embeddings,
		Tokens:     oResp.PromptEvalCount,
	}, nil
}
