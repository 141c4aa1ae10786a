package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// WebhookProvider calls a self-hosted HTTP embedding endpoint, such as a
// sentence-transformers sidecar or an automation workflow. The endpoint
// receives {"model", "inputs"} and answers {"embeddings": [[...], ...]}.
type WebhookProvider struct {
	url        string
	token      string
	model      string
	httpClient *http.Client
}

func NewWebhookProvider(url, token, model string) *WebhookProvider {
	if model == "" {
		model = "sentence-transformers/paraphrase-multilingual-MiniLM-L12-v2"
	}
	return &WebhookProvider{
		url:   url,
		token: token,
		model: model,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

func (p *WebhookProvider) Name() string { return "webhook" }

func (p *WebhookProvider) DefaultModel() string { return p.model }

type webhookEmbedReq struct {
	Model  string   `json:"model"`
	Inputs []string `json:"inputs"`
}

type webhookEmbedResp struct {
	Model      string      `json:"model,omitempty"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *WebhookProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	var headers map[string]string
	if p.token != "" {
		headers = map[string]string{"Authorization": "Bearer " + p.token}
	}

	var wResp webhookEmbedResp
	if err := postJSON(ctx, p.httpClient, p.url, headers, webhookEmbedReq{Model: model, Inputs: req.Input}, &wResp); err != nil {
		return nil, fmt.Errorf("webhook embed: %w", err)
	}
	if wResp.Model != "" {
		model = wResp.Model
	}

	return &EmbeddingResponse{
		Provider:   "webhook",
		Model:      model,
		Embeddings: wResp.Embeddings,
	}, nil
}
