package llm

import (
	"context"
	"errors"
)

var (
	// ErrNotConfigured indicates no usable embedding provider is set up.
	ErrNotConfigured = errors.New("embedding provider not configured")

	// ErrMalformedResponse indicates a provider answered with something that
	// is not a list of vectors.
	ErrMalformedResponse = errors.New("malformed embedding response")
)

// Provider abstracts an embedding backend (OpenAI, Ollama, an HTTP endpoint).
type Provider interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error)
	Name() string
	DefaultModel() string
}

// Gateway routes embedding calls to a provider with retry and fallback.
type Gateway interface {
	Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error)
	Provider(name string) (Provider, error)
	// Configured reports whether the default provider is available.
	Configured() bool
	DefaultModel() string
}

// EmbeddingRequest is the input for embedding generation.
type EmbeddingRequest struct {
	Provider string   `json:"provider,omitempty"`
	Model    string   `json:"model"`
	Input    []string `json:"input"`
}

// EmbeddingResponse is the output from embedding generation.
type EmbeddingResponse struct {
	Provider   string      `json:"provider"`
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
	Tokens     int         `json:"tokens"`
	CostUSD    float64     `json:"cost_usd"`
}
