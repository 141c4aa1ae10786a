package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/docingest/internal/config"
)

type gateway struct {
	providers        map[string]Provider
	defaultProvider  string
	fallbackProvider string
	model            string
	maxRetries       int
	backoff          func(attempt int) time.Duration
	logger           *slog.Logger
}

type GatewayOption func(*gateway)

// WithBackoff replaces the quadratic retry delay.
func WithBackoff(fn func(attempt int) time.Duration) GatewayOption {
	return func(g *gateway) { g.backoff = fn }
}

func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithProvider registers p under its own name, replacing any configured one.
func WithProvider(p Provider) GatewayOption {
	return func(g *gateway) { g.providers[p.Name()] = p }
}

// NewGateway registers every provider cfg has credentials for.
func NewGateway(cfg config.EmbeddingConfig, opts ...GatewayOption) Gateway {
	g := &gateway{
		providers:        make(map[string]Provider),
		defaultProvider:  cfg.Provider,
		fallbackProvider: cfg.FallbackProvider,
		model:            cfg.Model,
		maxRetries:       cfg.MaxRetries,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * 500 * time.Millisecond
		},
		logger: slog.Default(),
	}

	if config.ProviderConfigured(cfg, "openai") {
		g.providers["openai"] = NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIBaseURL)
	}
	if config.ProviderConfigured(cfg, "ollama") {
		g.providers["ollama"] = NewOllamaProvider(cfg.OllamaURL)
	}
	if config.ProviderConfigured(cfg, "webhook") {
		g.providers["webhook"] = NewWebhookProvider(cfg.WebhookURL, cfg.WebhookToken, cfg.Model)
	}

	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "embedding-gateway")
	return g
}

func (g *gateway) Provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotConfigured, name)
	}
	return p, nil
}

func (g *gateway) Configured() bool {
	_, ok := g.providers[g.defaultProvider]
	return ok
}

// DefaultModel is the model used when a request names none.
func (g *gateway) DefaultModel() string {
	if g.model != "" {
		return g.model
	}
	if p, ok := g.providers[g.defaultProvider]; ok {
		return p.DefaultModel()
	}
	return ""
}

func (g *gateway) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = g.defaultProvider
	}

	resp, err := g.embedWithRetry(ctx, providerName, req)
	if err != nil && ctx.Err() == nil && g.fallbackProvider != "" && g.fallbackProvider != providerName {
		g.logger.Warn("primary provider failed, trying fallback",
			"primary", providerName,
			"fallback", g.fallbackProvider,
			"error", err,
		)
		// The fallback has its own default model.
		fallbackReq := req
		fallbackReq.Model = ""
		return g.embedWithRetry(ctx, g.fallbackProvider, fallbackReq)
	}
	return resp, err
}

func (g *gateway) embedWithRetry(ctx context.Context, providerName string, req EmbeddingRequest) (*EmbeddingResponse, error) {
	p, err := g.Provider(providerName)
	if err != nil {
		return nil, err
	}
	if req.Model == "" && providerName == g.defaultProvider {
		req.Model = g.model
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.backoff(attempt)):
			}
			g.logger.Debug("retrying embedding call", "provider", providerName, "attempt", attempt)
		}

		resp, err := p.GenerateEmbedding(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}
	return nil, fmt.Errorf("all retries exhausted for %s: %w", providerName, lastErr)
}
