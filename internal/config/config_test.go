package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, 512, cfg.Ingest.ChunkSize)
	assert.Equal(t, 50, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 30*time.Second, cfg.Ingest.ExtractTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Ingest.EmbedTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Ingest.StoreTimeout)
	assert.Equal(t, int64(100<<20), cfg.Ingest.DefaultQuotaBytes())
	assert.Equal(t, "badger", cfg.TenantStore.Backend)
	assert.Equal(t, "qdrant", cfg.VectorStore.Backend)
	assert.Equal(t, "localhost", cfg.VectorStore.QdrantHost)
	assert.Equal(t, 6334, cfg.VectorStore.QdrantPort)
	assert.Equal(t, time.Hour, cfg.Database.MaxConnLifetime)
	assert.Equal(t, time.Minute, cfg.Database.HealthCheckPeriod)
	assert.Equal(t, slog.LevelInfo, cfg.Log.Level)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CHUNK_SIZE", "256")
	t.Setenv("CHUNK_OVERLAP", "32")
	t.Setenv("EMBED_TIMEOUT", "90s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.test, https://b.test")
	t.Setenv("QDRANT_HOST", "qdrant.internal")
	t.Setenv("QDRANT_TLS", "true")
	t.Setenv("DB_MAX_CONN_IDLE_TIME", "5m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 256, cfg.Ingest.ChunkSize)
	assert.Equal(t, 32, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 90*time.Second, cfg.Ingest.EmbedTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.Log.Level)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.QdrantHost)
	assert.True(t, cfg.VectorStore.QdrantTLS)
	assert.Equal(t, 5*time.Minute, cfg.Database.MaxConnIdleTime)
}

func TestLoad_ReportsEveryMalformedVariable(t *testing.T) {
	t.Setenv("SERVER_PORT", "eighty")
	t.Setenv("EXTRACT_TIMEOUT", "soon")
	t.Setenv("REDIS_ENABLED", "maybe")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_PORT")
	assert.Contains(t, err.Error(), "EXTRACT_TIMEOUT")
	assert.Contains(t, err.Error(), "REDIS_ENABLED")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"postgres store without url", func(c *Config) { c.TenantStore.Backend = "postgres" }, "DATABASE_URL"},
		{"pgvector without url", func(c *Config) { c.VectorStore.Backend = "pgvector" }, "DATABASE_URL"},
		{"unknown tenant store", func(c *Config) { c.TenantStore.Backend = "sqlite" }, "TENANT_STORE"},
		{"unknown vector store", func(c *Config) { c.VectorStore.Backend = "faiss" }, "VECTOR_STORE"},
		{"qdrant without host", func(c *Config) { c.VectorStore.QdrantHost = "" }, "QDRANT_HOST"},
		{"qdrant port out of range", func(c *Config) { c.VectorStore.QdrantPort = 70000 }, "QDRANT_GRPC_PORT"},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "cohere" }, "cohere"},
		{"overlap too large", func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.ChunkSize }, "CHUNK_OVERLAP"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tc.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestProviderConfigured(t *testing.T) {
	c := EmbeddingConfig{OllamaURL: "http://localhost:11434"}
	assert.False(t, ProviderConfigured(c, "openai"))
	assert.True(t, ProviderConfigured(c, "ollama"))
	assert.False(t, ProviderConfigured(c, "webhook"))
	assert.False(t, ProviderConfigured(c, ""))

	c.OpenAIKey = "sk-test"
	assert.True(t, ProviderConfigured(c, "openai"))
}
