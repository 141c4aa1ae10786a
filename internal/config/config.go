package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	TenantStore TenantStoreConfig
	VectorStore VectorStoreConfig
	Embedding   EmbeddingConfig
	Ingest      IngestConfig
	Log         LogConfig
}

type ServerConfig struct {
	Host string
	Port int
	// MaxUploadBytes bounds a single multipart upload.
	MaxUploadBytes int64
	CORSOrigins    []string
	// UploadRate is uploads per second per client; 0 disables limiting.
	UploadRate  float64
	UploadBurst int
}

type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
	// Zero durations keep the pgxpool defaults.
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
	AutoMigrate       bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Enabled gates the listing cache and the task queue.
	Enabled         bool
	ListingCacheTTL time.Duration
}

type TenantStoreConfig struct {
	Backend  string // "badger" or "postgres"
	Dir      string
	InMemory bool
}

type VectorStoreConfig struct {
	Backend string // "qdrant", "pgvector" or "memory"
	// Qdrant is reached over gRPC.
	QdrantHost string
	QdrantPort int
	QdrantKey  string
	QdrantTLS  bool
	BatchSize  int
	// Concurrency bounds parallel upsert batches.
	Concurrency int
	Timeout     time.Duration
}

type EmbeddingConfig struct {
	Provider         string // "openai", "ollama" or "webhook"
	FallbackProvider string
	Model            string
	OpenAIKey        string
	OpenAIBaseURL    string
	OllamaURL        string
	WebhookURL       string
	WebhookToken     string
	MaxRetries       int
	BatchSize        int
	Concurrency      int
	// Dimension skips the startup probe when set.
	Dimension int
}

type IngestConfig struct {
	ChunkSize        int
	ChunkOverlap     int
	ExtractTimeout   time.Duration
	EmbedTimeout     time.Duration
	StoreTimeout     time.Duration
	RollbackTimeout  time.Duration
	DefaultQuotaMiB  int64
	ReconcileWorkers int
}

type LogConfig struct {
	Level slog.Level
}

// DefaultQuotaBytes converts the configured default quota to bytes.
func (c IngestConfig) DefaultQuotaBytes() int64 {
	return c.DefaultQuotaMiB << 20
}

func Load() (*Config, error) {
	var errs []string
	p := parser{errs: &errs}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           p.getEnvInt("SERVER_PORT", 8080),
			MaxUploadBytes: p.getEnvInt64("MAX_UPLOAD_BYTES", 50<<20),
			CORSOrigins:    getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			UploadRate:     p.getEnvFloat("UPLOAD_RATE_LIMIT", 0),
			UploadBurst:    p.getEnvInt("UPLOAD_RATE_BURST", 5),
		},
		Database: DatabaseConfig{
			URL:               getEnv("DATABASE_URL", ""),
			MaxConns:          p.getEnvInt("DB_MAX_CONNS", 20),
			MinConns:          p.getEnvInt("DB_MIN_CONNS", 2),
			MaxConnLifetime:   p.getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdleTime:   p.getEnvDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
			HealthCheckPeriod: p.getEnvDuration("DB_HEALTH_CHECK_PERIOD", time.Minute),
			ConnectTimeout:    p.getEnvDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
			AutoMigrate:       p.getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:            getEnv("REDIS_ADDR", "localhost:6379"),
			Password:        getEnv("REDIS_PASSWORD", ""),
			DB:              p.getEnvInt("REDIS_DB", 0),
			Enabled:         p.getEnvBool("REDIS_ENABLED", false),
			ListingCacheTTL: p.getEnvDuration("LISTING_CACHE_TTL", 30*time.Second),
		},
		TenantStore: TenantStoreConfig{
			Backend:  getEnv("TENANT_STORE", "badger"),
			Dir:      getEnv("TENANT_STORE_DIR", "data/tenants"),
			InMemory: p.getEnvBool("TENANT_STORE_IN_MEMORY", false),
		},
		VectorStore: VectorStoreConfig{
			Backend:     getEnv("VECTOR_STORE", "qdrant"),
			QdrantHost:  getEnv("QDRANT_HOST", "localhost"),
			QdrantPort:  p.getEnvInt("QDRANT_GRPC_PORT", 6334),
			QdrantKey:   getEnv("QDRANT_API_KEY", ""),
			QdrantTLS:   p.getEnvBool("QDRANT_TLS", false),
			BatchSize:   p.getEnvInt("VECTOR_UPSERT_BATCH", 64),
			Concurrency: p.getEnvInt("VECTOR_UPSERT_CONCURRENCY", 4),
			Timeout:     p.getEnvDuration("VECTOR_STORE_TIMEOUT", 30*time.Second),
		},
		Embedding: EmbeddingConfig{
			Provider:         getEnv("EMBEDDING_PROVIDER", "openai"),
			FallbackProvider: getEnv("EMBEDDING_FALLBACK_PROVIDER", ""),
			Model:            getEnv("EMBEDDING_MODEL", ""),
			OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
			OllamaURL:        getEnv("OLLAMA_URL", "http://localhost:11434"),
			WebhookURL:       getEnv("EMBEDDING_WEBHOOK_URL", ""),
			WebhookToken:     getEnv("EMBEDDING_WEBHOOK_TOKEN", ""),
			MaxRetries:       p.getEnvInt("EMBEDDING_MAX_RETRIES", 3),
			BatchSize:        p.getEnvInt("EMBEDDING_BATCH_SIZE", 100),
			Concurrency:      p.getEnvInt("EMBEDDING_CONCURRENCY", 2),
			Dimension:        p.getEnvInt("EMBEDDING_DIMENSION", 0),
		},
		Ingest: IngestConfig{
			ChunkSize:        p.getEnvInt("CHUNK_SIZE", 512),
			ChunkOverlap:     p.getEnvInt("CHUNK_OVERLAP", 50),
			ExtractTimeout:   p.getEnvDuration("EXTRACT_TIMEOUT", 30*time.Second),
			EmbedTimeout:     p.getEnvDuration("EMBED_TIMEOUT", 5*time.Minute),
			StoreTimeout:     p.getEnvDuration("STORE_TIMEOUT", 2*time.Minute),
			RollbackTimeout:  p.getEnvDuration("ROLLBACK_TIMEOUT", 10*time.Second),
			DefaultQuotaMiB:  p.getEnvInt64("DEFAULT_QUOTA_MIB", 100),
			ReconcileWorkers: p.getEnvInt("RECONCILE_WORKERS", 4),
		},
		Log: LogConfig{
			Level: p.getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		},
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var problems []string

	switch c.TenantStore.Backend {
	case "badger":
		if c.TenantStore.Dir == "" && !c.TenantStore.InMemory {
			problems = append(problems, "TENANT_STORE_DIR is required for the badger tenant store")
		}
	case "postgres":
		if c.Database.URL == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres tenant store")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown TENANT_STORE %q", c.TenantStore.Backend))
	}

	switch c.VectorStore.Backend {
	case "qdrant":
		if c.VectorStore.QdrantHost == "" {
			problems = append(problems, "QDRANT_HOST is required for the qdrant vector store")
		}
		if c.VectorStore.QdrantPort <= 0 || c.VectorStore.QdrantPort > 65535 {
			problems = append(problems, fmt.Sprintf("QDRANT_GRPC_PORT %d is out of range", c.VectorStore.QdrantPort))
		}
	case "pgvector":
		if c.Database.URL == "" {
			problems = append(problems, "DATABASE_URL is required for the pgvector vector store")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("unknown VECTOR_STORE %q", c.VectorStore.Backend))
	}

	for _, name := range []string{c.Embedding.Provider, c.Embedding.FallbackProvider} {
		switch name {
		case "", "openai", "ollama", "webhook":
		default:
			problems = append(problems, fmt.Sprintf("unknown embedding provider %q", name))
		}
	}

	if c.Ingest.ChunkSize <= 0 || c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		problems = append(problems, "CHUNK_OVERLAP must be in [0, CHUNK_SIZE) and CHUNK_SIZE positive")
	}
	if c.Ingest.DefaultQuotaMiB < 0 {
		problems = append(problems, "DEFAULT_QUOTA_MIB must not be negative")
	}
	if c.Server.UploadRate < 0 {
		problems = append(problems, "UPLOAD_RATE_LIMIT must not be negative")
	}
	if c.VectorStore.BatchSize <= 0 || c.Embedding.BatchSize <= 0 {
		problems = append(problems, "batch sizes must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// EmbeddingConfigured reports whether the primary provider has what it needs
// to be called.
func (c *Config) EmbeddingConfigured() bool {
	return ProviderConfigured(c.Embedding, c.Embedding.Provider)
}

func ProviderConfigured(c EmbeddingConfig, name string) bool {
	switch name {
	case "openai":
		return c.OpenAIKey != ""
	case "ollama":
		return c.OllamaURL != ""
	case "webhook":
		return c.WebhookURL != ""
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser collects every malformed variable instead of stopping at the first.
type parser struct {
	errs *[]string
}

func (p parser) fail(key string, err error) {
	*p.errs = append(*p.errs, fmt.Sprintf("%s: %v", key, err))
}

func (p parser) getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return n
}

func (p parser) getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return f
}

func (p parser) getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return n
}

func (p parser) getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return b
}

func (p parser) getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return d
}

func (p parser) getEnvLevel(key string, fallback slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		p.fail(key, err)
		return fallback
	}
	return l
}
