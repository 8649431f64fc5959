// Package config assembles runtime configuration from defaults, an
// optional YAML file named by ASKDOC_CONFIG, and environment variables,
// in that order of precedence (environment wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/askdoc/askdoc/internal/errdefs"
	"github.com/askdoc/askdoc/internal/index"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	LLM       LLMConfig       `yaml:"llm"`
	RAG       RAGConfig       `yaml:"rag"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DatabaseConfig is optional: with no URL the corpus snapshot lives in
// SQLite under the data directory instead of Postgres.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig is optional: with no address, sessions stay in memory and
// uploads are ingested inline instead of through the queue.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	APIKeys       []string      `yaml:"api_keys"`
	APIKeyHeader  string        `yaml:"api_key_header"`
	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
}

type LLMConfig struct {
	CompletionProvider string  `yaml:"completion_provider"` // openai, groq, anthropic, ollama
	CompletionModel    string  `yaml:"completion_model"`
	EmbeddingProvider  string  `yaml:"embedding_provider"` // openai, groq, ollama
	EmbeddingModel     string  `yaml:"embedding_model"`
	EmbeddingDim       int     `yaml:"embedding_dim"` // 0 means take it from the first batch
	OpenAIKey          string  `yaml:"openai_key"`
	GroqKey            string  `yaml:"groq_key"`
	AnthropicKey       string  `yaml:"anthropic_key"`
	OllamaURL          string  `yaml:"ollama_url"`
	MaxRetries         int     `yaml:"max_retries"`
	ProviderRPS        float64 `yaml:"provider_rps"`
}

type RAGConfig struct {
	ChunkSize    int     `yaml:"chunk_size"`
	ChunkOverlap int     `yaml:"chunk_overlap"`
	TopK         int     `yaml:"top_k"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	Metric       string  `yaml:"metric"` // cosine or l2
	HistoryTurns int     `yaml:"history_turns"`
}

type IngestConfig struct {
	DataDir     string `yaml:"data_dir"`
	WatchDir    string `yaml:"watch_dir"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

func (c IngestConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

type WebhookConfig struct {
	URLs   []string `yaml:"urls"`
	Secret string   `yaml:"secret"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Log:    LogConfig{Level: "info"},
		Database: DatabaseConfig{
			MaxConns: 20,
			MinConns: 5,
		},
		Auth: AuthConfig{
			APIKeyHeader: "X-API-Key",
			SessionTTL:   24 * time.Hour,
		},
		LLM: LLMConfig{
			CompletionProvider: "groq",
			CompletionModel:    "llama-3.3-70b-versatile",
			EmbeddingProvider:  "openai",
			EmbeddingModel:     "text-embedding-3-small",
			OllamaURL:          "http://localhost:11434",
			MaxRetries:         3,
			ProviderRPS:        5,
		},
		RAG: RAGConfig{
			ChunkSize:    1000,
			ChunkOverlap: 300,
			TopK:         8,
			Temperature:  0.1,
			MaxTokens:    8000,
			Metric:       string(index.MetricCosine),
			HistoryTurns: 6,
		},
		Ingest: IngestConfig{
			DataDir:     "./data",
			MaxUploadMB: 100,
		},
		RateLimit: RateLimitConfig{RPS: 10, Burst: 20},
	}
}

// Load builds the configuration: defaults, then the optional YAML file,
// then environment overrides.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("ASKDOC_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errdefs.Config("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errdefs.Config("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error

	c.Server.Host = getEnv("HOST", c.Server.Host)
	if c.Server.Port, err = getEnvInt("PORT", c.Server.Port); err != nil {
		return errdefs.Config("invalid PORT: %w", err)
	}
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	if c.Database.MaxConns, err = getEnvInt("DB_MAX_CONNS", c.Database.MaxConns); err != nil {
		return errdefs.Config("invalid DB_MAX_CONNS: %w", err)
	}
	if c.Database.MinConns, err = getEnvInt("DB_MIN_CONNS", c.Database.MinConns); err != nil {
		return errdefs.Config("invalid DB_MIN_CONNS: %w", err)
	}

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	if c.Redis.DB, err = getEnvInt("REDIS_DB", c.Redis.DB); err != nil {
		return errdefs.Config("invalid REDIS_DB: %w", err)
	}

	c.Auth.APIKeys = getEnvList("API_KEYS", c.Auth.APIKeys)
	c.Auth.APIKeyHeader = getEnv("API_KEY_HEADER", c.Auth.APIKeyHeader)
	c.Auth.SessionSecret = getEnv("SESSION_SECRET", c.Auth.SessionSecret)
	if c.Auth.SessionTTL, err = getEnvDuration("SESSION_TTL", c.Auth.SessionTTL); err != nil {
		return errdefs.Config("invalid SESSION_TTL: %w", err)
	}

	c.LLM.CompletionProvider = getEnv("LLM_PROVIDER", c.LLM.CompletionProvider)
	c.LLM.CompletionModel = getEnv("COMPLETION_MODEL", c.LLM.CompletionModel)
	c.LLM.EmbeddingProvider = getEnv("EMBEDDING_PROVIDER", c.LLM.EmbeddingProvider)
	c.LLM.EmbeddingModel = getEnv("EMBEDDING_MODEL", c.LLM.EmbeddingModel)
	if c.LLM.EmbeddingDim, err = getEnvInt("EMBEDDING_DIM", c.LLM.EmbeddingDim); err != nil {
		return errdefs.Config("invalid EMBEDDING_DIM: %w", err)
	}
	c.LLM.OpenAIKey = getEnv("OPENAI_API_KEY", c.LLM.OpenAIKey)
	c.LLM.GroqKey = getEnv("GROQ_API_KEY", c.LLM.GroqKey)
	c.LLM.AnthropicKey = getEnv("ANTHROPIC_API_KEY", c.LLM.AnthropicKey)
	c.LLM.OllamaURL = getEnv("OLLAMA_URL", c.LLM.OllamaURL)
	if c.LLM.MaxRetries, err = getEnvInt("LLM_MAX_RETRIES", c.LLM.MaxRetries); err != nil {
		return errdefs.Config("invalid LLM_MAX_RETRIES: %w", err)
	}
	if c.LLM.ProviderRPS, err = getEnvFloat("LLM_PROVIDER_RPS", c.LLM.ProviderRPS); err != nil {
		return errdefs.Config("invalid LLM_PROVIDER_RPS: %w", err)
	}

	if c.RAG.ChunkSize, err = getEnvInt("CHUNK_SIZE", c.RAG.ChunkSize); err != nil {
		return errdefs.Config("invalid CHUNK_SIZE: %w", err)
	}
	if c.RAG.ChunkOverlap, err = getEnvInt("CHUNK_OVERLAP", c.RAG.ChunkOverlap); err != nil {
		return errdefs.Config("invalid CHUNK_OVERLAP: %w", err)
	}
	if c.RAG.TopK, err = getEnvInt("TOP_K", c.RAG.TopK); err != nil {
		return errdefs.Config("invalid TOP_K: %w", err)
	}
	if c.RAG.Temperature, err = getEnvFloat("TEMPERATURE", c.RAG.Temperature); err != nil {
		return errdefs.Config("invalid TEMPERATURE: %w", err)
	}
	if c.RAG.MaxTokens, err = getEnvInt("MAX_TOKENS", c.RAG.MaxTokens); err != nil {
		return errdefs.Config("invalid MAX_TOKENS: %w", err)
	}
	c.RAG.Metric = getEnv("SIMILARITY_METRIC", c.RAG.Metric)
	if c.RAG.HistoryTurns, err = getEnvInt("HISTORY_TURNS", c.RAG.HistoryTurns); err != nil {
		return errdefs.Config("invalid HISTORY_TURNS: %w", err)
	}

	c.Ingest.DataDir = getEnv("DATA_DIR", c.Ingest.DataDir)
	c.Ingest.WatchDir = getEnv("WATCH_DIR", c.Ingest.WatchDir)
	if c.Ingest.MaxUploadMB, err = getEnvInt("MAX_UPLOAD_MB", c.Ingest.MaxUploadMB); err != nil {
		return errdefs.Config("invalid MAX_UPLOAD_MB: %w", err)
	}

	c.Webhook.URLs = getEnvList("WEBHOOK_URLS", c.Webhook.URLs)
	c.Webhook.Secret = getEnv("WEBHOOK_SECRET", c.Webhook.Secret)

	if c.RateLimit.RPS, err = getEnvFloat("RATE_LIMIT_RPS", c.RateLimit.RPS); err != nil {
		return errdefs.Config("invalid RATE_LIMIT_RPS: %w", err)
	}
	if c.RateLimit.Burst, err = getEnvInt("RATE_LIMIT_BURST", c.RateLimit.Burst); err != nil {
		return errdefs.Config("invalid RATE_LIMIT_BURST: %w", err)
	}

	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate collects every configuration problem into one error so an
// operator can fix them in a single pass.
func (c *Config) Validate() error {
	var problems []string

	if c.RAG.ChunkSize <= 0 {
		problems = append(problems, "CHUNK_SIZE must be positive")
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		problems = append(problems, "CHUNK_OVERLAP must be non-negative and smaller than CHUNK_SIZE")
	}
	if c.RAG.TopK <= 0 {
		problems = append(problems, "TOP_K must be positive")
	}
	if c.RAG.Temperature < 0 || c.RAG.Temperature > 2 {
		problems = append(problems, "TEMPERATURE must be between 0 and 2")
	}
	if c.RAG.MaxTokens <= 0 {
		problems = append(problems, "MAX_TOKENS must be positive")
	}
	if _, err := index.ParseMetric(c.RAG.Metric); err != nil {
		problems = append(problems, err.Error())
	}
	if c.LLM.EmbeddingDim < 0 {
		problems = append(problems, "EMBEDDING_DIM must not be negative")
	}
	if c.Ingest.MaxUploadMB <= 0 {
		problems = append(problems, "MAX_UPLOAD_MB must be positive")
	}

	if v := missingProviderVar(c.LLM.CompletionProvider, c.LLM); v != "" {
		problems = append(problems, fmt.Sprintf("completion provider %s requires %s", c.LLM.CompletionProvider, v))
	}
	switch c.LLM.EmbeddingProvider {
	case "anthropic":
		problems = append(problems, "anthropic cannot serve embeddings, set EMBEDDING_PROVIDER to openai, groq, or ollama")
	default:
		if v := missingProviderVar(c.LLM.EmbeddingProvider, c.LLM); v != "" {
			problems = append(problems, fmt.Sprintf("embedding provider %s requires %s", c.LLM.EmbeddingProvider, v))
		}
	}

	if len(problems) > 0 {
		return errdefs.Config("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// missingProviderVar names the env var a provider needs and lacks, or
// returns empty when the provider is ready to use.
func missingProviderVar(provider string, llm LLMConfig) string {
	switch provider {
	case "openai":
		if llm.OpenAIKey == "" {
			return "OPENAI_API_KEY"
		}
	case "groq":
		if llm.GroqKey == "" {
			return "GROQ_API_KEY"
		}
	case "anthropic":
		if llm.AnthropicKey == "" {
			return "ANTHROPIC_API_KEY"
		}
	case "ollama":
		if llm.OllamaURL == "" {
			return "OLLAMA_URL"
		}
	default:
		return fmt.Sprintf("a known provider (got %q)", provider)
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
