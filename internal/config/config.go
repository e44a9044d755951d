package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// Disk cache shared by the embedding, retrieval, and response stages.
	CacheDir        string        `envconfig:"CACHE_DIR" default:"./data/cache"`
	CacheMemEntries int           `envconfig:"CACHE_MEM_ENTRIES" default:"2048"`
	CacheJanitor    time.Duration `envconfig:"CACHE_JANITOR_INTERVAL" default:"10m"`

	EmbeddingBaseURL    string        `envconfig:"EMBEDDING_BASE_URL"`
	EmbeddingAPIKey     string        `envconfig:"EMBEDDING_API_KEY"`
	EmbeddingModel      string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int           `envconfig:"EMBEDDING_DIMENSIONS" default:"768"`
	EmbeddingCacheTTL   time.Duration `envconfig:"EMBEDDING_CACHE_TTL" default:"720h"`

	TopK              int           `envconfig:"RETRIEVAL_TOP_K" default:"5"`
	ScoreThreshold    float64       `envconfig:"RETRIEVAL_SCORE_THRESHOLD" default:"0.5"`
	RetrievalCacheTTL time.Duration `envconfig:"RETRIEVAL_CACHE_TTL" default:"1h"`

	// Remote aggregator: OpenAI-chat-compatible endpoint fronting several
	// models, tried in order for non-primary languages.
	RemoteLLMBaseURL string   `envconfig:"REMOTE_LLM_BASE_URL" default:"https://openrouter.ai/api/v1"`
	RemoteLLMAPIKey  string   `envconfig:"REMOTE_LLM_API_KEY"`
	RemoteLLMModels  []string `envconfig:"REMOTE_LLM_MODELS" default:"mistralai/mistral-7b-instruct,google/gemma-2-9b-it,meta-llama/llama-3.1-8b-instruct"`

	// Local model endpoint, the always-available baseline.
	LocalLLMURL   string `envconfig:"LOCAL_LLM_URL" default:"http://localhost:11434"`
	LocalLLMModel string `envconfig:"LOCAL_LLM_MODEL" default:"llama3.1:8b"`

	PrimaryLanguage string        `envconfig:"PRIMARY_LANGUAGE" default:"en"`
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"30s"`
	Temperature     float32       `envconfig:"GENERATION_TEMPERATURE" default:"0.2"`
	MaxTokens       int           `envconfig:"GENERATION_MAX_TOKENS" default:"1024"`

	ResponseCacheTTL time.Duration `envconfig:"RESPONSE_CACHE_TTL" default:"24h"`

	// Optional S3 source for the ingest command.
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"sahaay-corpus"`
	S3Region    string `envconfig:"S3_REGION" default:"ap-south-1"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("SAHAAY", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasRemoteLLM() bool {
	return c.RemoteLLMAPIKey != "" && len(c.RemoteLLMModels) > 0
}
