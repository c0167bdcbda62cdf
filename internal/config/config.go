// Package config provides layered configuration for incidentkb.
// Configuration is loaded with the precedence: defaults → YAML file → .env
// file → process environment. The process environment always wins.
//
// YAML file search order:
//  1. --config CLI flag (explicit path)
//  2. INCIDENTKB_CONFIG environment variable
//  3. ~/.incidentkb/config.yaml
//  4. ./incidentkb.yaml
//
// Load and LoadDotEnv only ever fill unset environment variables. FromEnv
// is the single place that reads the environment and turns it into
// immutable Settings.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Ingest configures the ingestion pipeline.
	Ingest IngestConfig `yaml:"ingest"`

	// Search configures the query path.
	Search SearchConfig `yaml:"search"`

	// Generative configures the chat model used for incident enrichment.
	Generative GenerativeConfig `yaml:"generative"`

	// PagerDuty configures the incident webhook and note sender.
	PagerDuty PagerDutyConfig `yaml:"pagerduty"`

	// Langfuse configures tracing of generative calls.
	Langfuse LangfuseConfig `yaml:"langfuse"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Runs configures the ingestion run ledger.
	Runs RunsConfig `yaml:"runs"`

	// Metrics configures metric export.
	Metrics MetricsConfig `yaml:"metrics"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the backend: gemini, openai, azure, ollama.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint overrides the provider base URL.
	Endpoint string `yaml:"endpoint"`
	// Delay is the minimum spacing between provider calls, e.g. "1s".
	Delay string `yaml:"delay"`
	// Workers bounds concurrent provider calls.
	Workers int `yaml:"workers"`
	// MaxRetries is the number of retries per failed call.
	MaxRetries int `yaml:"max_retries"`
	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`
	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// URL is the Qdrant endpoint.
	URL string `yaml:"url"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	// Dir is the incident document directory.
	Dir string `yaml:"dir"`
	// BatchSize is the number of points per upsert.
	BatchSize int `yaml:"batch_size"`
	// RecreatePolicy is one of ask, recreate, merge, fail.
	RecreatePolicy string `yaml:"recreate_policy"`
	// SmokeQuery is run after a successful ingest.
	SmokeQuery string `yaml:"smoke_query"`
}

// SearchConfig holds query path settings.
type SearchConfig struct {
	// TopK is the default number of results.
	TopK int `yaml:"top_k"`
}

// GenerativeConfig holds chat model settings.
type GenerativeConfig struct {
	// Provider selects the backend: gemini, openai, azure, ollama, ark.
	Provider string `yaml:"provider"`
	// Model is the chat model name, or the endpoint id for ark.
	Model string `yaml:"model"`
	// APIKey overrides the provider key. Prefer env var GENERATIVE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint overrides the provider base URL.
	Endpoint string `yaml:"endpoint"`
	// AzureDeployment is the Azure OpenAI deployment name.
	AzureDeployment string `yaml:"azure_deployment"`
	// Temperature is the sampling temperature.
	Temperature float64 `yaml:"temperature"`
	// MaxTokens caps the generated note.
	MaxTokens int `yaml:"max_tokens"`
	// Timeout bounds one enrichment, e.g. "2m".
	Timeout string `yaml:"timeout"`
}

// PagerDutyConfig holds PagerDuty settings.
type PagerDutyConfig struct {
	// Token is the REST API token. Prefer env var PAGERDUTY_API_TOKEN.
	Token string `yaml:"token"`
	// Email is the PagerDuty user that authors notes.
	Email string `yaml:"email"`
	// WebhookSecret verifies webhook signatures. Prefer env var PAGERDUTY_WEBHOOK_SECRET.
	WebhookSecret string `yaml:"webhook_secret"`
	// APIURL overrides https://api.pagerduty.com.
	APIURL string `yaml:"api_url"`
}

// LangfuseConfig holds Langfuse tracing settings.
type LangfuseConfig struct {
	// Host is the Langfuse server URL.
	Host string `yaml:"host"`
	// PublicKey is the Langfuse public key.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// APIKey is the Bearer token for API authentication. Prefer env var INCIDENTKB_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit is the sustained per-client search rate (requests/second).
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-client search burst.
	RateBurst int `yaml:"rate_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// RunsConfig holds run ledger settings.
type RunsConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// MetricsConfig holds metric export settings.
type MetricsConfig struct {
	// PushgatewayURL receives ingest metrics when set.
	PushgatewayURL string `yaml:"pushgateway_url"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_DELAY", func(c *Config) string { return c.Embedding.Delay }},
	{"EMBEDDING_WORKERS", func(c *Config) string { return intStr(c.Embedding.Workers) }},
	{"EMBEDDING_MAX_RETRIES", func(c *Config) string { return intStr(c.Embedding.MaxRetries) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Embedding.Ollama.Host }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Embedding.Azure.Endpoint }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Embedding.Azure.APIVersion }},
	{"QDRANT_URL", func(c *Config) string { return c.Qdrant.URL }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"COLLECTION_NAME", func(c *Config) string { return c.Qdrant.Collection }},
	{"INCIDENTS_DIR", func(c *Config) string { return c.Ingest.Dir }},
	{"UPSERT_BATCH_SIZE", func(c *Config) string { return intStr(c.Ingest.BatchSize) }},
	{"RECREATE_POLICY", func(c *Config) string { return c.Ingest.RecreatePolicy }},
	{"SMOKE_QUERY", func(c *Config) string { return c.Ingest.SmokeQuery }},
	{"SEARCH_TOP_K", func(c *Config) string { return intStr(c.Search.TopK) }},
	{"GENERATIVE_PROVIDER", func(c *Config) string { return c.Generative.Provider }},
	{"GENERATIVE_MODEL", func(c *Config) string { return c.Generative.Model }},
	{"GENERATIVE_API_KEY", func(c *Config) string { return c.Generative.APIKey }},
	{"GENERATIVE_ENDPOINT", func(c *Config) string { return c.Generative.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Generative.AzureDeployment }},
	{"GENERATIVE_TEMPERATURE", func(c *Config) string { return floatStr(c.Generative.Temperature) }},
	{"GENERATIVE_MAX_TOKENS", func(c *Config) string { return intStr(c.Generative.MaxTokens) }},
	{"ENRICH_TIMEOUT", func(c *Config) string { return c.Generative.Timeout }},
	{"PAGERDUTY_API_TOKEN", func(c *Config) string { return c.PagerDuty.Token }},
	{"PAGERDUTY_EMAIL", func(c *Config) string { return c.PagerDuty.Email }},
	{"PAGERDUTY_WEBHOOK_SECRET", func(c *Config) string { return c.PagerDuty.WebhookSecret }},
	{"PAGERDUTY_API_URL", func(c *Config) string { return c.PagerDuty.APIURL }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Langfuse.Host }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Langfuse.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Langfuse.SecretKey }},
	{"INCIDENTKB_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"RATE_LIMIT_RPS", func(c *Config) string { return floatStr(c.Server.RateLimit) }},
	{"RATE_LIMIT_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"INCIDENTKB_RUNS_DB", func(c *Config) string { return c.Runs.DBPath }},
	{"PUSHGATEWAY_URL", func(c *Config) string { return c.Metrics.PushgatewayURL }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if _, set := os.LookupEnv(m.envKey); set {
			continue // env wins
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// LoadDotEnv loads a .env file into the environment without overriding
// variables that are already set. An explicit path that does not exist is
// an error; with no explicit path a missing ./.env is ignored.
func LoadDotEnv(explicitPath string, log *slog.Logger) (string, error) {
	path := explicitPath
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return "", nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return "", fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	log.Debug("config: loaded .env file", slog.String("path", path))
	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("INCIDENTKB_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".incidentkb", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("incidentkb.yaml"); err == nil {
		return "incidentkb.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// floatStr converts a float to string, returning "" for zero values.
func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
