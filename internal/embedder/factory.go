package embedder

import (
	"context"
	"fmt"
	"strings"
)

// Supported provider names.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderOllama = "ollama"
)

// Default embedding models per backend.
const (
	defaultGeminiModel = "gemini-embedding-001"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultOllamaModel = "nomic-embed-text"

	// defaultGeminiDimensions is the full output size of gemini-embedding-001.
	defaultGeminiDimensions = 3072
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	defaultOllamaDimensions = 768

	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultOllamaHost       = "http://localhost:11434"
	defaultAzureAPIVersion  = "2025-04-01-preview"
	defaultGeminiInputLimit = 2048
	defaultOpenAIInputLimit = 8191
	defaultOllamaInputLimit = 8192
)

// ProviderConfig selects and configures a Provider. It is populated by the
// commands layer from config.Settings; this package never reads the
// environment.
type ProviderConfig struct {
	// Provider is one of gemini, openai, azure, ollama. Empty means gemini.
	Provider string
	// Model overrides the backend's default model.
	Model string
	// Dimensions overrides the backend's default vector size.
	Dimensions int
	// APIKey authenticates against gemini, openai or azure.
	APIKey string
	// Endpoint is the base URL: Ollama host, OpenAI base URL, Azure
	// resource endpoint, or a Gemini API override.
	Endpoint string
	// APIVersion is the Azure OpenAI API version.
	APIVersion string
}

// DefaultModel returns the default embedding model for backend.
func DefaultModel(backend string) string {
	switch normalise(backend) {
	case ProviderOpenAI, ProviderAzure:
		return defaultOpenAIModel
	case ProviderOllama:
		return defaultOllamaModel
	default:
		return defaultGeminiModel
	}
}

// DefaultDimensions returns the default embedding vector size for backend.
// Callers that need to pre-configure a vector store should use this rather
// than hardcoding a value.
func DefaultDimensions(backend string) int {
	switch normalise(backend) {
	case ProviderOpenAI, ProviderAzure:
		return defaultOpenAIDimensions
	case ProviderOllama:
		return defaultOllamaDimensions
	default:
		return defaultGeminiDimensions
	}
}

// DefaultMaxInputTokens returns the input token limit of backend's default model.
func DefaultMaxInputTokens(backend string) int {
	switch normalise(backend) {
	case ProviderOpenAI, ProviderAzure:
		return defaultOpenAIInputLimit
	case ProviderOllama:
		return defaultOllamaInputLimit
	default:
		return defaultGeminiInputLimit
	}
}

// NewProvider constructs the Provider named by cfg.Provider, filling unset
// model and dimensions with that backend's defaults.
func NewProvider(ctx context.Context, cfg *ProviderConfig) (Provider, error) {
	backend := normalise(cfg.Provider)
	model := cfg.Model
	if model == "" {
		model = DefaultModel(backend)
	}
	dims := cfg.Dimensions
	if dims == 0 {
		dims = DefaultDimensions(backend)
	}

	switch backend {
	case ProviderGemini:
		return NewGeminiProvider(ctx, &GeminiConfig{
			APIKey:     cfg.APIKey,
			Model:      model,
			Dimensions: dims,
			BaseURL:    cfg.Endpoint,
		})

	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: openai requires an API key")
		}
		baseURL := cfg.Endpoint
		if baseURL == "" {
			baseURL = defaultOpenAIBaseURL
		}
		return NewOpenAIProvider(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     cfg.APIKey,
			Model:      model,
			Dimensions: dims,
		}), nil

	case ProviderAzure:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: azure requires an API key")
		}
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires an endpoint")
		}
		apiVersion := cfg.APIVersion
		if apiVersion == "" {
			apiVersion = defaultAzureAPIVersion
		}
		return NewOpenAIProvider(&OpenAIConfig{
			BaseURL:    strings.TrimSuffix(cfg.Endpoint, "/") + "/openai",
			APIKey:     cfg.APIKey,
			Model:      model,
			Dimensions: dims,
			Azure:      true,
			APIVersion: apiVersion,
		}), nil

	case ProviderOllama:
		host := cfg.Endpoint
		if host == "" {
			host = defaultOllamaHost
		}
		return NewOllamaProvider(&OllamaConfig{
			Host:       host,
			Model:      model,
			Dimensions: dims,
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown provider %q (valid: gemini, openai, azure, ollama)", cfg.Provider)
	}
}

// normalise lower-cases name and maps empty to gemini.
func normalise(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProviderGemini
	}
	return name
}
