// Package provider constructs the chat model that drafts incident triage
// notes. The backend is chosen at runtime; every backend is returned as an
// eino model.BaseChatModel so callers never depend on a vendor SDK.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
)

// Backend enumerates the supported chat model providers.
type Backend string

const (
	// BackendGemini selects Google Gemini through AI Studio.
	BackendGemini Backend = "gemini"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendArk selects the Volcano Engine Ark runtime.
	BackendArk Backend = "ark"
)

// defaultOllamaURL is used when no Ollama base URL is configured.
const defaultOllamaURL = "http://localhost:11434"

// Config holds everything needed to construct a chat model.
type Config struct {
	// Backend identifies which provider to use.
	Backend Backend

	// Model is the model name. Empty selects DefaultModel(Backend).
	// For Ark this is the endpoint id and must be set.
	Model string

	// APIKey is the provider credential. Unused for Ollama.
	APIKey string

	// BaseURL overrides the provider endpoint (required for Azure).
	BaseURL string

	// AzureDeployment is the Azure OpenAI deployment name (Azure only).
	AzureDeployment string

	// AzureAPIVersion is the Azure OpenAI REST API version (Azure only).
	AzureAPIVersion string

	// MaxTokens caps the generated response.
	MaxTokens int

	// Temperature controls response randomness.
	Temperature float32
}

// DefaultModel returns the model used when Config.Model is empty. Azure and
// Ark have no default: Azure addresses deployments and Ark endpoint ids.
func DefaultModel(b Backend) string {
	switch b {
	case BackendGemini:
		return "gemini-2.0-flash"
	case BackendOpenAI:
		return "gpt-4o-mini"
	case BackendOllama:
		return "llama3"
	default:
		return ""
	}
}

// Validate reports the first setting the backend needs but lacks.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGemini:
		if c.APIKey == "" {
			return fmt.Errorf("provider: GEMINI_API_KEY is required for gemini backend")
		}
	case BackendOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for openai backend")
		}
	case BackendAzure:
		if c.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for azure backend")
		}
		if c.BaseURL == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for azure backend")
		}
		if c.AzureDeployment == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_DEPLOYMENT is required for azure backend")
		}
	case BackendArk:
		if c.APIKey == "" {
			return fmt.Errorf("provider: ARK_API_KEY is required for ark backend")
		}
		if c.Model == "" {
			return fmt.Errorf("provider: GENERATIVE_MODEL (ark endpoint id) is required for ark backend")
		}
	case BackendOllama:
	default:
		return fmt.Errorf("provider: unknown backend %q (valid: gemini, openai, azure, ollama, ark)", c.Backend)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("provider: max tokens must not be negative, got %d", c.MaxTokens)
	}
	return nil
}

// New validates cfg and constructs the chat model for its backend.
func New(ctx context.Context, cfg Config) (model.BaseChatModel, error) {
	cfg.Backend = Backend(strings.ToLower(string(cfg.Backend)))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel(cfg.Backend)
	}
	switch cfg.Backend {
	case BackendGemini:
		return newGemini(ctx, &cfg)
	case BackendOpenAI:
		return newOpenAI(ctx, &cfg)
	case BackendAzure:
		return newAzure(ctx, &cfg)
	case BackendOllama:
		return newOllama(ctx, &cfg)
	default:
		return newArk(ctx, &cfg)
	}
}

// Name returns the label used for the configured model in logs and traces.
func (c *Config) Name() string {
	m := c.Model
	if c.Backend == BackendAzure {
		m = c.AzureDeployment
	}
	if m == "" {
		m = DefaultModel(c.Backend)
	}
	return string(c.Backend) + "/" + m
}
