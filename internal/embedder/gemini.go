package embedder

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider embeds text with the Gemini API through the genai SDK.
// Roles map to the RETRIEVAL_DOCUMENT / RETRIEVAL_QUERY task types.
type GeminiProvider struct {
	// client is the genai SDK client; safe for concurrent use.
	client *genai.Client
	// model is the embedding model name (e.g. "gemini-embedding-001").
	model string
	// dimensions is requested as OutputDimensionality on every call.
	dimensions int
}

// GeminiConfig holds the settings for constructing a GeminiProvider.
type GeminiConfig struct {
	// APIKey is the Gemini API key.
	APIKey string
	// Model is the embedding model name.
	Model string
	// Dimensions is the requested output dimensionality.
	Dimensions int
	// BaseURL overrides the API endpoint. Empty uses the SDK default.
	BaseURL string
}

// NewGeminiProvider constructs a GeminiProvider from cfg.
func NewGeminiProvider(ctx context.Context, cfg *GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini embedder: API key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: create client: %w", err)
	}
	return &GeminiProvider{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Model implements Provider.
func (p *GeminiProvider) Model() string { return p.model }

// Dimensions implements Provider.
func (p *GeminiProvider) Dimensions() int { return p.dimensions }

// Embed implements Provider.
func (p *GeminiProvider) Embed(ctx context.Context, text string, role Role) ([]float32, error) {
	cfg := &genai.EmbedContentConfig{TaskType: role.TaskType()}
	if p.dimensions > 0 {
		dims := int32(p.dimensions)
		cfg.OutputDimensionality = &dims
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.model, genai.Text(text), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("gemini embedder: response contained no embeddings")
	}
	return resp.Embeddings[0].Values, nil
}
