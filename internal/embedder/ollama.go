package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Task prefixes used by nomic-embed-text style models to separate document
// and query embeddings.
const (
	ollamaDocumentPrefix = "search_document: "
	ollamaQueryPrefix    = "search_query: "
)

// OllamaProvider embeds text with the Ollama /api/embed endpoint.
// It is safe for concurrent use. No API key is required; Ollama runs locally.
type OllamaProvider struct {
	// host is the Ollama server base URL (e.g. "http://localhost:11434").
	host string
	// model is the embedding model name (e.g. "nomic-embed-text").
	model string
	// dimensions is requested from the server when positive.
	dimensions int
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// OllamaConfig holds the settings for constructing an OllamaProvider.
type OllamaConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the embedding model name (e.g. "nomic-embed-text").
	Model string
	// Dimensions truncates the output vector when positive.
	Dimensions int
}

// NewOllamaProvider constructs an OllamaProvider from the given config.
func NewOllamaProvider(cfg *OllamaConfig) *OllamaProvider {
	return &OllamaProvider{
		host:       cfg.Host,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

// ollamaEmbedRequest is the JSON body sent to the Ollama /api/embed endpoint.
type ollamaEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// ollamaEmbedResponse is the JSON body returned from the Ollama /api/embed endpoint.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Model implements Provider.
func (e *OllamaProvider) Model() string { return e.model }

// Dimensions implements Provider.
func (e *OllamaProvider) Dimensions() int { return e.dimensions }

// Embed implements Provider.
func (e *OllamaProvider) Embed(ctx context.Context, text string, role Role) ([]float32, error) {
	prefix := ollamaDocumentPrefix
	if role == RoleQuery {
		prefix = ollamaQueryPrefix
	}

	payload, err := json.Marshal(ollamaEmbedRequest{
		Model:      e.model,
		Input:      []string{prefix + text},
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama embedder: decode response (HTTP %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != "" {
			msg = result.Error
		}
		return nil, fmt.Errorf("ollama embedder: %s", msg)
	}

	if len(result.Embeddings) != 1 {
		return nil, fmt.Errorf("ollama embedder: expected 1 embedding, got %d", len(result.Embeddings))
	}
	return result.Embeddings[0], nil
}
