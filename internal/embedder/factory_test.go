package embedder

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       ProviderConfig
		wantModel string
		wantDims  int
		wantErr   bool
	}{
		{name: "gemini default", cfg: ProviderConfig{APIKey: "k"}, wantModel: "gemini-embedding-001", wantDims: 3072},
		{name: "gemini no key", cfg: ProviderConfig{Provider: "gemini"}, wantErr: true},
		{name: "gemini overrides", cfg: ProviderConfig{Provider: "GEMINI", APIKey: "k", Model: "m", Dimensions: 768}, wantModel: "m", wantDims: 768},
		{name: "openai", cfg: ProviderConfig{Provider: "openai", APIKey: "k"}, wantModel: "text-embedding-3-small", wantDims: 1536},
		{name: "openai no key", cfg: ProviderConfig{Provider: "openai"}, wantErr: true},
		{name: "azure", cfg: ProviderConfig{Provider: "azure", APIKey: "k", Endpoint: "https://x.openai.azure.com/"}, wantModel: "text-embedding-3-small", wantDims: 1536},
		{name: "azure no endpoint", cfg: ProviderConfig{Provider: "azure", APIKey: "k"}, wantErr: true},
		{name: "ollama", cfg: ProviderConfig{Provider: "ollama"}, wantModel: "nomic-embed-text", wantDims: 768},
		{name: "unknown", cfg: ProviderConfig{Provider: "bedrock"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := NewProvider(context.Background(), &tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProvider() err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if p.Model() != tt.wantModel {
				t.Errorf("Model() = %q, want %q", p.Model(), tt.wantModel)
			}
			if p.Dimensions() != tt.wantDims {
				t.Errorf("Dimensions() = %d, want %d", p.Dimensions(), tt.wantDims)
			}
		})
	}
}

func TestAzureBaseURL(t *testing.T) {
	t.Parallel()

	p, err := NewProvider(context.Background(), &ProviderConfig{Provider: "azure", APIKey: "k", Endpoint: "https://x.openai.azure.com/"})
	if err != nil {
		t.Fatal(err)
	}
	op, ok := p.(*OpenAIProvider)
	if !ok {
		t.Fatalf("provider type %T", p)
	}
	if op.baseURL != "https://x.openai.azure.com/openai" || !op.azure || op.apiVersion == "" {
		t.Errorf("azure provider = %+v", op)
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  bool
	}{
		{"gemini-embedding-001", false},
		{"text-embedding-3-small", false},
		{"nomic-embed-text", false},
		{"gpt-4o", true},
		{"gemini-2.5-flash", true},
		{"llama3.1:8b", true},
		{"claude-sonnet", true},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			if got := looksLikeChatModel(tt.model); got != tt.want {
				t.Errorf("looksLikeChatModel(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestPreflight_WarnsOnChatModel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	Preflight(log, &ProviderConfig{Model: "gpt-4o"})
	if !strings.Contains(buf.String(), "chat model") {
		t.Errorf("expected chat-model warning, got %q", buf.String())
	}

	buf.Reset()
	Preflight(log, &ProviderConfig{Model: "gemini-embedding-001"})
	if buf.Len() != 0 {
		t.Errorf("unexpected warning: %q", buf.String())
	}
}
