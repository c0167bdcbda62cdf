package provider

import (
	"context"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "gemini/valid", cfg: Config{Backend: BackendGemini, APIKey: "AIza-test"}},
		{name: "gemini/missing key", cfg: Config{Backend: BackendGemini}, wantErr: "GEMINI_API_KEY"},
		{name: "openai/valid", cfg: Config{Backend: BackendOpenAI, APIKey: "sk-test"}},
		{name: "openai/missing key", cfg: Config{Backend: BackendOpenAI}, wantErr: "OPENAI_API_KEY"},
		{
			name: "azure/valid",
			cfg: Config{
				Backend: BackendAzure, APIKey: "key",
				BaseURL: "https://my.openai.azure.com", AzureDeployment: "gpt-4.1",
			},
		},
		{
			name:    "azure/missing endpoint",
			cfg:     Config{Backend: BackendAzure, APIKey: "key", AzureDeployment: "gpt-4.1"},
			wantErr: "AZURE_OPENAI_ENDPOINT",
		},
		{
			name:    "azure/missing deployment",
			cfg:     Config{Backend: BackendAzure, APIKey: "key", BaseURL: "https://my.openai.azure.com"},
			wantErr: "AZURE_OPENAI_DEPLOYMENT",
		},
		{name: "ollama/valid without key", cfg: Config{Backend: BackendOllama}},
		{name: "ark/valid", cfg: Config{Backend: BackendArk, APIKey: "ak", Model: "ep-123"}},
		{name: "ark/missing endpoint id", cfg: Config{Backend: BackendArk, APIKey: "ak"}, wantErr: "GENERATIVE_MODEL"},
		{name: "negative max tokens", cfg: Config{Backend: BackendOllama, MaxTokens: -1}, wantErr: "max tokens"},
		{name: "unknown backend", cfg: Config{Backend: "bedrock"}, wantErr: "unknown backend"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestDefaultModelAndName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Backend: BackendGemini}, "gemini/gemini-2.0-flash"},
		{Config{Backend: BackendOpenAI, Model: "gpt-4o"}, "openai/gpt-4o"},
		{Config{Backend: BackendOllama}, "ollama/llama3"},
		{Config{Backend: BackendAzure, Model: "ignored", AzureDeployment: "triage"}, "azure/triage"},
		{Config{Backend: BackendArk, Model: "ep-1"}, "ark/ep-1"},
	}
	for _, tc := range tests {
		if got := tc.cfg.Name(); got != tc.want {
			t.Errorf("Name() = %q, want %q", got, tc.want)
		}
	}
	if DefaultModel(BackendArk) != "" || DefaultModel(BackendAzure) != "" {
		t.Error("ark and azure have no default model")
	}
}

func TestNew(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "ollama", cfg: Config{Backend: "Ollama", BaseURL: "http://127.0.0.1:11434"}},
		{name: "openai", cfg: Config{Backend: BackendOpenAI, APIKey: "sk-test", MaxTokens: 64, Temperature: 0.7}},
		{name: "invalid config never reaches a backend", cfg: Config{Backend: BackendOpenAI}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m, err := New(ctx, tc.cfg)
			if tc.wantErr {
				if err == nil || m != nil {
					t.Fatalf("New() = %v, %v; want nil model and error", m, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() unexpected error: %v", err)
			}
			if m == nil {
				t.Fatal("New() returned nil model")
			}
		})
	}
}
