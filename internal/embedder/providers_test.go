package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGeminiProvider_Embed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		role         Role
		wantTaskType string
	}{
		{name: "document role", role: RoleDocument, wantTaskType: "RETRIEVAL_DOCUMENT"},
		{name: "query role", role: RoleQuery, wantTaskType: "RETRIEVAL_QUERY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var gotBody map[string]any
			var gotPath, gotKey string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotKey = r.Header.Get("x-goog-api-key")
				_ = json.NewDecoder(r.Body).Decode(&gotBody)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"embeddings":[{"values":[0.1,0.2,0.3]}]}`))
			}))
			defer srv.Close()

			p, err := NewGeminiProvider(context.Background(), &GeminiConfig{
				APIKey:     "test-key",
				Model:      "gemini-embedding-001",
				Dimensions: 3,
				BaseURL:    srv.URL,
			})
			if err != nil {
				t.Fatalf("NewGeminiProvider: %v", err)
			}

			vec, err := p.Embed(context.Background(), "db pool exhausted", tt.role)
			if err != nil {
				t.Fatalf("Embed: %v", err)
			}
			if len(vec) != 3 || vec[2] != 0.3 {
				t.Errorf("vec = %v", vec)
			}
			if !strings.Contains(gotPath, "gemini-embedding-001") {
				t.Errorf("path = %q, want model in path", gotPath)
			}
			if gotKey != "test-key" {
				t.Errorf("api key header = %q", gotKey)
			}

			reqs, _ := gotBody["requests"].([]any)
			if len(reqs) != 1 {
				t.Fatalf("requests = %v", gotBody)
			}
			req, _ := reqs[0].(map[string]any)
			if req["taskType"] != tt.wantTaskType {
				t.Errorf("taskType = %v, want %s", req["taskType"], tt.wantTaskType)
			}
			if req["outputDimensionality"] != float64(3) {
				t.Errorf("outputDimensionality = %v, want 3", req["outputDimensionality"])
			}
		})
	}
}

func TestGeminiProvider_RequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := NewGeminiProvider(context.Background(), &GeminiConfig{Model: "m"}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestGeminiProvider_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(context.Background(), &GeminiConfig{APIKey: "k", Model: "m", Dimensions: 3, BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Embed(context.Background(), "x", RoleDocument); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestOpenAIProvider_Embed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		azure      bool
		wantPath   string
		wantHeader string
	}{
		{name: "openai", wantPath: "/embeddings", wantHeader: "Authorization"},
		{name: "azure", azure: true, wantPath: "/deployments/emb/embeddings", wantHeader: "api-key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var req openaiEmbedRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.wantPath {
					t.Errorf("path = %q, want %q", r.URL.Path, tt.wantPath)
				}
				if r.Header.Get(tt.wantHeader) == "" {
					t.Errorf("missing %s header", tt.wantHeader)
				}
				_ = json.NewDecoder(r.Body).Decode(&req)
				_, _ = w.Write([]byte(`{"data":[{"embedding":[1,2],"index":0}]}`))
			}))
			defer srv.Close()

			p := NewOpenAIProvider(&OpenAIConfig{
				BaseURL:    srv.URL,
				APIKey:     "k",
				Model:      "emb",
				Dimensions: 2,
				Azure:      tt.azure,
				APIVersion: "v1",
			})
			vec, err := p.Embed(context.Background(), "hello", RoleQuery)
			if err != nil {
				t.Fatalf("Embed: %v", err)
			}
			if len(vec) != 2 {
				t.Errorf("vec = %v", vec)
			}
			if len(req.Input) != 1 || req.Input[0] != "hello" || req.Dimensions != 2 {
				t.Errorf("request = %+v", req)
			}
		})
	}
}

func TestOpenAIProvider_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	_, err := p.Embed(context.Background(), "x", RoleDocument)
	if err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Fatalf("err = %v, want bad key", err)
	}
}

func TestOllamaProvider_RolePrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role Role
		want string
	}{
		{role: RoleDocument, want: "search_document: text"},
		{role: RoleQuery, want: "search_query: text"},
	}

	for _, tt := range tests {
		t.Run(tt.role.String(), func(t *testing.T) {
			t.Parallel()

			var req ollamaEmbedRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/embed" {
					t.Errorf("path = %q", r.URL.Path)
				}
				_ = json.NewDecoder(r.Body).Decode(&req)
				_, _ = w.Write([]byte(`{"embeddings":[[0.5,0.5]]}`))
			}))
			defer srv.Close()

			p := NewOllamaProvider(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
			if _, err := p.Embed(context.Background(), "text", tt.role); err != nil {
				t.Fatalf("Embed: %v", err)
			}
			if len(req.Input) != 1 || req.Input[0] != tt.want {
				t.Errorf("input = %v, want [%q]", req.Input, tt.want)
			}
		})
	}
}

func TestOllamaProvider_Error(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(&OllamaConfig{Host: srv.URL, Model: "missing"})
	_, err := p.Embed(context.Background(), "x", RoleDocument)
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("err = %v", err)
	}
}
