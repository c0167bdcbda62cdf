package audit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/54b3r/incidentkb/internal/config"
)

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	s := &config.Settings{
		Embedding: config.EmbeddingSettings{Provider: "gemini", APIKey: "AIza-secret", Delay: time.Second, Workers: 1},
		Qdrant:    config.QdrantSettings{URL: "https://xyz.cloud.qdrant.io:6333", APIKey: "qdrant-secret", Collection: "incident-knowledge-base"},
		Ingest:    config.IngestSettings{Dir: "./incidents", RecreatePolicy: "ask"},
		PagerDuty: config.PagerDutySettings{Token: "pd-secret", From: "oncall@example.com", WebhookSecret: "whsec-secret"},
		RateLimit: 2.5,
		RateBurst: 5,
	}
	LogCommandStart(log, "ingest", "", "/tmp/.env", s)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	want := map[string]string{
		"command":                  "ingest",
		"config_file":              "none",
		"env_file":                 "/tmp/.env",
		"EMBEDDING_PROVIDER":       "gemini",
		"EMBEDDING_API_KEY":        "set",
		"EMBEDDING_DELAY":          "1s",
		"QDRANT_URL":               "https://xyz.cloud.qdrant.io:6333",
		"QDRANT_API_KEY":           "set",
		"INCIDENTKB_API_KEY":       "unset",
		"EMBEDDING_MODEL":          "unset",
		"COLLECTION_NAME":          "incident-knowledge-base",
		"PAGERDUTY_API_TOKEN":      "set",
		"PAGERDUTY_EMAIL":          "oncall@example.com",
		"PAGERDUTY_WEBHOOK_SECRET": "set",
		"LANGFUSE_SECRET_KEY":      "unset",
		"RATE_LIMIT_RPS":           "2.5",
		"RATE_LIMIT_BURST":         "5",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Errorf("%s = %v, want %q", k, rec[k], v)
		}
	}
	if bytes.Contains(buf.Bytes(), []byte("secret")) {
		t.Errorf("secret value leaked: %s", buf.String())
	}
}

func TestPresence(t *testing.T) {
	t.Parallel()
	if got := presence("something"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := presence(""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		p := home + "/.incidentkb/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.incidentkb/config.yaml" {
			t.Errorf("expected '~/.incidentkb/config.yaml', got %q", got)
		}
	}
}
