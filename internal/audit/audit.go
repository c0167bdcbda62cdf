// Package audit provides a structured audit logger for CLI command invocations.
// It logs the command name, config file source and the resolved settings so
// operators can trace what a run was pointed at without exposing secrets.
//
// Secrets are logged as presence/absence only, never their values.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/incidentkb/internal/config"
)

// LogCommandStart emits a structured audit log entry when a CLI command begins.
// It records the command name, config file sources and sanitised settings.
func LogCommandStart(log *slog.Logger, command, configPath, envFile string, s *config.Settings) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
		slog.String("env_file", sanitiseConfigPath(envFile)),
	}
	for _, e := range entries(s) {
		if e.secret {
			attrs = append(attrs, slog.String(e.key, presence(e.value)))
		} else {
			attrs = append(attrs, slog.String(e.key, valOrUnset(e.value)))
		}
	}

	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// auditEntry is one setting included in the audit log.
type auditEntry struct {
	// key is the log attribute name, matching the env var.
	key string
	// value is the resolved setting.
	value string
	// secret indicates the value should be redacted to presence/absence.
	secret bool
}

// entries returns the ordered settings included in every audit log entry.
func entries(s *config.Settings) []auditEntry {
	return []auditEntry{
		{"EMBEDDING_PROVIDER", s.Embedding.Provider, false},
		{"EMBEDDING_MODEL", s.Embedding.Model, false},
		{"EMBEDDING_DIMENSIONS", intOrUnset(s.Embedding.Dimensions), false},
		{"EMBEDDING_API_KEY", s.Embedding.APIKey, true},
		{"EMBEDDING_ENDPOINT", s.Embedding.Endpoint, false},
		{"EMBEDDING_DELAY", s.Embedding.Delay.String(), false},
		{"EMBEDDING_WORKERS", strconv.Itoa(s.Embedding.Workers), false},
		{"QDRANT_URL", s.Qdrant.URL, false},
		{"QDRANT_API_KEY", s.Qdrant.APIKey, true},
		{"COLLECTION_NAME", s.Qdrant.Collection, false},
		{"INCIDENTS_DIR", s.Ingest.Dir, false},
		{"RECREATE_POLICY", s.Ingest.RecreatePolicy, false},
		{"GENERATIVE_PROVIDER", s.Generative.Provider, false},
		{"GENERATIVE_MODEL", s.Generative.Model, false},
		{"GENERATIVE_API_KEY", s.Generative.APIKey, true},
		{"GENERATIVE_ENDPOINT", s.Generative.Endpoint, false},
		{"PAGERDUTY_API_TOKEN", s.PagerDuty.Token, true},
		{"PAGERDUTY_EMAIL", s.PagerDuty.From, false},
		{"PAGERDUTY_WEBHOOK_SECRET", s.PagerDuty.WebhookSecret, true},
		{"LANGFUSE_HOST", s.Langfuse.Host, false},
		{"LANGFUSE_PUBLIC_KEY", s.Langfuse.PublicKey, false},
		{"LANGFUSE_SECRET_KEY", s.Langfuse.SecretKey, true},
		{"INCIDENTKB_API_KEY", s.APIKey, true},
		{"RATE_LIMIT_RPS", strconv.FormatFloat(s.RateLimit, 'g', -1, 64), false},
		{"RATE_LIMIT_BURST", strconv.Itoa(s.RateBurst), false},
		{"INCIDENTKB_RUNS_DB", s.RunsDB, false},
		{"PUSHGATEWAY_URL", s.PushgatewayURL, false},
		{"LOG_LEVEL", s.LogLevel, false},
		{"LOG_FORMAT", s.LogFormat, false},
	}
}

// intOrUnset formats n, with zero meaning the provider default.
func intOrUnset(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// valOrUnset returns the value if non-empty, "unset" otherwise.
func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	// Redact home directory for privacy in logs.
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
