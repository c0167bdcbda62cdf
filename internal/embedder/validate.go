package embedder

import (
	"log/slog"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"gemini-1",
	"gemini-2",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") {
		return false
	}
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Preflight logs warnings for configurations that will build but are very
// likely wrong: a chat model configured as the embedding model, or a
// non-default dimensionality on a backend that cannot truncate vectors.
// It never fails; hard errors are reported by config validation and
// NewProvider.
func Preflight(log *slog.Logger, cfg *ProviderConfig) {
	if cfg.Model != "" && looksLikeChatModel(cfg.Model) {
		log.Warn("embedder: configured model looks like a chat model, not an embedding model",
			slog.String("model", cfg.Model),
			slog.String("hint", "use a dedicated embedding model e.g. gemini-embedding-001, text-embedding-3-small, nomic-embed-text"),
		)
	}

	backend := normalise(cfg.Provider)
	if backend == ProviderOllama && cfg.Dimensions > 0 && cfg.Dimensions != DefaultDimensions(backend) && cfg.Model == "" {
		log.Warn("embedder: dimensions differ from the default ollama model's output size",
			slog.Int("dimensions", cfg.Dimensions),
			slog.Int("model_default", DefaultDimensions(backend)),
		)
	}
}
