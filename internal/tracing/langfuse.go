// Package tracing sends chat model calls to Langfuse through eino's global
// callback handlers.
package tracing

import (
	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// DefaultHost is the Langfuse server used when Config.Host is empty.
const DefaultHost = "http://localhost:3000"

// Config holds the Langfuse connection settings.
type Config struct {
	Host      string
	PublicKey string
	SecretKey string
}

// Setup returns a Langfuse callback handler and the flush function that must
// run before exit so buffered traces are sent. Without both keys tracing is
// disabled and ok is false.
func Setup(cfg Config) (handler callbacks.Handler, flush func(), ok bool) {
	lc, ok := resolve(cfg)
	if !ok {
		return nil, nil, false
	}
	handler, flush = langfuse.NewLangfuseHandler(lc)
	return handler, flush, true
}

// resolve turns cfg into a handler config, applying the default host.
func resolve(cfg Config) (*langfuse.Config, bool) {
	if cfg.PublicKey == "" || cfg.SecretKey == "" {
		return nil, false
	}
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	return &langfuse.Config{
		Host:      host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
	}, true
}
