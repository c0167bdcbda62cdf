package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissing is returned by Settings.Validate when required values are absent.
var ErrMissing = errors.New("config: missing required settings")

// Defaults applied by FromEnv when a variable is unset.
const (
	DefaultProvider   = "gemini"
	DefaultDelay      = time.Second
	DefaultWorkers    = 1
	DefaultDir        = "./incidents"
	DefaultCollection = "incident-knowledge-base"
	DefaultBatchSize  = 100
	DefaultPolicy     = "ask"
	DefaultTopK       = 3
	DefaultSmokeQuery = "database connection pool exhausted"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "json"

	DefaultGenerativeProvider = "gemini"
	DefaultTemperature        = 0.7
	DefaultMaxTokens          = 1024
	DefaultEnrichTimeout      = 2 * time.Minute
	DefaultRateLimit          = 10
	DefaultRateBurst          = 20
	DefaultLangfuseHost       = "http://localhost:3000"

	// RunsDisabled turns the run ledger off when set as INCIDENTKB_RUNS_DB.
	RunsDisabled = "disabled"
)

// Mode selects which settings Validate treats as required.
type Mode int

const (
	// ModeIngest needs the embedding provider, Qdrant and the document directory.
	ModeIngest Mode = iota
	// ModeDryRun needs the embedding provider and the document directory only.
	ModeDryRun
	// ModeQuery needs the embedding provider and Qdrant (search).
	ModeQuery
	// ModeServe is ModeQuery plus a sane rate limit, and the generative
	// model and PagerDuty sender once PAGERDUTY_API_TOKEN enables the webhook.
	ModeServe
	// ModeEnrich is ModeQuery plus the generative model (enrich command).
	ModeEnrich
)

// Settings is the resolved, immutable configuration for one invocation.
// Components receive the parts they need from the commands layer.
type Settings struct {
	// Embedding holds provider and pacing settings.
	Embedding EmbeddingSettings
	// Qdrant holds vector store connection settings.
	Qdrant QdrantSettings
	// Ingest holds pipeline settings.
	Ingest IngestSettings
	// Generative configures the chat model that drafts incident notes.
	Generative GenerativeSettings
	// PagerDuty configures the webhook and the note sender.
	PagerDuty PagerDutySettings
	// Langfuse configures tracing of generative calls.
	Langfuse LangfuseSettings
	// TopK is the default number of search results.
	TopK int
	// APIKey protects the HTTP API when non-empty.
	APIKey string
	// RateLimit is the sustained /api/search rate per client (requests/second).
	RateLimit float64
	// RateBurst is the per-client burst on /api/search.
	RateBurst int
	// RunsDB is the run ledger path. Empty means the default location;
	// RunsDisabled turns the ledger off.
	RunsDB string
	// PushgatewayURL receives ingest metrics when non-empty.
	PushgatewayURL string
	// LogLevel is debug, info, warn or error.
	LogLevel string
	// LogFormat is json or text.
	LogFormat string
}

// EmbeddingSettings configures the embedding provider and client.
type EmbeddingSettings struct {
	// Provider is gemini, openai, azure or ollama.
	Provider string
	// Model is empty for the provider default.
	Model string
	// Dimensions is zero for the provider default.
	Dimensions int
	// APIKey is resolved per provider; EMBEDDING_API_KEY overrides.
	APIKey string
	// Endpoint is resolved per provider; EMBEDDING_ENDPOINT overrides.
	Endpoint string
	// APIVersion is the Azure OpenAI API version.
	APIVersion string
	// Delay is the minimum spacing between provider calls.
	Delay time.Duration
	// Workers bounds concurrent provider calls.
	Workers int
	// MaxRetries is the retry count per failed call.
	MaxRetries int
}

// QdrantSettings configures the vector store.
type QdrantSettings struct {
	// URL is the Qdrant endpoint.
	URL string
	// APIKey authenticates against Qdrant.
	APIKey string
	// Collection is the target collection name.
	Collection string
}

// IngestSettings configures the ingestion pipeline.
type IngestSettings struct {
	// Dir is the incident document directory.
	Dir string
	// BatchSize is the number of points per upsert.
	BatchSize int
	// RecreatePolicy is ask, recreate, merge or fail.
	RecreatePolicy string
	// SmokeQuery runs after a successful ingest; empty disables it.
	SmokeQuery string
}

// GenerativeSettings configures the chat model used for enrichment.
type GenerativeSettings struct {
	// Provider is gemini, openai, azure, ollama or ark.
	Provider string
	// Model is empty for the provider default. Ark needs an endpoint id here.
	Model string
	// APIKey is resolved per provider; GENERATIVE_API_KEY overrides.
	APIKey string
	// Endpoint is resolved per provider; GENERATIVE_ENDPOINT overrides.
	Endpoint string
	// APIVersion is the Azure OpenAI API version.
	APIVersion string
	// AzureDeployment is the Azure OpenAI deployment name.
	AzureDeployment string
	// Temperature is the sampling temperature.
	Temperature float32
	// MaxTokens caps the generated note.
	MaxTokens int
	// Timeout bounds one enrichment from search to posted note.
	Timeout time.Duration
}

// PagerDutySettings configures the PagerDuty integration.
type PagerDutySettings struct {
	// Token is a REST API token. Setting it enables POST /api/webhook.
	Token string
	// From is the PagerDuty user email sent with every note.
	From string
	// WebhookSecret verifies X-PagerDuty-Signature when non-empty.
	WebhookSecret string
	// BaseURL overrides https://api.pagerduty.com.
	BaseURL string
}

// Enabled reports whether the webhook and note sender are configured.
func (p PagerDutySettings) Enabled() bool { return p.Token != "" }

// LangfuseSettings configures Langfuse tracing.
type LangfuseSettings struct {
	Host      string
	PublicKey string
	SecretKey string
}

// Enabled reports whether both Langfuse keys are set.
func (l LangfuseSettings) Enabled() bool { return l.PublicKey != "" && l.SecretKey != "" }

// FromEnv reads the environment into Settings, applying defaults for unset
// variables. It fails on malformed numbers or durations; missing required
// values are reported by Validate.
func FromEnv() (*Settings, error) {
	var errs []error
	num := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	dur := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	float := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	provider := strings.ToLower(envOr("EMBEDDING_PROVIDER", DefaultProvider))
	genProvider := strings.ToLower(envOr("GENERATIVE_PROVIDER", DefaultGenerativeProvider))

	// An explicitly empty SMOKE_QUERY disables the smoke query.
	smoke := DefaultSmokeQuery
	if v, ok := os.LookupEnv("SMOKE_QUERY"); ok {
		smoke = strings.TrimSpace(v)
	}

	s := &Settings{
		Embedding: EmbeddingSettings{
			Provider:   provider,
			Model:      os.Getenv("EMBEDDING_MODEL"),
			Dimensions: num("EMBEDDING_DIMENSIONS", 0),
			APIKey:     providerKey("EMBEDDING_API_KEY", provider),
			Endpoint:   providerEndpoint("EMBEDDING_ENDPOINT", provider),
			APIVersion: os.Getenv("AZURE_OPENAI_API_VERSION"),
			Delay:      dur("EMBEDDING_DELAY", DefaultDelay),
			Workers:    num("EMBEDDING_WORKERS", DefaultWorkers),
			MaxRetries: num("EMBEDDING_MAX_RETRIES", 0),
		},
		Qdrant: QdrantSettings{
			URL:        os.Getenv("QDRANT_URL"),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			Collection: envOr("COLLECTION_NAME", DefaultCollection),
		},
		Ingest: IngestSettings{
			Dir:            envOr("INCIDENTS_DIR", DefaultDir),
			BatchSize:      num("UPSERT_BATCH_SIZE", DefaultBatchSize),
			RecreatePolicy: envOr("RECREATE_POLICY", DefaultPolicy),
			SmokeQuery:     smoke,
		},
		Generative: GenerativeSettings{
			Provider:        genProvider,
			Model:           os.Getenv("GENERATIVE_MODEL"),
			APIKey:          providerKey("GENERATIVE_API_KEY", genProvider),
			Endpoint:        providerEndpoint("GENERATIVE_ENDPOINT", genProvider),
			APIVersion:      os.Getenv("AZURE_OPENAI_API_VERSION"),
			AzureDeployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
			Temperature:     float32(float("GENERATIVE_TEMPERATURE", DefaultTemperature)),
			MaxTokens:       num("GENERATIVE_MAX_TOKENS", DefaultMaxTokens),
			Timeout:         dur("ENRICH_TIMEOUT", DefaultEnrichTimeout),
		},
		PagerDuty: PagerDutySettings{
			Token:         os.Getenv("PAGERDUTY_API_TOKEN"),
			From:          os.Getenv("PAGERDUTY_EMAIL"),
			WebhookSecret: os.Getenv("PAGERDUTY_WEBHOOK_SECRET"),
			BaseURL:       os.Getenv("PAGERDUTY_API_URL"),
		},
		Langfuse: LangfuseSettings{
			Host:      envOr("LANGFUSE_HOST", DefaultLangfuseHost),
			PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
			SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
		},
		TopK:           num("SEARCH_TOP_K", DefaultTopK),
		APIKey:         os.Getenv("INCIDENTKB_API_KEY"),
		RateLimit:      float("RATE_LIMIT_RPS", DefaultRateLimit),
		RateBurst:      num("RATE_LIMIT_BURST", DefaultRateBurst),
		RunsDB:         os.Getenv("INCIDENTKB_RUNS_DB"),
		PushgatewayURL: os.Getenv("PUSHGATEWAY_URL"),
		LogLevel:       envOr("LOG_LEVEL", DefaultLogLevel),
		LogFormat:      envOr("LOG_FORMAT", DefaultLogFormat),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that every value mode requires is present and reports
// all missing ones at once, wrapped in ErrMissing.
func (s *Settings) Validate(mode Mode) error {
	var missing []string

	switch s.Embedding.Provider {
	case "gemini":
		if s.Embedding.APIKey == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	case "openai":
		if s.Embedding.APIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	case "azure":
		if s.Embedding.APIKey == "" {
			missing = append(missing, "AZURE_OPENAI_API_KEY")
		}
		if s.Embedding.Endpoint == "" {
			missing = append(missing, "AZURE_OPENAI_ENDPOINT")
		}
	case "ollama":
	default:
		return fmt.Errorf("config: unknown EMBEDDING_PROVIDER %q (valid: gemini, openai, azure, ollama)", s.Embedding.Provider)
	}

	if mode != ModeDryRun {
		if s.Qdrant.URL == "" {
			missing = append(missing, "QDRANT_URL")
		}
		if s.Qdrant.APIKey == "" {
			missing = append(missing, "QDRANT_API_KEY")
		}
	}

	enrich := mode == ModeEnrich || (mode == ModeServe && s.PagerDuty.Enabled())
	if enrich {
		gen, err := s.Generative.missing()
		if err != nil {
			return err
		}
		missing = append(missing, gen...)
	}
	if mode == ModeServe && s.PagerDuty.Enabled() && s.PagerDuty.From == "" {
		missing = append(missing, "PAGERDUTY_EMAIL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}

	if mode == ModeIngest || mode == ModeDryRun {
		info, err := os.Stat(s.Ingest.Dir)
		if err != nil {
			return fmt.Errorf("config: INCIDENTS_DIR %s: %w", s.Ingest.Dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("config: INCIDENTS_DIR %s is not a directory", s.Ingest.Dir)
		}
	}
	if s.Embedding.Workers < 1 {
		return fmt.Errorf("config: EMBEDDING_WORKERS must be at least 1, got %d", s.Embedding.Workers)
	}
	if s.Ingest.BatchSize < 1 {
		return fmt.Errorf("config: UPSERT_BATCH_SIZE must be at least 1, got %d", s.Ingest.BatchSize)
	}
	if mode == ModeServe {
		if s.RateLimit <= 0 {
			return fmt.Errorf("config: RATE_LIMIT_RPS must be positive, got %g", s.RateLimit)
		}
		if s.RateBurst < 1 {
			return fmt.Errorf("config: RATE_LIMIT_BURST must be at least 1, got %d", s.RateBurst)
		}
	}
	if enrich && s.Generative.MaxTokens < 1 {
		return fmt.Errorf("config: GENERATIVE_MAX_TOKENS must be at least 1, got %d", s.Generative.MaxTokens)
	}
	return nil
}

// missing lists the generative settings the provider needs but lacks.
func (g GenerativeSettings) missing() ([]string, error) {
	var out []string
	switch g.Provider {
	case "gemini":
		if g.APIKey == "" {
			out = append(out, "GEMINI_API_KEY")
		}
	case "openai":
		if g.APIKey == "" {
			out = append(out, "OPENAI_API_KEY")
		}
	case "azure":
		if g.APIKey == "" {
			out = append(out, "AZURE_OPENAI_API_KEY")
		}
		if g.Endpoint == "" {
			out = append(out, "AZURE_OPENAI_ENDPOINT")
		}
		if g.AzureDeployment == "" {
			out = append(out, "AZURE_OPENAI_DEPLOYMENT")
		}
	case "ark":
		if g.APIKey == "" {
			out = append(out, "ARK_API_KEY")
		}
		if g.Model == "" {
			out = append(out, "GENERATIVE_MODEL")
		}
	case "ollama":
	default:
		return nil, fmt.Errorf("config: unknown GENERATIVE_PROVIDER %q (valid: gemini, openai, azure, ollama, ark)", g.Provider)
	}
	return out, nil
}

// providerKey resolves the API key for provider. The override variable
// wins; gemini falls back from GEMINI_API_KEY to GOOGLE_API_KEY.
func providerKey(override, provider string) string {
	if v := os.Getenv(override); v != "" {
		return v
	}
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "azure":
		return os.Getenv("AZURE_OPENAI_API_KEY")
	case "ark":
		return os.Getenv("ARK_API_KEY")
	case "ollama":
		return ""
	default:
		return envOr("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY"))
	}
}

// providerEndpoint resolves the base URL for provider. The override variable wins.
func providerEndpoint(override, provider string) string {
	if v := os.Getenv(override); v != "" {
		return v
	}
	switch provider {
	case "azure":
		return os.Getenv("AZURE_OPENAI_ENDPOINT")
	case "ollama":
		return os.Getenv("OLLAMA_HOST")
	case "ark":
		return os.Getenv("ARK_BASE_URL")
	default:
		return ""
	}
}

// envOr returns the value of key, or def when it is unset or empty.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt parses key as an integer, returning def when unset.
func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("config: %s must be an integer, got %q", key, v)
	}
	return n, nil
}

// envFloat parses key as a float, returning def when unset.
func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("config: %s must be a number, got %q", key, v)
	}
	return f, nil
}

// envDuration parses key as a Go duration. A bare number is read as seconds.
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("config: %s must be a duration, got %q", key, v)
	}
	return d, nil
}
