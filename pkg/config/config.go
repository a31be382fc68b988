// Package config loads process configuration from the environment with an
// optional YAML overlay. The result is read-only once Load returns.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Mindburn-Labs/verifiquant/pkg/selector"
	"github.com/Mindburn-Labs/verifiquant/pkg/verifier"
)

// Interpreter providers.
const (
	InterpreterKeyword = "keyword"
	InterpreterOpenAI  = "openai"
	InterpreterGemini  = "gemini"
)

// Embedding providers.
const (
	EmbeddingsNone   = "none"
	EmbeddingsGemini = "gemini"
)

// Archive backends.
const (
	ArchiveNone = "none"
	ArchiveFS   = "fs"
	ArchiveS3   = "s3"
	ArchiveGCS  = "gcs"
)

// Config holds server configuration.
type Config struct {
	Port       string `env:"PORT" envDefault:"8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"text"`
	ConfigFile string `env:"VQ_CONFIG_FILE"`

	// CardsDir loads the catalog from disk; empty uses the built-in cards.
	CardsDir string `env:"VQ_CARDS_DIR"`
	// CatalogDatabaseURL adds cards stored in Postgres after the file catalog.
	CatalogDatabaseURL string `env:"VQ_CATALOG_DATABASE_URL"`

	ConfidenceThreshold float64 `env:"CONFIDENCE_THRESHOLD" envDefault:"0.5"`
	FallbackPenalty     float64 `env:"FALLBACK_PENALTY" envDefault:"0.9"`

	MinOverlap    float64 `env:"SELECTION_MIN_OVERLAP" envDefault:"0.75"`
	FallbackCap   float64 `env:"SELECTION_FALLBACK_CAP" envDefault:"0.7"`
	AbsoluteFloor float64 `env:"SELECTION_ABSOLUTE_FLOOR" envDefault:"0.1"`
	// Alpha is the lexical weight of hybrid fallback relevance.
	Alpha float64 `env:"SELECTION_ALPHA" envDefault:"0.4"`

	// Embeddings enables semantic fallback retrieval: none or gemini.
	Embeddings     string `env:"VQ_EMBEDDINGS" envDefault:"none"`
	EmbeddingModel string `env:"EMBEDDING_MODEL" envDefault:"gemini-embedding-001"`

	DefaultTolerance float64 `env:"VERIFY_DEFAULT_TOLERANCE" envDefault:"1e-6"`
	// Tolerances maps card id to invariant epsilon, e.g. "npv_with_salvage:1e-4".
	Tolerances map[string]float64 `env:"VERIFY_TOLERANCES"`

	ResolverTimeout  time.Duration `env:"RESOLVER_TIMEOUT" envDefault:"5s"`
	FactsDriver      string        `env:"VQ_FACTS_DRIVER" envDefault:"sqlite"`
	FactsDSN         string        `env:"VQ_FACTS_DSN"`
	DataServiceURL   string        `env:"VQ_DATA_SERVICE_URL"`
	DataServiceToken string        `env:"VQ_DATA_SERVICE_TOKEN"`
	RedisAddr        string        `env:"REDIS_ADDR"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB" envDefault:"0"`
	CacheTTL         time.Duration `env:"VQ_CACHE_TTL" envDefault:"10m"`

	Interpreter     string  `env:"VQ_INTERPRETER" envDefault:"keyword"`
	OpenAIBaseURL   string  `env:"OPENAI_BASE_URL"`
	OpenAIAPIKey    string  `env:"OPENAI_API_KEY"`
	OpenAIModel     string  `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	GeminiAPIKey    string  `env:"GEMINI_API_KEY"`
	GeminiModel     string  `env:"GEMINI_MODEL"`
	InterpreterRate float64 `env:"VQ_INTERPRETER_RPS" envDefault:"5"`

	AuditDBPath string `env:"VQ_AUDIT_DB" envDefault:"verifiquant.db"`
	// AuditRetention caps in-memory audit entries; zero keeps everything.
	AuditRetention     int    `env:"VQ_AUDIT_RETAIN" envDefault:"100000"`
	ReceiptDatabaseURL string `env:"VQ_RECEIPT_DATABASE_URL"`
	ReceiptSeed        string `env:"VQ_RECEIPT_SEED"`
	ReceiptKeyID       string `env:"VQ_RECEIPT_KEY_ID" envDefault:"vq-receipt-1"`

	ArchiveBackend string `env:"VQ_ARCHIVE" envDefault:"none"`
	ArchiveDir     string `env:"VQ_ARCHIVE_DIR" envDefault:"archive"`
	ArchiveBucket  string `env:"VQ_ARCHIVE_BUCKET"`
	ArchiveRegion  string `env:"VQ_ARCHIVE_REGION"`
	// ArchiveEndpoint points S3 at a compatible store such as MinIO.
	ArchiveEndpoint string `env:"VQ_ARCHIVE_ENDPOINT"`

	JWTSecretSeed  string   `env:"VQ_JWT_SEED"`
	CORSOrigins    []string `env:"VQ_CORS_ORIGINS" envSeparator:","`
	RateLimitRPS   float64  `env:"VQ_RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int      `env:"VQ_RATE_LIMIT_BURST" envDefault:"40"`

	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"verifiquant"`

	// DomainLabels maps a domain id to a display name. YAML only.
	DomainLabels map[string]string
}

// Load parses the environment, applies the YAML overlay named by
// VQ_CONFIG_FILE for settings the environment leaves unset, and validates.
func Load() (*Config, error) {
	return load(env.Options{})
}

func load(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.ConfigFile != "" {
		overlay, err := ReadOverlay(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		overlay.apply(&cfg, envLookup(opts))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 || math.IsNaN(c.ConfidenceThreshold) {
		return fmt.Errorf("config: CONFIDENCE_THRESHOLD %g outside [0,1]", c.ConfidenceThreshold)
	}
	if c.FallbackPenalty <= 0 || c.FallbackPenalty >= 1 {
		return fmt.Errorf("config: FALLBACK_PENALTY %g outside (0,1)", c.FallbackPenalty)
	}
	if err := c.Selection().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	// The best fallback scores FallbackCap*FallbackPenalty; below the
	// threshold no fallback could ever be answered.
	if c.FallbackCap*c.FallbackPenalty < c.ConfidenceThreshold {
		return fmt.Errorf("config: SELECTION_FALLBACK_CAP*FALLBACK_PENALTY %g is below CONFIDENCE_THRESHOLD %g",
			c.FallbackCap*c.FallbackPenalty, c.ConfidenceThreshold)
	}
	if c.AuditRetention < 0 {
		return fmt.Errorf("config: VQ_AUDIT_RETAIN must not be negative")
	}
	if c.DefaultTolerance <= 0 {
		return fmt.Errorf("config: VERIFY_DEFAULT_TOLERANCE must be positive")
	}
	for id, eps := range c.Tolerances {
		if eps <= 0 {
			return fmt.Errorf("config: tolerance for %s must be positive", id)
		}
	}
	if c.ResolverTimeout <= 0 {
		return fmt.Errorf("config: RESOLVER_TIMEOUT must be positive")
	}

	switch c.Interpreter {
	case InterpreterKeyword:
	case InterpreterOpenAI:
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			return fmt.Errorf("config: openai interpreter needs OPENAI_API_KEY or OPENAI_BASE_URL")
		}
	case InterpreterGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("config: gemini interpreter needs GEMINI_API_KEY")
		}
	default:
		return fmt.Errorf("config: unknown VQ_INTERPRETER %q", c.Interpreter)
	}

	switch c.Embeddings {
	case "", EmbeddingsNone:
	case EmbeddingsGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("config: gemini embeddings need GEMINI_API_KEY")
		}
	default:
		return fmt.Errorf("config: unknown VQ_EMBEDDINGS %q", c.Embeddings)
	}

	switch c.ArchiveBackend {
	case ArchiveNone, ArchiveFS:
	case ArchiveS3, ArchiveGCS:
		if c.ArchiveBucket == "" {
			return fmt.Errorf("config: %s archive needs VQ_ARCHIVE_BUCKET", c.ArchiveBackend)
		}
	default:
		return fmt.Errorf("config: unknown VQ_ARCHIVE %q", c.ArchiveBackend)
	}

	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("config: unknown LOG_LEVEL %q", c.LogLevel)
	}
	return nil
}

// Selection returns the card selection thresholds.
func (c *Config) Selection() selector.Config {
	return selector.Config{MinOverlap: c.MinOverlap, FallbackCap: c.FallbackCap, AbsoluteFloor: c.AbsoluteFloor, Alpha: c.Alpha}
}

// Verification returns the verifier settings.
func (c *Config) Verification() verifier.Config {
	overrides := make(map[string]float64, len(c.Tolerances))
	for k, v := range c.Tolerances {
		overrides[k] = v
	}
	return verifier.Config{DefaultTolerance: c.DefaultTolerance, Overrides: overrides}
}
