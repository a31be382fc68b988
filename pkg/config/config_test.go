package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadEnv(t *testing.T, vars map[string]string) (*Config, error) {
	t.Helper()
	return load(env.Options{Environment: vars})
}

// TestLoad_Defaults verifies the process boots with safe defaults.
func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadEnv(t, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 0.5, cfg.ConfidenceThreshold)
	assert.Equal(t, 0.9, cfg.FallbackPenalty)
	assert.Equal(t, 0.7, cfg.FallbackCap)
	assert.Equal(t, 0.4, cfg.Selection().Alpha)
	assert.Equal(t, EmbeddingsNone, cfg.Embeddings)
	assert.Equal(t, 100000, cfg.AuditRetention)
	assert.GreaterOrEqual(t, cfg.FallbackCap*cfg.FallbackPenalty, cfg.ConfidenceThreshold)
	assert.Equal(t, 5*time.Second, cfg.ResolverTimeout)
	assert.Equal(t, InterpreterKeyword, cfg.Interpreter)
	assert.NoError(t, cfg.Selection().Validate())
	assert.Equal(t, 1e-6, cfg.Verification().DefaultTolerance)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := loadEnv(t, map[string]string{
		"PORT":                 "9090",
		"CONFIDENCE_THRESHOLD": "0.55",
		"RESOLVER_TIMEOUT":     "250ms",
		"VERIFY_TOLERANCES":    "npv_with_salvage:0.0001,sharpe_ratio:0.001",
		"VQ_CORS_ORIGINS":      "https://a.example,https://b.example",
	})
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 0.55, cfg.ConfidenceThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.ResolverTimeout)
	assert.Equal(t, 1e-4, cfg.Verification().Overrides["npv_with_salvage"])
	assert.Len(t, cfg.CORSOrigins, 2)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"threshold above one", map[string]string{"CONFIDENCE_THRESHOLD": "1.5"}},
		{"penalty of one", map[string]string{"FALLBACK_PENALTY": "1"}},
		{"fallback cap not below overlap", map[string]string{"SELECTION_FALLBACK_CAP": "0.8"}},
		{"fallback can never pass", map[string]string{"CONFIDENCE_THRESHOLD": "0.6", "FALLBACK_PENALTY": "0.8"}},
		{"alpha above one", map[string]string{"SELECTION_ALPHA": "1.5"}},
		{"gemini embeddings without key", map[string]string{"VQ_EMBEDDINGS": "gemini"}},
		{"unknown embeddings", map[string]string{"VQ_EMBEDDINGS": "word2vec", "GEMINI_API_KEY": "k"}},
		{"negative audit retention", map[string]string{"VQ_AUDIT_RETAIN": "-1"}},
		{"unknown interpreter", map[string]string{"VQ_INTERPRETER": "oracle"}},
		{"gemini without key", map[string]string{"VQ_INTERPRETER": "gemini"}},
		{"s3 without bucket", map[string]string{"VQ_ARCHIVE": "s3"}},
		{"negative tolerance", map[string]string{"VERIFY_TOLERANCES": "x:-1"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadEnv(t, tt.vars)
			assert.Error(t, err)
		})
	}
}

func TestOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
confidence:
  threshold: 0.6
selection:
  fallback_cap: 0.5
  alpha: 0.25
tolerances:
  npv_with_salvage: 0.001
  sharpe_ratio: 0.01
domains:
  portfolio: Portfolio analytics
`), 0o600))

	cfg, err := loadEnv(t, map[string]string{
		"VQ_CONFIG_FILE":         path,
		"SELECTION_FALLBACK_CAP": "0.7",
		"VERIFY_TOLERANCES":      "sharpe_ratio:0.02",
	})
	require.NoError(t, err)

	assert.Equal(t, 0.6, cfg.ConfidenceThreshold)
	assert.Equal(t, 0.7, cfg.FallbackCap, "environment wins over the file")
	assert.Equal(t, 0.25, cfg.Alpha)
	assert.Equal(t, 0.001, cfg.Tolerances["npv_with_salvage"])
	assert.Equal(t, 0.02, cfg.Tolerances["sharpe_ratio"])
	assert.Equal(t, "Portfolio analytics", cfg.DomainLabels["portfolio"])
}

func TestOverlayRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vq.yaml")
	require.NoError(t, os.WriteFile(path, []byte("confidence:\n  treshold: 0.7\n"), 0o600))

	_, err := loadEnv(t, map[string]string{"VQ_CONFIG_FILE": path})
	assert.Error(t, err)
}
