package testsupport

import (
	"path/filepath"
	"testing"

	"boqmatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Batching.InterBatchDelayMillis = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithPostgres points the store at a Postgres DSN.
func WithPostgres(dsn string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.Driver = "postgres"
		b.cfg.Store.PostgresDSN = dsn
	}
}

// WithEmbedding configures an embedding provider served from baseURL.
func WithEmbedding(provider, baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Embedding.Provider = provider
		b.cfg.Embedding.BaseURL = baseURL
		b.cfg.Embedding.APIKey = "test-key"
		b.cfg.Embedding.RequestsPerSecond = 0
	}
}

