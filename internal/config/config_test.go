package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"boqmatch/internal/config"
)

func TestLoadDefaultConfigExpandsPathsAndReadsEnv(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("BOQMATCH_API_TOKEN", "env-token")
	t.Setenv("BOQMATCH_EMBEDDING_API_KEY", "")
	t.Setenv("BOQMATCH_POSTGRES_DSN", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "boqmatch")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.SQLitePath() != filepath.Join(wantData, "boqmatch.db") {
		t.Fatalf("unexpected sqlite path: %q", cfg.SQLitePath())
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("expected sqlite driver by default, got %q", cfg.Store.Driver)
	}
	if cfg.Matching.ConfidenceThreshold != 0.7 {
		t.Fatalf("unexpected confidence threshold: %v", cfg.Matching.ConfidenceThreshold)
	}
	if cfg.Matching.DefaultMethod != "local" {
		t.Fatalf("unexpected default method: %q", cfg.Matching.DefaultMethod)
	}
	if cfg.API.Token != "env-token" {
		t.Fatalf("expected API token from env, got %q", cfg.API.Token)
	}
	if cfg.Embedding.BaseURL != "https://api.openai.com/v1" {
		t.Fatalf("unexpected embedding base url: %q", cfg.Embedding.BaseURL)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	t.Setenv("BOQMATCH_EMBEDDING_API_KEY", "")
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "boqmatch.toml")

	type payload struct {
		Matching struct {
			ConfidenceThreshold float64 `toml:"confidence_threshold"`
			DefaultMethod       string  `toml:"default_method"`
		} `toml:"matching"`
		Embedding struct {
			Provider string `toml:"provider"`
			APIKey   string `toml:"api_key"`
			BaseURL  string `toml:"base_url"`
		} `toml:"embedding"`
		Batching struct {
			InitialSize int `toml:"initial_size"`
		} `toml:"batching"`
	}
	custom := payload{}
	custom.Matching.ConfidenceThreshold = 0.8
	custom.Matching.DefaultMethod = "Cohere"
	custom.Embedding.Provider = "cohere"
	custom.Embedding.APIKey = "file-key"
	custom.Embedding.BaseURL = "https://example.com/v1/"
	custom.Batching.InitialSize = 20
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Matching.ConfidenceThreshold != 0.8 {
		t.Fatalf("expected threshold 0.8, got %v", cfg.Matching.ConfidenceThreshold)
	}
	if cfg.Matching.DefaultMethod != "cohere" {
		t.Fatalf("expected lower-cased method, got %q", cfg.Matching.DefaultMethod)
	}
	if cfg.Embedding.BaseURL != "https://example.com/v1" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Embedding.BaseURL)
	}
	if cfg.Embedding.Model != "embed-english-v3.0" {
		t.Fatalf("expected cohere default model, got %q", cfg.Embedding.Model)
	}
	if cfg.Batching.InitialSize != 20 {
		t.Fatalf("expected initial batch size 20, got %d", cfg.Batching.InitialSize)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "boqmatch.toml")
	if err := os.WriteFile(configPath, []byte("[matching]\nno_such_key = 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestPostgresDriverRequiresDSN(t *testing.T) {
	t.Setenv("BOQMATCH_POSTGRES_DSN", "")
	configPath := filepath.Join(t.TempDir(), "boqmatch.toml")
	if err := os.WriteFile(configPath, []byte("[store]\ndriver = \"postgres\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected missing DSN to be rejected")
	}

	t.Setenv("BOQMATCH_POSTGRES_DSN", "postgres://localhost/boqmatch")
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Store.PostgresDSN != "postgres://localhost/boqmatch" {
		t.Fatalf("expected DSN from env, got %q", cfg.Store.PostgresDSN)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "confidence_threshold") {
		t.Fatalf("sample config missing matching section: %s", contents)
	}

	cfg := config.Default()
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config does not validate: %v", err)
	}
	if !strings.Contains(cfg.Paths.DataDir, "boqmatch") {
		t.Fatalf("expected data dir to contain boqmatch, got %q", cfg.Paths.DataDir)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"threshold above one", func(c *config.Config) { c.Matching.ConfidenceThreshold = 1.5 }},
		{"unknown method", func(c *config.Config) { c.Matching.DefaultMethod = "bm25" }},
		{"remote method without key", func(c *config.Config) { c.Matching.DefaultMethod = "openai" }},
		{"inverted tiers", func(c *config.Config) { c.Scoring.PrefixPoints = c.Scoring.ExactPoints + 1 }},
		{"negative bonus", func(c *config.Config) { c.Scoring.UnitBonus = -1 }},
		{"max score below attainable", func(c *config.Config) { c.Scoring.ContextBonus = c.Scoring.MaxScore }},
		{"batch bounds", func(c *config.Config) { c.Batching.MaxSize = c.Batching.MinSize - 1 }},
		{"initial outside bounds", func(c *config.Config) { c.Batching.InitialSize = c.Batching.MaxSize + 1 }},
		{"write retries exceed read", func(c *config.Config) { c.Retry.Write.MaxAttempts = c.Retry.Read.MaxAttempts + 1 }},
		{"backoff below one", func(c *config.Config) { c.Retry.Read.BackoffFactor = 0.5 }},
		{"unknown log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"unknown driver", func(c *config.Config) { c.Store.Driver = "mysql" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := config.Default()
	if cfg.Retry.Read.InitialDelay().Milliseconds() != 500 {
		t.Fatalf("unexpected initial delay: %s", cfg.Retry.Read.InitialDelay())
	}
	if cfg.Batching.TargetPerItem().Milliseconds() != 200 {
		t.Fatalf("unexpected target per item: %s", cfg.Batching.TargetPerItem())
	}
	if cfg.Embedding.Timeout().Seconds() != 30 {
		t.Fatalf("unexpected embedding timeout: %s", cfg.Embedding.Timeout())
	}
}
