package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Store selects and configures the persistence backend.
type Store struct {
	Driver             string `toml:"driver"`
	SQLitePath         string `toml:"sqlite_path"`
	PostgresDSN        string `toml:"postgres_dsn"`
	MaxConns           int32  `toml:"max_conns"`
	DialTimeoutSeconds int    `toml:"dial_timeout_seconds"`
}

// Matching contains selection thresholds shared by every strategy.
type Matching struct {
	// ConfidenceThreshold separates confident automatic matches from
	// low-confidence ones that need review. Default: 0.7
	ConfidenceThreshold  float64 `toml:"confidence_threshold"`
	MinDescriptionLength int     `toml:"min_description_length"`
	DefaultMethod        string  `toml:"default_method"`
	TopK                 int     `toml:"top_k"`
}

// Scoring holds the lexical tier point values and bonus weights.
type Scoring struct {
	ExactPoints        float64 `toml:"exact_points"`
	PrefixPoints       float64 `toml:"prefix_points"`
	WordBoundaryPoints float64 `toml:"word_boundary_points"`
	SubstringPoints    float64 `toml:"substring_points"`
	OverlapPoints      float64 `toml:"overlap_points"`
	OverlapFloor       float64 `toml:"overlap_floor"`
	CategoryPoints     float64 `toml:"category_points"`
	MetadataPoints     float64 `toml:"metadata_points"`
	UnitBonus          float64 `toml:"unit_bonus"`
	ContextBonus       float64 `toml:"context_bonus"`
	CategoryBonus      float64 `toml:"category_bonus"`
	CodeBonus          float64 `toml:"code_bonus"`
	MaxScore           float64 `toml:"max_score"`
}

// Embedding configures the remote embedding provider.
type Embedding struct {
	Provider          string  `toml:"provider"`
	BaseURL           string  `toml:"base_url"`
	APIKey            string  `toml:"api_key"`
	Model             string  `toml:"model"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	InputsPerRequest  int     `toml:"inputs_per_request"`
	CacheSize         int     `toml:"cache_size"`
	// BlendWeight is the share of the final confidence taken from vector
	// similarity; the rest comes from the lexical re-rank. Default: 0.6
	BlendWeight float64 `toml:"blend_weight"`
	Shortlist   int     `toml:"shortlist"`
}

// Batching configures adaptive batch sizing for job waves.
type Batching struct {
	InitialSize           int     `toml:"initial_size"`
	MinSize               int     `toml:"min_size"`
	MaxSize               int     `toml:"max_size"`
	Step                  int     `toml:"step"`
	WindowSize            int     `toml:"window_size"`
	MinSamples            int     `toml:"min_samples"`
	TargetMillisPerItem   int     `toml:"target_millis_per_item"`
	Threshold             float64 `toml:"threshold"`
	InterBatchDelayMillis int     `toml:"inter_batch_delay_millis"`
	Concurrency           int     `toml:"concurrency"`
}

// RetryPolicy mirrors retry.Policy in config units.
type RetryPolicy struct {
	MaxAttempts        int     `toml:"max_attempts"`
	InitialDelayMillis int     `toml:"initial_delay_millis"`
	MaxDelayMillis     int     `toml:"max_delay_millis"`
	BackoffFactor      float64 `toml:"backoff_factor"`
}

// Retry holds the read and write policies.
type Retry struct {
	Read  RetryPolicy `toml:"read"`
	Write RetryPolicy `toml:"write"`
}

// Metrics configures the per-job diagnostics log.
type Metrics struct {
	LogCapacity            int     `toml:"log_capacity"`
	LowConfidenceThreshold float64 `toml:"low_confidence_threshold"`
	ReviewCapacity         int     `toml:"review_capacity"`
	FinishedJobs           int     `toml:"finished_jobs"`
}

// API configures the HTTP listener.
type API struct {
	Bind      string `toml:"bind"`
	Token     string `toml:"token"`
	MaxBodyMB int    `toml:"max_body_mb"`
	AccessLog bool   `toml:"access_log"`
}

// Notifications configures ntfy alerts for finished jobs.
type Notifications struct {
	// NtfyTopic is the full topic URL, e.g. https://ntfy.sh/boqmatch.
	// Empty disables notifications.
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	NotifyOnCompleted     bool   `toml:"notify_on_completed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format     string `toml:"format"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Config encapsulates all configuration values for boqmatch.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - Store: persistence backend (sqlite or postgres)
//   - Matching: confidence floor, description limits, default method
//   - Scoring: lexical tier points and bonus weights
//   - Embedding: remote embedding provider, cache and blend
//   - Batching: adaptive batch sizing and inter-batch throttling
//   - Retry: read and write retry policies
//   - Metrics: per-job diagnostics log bounds
//   - API: HTTP listener and bearer token
//   - Notifications: ntfy alerts for finished jobs
//   - Logging: log format, level and rotation
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	Matching      Matching      `toml:"matching"`
	Scoring       Scoring       `toml:"scoring"`
	Embedding     Embedding     `toml:"embedding"`
	Batching      Batching      `toml:"batching"`
	Retry         Retry         `toml:"retry"`
	Metrics       Metrics       `toml:"metrics"`
	API           API           `toml:"api"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("boqmatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SQLitePath returns the database file used by the sqlite driver.
func (c *Config) SQLitePath() string {
	if strings.TrimSpace(c.Store.SQLitePath) != "" {
		return c.Store.SQLitePath
	}
	return filepath.Join(c.Paths.DataDir, "boqmatch.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "boqmatchd.lock")
}

// PIDPath returns the file holding the running daemon's process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "boqmatchd.pid")
}

// LogPath returns the main log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "boqmatch.log")
}

// AccessLogPath returns the HTTP access log file.
func (c *Config) AccessLogPath() string {
	return filepath.Join(c.Paths.LogDir, "access.log")
}

// TargetPerItem returns the batching target time per item.
func (b Batching) TargetPerItem() time.Duration {
	return time.Duration(b.TargetMillisPerItem) * time.Millisecond
}

// InterBatchDelay returns the pause inserted between successive waves.
func (b Batching) InterBatchDelay() time.Duration {
	return time.Duration(b.InterBatchDelayMillis) * time.Millisecond
}

// InitialDelay returns the first retry delay.
func (p RetryPolicy) InitialDelay() time.Duration {
	return time.Duration(p.InitialDelayMillis) * time.Millisecond
}

// MaxDelay returns the retry delay ceiling.
func (p RetryPolicy) MaxDelay() time.Duration {
	return time.Duration(p.MaxDelayMillis) * time.Millisecond
}

// Timeout returns the embedding HTTP timeout.
func (n Notifications) RequestTimeout() time.Duration {
	return time.Duration(n.RequestTimeoutSeconds) * time.Second
}

func (e Embedding) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
