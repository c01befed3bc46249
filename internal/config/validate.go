package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateMatching(); err != nil {
		return err
	}
	if err := c.validateScoring(); err != nil {
		return err
	}
	if err := c.validateEmbedding(); err != nil {
		return err
	}
	if err := c.validateBatching(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case "sqlite":
		return nil
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required when store.driver is postgres (or set BOQMATCH_POSTGRES_DSN)")
		}
		if c.Store.MaxConns <= 0 {
			return errors.New("store.max_conns must be positive")
		}
		return nil
	default:
		return fmt.Errorf("store.driver: unsupported value %q (expected sqlite or postgres)", c.Store.Driver)
	}
}

func (c *Config) validateMatching() error {
	if c.Matching.ConfidenceThreshold < 0 || c.Matching.ConfidenceThreshold > 1 {
		return errors.New("matching.confidence_threshold must be between 0 and 1")
	}
	if c.Matching.MinDescriptionLength < 1 {
		return errors.New("matching.min_description_length must be at least 1")
	}
	switch c.Matching.DefaultMethod {
	case "local", "openai", "cohere":
	default:
		return fmt.Errorf("matching.default_method: unsupported value %q", c.Matching.DefaultMethod)
	}
	return nil
}

func (c *Config) validateScoring() error {
	s := c.Scoring
	values := map[string]float64{
		"exact_points":         s.ExactPoints,
		"prefix_points":        s.PrefixPoints,
		"word_boundary_points": s.WordBoundaryPoints,
		"substring_points":     s.SubstringPoints,
		"overlap_points":       s.OverlapPoints,
		"category_points":      s.CategoryPoints,
		"metadata_points":      s.MetadataPoints,
		"unit_bonus":           s.UnitBonus,
		"context_bonus":        s.ContextBonus,
		"category_bonus":       s.CategoryBonus,
		"code_bonus":           s.CodeBonus,
	}
	for key, value := range values {
		if value < 0 {
			return fmt.Errorf("scoring.%s must not be negative", key)
		}
	}
	if !(s.ExactPoints >= s.PrefixPoints && s.PrefixPoints >= s.WordBoundaryPoints &&
		s.WordBoundaryPoints >= s.SubstringPoints && s.SubstringPoints >= s.OverlapPoints &&
		s.CategoryPoints >= s.MetadataPoints) {
		return errors.New("scoring tier points must not increase from exact down to metadata")
	}
	if s.OverlapFloor < 0 || s.OverlapFloor > 1 {
		return errors.New("scoring.overlap_floor must be between 0 and 1")
	}
	if s.MaxScore <= 0 {
		return errors.New("scoring.max_score must be positive")
	}
	ceiling := max(s.ExactPoints, s.CategoryPoints) + s.UnitBonus + s.ContextBonus + s.CategoryBonus + s.CodeBonus
	if s.MaxScore < ceiling {
		return fmt.Errorf("scoring.max_score %.0f is below the attainable score %.0f", s.MaxScore, ceiling)
	}
	return nil
}

func (c *Config) validateEmbedding() error {
	switch c.Embedding.Provider {
	case "openai", "cohere":
	default:
		return fmt.Errorf("embedding.provider: unsupported value %q", c.Embedding.Provider)
	}
	if c.Embedding.BlendWeight < 0 || c.Embedding.BlendWeight > 1 {
		return errors.New("embedding.blend_weight must be between 0 and 1")
	}
	if c.Embedding.RequestsPerSecond < 0 {
		return errors.New("embedding.requests_per_second must not be negative")
	}
	if c.Embedding.CacheSize <= 0 {
		return errors.New("embedding.cache_size must be positive")
	}
	if c.Matching.DefaultMethod != "local" && c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding.api_key is required when matching.default_method is %q (or set BOQMATCH_EMBEDDING_API_KEY)", c.Matching.DefaultMethod)
	}
	return nil
}

func (c *Config) validateBatching() error {
	b := c.Batching
	if b.MinSize <= 0 {
		return errors.New("batching.min_size must be positive")
	}
	if b.MaxSize < b.MinSize {
		return errors.New("batching.max_size must be >= batching.min_size")
	}
	if b.InitialSize < b.MinSize || b.InitialSize > b.MaxSize {
		return errors.New("batching.initial_size must lie within [min_size, max_size]")
	}
	if b.Step <= 0 {
		return errors.New("batching.step must be positive")
	}
	if b.WindowSize <= 0 || b.MinSamples <= 0 || b.MinSamples > b.WindowSize {
		return errors.New("batching.min_samples must be positive and not exceed batching.window_size")
	}
	if b.TargetMillisPerItem <= 0 {
		return errors.New("batching.target_millis_per_item must be positive")
	}
	if b.Threshold < 0 || b.Threshold >= 1 {
		return errors.New("batching.threshold must be in [0, 1)")
	}
	if b.InterBatchDelayMillis < 0 {
		return errors.New("batching.inter_batch_delay_millis must not be negative")
	}
	if b.Concurrency <= 0 {
		return errors.New("batching.concurrency must be positive")
	}
	return nil
}

func (c *Config) validateRetry() error {
	for name, p := range map[string]RetryPolicy{"read": c.Retry.Read, "write": c.Retry.Write} {
		if p.MaxAttempts <= 0 {
			return fmt.Errorf("retry.%s.max_attempts must be positive", name)
		}
		if p.InitialDelayMillis < 0 || p.MaxDelayMillis < p.InitialDelayMillis {
			return fmt.Errorf("retry.%s delays must satisfy 0 <= initial_delay_millis <= max_delay_millis", name)
		}
		if p.BackoffFactor < 1 {
			return fmt.Errorf("retry.%s.backoff_factor must be >= 1", name)
		}
	}
	if c.Retry.Write.MaxAttempts > c.Retry.Read.MaxAttempts {
		return errors.New("retry.write.max_attempts must not exceed retry.read.max_attempts")
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if c.Metrics.LogCapacity <= 0 || c.Metrics.ReviewCapacity <= 0 || c.Metrics.FinishedJobs <= 0 {
		return errors.New("metrics capacities must be positive")
	}
	if c.Metrics.LowConfidenceThreshold < 0 || c.Metrics.LowConfidenceThreshold > 1 {
		return errors.New("metrics.low_confidence_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic != "" && !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", topic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
