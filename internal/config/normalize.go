package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStore(); err != nil {
		return err
	}
	c.normalizeMatching()
	c.normalizeEmbedding()
	c.normalizeAPI()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStore() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = defaultStoreDriver
	}
	if strings.TrimSpace(c.Store.SQLitePath) != "" {
		expanded, err := expandPath(c.Store.SQLitePath)
		if err != nil {
			return fmt.Errorf("store.sqlite_path: %w", err)
		}
		c.Store.SQLitePath = expanded
	}
	c.Store.PostgresDSN = strings.TrimSpace(c.Store.PostgresDSN)
	if c.Store.PostgresDSN == "" {
		if value, ok := os.LookupEnv("BOQMATCH_POSTGRES_DSN"); ok {
			c.Store.PostgresDSN = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeMatching() {
	c.Matching.DefaultMethod = strings.ToLower(strings.TrimSpace(c.Matching.DefaultMethod))
	if c.Matching.DefaultMethod == "" {
		c.Matching.DefaultMethod = defaultMethod
	}
	if c.Matching.TopK <= 0 {
		c.Matching.TopK = defaultTopK
	}
}

func (c *Config) normalizeEmbedding() {
	c.Embedding.Provider = strings.ToLower(strings.TrimSpace(c.Embedding.Provider))
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = defaultEmbeddingProvider
	}
	c.Embedding.APIKey = strings.TrimSpace(c.Embedding.APIKey)
	if c.Embedding.APIKey == "" {
		if value, ok := os.LookupEnv("BOQMATCH_EMBEDDING_API_KEY"); ok {
			c.Embedding.APIKey = strings.TrimSpace(value)
		}
	}
	c.Embedding.BaseURL = strings.TrimRight(strings.TrimSpace(c.Embedding.BaseURL), "/")
	if c.Embedding.BaseURL == "" {
		switch c.Embedding.Provider {
		case "cohere":
			c.Embedding.BaseURL = defaultCohereBaseURL
		default:
			c.Embedding.BaseURL = defaultOpenAIBaseURL
		}
	}
	c.Embedding.Model = strings.TrimSpace(c.Embedding.Model)
	if c.Embedding.Model == "" {
		switch c.Embedding.Provider {
		case "cohere":
			c.Embedding.Model = defaultCohereModel
		default:
			c.Embedding.Model = defaultOpenAIModel
		}
	}
	if c.Embedding.TimeoutSeconds <= 0 {
		c.Embedding.TimeoutSeconds = defaultEmbeddingTimeout
	}
	if c.Embedding.InputsPerRequest <= 0 {
		c.Embedding.InputsPerRequest = defaultInputsPerRequest
	}
	if c.Embedding.Shortlist <= 0 {
		c.Embedding.Shortlist = defaultShortlist
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("BOQMATCH_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
	if c.API.MaxBodyMB <= 0 {
		c.API.MaxBodyMB = defaultAPIMaxBodyMB
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("BOQMATCH_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
