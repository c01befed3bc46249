package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"boqmatch/internal/api"
	"boqmatch/internal/config"
)

type globalFlags struct {
	config string
	api    string
	token  string
	json   bool
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.flags.config))
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) jsonOutput() bool {
	return c.flags.json
}

func (c *commandContext) apiAddress() string {
	if addr := strings.TrimSpace(c.flags.api); addr != "" {
		return addr
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.API.Bind
	}
	return config.Default().API.Bind
}

func (c *commandContext) client() *api.Client {
	token := strings.TrimSpace(c.flags.token)
	if token == "" {
		if cfg := c.configValue(); cfg != nil {
			token = cfg.API.Token
		}
	}
	return api.NewClient(c.apiAddress(), token)
}

// wrapDaemonError turns connection failures into an actionable hint.
func (c *commandContext) wrapDaemonError(err error) error {
	if err == nil {
		return nil
	}
	var opErr *net.OpError
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon at %s: connection refused; start it with `boqmatch daemon start`", c.apiAddress())
	case errors.As(err, &opErr):
		return fmt.Errorf("connect to daemon at %s: %w", c.apiAddress(), err)
	default:
		return err
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
