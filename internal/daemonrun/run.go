package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"boqmatch/internal/api"
	"boqmatch/internal/boq"
	"boqmatch/internal/config"
	"boqmatch/internal/daemon"
	"boqmatch/internal/logging"
	"boqmatch/internal/preflight"
)

const logHubCapacity = 4096

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts boqmatchd and blocks until SIGINT, SIGTERM or cmdCtx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logHub := logging.NewStreamHub(logHubCapacity)
	logger, err := newLogger(cfg, opts, logHub)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String(logging.FieldSessionID, uuid.NewString()))

	for _, result := range preflight.RunAll(signalCtx, cfg) {
		if result.Passed {
			logger.Debug("preflight check passed", logging.String("check", result.Name), logging.String("detail", result.Detail))
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.Alert("preflight"),
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "matching requests that depend on it will fail"),
		)
	}

	stack, err := NewStack(signalCtx, cfg, StackOptions{Logger: logger})
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}
	defer stack.Close()
	logConfigSnapshot(logger, cfg, stack)

	routerOpts := api.Options{
		Jobs:                stack.Coordinator,
		Catalog:             stack.Store,
		Matcher:             stack.Dispatcher,
		Health:              stack.Store.Ping,
		StoreName:           stack.Store.Driver(),
		LogHub:              logHub,
		Logger:              logger,
		Token:               cfg.API.Token,
		MaxBodyBytes:        int64(cfg.API.MaxBodyMB) << 20,
		DefaultMethod:       boq.Method(cfg.Matching.DefaultMethod),
		ConfidenceThreshold: cfg.Matching.ConfidenceThreshold,
		ReviewThreshold:     cfg.Metrics.LowConfidenceThreshold,
		DefaultTopK:         cfg.Matching.TopK,
	}
	if cfg.API.AccessLog {
		routerOpts.AccessLog = api.NewAccessLogger(logging.RotatingWriter(cfg.AccessLogPath(), rotation(cfg)))
	}

	d, err := daemon.New(cfg, stack.Coordinator, api.NewRouter(routerOpts), logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the bind address and that no other boqmatchd holds the lock"),
		)
		return err
	}
	defer d.Stop()
	go stack.WarmEmbeddings(signalCtx, cfg, logging.NewComponentLogger(logger, "embedding"))

	if cfg.API.Token == "" && !isLoopback(cfg.API.Bind) {
		logging.WarnWithContext(logger, "api token not set on a non-loopback bind", "api_unauthenticated",
			logging.String("bind", cfg.API.Bind),
			logging.String(logging.FieldErrorHint, "set api.token or BOQMATCH_API_TOKEN"),
			logging.String(logging.FieldImpact, "anyone who can reach the port can submit jobs"),
		)
	}

	<-signalCtx.Done()
	logger.Info("boqmatch daemon shutting down")
	return nil
}

func newLogger(cfg *config.Config, opts Options, hub *logging.StreamHub) (*slog.Logger, error) {
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	return logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
		FilePath:    cfg.LogPath(),
		Rotation:    rotation(cfg),
		Development: opts.Development,
		Stream:      hub,
	})
}

func rotation(cfg *config.Config) logging.Rotation {
	return logging.Rotation{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config, stack *Stack) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("store_driver", stack.Store.Driver()),
		logging.String("store_location", stack.Store.Location()),
		logging.String("default_method", cfg.Matching.DefaultMethod),
		logging.Float64("confidence_threshold", cfg.Matching.ConfidenceThreshold),
		logging.Bool("embedding_enabled", stack.Embedding != nil),
		logging.String("embedding_provider", cfg.Embedding.Provider),
		logging.Int("batch_initial", cfg.Batching.InitialSize),
		logging.Int("concurrency", cfg.Batching.Concurrency),
		logging.Bool("api_token_present", cfg.API.Token != ""),
	)
}

func isLoopback(bind string) bool {
	host := bind
	if i := strings.LastIndex(bind, ":"); i >= 0 {
		host = bind[:i]
	}
	host = strings.Trim(host, "[]")
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}
