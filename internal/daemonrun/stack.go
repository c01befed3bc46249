package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"boqmatch/internal/batching"
	"boqmatch/internal/boq"
	"boqmatch/internal/config"
	"boqmatch/internal/jobs"
	"boqmatch/internal/logging"
	"boqmatch/internal/matching"
	"boqmatch/internal/metrics"
	"boqmatch/internal/notifications"
	"boqmatch/internal/provider"
	"boqmatch/internal/retry"
	"boqmatch/internal/scoring"
	"boqmatch/internal/services"
	"boqmatch/internal/services/embedding"
	"boqmatch/internal/store"
)

// Stack is the matching engine assembled from configuration: store,
// strategies and the job coordinator.
type Stack struct {
	Store       *store.Store
	Selector    *matching.Selector
	Dispatcher  *provider.Dispatcher
	Coordinator *jobs.Coordinator
	Metrics     *metrics.Recorder
	// Embedding is nil when no embedding API key is configured.
	Embedding *provider.Embedding
}

// StackOptions overrides pieces of the stack, mainly for tests.
type StackOptions struct {
	Logger  *slog.Logger
	Sleeper func(time.Duration)
	// Embedder replaces the HTTP embedding client.
	Embedder provider.Embedder
}

// NewStack opens the configured store and wires every component on top of
// it. The caller owns the returned stack and must Close it.
func NewStack(ctx context.Context, cfg *config.Config, opts StackOptions) (*Stack, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	engine := scoring.NewEngine(ScoringWeights(cfg.Scoring))
	selector := matching.NewSelector(engine, matching.Options{
		ConfidenceThreshold:  cfg.Matching.ConfidenceThreshold,
		MinDescriptionLength: cfg.Matching.MinDescriptionLength,
		TopK:                 cfg.Matching.TopK,
	})
	dispatcher := provider.NewDispatcher(provider.NewLocal(selector), st.ActiveCatalog)

	s := &Stack{Store: st, Selector: selector, Dispatcher: dispatcher}

	embedder := opts.Embedder
	if embedder == nil && cfg.Embedding.APIKey != "" {
		embedder = embedding.NewClient(embedding.Config{
			Provider:          cfg.Embedding.Provider,
			APIKey:            cfg.Embedding.APIKey,
			BaseURL:           cfg.Embedding.BaseURL,
			Model:             cfg.Embedding.Model,
			TimeoutSeconds:    cfg.Embedding.TimeoutSeconds,
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
			Burst:             cfg.Embedding.Burst,
			InputsPerRequest:  cfg.Embedding.InputsPerRequest,
		})
	}
	if embedder != nil {
		cache, err := provider.NewVectorCache(cfg.Embedding.CacheSize)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("create vector cache: %w", err)
		}
		method := boq.Method(cfg.Embedding.Provider)
		s.Embedding = provider.NewEmbedding(method, embedder, selector, cache, provider.EmbeddingOptions{
			BlendWeight: cfg.Embedding.BlendWeight,
			Shortlist:   cfg.Embedding.Shortlist,
			Policy:      RetryPolicy(cfg.Retry.Read),
			Logger:      logging.NewComponentLogger(logger, "embedding"),
			Sleeper:     opts.Sleeper,
		})
		dispatcher.Register(method, s.Embedding)
	}

	recorder, err := metrics.NewRecorder(metrics.Config{
		LogCapacity:            cfg.Metrics.LogCapacity,
		ReviewCapacity:         cfg.Metrics.ReviewCapacity,
		FinishedJobs:           cfg.Metrics.FinishedJobs,
		LowConfidenceThreshold: cfg.Metrics.LowConfidenceThreshold,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create metrics recorder: %w", err)
	}
	s.Metrics = recorder

	s.Coordinator = jobs.New(st, dispatcher, batching.New(BatchingConfig(cfg.Batching)), recorder, jobs.Options{
		DefaultMethod:   boq.Method(cfg.Matching.DefaultMethod),
		Concurrency:     cfg.Batching.Concurrency,
		InterBatchDelay: cfg.Batching.InterBatchDelay(),
		ReadPolicy:      RetryPolicy(cfg.Retry.Read),
		WritePolicy:     RetryPolicy(cfg.Retry.Write),
		Logger:          logger,
		Sleeper:         opts.Sleeper,
		Notifier:        notifications.NewService(cfg.Notifications),
	})
	return s, nil
}

// WarmEmbeddings embeds the active catalog ahead of the first remote match
// when a remote method is the default. An empty catalog is not an error.
func (s *Stack) WarmEmbeddings(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	if s.Embedding == nil || !boq.Method(cfg.Matching.DefaultMethod).IsEmbedding() {
		return
	}
	catalog, err := s.Store.ActiveCatalog(ctx)
	if err == nil {
		var calls int
		calls, err = s.Embedding.Warm(ctx, catalog)
		if err == nil {
			logger.Info("catalog embeddings warmed",
				logging.String(logging.FieldEventType, "embedding_warm_completed"),
				logging.Int("entries", catalog.Len()),
				logging.Int("api_calls", calls),
			)
			return
		}
	}
	if errors.Is(err, services.ErrEmptyCatalog) || errors.Is(err, context.Canceled) {
		return
	}
	logging.WarnWithContext(logger, "catalog embedding warm-up failed", "embedding_warm_failed",
		logging.Error(err),
		logging.String(logging.FieldImpact, "the first remote match embeds the catalog on demand"),
	)
}

// Close stops running jobs and releases the store.
func (s *Stack) Close() error {
	if s == nil {
		return nil
	}
	if s.Coordinator != nil {
		s.Coordinator.Stop()
	}
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}

// ScoringWeights converts the configured point values.
func ScoringWeights(c config.Scoring) scoring.Weights {
	return scoring.Weights{
		ExactPoints:        c.ExactPoints,
		PrefixPoints:       c.PrefixPoints,
		WordBoundaryPoints: c.WordBoundaryPoints,
		SubstringPoints:    c.SubstringPoints,
		OverlapPoints:      c.OverlapPoints,
		OverlapFloor:       c.OverlapFloor,
		CategoryPoints:     c.CategoryPoints,
		MetadataPoints:     c.MetadataPoints,
		UnitBonus:          c.UnitBonus,
		ContextBonus:       c.ContextBonus,
		CategoryBonus:      c.CategoryBonus,
		CodeBonus:          c.CodeBonus,
		MaxScore:           c.MaxScore,
	}
}

// RetryPolicy converts a configured policy.
func RetryPolicy(p config.RetryPolicy) retry.Policy {
	return retry.Policy{
		MaxAttempts:   p.MaxAttempts,
		InitialDelay:  p.InitialDelay(),
		MaxDelay:      p.MaxDelay(),
		BackoffFactor: p.BackoffFactor,
	}
}

// BatchingConfig converts the configured batch sizing.
func BatchingConfig(b config.Batching) batching.Config {
	return batching.Config{
		InitialSize:   b.InitialSize,
		MinSize:       b.MinSize,
		MaxSize:       b.MaxSize,
		Step:          b.Step,
		WindowSize:    b.WindowSize,
		MinSamples:    b.MinSamples,
		TargetPerItem: b.TargetPerItem(),
		Threshold:     b.Threshold,
	}
}
