package config

const (
	defaultConfigPath = "~/.config/boqmatch/config.toml"
	defaultDataDir    = "~/.local/share/boqmatch"
	defaultLogDir     = "~/.local/share/boqmatch/logs"

	defaultStoreDriver        = "sqlite"
	defaultPostgresMaxConns   = 10
	defaultStoreDialTimeout   = 5
	defaultConfidenceFloor    = 0.7
	defaultMinDescriptionLen  = 3
	defaultMethod             = "local"
	defaultTopK               = 5
	defaultEmbeddingProvider  = "openai"
	defaultOpenAIBaseURL      = "https://api.openai.com/v1"
	defaultCohereBaseURL      = "https://api.cohere.com/v1"
	defaultOpenAIModel        = "text-embedding-3-small"
	defaultCohereModel        = "embed-english-v3.0"
	defaultEmbeddingTimeout   = 30
	defaultEmbeddingRPS       = 5
	defaultEmbeddingBurst     = 5
	defaultInputsPerRequest   = 64
	defaultEmbeddingCacheSize = 20000
	defaultBlendWeight        = 0.6
	defaultShortlist          = 10

	defaultBatchInitial     = 10
	defaultBatchMin         = 5
	defaultBatchMax         = 50
	defaultBatchStep        = 5
	defaultBatchWindow      = 10
	defaultBatchMinSamples  = 3
	defaultBatchTargetMs    = 200
	defaultBatchThreshold   = 0.2
	defaultInterBatchMs     = 100
	defaultBatchConcurrency = 8

	defaultMetricsLogCapacity    = 1000
	defaultLowConfidence         = 0.5
	defaultMetricsReviewCapacity = 50
	defaultMetricsFinishedJobs   = 64

	defaultNtfyTimeout = 10

	defaultAPIBind      = "127.0.0.1:7690"
	defaultAPIMaxBodyMB = 32

	defaultLogFormat     = "console"
	defaultLogLevel      = "info"
	defaultLogMaxSizeMB  = 50
	defaultLogMaxBackups = 5
	defaultLogMaxAgeDays = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Store: Store{
			Driver:             defaultStoreDriver,
			MaxConns:           defaultPostgresMaxConns,
			DialTimeoutSeconds: defaultStoreDialTimeout,
		},
		Matching: Matching{
			ConfidenceThreshold:  defaultConfidenceFloor,
			MinDescriptionLength: defaultMinDescriptionLen,
			DefaultMethod:        defaultMethod,
			TopK:                 defaultTopK,
		},
		Scoring: DefaultScoring(),
		Embedding: Embedding{
			Provider:          defaultEmbeddingProvider,
			TimeoutSeconds:    defaultEmbeddingTimeout,
			RequestsPerSecond: defaultEmbeddingRPS,
			Burst:             defaultEmbeddingBurst,
			InputsPerRequest:  defaultInputsPerRequest,
			CacheSize:         defaultEmbeddingCacheSize,
			BlendWeight:       defaultBlendWeight,
			Shortlist:         defaultShortlist,
		},
		Batching: Batching{
			InitialSize:           defaultBatchInitial,
			MinSize:               defaultBatchMin,
			MaxSize:               defaultBatchMax,
			Step:                  defaultBatchStep,
			WindowSize:            defaultBatchWindow,
			MinSamples:            defaultBatchMinSamples,
			TargetMillisPerItem:   defaultBatchTargetMs,
			Threshold:             defaultBatchThreshold,
			InterBatchDelayMillis: defaultInterBatchMs,
			Concurrency:           defaultBatchConcurrency,
		},
		Retry: Retry{
			Read: RetryPolicy{
				MaxAttempts:        5,
				InitialDelayMillis: 500,
				MaxDelayMillis:     10000,
				BackoffFactor:      2,
			},
			Write: RetryPolicy{
				MaxAttempts:        2,
				InitialDelayMillis: 500,
				MaxDelayMillis:     5000,
				BackoffFactor:      2,
			},
		},
		Metrics: Metrics{
			LogCapacity:            defaultMetricsLogCapacity,
			LowConfidenceThreshold: defaultLowConfidence,
			ReviewCapacity:         defaultMetricsReviewCapacity,
			FinishedJobs:           defaultMetricsFinishedJobs,
		},
		API: API{
			Bind:      defaultAPIBind,
			MaxBodyMB: defaultAPIMaxBodyMB,
			AccessLog: true,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeout,
			NotifyOnCompleted:     true,
		},
		Logging: Logging{
			Format:     defaultLogFormat,
			Level:      defaultLogLevel,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
			Compress:   true,
		},
	}
}

// DefaultScoring returns the tuned lexical point values. Exact description
// plus a compatible unit reaches 0.92 confidence; context and code bonuses
// push past the ceiling and are clipped.
func DefaultScoring() Scoring {
	return Scoring{
		ExactPoints:        100,
		PrefixPoints:       85,
		WordBoundaryPoints: 70,
		SubstringPoints:    55,
		OverlapPoints:      50,
		OverlapFloor:       0.6,
		CategoryPoints:     30,
		MetadataPoints:     20,
		UnitBonus:          10,
		ContextBonus:       5,
		CategoryBonus:      3,
		CodeBonus:          2,
		MaxScore:           120,
	}
}
