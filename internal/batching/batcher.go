// Package batching sizes job waves from recent throughput.
//
// A Batcher keeps a small rolling window of batch samples per (job, method).
// Once enough samples exist it compares the average time per item with a
// target and grows or shrinks the batch by a fixed step, always staying
// within the configured bounds.
package batching

import (
	"sync"
	"time"

	"boqmatch/internal/boq"
)

// Config bounds and tunes the batcher.
type Config struct {
	InitialSize   int
	MinSize       int
	MaxSize       int
	Step          int
	WindowSize    int
	MinSamples    int
	TargetPerItem time.Duration
	// Threshold is the relative deviation from TargetPerItem that triggers an
	// adjustment, e.g. 0.2 for ±20%.
	Threshold float64
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		InitialSize:   10,
		MinSize:       5,
		MaxSize:       50,
		Step:          5,
		WindowSize:    10,
		MinSamples:    3,
		TargetPerItem: 200 * time.Millisecond,
		Threshold:     0.2,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MinSize <= 0 {
		c.MinSize = d.MinSize
	}
	if c.MaxSize < c.MinSize {
		c.MaxSize = max(d.MaxSize, c.MinSize)
	}
	c.InitialSize = clamp(c.InitialSize, c.MinSize, c.MaxSize)
	if c.Step <= 0 {
		c.Step = d.Step
	}
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	c.MinSamples = min(c.MinSamples, c.WindowSize)
	if c.TargetPerItem <= 0 {
		c.TargetPerItem = d.TargetPerItem
	}
	if c.Threshold < 0 {
		c.Threshold = d.Threshold
	}
	return c
}

// Sample is one batch performance measurement.
type Sample struct {
	BatchSize      int           `json:"batch_size"`
	Duration       time.Duration `json:"duration"`
	ItemsProcessed int           `json:"items_processed"`
	AvgPerItem     time.Duration `json:"avg_per_item"`
	RecordedAt     time.Time     `json:"recorded_at"`
}

type key struct {
	jobID  string
	method boq.Method
}

type window struct {
	samples []Sample
	size    int
	// recorded counts every sample ever appended; decided is the value of
	// recorded at the last size decision.
	recorded uint64
	decided  uint64
}

// Batcher is safe for concurrent use by many jobs.
type Batcher struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows map[key]*window
}

// Option customizes a Batcher.
type Option func(*Batcher)

// WithClock overrides the sample timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Batcher) {
		if now != nil {
			b.now = now
		}
	}
}

// New returns a Batcher. Out-of-range settings are corrected so the result is
// always usable.
func New(cfg Config, opts ...Option) *Batcher {
	b := &Batcher{
		cfg:     cfg.normalized(),
		now:     time.Now,
		windows: make(map[key]*window),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Config returns the effective configuration.
func (b *Batcher) Config() Config { return b.cfg }

// OptimalBatchSize returns the size for the next wave of jobID using method.
// The size changes at most once per newly recorded sample.
func (b *Batcher) OptimalBatchSize(jobID string, method boq.Method) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	w := b.windowLocked(jobID, method)
	if len(w.samples) < b.cfg.MinSamples || w.recorded == w.decided {
		return w.size
	}
	w.decided = w.recorded

	var total time.Duration
	var items int
	for _, s := range w.samples {
		total += s.Duration
		items += s.ItemsProcessed
	}
	if items == 0 {
		return w.size
	}
	avg := total / time.Duration(items)
	target := float64(b.cfg.TargetPerItem)
	switch {
	case float64(avg) < target*(1-b.cfg.Threshold):
		w.size = clamp(w.size+b.cfg.Step, b.cfg.MinSize, b.cfg.MaxSize)
	case float64(avg) > target*(1+b.cfg.Threshold):
		w.size = clamp(w.size-b.cfg.Step, b.cfg.MinSize, b.cfg.MaxSize)
	}
	return w.size
}

// RecordBatchPerformance appends a sample, evicting the oldest one beyond the
// window capacity. Batches that processed nothing are ignored.
func (b *Batcher) RecordBatchPerformance(jobID string, method boq.Method, batchSize int, duration time.Duration, itemsProcessed int) {
	if itemsProcessed <= 0 || duration < 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	w := b.windowLocked(jobID, method)
	w.samples = append(w.samples, Sample{
		BatchSize:      batchSize,
		Duration:       duration,
		ItemsProcessed: itemsProcessed,
		AvgPerItem:     duration / time.Duration(itemsProcessed),
		RecordedAt:     b.now(),
	})
	if over := len(w.samples) - b.cfg.WindowSize; over > 0 {
		w.samples = append(w.samples[:0], w.samples[over:]...)
	}
	w.recorded++
}

// Samples returns a copy of the current window for jobID and method.
func (b *Batcher) Samples(jobID string, method boq.Method) []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.windows[key{jobID, method}]
	if !ok {
		return nil
	}
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Reset drops every window of jobID. Called when the job reaches a terminal
// state.
func (b *Batcher) Reset(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.windows {
		if k.jobID == jobID {
			delete(b.windows, k)
		}
	}
}

// Tracked returns the number of live windows.
func (b *Batcher) Tracked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.windows)
}

func (b *Batcher) windowLocked(jobID string, method boq.Method) *window {
	k := key{jobID, method}
	w, ok := b.windows[k]
	if !ok {
		w = &window{size: b.cfg.InitialSize, samples: make([]Sample, 0, b.cfg.WindowSize)}
		b.windows[k] = w
	}
	return w
}

func clamp(v, lo, hi int) int {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}
