package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"boqmatch/internal/batching"
	"boqmatch/internal/boq"
	"boqmatch/internal/config"
	"boqmatch/internal/logging"
	"boqmatch/internal/metrics"
	"boqmatch/internal/notifications"
	"boqmatch/internal/provider"
	"boqmatch/internal/retry"
	"boqmatch/internal/services"
	"boqmatch/internal/store"
)

// Store is the persistence surface the coordinator needs.
type Store interface {
	ActiveCatalog(ctx context.Context) (*boq.Catalog, error)
	CreateJob(ctx context.Context, in store.NewJob) (*store.Job, error)
	GetJob(ctx context.Context, id string) (*store.Job, error)
	ListJobs(ctx context.Context, statuses ...store.Status) ([]*store.Job, error)
	ResumableJobs(ctx context.Context) ([]*store.Job, error)
	JobItems(ctx context.Context, jobID string) ([]boq.LineItem, error)
	UpdateJobStatus(ctx context.Context, id string, next store.Status, message string) error
	UpdateJobProgress(ctx context.Context, id string, processed, matched int) error
	RecountMatches(ctx context.Context, id string) error
	UpsertMatchResults(ctx context.Context, results []boq.MatchResult) error
	OverwriteMatchResult(ctx context.Context, result boq.MatchResult) error
	MatchResults(ctx context.Context, jobID string) ([]boq.MatchResult, error)
	MatchResult(ctx context.Context, jobID string, rowNumber int) (boq.MatchResult, error)
	SetManualMatch(ctx context.Context, jobID string, rowNumber int, entryID string) (boq.MatchResult, error)
}

// Options tunes a Coordinator. Zero values fall back to defaults.
type Options struct {
	DefaultMethod   boq.Method
	Concurrency     int
	InterBatchDelay time.Duration
	ReadPolicy      retry.Policy
	WritePolicy     retry.Policy
	Logger          *slog.Logger
	// Sleeper replaces real waits for retry backoff and inter-batch delays.
	Sleeper func(time.Duration)
	Clock   func() time.Time
	// Notifier is told about every job that reaches a terminal state.
	Notifier notifications.Service
}

const defaultConcurrency = 8

// Coordinator owns job lifecycles. Create one per process with New.
type Coordinator struct {
	store   Store
	matcher provider.Matcher
	batcher *batching.Batcher
	metrics *metrics.Recorder
	logger  *slog.Logger

	defaultMethod   boq.Method
	concurrency     int
	interBatchDelay time.Duration
	readPolicy      retry.Policy
	writePolicy     retry.Policy
	sleeper         func(time.Duration)
	now             func() time.Time
	notifier        notifications.Service

	mu      sync.Mutex
	active  map[string]*run
	stopped bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	subMu sync.Mutex
	subs  map[string]map[chan ProgressEvent]struct{}
}

type run struct {
	cancelRequested atomic.Bool
}

// New constructs a Coordinator.
func New(st Store, matcher provider.Matcher, batcher *batching.Batcher, recorder *metrics.Recorder, opts Options) *Coordinator {
	if opts.DefaultMethod == "" {
		opts.DefaultMethod = boq.MethodLocal
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.ReadPolicy.MaxAttempts <= 0 {
		opts.ReadPolicy = retry.ReadPolicy()
	}
	if opts.WritePolicy.MaxAttempts <= 0 {
		opts.WritePolicy = retry.WritePolicy()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = notifications.NewService(config.Notifications{})
	}
	if batcher == nil {
		batcher = batching.New(batching.DefaultConfig())
	}
	if recorder == nil {
		recorder, _ = metrics.NewRecorder(metrics.DefaultConfig())
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:           st,
		matcher:         matcher,
		batcher:         batcher,
		metrics:         recorder,
		logger:          logging.NewComponentLogger(opts.Logger, "jobs"),
		defaultMethod:   opts.DefaultMethod,
		concurrency:     opts.Concurrency,
		interBatchDelay: opts.InterBatchDelay,
		readPolicy:      opts.ReadPolicy,
		writePolicy:     opts.WritePolicy,
		sleeper:         opts.Sleeper,
		now:             opts.Clock,
		notifier:        opts.Notifier,
		active:          make(map[string]*run),
		baseCtx:         baseCtx,
		cancel:          cancel,
		subs:            make(map[string]map[chan ProgressEvent]struct{}),
	}
}

// Metrics exposes the recorder backing job statistics.
func (c *Coordinator) Metrics() *metrics.Recorder {
	return c.metrics
}

// SubmitRequest is the input to Submit.
type SubmitRequest struct {
	Name   string
	Method boq.Method
	Items  []boq.LineItem
}

// Submit validates and persists a job, then runs it in the background.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*store.Job, error) {
	method := req.Method
	if method == "" {
		method = c.defaultMethod
	}
	if _, err := boq.ParseMethod(string(method)); err != nil {
		return nil, services.NewValidationError("method", err.Error())
	}
	if len(req.Items) == 0 {
		return nil, services.NewValidationError("items", "a job needs at least one line item")
	}
	if supporter, ok := c.matcher.(interface{ Supports(boq.Method) bool }); ok && !supporter.Supports(method) {
		return nil, services.NewValidationError("method", fmt.Sprintf("method %q is not configured", method))
	}

	job, err := retry.Value(ctx, c.writePolicy, func(ctx context.Context) (*store.Job, error) {
		return c.store.CreateJob(ctx, store.NewJob{Name: req.Name, Method: method, Items: req.Items})
	}, c.retryOptions("create job")...)
	if err != nil {
		return nil, err
	}
	c.logger.Info("job submitted",
		logging.JobID(job.ID),
		logging.Method(string(job.Method)),
		logging.Int("item_count", job.ItemCount),
		logging.String(logging.FieldEventType, "job_submitted"),
	)
	if err := c.start(job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

// Run drives one job to a terminal state, or until ctx is cancelled, on the
// calling goroutine. It returns the job-fatal error, if any.
func (c *Coordinator) Run(ctx context.Context, jobID string) error {
	r, err := c.register(jobID, false)
	if err != nil {
		return err
	}
	defer c.unregister(jobID)
	return c.execute(ctx, jobID, r)
}

// Cancel requests cooperative cancellation. A running job stops before its
// next wave; a job that has not started is cancelled immediately.
func (c *Coordinator) Cancel(ctx context.Context, jobID string) error {
	c.mu.Lock()
	r, running := c.active[jobID]
	c.mu.Unlock()
	if running {
		r.cancelRequested.Store(true)
		c.logger.Info("job cancellation requested",
			logging.JobID(jobID),
			logging.String(logging.FieldEventType, "job_cancel_requested"),
		)
		return nil
	}

	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return services.NewValidationError("job", fmt.Sprintf("job %s is already %s", jobID, job.Status))
	}
	if err := c.store.UpdateJobStatus(ctx, jobID, store.StatusCancelled, ""); err != nil {
		return err
	}
	c.teardown(jobID)
	c.publish(ProgressEvent{JobID: jobID, Status: store.StatusCancelled, Processed: job.ProcessedCount, Matched: job.MatchedCount, Total: job.ItemCount, Progress: job.Progress})
	return nil
}

// Status returns the persisted job.
func (c *Coordinator) Status(ctx context.Context, jobID string) (*store.Job, error) {
	return c.store.GetJob(ctx, jobID)
}

// Running reports whether jobID is being processed by this coordinator.
func (c *Coordinator) Running(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[jobID]
	return ok
}

// ActiveJobs returns the number of jobs this coordinator is processing.
func (c *Coordinator) ActiveJobs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// ResumeInterrupted restarts jobs a previous process left pending or
// matching. It returns the number of jobs started.
func (c *Coordinator) ResumeInterrupted(ctx context.Context) (int, error) {
	jobs, err := retry.Value(ctx, c.readPolicy, func(ctx context.Context) ([]*store.Job, error) {
		return c.store.ResumableJobs(ctx)
	}, c.retryOptions("list resumable jobs")...)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, job := range jobs {
		if c.Running(job.ID) {
			continue
		}
		if err := c.start(job.ID); err != nil {
			return started, err
		}
		started++
		c.logger.Info("job resumed",
			logging.JobID(job.ID),
			logging.String("status", string(job.Status)),
			logging.Int("remaining", job.Remaining()),
			logging.String(logging.FieldEventType, "job_resumed"),
		)
	}
	return started, nil
}

// Wait blocks until every background job has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Stop interrupts background jobs and waits for them. Interrupted jobs keep
// their matching status so they can be resumed.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

var errStopped = errors.New("job coordinator stopped")

func (c *Coordinator) register(jobID string, background bool) (*run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil, errStopped
	}
	if _, ok := c.active[jobID]; ok {
		return nil, fmt.Errorf("job %s is already running", jobID)
	}
	r := &run{}
	c.active[jobID] = r
	if background {
		c.wg.Add(1)
	}
	return r, nil
}

func (c *Coordinator) unregister(jobID string) {
	c.mu.Lock()
	delete(c.active, jobID)
	c.mu.Unlock()
}

func (c *Coordinator) start(jobID string) error {
	r, err := c.register(jobID, true)
	if err != nil {
		return err
	}
	go func() {
		defer c.wg.Done()
		defer c.unregister(jobID)
		if err := c.execute(c.baseCtx, jobID, r); err != nil && !errors.Is(err, context.Canceled) {
			logging.ErrorWithContext(c.logger, "job failed", "job_failed",
				logging.JobID(jobID),
				logging.Error(err),
			)
		}
	}()
	return nil
}

func (c *Coordinator) retryOptions(op string) []retry.Option {
	opts := []retry.Option{retry.WithOperation(op), retry.WithLogger(c.logger)}
	if c.sleeper != nil {
		opts = append(opts, retry.WithSleeper(c.sleeper))
	}
	return opts
}

func (c *Coordinator) teardown(jobID string) {
	c.batcher.Reset(jobID)
	c.metrics.Finalize(jobID)
}

func (c *Coordinator) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(d)
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
