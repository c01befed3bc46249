package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"boqmatch/internal/boq"
	"boqmatch/internal/logging"
	"boqmatch/internal/metrics"
	"boqmatch/internal/notifications"
	"boqmatch/internal/provider"
	"boqmatch/internal/retry"
	"boqmatch/internal/services"
	"boqmatch/internal/store"
)

const emptyCatalogNote = "empty catalog: no active catalog entries"

// progressState is the running tally of one job.
type progressState struct {
	job       *store.Job
	processed int
	matched   int
	wave      int
	sampler   *logging.ProgressSampler
}

func (p *progressState) event(status store.Status, waveSize int, message string) ProgressEvent {
	return ProgressEvent{
		JobID:     p.job.ID,
		Status:    status,
		Processed: p.processed,
		Matched:   p.matched,
		Total:     p.job.ItemCount,
		Progress:  percent(p.processed, p.job.ItemCount),
		Wave:      p.wave,
		WaveSize:  waveSize,
		Error:     message,
	}
}

func (c *Coordinator) execute(ctx context.Context, jobID string, r *run) error {
	ctx = services.WithJobID(ctx, jobID)
	logger := logging.WithContext(ctx, c.logger)

	job, err := retry.Value(ctx, c.readPolicy, func(ctx context.Context) (*store.Job, error) {
		return c.store.GetJob(ctx, jobID)
	}, c.retryOptions("load job")...)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}
	ctx = services.WithMethod(ctx, string(job.Method))
	logger = logger.With(logging.Method(string(job.Method)))

	items, err := retry.Value(ctx, c.readPolicy, func(ctx context.Context) ([]boq.LineItem, error) {
		return c.store.JobItems(ctx, jobID)
	}, c.retryOptions("load job items")...)
	if err != nil {
		return c.interruptedOr(ctx, job, err, "job items unavailable")
	}
	if len(items) == 0 {
		return c.fail(ctx, job, services.NewValidationError("items", "job has no line items"), "job has no line items")
	}

	catalog, err := retry.Value(ctx, c.readPolicy, func(ctx context.Context) (*boq.Catalog, error) {
		return c.store.ActiveCatalog(ctx)
	}, c.retryOptions("load active catalog")...)
	if err != nil {
		return c.interruptedOr(ctx, job, err, "catalog unavailable")
	}

	existing, err := retry.Value(ctx, c.readPolicy, func(ctx context.Context) ([]boq.MatchResult, error) {
		return c.store.MatchResults(ctx, jobID)
	}, c.retryOptions("load existing results")...)
	if err != nil {
		return c.interruptedOr(ctx, job, err, "existing results unavailable")
	}

	state := &progressState{job: job, sampler: logging.NewProgressSampler(10)}
	done := make(map[int]struct{}, len(existing))
	for _, result := range existing {
		done[result.RowNumber] = struct{}{}
		if result.Matched() {
			state.matched++
		}
	}
	state.processed = len(done)
	pending := make([]boq.LineItem, 0, len(items)-len(done))
	for _, item := range items {
		if _, ok := done[item.RowNumber]; !ok {
			pending = append(pending, item)
		}
	}
	if len(done) > 0 {
		logger.Info("resuming job",
			logging.Int("already_processed", len(done)),
			logging.Int("remaining", len(pending)),
			logging.String(logging.FieldEventType, "job_resume"),
		)
	}

	if catalog.Len() == 0 {
		return c.failEmptyCatalog(ctx, state, pending)
	}

	for offset := 0; offset < len(pending); {
		if r.cancelRequested.Load() {
			return c.finish(ctx, state, store.StatusCancelled, "")
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		size := c.batcher.OptimalBatchSize(jobID, job.Method)
		wave := pending[offset:min(offset+size, len(pending))]
		if state.wave == 0 {
			if err := c.transition(ctx, job.ID, store.StatusMatching, ""); err != nil {
				return c.interruptedOr(ctx, job, err, "could not start job")
			}
			logger.Info("job matching started",
				logging.Int("item_count", job.ItemCount),
				logging.Int("remaining", len(pending)),
				logging.Int("catalog_entries", catalog.Len()),
				logging.String("catalog_version", catalog.Version),
				logging.String(logging.FieldEventType, "job_started"),
			)
		}
		state.wave++

		results, elapsed := c.dispatch(ctx, job, catalog, wave)
		if err := ctx.Err(); err != nil {
			// Shutdown mid-wave: results may hold context errors, so the
			// rows stay unprocessed and are matched again on resume.
			return err
		}
		c.batcher.RecordBatchPerformance(jobID, job.Method, len(wave), elapsed, len(results))
		c.metrics.RecordBatch(jobID, len(wave), elapsed)

		if err := retry.Do(ctx, c.writePolicy, func(ctx context.Context) error {
			return c.store.UpsertMatchResults(ctx, results)
		}, c.retryOptions("persist results")...); err != nil {
			return c.interruptedOr(ctx, job, err, "result persistence failed")
		}

		state.processed += len(wave)
		for _, result := range results {
			if result.Matched() {
				state.matched++
			}
		}
		offset += len(wave)
		c.recordProgress(ctx, logger, state, len(wave), elapsed)

		if offset < len(pending) {
			if err := c.pause(ctx, c.interBatchDelay); err != nil {
				return err
			}
		}
	}
	return c.finish(ctx, state, store.StatusCompleted, "")
}

// dispatch matches one wave concurrently and waits for all of it.
func (c *Coordinator) dispatch(ctx context.Context, job *store.Job, catalog *boq.Catalog, wave []boq.LineItem) ([]boq.MatchResult, time.Duration) {
	start := c.now()
	results := make([]boq.MatchResult, len(wave))
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, item := range wave {
		g.Go(func() error {
			results[i] = c.matchOne(ctx, job, catalog, item)
			return nil
		})
	}
	_ = g.Wait()
	return results, c.now().Sub(start)
}

// matchOne never fails: provider errors become a confidence-zero result with
// an error note.
func (c *Coordinator) matchOne(ctx context.Context, job *store.Job, catalog *boq.Catalog, item boq.LineItem) boq.MatchResult {
	ctx = services.WithRowNumber(ctx, item.RowNumber)
	start := c.now()
	result, err := c.matcher.MatchItem(ctx, provider.RequestForItem(item, job.Method, catalog))
	elapsed := c.now().Sub(start)
	if err != nil {
		result = boq.Failed(job.ID, item, job.Method, err.Error())
		if ctx.Err() == nil {
			logging.WarnWithContext(logging.WithContext(ctx, c.logger), "item match failed", "item_match_failed",
				logging.String("error_class", services.Classify(err).String()),
				logging.String(logging.FieldErrorHint, "inspect the row or retry with rematch"),
				logging.String(logging.FieldImpact, "row recorded with confidence 0"),
				logging.Error(err),
			)
		}
	}
	result.JobID = job.ID
	result.RowNumber = item.RowNumber
	result.Description = item.Description

	c.metrics.LogMatch(job.ID, metrics.Entry{
		RowNumber:      item.RowNumber,
		Description:    item.Description,
		Result:         result,
		Breakdown:      result.Breakdown,
		ProcessingTime: elapsed,
		CacheHit:       result.Usage.CacheHit,
		APICalls:       result.Usage.APICalls,
	})
	return result
}

// recordProgress is best-effort: a failed progress write is logged and the
// job carries on.
func (c *Coordinator) recordProgress(ctx context.Context, logger *slog.Logger, state *progressState, waveSize int, elapsed time.Duration) {
	err := retry.Do(ctx, c.writePolicy, func(ctx context.Context) error {
		return c.store.UpdateJobProgress(ctx, state.job.ID, state.processed, state.matched)
	}, c.retryOptions("update progress")...)
	if err != nil {
		logging.WarnWithContext(logger, "progress update failed", "progress_update_failed",
			logging.String(logging.FieldErrorHint, "check database connectivity"),
			logging.String(logging.FieldImpact, "job status lags behind actual progress"),
			logging.Error(err),
		)
	}

	evt := state.event(store.StatusMatching, waveSize, "")
	c.publish(evt)
	if state.sampler.ShouldLog(evt.Progress, string(evt.Status)) {
		logger.Info("job progress",
			logging.Float64(logging.FieldProgressPercent, evt.Progress),
			logging.Int("processed", evt.Processed),
			logging.Int("matched", evt.Matched),
			logging.Int("wave", evt.Wave),
			logging.Int("wave_size", waveSize),
			logging.Duration("wave_duration", elapsed),
		)
	}
}

// failEmptyCatalog records an explicit zero-confidence result for every
// remaining row before failing the job, so every item ends with a result.
func (c *Coordinator) failEmptyCatalog(ctx context.Context, state *progressState, pending []boq.LineItem) error {
	job := state.job
	results := make([]boq.MatchResult, 0, len(pending))
	for _, item := range pending {
		result := boq.Failed(job.ID, item, job.Method, emptyCatalogNote)
		results = append(results, result)
		c.metrics.LogMatch(job.ID, metrics.Entry{RowNumber: item.RowNumber, Description: item.Description, Result: result, Breakdown: result.Breakdown})
	}
	if err := retry.Do(ctx, c.writePolicy, func(ctx context.Context) error {
		return c.store.UpsertMatchResults(ctx, results)
	}, c.retryOptions("persist empty catalog results")...); err != nil {
		return c.interruptedOr(ctx, job, err, "result persistence failed")
	}
	state.processed += len(pending)
	c.recordProgress(ctx, logging.WithContext(ctx, c.logger), state, len(pending), 0)

	cause := services.Wrap(services.ErrEmptyCatalog, "jobs", "run", "no active catalog entries", nil)
	return c.fail(ctx, job, cause, emptyCatalogNote)
}

// interruptedOr returns ctx's error untouched on shutdown, and otherwise
// fails the job with err.
func (c *Coordinator) interruptedOr(ctx context.Context, job *store.Job, err error, reason string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, store.ErrInvalidTransition) {
		// Someone else finished the job, usually a cancel before it started.
		c.teardown(job.ID)
		return nil
	}
	return c.fail(ctx, job, err, fmt.Sprintf("%s: %v", reason, err))
}

func (c *Coordinator) fail(ctx context.Context, job *store.Job, cause error, message string) error {
	state := &progressState{job: job}
	if current, err := c.store.GetJob(ctx, job.ID); err == nil {
		state.processed = current.ProcessedCount
		state.matched = current.MatchedCount
	}
	if err := c.finish(ctx, state, store.StatusFailed, message); err != nil {
		return errors.Join(cause, err)
	}
	return fmt.Errorf("job %s failed: %w", job.ID, cause)
}

func (c *Coordinator) finish(ctx context.Context, state *progressState, status store.Status, message string) error {
	job := state.job
	defer c.teardown(job.ID)
	if err := c.transition(ctx, job.ID, status, message); err != nil {
		logging.ErrorWithContext(c.logger, "job status update failed", "job_status_failed",
			logging.JobID(job.ID),
			logging.String("status", string(status)),
			logging.Error(err),
		)
		return err
	}

	evt := state.event(status, 0, message)
	if status == store.StatusCompleted {
		evt.Progress = 100
	}
	summary := notifications.JobSummary{
		ID:        job.ID,
		Name:      job.Name,
		Status:    string(status),
		Total:     job.ItemCount,
		Processed: state.processed,
		Matched:   state.matched,
		Duration:  c.now().Sub(jobStart(job)),
		Error:     message,
	}
	if stats, ok := c.metrics.JobStats(job.ID); ok {
		summary.LowConfidence = stats.LowConfidence
		c.logger.Info("job finished",
			logging.JobID(job.ID),
			logging.String("status", string(status)),
			logging.Int("processed", state.processed),
			logging.Int("matched", state.matched),
			logging.Int("low_confidence", stats.LowConfidence),
			logging.Float64("avg_confidence", stats.AvgConfidence),
			logging.Int("api_calls", stats.APICalls),
			logging.String(logging.FieldEventType, "job_finished"),
		)
	}
	c.publish(evt)
	c.notify(ctx, summary)
	return nil
}

// notify is best-effort and outlives shutdown cancellation; the notifier's
// own request timeout bounds it.
func (c *Coordinator) notify(ctx context.Context, summary notifications.JobSummary) {
	if err := c.notifier.NotifyJobFinished(context.WithoutCancel(ctx), summary); err != nil {
		logging.WarnWithContext(c.logger, "job notification failed", "notification_failed",
			logging.JobID(summary.ID),
			logging.String(logging.FieldImpact, "no ntfy alert for this job"),
			logging.Error(err),
		)
	}
}

func jobStart(job *store.Job) time.Time {
	if job.StartedAt != nil {
		return *job.StartedAt
	}
	return job.CreatedAt
}

func (c *Coordinator) transition(ctx context.Context, jobID string, status store.Status, message string) error {
	return retry.Do(ctx, c.writePolicy, func(ctx context.Context) error {
		return c.store.UpdateJobStatus(ctx, jobID, status, message)
	}, c.retryOptions("update job status")...)
}
