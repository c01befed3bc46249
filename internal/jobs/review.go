package jobs

import (
	"context"
	"fmt"
	"sort"

	"boqmatch/internal/boq"
	"boqmatch/internal/logging"
	"boqmatch/internal/metrics"
	"boqmatch/internal/provider"
	"boqmatch/internal/retry"
	"boqmatch/internal/services"
	"boqmatch/internal/store"
)

// RematchRequest re-runs matching for one row of an existing job.
type RematchRequest struct {
	JobID     string
	RowNumber int
	// Method overrides the job's method when set.
	Method boq.Method
	// Force replaces a manually edited result.
	Force bool
}

// Rematch matches one row again against the current catalog and overwrites
// its stored result. Provider errors are returned to the caller instead of
// being recorded.
func (c *Coordinator) Rematch(ctx context.Context, req RematchRequest) (boq.MatchResult, error) {
	job, err := c.store.GetJob(ctx, req.JobID)
	if err != nil {
		return boq.MatchResult{}, err
	}
	if c.Running(job.ID) {
		return boq.MatchResult{}, services.NewValidationError("job", fmt.Sprintf("job %s is still running", job.ID))
	}
	item, err := c.findItem(ctx, job.ID, req.RowNumber)
	if err != nil {
		return boq.MatchResult{}, err
	}
	if !req.Force {
		existing, err := c.store.MatchResult(ctx, job.ID, req.RowNumber)
		if err == nil && existing.ManuallyEdited {
			return boq.MatchResult{}, services.NewValidationError("row", fmt.Sprintf("row %d was edited manually; force is required to replace it", req.RowNumber))
		}
	}

	method := req.Method
	if method == "" {
		method = job.Method
	}
	catalog, err := retry.Value(ctx, c.readPolicy, func(ctx context.Context) (*boq.Catalog, error) {
		return c.store.ActiveCatalog(ctx)
	}, c.retryOptions("load active catalog")...)
	if err != nil {
		return boq.MatchResult{}, err
	}

	ctx = services.WithRowNumber(services.WithJobID(ctx, job.ID), item.RowNumber)
	result, err := c.matcher.MatchItem(ctx, provider.RequestForItem(item, method, catalog))
	if err != nil {
		return boq.MatchResult{}, err
	}
	result.JobID = job.ID
	result.RowNumber = item.RowNumber
	result.Description = item.Description

	if err := retry.Do(ctx, c.writePolicy, func(ctx context.Context) error {
		return c.store.OverwriteMatchResult(ctx, result)
	}, c.retryOptions("overwrite result")...); err != nil {
		return boq.MatchResult{}, err
	}
	c.recount(ctx, job.ID)
	reason := "automatic row"
	if req.Force {
		reason = "forced over manual edit"
	}
	attrs := []logging.Attr{
		logging.JobID(job.ID),
		logging.Row(item.RowNumber),
		logging.Method(string(method)),
		logging.Float64("confidence", result.Confidence),
		logging.String(logging.FieldEventType, "row_rematched"),
	}
	attrs = append(attrs, logging.DecisionAttrs("rematch", string(result.Breakdown.Tier), reason)...)
	c.logger.Info("row rematched", logging.Args(attrs...)...)
	return result, nil
}

// SetManualMatch pins a row to a catalog entry chosen by a reviewer.
func (c *Coordinator) SetManualMatch(ctx context.Context, jobID string, rowNumber int, entryID string) (boq.MatchResult, error) {
	if c.Running(jobID) {
		return boq.MatchResult{}, services.NewValidationError("job", fmt.Sprintf("job %s is still running", jobID))
	}
	result, err := retry.Value(ctx, c.writePolicy, func(ctx context.Context) (boq.MatchResult, error) {
		return c.store.SetManualMatch(ctx, jobID, rowNumber, entryID)
	}, c.retryOptions("set manual match")...)
	if err != nil {
		return boq.MatchResult{}, err
	}
	c.recount(ctx, jobID)
	c.logger.Info("manual match recorded",
		logging.JobID(jobID),
		logging.Row(rowNumber),
		logging.String("entry_id", entryID),
		logging.String(logging.FieldEventType, "manual_match"),
	)
	return result, nil
}

// Results returns every stored result of a job.
func (c *Coordinator) Results(ctx context.Context, jobID string) ([]boq.MatchResult, error) {
	if _, err := c.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return c.store.MatchResults(ctx, jobID)
}

// List returns jobs filtered by status, newest first.
func (c *Coordinator) List(ctx context.Context, statuses ...store.Status) ([]*store.Job, error) {
	return c.store.ListJobs(ctx, statuses...)
}

// Stats returns the metrics aggregates of a job this process has run.
func (c *Coordinator) Stats(jobID string) (metrics.Stats, bool) {
	return c.metrics.JobStats(jobID)
}

// Review returns the stored results below threshold, plus failed rows, lowest
// confidence first. Manually edited rows are never listed.
func (c *Coordinator) Review(ctx context.Context, jobID string, threshold float64, limit int) ([]boq.MatchResult, error) {
	results, err := c.Results(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return truncate(lowConfidence(results, threshold), limit), nil
}

func (c *Coordinator) findItem(ctx context.Context, jobID string, rowNumber int) (boq.LineItem, error) {
	items, err := c.store.JobItems(ctx, jobID)
	if err != nil {
		return boq.LineItem{}, err
	}
	for _, item := range items {
		if item.RowNumber == rowNumber {
			return item, nil
		}
	}
	return boq.LineItem{}, fmt.Errorf("job %s row %d: %w", jobID, rowNumber, services.ErrNotFound)
}

func (c *Coordinator) recount(ctx context.Context, jobID string) {
	if err := c.store.RecountMatches(ctx, jobID); err != nil {
		logging.WarnWithContext(c.logger, "matched count refresh failed", "recount_failed",
			logging.JobID(jobID),
			logging.String(logging.FieldImpact, "job matched count may be stale"),
			logging.Error(err),
		)
	}
}

func lowConfidence(results []boq.MatchResult, threshold float64) []boq.MatchResult {
	var out []boq.MatchResult
	for _, r := range results {
		if r.ManuallyEdited {
			continue
		}
		if r.ErrorNote != "" || r.Confidence < threshold {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence < out[j].Confidence
	})
	return out
}

func truncate(results []boq.MatchResult, limit int) []boq.MatchResult {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}
