package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"boqmatch/internal/boq"
	"boqmatch/internal/services"
)

const jobColumns = "id, name, status, method, progress, item_count, processed_count, matched_count, error_message, created_at, updated_at, started_at, completed_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           string
		name         sql.NullString
		statusStr    string
		methodStr    string
		progress     float64
		itemCount    int64
		processed    int64
		matched      int64
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
		startedRaw   sql.NullString
		completedRaw sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&name,
		&statusStr,
		&methodStr,
		&progress,
		&itemCount,
		&processed,
		&matched,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:             id,
		Name:           name.String,
		Status:         Status(statusStr),
		Method:         boq.Method(methodStr),
		Progress:       progress,
		ItemCount:      int(itemCount),
		ProcessedCount: int(processed),
		MatchedCount:   int(matched),
		Error:          errorMessage.String,
		StartedAt:      parseTimePtr(startedRaw.String),
		CompletedAt:    parseTimePtr(completedRaw.String),
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

// CreateJob persists a pending job and its line items atomically.
func (s *Store) CreateJob(ctx context.Context, in NewJob) (*Job, error) {
	if len(in.Items) == 0 {
		return nil, services.NewValidationError("items", "a job needs at least one line item")
	}
	if _, err := boq.ParseMethod(string(in.Method)); err != nil {
		return nil, services.NewValidationError("method", err.Error())
	}
	rowsSeen := make(map[int]struct{}, len(in.Items))
	for _, item := range in.Items {
		if _, dup := rowsSeen[item.RowNumber]; dup {
			return nil, services.NewValidationError("items", fmt.Sprintf("duplicate row number %d", item.RowNumber))
		}
		rowsSeen[item.RowNumber] = struct{}{}
	}

	now := s.now()
	job := &Job{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		Status:    StatusPending,
		Method:    in.Method,
		ItemCount: len(in.Items),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	stamp := formatTime(now)

	err := s.b.inTx(ctx, func(c conn) error {
		if _, err := c.exec(ctx,
			`INSERT INTO jobs (
                id, name, status, method, progress, item_count,
                processed_count, matched_count, created_at, updated_at
            ) VALUES (?, ?, ?, ?, 0, ?, 0, 0, ?, ?)`,
			job.ID, nullableString(job.Name), string(job.Status), string(job.Method), job.ItemCount, stamp, stamp,
		); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		for _, item := range in.Items {
			headers, err := encodeJSON(item.ContextHeaders)
			if err != nil {
				return fmt.Errorf("encode context headers for row %d: %w", item.RowNumber, err)
			}
			if _, err := c.exec(ctx,
				`INSERT INTO job_items (
                    job_id, row_num, description, quantity, unit, context_headers_json, sheet_name
                ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				job.ID,
				item.RowNumber,
				item.Description,
				nullableFloat(item.Quantity),
				nullableString(item.Unit),
				headers,
				nullableString(item.SheetName),
			); err != nil {
				return fmt.Errorf("insert row %d: %w", item.RowNumber, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("create job", err)
	}
	return job, nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(s.b.queryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if isNoRows(err) {
		return nil, notFound("job", id)
	}
	if err != nil {
		return nil, s.fail("get job", err)
	}
	return job, nil
}

// ListJobs returns jobs filtered by status, newest first. No statuses means
// every job.
func (s *Store) ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error) {
	jobs, err := s.listJobs(ctx, "DESC", statuses)
	if err != nil {
		return nil, s.fail("list jobs", err)
	}
	return jobs, nil
}

// ResumableJobs returns jobs a previous process left pending or matching,
// oldest first.
func (s *Store) ResumableJobs(ctx context.Context) ([]*Job, error) {
	jobs, err := s.listJobs(ctx, "ASC", []Status{StatusPending, StatusMatching})
	if err != nil {
		return nil, s.fail("list resumable jobs", err)
	}
	return jobs, nil
}

func (s *Store) listJobs(ctx context.Context, order string, statuses []Status) ([]*Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(statuses)) + ")"
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += " ORDER BY created_at " + order + ", id " + order

	r, err := s.b.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var jobs []*Job
	for r.Next() {
		job, err := scanJob(r)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, r.Err()
}

// JobItems returns a job's line items ordered by row number.
func (s *Store) JobItems(ctx context.Context, jobID string) ([]boq.LineItem, error) {
	r, err := s.b.query(ctx,
		`SELECT row_num, description, quantity, unit, context_headers_json, sheet_name
         FROM job_items WHERE job_id = ? ORDER BY row_num`,
		jobID,
	)
	if err != nil {
		return nil, s.fail("list job items", err)
	}
	defer r.Close()

	var items []boq.LineItem
	for r.Next() {
		var (
			rowNum   int64
			desc     string
			quantity sql.NullFloat64
			unit     sql.NullString
			headers  sql.NullString
			sheet    sql.NullString
		)
		if err := r.Scan(&rowNum, &desc, &quantity, &unit, &headers, &sheet); err != nil {
			return nil, s.fail("scan job item", err)
		}
		item := boq.LineItem{
			RowNumber:      int(rowNum),
			Description:    desc,
			Unit:           unit.String,
			ContextHeaders: decodeStrings(headers.String),
			SheetName:      sheet.String,
		}
		if quantity.Valid {
			q := quantity.Float64
			item.Quantity = &q
		}
		items = append(items, item)
	}
	if err := r.Err(); err != nil {
		return nil, s.fail("list job items", err)
	}
	return items, nil
}

// UpdateJobStatus moves a job along its lifecycle. Moving to the current
// non-terminal status is a no-op. Entering matching stamps started_at once;
// terminal states stamp completed_at, and completed pins progress at 100.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, next Status, message string) error {
	if _, ok := statusSet[next]; !ok {
		return services.NewValidationError("status", fmt.Sprintf("unknown status %q", next))
	}
	err := s.b.inTx(ctx, func(c conn) error {
		job, err := scanJob(c.queryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
		if isNoRows(err) {
			return notFound("job", id)
		}
		if err != nil {
			return err
		}
		if job.Status == next && !next.IsTerminal() {
			return nil
		}
		if !job.Status.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, next)
		}

		now := s.timestamp()
		started := nullableTime(job.StartedAt)
		if next == StatusMatching && job.StartedAt == nil {
			started = now
		}
		var completed any
		if next.IsTerminal() {
			completed = now
		}
		progress := job.Progress
		if next == StatusCompleted {
			progress = 100
		}

		affected, err := c.exec(ctx,
			`UPDATE jobs SET status = ?, error_message = ?, progress = ?, updated_at = ?,
                started_at = ?, completed_at = ?
            WHERE id = ? AND status = ?`,
			string(next), nullableString(message), progress, now, started, completed, id, string(job.Status),
		)
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: job %s changed concurrently", ErrInvalidTransition, id)
		}
		return nil
	})
	return s.fail("update job status", err)
}

// UpdateJobProgress records processed and matched counts. Counts never move
// backwards; a stale update is ignored.
func (s *Store) UpdateJobProgress(ctx context.Context, id string, processed, matched int) error {
	_, err := s.b.exec(ctx,
		`UPDATE jobs SET
            processed_count = ?,
            matched_count = ?,
            progress = CASE WHEN item_count > 0 THEN (? * 100.0) / item_count ELSE 0 END,
            updated_at = ?
        WHERE id = ? AND processed_count <= ? AND status IN ('pending', 'matching')`,
		processed, matched, processed, s.timestamp(), id, processed,
	)
	return s.fail("update job progress", err)
}

// RecountMatches recomputes a job's matched count from its stored results,
// after a manual edit or a re-match changed a row.
func (s *Store) RecountMatches(ctx context.Context, id string) error {
	affected, err := s.b.exec(ctx,
		`UPDATE jobs SET
            matched_count = (SELECT COUNT(1) FROM match_results WHERE job_id = ? AND entry_id IS NOT NULL),
            updated_at = ?
        WHERE id = ?`,
		id, s.timestamp(), id,
	)
	if err != nil {
		return s.fail("recount matches", err)
	}
	if affected == 0 {
		return notFound("job", id)
	}
	return nil
}
