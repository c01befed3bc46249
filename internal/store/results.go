package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"boqmatch/internal/boq"
)

const resultColumns = "job_id, row_num, description, entry_json, confidence, breakdown_json, method, manually_edited, error_note, updated_at"

func scanResult(scanner interface{ Scan(dest ...any) error }) (boq.MatchResult, error) {
	var (
		jobID        string
		rowNum       int64
		description  string
		entryRaw     sql.NullString
		confidence   float64
		breakdownRaw string
		methodStr    string
		manual       int64
		errorNote    sql.NullString
		updatedRaw   string
	)
	if err := scanner.Scan(&jobID, &rowNum, &description, &entryRaw, &confidence, &breakdownRaw, &methodStr, &manual, &errorNote, &updatedRaw); err != nil {
		return boq.MatchResult{}, err
	}
	result := boq.MatchResult{
		JobID:          jobID,
		RowNumber:      int(rowNum),
		Description:    description,
		Confidence:     confidence,
		Method:         boq.Method(methodStr),
		ManuallyEdited: manual != 0,
		ErrorNote:      errorNote.String,
	}
	if entryRaw.Valid && entryRaw.String != "" {
		var entry boq.CatalogEntry
		if err := json.Unmarshal([]byte(entryRaw.String), &entry); err != nil {
			return boq.MatchResult{}, fmt.Errorf("decode entry for row %d: %w", rowNum, err)
		}
		result.Entry = &entry
	}
	if err := json.Unmarshal([]byte(breakdownRaw), &result.Breakdown); err != nil {
		return boq.MatchResult{}, fmt.Errorf("decode breakdown for row %d: %w", rowNum, err)
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		result.UpdatedAt = updated
	}
	return result, nil
}

// UpsertMatchResults writes a wave of results in one transaction. Rows a user
// edited by hand are left untouched, so replaying a wave is idempotent.
func (s *Store) UpsertMatchResults(ctx context.Context, results []boq.MatchResult) error {
	if len(results) == 0 {
		return nil
	}
	err := s.b.inTx(ctx, func(c conn) error {
		for _, result := range results {
			if err := s.writeResult(ctx, c, result, false); err != nil {
				return err
			}
		}
		return nil
	})
	return s.fail("upsert match results", err)
}

// UpsertMatchResult writes one result, preserving a manually edited row.
func (s *Store) UpsertMatchResult(ctx context.Context, result boq.MatchResult) error {
	return s.fail("upsert match result", s.writeResult(ctx, s.b, result, false))
}

// OverwriteMatchResult replaces a result even when it was edited by hand and
// clears the manual flag.
func (s *Store) OverwriteMatchResult(ctx context.Context, result boq.MatchResult) error {
	result.ManuallyEdited = false
	return s.fail("overwrite match result", s.writeResult(ctx, s.b, result, true))
}

// SetManualMatch pins a job row to a catalog entry chosen by a user. The
// entry may since have been deactivated; its current stored form is used.
func (s *Store) SetManualMatch(ctx context.Context, jobID string, rowNumber int, entryID string) (boq.MatchResult, error) {
	var result boq.MatchResult
	err := s.b.inTx(ctx, func(c conn) error {
		job, err := scanJob(c.queryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", jobID))
		if isNoRows(err) {
			return notFound("job", jobID)
		}
		if err != nil {
			return err
		}
		var description string
		err = c.queryRow(ctx,
			"SELECT description FROM job_items WHERE job_id = ? AND row_num = ?",
			jobID, rowNumber,
		).Scan(&description)
		if isNoRows(err) {
			return notFound("job row", fmt.Sprintf("%s/%d", jobID, rowNumber))
		}
		if err != nil {
			return err
		}
		record, err := findEntry(ctx, c, entryID)
		if err != nil {
			return err
		}

		entry := record.Entry
		result = boq.MatchResult{
			JobID:          jobID,
			RowNumber:      rowNumber,
			Description:    description,
			Entry:          &entry,
			Confidence:     1,
			Breakdown:      boq.ScoreBreakdown{Tier: boq.TierManual, Confidence: 1},
			Method:         job.Method,
			ManuallyEdited: true,
			UpdatedAt:      s.now().UTC(),
		}
		return s.writeResult(ctx, c, result, true)
	})
	if err != nil {
		return boq.MatchResult{}, s.fail("set manual match", err)
	}
	return result, nil
}

// MatchResults returns every stored result for a job ordered by row number.
func (s *Store) MatchResults(ctx context.Context, jobID string) ([]boq.MatchResult, error) {
	r, err := s.b.query(ctx,
		"SELECT "+resultColumns+" FROM match_results WHERE job_id = ? ORDER BY row_num",
		jobID,
	)
	if err != nil {
		return nil, s.fail("list match results", err)
	}
	defer r.Close()

	var results []boq.MatchResult
	for r.Next() {
		result, err := scanResult(r)
		if err != nil {
			return nil, s.fail("scan match result", err)
		}
		results = append(results, result)
	}
	if err := r.Err(); err != nil {
		return nil, s.fail("list match results", err)
	}
	return results, nil
}

// MatchResult returns the stored result for one job row.
func (s *Store) MatchResult(ctx context.Context, jobID string, rowNumber int) (boq.MatchResult, error) {
	result, err := scanResult(s.b.queryRow(ctx,
		"SELECT "+resultColumns+" FROM match_results WHERE job_id = ? AND row_num = ?",
		jobID, rowNumber,
	))
	if isNoRows(err) {
		return boq.MatchResult{}, notFound("match result", fmt.Sprintf("%s/%d", jobID, rowNumber))
	}
	if err != nil {
		return boq.MatchResult{}, s.fail("get match result", err)
	}
	return result, nil
}

func (s *Store) writeResult(ctx context.Context, c conn, result boq.MatchResult, force bool) error {
	var entryID, entryJSON any
	if result.Entry != nil {
		entryID = result.Entry.ID
		data, err := json.Marshal(result.Entry)
		if err != nil {
			return fmt.Errorf("encode entry for row %d: %w", result.RowNumber, err)
		}
		entryJSON = string(data)
	}
	breakdown, err := json.Marshal(result.Breakdown)
	if err != nil {
		return fmt.Errorf("encode breakdown for row %d: %w", result.RowNumber, err)
	}

	query := `INSERT INTO match_results (
            job_id, row_num, description, entry_id, entry_json, confidence,
            breakdown_json, method, manually_edited, error_note, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (job_id, row_num) DO UPDATE SET
            description = excluded.description,
            entry_id = excluded.entry_id,
            entry_json = excluded.entry_json,
            confidence = excluded.confidence,
            breakdown_json = excluded.breakdown_json,
            method = excluded.method,
            manually_edited = excluded.manually_edited,
            error_note = excluded.error_note,
            updated_at = excluded.updated_at`
	if !force {
		query += " WHERE match_results.manually_edited = 0"
	}

	if _, err := c.exec(ctx, query,
		result.JobID,
		result.RowNumber,
		result.Description,
		entryID,
		entryJSON,
		result.Confidence,
		string(breakdown),
		string(result.Method),
		boolToInt(result.ManuallyEdited),
		nullableString(result.ErrorNote),
		s.timestamp(),
	); err != nil {
		return fmt.Errorf("write result for row %d: %w", result.RowNumber, err)
	}
	return nil
}
