package api

import (
	"time"

	"boqmatch/internal/store"
)

// FromJob converts a persisted job. running reports whether this daemon is
// processing it now.
func FromJob(job *store.Job, running bool) Job {
	if job == nil {
		return Job{}
	}
	return Job{
		ID:             job.ID,
		Name:           job.Name,
		Status:         string(job.Status),
		Method:         string(job.Method),
		Progress:       job.Progress,
		ItemCount:      job.ItemCount,
		ProcessedCount: job.ProcessedCount,
		MatchedCount:   job.MatchedCount,
		Error:          job.Error,
		Running:        running,
		CreatedAt:      formatTime(job.CreatedAt),
		UpdatedAt:      formatTime(job.UpdatedAt),
		StartedAt:      formatTimePtr(job.StartedAt),
		CompletedAt:    formatTimePtr(job.CompletedAt),
	}
}

// FromCatalogRecords converts catalog rows in catalog order.
func FromCatalogRecords(records []store.CatalogRecord) []CatalogEntry {
	out := make([]CatalogEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, CatalogEntry{
			CatalogEntry: rec.Entry,
			Active:       rec.Active,
			UpdatedAt:    formatTime(rec.UpdatedAt),
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
