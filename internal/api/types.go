package api

import (
	"boqmatch/internal/boq"
	"boqmatch/internal/logging"
	"boqmatch/internal/metrics"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a matching job in a transport-friendly format.
type Job struct {
	ID             string  `json:"id"`
	Name           string  `json:"name,omitempty"`
	Status         string  `json:"status"`
	Method         string  `json:"method"`
	Progress       float64 `json:"progress"`
	ItemCount      int     `json:"item_count"`
	ProcessedCount int     `json:"processed_count"`
	MatchedCount   int     `json:"matched_count"`
	Error          string  `json:"error,omitempty"`
	Running        bool    `json:"running"`
	CreatedAt      string  `json:"created_at,omitempty"`
	UpdatedAt      string  `json:"updated_at,omitempty"`
	StartedAt      string  `json:"started_at,omitempty"`
	CompletedAt    string  `json:"completed_at,omitempty"`
}

// CatalogEntry is a catalog entry with its lifecycle fields.
type CatalogEntry struct {
	boq.CatalogEntry
	Active    bool   `json:"active"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// HealthResponse reports daemon liveness.
type HealthResponse struct {
	Status     string `json:"status"`
	Store      string `json:"store,omitempty"`
	ActiveJobs int    `json:"active_jobs"`
	Error      string `json:"error,omitempty"`
}

// CatalogResponse lists catalog entries.
type CatalogResponse struct {
	Version string         `json:"version"`
	Entries []CatalogEntry `json:"entries"`
}

// CatalogUpsertRequest inserts or replaces catalog entries by id.
type CatalogUpsertRequest struct {
	Entries []boq.CatalogEntry `json:"entries"`
}

// CatalogUpsertResponse reports the catalog version after a change.
type CatalogUpsertResponse struct {
	Version string `json:"version"`
	Count   int    `json:"count"`
}

// MatchRequest matches one free-text description.
type MatchRequest struct {
	Description    string   `json:"description"`
	Unit           string   `json:"unit,omitempty"`
	ContextHeaders []string `json:"context_headers,omitempty"`
	SheetName      string   `json:"sheet_name,omitempty"`
	Method         string   `json:"method,omitempty"`
	TopK           int      `json:"top_k,omitempty"`
}

// MatchResponse carries the best result and whether it clears the confidence
// threshold.
type MatchResponse struct {
	Result    boq.MatchResult `json:"result"`
	Confident bool            `json:"confident"`
}

// TopMatchesResponse lists ranked candidates, best first.
type TopMatchesResponse struct {
	Results []boq.MatchResult `json:"results"`
}

// SubmitJobRequest creates a job.
type SubmitJobRequest struct {
	Name   string         `json:"name,omitempty"`
	Method string         `json:"method,omitempty"`
	Items  []boq.LineItem `json:"items"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// ResultsResponse lists the stored results of a job.
type ResultsResponse struct {
	JobID   string            `json:"job_id"`
	Results []boq.MatchResult `json:"results"`
}

// StatsResponse combines the persisted job with in-memory metrics, which are
// only present for jobs this daemon ran recently.
type StatsResponse struct {
	Job     Job            `json:"job"`
	Metrics *metrics.Stats `json:"metrics,omitempty"`
}

// ReviewResponse lists results that need a human look.
type ReviewResponse struct {
	JobID     string            `json:"job_id"`
	Threshold float64           `json:"threshold"`
	Results   []boq.MatchResult `json:"results"`
}

// ManualMatchRequest pins a row to a catalog entry.
type ManualMatchRequest struct {
	EntryID string `json:"entry_id"`
}

// RematchRequest re-runs matching for one row.
type RematchRequest struct {
	Method string `json:"method,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// ResultResponse wraps one match result.
type ResultResponse struct {
	Result boq.MatchResult `json:"result"`
}

// LogStreamResponse is one page of streamed log events.
type LogStreamResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
