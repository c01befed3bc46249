package store

import (
	"fmt"
	"strings"
	"time"

	"boqmatch/internal/boq"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusMatching  Status = "matching"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusMatching,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var transitions = map[Status][]Status{
	StatusPending:  {StatusMatching, StatusFailed, StatusCancelled},
	StatusMatching: {StatusCompleted, StatusFailed, StatusCancelled},
}

// AllStatuses returns every job status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus maps a user-supplied string onto a Status.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[status]
	return status, ok
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether a job may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Job is a persisted batch of line items matched with one method.
type Job struct {
	ID             string     `json:"id"`
	Name           string     `json:"name,omitempty"`
	Status         Status     `json:"status"`
	Method         boq.Method `json:"method"`
	Progress       float64    `json:"progress"`
	ItemCount      int        `json:"item_count"`
	ProcessedCount int        `json:"processed_count"`
	MatchedCount   int        `json:"matched_count"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Remaining returns the number of items without a result.
func (j *Job) Remaining() int {
	if j == nil {
		return 0
	}
	return max(j.ItemCount-j.ProcessedCount, 0)
}

func (j *Job) String() string {
	if j == nil {
		return "<nil job>"
	}
	return fmt.Sprintf("job %s (%s, %d/%d)", j.ID, j.Status, j.ProcessedCount, j.ItemCount)
}

// NewJob is the input to CreateJob.
type NewJob struct {
	Name   string
	Method boq.Method
	Items  []boq.LineItem
}

// CatalogRecord is a stored catalog entry with its bookkeeping columns.
type CatalogRecord struct {
	Entry     boq.CatalogEntry `json:"entry"`
	Active    bool             `json:"active"`
	UpdatedAt time.Time        `json:"updated_at"`
}
