package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"boqmatch/internal/jobs"
	"boqmatch/internal/logging"
	"boqmatch/internal/store"
)

// snapshotEvent describes a job's persisted state in the shape of a
// progress event, so every stream starts with the current position.
func snapshotEvent(job *store.Job) jobs.ProgressEvent {
	return jobs.ProgressEvent{
		JobID:     job.ID,
		Status:    job.Status,
		Processed: job.ProcessedCount,
		Matched:   job.MatchedCount,
		Total:     job.ItemCount,
		Progress:  job.Progress,
		Error:     job.Error,
		At:        job.UpdatedAt,
	}
}

// handleEvents streams progress as server-sent events until the job reaches
// a terminal state or the client goes away.
func (h *handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	// Subscribe before reading the snapshot so no event falls in between.
	events, release := h.opts.Jobs.Subscribe(id)
	defer release()

	job, err := h.opts.Jobs.Status(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(evt jobs.ProgressEvent) bool {
		data, err := json.Marshal(evt)
		if err != nil {
			h.logger.Error("failed to encode progress event", logging.Error(err))
			return false
		}
		if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	if !send(snapshotEvent(job)) || job.Status.IsTerminal() {
		return
	}

	ticker := time.NewTicker(h.opts.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !send(evt) || evt.Terminal() {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if rc.Flush() != nil {
				return
			}
		}
	}
}
