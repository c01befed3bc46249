package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"boqmatch/internal/logging"
)

const defaultLogLimit = 200

// handleLogs pages through the in-memory log hub. follow=1 long-polls until a
// matching event arrives; tail=1 returns the most recent events. job and
// component narrow the results.
func (h *handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	hub := h.opts.LogHub
	if hub == nil {
		writeJSON(w, h.logger, http.StatusOK, LogStreamResponse{Events: []logging.LogEvent{}})
		return
	}

	query := r.URL.Query()
	q := logging.StreamQuery{
		JobID:     strings.TrimSpace(query.Get("job")),
		Component: strings.TrimSpace(query.Get("component")),
		Wait:      parseBool(query.Get("follow")),
	}
	q.Since, _ = strconv.ParseUint(query.Get("since"), 10, 64)
	q.Limit, _ = strconv.Atoi(query.Get("limit"))
	if q.Limit <= 0 {
		q.Limit = defaultLogLimit
	}

	if parseBool(query.Get("tail")) && q.Since == 0 && !q.Wait {
		events, next := hub.Tail(q)
		writeJSON(w, h.logger, http.StatusOK, LogStreamResponse{Events: nonNil(events), Next: next})
		return
	}
	events, next, err := hub.Fetch(r.Context(), q)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, LogStreamResponse{Events: nonNil(events), Next: next})
}

func nonNil(events []logging.LogEvent) []logging.LogEvent {
	if events == nil {
		return []logging.LogEvent{}
	}
	return events
}
