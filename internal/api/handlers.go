package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"boqmatch/internal/boq"
	"boqmatch/internal/jobs"
	"boqmatch/internal/logging"
	"boqmatch/internal/provider"
	"boqmatch/internal/services"
	"boqmatch/internal/store"
)

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	return io.ReadAll(r.Body)
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	body, err := readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return false
	}
	if schema == schemaRematch && len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	if err := decodeValidated(body, schema, dst); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return true
}

func (h *handler) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	includeInactive := parseBool(r.URL.Query().Get("include_inactive"))
	version, err := h.opts.Catalog.CatalogVersion(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	records, err := h.opts.Catalog.ListCatalog(r.Context(), includeInactive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, CatalogResponse{Version: version, Entries: FromCatalogRecords(records)})
}

func (h *handler) handleUpsertCatalog(w http.ResponseWriter, r *http.Request) {
	var req CatalogUpsertRequest
	if !h.decode(w, r, schemaCatalogUpsert, &req) {
		return
	}
	version, err := h.opts.Catalog.UpsertCatalogEntries(r.Context(), req.Entries)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.WithContext(r.Context(), h.logger).Info("catalog updated",
		logging.Int("entries", len(req.Entries)),
		logging.String("catalog_version", version),
		logging.String(logging.FieldEventType, "catalog_upsert"),
	)
	writeJSON(w, h.logger, http.StatusOK, CatalogUpsertResponse{Version: version, Count: len(req.Entries)})
}

func (h *handler) handleDeactivateEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "entryID")
	version, err := h.opts.Catalog.DeactivateCatalogEntry(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, CatalogUpsertResponse{Version: version, Count: 1})
}

func (h *handler) matchRequest(req MatchRequest) provider.Request {
	method := boq.Method(req.Method)
	if method == "" {
		method = h.opts.DefaultMethod
	}
	return provider.Request{
		RowNumber:      1,
		Description:    req.Description,
		Unit:           req.Unit,
		Method:         method,
		ContextHeaders: req.ContextHeaders,
		SheetName:      req.SheetName,
	}
}

func (h *handler) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if !h.decode(w, r, schemaMatch, &req) {
		return
	}
	result, err := h.opts.Matcher.MatchItem(r.Context(), h.matchRequest(req))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	confident := result.Matched() && result.Confidence >= h.opts.ConfidenceThreshold
	writeJSON(w, h.logger, http.StatusOK, MatchResponse{Result: result, Confident: confident})
}

func (h *handler) handleTopMatches(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if !h.decode(w, r, schemaMatch, &req) {
		return
	}
	k := req.TopK
	if k <= 0 {
		k = h.opts.DefaultTopK
	}
	results, err := h.opts.Matcher.TopMatches(r.Context(), h.matchRequest(req), k)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []boq.MatchResult{}
	}
	writeJSON(w, h.logger, http.StatusOK, TopMatchesResponse{Results: results})
}

func (h *handler) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if !h.decode(w, r, schemaSubmitJob, &req) {
		return
	}
	job, err := h.opts.Jobs.Submit(r.Context(), jobs.SubmitRequest{
		Name:   req.Name,
		Method: boq.Method(req.Method),
		Items:  req.Items,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/jobs/"+job.ID)
	writeJSON(w, h.logger, http.StatusAccepted, JobResponse{Job: FromJob(job, h.opts.Jobs.Running(job.ID))})
}

func (h *handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []store.Status
	for _, value := range r.URL.Query()["status"] {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := store.ParseStatus(part)
			if !ok {
				h.writeError(w, r, services.NewValidationError("status", fmt.Sprintf("unknown job status %q", part)))
				return
			}
			statuses = append(statuses, status)
		}
	}
	list, err := h.opts.Jobs.List(r.Context(), statuses...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]Job, 0, len(list))
	for _, job := range list {
		out = append(out, FromJob(job, h.opts.Jobs.Running(job.ID)))
	}
	writeJSON(w, h.logger, http.StatusOK, JobListResponse{Jobs: out})
}

func (h *handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.opts.Jobs.Status(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, JobResponse{Job: FromJob(job, h.opts.Jobs.Running(job.ID))})
}

func (h *handler) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := h.opts.Jobs.Cancel(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	job, err := h.opts.Jobs.Status(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusAccepted, JobResponse{Job: FromJob(job, h.opts.Jobs.Running(id))})
}

func (h *handler) handleResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	results, err := h.opts.Jobs.Results(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []boq.MatchResult{}
	}
	writeJSON(w, h.logger, http.StatusOK, ResultsResponse{JobID: id, Results: results})
}

func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, err := h.opts.Jobs.Status(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := StatsResponse{Job: FromJob(job, h.opts.Jobs.Running(id))}
	if stats, ok := h.opts.Jobs.Stats(id); ok {
		resp.Metrics = &stats
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

func (h *handler) handleReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	query := r.URL.Query()
	threshold := h.opts.ReviewThreshold
	if value := strings.TrimSpace(query.Get("threshold")); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			h.writeError(w, r, services.NewValidationError("threshold", "must be a number between 0 and 1"))
			return
		}
		threshold = parsed
	}
	limit := defaultReviewLimit
	if value := strings.TrimSpace(query.Get("limit")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			h.writeError(w, r, services.NewValidationError("limit", "must be a positive integer"))
			return
		}
		limit = parsed
	}
	results, err := h.opts.Jobs.Review(r.Context(), id, threshold, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []boq.MatchResult{}
	}
	writeJSON(w, h.logger, http.StatusOK, ReviewResponse{JobID: id, Threshold: threshold, Results: results})
}

func parseRow(r *http.Request) (int, error) {
	row, err := strconv.Atoi(chi.URLParam(r, "row"))
	if err != nil || row <= 0 {
		return 0, services.NewValidationError("row", "must be a positive integer")
	}
	return row, nil
}

func (h *handler) handleManualMatch(w http.ResponseWriter, r *http.Request) {
	row, err := parseRow(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req ManualMatchRequest
	if !h.decode(w, r, schemaManualMatch, &req) {
		return
	}
	result, err := h.opts.Jobs.SetManualMatch(r.Context(), chi.URLParam(r, "jobID"), row, req.EntryID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, ResultResponse{Result: result})
}

func (h *handler) handleRematch(w http.ResponseWriter, r *http.Request) {
	row, err := parseRow(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req RematchRequest
	if !h.decode(w, r, schemaRematch, &req) {
		return
	}
	result, err := h.opts.Jobs.Rematch(r.Context(), jobs.RematchRequest{
		JobID:     chi.URLParam(r, "jobID"),
		RowNumber: row,
		Method:    boq.Method(req.Method),
		Force:     req.Force,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, ResultResponse{Result: result})
}

func parseBool(value string) bool {
	value = strings.TrimSpace(value)
	return value == "1" || strings.EqualFold(value, "true")
}
