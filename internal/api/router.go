package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"boqmatch/internal/boq"
	"boqmatch/internal/jobs"
	"boqmatch/internal/logging"
	"boqmatch/internal/metrics"
	"boqmatch/internal/provider"
	"boqmatch/internal/services"
	"boqmatch/internal/store"
)

// JobService is the job coordinator surface served over HTTP.
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*store.Job, error)
	List(ctx context.Context, statuses ...store.Status) ([]*store.Job, error)
	Status(ctx context.Context, jobID string) (*store.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Results(ctx context.Context, jobID string) ([]boq.MatchResult, error)
	Stats(jobID string) (metrics.Stats, bool)
	Review(ctx context.Context, jobID string, threshold float64, limit int) ([]boq.MatchResult, error)
	SetManualMatch(ctx context.Context, jobID string, rowNumber int, entryID string) (boq.MatchResult, error)
	Rematch(ctx context.Context, req jobs.RematchRequest) (boq.MatchResult, error)
	Subscribe(jobID string) (<-chan jobs.ProgressEvent, func())
	Running(jobID string) bool
	ActiveJobs() int
}

// CatalogStore is the catalog persistence surface served over HTTP.
type CatalogStore interface {
	CatalogVersion(ctx context.Context) (string, error)
	ListCatalog(ctx context.Context, includeInactive bool) ([]store.CatalogRecord, error)
	UpsertCatalogEntries(ctx context.Context, entries []boq.CatalogEntry) (string, error)
	DeactivateCatalogEntry(ctx context.Context, id string) (string, error)
}

// Matcher answers ad-hoc match requests.
type Matcher interface {
	provider.Matcher
	provider.Ranker
}

// Options wires the router to its collaborators.
type Options struct {
	Jobs    JobService
	Catalog CatalogStore
	Matcher Matcher
	// Health probes the store; nil always reports healthy.
	Health    func(ctx context.Context) error
	StoreName string
	LogHub    *logging.StreamHub
	Logger    *slog.Logger
	// AccessLog receives one JSON line per request when set.
	AccessLog *zerolog.Logger

	Token               string
	MaxBodyBytes        int64
	DefaultMethod       boq.Method
	ConfidenceThreshold float64
	ReviewThreshold     float64
	DefaultTopK         int
	KeepAlive           time.Duration
}

const (
	defaultReviewLimit = 50
	defaultTopK        = 5
	defaultKeepAlive   = 15 * time.Second
)

type handler struct {
	opts   Options
	logger *slog.Logger
}

// NewRouter builds the HTTP handler. Middleware order matters: panics are
// recovered outermost, and the access log sees auth failures.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.DefaultMethod == "" {
		opts.DefaultMethod = boq.MethodLocal
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = defaultTopK
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = defaultKeepAlive
	}
	h := &handler{opts: opts, logger: logging.NewComponentLogger(opts.Logger, "api")}

	r := chi.NewRouter()
	r.Use(recoverer(h.logger))
	r.Use(requestID())
	r.Use(accessLog(opts.AccessLog))
	r.Use(bearerAuth(opts.Token, h.logger))
	r.Use(limitBody(opts.MaxBodyBytes))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, h.logger, http.StatusNotFound, ErrorResponse{Error: "route not found", Kind: "not_found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, h.logger, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed", Kind: "method"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Get("/logs", h.handleLogs)

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/", h.handleListCatalog)
			r.Post("/", h.handleUpsertCatalog)
			r.Delete("/{entryID}", h.handleDeactivateEntry)
		})

		r.Post("/match", h.handleMatch)
		r.Post("/match/top", h.handleTopMatches)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.handleSubmitJob)
			r.Get("/", h.handleListJobs)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", h.handleGetJob)
				r.Post("/cancel", h.handleCancelJob)
				r.Get("/results", h.handleResults)
				r.Put("/results/{row}", h.handleManualMatch)
				r.Post("/results/{row}/rematch", h.handleRematch)
				r.Get("/stats", h.handleStats)
				r.Get("/review", h.handleReview)
				r.Get("/events", h.handleEvents)
			})
		})
	})
	return r
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Store: h.opts.StoreName}
	if h.opts.Jobs != nil {
		resp.ActiveJobs = h.opts.Jobs.ActiveJobs()
	}
	if h.opts.Health != nil {
		if err := h.opts.Health(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Error = err.Error()
			writeJSON(w, h.logger, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Error("failed to encode response", logging.Error(err))
	}
}

// writeError maps a service error onto its status code.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	if status == http.StatusTooManyRequests {
		if wait := services.RetryAfter(err); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
	}
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), h.logger), "api request failed", "api_error",
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
		)
	}
	writeJSON(w, h.logger, status, ErrorResponse{Error: err.Error(), Kind: kind})
}

func statusFor(err error) (int, string) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrEmptyCatalog):
		return http.StatusConflict, "empty_catalog"
	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, services.ErrProvider):
		return http.StatusBadGateway, "provider"
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusNotImplemented, "configuration"
	case errors.Is(err, services.ErrPersistence):
		return http.StatusServiceUnavailable, "persistence"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
