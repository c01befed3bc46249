package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"boqmatch/internal/boq"
	"boqmatch/internal/jobs"
	"boqmatch/internal/services"
)

// Client talks to a running boqmatchd over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient builds a client for the daemon at baseURL. A bare host:port is
// treated as http.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL != "" && !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %s (%d)", e.Message, e.StatusCode)
}

// Unwrap maps the response back onto the service error markers so callers
// can use errors.Is as they would in-process.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return services.ErrValidation
	case http.StatusNotFound:
		return services.ErrNotFound
	case http.StatusConflict:
		return services.ErrEmptyCatalog
	case http.StatusTooManyRequests:
		return services.ErrRateLimited
	case http.StatusBadGateway:
		return services.ErrProvider
	case http.StatusNotImplemented:
		return services.ErrConfiguration
	case http.StatusServiceUnavailable:
		return services.ErrPersistence
	default:
		return nil
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var payload ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err == nil {
		apiErr.Kind = payload.Kind
		apiErr.Message = payload.Error
	}
	return apiErr
}

// Health reports daemon and store liveness.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
			resp.Status = "degraded"
			resp.Error = apiErr.Message
			return &resp, nil
		}
		return nil, err
	}
	return &resp, nil
}

// Catalog lists catalog entries.
func (c *Client) Catalog(ctx context.Context, includeInactive bool) (*CatalogResponse, error) {
	path := "/api/catalog"
	if includeInactive {
		path += "?include_inactive=1"
	}
	var resp CatalogResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpsertCatalog inserts or replaces entries by id.
func (c *Client) UpsertCatalog(ctx context.Context, entries []boq.CatalogEntry) (*CatalogUpsertResponse, error) {
	var resp CatalogUpsertResponse
	if err := c.do(ctx, http.MethodPost, "/api/catalog", CatalogUpsertRequest{Entries: entries}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeactivateCatalogEntry retires an entry from matching.
func (c *Client) DeactivateCatalogEntry(ctx context.Context, id string) (*CatalogUpsertResponse, error) {
	var resp CatalogUpsertResponse
	if err := c.do(ctx, http.MethodDelete, "/api/catalog/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Match returns the best catalog candidate for one description.
func (c *Client) Match(ctx context.Context, req MatchRequest) (*MatchResponse, error) {
	var resp MatchResponse
	if err := c.do(ctx, http.MethodPost, "/api/match", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TopMatches returns ranked candidates for one description.
func (c *Client) TopMatches(ctx context.Context, req MatchRequest) (*TopMatchesResponse, error) {
	var resp TopMatchesResponse
	if err := c.do(ctx, http.MethodPost, "/api/match/top", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitJob creates a job; the daemon starts it in the background.
func (c *Client) SubmitJob(ctx context.Context, req SubmitJobRequest) (*JobResponse, error) {
	var resp JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListJobs lists jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, statuses ...string) (*JobListResponse, error) {
	path := "/api/jobs"
	if len(statuses) > 0 {
		query := url.Values{}
		for _, status := range statuses {
			query.Add("status", status)
		}
		path += "?" + query.Encode()
	}
	var resp JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func jobPath(id string, parts ...string) string {
	path := "/api/jobs/" + url.PathEscape(id)
	for _, part := range parts {
		path += "/" + part
	}
	return path
}

// Job fetches one job.
func (c *Client) Job(ctx context.Context, id string) (*JobResponse, error) {
	var resp JobResponse
	if err := c.do(ctx, http.MethodGet, jobPath(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelJob requests cancellation.
func (c *Client) CancelJob(ctx context.Context, id string) (*JobResponse, error) {
	var resp JobResponse
	if err := c.do(ctx, http.MethodPost, jobPath(id, "cancel"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Results lists a job's stored results.
func (c *Client) Results(ctx context.Context, id string) (*ResultsResponse, error) {
	var resp ResultsResponse
	if err := c.do(ctx, http.MethodGet, jobPath(id, "results"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats returns job counters plus in-memory metrics when available.
func (c *Client) Stats(ctx context.Context, id string) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.do(ctx, http.MethodGet, jobPath(id, "stats"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Review lists low-confidence results, lowest first. A negative threshold
// or non-positive limit uses the daemon default.
func (c *Client) Review(ctx context.Context, id string, threshold float64, limit int) (*ReviewResponse, error) {
	query := url.Values{}
	if threshold >= 0 {
		query.Set("threshold", strconv.FormatFloat(threshold, 'f', -1, 64))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := jobPath(id, "review")
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var resp ReviewResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetManualMatch pins a row to a catalog entry.
func (c *Client) SetManualMatch(ctx context.Context, id string, row int, entryID string) (*ResultResponse, error) {
	var resp ResultResponse
	path := jobPath(id, "results", strconv.Itoa(row))
	if err := c.do(ctx, http.MethodPut, path, ManualMatchRequest{EntryID: entryID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Rematch re-runs matching for one row.
func (c *Client) Rematch(ctx context.Context, id string, row int, req RematchRequest) (*ResultResponse, error) {
	var resp ResultResponse
	path := jobPath(id, "results", strconv.Itoa(row), "rematch")
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogQuery selects a page of daemon logs.
type LogQuery struct {
	Since     uint64
	Limit     int
	Follow    bool
	Tail      bool
	JobID     string
	Component string
}

// Logs fetches one page of log events.
func (c *Client) Logs(ctx context.Context, q LogQuery) (*LogStreamResponse, error) {
	query := url.Values{}
	if q.Since > 0 {
		query.Set("since", strconv.FormatUint(q.Since, 10))
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Follow {
		query.Set("follow", "1")
	}
	if q.Tail {
		query.Set("tail", "1")
	}
	if q.JobID != "" {
		query.Set("job", q.JobID)
	}
	if q.Component != "" {
		query.Set("component", q.Component)
	}
	path := "/api/logs"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var resp LogStreamResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WatchJob streams progress events to fn until the job reaches a terminal
// state, fn returns an error or ctx ends. The returned event is the last one
// received.
func (c *Client) WatchJob(ctx context.Context, id string, fn func(jobs.ProgressEvent) error) (jobs.ProgressEvent, error) {
	var last jobs.ProgressEvent
	req, err := c.newRequest(ctx, http.MethodGet, jobPath(id, "events"), nil)
	if err != nil {
		return last, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// Streams outlive the default request timeout.
	stream := *c.httpClient
	stream.Timeout = 0
	resp, err := stream.Do(req)
	if err != nil {
		return last, fmt.Errorf("watch job %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return last, decodeAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var evt jobs.ProgressEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			return last, fmt.Errorf("decode progress event: %w", err)
		}
		last = evt
		if fn != nil {
			if err := fn(evt); err != nil {
				return last, err
			}
		}
		if evt.Terminal() {
			return last, nil
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return last, fmt.Errorf("read progress stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return last, err
	}
	return last, io.ErrUnexpectedEOF
}
