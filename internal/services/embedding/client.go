package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"boqmatch/internal/services"
)

const (
	ProviderOpenAI = "openai"
	ProviderCohere = "cohere"

	defaultHTTPTimeout      = 30 * time.Second
	defaultInputsPerRequest = 64
	maxErrorBody            = 512
)

// InputKind tells providers that distinguish documents from queries which
// side of the search an input is on.
type InputKind string

const (
	InputDocument InputKind = "search_document"
	InputQuery    InputKind = "search_query"
)

// Config captures the runtime settings required to talk to a provider.
type Config struct {
	Provider          string
	APIKey            string
	BaseURL           string
	Model             string
	TimeoutSeconds    int
	RequestsPerSecond float64
	Burst             int
	InputsPerRequest  int
}

// Client embeds text through one provider.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs an embedding client. A non-positive RequestsPerSecond
// disables pacing.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.InputsPerRequest <= 0 {
		cfg.InputsPerRequest = defaultInputsPerRequest
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := max(cfg.Burst, 1)
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Provider returns the provider name the client talks to.
func (c *Client) Provider() string { return c.cfg.Provider }

// Model returns the configured model.
func (c *Client) Model() string { return c.cfg.Model }

// Embed returns one vector per input, in input order. Inputs are sent in
// chunks of InputsPerRequest; the number of HTTP requests made is returned
// alongside the vectors.
func (c *Client) Embed(ctx context.Context, inputs []string, kind InputKind) ([][]float64, int, error) {
	if len(inputs) == 0 {
		return nil, 0, nil
	}
	if c.cfg.APIKey == "" {
		return nil, 0, services.Wrap(services.ErrConfiguration, "embedding", c.cfg.Provider, "api key required", nil)
	}
	out := make([][]float64, 0, len(inputs))
	calls := 0
	for start := 0; start < len(inputs); start += c.cfg.InputsPerRequest {
		end := min(start+c.cfg.InputsPerRequest, len(inputs))
		chunk := inputs[start:end]
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, calls, fmt.Errorf("embedding %s: wait for rate limiter: %w", c.cfg.Provider, err)
		}
		calls++
		vectors, err := c.embedOnce(ctx, chunk, kind)
		if err != nil {
			return nil, calls, err
		}
		if len(vectors) != len(chunk) {
			return nil, calls, &services.ProviderError{
				Provider: c.cfg.Provider,
				Err:      fmt.Errorf("expected %d vectors, got %d", len(chunk), len(vectors)),
			}
		}
		out = append(out, vectors...)
	}
	return out, calls, nil
}

type openAIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type cohereRequest struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
	Truncate  string   `json:"truncate"`
}

type cohereResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Message    string      `json:"message"`
}

func (c *Client) embedOnce(ctx context.Context, inputs []string, kind InputKind) ([][]float64, error) {
	var (
		path    string
		payload any
	)
	switch c.cfg.Provider {
	case ProviderOpenAI:
		path = "embeddings"
		payload = openAIRequest{Model: c.cfg.Model, Input: inputs}
	case ProviderCohere:
		if kind == "" {
			kind = InputDocument
		}
		path = "embed"
		payload = cohereRequest{Model: c.cfg.Model, Texts: inputs, InputType: string(kind), Truncate: "END"}
	default:
		return nil, services.Wrap(services.ErrConfiguration, "embedding", "request", fmt.Sprintf("unsupported provider %q", c.cfg.Provider), nil)
	}

	body, err := c.post(ctx, path, payload)
	if err != nil {
		return nil, err
	}

	switch c.cfg.Provider {
	case ProviderOpenAI:
		var resp openAIResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, &services.ProviderError{Provider: c.cfg.Provider, Err: fmt.Errorf("decode response: %w", err)}
		}
		if resp.Error != nil {
			return nil, &services.ProviderError{Provider: c.cfg.Provider, Err: errors.New(strings.TrimSpace(resp.Error.Message))}
		}
		vectors := make([][]float64, len(resp.Data))
		for i, item := range resp.Data {
			idx := item.Index
			if idx < 0 || idx >= len(vectors) {
				idx = i
			}
			vectors[idx] = item.Embedding
		}
		return vectors, nil
	default:
		var resp cohereResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, &services.ProviderError{Provider: c.cfg.Provider, Err: fmt.Errorf("decode response: %w", err)}
		}
		if len(resp.Embeddings) == 0 && resp.Message != "" {
			return nil, &services.ProviderError{Provider: c.cfg.Provider, Err: errors.New(resp.Message)}
		}
		return resp.Embeddings, nil
	}
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "embedding", "build url", c.cfg.BaseURL, err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("embedding request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("embedding request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, c.statusError(resp, body)
	}
	return body, nil
}

func (c *Client) statusError(resp *http.Response, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody]
	}
	statusErr := fmt.Errorf("http %d: %s", resp.StatusCode, snippet)
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &services.RateLimitError{Source: c.cfg.Provider, RetryAfter: retryAfter, Err: statusErr}
	}
	temporary := resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= http.StatusInternalServerError
	return &services.ProviderError{
		Provider:   c.cfg.Provider,
		StatusCode: resp.StatusCode,
		Temporary:  temporary,
		Err:        statusErr,
	}
}

// transportError classifies failures below HTTP. Caller cancellation is never
// temporary; timeouts and connection failures are.
func (c *Client) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &services.ProviderError{Provider: c.cfg.Provider, Err: err}
	}
	temporary := false
	var netErr net.Error
	if errors.As(err, &netErr) {
		temporary = true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		temporary = true
	}
	return &services.ProviderError{
		Provider:  c.cfg.Provider,
		Temporary: temporary,
		Err:       fmt.Errorf("http error (timeout=%s): %w", c.httpClient.Timeout, err),
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
