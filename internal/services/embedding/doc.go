// Package embedding is the HTTP client for remote embedding providers.
//
// Two wire shapes are supported: the OpenAI-compatible /embeddings endpoint
// and Cohere's /embed endpoint. Every request is paced by a shared token
// bucket. Failures come back as typed errors from internal/services
// (RateLimitError for HTTP 429, temporary ProviderError for timeouts, 408 and
// 5xx) so callers can wrap the client in a retry policy without inspecting
// message text. The client itself never retries.
package embedding
