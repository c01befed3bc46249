// Package notifications publishes job outcomes to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// the job coordinator can call it unconditionally. Failures and cancellations
// are always sent; successful completions only when notify_on_completed is
// enabled.
package notifications
