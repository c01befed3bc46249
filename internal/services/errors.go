package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrValidation            = errors.New("validation error")
	ErrEmptyCatalog          = errors.New("empty catalog")
	ErrProvider              = errors.New("provider error")
	ErrRateLimited           = errors.New("rate limited")
	ErrPersistence           = errors.New("persistence error")
	ErrCancellationRequested = errors.New("cancellation requested")
	ErrConfiguration         = errors.New("configuration error")
	ErrNotFound              = errors.New("not found")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrProvider
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// ValidationError reports an input that can never succeed, such as an empty
// description or a malformed job request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError is shorthand for a ValidationError value.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// RateLimitError signals throttling by a provider or the store. RetryAfter is
// the server hint when one was supplied.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("%s: rate limited", e.Source)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitError) Unwrap() error { return e.Err }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// ProviderError reports a failed call to an embedding provider. Temporary marks
// failures worth retrying (timeouts, connection resets, 5xx).
type ProviderError struct {
	Provider   string
	StatusCode int
	Temporary  bool
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": provider error")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// PersistenceError reports a failed store operation. Transient marks
// connection-level failures that may succeed on retry.
type PersistenceError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *PersistenceError) Error() string {
	if e.Err == nil {
		return "persistence: " + e.Op
	}
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Class is the retry classification of an error.
type Class int

const (
	ClassOther Class = iota
	ClassRateLimit
	ClassNetwork
)

func (c Class) String() string {
	switch c {
	case ClassRateLimit:
		return "rate_limit"
	case ClassNetwork:
		return "network"
	default:
		return "other"
	}
}

// Classify maps an error to its retry class using its type only.
func Classify(err error) Class {
	if err == nil {
		return ClassOther
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return ClassRateLimit
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.Temporary {
		return ClassNetwork
	}
	var persistErr *PersistenceError
	if errors.As(err, &persistErr) && persistErr.Transient {
		return ClassNetwork
	}
	return ClassOther
}

// RetryAfter extracts a server-provided retry hint from err, if any.
func RetryAfter(err error) time.Duration {
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return rateErr.RetryAfter
	}
	return 0
}
