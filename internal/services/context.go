package services

import "context"

type contextKey string

const (
	jobIDKey     contextKey = "job_id"
	rowNumberKey contextKey = "row_number"
	methodKey    contextKey = "method"
	requestIDKey contextKey = "request_id"
)

// WithJobID annotates context with the job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRowNumber annotates context with the line item row number.
func WithRowNumber(ctx context.Context, row int) context.Context {
	return context.WithValue(ctx, rowNumberKey, row)
}

// RowNumberFromContext extracts the row number if present.
func RowNumberFromContext(ctx context.Context) (int, bool) {
	v := ctx.Value(rowNumberKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	default:
		return 0, false
	}
}

// WithMethod annotates context with the matching method name.
func WithMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, methodKey, method)
}

// MethodFromContext returns the matching method if present.
func MethodFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(methodKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
