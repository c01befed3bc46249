package logging

import (
	"context"
	"log/slog"

	"boqmatch/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID identifies the batch job a line belongs to.
	FieldJobID = "job_id"
	// FieldRowNumber is the 1-based spreadsheet row of the BOQ item being matched.
	FieldRowNumber = "row_number"
	// FieldMethod names the matching strategy (local, openai, cohere).
	FieldMethod = "method"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
	// FieldEventType classifies the event for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the operator's next step.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldDecisionType names the kind of selection being logged.
	FieldDecisionType   = "decision_type"
	FieldDecisionResult = "decision_result"
	FieldDecisionReason = "decision_reason"
	// FieldProgressPercent carries job completion in the range 0-100.
	FieldProgressPercent = "progress_percent"
	// FieldSessionID identifies one daemon process run.
	FieldSessionID = "session_id"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if row, ok := services.RowNumberFromContext(ctx); ok {
		fields = append(fields, slog.Int(FieldRowNumber, row))
	}
	if method, ok := services.MethodFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldMethod, method))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
