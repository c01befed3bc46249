// Package logging assembles structured slog loggers and formatting helpers used
// across boqmatch.
//
// It owns the console and JSON handlers, rotates file output through
// lumberjack, and exposes context-aware helpers so matching and job code can
// tag log lines with job IDs, row numbers, methods and correlation IDs. A
// bounded StreamHub keeps recent events for the HTTP API, and NewNop provides
// a silent logger for tests and wiring code that cannot fail.
package logging
