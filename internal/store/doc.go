// Package store persists the catalog, jobs, job items and match results.
//
// A single Store type serves two backends: SQLite (modernc.org/sqlite, the
// default for single-host installs) and Postgres (pgx pool, for shared
// deployments). Queries are written once with `?` placeholders and rebound
// for Postgres. Both backends share the same schema version and contract.
//
// Throttling from the database surfaces as services.RateLimitError and
// connection failures as transient services.PersistenceError, so callers can
// drive retries through the retry package without inspecting driver errors.
//
// Match results written by the matcher never overwrite a row a user edited by
// hand; only an explicit forced overwrite does.
//
// Schema changes bump schemaVersion in schema.go; existing databases must be
// recreated to adopt a new schema.
package store
