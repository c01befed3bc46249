// Package config loads, normalizes, and validates boqmatch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks for the
// embedding API key, the HTTP bearer token and the Postgres DSN. Scoring
// weights, batching bounds and retry policies are exposed as plain values so
// the matching and job packages can build their own types from them.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
