// Package services defines shared utilities consumed by the matching engine,
// the job coordinator and the external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, row numbers, matching methods, and
//     correlation identifiers for logging and tracing.
//   - The error taxonomy (validation, empty catalog, provider, rate limit,
//     persistence, cancellation) as sentinel markers plus typed errors, and the
//     Classify helper that retry code uses instead of inspecting messages.
//   - The Wrap helper that adds stage/operation context while keeping markers
//     visible to errors.Is.
//
// Clients of external systems translate their failures into these types at the
// call boundary so retry and job policy stay uniform across the codebase.
package services
