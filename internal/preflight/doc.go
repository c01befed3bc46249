// Package preflight provides readiness checks for the filesystem paths,
// the store and the embedding provider boqmatch depends on.
//
// These checks run in two contexts:
//   - boqmatchd calls RunAll at startup and logs every failure before it
//     opens the listener.
//   - The CLI "boqmatch status" command uses RunAll together with
//     CheckStore to display readiness without a running daemon.
//
// Checks for optional features are skipped when the feature is not
// configured.
package preflight
