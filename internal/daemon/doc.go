// Package daemon coordinates the long-running boqmatchd process.
//
// It owns the single-instance flock, the HTTP listener serving the api
// router and the hand-off to the job coordinator: jobs interrupted by a
// previous shutdown are resumed on Start, and Stop drains the listener
// before halting the coordinator so in-flight jobs stay resumable.
//
// Keep orchestration logic here. Matching, persistence and HTTP handlers
// live in their own packages; the daemon focuses on startup, shutdown and
// process-level state.
package daemon
