// Package api is the HTTP surface of boqmatch: the chi router served by the
// daemon, the wire types it speaks and the Client the CLI uses.
//
// # Routes
//
// Catalog: GET/POST /api/catalog, DELETE /api/catalog/{id}.
//
// Matching: POST /api/match (best candidate) and POST /api/match/top (top-k).
//
// Jobs: POST/GET /api/jobs, GET /api/jobs/{id}, POST /api/jobs/{id}/cancel,
// GET /api/jobs/{id}/results|stats|review|events, PUT
// /api/jobs/{id}/results/{row} for manual matches and POST
// /api/jobs/{id}/results/{row}/rematch.
//
// Operations: GET /api/health and GET /api/logs for live log tailing.
//
// # Design Notes
//
// Request bodies are validated against embedded JSON schemas before decoding,
// so handlers only see structurally valid input. Service errors are mapped
// onto status codes by their marker (validation 400, not found 404, rate
// limit 429, empty catalog 409, provider 502, persistence 503).
//
// Timestamps use RFC3339 with milliseconds. Progress events are delivered as
// server-sent events; the first event is always a snapshot of the persisted
// job so late subscribers see the current state.
package api
