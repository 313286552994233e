// Package api serves the control-plane HTTP surface: donor, alert, ranking and
// payment-link writes backed by the donations store, plus relay status and
// restart for operators.
//
// # Endpoints
//
// POST /donors, POST /alerts, POST /ranking: overlay data writes. Validation
// failures map to 400 with {"error": "..."}.
//
// GET/PUT /payment-link: the single global call-to-action. When a token is
// configured both methods require "Authorization: Bearer <token>" or
// "X-API-Key: <token>".
//
// GET /api/status: relay counters, overlay refresh health and the startup
// dependency snapshot.
//
// POST /api/relay/restart: intentional restart with a timestamp reset,
// guarded by the same token.
//
// # Design Notes
//
// Wire types use snake_case JSON to match the write payloads. Every request
// gets an X-Request-ID (a uuid unless the caller supplied one) that is carried
// into log lines through the request context. Successful overlay writes ask
// the refresher for an early refresh so the stream reflects them promptly.
package api
