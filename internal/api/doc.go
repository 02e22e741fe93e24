// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sessions to look up a novel and create an archive session.
//   - POST /v1/sessions/{id}/start and /stop to drive the archive loop.
//   - GET /v1/sessions/{id} for a chapter-by-chapter progress snapshot.
package api
