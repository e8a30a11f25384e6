// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/tasks and /v1/tasks/batch for download submission.
//   - GET /v1/library for the cached storage listing; DELETE routes for
//     remote housekeeping.
//   - GET /v1/stats/platforms for per-platform download aggregates.
package api
