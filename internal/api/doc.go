// Package api hosts the HTTP status server for operator access. Notable
// routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /status for per-target harvest health.
//   - GET /targets for the configured target roster.
package api
