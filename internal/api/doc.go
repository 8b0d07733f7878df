// Package api hosts the read-only HTTP query service over the canonical
// store. Notable routes:
//   - GET /health for liveness probes.
//   - GET /metrics, /entities, /facts for catalog and fact queries.
//   - GET /compare for year-over-year deltas per entity.
//   - GET /evidence and /raw/{artifact_id} to walk a fact back to the
//     exact bytes it was derived from.
//   - GET /dashboard for the headline-metric summary.
//   - GET /debug/metrics for Prometheus scraping.
//
// The service is a strict reader: no handler mutates canonical data.
package api
