// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Workflow definition management
//   - Manual triggers and webhook ingress
//   - Run snapshots, logs and cancellation
//   - Health checks
//   - Prometheus metrics
package http
