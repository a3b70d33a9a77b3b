// Package api hosts the HTTP server, middleware, and handlers for on-demand
// extraction. Notable routes:
//   - GET / for a usage banner.
//   - GET /health, /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /reddit-thread?url= for a discussion thread's JSON document.
//   - GET /amazon-reviews?url=&pages= for a product's recent reviews.
//
// Extraction errors map to 400 for bad input, 502 when the remote site blocked
// the request, and 500 for everything else.
package api
