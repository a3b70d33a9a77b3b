// Package main hosts the extractor service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, /reddit-thread and /amazon-reviews. Handlers validate
//     the query, build an extract.Request and hand it to the orchestrator; nothing is queued or persisted.
//   - Orchestration: extract.Orchestrator canonicalizes the input URL, acquires one isolated session, fetches each
//     page under a per-fetch timeout, classifies block pages and extracts the payload. The session is released on
//     every exit path.
//   - Sessions: browser.engine selects headless Chrome (internal/fetcher/headless, chromedp) or plain HTTP
//     (internal/fetcher/colly). Both bound concurrency with a semaphore and pick one proxy per session.
//   - Pacing: internal/policy/ratelimit wraps the provider with per-host token buckets when browser.domain_qps > 0.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Quick checklist:
//   - Configure env vars: EXTRACTOR_SERVER_PORT or PORT, EXTRACTOR_BROWSER_ENGINE, EXTRACTOR_BROWSER_EXEC_PATH,
//     EXTRACTOR_LISTING_BLOCK_POLICY, EXTRACTOR_AUTH_ENABLED and EXTRACTOR_AUTH_API_KEY.
//   - Run locally: go run ./cmd/extractor serve --config config.yaml (or rely solely on env overrides).
//   - One-off: go run ./cmd/extractor reviews https://www.amazon.com/dp/B08N5WRWNW --pages 2
package main
