// Package main hosts the permit harvester entrypoint.
//
// Architecture overview:
//   - Scheduler: internal/scheduler picks one target per cycle with a
//     health-weighted random draw, retries failed harvests with linearly
//     growing waits, and paces each cycle with a random delay before the
//     harvest fires.
//   - Session: internal/session walks a target's adapter chain in order,
//     paging each endpoint until exhaustion, deduplicating by permit
//     number, and saving partial batches when a source dies mid-harvest.
//   - Adapters: internal/adapter wraps five fetch strategies (ArcGIS,
//     Socrata, bulk CSV, static HTML tables, browser-rendered pages)
//     behind one paging interface, plus auto-discovery of ArcGIS service
//     URLs embedded in GIS portal pages.
//   - Persistence & fanout: batches land as dated CSV files and optionally
//     in Postgres and GCS; completions are published to Pub/Sub when a
//     topic is configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap
//     provides structured logging; Prometheus metrics are exported via the
//     /metrics handler; the status server exposes per-target health.
//
// Operational notes:
//   - Concurrency model: one harvest at a time by design; sources are
//     municipal servers that tolerate little load. Headless renders have
//     their own semaphore inside the Chromedp renderer. Shutdown is
//     coordinated via context cancellation from main through the
//     scheduler into in-flight page fetches.
//   - Observability: zap logs carry target and adapter names at key
//     transitions; Prometheus counters/histograms track cycles, records,
//     partial saves, alerts, and pacing.
//
// Quick checklist:
//   - Configure env vars with the HARVESTER_ prefix (HARVESTER_SERVER_PORT,
//     HARVESTER_FETCH_TIMEOUT_SECONDS, HARVESTER_HEADLESS_ENABLED,
//     HARVESTER_DB_DSN, HARVESTER_STORAGE_GCS_BUCKET, ...) or pass a YAML
//     file; targets and routing are file-only.
//   - Run locally: go run ./cmd/harvester -config config.yaml
package main
