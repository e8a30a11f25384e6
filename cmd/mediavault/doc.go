// Package main hosts the media vault service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, task management, and
//     library endpoints. Submitted locators are resolved to a content identity up
//     front, persisted via the TaskStore, and enqueued for the worker pool; invalid
//     locators are rejected before any task record exists.
//   - Dispatcher & queue: tasks flow through a bounded in-memory queue sized by
//     downloads.queue_depth and are fanned out to a fixed worker pool sized by
//     downloads.concurrency. Context cancellation stops workers cleanly on shutdown.
//   - Download pipeline: workers consult the dedup ledger first and short-circuit
//     known identities as skipped_duplicate. Misses are fetched through the selector
//     (direct HTTP for plain media files, the yt-dlp backend for everything else)
//     with bounded retries for transient failures, staged locally, then synced to
//     the configured blob store (memory/local/GCS). The listing cache is updated
//     before the task is marked completed, so a read after the acknowledgement
//     always sees the new object.
//   - Persistence & fanout: the dedup ledger lives in Postgres when a DSN is
//     configured (in-memory otherwise); per-platform download aggregates follow the
//     same split. Terminal transitions publish a compact Pub/Sub notification when a
//     topic is configured. Progress events are buffered in the hub and batched to
//     the log, stats-store, and Prometheus sinks.
//   - Configuration & plumbing: Viper populates config from env/files (prefix
//     MEDIAVAULT); zap provides structured logging; Prometheus metrics are exported
//     via the metrics middleware and /metrics handler; optional per-platform rate
//     limiting throttles outbound traffic.
//
// Operational notes:
//   - Concurrency model: bounded queue + fixed worker pool; tasks sharing an
//     identity are serialized in-process so the ledger lookup/record pair cannot
//     interleave. Uploads run detached from task cancellation: once uploading
//     starts it finishes or fails on its own budget.
//   - Retries: transient (unreachable) failures back off exponentially with jitter
//     up to retry.max_attempts; deterministic failures (unsupported, invalid) fail
//     fast. Partial collection results are kept, recorded per item, and never
//     re-fetched wholesale.
//   - Observability: zap logs carry task IDs and identities at key transitions;
//     Prometheus counters/histograms track tasks, items, dedup hits, cache lookups,
//     uploads, and HTTP traffic; the progress hub batches lifecycle events for
//     downstream sinks.
//
// Quick checklist:
//   - Configure env vars: MEDIAVAULT_SERVER_PORT, MEDIAVAULT_DOWNLOADS_CONCURRENCY,
//     MEDIAVAULT_STORAGE_BACKEND (+bucket/base_dir), MEDIAVAULT_CACHE_BACKEND
//     (+redis addr), MEDIAVAULT_DATABASE_DSN, and MEDIAVAULT_PUBSUB_* when
//     persistence and fanout beyond memory are required.
//   - Run locally: go run ./cmd/mediavault -config config.yaml (or rely solely on
//     env overrides).
//   - Containers: the HTTP server listens on the configured port, remains stateless
//     across requests, and shuts down cleanly on SIGTERM with in-flight work bounded
//     by per-task timeouts.
package main
