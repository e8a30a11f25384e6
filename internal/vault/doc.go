// Package vault defines the core vocabulary of the download orchestrator:
// task lifecycle types, the logical-identity model used for deduplication,
// the error taxonomy surfaced to callers, and the small interfaces each
// subsystem consumes. Implementations live under internal/storage,
// internal/cache, internal/extractor, and friends; this package holds no
// I/O of its own.
package vault
