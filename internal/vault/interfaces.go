package vault

import (
	"context"
	"io"
	"time"
)

// TaskStore tracks tasks through their lifecycle. Implementations must
// enforce the transition table (TaskStatus.CanTransitionTo) and keep
// progress monotonic; only the owning worker mutates a running task.
type TaskStore interface {
	CreateTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, taskID string) (Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)
	// UpdateTaskStatus applies one lifecycle transition. It stamps
	// StartedAt on entry to running and FinishedAt on any terminal status.
	UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, taskErr *TaskError) error
	SetTaskProgress(ctx context.Context, taskID string, p Progress) error
	SetTaskResult(ctx context.Context, taskID string, result ResultRef, items []ItemReport) error
	AddTaskWarning(ctx context.Context, taskID string, warning string) error
	IncTaskAttempt(ctx context.Context, taskID string) (int, error)
	// DeleteTask removes a terminal task. Deleting a live task fails.
	DeleteTask(ctx context.Context, taskID string) error
	// PurgeFinished removes every terminal task and reports how many went.
	PurgeFinished(ctx context.Context) (int, error)
}

// Ledger is the dedup ledger keyed by Identity.Key(). Record is atomic
// insert-if-absent: the first writer wins, every later writer gets
// ErrConflict. Lookup returns ErrNotFound for absent identities.
type Ledger interface {
	Lookup(ctx context.Context, id Identity) (DedupRecord, error)
	Record(ctx context.Context, rec DedupRecord) error
}

// Extractor resolves and materializes remote content. Probe must not
// download media; Fetch writes media plus sidecars under opts.OutputDir.
type Extractor interface {
	Probe(ctx context.Context, locator string) (Metadata, error)
	Fetch(ctx context.Context, locator string, identity Identity, opts FetchOptions) (FetchResult, error)
}

// BlobStore is durable object storage for finished artifacts.
type BlobStore interface {
	// Put streams one object and returns its canonical URI.
	Put(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	// List enumerates one scope with "/" as delimiter.
	List(ctx context.Context, scope string) (Listing, error)
	Delete(ctx context.Context, path string) error
	// DeletePrefix removes every object under the scope and reports the count.
	DeletePrefix(ctx context.Context, scope string) (int, error)
	// SignedURL mints a time-limited download link for one object.
	SignedURL(path string, ttl time.Duration) (string, error)
}

// ListingCache holds per-scope listings with a TTL. Invalidate and Insert
// cover the scope and every ancestor scope up to the root, so stale parent
// listings never survive a write deeper in the tree.
type ListingCache interface {
	Get(ctx context.Context, scope string) (Listing, bool, error)
	Put(ctx context.Context, scope string, listing Listing) error
	// Insert applies a single-object delta to every cached covering scope.
	Insert(ctx context.Context, scope string, obj ObjectInfo) error
	Invalidate(ctx context.Context, scope string) error
}

// Queue hands submitted tasks to workers in FIFO order.
type Queue interface {
	Enqueue(ctx context.Context, item TaskItem) error
	Dequeue(ctx context.Context) (TaskItem, error)
}

// Publisher emits lifecycle events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, payload []byte, attrs map[string]string) (string, error)
}

// Policy throttles outbound platform traffic. Acquire blocks until the
// caller may proceed or the context ends.
type Policy interface {
	Acquire(ctx context.Context, platform string) error
}

// Hasher fingerprints stored content.
type Hasher interface {
	Hash(data []byte) (string, error)
	// HashReader digests a stream and reports how many bytes it saw.
	HashReader(r io.Reader) (string, int64, error)
}

// IDGenerator mints task identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}
