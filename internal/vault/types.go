package vault

import (
	"time"
)

// TaskStatus is the lifecycle state of a download task.
type TaskStatus string

const (
	TaskStatusQueued           TaskStatus = "queued"
	TaskStatusRunning          TaskStatus = "running"
	TaskStatusUploading        TaskStatus = "uploading"
	TaskStatusCompleted        TaskStatus = "completed"
	TaskStatusFailed           TaskStatus = "failed"
	TaskStatusSkippedDuplicate TaskStatus = "skipped_duplicate"
)

// Terminal reports whether the status admits no further transition.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkippedDuplicate:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle permits moving from s to next.
// The legal edges are queued->running, running->{uploading,skipped_duplicate,failed}
// and uploading->{completed,failed}.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusQueued:
		return next == TaskStatusRunning
	case TaskStatusRunning:
		return next == TaskStatusUploading || next == TaskStatusSkippedDuplicate || next == TaskStatusFailed
	case TaskStatusUploading:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	}
	return false
}

// LocatorKind distinguishes a single piece of content from a collection
// (playlist, channel, user page) that expands into many items.
type LocatorKind string

const (
	KindItem       LocatorKind = "item"
	KindCollection LocatorKind = "collection"
)

// CollectionOrder selects how collection entries are ordered before the
// collection limit is applied.
type CollectionOrder string

const (
	OrderNewest      CollectionOrder = "newest"
	OrderOldest      CollectionOrder = "oldest"
	OrderMostPopular CollectionOrder = "most_popular"
)

// Identity is the canonical key for one piece of remote content. Two
// locators that differ only cosmetically (tracking params, ordering params,
// scheme case) resolve to the same Identity.
type Identity struct {
	Platform  string      `json:"platform"`
	Kind      LocatorKind `json:"kind"`
	ContentID string      `json:"content_id"`
}

// Key returns the ledger key for the identity.
func (id Identity) Key() string {
	return id.Platform + ":" + id.ContentID
}

// Zero reports whether the identity is unset.
func (id Identity) Zero() bool {
	return id.Platform == "" && id.ContentID == ""
}

// TaskOptions carries the per-task knobs accepted at submission time.
// Zero values mean "use the configured default".
type TaskOptions struct {
	Quality          string          `json:"quality,omitempty"`
	IncludeSubtitles bool            `json:"include_subtitles,omitempty"`
	CollectionOrder  CollectionOrder `json:"collection_order,omitempty"`
	CollectionLimit  int             `json:"collection_limit,omitempty"`
}

// Progress is a monotonic snapshot of how far a task has advanced.
// For collections Items/ItemsDone count entries; Fraction stays in [0,1].
type Progress struct {
	Fraction   float64 `json:"fraction"`
	BytesDone  int64   `json:"bytes_done,omitempty"`
	BytesTotal int64   `json:"bytes_total,omitempty"`
	Items      int     `json:"items,omitempty"`
	ItemsDone  int     `json:"items_done,omitempty"`
}

// ErrorKind labels a task failure with its taxonomy class.
type ErrorKind string

const (
	ErrKindInvalidLocator ErrorKind = "invalid_locator"
	ErrKindUnreachable    ErrorKind = "unreachable"
	ErrKindUnsupported    ErrorKind = "unsupported"
	ErrKindConflict       ErrorKind = "conflict"
	ErrKindPartialContent ErrorKind = "partial_content"
	ErrKindStorageFailure ErrorKind = "storage_failure"
	ErrKindInternal       ErrorKind = "internal"
)

// TaskError is the stable failure record kept on a failed task.
type TaskError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// ResultRef points at the artifact a completed task produced.
type ResultRef struct {
	Title      string `json:"title,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`
	RemoteURI  string `json:"remote_uri,omitempty"`
	RemotePath string `json:"remote_path,omitempty"`
	Bytes      int64  `json:"bytes,omitempty"`
}

// ItemReport is the per-entry outcome recorded on collection tasks.
type ItemReport struct {
	ContentID string     `json:"content_id"`
	Title     string     `json:"title,omitempty"`
	Status    string     `json:"status"`
	Error     *TaskError `json:"error,omitempty"`
}

// Task is a single download request moving through the lifecycle.
type Task struct {
	ID         string       `json:"id"`
	Locator    string       `json:"locator"`
	Identity   Identity     `json:"identity"`
	Status     TaskStatus   `json:"status"`
	Options    TaskOptions  `json:"options"`
	Progress   Progress     `json:"progress"`
	Result     *ResultRef   `json:"result,omitempty"`
	Items      []ItemReport `json:"items,omitempty"`
	Warnings   []string     `json:"warnings,omitempty"`
	Error      *TaskError   `json:"error,omitempty"`
	Attempts   int          `json:"attempts"`
	CreatedAt  time.Time    `json:"created_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// TaskFilter narrows ListTasks. A nil Status matches every status.
type TaskFilter struct {
	Status   *TaskStatus
	Platform string
	Limit    int
	Offset   int
}

// TaskItem is the queue payload handed to workers.
type TaskItem struct {
	TaskID    string      `json:"task_id"`
	Locator   string      `json:"locator"`
	Identity  Identity    `json:"identity"`
	Options   TaskOptions `json:"options"`
	Attempt   int         `json:"attempt"`
	Submitted time.Time   `json:"submitted"`
}

// DedupRecord is one row of the dedup ledger: proof that the identity's
// content was durably stored, and where.
type DedupRecord struct {
	Identity   Identity  `json:"identity"`
	Title      string    `json:"title,omitempty"`
	RemoteURI  string    `json:"remote_uri,omitempty"`
	RemotePath string    `json:"remote_path,omitempty"`
	Checksum   string    `json:"checksum,omitempty"`
	Bytes      int64     `json:"bytes,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
	StoredAt   time.Time `json:"stored_at"`
}

// Metadata is what a probe learns about a locator without downloading it.
type Metadata struct {
	Identity    Identity          `json:"identity"`
	Title       string            `json:"title"`
	Uploader    string            `json:"uploader,omitempty"`
	DurationSec float64           `json:"duration_sec,omitempty"`
	ViewCount   int64             `json:"view_count,omitempty"`
	WebpageURL  string            `json:"webpage_url,omitempty"`
	Entries     []CollectionEntry `json:"entries,omitempty"`
}

// CollectionEntry is one member of a probed collection, in source order.
type CollectionEntry struct {
	ContentID string  `json:"content_id"`
	Title     string  `json:"title,omitempty"`
	URL       string  `json:"url,omitempty"`
	ViewCount int64   `json:"view_count,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
}

// ItemArtifact is one fetched entry: the media file plus any sidecars
// written next to it. Uploader feeds the remote scope the artifact will
// land under.
type ItemArtifact struct {
	Identity  Identity   `json:"identity"`
	Title     string     `json:"title,omitempty"`
	Uploader  string     `json:"uploader,omitempty"`
	MediaPath string     `json:"media_path,omitempty"`
	Sidecars  []string   `json:"sidecars,omitempty"`
	Bytes     int64      `json:"bytes,omitempty"`
	Err       *TaskError `json:"error,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`
}

// OK reports whether the entry produced a media file.
func (a ItemArtifact) OK() bool {
	return a.Err == nil && a.MediaPath != ""
}

// FetchResult is everything a fetch produced on local disk.
type FetchResult struct {
	Title string         `json:"title,omitempty"`
	Items []ItemArtifact `json:"items"`
}

// Succeeded returns the entries that produced media.
func (r FetchResult) Succeeded() []ItemArtifact {
	out := make([]ItemArtifact, 0, len(r.Items))
	for _, it := range r.Items {
		if it.OK() {
			out = append(out, it)
		}
	}
	return out
}

// Failed returns the entries that did not produce media.
func (r FetchResult) Failed() []ItemArtifact {
	out := make([]ItemArtifact, 0)
	for _, it := range r.Items {
		if !it.OK() {
			out = append(out, it)
		}
	}
	return out
}

// FetchOptions tells an extractor where and how to materialize content.
// Skip, when set, filters collection entries out before CollectionLimit
// truncates, so already-archived items never consume the limit.
type FetchOptions struct {
	TaskID           string
	OutputDir        string
	Quality          string
	IncludeSubtitles bool
	CollectionOrder  CollectionOrder
	CollectionLimit  int
	Skip             func(Identity) bool
	OnProgress       func(Progress)
}

// ObjectInfo describes one stored object in a listing.
type ObjectInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Updated time.Time `json:"updated,omitempty"`
}

// Listing is the delimiter-aware view of one storage scope: immediate
// child folders plus the objects directly under the scope.
type Listing struct {
	Scope     string       `json:"scope"`
	Folders   []string     `json:"folders"`
	Objects   []ObjectInfo `json:"objects"`
	FetchedAt time.Time    `json:"fetched_at"`
}
