// Package worker implements the download pipeline execution loop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/arkivist/mediavault/internal/metrics"
	"github.com/arkivist/mediavault/internal/progress"
	"github.com/arkivist/mediavault/internal/syncer"
	"github.com/arkivist/mediavault/internal/vault"
)

// Config controls Worker behavior.
type Config struct {
	// TaskTimeout bounds one task's fetch phase, retries included.
	TaskTimeout time.Duration
	// UploadTimeout bounds the upload phase, which runs detached from the
	// task context: once uploading starts it finishes or fails on its own.
	UploadTimeout time.Duration
	// OutputDir is the staging root; each task gets its own subdirectory.
	OutputDir string
	// Quality is the default format selector when a task does not set one.
	Quality string
	// IncludeSubtitles is the default sidecar toggle.
	IncludeSubtitles bool
	// CollectionLimit caps collection expansion when a task does not set one.
	CollectionLimit int
	// KeepStaging retains staging directories after a successful sync.
	KeepStaging bool
}

// Worker consumes queue items and executes the download pipeline: dedup
// check, fetch with retry, storage sync, ledger record, event publish. A
// worker owns the task it is processing exclusively until it is terminal.
type Worker struct {
	queue     vault.Queue
	tasks     vault.TaskStore
	ledger    vault.Ledger
	extractor vault.Extractor
	syncer    *syncer.Syncer
	publisher vault.Publisher
	clock     vault.Clock
	locks     *IdentityLocks
	retry     *vault.ExponentialRetryPolicy
	emitter   progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. locks must be shared by every worker in the pool.
func New(
	queue vault.Queue,
	tasks vault.TaskStore,
	ledger vault.Ledger,
	extractor vault.Extractor,
	sync *syncer.Syncer,
	publisher vault.Publisher,
	clock vault.Clock,
	locks *IdentityLocks,
	retry *vault.ExponentialRetryPolicy,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locks == nil {
		locks = NewIdentityLocks()
	}
	if retry == nil {
		retry = vault.NewExponentialRetryPolicy()
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Minute
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = cfg.TaskTimeout
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "data/media"
	}
	return &Worker{
		queue:     queue,
		tasks:     tasks,
		ledger:    ledger,
		extractor: extractor,
		syncer:    sync,
		publisher: publisher,
		clock:     clock,
		locks:     locks,
		retry:     retry,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", item.TaskID))
		w.processTask(ctx, item)
	}
}

func (w *Worker) processTask(ctx context.Context, item vault.TaskItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	startedAt := w.clock.Now()

	if err := w.tasks.UpdateTaskStatus(ctx, item.TaskID, vault.TaskStatusRunning, nil); err != nil {
		w.logger.Error("task start transition failed",
			zap.String("task_id", item.TaskID), zap.Error(err))
		return
	}
	w.emit(progress.Event{
		TaskID:   progress.TaskIDBytes(item.TaskID),
		TS:       startedAt,
		Stage:    progress.StageTaskStart,
		Platform: item.Identity.Platform,
		Locator:  item.Locator,
	})

	// Same-identity tasks run one at a time so the ledger check and the
	// eventual record cannot interleave between pool members.
	release := w.locks.Acquire(item.Identity.Key())
	defer release()

	if item.Identity.Kind == vault.KindItem {
		if rec, hit := w.lookupLedger(ctx, item); hit {
			w.skipDuplicate(ctx, item, rec, startedAt)
			return
		}
	}

	stagingDir := filepath.Join(w.cfg.OutputDir, item.TaskID)
	res, fetchErr := w.fetchWithRetry(ctx, item, stagingDir)

	var partial *vault.PartialError
	if fetchErr != nil && !errors.As(fetchErr, &partial) {
		w.failTask(ctx, item, fetchErr, startedAt)
		w.cleanupStaging(stagingDir)
		return
	}

	w.uploadAndFinish(ctx, item, res, partial, stagingDir, startedAt)
}

// lookupLedger reports whether the identity is already archived. Ledger
// read errors degrade to a miss: the insert-if-absent record at completion
// still guarantees at most one stored artifact per identity.
func (w *Worker) lookupLedger(ctx context.Context, item vault.TaskItem) (vault.DedupRecord, bool) {
	rec, err := w.ledger.Lookup(ctx, item.Identity)
	if err == nil {
		return rec, true
	}
	if !errors.Is(err, vault.ErrNotFound) {
		w.logger.Warn("ledger lookup degraded",
			zap.String("task_id", item.TaskID),
			zap.String("identity", item.Identity.Key()),
			zap.Error(err))
	}
	return vault.DedupRecord{}, false
}

// skipDuplicate short-circuits a task whose content is already archived.
func (w *Worker) skipDuplicate(ctx context.Context, item vault.TaskItem, rec vault.DedupRecord, startedAt time.Time) {
	result := vault.ResultRef{
		Title:      rec.Title,
		RemoteURI:  rec.RemoteURI,
		RemotePath: rec.RemotePath,
		Bytes:      rec.Bytes,
	}
	if err := w.tasks.SetTaskResult(ctx, item.TaskID, result, nil); err != nil {
		w.logger.Error("set skip result failed", zap.String("task_id", item.TaskID), zap.Error(err))
	}
	if err := w.tasks.UpdateTaskStatus(ctx, item.TaskID, vault.TaskStatusSkippedDuplicate, nil); err != nil {
		w.logger.Error("skip transition failed", zap.String("task_id", item.TaskID), zap.Error(err))
		return
	}

	now := w.clock.Now()
	metrics.ObserveDedupHit(item.Identity.Platform)
	metrics.ObserveTask(string(vault.TaskStatusSkippedDuplicate), now.Sub(startedAt))
	w.emit(progress.Event{
		TaskID:   progress.TaskIDBytes(item.TaskID),
		TS:       now,
		Stage:    progress.StageItemDone,
		Platform: item.Identity.Platform,
		Items:    1,
		Outcome:  progress.OutcomeSkipped,
	})
	w.emit(progress.Event{
		TaskID:   progress.TaskIDBytes(item.TaskID),
		TS:       now,
		Stage:    progress.StageTaskSkip,
		Platform: item.Identity.Platform,
		Dur:      now.Sub(startedAt),
	})
	w.publishTerminal(ctx, item, vault.TaskStatusSkippedDuplicate, &result, nil)
	w.logger.Info("task skipped, identity already archived",
		zap.String("task_id", item.TaskID),
		zap.String("identity", item.Identity.Key()),
		zap.String("remote_uri", rec.RemoteURI))
}

// fetchWithRetry runs the extraction under the task timeout, retrying
// transient failures with backoff. Deterministic failures return on the
// first attempt.
func (w *Worker) fetchWithRetry(ctx context.Context, item vault.TaskItem, stagingDir string) (vault.FetchResult, error) {
	taskCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	defer cancel()

	opts := w.fetchOptions(ctx, item, stagingDir)

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			backoff := w.retry.Backoff(attempt - 1)
			w.logger.Info("retrying fetch",
				zap.String("task_id", item.TaskID),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff))
			select {
			case <-taskCtx.Done():
				return vault.FetchResult{}, fmt.Errorf("retry wait: %w", taskCtx.Err())
			case <-time.After(backoff):
			}
		}

		if _, err := w.tasks.IncTaskAttempt(ctx, item.TaskID); err != nil {
			w.logger.Warn("attempt counter update failed", zap.String("task_id", item.TaskID), zap.Error(err))
		}

		res, err := w.extractor.Fetch(taskCtx, item.Locator, item.Identity, opts)
		if err == nil {
			return res, nil
		}
		lastErr = err
		var partial *vault.PartialError
		if errors.As(err, &partial) {
			// Partial batches are not retried: re-fetching would
			// re-download the entries that already succeeded.
			return res, err
		}
		if !w.retry.ShouldRetry(err, attempt+1) {
			return vault.FetchResult{}, lastErr
		}
	}
}

func (w *Worker) fetchOptions(ctx context.Context, item vault.TaskItem, stagingDir string) vault.FetchOptions {
	opts := vault.FetchOptions{
		TaskID:           item.TaskID,
		OutputDir:        stagingDir,
		Quality:          item.Options.Quality,
		IncludeSubtitles: item.Options.IncludeSubtitles || w.cfg.IncludeSubtitles,
		CollectionOrder:  item.Options.CollectionOrder,
		CollectionLimit:  item.Options.CollectionLimit,
	}
	if opts.Quality == "" {
		opts.Quality = w.cfg.Quality
	}
	if opts.CollectionLimit <= 0 {
		opts.CollectionLimit = w.cfg.CollectionLimit
	}
	if opts.CollectionOrder == "" {
		opts.CollectionOrder = vault.OrderNewest
	}
	// Entries already in the ledger are dropped before the collection limit
	// is applied, so archived items never consume the budget.
	opts.Skip = func(id vault.Identity) bool {
		if id.Zero() {
			return false
		}
		_, err := w.ledger.Lookup(ctx, id)
		return err == nil
	}
	opts.OnProgress = func(p vault.Progress) {
		if err := w.tasks.SetTaskProgress(ctx, item.TaskID, p); err != nil {
			w.logger.Debug("progress update failed", zap.String("task_id", item.TaskID), zap.Error(err))
		}
	}
	return opts
}

// uploadAndFinish moves the task through uploading to its terminal status.
// The upload phase runs on a context detached from the worker's: shutdown
// or cancellation never leaves a half-written remote object behind.
func (w *Worker) uploadAndFinish(
	ctx context.Context,
	item vault.TaskItem,
	res vault.FetchResult,
	partial *vault.PartialError,
	stagingDir string,
	startedAt time.Time,
) {
	if err := w.tasks.UpdateTaskStatus(ctx, item.TaskID, vault.TaskStatusUploading, nil); err != nil {
		w.logger.Error("upload transition failed", zap.String("task_id", item.TaskID), zap.Error(err))
		return
	}
	w.emit(progress.Event{
		TaskID:   progress.TaskIDBytes(item.TaskID),
		TS:       w.clock.Now(),
		Stage:    progress.StageTaskUpload,
		Platform: item.Identity.Platform,
	})

	upCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.UploadTimeout)
	defer cancel()

	reports := make([]vault.ItemReport, 0, len(res.Items))
	var firstStored *syncer.StoredArtifact
	var totalBytes int64
	done := 0

	for _, art := range res.Items {
		if !art.OK() {
			reports = append(reports, vault.ItemReport{
				ContentID: art.Identity.ContentID,
				Title:     art.Title,
				Status:    string(vault.TaskStatusFailed),
				Error:     art.Err,
			})
			w.emitItem(item, art.Identity, progress.OutcomeFailed, 0, 0)
			metrics.ObserveItem(art.Identity.Platform, string(progress.OutcomeFailed), 0)
			continue
		}

		itemStart := w.clock.Now()
		stored, err := w.syncer.Store(upCtx, art)
		if err != nil {
			// Artifact stays on local disk for external remediation.
			w.emitItem(item, art.Identity, progress.OutcomeFailed, 0, 0)
			metrics.ObserveItem(art.Identity.Platform, string(progress.OutcomeFailed), 0)
			w.failUpload(upCtx, item, err, startedAt)
			return
		}
		w.recordLedger(upCtx, item, art, stored)
		for _, warning := range art.Warnings {
			if warnErr := w.tasks.AddTaskWarning(upCtx, item.TaskID, warning); warnErr != nil {
				w.logger.Debug("warning append failed", zap.String("task_id", item.TaskID), zap.Error(warnErr))
			}
		}

		reports = append(reports, vault.ItemReport{
			ContentID: art.Identity.ContentID,
			Title:     art.Title,
			Status:    string(vault.TaskStatusCompleted),
		})
		if firstStored == nil {
			s := stored
			firstStored = &s
		}
		totalBytes += stored.TotalBytes
		done++

		w.emitItem(item, art.Identity, progress.OutcomeCompleted, stored.TotalBytes, w.clock.Now().Sub(itemStart))
		metrics.ObserveItem(art.Identity.Platform, string(progress.OutcomeCompleted), stored.TotalBytes)
		if err := w.tasks.SetTaskProgress(upCtx, item.TaskID, vault.Progress{
			Fraction:  float64(done) / float64(len(res.Items)),
			BytesDone: totalBytes,
			Items:     len(res.Items),
			ItemsDone: done,
		}); err != nil {
			w.logger.Debug("progress update failed", zap.String("task_id", item.TaskID), zap.Error(err))
		}
	}

	if done == 0 {
		w.failUpload(upCtx, item, fmt.Errorf("no entries produced media: %w", vault.ErrUnsupported), startedAt)
		return
	}

	result := vault.ResultRef{
		Title:     res.Title,
		LocalPath: stagingDir,
		Bytes:     totalBytes,
	}
	if item.Identity.Kind == vault.KindItem && firstStored != nil {
		result.RemoteURI = firstStored.RemoteURI
		result.RemotePath = firstStored.RemotePath
	}
	var itemReports []vault.ItemReport
	if item.Identity.Kind == vault.KindCollection {
		itemReports = reports
	}
	if err := w.tasks.SetTaskResult(upCtx, item.TaskID, result, itemReports); err != nil {
		w.logger.Error("set result failed", zap.String("task_id", item.TaskID), zap.Error(err))
	}
	if partial != nil {
		if err := w.tasks.AddTaskWarning(upCtx, item.TaskID, partial.Error()); err != nil {
			w.logger.Debug("warning append failed", zap.String("task_id", item.TaskID), zap.Error(err))
		}
	}
	if err := w.tasks.UpdateTaskStatus(upCtx, item.TaskID, vault.TaskStatusCompleted, nil); err != nil {
		w.logger.Error("completion transition failed", zap.String("task_id", item.TaskID), zap.Error(err))
		return
	}

	now := w.clock.Now()
	metrics.ObserveTask(string(vault.TaskStatusCompleted), now.Sub(startedAt))
	w.emit(progress.Event{
		TaskID:   progress.TaskIDBytes(item.TaskID),
		TS:       now,
		Stage:    progress.StageTaskDone,
		Platform: item.Identity.Platform,
		Bytes:    totalBytes,
		Dur:      now.Sub(startedAt),
	})
	w.publishTerminal(upCtx, item, vault.TaskStatusCompleted, &result, nil)
	if !w.cfg.KeepStaging {
		w.cleanupStaging(stagingDir)
	}
	w.logger.Info("task completed",
		zap.String("task_id", item.TaskID),
		zap.String("identity", item.Identity.Key()),
		zap.Int("items", done),
		zap.Int64("bytes", totalBytes))
}

// recordLedger inserts the dedup record for one stored artifact. A conflict
// means another instance archived the identity during our window; the
// artifact paths are deterministic so the write was idempotent.
func (w *Worker) recordLedger(ctx context.Context, item vault.TaskItem, art vault.ItemArtifact, stored syncer.StoredArtifact) {
	rec := vault.DedupRecord{
		Identity:   art.Identity,
		Title:      art.Title,
		RemoteURI:  stored.RemoteURI,
		RemotePath: stored.RemotePath,
		Checksum:   stored.Checksum,
		Bytes:      stored.TotalBytes,
		TaskID:     item.TaskID,
		StoredAt:   w.clock.Now(),
	}
	err := w.ledger.Record(ctx, rec)
	switch {
	case err == nil:
	case errors.Is(err, vault.ErrConflict):
		warning := fmt.Sprintf("identity %s was recorded concurrently elsewhere", art.Identity.Key())
		if warnErr := w.tasks.AddTaskWarning(ctx, item.TaskID, warning); warnErr != nil {
			w.logger.Debug("warning append failed", zap.String("task_id", item.TaskID), zap.Error(warnErr))
		}
		w.logger.Warn("ledger record conflict",
			zap.String("task_id", item.TaskID),
			zap.String("identity", art.Identity.Key()))
		w.logDrift(ctx, item, art, stored)
	default:
		w.logger.Error("ledger record failed",
			zap.String("task_id", item.TaskID),
			zap.String("identity", art.Identity.Key()),
			zap.Error(err))
	}
}

// logDrift compares a fresh download against the archived ledger record
// for the same identity. A mismatch means the remote content changed since
// it was archived; the archived copy stays authoritative.
func (w *Worker) logDrift(ctx context.Context, item vault.TaskItem, art vault.ItemArtifact, stored syncer.StoredArtifact) {
	winner, err := w.ledger.Lookup(ctx, art.Identity)
	if err != nil {
		return
	}
	if winner.Checksum == stored.Checksum && winner.Bytes == stored.TotalBytes {
		return
	}
	w.logger.Warn("content drifted from archived copy",
		zap.String("task_id", item.TaskID),
		zap.String("identity", art.Identity.Key()),
		zap.String("archived_checksum", winner.Checksum),
		zap.String("fetched_checksum", stored.Checksum),
		zap.Int64("archived_bytes", winner.Bytes),
		zap.Int64("fetched_bytes", stored.TotalBytes))
}

// failTask finalizes a task that never reached the upload phase.
func (w *Worker) failTask(ctx context.Context, item vault.TaskItem, err error, startedAt time.Time) {
	taskErr := vault.Classify(err)
	if updateErr := w.tasks.UpdateTaskStatus(ctx, item.TaskID, vault.TaskStatusFailed, taskErr); updateErr != nil {
		w.logger.Error("failure transition failed", zap.String("task_id", item.TaskID), zap.Error(updateErr))
		return
	}
	w.finishFailed(ctx, item, taskErr, startedAt)
}

// failUpload finalizes a task whose storage sync failed.
func (w *Worker) failUpload(ctx context.Context, item vault.TaskItem, err error, startedAt time.Time) {
	taskErr := vault.Classify(err)
	if updateErr := w.tasks.UpdateTaskStatus(ctx, item.TaskID, vault.TaskStatusFailed, taskErr); updateErr != nil {
		w.logger.Error("failure transition failed", zap.String("task_id", item.TaskID), zap.Error(updateErr))
		return
	}
	w.finishFailed(ctx, item, taskErr, startedAt)
}

func (w *Worker) finishFailed(ctx context.Context, item vault.TaskItem, taskErr *vault.TaskError, startedAt time.Time) {
	now := w.clock.Now()
	metrics.ObserveTask(string(vault.TaskStatusFailed), now.Sub(startedAt))
	w.emit(progress.Event{
		TaskID:   progress.TaskIDBytes(item.TaskID),
		TS:       now,
		Stage:    progress.StageTaskError,
		Platform: item.Identity.Platform,
		Dur:      now.Sub(startedAt),
		Note:     taskErr.Message,
	})
	w.publishTerminal(ctx, item, vault.TaskStatusFailed, nil, taskErr)
	w.logger.Warn("task failed",
		zap.String("task_id", item.TaskID),
		zap.String("identity", item.Identity.Key()),
		zap.String("kind", string(taskErr.Kind)),
		zap.Bool("retryable", taskErr.Retryable),
		zap.String("error", taskErr.Message))
}

// publishTerminal emits the lifecycle event for downstream consumers.
// Publish failures are logged, never propagated: the task outcome is
// already durable in the registry.
func (w *Worker) publishTerminal(
	ctx context.Context,
	item vault.TaskItem,
	status vault.TaskStatus,
	result *vault.ResultRef,
	taskErr *vault.TaskError,
) {
	if w.publisher == nil {
		return
	}
	payload := map[string]any{
		"task_id":     item.TaskID,
		"locator":     item.Locator,
		"platform":    item.Identity.Platform,
		"content_id":  item.Identity.ContentID,
		"status":      string(status),
		"finished_at": w.clock.Now().Format(time.RFC3339),
	}
	if result != nil {
		payload["remote_uri"] = result.RemoteURI
		payload["bytes"] = result.Bytes
	}
	if taskErr != nil {
		payload["error_kind"] = string(taskErr.Kind)
		payload["error"] = taskErr.Message
		payload["retryable"] = taskErr.Retryable
	}
	data, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error("marshal terminal event", zap.String("task_id", item.TaskID), zap.Error(err))
		return
	}
	attrs := map[string]string{
		"status":   string(status),
		"platform": item.Identity.Platform,
	}
	if _, err := w.publisher.Publish(ctx, data, attrs); err != nil {
		w.logger.Warn("terminal event publish failed", zap.String("task_id", item.TaskID), zap.Error(err))
	}
}

func (w *Worker) emit(evt progress.Event) {
	if w.emitter == nil {
		return
	}
	w.emitter.Emit(evt)
}

func (w *Worker) emitItem(item vault.TaskItem, id vault.Identity, outcome progress.Outcome, bytes int64, dur time.Duration) {
	platform := id.Platform
	if platform == "" {
		platform = item.Identity.Platform
	}
	w.emit(progress.Event{
		TaskID:   progress.TaskIDBytes(item.TaskID),
		TS:       w.clock.Now(),
		Stage:    progress.StageItemDone,
		Platform: platform,
		Bytes:    bytes,
		Items:    1,
		Outcome:  outcome,
		Dur:      dur,
	})
}

func (w *Worker) cleanupStaging(stagingDir string) {
	if stagingDir == "" {
		return
	}
	if err := os.RemoveAll(stagingDir); err != nil {
		w.logger.Warn("staging cleanup failed", zap.String("dir", stagingDir), zap.Error(err))
	}
}
