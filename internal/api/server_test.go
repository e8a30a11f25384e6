package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cachemem "github.com/arkivist/mediavault/internal/cache/memory"
	"github.com/arkivist/mediavault/internal/config"
	"github.com/arkivist/mediavault/internal/dispatcher"
	"github.com/arkivist/mediavault/internal/library"
	"github.com/arkivist/mediavault/internal/metrics"
	queuemem "github.com/arkivist/mediavault/internal/queue/memory"
	storagemem "github.com/arkivist/mediavault/internal/storage/memory"
	"github.com/arkivist/mediavault/internal/store"
	"github.com/arkivist/mediavault/internal/vault"
)

func TestServer_SubmitTask_Succeeds(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	env.idGen.ids = []string{"task-yt"}

	reqBody := []byte(`{"locator":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "task-yt")

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "task-yt", item.TaskID)
	require.Equal(t, "youtube", item.Identity.Platform)
	require.Equal(t, "dQw4w9WgXcQ", item.Identity.ContentID)

	task, err := env.tasks.GetTask(context.Background(), "task-yt")
	require.NoError(t, err)
	require.Equal(t, vault.TaskStatusQueued, task.Status)
	require.Equal(t, time.Unix(100, 0).UTC(), task.CreatedAt)
}

func TestServer_SubmitTask_InvalidJSON(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()

	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SubmitTask_InvalidLocatorCreatesNoTask(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	reqBody := []byte(`{"locator":"ftp://example.com/video.mp4"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unsupported scheme")

	tasks, err := env.tasks.ListTasks(context.Background(), vault.TaskFilter{})
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func TestServer_SubmitTask_RejectsUnknownCollectionOrder(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	reqBody := []byte(`{"locator":"https://www.youtube.com/@maker","options":{"collection_order":"alphabetical"}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "collection_order")
}

func TestServer_SubmitBatch_ReportsPerLocator(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	env.idGen.ids = []string{"task-1", "task-2"}

	reqBody := []byte(`{
		"locators": [
			"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			"not a url at all://",
			"https://youtu.be/jNQXAC9IVRw"
		],
		"options": {"quality": "720p"}
	}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks/batch", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Accepted []batchAccepted `json:"accepted"`
		Rejected []batchRejected `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Accepted, 2)
	require.Len(t, resp.Rejected, 1)
	require.Equal(t, "task-1", resp.Accepted[0].TaskID)
	require.Equal(t, "not a url at all://", resp.Rejected[0].Locator)

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "720p", item.Options.Quality)
}

func TestServer_SubmitBatch_EmptyLocators(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks/batch", bytes.NewBufferString(`{"locators":[]}`))
	rec := httptest.NewRecorder()

	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "locators required")
}

func TestServer_ListTasks_FiltersByStatus(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	seedTask(t, env.tasks, "task-a", "youtube", vault.TaskStatusQueued)
	seedTask(t, env.tasks, "task-b", "youtube", vault.TaskStatusCompleted)
	seedTask(t, env.tasks, "task-c", "vimeo", vault.TaskStatusQueued)

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks?status=queued&platform=youtube", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Tasks []vault.Task `json:"tasks"`
		Count int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	require.Equal(t, "task-a", resp.Tasks[0].ID)
}

func TestServer_ListTasks_RejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks?status=bogus", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetTask_ReturnsDocument(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	seedTask(t, env.tasks, "task-status", "youtube", vault.TaskStatusSkippedDuplicate)

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/task-status", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "skipped_duplicate")
}

func TestServer_GetTask_NotFound(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/absent", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_DeleteTask_ActiveConflicts(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	seedTask(t, env.tasks, "task-live", "youtube", vault.TaskStatusRunning)

	req := httptest.NewRequest(http.MethodDelete, "/v1/tasks/task-live", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/v1/tasks/absent", nil)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_DeleteTask_TerminalSucceeds(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	seedTask(t, env.tasks, "task-done", "youtube", vault.TaskStatusCompleted)

	req := httptest.NewRequest(http.MethodDelete, "/v1/tasks/task-done", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	_, err := env.tasks.GetTask(context.Background(), "task-done")
	require.ErrorIs(t, err, vault.ErrNotFound)
}

func TestServer_PurgeTasks_RemovesTerminalOnly(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	seedTask(t, env.tasks, "task-q", "youtube", vault.TaskStatusQueued)
	seedTask(t, env.tasks, "task-d", "youtube", vault.TaskStatusCompleted)
	seedTask(t, env.tasks, "task-f", "youtube", vault.TaskStatusFailed)

	req := httptest.NewRequest(http.MethodDelete, "/v1/tasks?scope=finished", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"purged":2}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodDelete, "/v1/tasks", nil)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_BrowseLibrary_ServesListing(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	ctx := context.Background()
	_, err := env.blobs.Put(ctx, "channel/title/video.mp4", "video/mp4", bytes.NewReader([]byte("media")))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/library?scope=channel/title", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var listing vault.Listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Equal(t, "channel/title", listing.Scope)
	require.Len(t, listing.Objects, 1)
	require.Equal(t, "video.mp4", listing.Objects[0].Name)
}

func TestServer_DeleteObject_NotFound(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	req := httptest.NewRequest(http.MethodDelete, "/v1/library/objects?path=channel/absent.mp4", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/v1/library/objects", nil)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DeleteFolder_ReportsCount(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	ctx := context.Background()
	for _, p := range []string{"channel/title/video.mp4", "channel/title/info.json"} {
		_, err := env.blobs.Put(ctx, p, "application/octet-stream", bytes.NewReader([]byte("x")))
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/v1/library/folders?scope=channel/title", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"removed":2`)
	require.Equal(t, 0, env.blobs.Len())
}

func TestServer_SignedURL_UsesConfiguredTTL(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	ctx := context.Background()
	_, err := env.blobs.Put(ctx, "channel/title/video.mp4", "video/mp4", bytes.NewReader([]byte("media")))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/library/url?path=channel/title/video.mp4", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		URL       string `json:"url"`
		ExpiresIn int    `json:"expires_in_seconds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.URL, "memory://channel/title/video.mp4")
	require.Equal(t, 900, resp.ExpiresIn)

	req = httptest.NewRequest(http.MethodGet, "/v1/library/url?path=channel/title/video.mp4&ttl=60", nil)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 60, resp.ExpiresIn)
}

func TestServer_PlatformStats_ListsAggregates(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	ctx := context.Background()
	at := time.Unix(500, 0).UTC()
	require.NoError(t, env.stats.RecordOutcome(ctx, "youtube", store.OutcomeCompleted, 2048, at))
	require.NoError(t, env.stats.RecordOutcome(ctx, "youtube", store.OutcomeSkipped, 0, at.Add(time.Minute)))

	req := httptest.NewRequest(http.MethodGet, "/v1/stats/platforms", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Platforms []store.PlatformStats `json:"platforms"`
		Count     int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	require.Equal(t, int64(1), resp.Platforms[0].Completed)
	require.Equal(t, int64(1), resp.Platforms[0].Skipped)
	require.Equal(t, int64(2048), resp.Platforms[0].BytesTotal)
}

func TestServer_Version_ReportsBackends(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, func(cfg *config.Config) {
		cfg.Storage.Backend = "gcs"
		cfg.Cache.Backend = "redis"
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/version", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "mediavault")
	require.Contains(t, rec.Body.String(), "gcs")
}

func TestServer_Readyz_ReportsDownstreamFailure(t *testing.T) {
	t.Parallel()

	env := newServerEnvWithReady(t, func(context.Context) error {
		return fmt.Errorf("ledger unreachable")
	})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "ledger unreachable")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.APIKey = "secret"
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	env.server.Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "id-default", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type serverEnv struct {
	server *Server
	tasks  *storagemem.TaskStore
	queue  *queuemem.Queue
	blobs  *storagemem.BlobStore
	stats  *storagemem.StatsRepo
	idGen  *fakeIDGen
}

func newServerEnv(t *testing.T, mutate func(*config.Config)) *serverEnv {
	t.Helper()
	return buildServerEnv(t, mutate, nil)
}

func newServerEnvWithReady(t *testing.T, ready ReadyCheck) *serverEnv {
	t.Helper()
	return buildServerEnv(t, nil, ready)
}

func buildServerEnv(t *testing.T, mutate func(*config.Config), ready ReadyCheck) *serverEnv {
	t.Helper()
	metrics.Init()
	cfg := config.Config{}
	cfg.Storage.Backend = "memory"
	cfg.Storage.SignedURLTTLSeconds = 900
	cfg.Cache.Backend = "memory"
	if mutate != nil {
		mutate(&cfg)
	}

	env := &serverEnv{
		tasks: storagemem.NewTaskStore(),
		queue: queuemem.NewQueue(16),
		blobs: storagemem.NewBlobStore(),
		stats: storagemem.NewStatsRepo(),
		idGen: &fakeIDGen{},
	}
	lib := library.New(env.blobs, cachemem.New(time.Minute), zap.NewNop())
	env.server = NewServer(
		env.tasks,
		dispatcher.New(env.queue, nil),
		lib,
		env.stats,
		env.idGen,
		&fakeClock{now: time.Unix(100, 0).UTC()},
		cfg,
		ready,
		zap.NewNop(),
	)
	return env
}

// seedTask plants a task directly in the store, walking the lifecycle to
// reach the requested status.
func seedTask(t *testing.T, tasks *storagemem.TaskStore, id, platform string, status vault.TaskStatus) {
	t.Helper()
	ctx := context.Background()
	task := vault.Task{
		ID:        id,
		Locator:   "https://" + platform + ".com/watch?v=" + id,
		Identity:  vault.Identity{Platform: platform, Kind: vault.KindItem, ContentID: id},
		Status:    vault.TaskStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, tasks.CreateTask(ctx, task))
	switch status {
	case vault.TaskStatusQueued:
	case vault.TaskStatusRunning:
		require.NoError(t, tasks.UpdateTaskStatus(ctx, id, vault.TaskStatusRunning, nil))
	case vault.TaskStatusFailed:
		require.NoError(t, tasks.UpdateTaskStatus(ctx, id, vault.TaskStatusRunning, nil))
		require.NoError(t, tasks.UpdateTaskStatus(ctx, id, vault.TaskStatusFailed, &vault.TaskError{Kind: vault.ErrKindInternal, Message: "seeded"}))
	case vault.TaskStatusSkippedDuplicate:
		require.NoError(t, tasks.UpdateTaskStatus(ctx, id, vault.TaskStatusRunning, nil))
		require.NoError(t, tasks.UpdateTaskStatus(ctx, id, vault.TaskStatusSkippedDuplicate, nil))
	case vault.TaskStatusCompleted:
		require.NoError(t, tasks.UpdateTaskStatus(ctx, id, vault.TaskStatusRunning, nil))
		require.NoError(t, tasks.UpdateTaskStatus(ctx, id, vault.TaskStatusUploading, nil))
		require.NoError(t, tasks.UpdateTaskStatus(ctx, id, vault.TaskStatusCompleted, nil))
	case vault.TaskStatusUploading:
		require.NoError(t, tasks.UpdateTaskStatus(ctx, id, vault.TaskStatusRunning, nil))
		require.NoError(t, tasks.UpdateTaskStatus(ctx, id, vault.TaskStatusUploading, nil))
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
