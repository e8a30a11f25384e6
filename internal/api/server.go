package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkivist/mediavault/internal/config"
	"github.com/arkivist/mediavault/internal/dispatcher"
	"github.com/arkivist/mediavault/internal/library"
	"github.com/arkivist/mediavault/internal/metrics"
	"github.com/arkivist/mediavault/internal/store"
	"github.com/arkivist/mediavault/internal/vault"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	enqueueTimeout   = 5 * time.Second
)

// ReadyCheck probes downstream dependencies for the readiness endpoint.
// A nil check reports ready unconditionally.
type ReadyCheck func(ctx context.Context) error

// Server wires HTTP handlers to the dispatcher, stores, and library.
type Server struct {
	router   chi.Router
	tasks    vault.TaskStore
	dispatch *dispatcher.Dispatcher
	library  *library.Service
	stats    store.StatsRepository
	idGen    vault.IDGenerator
	clock    vault.Clock
	cfg      config.Config
	ready    ReadyCheck
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	tasks vault.TaskStore,
	dispatch *dispatcher.Dispatcher,
	lib *library.Service,
	stats store.StatsRepository,
	idGen vault.IDGenerator,
	clock vault.Clock,
	cfg config.Config,
	ready ReadyCheck,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		tasks:    tasks,
		dispatch: dispatch,
		library:  lib,
		stats:    stats,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		ready:    ready,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/version", s.version)
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.submitTask)
			r.Post("/batch", s.submitBatch)
			r.Get("/", s.listTasks)
			r.Delete("/", s.purgeTasks)
			r.Route("/{task_id}", func(r chi.Router) {
				r.Get("/", s.getTask)
				r.Delete("/", s.deleteTask)
			})
		})
		r.Route("/library", func(r chi.Router) {
			r.Get("/", s.browseLibrary)
			r.Delete("/objects", s.deleteObject)
			r.Delete("/folders", s.deleteFolder)
			r.Get("/url", s.signedURL)
		})
		r.Get("/stats/platforms", s.platformStats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service":         "mediavault",
		"version":         buildVersion(),
		"storage_backend": s.cfg.Storage.Backend,
		"cache_backend":   s.cfg.Cache.Backend,
	})
}

type taskRequest struct {
	Locator string            `json:"locator"`
	Options vault.TaskOptions `json:"options"`
}

type batchRequest struct {
	Locators []string          `json:"locators"`
	Options  vault.TaskOptions `json:"options"`
}

type batchAccepted struct {
	TaskID  string `json:"task_id"`
	Locator string `json:"locator"`
}

type batchRejected struct {
	Locator string `json:"locator"`
	Error   string `json:"error"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateOptions(req.Options); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	taskID, err := s.enqueueTask(r.Context(), req.Locator, req.Options)
	if err != nil {
		writeError(w, statusForSubmitError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Locators) == 0 {
		writeError(w, http.StatusBadRequest, "locators required")
		return
	}
	if err := validateOptions(req.Options); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	accepted := make([]batchAccepted, 0, len(req.Locators))
	rejected := make([]batchRejected, 0)
	for _, locator := range req.Locators {
		taskID, err := s.enqueueTask(r.Context(), locator, req.Options)
		if err != nil {
			rejected = append(rejected, batchRejected{Locator: locator, Error: err.Error()})
			continue
		}
		accepted = append(accepted, batchAccepted{TaskID: taskID, Locator: locator})
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": accepted,
		"rejected": rejected,
	})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tasks, err := s.tasks.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.tasks.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	err := s.tasks.DeleteTask(r.Context(), taskID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": "deleted"})
	case errors.Is(err, vault.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, vault.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "task is still active")
	default:
		writeError(w, http.StatusInternalServerError, "failed to delete task")
	}
}

func (s *Server) purgeTasks(w http.ResponseWriter, r *http.Request) {
	if scope := r.URL.Query().Get("scope"); scope != "finished" {
		writeError(w, http.StatusBadRequest, "scope=finished is required")
		return
	}
	purged, err := s.tasks.PurgeFinished(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to purge tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": purged})
}

func (s *Server) browseLibrary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	refresh, _ := strconv.ParseBool(q.Get("refresh"))
	listing, err := s.library.Browse(r.Context(), q.Get("scope"), refresh)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) deleteObject(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := s.library.DeleteObject(r.Context(), path); err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			writeError(w, http.StatusNotFound, "object not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path, "status": "deleted"})
}

func (s *Server) deleteFolder(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		writeError(w, http.StatusBadRequest, "scope is required")
		return
	}
	removed, err := s.library.DeleteFolder(r.Context(), scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scope": scope, "removed": removed})
}

func (s *Server) signedURL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	ttl := s.cfg.SignedURLTTL()
	if raw := q.Get("ttl"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid ttl %q", raw))
			return
		}
		ttl = time.Duration(secs) * time.Second
	}
	url, err := s.library.SignedURL(path, ttl)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			writeError(w, http.StatusNotFound, "object not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":                url,
		"expires_in_seconds": int(ttl.Seconds()),
	})
}

func (s *Server) platformStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusNotFound, "stats store not configured")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	platforms, err := s.stats.ListPlatforms(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list platform stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"platforms": platforms, "count": len(platforms)})
}

// enqueueTask resolves the locator, persists the queued task, and hands it to
// the dispatcher. The identity is resolved before the task exists, so an
// invalid locator never leaves a task record behind.
func (s *Server) enqueueTask(ctx context.Context, locator string, opts vault.TaskOptions) (string, error) {
	identity, err := vault.ResolveIdentity(locator)
	if err != nil {
		return "", err
	}
	taskID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	now := s.clock.Now()
	task := vault.Task{
		ID:        taskID,
		Locator:   locator,
		Identity:  identity,
		Status:    vault.TaskStatusQueued,
		Options:   opts,
		CreatedAt: now,
	}
	if err := s.tasks.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := vault.TaskItem{
		TaskID:    taskID,
		Locator:   locator,
		Identity:  identity,
		Options:   opts,
		Attempt:   1,
		Submitted: now,
	}
	if err := s.dispatch.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return taskID, nil
}

func validateOptions(opts vault.TaskOptions) error {
	switch opts.CollectionOrder {
	case "", vault.OrderNewest, vault.OrderOldest, vault.OrderMostPopular:
	default:
		return fmt.Errorf("unknown collection_order %q", opts.CollectionOrder)
	}
	if opts.CollectionLimit < 0 {
		return errors.New("collection_limit must not be negative")
	}
	return nil
}

func statusForSubmitError(err error) int {
	switch {
	case errors.Is(err, vault.ErrInvalidLocator):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func parseTaskFilter(r *http.Request) (vault.TaskFilter, error) {
	limit, offset, err := parseLimitOffset(r, defaultListLimit, maxListLimit)
	if err != nil {
		return vault.TaskFilter{}, err
	}
	q := r.URL.Query()
	filter := vault.TaskFilter{
		Platform: q.Get("platform"),
		Limit:    limit,
		Offset:   offset,
	}
	if raw := q.Get("status"); raw != "" {
		status := vault.TaskStatus(raw)
		switch status {
		case vault.TaskStatusQueued, vault.TaskStatusRunning, vault.TaskStatusUploading,
			vault.TaskStatusCompleted, vault.TaskStatusSkippedDuplicate, vault.TaskStatusFailed:
			filter.Status = &status
		default:
			return vault.TaskFilter{}, fmt.Errorf("unknown status %q", raw)
		}
	}
	return filter, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
