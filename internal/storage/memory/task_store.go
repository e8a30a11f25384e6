package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arkivist/mediavault/internal/vault"
)

// TaskStore keeps the task registry in memory. It is the default store for
// single-node deployments; tasks do not survive a restart.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]vault.Task
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]vault.Task),
	}
}

// CreateTask stores a new task in queued status.
func (s *TaskStore) CreateTask(_ context.Context, task vault.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	if task.Status == "" {
		task.Status = vault.TaskStatusQueued
	}
	s.tasks[task.ID] = task
	return nil
}

// GetTask fetches a task by ID.
func (s *TaskStore) GetTask(_ context.Context, taskID string) (vault.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return vault.Task{}, fmt.Errorf("task %s: %w", taskID, vault.ErrNotFound)
	}
	return task, nil
}

// ListTasks returns tasks matching the filter, newest first.
func (s *TaskStore) ListTasks(_ context.Context, filter vault.TaskFilter) ([]vault.Task, error) {
	s.mu.RLock()
	matched := make([]vault.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		if filter.Platform != "" && task.Identity.Platform != filter.Platform {
			continue
		}
		matched = append(matched, task)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []vault.Task{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// UpdateTaskStatus applies one lifecycle transition, stamping Started and
// Finished as the task enters running or a terminal status. Transitions
// outside the lifecycle table are rejected.
func (s *TaskStore) UpdateTaskStatus(_ context.Context, taskID string, status vault.TaskStatus, taskErr *vault.TaskError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, vault.ErrNotFound)
	}
	if !task.Status.CanTransitionTo(status) {
		return fmt.Errorf("%s -> %s: %w", task.Status, status, vault.ErrIllegalTransition)
	}
	task.Status = status
	task.Error = taskErr
	now := time.Now().UTC()
	if status == vault.TaskStatusRunning && task.StartedAt == nil {
		task.StartedAt = pointerTime(now)
	}
	if status.Terminal() {
		task.FinishedAt = pointerTime(now)
		if status == vault.TaskStatusCompleted || status == vault.TaskStatusSkippedDuplicate {
			task.Progress.Fraction = 1
		}
	}
	s.tasks[taskID] = task
	return nil
}

// SetTaskProgress records a progress snapshot. Progress never moves
// backwards: stale snapshots arriving out of order are clamped.
func (s *TaskStore) SetTaskProgress(_ context.Context, taskID string, p vault.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, vault.ErrNotFound)
	}
	cur := task.Progress
	if p.Fraction < cur.Fraction {
		p.Fraction = cur.Fraction
	}
	if p.Fraction > 1 {
		p.Fraction = 1
	}
	if p.BytesDone < cur.BytesDone {
		p.BytesDone = cur.BytesDone
	}
	if p.ItemsDone < cur.ItemsDone {
		p.ItemsDone = cur.ItemsDone
	}
	if p.Items == 0 {
		p.Items = cur.Items
	}
	if p.BytesTotal == 0 {
		p.BytesTotal = cur.BytesTotal
	}
	task.Progress = p
	s.tasks[taskID] = task
	return nil
}

// SetTaskResult attaches the artifact reference and per-item report.
func (s *TaskStore) SetTaskResult(_ context.Context, taskID string, result vault.ResultRef, items []vault.ItemReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, vault.ErrNotFound)
	}
	task.Result = &result
	if len(items) > 0 {
		task.Items = items
	}
	s.tasks[taskID] = task
	return nil
}

// AddTaskWarning appends a non-fatal note to the task.
func (s *TaskStore) AddTaskWarning(_ context.Context, taskID string, warning string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, vault.ErrNotFound)
	}
	task.Warnings = append(task.Warnings, warning)
	s.tasks[taskID] = task
	return nil
}

// IncTaskAttempt bumps the attempt counter and returns the new value.
func (s *TaskStore) IncTaskAttempt(_ context.Context, taskID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return 0, fmt.Errorf("task %s: %w", taskID, vault.ErrNotFound)
	}
	task.Attempts++
	s.tasks[taskID] = task
	return task.Attempts, nil
}

// DeleteTask removes a terminal task. Live tasks cannot be deleted.
func (s *TaskStore) DeleteTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, vault.ErrNotFound)
	}
	if !task.Status.Terminal() {
		return fmt.Errorf("task %s is %s: %w", taskID, task.Status, vault.ErrIllegalTransition)
	}
	delete(s.tasks, taskID)
	return nil
}

// PurgeFinished removes every terminal task and reports how many went.
func (s *TaskStore) PurgeFinished(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, task := range s.tasks {
		if task.Status.Terminal() {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
