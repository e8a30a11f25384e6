package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arkivist/mediavault/internal/progress"
)

// PrometheusSink exports download progress metrics via Prometheus. It owns all
// collectors for tasks started/completed/running and per-platform item counters.
type PrometheusSink struct {
	tasksStarted   prometheus.Counter
	tasksCompleted *prometheus.CounterVec
	tasksRunning   prometheus.Gauge
	taskRuntime    *prometheus.HistogramVec

	itemsFinished *prometheus.CounterVec
	itemBytes     *prometheus.CounterVec
	itemDuration  *prometheus.HistogramVec

	tracker *taskTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_tasks_started_total",
			Help: "Total tasks that have started running.",
		}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_tasks_completed_total",
			Help: "Total tasks finished partitioned by outcome.",
		}, []string{"outcome"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vault_tasks_running",
			Help: "Current number of running tasks.",
		}),
		taskRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_task_runtime_seconds",
			Help:    "Wall time per finished task.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"outcome"}),
		itemsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_media_items_total",
			Help: "Item completions partitioned by platform and outcome.",
		}, []string{"platform", "outcome"}),
		itemBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_media_bytes_total",
			Help: "Bytes stored per platform.",
		}, []string{"platform"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_item_duration_seconds",
			Help:    "Item processing duration partitioned by platform and outcome.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"platform", "outcome"}),
		tracker: newTaskTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksStarted,
		s.tasksCompleted,
		s.tasksRunning,
		s.taskRuntime,
		s.itemsFinished,
		s.itemBytes,
		s.itemDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageTaskStart, progress.StageTaskDone, progress.StageTaskSkip, progress.StageTaskError:
		s.handleTaskEvent(evt)
	case progress.StageItemDone:
		s.handleItemEvent(evt)
	}
}

func (s *PrometheusSink) handleTaskEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageTaskStart:
		s.tasksStarted.Inc()
		if s.tracker.start(evt.TaskID) {
			s.tasksRunning.Inc()
		}
	case progress.StageTaskDone:
		s.tasksCompleted.WithLabelValues(string(progress.OutcomeCompleted)).Inc()
		s.observeRuntime(evt, string(progress.OutcomeCompleted))
	case progress.StageTaskSkip:
		s.tasksCompleted.WithLabelValues(string(progress.OutcomeSkipped)).Inc()
		s.observeRuntime(evt, string(progress.OutcomeSkipped))
	case progress.StageTaskError:
		s.tasksCompleted.WithLabelValues(string(progress.OutcomeFailed)).Inc()
		s.observeRuntime(evt, string(progress.OutcomeFailed))
	}
	if evt.Stage != progress.StageTaskStart && s.tracker.complete(evt.TaskID) {
		s.tasksRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.taskRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleItemEvent(evt progress.Event) {
	platform := evt.Platform
	if platform == "" {
		platform = "unknown"
	}
	outcome := string(evt.Outcome)
	if outcome == "" {
		outcome = string(progress.OutcomeFailed)
	}
	s.itemsFinished.WithLabelValues(platform, outcome).Inc()
	if evt.Bytes > 0 {
		s.itemBytes.WithLabelValues(platform).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.itemDuration.WithLabelValues(platform, outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type taskTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newTaskTracker() *taskTracker {
	return &taskTracker{running: make(map[[16]byte]struct{})}
}

func (t *taskTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *taskTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
