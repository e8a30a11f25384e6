// Package dispatcher manages worker fan-out over the task queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arkivist/mediavault/internal/metrics"
	"github.com/arkivist/mediavault/internal/vault"
	"github.com/arkivist/mediavault/internal/worker"
)

// depthReporter is implemented by queues that can report their backlog.
type depthReporter interface {
	Len() int
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   vault.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue vault.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	if reporter, ok := d.queue.(depthReporter); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.reportDepth(ctx, reporter)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item vault.TaskItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

func (d *Dispatcher) reportDepth(ctx context.Context, reporter depthReporter) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetQueueDepth(reporter.Len())
		}
	}
}
