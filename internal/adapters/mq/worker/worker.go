// Package worker runs the counter repair pool.
//
// A repair task names one (category, document) pair whose denormalized
// scrap counter may have diverged from the ownership table. Workers
// recount owners in the repository and write the absolute value into
// the index, so repeated repairs are idempotent and always converge.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/ember/internal/adapters/index"
	"github.com/okian/ember/internal/domain/category"
	"github.com/okian/ember/internal/domain/repair"
	"github.com/okian/ember/pkg/logger"
	"github.com/okian/ember/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount  = 4
	poolShutdownTimeout = 30 * time.Second
)

// Task abstracts what workers read off the queue.
type Task = repair.Task

// OwnerCounter counts ownership rows for a document.
type OwnerCounter interface {
	CountOwners(ctx context.Context, cat category.Category, documentID string) (int64, error)
}

// CounterWriter applies counter commands to the document index.
type CounterWriter interface {
	Apply(ctx context.Context, cmd index.CounterCmd) error
}

// Releaser releases a task's coalescing slot once the repair ran, so a
// later divergence on the same document can be enqueued again.
type Releaser interface {
	Release(ctx context.Context, key string)
}

// Queue defines how workers receive tasks.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Task
}

// Worker processes repair tasks until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for processing repair tasks.
type InMemoryWorker struct {
	queue    Queue
	counter  OwnerCounter
	writer   CounterWriter
	releaser Releaser
	name     string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, counter OwnerCounter, writer CounterWriter, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    queue,
		counter:  counter,
		writer:   writer,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("repair-worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer func() {
		close(w.done)
	}()

	taskChan := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case task, ok := <-taskChan:
			if !ok {
				return
			}

			if err := w.processTask(ctx, task); err != nil {
				w.logger.Error(ctx, "repair task failed",
					logger.String("category", task.Category.String()),
					logger.String("document_id", task.DocumentID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processTask recounts owners and writes the absolute counter. The
// coalescing slot is released either way: a failed repair must stay
// re-enqueueable.
func (w *InMemoryWorker) processTask(ctx context.Context, task Task) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepairLatency(float64(time.Since(start).Milliseconds()))
	}()
	if w.releaser != nil {
		defer w.releaser.Release(ctx, task.Key())
	}

	owners, err := w.counter.CountOwners(ctx, task.Category, task.DocumentID)
	if err != nil {
		metrics.RecordRepairError()
		metrics.RecordErrorByComponent("repair_worker", "count_owners")
		return fmt.Errorf("count owners for %s: %w", task.Key(), err)
	}

	err = w.writer.Apply(ctx, index.CounterCmd{
		Op:       index.Set,
		Category: task.Category,
		DocID:    task.DocumentID,
		Value:    owners,
	})
	if err != nil {
		metrics.RecordRepairError()
		metrics.RecordErrorByComponent("repair_worker", "counter_write")
		return fmt.Errorf("write counter for %s: %w", task.Key(), err)
	}

	metrics.RecordRepairCompleted()
	return nil
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	shutdown chan struct{}

	logger logger.Logger
}

// NewPool creates a new worker pool. A non-positive count scales with
// the machine.
func NewPool(workerCount int, queue Queue, counter OwnerCounter, writer CounterWriter, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerCount
	}

	pool := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    queue,
		shutdown: make(chan struct{}),
		logger:   logger.Get().Named("repair-pool"),
	}

	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewInMemoryWorker(
			queue,
			counter,
			writer,
			append(opts, WithName("worker-"+strconv.Itoa(i)))...,
		)
	}

	metrics.UpdateRepairWorkerCount(workerCount)

	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, worker := range p.workers {
		go worker.Run(ctx)
	}
}

// Shutdown closes the queue and waits for the workers to drain.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	close(p.shutdown)

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, worker := range p.workers {
		select {
		case <-worker.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}

	return nil
}
