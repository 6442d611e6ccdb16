package node

import (
	"log/slog"
	"sync"
	"time"
)

// workerQueueSize bounds the task backlog. The lifecycle submits at most
// one blocking operation at a time, so a small buffer only exists to keep
// Submit from blocking the event loop.
const workerQueueSize = 4

// Worker is the single background goroutine executing all blocking
// lifecycle operations: bootstrap, publication, restart teardown. Running
// them on one worker guarantees at most one bootstrap attempt is ever in
// flight.
type Worker struct {
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}

	releaseOnce sync.Once
	logger      *slog.Logger
}

// NewWorker starts the background worker goroutine.
func NewWorker(logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		tasks:  make(chan func(), workerQueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go w.run()
	return w
}

// run executes queued tasks until the worker is released.
func (w *Worker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case task := <-w.tasks:
			task()
		}
	}
}

// Submit queues a task for execution. It returns ErrWorkerReleased after
// Release has been called.
func (w *Worker) Submit(task func()) error {
	select {
	case <-w.quit:
		return ErrWorkerReleased
	default:
	}

	select {
	case w.tasks <- task:
		return nil
	case <-w.quit:
		return ErrWorkerReleased
	}
}

// Release stops the worker and waits up to grace for the in-flight task to
// finish. A task still running after the grace period is abandoned rather
// than awaited - its completion callback will find the node already shut
// down and be dropped.
//
// Safe to call more than once; only the first call releases.
func (w *Worker) Release(grace time.Duration) {
	w.releaseOnce.Do(func() {
		close(w.quit)
		select {
		case <-w.done:
		case <-time.After(grace):
			w.logger.Warn("background task did not finish within grace period, abandoning", "grace", grace)
		}
	})
}
