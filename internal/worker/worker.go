// ============================================================================
// Motion Worker - Action Execution Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Executes engine actions (moves, delays, exposures) one at a time,
//           each Worker runs in an independent goroutine
//
// How it works:
//   1. Receive task from taskCh (blocking wait)
//   2. Run the simulated action under a per-task timeout
//   3. Send result to resultCh, waiting for room unless the pool stops
//   4. Repeat until taskCh is closed
//
// Timeout Control:
//   Each task has an independent context.WithTimeout. An action that does not
//   finish before its deadline returns context.DeadlineExceeded, which the
//   controller turns into a MotorTimeoutError fault.
//
// ============================================================================

package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Executor runs one action; the default executor just waits for task.Duration
type Executor func(ctx context.Context, task Task) error

// Worker represents a motion execution unit
type Worker struct {
	id       int           // Worker identifier, used for logging
	taskCh   <-chan Task   // Task channel (read-only)
	resultCh chan<- Result // Result channel (write-only)
	stopCh   <-chan struct{}
	exec     Executor
	log      *zap.Logger
}

func newWorker(id int, taskCh <-chan Task, resultCh chan<- Result, stopCh <-chan struct{}, exec Executor, log *zap.Logger) *Worker {
	return &Worker{
		id:       id,
		taskCh:   taskCh,
		resultCh: resultCh,
		stopCh:   stopCh,
		exec:     exec,
		log:      log,
	}
}

// Run is the main loop of Worker
func (w *Worker) Run() {
	for task := range w.taskCh {
		start := time.Now()

		ctx, cancel := context.WithTimeout(context.Background(), task.Timeout)
		err := w.exec(ctx, task)
		cancel()

		result := Result{
			Command:  task.Command,
			Err:      err,
			Duration: time.Since(start),
		}

		// Block until the result is read or the pool stops.
		select {
		case w.resultCh <- result:
		case <-w.stopCh:
			w.log.Warn("pool stopped, discarding motion result",
				zap.Int("worker", w.id),
				zap.Stringer("action", task.Command.Action),
				zap.Uint64("token", task.Command.Token))
		}
	}
}

// Wait is the default Executor: it sleeps for task.Duration unless the
// context ends first
func Wait(ctx context.Context, task Task) error {
	if task.Duration <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(task.Duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
