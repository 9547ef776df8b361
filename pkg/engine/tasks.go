// Package engine composes the node: the alignment cycle that produces
// settlement attempts, and the background task runner driving every
// long-lived loop.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Task is one interval-driven background loop.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Runner drives the background tasks. Each task is its own goroutine with
// its own ticker; all check the shared running flag at the top of every
// tick. Stop bounds the drain by maxShutdownDelay.
type Runner struct {
	mu               sync.Mutex
	tasks            []Task
	running          atomic.Bool
	cancel           context.CancelFunc
	wg               sync.WaitGroup
	maxShutdownDelay time.Duration
	logger           *slog.Logger
}

// NewRunner creates an idle runner.
func NewRunner(maxShutdownDelay time.Duration, logger *slog.Logger) *Runner {
	if maxShutdownDelay <= 0 {
		maxShutdownDelay = 30 * time.Second
	}
	return &Runner{maxShutdownDelay: maxShutdownDelay, logger: logger}
}

// Add registers a task. Must be called before Start.
func (r *Runner) Add(name string, interval time.Duration, run func(ctx context.Context)) {
	r.mu.Lock()
	r.tasks = append(r.tasks, Task{Name: name, Interval: interval, Run: run})
	r.mu.Unlock()
}

// Start launches every registered task. Each runs once immediately, then on
// its interval.
func (r *Runner) Start(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.mu.Lock()
	tasks := append([]Task(nil), r.tasks...)
	r.mu.Unlock()

	for _, t := range tasks {
		r.wg.Add(1)
		go r.loop(ctx, t)
	}
	r.logger.Info("background tasks started", "count", len(tasks))
}

func (r *Runner) loop(ctx context.Context, t Task) {
	defer r.wg.Done()
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	r.tick(ctx, t)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.running.Load() {
				return
			}
			r.tick(ctx, t)
		}
	}
}

// tick runs one iteration. A panicking task is logged and its loop
// continues; background loops never take the engine down.
func (r *Runner) tick(ctx context.Context, t Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("task panicked", "task", t.Name, "panic", rec)
		}
	}()
	t.Run(ctx)
}

// Stop flips the running flag, cancels in-flight work, and waits for the
// drain up to maxShutdownDelay.
func (r *Runner) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.maxShutdownDelay):
		r.logger.Warn("shutdown delay exceeded, abandoning remaining tasks")
	}
}

// Running reports whether the runner is live.
func (r *Runner) Running() bool { return r.running.Load() }
