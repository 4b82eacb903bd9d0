// Package periodic runs a function on a fixed interval with an explicit
// start/stop lifecycle.
package periodic

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task calls Fn every Interval until stopped. A run in progress is never
// interrupted; Stop waits for it to return.
type Task struct {
	name     string
	interval time.Duration
	fn       func(context.Context)
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a task. It does nothing until Start is called.
func New(name string, interval time.Duration, fn func(context.Context), logger *zap.Logger) *Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Task{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.With(zap.String("task", name)),
	}
}

// Start launches the loop. Starting a running task is a no-op.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(ctx, t.done)
}

// Stop ends the loop and waits for the current run, if any, to finish.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

func (t *Task) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Debug("periodic task started", zap.Duration("interval", t.interval))
	for {
		select {
		case <-ticker.C:
			t.run(ctx)
		case <-ctx.Done():
			t.logger.Debug("periodic task stopped")
			return
		}
	}
}

func (t *Task) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("periodic task panicked", zap.Any("panic", r))
		}
	}()
	t.fn(ctx)
}
