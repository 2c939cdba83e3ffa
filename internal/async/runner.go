// Package async runs fire-and-forget work (webhooks, push, timestamp touches)
// off the request path while still letting shutdown drain it.
package async

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// DefaultTaskTimeout bounds each task. It covers the 10s webhook client with room to spare.
const DefaultTaskTimeout = 30 * time.Second

// Runner starts detached tasks. Failures and panics are logged and never
// reach the caller that scheduled the task.
type Runner struct {
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     conc.WaitGroup
}

func NewRunner(logger *zap.Logger, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &Runner{logger: logger.Named("async"), timeout: timeout}
}

// Go schedules fn. The task gets its own context, so it outlives the HTTP
// request that triggered it. After Shutdown, new tasks are dropped.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.logger.Warn("runner closed, dropping task", zap.String("task", name))
		return
	}
	r.wg.Go(func() { r.run(name, fn) })
}

func (r *Runner) run(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var pc panics.Catcher
	pc.Try(func() {
		if err := fn(ctx); err != nil {
			r.logger.Warn("task failed", zap.String("task", name), zap.Error(err))
		}
	})
	if rec := pc.Recovered(); rec != nil {
		r.logger.Error("task panicked", zap.String("task", name), zap.String("panic", rec.String()))
	}
}

// Shutdown stops intake and waits for in-flight tasks or for ctx to end.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
