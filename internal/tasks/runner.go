package tasks

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

var ErrShutdown = errors.New("планировщик задач остановлен")

// Runner executes detached background tasks keyed by id. Tasks outlive the
// request that started them and are cancelled on Shutdown.
type Runner struct {
	logger *zap.Logger
	base   context.Context
	stop   context.CancelFunc

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

func New(log *zap.Logger) *Runner {
	base, stop := context.WithCancel(context.Background())
	return &Runner{
		logger:  log,
		base:    base,
		stop:    stop,
		cancels: make(map[string]context.CancelFunc),
	}
}

func (r *Runner) Go(id string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrShutdown
	}

	ctx, cancel := context.WithCancel(r.base)
	r.cancels[id] = cancel
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.cancels, id)
			r.mu.Unlock()
			cancel()
		}()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("паника в фоновой задаче",
					zap.String("task_id", id),
					zap.Any("error", p),
					zap.String("stack", string(debug.Stack())),
				)
			}
		}()

		fn(ctx)
	}()
	return nil
}

// Cancel stops a running task. It reports whether the task was running.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

func (r *Runner) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancels[id]
	return ok
}

// Shutdown cancels every task and waits for them until ctx is done.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stop()

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

// Wait blocks until every task started so far has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
