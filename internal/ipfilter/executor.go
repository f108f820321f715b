package ipfilter

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrExecutorClosed is returned for work submitted after Shutdown began.
var ErrExecutorClosed = errors.New("ipfilter: executor closed")

// Executor runs background rebuilds with bounded parallelism.
type Executor struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewExecutor(workers int) *Executor {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		sem:    semaphore.NewWeighted(int64(workers)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit schedules task and returns immediately. The task's context is
// cancelled when Shutdown gives up waiting.
func (e *Executor) Submit(task func(ctx context.Context)) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrExecutorClosed
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if err := e.sem.Acquire(e.ctx, 1); err != nil {
			return
		}
		defer e.sem.Release(1)
		task(e.ctx)
	}()
	return nil
}

// Wait blocks until every submitted task has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Shutdown refuses new work and waits for in-flight tasks. If ctx expires
// first, running tasks are cancelled and ctx's error is returned once they exit.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}

// Close shuts down without a deadline.
func (e *Executor) Close() error {
	return e.Shutdown(context.Background())
}
