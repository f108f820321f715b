// Package ipfilter holds the address and URN policies consulted on the message path.
//
// Every policy answers from an immutable snapshot published through an
// atomic pointer. Refreshes rebuild a new snapshot on a shared Executor and
// replace the pointer; a failed rebuild keeps the previous snapshot. Until the
// first refresh completes a policy allows everything.
package ipfilter

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
)

// Refresher rebuilds its snapshot in the background.
type Refresher interface {
	// Refresh schedules a rebuild and returns immediately.
	Refresh()
	// RefreshWithCallback schedules a rebuild and calls onDone once it has
	// finished, whether or not it succeeded.
	RefreshWithCallback(onDone func())
}

// Filter is an address policy with background refresh.
type Filter interface {
	Refresher
	AllowIP(ip netip.Addr) bool
	HasBlockedEntries() bool
}

// RefreshObserver is told about every completed rebuild. err is nil on success.
type RefreshObserver interface {
	ObserveRefresh(filter string, err error)
}

type Options struct {
	// Executor runs rebuilds. A nil Executor gives the filter a private one with a single worker.
	Executor *Executor
	Observer RefreshObserver
}

var errNilSnapshot = errors.New("rebuild produced no snapshot")

// live publishes snapshots of type T. Rebuilds are serialized; readers never lock.
type live[T any] struct {
	name     string
	current  atomic.Pointer[T]
	mu       sync.Mutex
	build    func(ctx context.Context) (*T, error)
	exec     *Executor
	observer RefreshObserver
}

func newLive[T any](name string, initial *T, build func(ctx context.Context) (*T, error), opts Options) *live[T] {
	exec := opts.Executor
	if exec == nil {
		exec = NewExecutor(1)
	}
	l := &live[T]{
		name:     name,
		build:    build,
		exec:     exec,
		observer: opts.Observer,
	}
	l.current.Store(initial)
	return l
}

func (l *live[T]) load() *T { return l.current.Load() }

func (l *live[T]) refresh(onDone func()) {
	err := l.exec.Submit(func(ctx context.Context) {
		l.rebuild(ctx)
		if onDone != nil {
			onDone()
		}
	})
	if err != nil {
		slog.Warn("IP filter refresh not scheduled", "filter", l.name, "error", err)
		if onDone != nil {
			onDone()
		}
	}
}

// rebuild logs and reports its own failures.
func (l *live[T]) rebuild(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next, err := l.build(ctx)
	if err == nil && next == nil {
		err = errNilSnapshot
	}
	if l.observer != nil {
		l.observer.ObserveRefresh(l.name, err)
	}
	if err != nil {
		slog.Error("Policy refresh failed, keeping previous snapshot", "filter", l.name, "error", err)
		return
	}
	l.current.Store(next)
	slog.Debug("Policy refreshed", "filter", l.name)
}

// afterAll returns a function that calls fn on its n-th invocation.
func afterAll(n int32, fn func()) func() {
	var remaining atomic.Int32
	remaining.Store(n)
	return func() {
		if remaining.Add(-1) == 0 && fn != nil {
			fn()
		}
	}
}
