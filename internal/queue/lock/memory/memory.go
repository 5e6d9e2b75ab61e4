// Package memory provides a process-local queue lock backend, adapting
// store.QueueLockStore to the queue.Lock port.
package memory

import (
	"context"
	"time"

	"github.com/ghmbegerez/converge/internal/queue"
	"github.com/ghmbegerez/converge/internal/store"
)

// Lock wraps a store.QueueLockStore for single-process queue coordination.
type Lock struct {
	store store.QueueLockStore
	clock func() time.Time
}

// New builds a Lock over the given backing store, using time.Now for
// expiry checks unless clock is overridden for tests.
func New(backing store.QueueLockStore, clock func() time.Time) *Lock {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Lock{store: backing, clock: clock}
}

func (l *Lock) Acquire(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	_, ok, err := l.store.Acquire(ctx, queue.LockName, holder, ttl, l.clock())
	return ok, err
}

func (l *Lock) Release(ctx context.Context, holder string) error {
	return l.store.Release(ctx, queue.LockName, holder)
}

var _ queue.Lock = (*Lock)(nil)
