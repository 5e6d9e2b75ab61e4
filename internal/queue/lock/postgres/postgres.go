// Package postgres adapts a store.QueueLockStore (backed by Postgres) to
// the queue.Lock port, identical in shape to lock/memory but sourcing its
// compare-and-swap from the database row rather than an in-process map.
package postgres

import (
	"context"
	"time"

	"github.com/ghmbegerez/converge/internal/queue"
	"github.com/ghmbegerez/converge/internal/store"
)

// Lock wraps a store.QueueLockStore for multi-process queue coordination
// over a shared Postgres database.
type Lock struct {
	store store.QueueLockStore
	clock func() time.Time
}

// New builds a Lock over the given backing store.
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
