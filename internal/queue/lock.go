// Package queue implements the single-writer queue processor: an advisory
// TTL lock guarding priority/dependency-ordered revalidation and merge
// execution.
package queue

import (
	"context"
	"time"
)

// LockTTL is the advisory lock's time-to-live.
const LockTTL = 300 * time.Second

// LockName is the single well-known lock name the processor contends for.
const LockName = "queue"

// Lock is the advisory, named, TTL-bound queue lock port. Acquire
// succeeds iff no current holder exists or the holder's lease has
// expired, in which case the expired lock is force-reclaimed atomically.
// Release is idempotent.
type Lock interface {
	Acquire(ctx context.Context, holder string, ttl time.Duration) (acquired bool, err error)
	Release(ctx context.Context, holder string) error
}
