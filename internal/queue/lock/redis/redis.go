// Package redis provides a distributed queue lock backend on top of
// go-redis, for multi-process/multi-node queue processor deployments.
package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ghmbegerez/converge/internal/queue"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Lock is a SETNX-based advisory lock: acquiring sets the holder's token
// with the TTL as the key's expiry, so an expired lock is reclaimed
// automatically by Redis itself rather than requiring an explicit
// force-release step.
type Lock struct {
	client *redis.Client
	key    string
}

// New builds a Lock keyed under a fixed Redis key for the queue lock name.
func New(client *redis.Client) *Lock {
	return &Lock{client: client, key: "converge:lock:" + queue.LockName}
}

func (l *Lock) Acquire(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, holder, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (l *Lock) Release(ctx context.Context, holder string) error {
	return l.client.Eval(ctx, releaseScript, []string{l.key}, holder).Err()
}

var _ queue.Lock = (*Lock)(nil)
