package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ghmbegerez/converge/internal/eventlog"
	"github.com/ghmbegerez/converge/internal/intent"
	"github.com/ghmbegerez/converge/internal/store"
)

func TestIntentUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	in := intent.New("i1", "feature/a", "main", intent.OriginHuman, "alice", now)
	require.NoError(t, s.Upsert(ctx, *in))

	got, err := s.Get(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, "feature/a", got.Source)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestQueueCandidatesOrderedByPriorityThenAge(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now().UTC()

	a := intent.New("a", "sa", "main", intent.OriginHuman, "x", base)
	a.Status = intent.StatusValidated
	a.Priority = 5

	b := intent.New("b", "sb", "main", intent.OriginHuman, "x", base.Add(time.Second))
	b.Status = intent.StatusValidated
	b.Priority = 1

	c := intent.New("c", "sc", "main", intent.OriginHuman, "x", base.Add(2*time.Second))
	c.Status = intent.StatusDraft

	require.NoError(t, s.Upsert(ctx, *a))
	require.NoError(t, s.Upsert(ctx, *b))
	require.NoError(t, s.Upsert(ctx, *c))

	cands, err := s.ListQueueCandidates(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	require.Equal(t, "b", cands[0].ID)
	require.Equal(t, "a", cands[1].ID)
}

func TestEventQueryOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		ev := eventlog.New("trace", eventlog.IntentCreated, "i1", nil, nil, base.Add(time.Duration(i)*time.Minute))
		_, err := s.Append(ctx, ev)
		require.NoError(t, err)
	}

	out, err := s.Query(ctx, store.Query{IntentID: "i1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.True(t, out[0].Timestamp.After(out[1].Timestamp))
}

func TestQueueLockExclusiveUntilExpiry(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	_, ok, err := s.Acquire(ctx, "queue", "holder-a", time.Minute, now)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.Acquire(ctx, "queue", "holder-b", time.Minute, now.Add(30*time.Second))
	require.NoError(t, err)
	require.False(t, ok, "second holder should not acquire before expiry")

	_, ok, err = s.Acquire(ctx, "queue", "holder-b", time.Minute, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.True(t, ok, "second holder should acquire after expiry")
}

func TestWebhookDedup(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	seen, err := s.SeenOrRecord(ctx, "delivery-1", now)
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = s.SeenOrRecord(ctx, "delivery-1", now)
	require.NoError(t, err)
	require.True(t, seen)
}
