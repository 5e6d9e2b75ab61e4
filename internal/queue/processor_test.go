package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ghmbegerez/converge/internal/checks"
	"github.com/ghmbegerez/converge/internal/coherence"
	"github.com/ghmbegerez/converge/internal/eventlog"
	"github.com/ghmbegerez/converge/internal/intent"
	"github.com/ghmbegerez/converge/internal/orchestrator"
	"github.com/ghmbegerez/converge/internal/policy"
	"github.com/ghmbegerez/converge/internal/queue"
	lockmem "github.com/ghmbegerez/converge/internal/queue/lock/memory"
	"github.com/ghmbegerez/converge/internal/scm"
	"github.com/ghmbegerez/converge/internal/store"
	"github.com/ghmbegerez/converge/internal/store/memory"
)

func newTestProcessor(t *testing.T, scmPort scm.Port) (*queue.Processor, *memory.Store) {
	t.Helper()
	st := memory.New()
	log := eventlog.NewLog(st, st)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return fixed }

	orch := &orchestrator.Orchestrator{
		SCM:       scmPort,
		Checks:    checks.NewSubprocess(nil),
		Events:    log,
		Intents:   st,
		Profiles:  policy.DefaultProfiles,
		Global:    policy.DefaultGlobalSettings,
		Baselines: coherence.NewMemoryBaselines(),
		Now:       clock,
	}

	proc := &queue.Processor{
		Lock:         lockmem.New(st, clock),
		Intents:      st,
		Reviews:      st,
		Events:       log,
		SCM:          scmPort,
		Orchestrator: orch,
		AutoConfirm:  true,
		Holder:       "test-worker",
		Now:          clock,
	}
	return proc, st
}

func validatedIntent(id string, now time.Time) intent.Intent {
	in := intent.New(id, "feature/"+id, "main", intent.OriginHuman, "alice", now)
	in.Status = intent.StatusValidated
	return *in
}

func TestRunOnceMergesCleanIntent(t *testing.T) {
	ctx := context.Background()
	fake := scm.NewFake()
	proc, st := newTestProcessor(t, fake)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := validatedIntent("i1", now)
	require.NoError(t, st.Upsert(ctx, in))

	result, err := proc.RunOnce(ctx, queue.IntakeOpen)
	require.NoError(t, err)
	require.True(t, result.LockAcquired)
	require.Equal(t, 1, result.Merged)

	got, err := st.Get(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, intent.StatusMerged, got.Status)
}

func TestRunOnceSkipsUnmetDependency(t *testing.T) {
	ctx := context.Background()
	fake := scm.NewFake()
	proc, st := newTestProcessor(t, fake)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := validatedIntent("i2", now)
	in.Dependencies = []string{"missing-dep"}
	require.NoError(t, st.Upsert(ctx, in))

	result, err := proc.RunOnce(ctx, queue.IntakeOpen)
	require.NoError(t, err)
	require.Equal(t, 0, result.Merged)
	require.Equal(t, 0, result.Processed)

	got, err := st.Get(ctx, "i2")
	require.NoError(t, err)
	require.Equal(t, intent.StatusValidated, got.Status)
}

func TestRunOnceRejectsExhaustedRetries(t *testing.T) {
	ctx := context.Background()
	fake := scm.NewFake()
	proc, st := newTestProcessor(t, fake)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := validatedIntent("i3", now)
	in.Retries = intent.MaxRetries
	require.NoError(t, st.Upsert(ctx, in))

	result, err := proc.RunOnce(ctx, queue.IntakeOpen)
	require.NoError(t, err)
	require.Equal(t, 1, result.Rejected)

	got, err := st.Get(ctx, "i3")
	require.NoError(t, err)
	require.Equal(t, intent.StatusRejected, got.Status)
}

func TestRunOnceRequeuesOnConflict(t *testing.T) {
	ctx := context.Background()
	fake := scm.NewFake()
	fake.SetSimulation("feature/i4", "main", scm.Simulation{Mergeable: false, Conflicts: []string{"a.go"}})
	proc, st := newTestProcessor(t, fake)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := validatedIntent("i4", now)
	require.NoError(t, st.Upsert(ctx, in))

	result, err := proc.RunOnce(ctx, queue.IntakeOpen)
	require.NoError(t, err)
	require.Equal(t, 1, result.Requeued)

	got, err := st.Get(ctx, "i4")
	require.NoError(t, err)
	require.Equal(t, intent.StatusReady, got.Status)
	require.Equal(t, 1, got.Retries)
}

func TestRunOnceSkipsPendingReview(t *testing.T) {
	ctx := context.Background()
	fake := scm.NewFake()
	proc, st := newTestProcessor(t, fake)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := validatedIntent("i5", now)
	require.NoError(t, st.Upsert(ctx, in))
	require.NoError(t, st.UpsertReview(ctx, store.ReviewTask{
		ID: "r1", IntentID: "i5", Status: store.ReviewPending, CreatedAt: now,
	}))

	result, err := proc.RunOnce(ctx, queue.IntakeOpen)
	require.NoError(t, err)
	require.Equal(t, 0, result.Processed)

	got, err := st.Get(ctx, "i5")
	require.NoError(t, err)
	require.Equal(t, intent.StatusValidated, got.Status)
}

func TestRunOnceRejectsOnRejectedReview(t *testing.T) {
	ctx := context.Background()
	fake := scm.NewFake()
	proc, st := newTestProcessor(t, fake)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := validatedIntent("i6", now)
	require.NoError(t, st.Upsert(ctx, in))
	require.NoError(t, st.UpsertReview(ctx, store.ReviewTask{
		ID: "r2", IntentID: "i6", Status: store.ReviewRejected, CreatedAt: now,
	}))

	result, err := proc.RunOnce(ctx, queue.IntakeOpen)
	require.NoError(t, err)
	require.Equal(t, 1, result.Rejected)

	got, err := st.Get(ctx, "i6")
	require.NoError(t, err)
	require.Equal(t, intent.StatusRejected, got.Status)
}

func TestRunOnceMergeSharesValidationTrace(t *testing.T) {
	ctx := context.Background()
	fake := scm.NewFake()
	proc, st := newTestProcessor(t, fake)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.Upsert(ctx, validatedIntent("i7", now)))

	_, err := proc.RunOnce(ctx, queue.IntakeOpen)
	require.NoError(t, err)

	events, err := proc.Events.Query(ctx, eventlog.Query{IntentID: "i7"})
	require.NoError(t, err)

	var merged, validated *eventlog.Event
	for i := range events {
		switch events[i].Type {
		case eventlog.IntentMerged:
			merged = &events[i]
		case eventlog.IntentValidated:
			validated = &events[i]
		}
	}
	require.NotNil(t, merged)
	require.NotNil(t, validated)
	require.Equal(t, validated.TraceID, merged.TraceID, "merge must follow its own revalidation")
}

func TestRunOnceDependencyOrderingAcrossPasses(t *testing.T) {
	ctx := context.Background()
	fake := scm.NewFake()
	proc, st := newTestProcessor(t, fake)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	i3 := validatedIntent("i3", now)
	i4 := validatedIntent("i4", now.Add(time.Second))
	i4.Dependencies = []string{"i3"}
	require.NoError(t, st.Upsert(ctx, i3))
	require.NoError(t, st.Upsert(ctx, i4))

	first, err := proc.RunOnce(ctx, queue.IntakeOpen)
	require.NoError(t, err)
	require.Equal(t, 1, first.Merged)

	blocked, err := proc.Events.Query(ctx, eventlog.Query{Type: eventlog.IntentDependencyBlocked, IntentID: "i4"})
	require.NoError(t, err)
	require.Len(t, blocked, 1)

	got, err := st.Get(ctx, "i4")
	require.NoError(t, err)
	require.Equal(t, intent.StatusValidated, got.Status)

	second, err := proc.RunOnce(ctx, queue.IntakeOpen)
	require.NoError(t, err)
	require.Equal(t, 1, second.Merged)

	got, err = st.Get(ctx, "i4")
	require.NoError(t, err)
	require.Equal(t, intent.StatusMerged, got.Status)
}

func TestRunOnceRetryDisciplineRequeuesThenRejects(t *testing.T) {
	ctx := context.Background()
	fake := scm.NewFake()
	fake.SetSimulation("feature/i8", "main", scm.Simulation{Mergeable: false, Conflicts: []string{"x.go"}})
	proc, st := newTestProcessor(t, fake)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.Upsert(ctx, validatedIntent("i8", now)))

	for want := 1; want <= intent.MaxRetries; want++ {
		result, err := proc.RunOnce(ctx, queue.IntakeOpen)
		require.NoError(t, err)
		require.Equal(t, 1, result.Requeued)

		got, err := st.Get(ctx, "i8")
		require.NoError(t, err)
		require.Equal(t, intent.StatusReady, got.Status)
		require.Equal(t, want, got.Retries)

		// Simulate the external revalidation that would return the intent to
		// the queue before the next pass.
		got.Status = intent.StatusValidated
		require.NoError(t, st.Upsert(ctx, got))
	}

	result, err := proc.RunOnce(ctx, queue.IntakeOpen)
	require.NoError(t, err)
	require.Equal(t, 1, result.Rejected)

	got, err := st.Get(ctx, "i8")
	require.NoError(t, err)
	require.Equal(t, intent.StatusRejected, got.Status)

	requeues, err := proc.Events.Query(ctx, eventlog.Query{Type: eventlog.IntentRequeued, IntentID: "i8"})
	require.NoError(t, err)
	require.Len(t, requeues, intent.MaxRetries)
}

func TestRunOnceMergeFailureRequeuesWithRetry(t *testing.T) {
	ctx := context.Background()
	fake := scm.NewFake()
	fake.SetMergeError("feature/i9", "main", context.DeadlineExceeded)
	proc, st := newTestProcessor(t, fake)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.Upsert(ctx, validatedIntent("i9", now)))

	result, err := proc.RunOnce(ctx, queue.IntakeOpen)
	require.NoError(t, err)
	require.Equal(t, 0, result.Merged)
	require.Equal(t, 1, result.Requeued)

	got, err := st.Get(ctx, "i9")
	require.NoError(t, err)
	require.Equal(t, intent.StatusReady, got.Status)
	require.Equal(t, 1, got.Retries)

	failures, err := proc.Events.Query(ctx, eventlog.Query{Type: eventlog.IntentMergeFailed, IntentID: "i9"})
	require.NoError(t, err)
	require.Len(t, failures, 1)
}

func TestRunOnceNoLockWhenHeld(t *testing.T) {
	ctx := context.Background()
	fake := scm.NewFake()
	proc, st := newTestProcessor(t, fake)

	_, ok, err := st.Acquire(ctx, queue.LockName, "other-holder", queue.LockTTL, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	result, err := proc.RunOnce(ctx, queue.IntakeOpen)
	require.NoError(t, err)
	require.False(t, result.LockAcquired)
}
