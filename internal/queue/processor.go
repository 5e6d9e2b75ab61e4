package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ghmbegerez/converge/internal/auditchain"
	"github.com/ghmbegerez/converge/internal/eventlog"
	"github.com/ghmbegerez/converge/internal/intent"
	"github.com/ghmbegerez/converge/internal/obsmetrics"
	"github.com/ghmbegerez/converge/internal/orchestrator"
	"github.com/ghmbegerez/converge/internal/resilience"
	"github.com/ghmbegerez/converge/internal/scm"
	"github.com/ghmbegerez/converge/internal/store"
)

// DefaultBatchLimit bounds how many VALIDATED intents one RunOnce call
// considers.
const DefaultBatchLimit = 100

// IntakeMode gates whether the processor should skip non-critical intents
// under external pressure; what drives the mode is the caller's business.
type IntakeMode string

const (
	IntakeOpen              IntakeMode = "OPEN"
	IntakeThrottle          IntakeMode = "THROTTLE"
	IntakePauseCriticalOnly IntakeMode = "PAUSE-CRITICAL-ONLY"
)

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Processor drives one pass of the singleton-per-store merge queue.
type Processor struct {
	Lock         Lock
	Intents      store.IntentStore
	Reviews      store.ReviewStore
	Events       *eventlog.Log
	SCM          scm.Port
	Orchestrator *orchestrator.Orchestrator
	AutoConfirm  bool
	BatchLimit   int
	// MaxRetries overrides the default retry bound when positive (the
	// policy document's queue.max_retries).
	MaxRetries int
	Holder     string
	Now        Clock
	// Chain, if set, folds the processor's own outcome events into the audit
	// chain, one batch per emitted event. Post-validation outcomes (merge, requeue)
	// extend the validation run's trace so the merge event provably follows
	// its revalidation.
	Chain *auditchain.Chain
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

func (p *Processor) maxRetries() int {
	if p.MaxRetries > 0 {
		return p.MaxRetries
	}
	return intent.MaxRetries
}

func (p *Processor) limit() int {
	if p.BatchLimit > 0 {
		return p.BatchLimit
	}
	return DefaultBatchLimit
}

// RunResult summarizes the outcome of one RunOnce pass.
type RunResult struct {
	LockAcquired bool
	Processed    int
	Merged       int
	Requeued     int
	Rejected     int
	Blocked      int
}

// RunOnce performs one queue pass: acquire the advisory lock, walk
// VALIDATED intents in priority/created_at order, resolve dependencies,
// revalidate freshly, and either merge, requeue, or reject each one
// before releasing the lock.
func (p *Processor) RunOnce(ctx context.Context, mode IntakeMode) (RunResult, error) {
	acquired, err := p.Lock.Acquire(ctx, p.Holder, LockTTL)
	if err != nil {
		return RunResult{}, fmt.Errorf("queue: acquire lock: %w", err)
	}
	if !acquired {
		return RunResult{LockAcquired: false}, nil
	}
	defer func() { _ = p.Lock.Release(ctx, p.Holder) }()

	result := RunResult{LockAcquired: true}

	candidates, err := p.Intents.ListQueueCandidates(ctx, p.limit())
	if err != nil {
		return result, fmt.Errorf("queue: list candidates: %w", err)
	}

	// A dependency merged earlier in this same pass still blocks its
	// dependents; they are picked up by the next pass.
	mergedThisPass := make(map[string]struct{})

	for i := range candidates {
		// Graceful shutdown: finish the in-flight intent, release the lock,
		// leave the rest for the next pass.
		if ctx.Err() != nil {
			break
		}

		in := candidates[i]

		if mode == IntakePauseCriticalOnly && in.RiskLevel != intent.RiskCritical {
			continue
		}

		blockedOnDep, err := p.dependencyBlocked(ctx, &in)
		if err != nil {
			return result, err
		}
		for _, depID := range in.Dependencies {
			if _, ok := mergedThisPass[depID]; ok {
				blockedOnDep = true
			}
		}
		if blockedOnDep {
			p.emit(ctx, eventlog.NewID(), eventlog.IntentDependencyBlocked, &in, nil, nil)
			continue
		}

		if in.Retries >= p.maxRetries() {
			p.reject(ctx, eventlog.NewID(), &in, "max_retries")
			result.Rejected++
			continue
		}

		pending, rejected, err := p.reviewState(ctx, in.ID)
		if err != nil {
			return result, err
		}
		if pending {
			continue
		}
		if rejected {
			p.reject(ctx, eventlog.NewID(), &in, "review_rejected")
			result.Rejected++
			continue
		}

		// Revalidate against the current target state; yesterday's green
		// simulation proves nothing about today's target.
		decision, err := p.Orchestrator.Validate(ctx, &in)
		if err != nil {
			continue
		}
		result.Processed++

		if decision.Outcome != orchestrator.OutcomeAllowed {
			// Retries climb to the bound on each blocked revalidation; the
			// max_retries rejection itself happens at the top of a later pass,
			// after the final requeue has had its chance.
			p.bumpRetries(&in)
			if err := in.Requeue(p.now()); err == nil {
				_ = p.Intents.Upsert(ctx, in)
				p.emit(ctx, decision.TraceID, eventlog.IntentRequeued, &in, map[string]any{"retries": in.Retries}, nil)
				obsmetrics.RecordQueueOutcome("requeued")
			}
			result.Requeued++
			result.Blocked++
			continue
		}

		if err := in.MarkQueued(p.now()); err != nil {
			continue
		}
		if err := p.Intents.Upsert(ctx, in); err != nil {
			continue
		}

		if p.AutoConfirm {
			sha, err := retryExecuteMerge(ctx, p.SCM, in.Source, in.Target)
			if err != nil {
				p.mergeFailed(ctx, decision.TraceID, &in, err)
				result.Requeued++
				continue
			}
			if err := in.MarkMerged(p.now()); err != nil {
				continue
			}
			if err := p.Intents.Upsert(ctx, in); err != nil {
				continue
			}
			p.emit(ctx, decision.TraceID, eventlog.IntentMerged, &in, map[string]any{"commit_sha": sha}, nil)
			obsmetrics.RecordQueueOutcome("merged")
			result.Merged++
			mergedThisPass[in.ID] = struct{}{}
		}
	}

	p.emitBare(ctx, eventlog.QueueProcessed, map[string]any{"count": result.Processed}, nil)
	return result, nil
}

// mergeFailed handles a failed ExecuteMerge: the retry counter climbs,
// the intent returns to READY for a later revalidation pass, and
// INTENT_MERGE_FAILED records what happened under the validation's trace.
func (p *Processor) mergeFailed(ctx context.Context, traceID string, in *intent.Intent, mergeErr error) {
	p.bumpRetries(in)
	if err := in.Requeue(p.now()); err != nil {
		return
	}
	_ = p.Intents.Upsert(ctx, *in)
	p.emit(ctx, traceID, eventlog.IntentMergeFailed, in, map[string]any{
		"error": mergeErr.Error(), "retries": in.Retries,
	}, nil)
	obsmetrics.RecordQueueOutcome("merge_failed")
}

// bumpRetries advances the retry counter without ever exceeding the
// configured bound.
func (p *Processor) bumpRetries(in *intent.Intent) {
	if in.Retries < p.maxRetries() {
		in.Retries++
	}
}

// retryExecuteMerge retries transient merge faults with backoff; a
// MergeExecutionError is the merge itself failing and is never retried
// here (the queue's retry discipline owns that).
func retryExecuteMerge(ctx context.Context, port scm.Port, source, target string) (string, error) {
	var sha string
	var mergeErr *scm.MergeExecutionError
	err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		s, execErr := port.ExecuteMerge(ctx, source, target)
		if execErr != nil {
			if errors.As(execErr, &mergeErr) {
				return nil
			}
			return execErr
		}
		sha = s
		mergeErr = nil
		return nil
	})
	if mergeErr != nil {
		return "", mergeErr
	}
	return sha, err
}

// dependencyBlocked reports whether any of in's dependencies has not yet
// reached MERGED. A missing dependency record is treated as blocking.
func (p *Processor) dependencyBlocked(ctx context.Context, in *intent.Intent) (bool, error) {
	for _, depID := range in.Dependencies {
		dep, err := p.Intents.Get(ctx, depID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return true, nil
			}
			return false, fmt.Errorf("queue: resolve dependency %s: %w", depID, err)
		}
		if dep.Status != intent.StatusMerged {
			return true, nil
		}
	}
	return false, nil
}

// reviewState reports whether intentID has any still-pending review tasks,
// and whether any review was rejected.
func (p *Processor) reviewState(ctx context.Context, intentID string) (pending, rejected bool, err error) {
	if p.Reviews == nil {
		return false, false, nil
	}
	tasks, err := p.Reviews.ListReviewsByIntent(ctx, intentID)
	if err != nil {
		return false, false, fmt.Errorf("queue: list reviews: %w", err)
	}
	for _, t := range tasks {
		switch t.Status {
		case store.ReviewPending:
			pending = true
		case store.ReviewRejected:
			rejected = true
		}
	}
	return pending, rejected, nil
}

// reject transitions in to REJECTED and emits INTENT_REJECTED, best-effort.
func (p *Processor) reject(ctx context.Context, traceID string, in *intent.Intent, reason string) {
	if err := in.Reject(p.now()); err != nil {
		return
	}
	_ = p.Intents.Upsert(ctx, *in)
	p.emit(ctx, traceID, eventlog.IntentRejected, in, map[string]any{"reason": reason}, nil)
	obsmetrics.RecordQueueOutcome("rejected")
}

func (p *Processor) emit(ctx context.Context, traceID string, typ eventlog.EventType, in *intent.Intent, payload, evidence map[string]any) {
	ev := eventlog.New(traceID, typ, in.ID, payload, evidence, p.now())
	ev.TenantID = in.TenantID
	p.appendChained(ctx, traceID, ev)
}

func (p *Processor) emitBare(ctx context.Context, typ eventlog.EventType, payload, evidence map[string]any) {
	traceID := eventlog.NewID()
	ev := eventlog.New(traceID, typ, "", payload, evidence, p.now())
	p.appendChained(ctx, traceID, ev)
}

func (p *Processor) appendChained(ctx context.Context, traceID string, ev eventlog.Event) {
	if p.Events == nil {
		return
	}
	_, _ = p.Events.Append(ctx, ev)
	if p.Chain != nil {
		_, _ = p.Chain.Advance(ctx, traceID, []eventlog.Event{ev})
	}
}
