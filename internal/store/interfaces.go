// Package store defines the transactional persistence ports the event
// log, orchestrator, and queue processor depend on. Concrete backends
// live in store/memory and store/postgres.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ghmbegerez/converge/internal/eventlog"
	"github.com/ghmbegerez/converge/internal/intent"
)

// Query is an alias of eventlog.Query so store backends implement
// eventlog.EventAppender without an extra adapter layer.
type Query = eventlog.Query

// EventStore appends and retrieves events. Appends are atomic and
// total-order per process; implementations must serialize writes so that
// a trace_id's events appear contiguously in retrieval order.
type EventStore interface {
	Append(ctx context.Context, ev eventlog.Event) (id string, err error)
	Query(ctx context.Context, q Query) ([]eventlog.Event, error)
	LatestOf(ctx context.Context, typ eventlog.EventType, intentID string) (*eventlog.Event, error)
}

// IntentStore persists the materialized Intent projection.
type IntentStore interface {
	Upsert(ctx context.Context, in intent.Intent) error
	Get(ctx context.Context, id string) (intent.Intent, error)
	List(ctx context.Context, status intent.Status) ([]intent.Intent, error)
	// ListQueueCandidates returns VALIDATED intents ordered by priority asc,
	// created_at asc, bounded by limit.
	ListQueueCandidates(ctx context.Context, limit int) ([]intent.Intent, error)
}

// LockToken represents an acquired advisory lock.
type LockToken struct {
	Name       string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// QueueLockStore implements the advisory, TTL-bound, force-reclaimable
// queue lock.
type QueueLockStore interface {
	// Acquire returns ok=false without error if another holder's lock has
	// not yet expired.
	Acquire(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (token LockToken, ok bool, err error)
	Release(ctx context.Context, name, holder string) error
}

// WebhookDedupStore records external delivery IDs to make webhook intake
// idempotent under retries.
type WebhookDedupStore interface {
	// SeenOrRecord returns true if deliveryID was already recorded, else
	// records it and returns false.
	SeenOrRecord(ctx context.Context, deliveryID string, now time.Time) (seen bool, err error)
}

// ReviewStatus is the outcome of a human review task.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "PENDING"
	ReviewApproved  ReviewStatus = "APPROVED"
	ReviewRejected  ReviewStatus = "REJECTED"
	ReviewCancelled ReviewStatus = "CANCELLED"
)

// ReviewTask is a human-in-the-loop follow-up requested by the coherence
// harness's cross-validation or another component.
type ReviewTask struct {
	ID         string
	IntentID   string
	Reason     string
	Status     ReviewStatus
	AssignedTo string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ReviewStore persists review tasks.
type ReviewStore interface {
	UpsertReview(ctx context.Context, task ReviewTask) error
	ListReviewsByIntent(ctx context.Context, intentID string) ([]ReviewTask, error)
}

// SecuritySeverity classifies a finding's impact.
type SecuritySeverity string

const (
	SeverityCritical SecuritySeverity = "CRITICAL"
	SeverityHigh     SecuritySeverity = "HIGH"
	SeverityMedium   SecuritySeverity = "MEDIUM"
	SeverityLow      SecuritySeverity = "LOW"
	SeverityInfo     SecuritySeverity = "INFO"
)

// SecurityCategory names the scanner family that produced a finding.
type SecurityCategory string

const (
	CategorySAST    SecurityCategory = "SAST"
	CategorySCA     SecurityCategory = "SCA"
	CategorySecrets SecurityCategory = "SECRETS"
)

// SecurityFinding is a normalized scanner finding.
type SecurityFinding struct {
	ID         string
	Scanner    string
	Category   SecurityCategory
	Severity   SecuritySeverity
	File       string
	Line       int
	Rule       string
	Evidence   string
	Confidence float64
	IntentID   string
	TenantID   string
	Timestamp  time.Time
}

// SecurityFindingStore persists normalized findings.
type SecurityFindingStore interface {
	UpsertFinding(ctx context.Context, f SecurityFinding) error
	ListFindingsByIntent(ctx context.Context, intentID string) ([]SecurityFinding, error)
}

// ChainHeadStore persists the audit chain's rolling head hash plus the
// append-time checkpoint ledger (one entry per batch) that lets
// auditchain.Verify pinpoint the first tampered batch rather than only
// detecting that *some* batch diverged.
type ChainHeadStore interface {
	Head(ctx context.Context) ([]byte, error)
	SetHead(ctx context.Context, head []byte) error
	AppendCheckpoint(ctx context.Context, cp ChainCheckpoint) error
	ListCheckpoints(ctx context.Context) ([]ChainCheckpoint, error)
}

// ChainCheckpoint is the hash recorded immediately after one batch was
// folded into the chain, independent of the (tamperable) event payloads
// themselves. Count records how many events the batch held, so Verify can
// split the stream back into batches even when consecutive batches share a
// trace_id (a queue pass extends a validation's trace with its merge
// events).
type ChainCheckpoint struct {
	Index   int
	TraceID string
	Count   int
	Hash    []byte
}

// PolicyDocStore persists risk/agent policy documents keyed by name (used to
// store calibration history and origin overrides outside the static JSON
// config, e.g. admin-tuned per-tenant overrides).
type PolicyDocStore interface {
	GetDoc(ctx context.Context, name string) (map[string]any, bool, error)
	SetDoc(ctx context.Context, name string, doc map[string]any) error
}

// ErrNotFound is returned by lookup methods when no record matches.
var ErrNotFound = errors.New("store: not found")

// Store composes every port the core depends on. Backends implement it in
// full; callers should generally depend on the narrower interfaces above.
type Store interface {
	EventStore
	IntentStore
	QueueLockStore
	WebhookDedupStore
	ReviewStore
	SecurityFindingStore
	ChainHeadStore
	PolicyDocStore
}
