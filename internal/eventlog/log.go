package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/ghmbegerez/converge/internal/intent"
)

// Query filters an event retrieval. store.Query is a type alias of this,
// kept here since store.EventStore is defined in terms of eventlog.Event
// and importing store from eventlog would cycle.
type Query struct {
	Type     EventType
	IntentID string
	TenantID string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// EventAppender is the minimal append/query surface a backing store must
// provide. store.EventStore satisfies this structurally.
type EventAppender interface {
	Append(ctx context.Context, ev Event) (string, error)
	Query(ctx context.Context, q Query) ([]Event, error)
	LatestOf(ctx context.Context, typ EventType, intentID string) (*Event, error)
}

// IntentLoader is the minimal Intent-projection surface Materialize needs.
// store.IntentStore satisfies this structurally.
type IntentLoader interface {
	Get(ctx context.Context, id string) (intent.Intent, error)
	Upsert(ctx context.Context, in intent.Intent) error
}

// IntentProjector applies a materialized event onto the indexed Intent row.
// Returning (nil, false) leaves the Intent store untouched (events that do
// not affect the Intent projection, e.g. COHERENCE_BASELINE_UPDATED).
type IntentProjector func(in intent.Intent, ev Event) (intent.Intent, bool)

// Log is the append-only event log port: append, query, latest_of, and
// materialize against the backing store.
type Log struct {
	events    EventAppender
	intents   IntentLoader
	projector IntentProjector
}

// NewLog wraps a backing EventStore/IntentStore pair with the default
// projection rules.
func NewLog(events EventAppender, intents IntentLoader) *Log {
	return &Log{events: events, intents: intents, projector: DefaultProjector}
}

// Append records ev, failing with a wrapped error on backend fault.
func (l *Log) Append(ctx context.Context, ev Event) (string, error) {
	id, err := l.events.Append(ctx, ev)
	if err != nil {
		return "", fmt.Errorf("eventlog: append: %w", err)
	}
	return id, nil
}

// Query retrieves events matching q, newest first by default.
func (l *Log) Query(ctx context.Context, q Query) ([]Event, error) {
	return l.events.Query(ctx, q)
}

// LatestOf returns the most recent event of typ for intentID, or nil if none
// exists.
func (l *Log) LatestOf(ctx context.Context, typ EventType, intentID string) (*Event, error) {
	return l.events.LatestOf(ctx, typ, intentID)
}

// Materialize updates the indexed Intent row per ev's projection rule.
// Idempotent under replay: every projection either sets an absolute field
// (status, risk level, retry count) or is a no-op for event types with no
// Intent-row effect.
func (l *Log) Materialize(ctx context.Context, ev Event) error {
	if l.projector == nil {
		return nil
	}
	in, err := l.intents.Get(ctx, ev.IntentID)
	if err != nil {
		return fmt.Errorf("eventlog: materialize: load intent %s: %w", ev.IntentID, err)
	}
	updated, changed := l.projector(in, ev)
	if !changed {
		return nil
	}
	if err := l.intents.Upsert(ctx, updated); err != nil {
		return fmt.Errorf("eventlog: materialize: store intent %s: %w", ev.IntentID, err)
	}
	return nil
}

// DefaultProjector implements the standard Intent projection for the
// event types that mutate lifecycle state.
func DefaultProjector(in intent.Intent, ev Event) (intent.Intent, bool) {
	now := ev.Timestamp
	switch ev.Type {
	case IntentValidated:
		// A revalidation of an already-VALIDATED intent only touches the
		// timestamp, matching the live pipeline's finalize step.
		if in.Status == intent.StatusValidated {
			in.UpdatedAt = now
			break
		}
		if err := in.MarkValidated(now); err != nil {
			return in, false
		}
	case IntentRequeued:
		// The event payload carries the post-increment retry count, so
		// replaying the same event twice cannot double-count.
		if r, ok := payloadInt(ev.Payload, "retries"); ok {
			in.Retries = r
		} else {
			in.IncrementRetries()
		}
		if err := in.Requeue(now); err != nil {
			return in, false
		}
	case IntentRejected:
		if err := in.Reject(now); err != nil {
			return in, false
		}
	case IntentMerged:
		if err := in.MarkMerged(now); err != nil {
			return in, false
		}
	case RiskLevelReclassified:
		if lvl, ok := ev.Payload["risk_level"].(string); ok {
			rl := intent.RiskLevel(lvl)
			if rl.Valid() {
				in.RiskLevel = rl
				in.UpdatedAt = now
			}
		}
	default:
		return in, false
	}
	return in, true
}

// payloadInt reads an integral payload value that may arrive as an int
// (in-process emit) or a float64 (JSON round-trip).
func payloadInt(payload map[string]any, key string) (int, bool) {
	switch v := payload[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
