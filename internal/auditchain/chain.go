// Package auditchain implements the rolling SHA-256 hash chain over
// event batches: tamper evidence for the append-only event log, not a
// guarantee against store faults.
package auditchain

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/ghmbegerez/converge/internal/eventlog"
	"github.com/ghmbegerez/converge/internal/store"
)

// GenesisHash is the all-zero chain head a fresh store starts from.
var GenesisHash = make([]byte, sha256.Size)

// BatchReader streams events in insertion order for verification.
type BatchReader interface {
	Query(ctx context.Context, q eventlog.Query) ([]eventlog.Event, error)
}

// Chain advances and verifies the rolling hash over event batches; each
// batch belongs to one trace_id, and one trace may span several batches.
type Chain struct {
	head store.ChainHeadStore
}

// New builds a Chain over the given head/checkpoint store.
func New(head store.ChainHeadStore) *Chain {
	return &Chain{head: head}
}

// canonicalEvent is the stable wire shape hashed for one Event: a fixed
// field order and a fixed-width UTC nanosecond timestamp so the same logical event always
// hashes identically regardless of map iteration order.
type canonicalEvent struct {
	ID        string         `json:"id"`
	TraceID   string         `json:"trace_id"`
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"event_type"`
	IntentID  string         `json:"intent_id"`
	AgentID   string         `json:"agent_id"`
	TenantID  string         `json:"tenant_id"`
	Payload   map[string]any `json:"payload"`
	Evidence  map[string]any `json:"evidence"`
}

// CanonicalBytes deterministically serializes a batch of events for hashing.
func CanonicalBytes(batch []eventlog.Event) ([]byte, error) {
	out := make([]canonicalEvent, 0, len(batch))
	for _, ev := range batch {
		out = append(out, canonicalEvent{
			ID:        ev.ID,
			TraceID:   ev.TraceID,
			Timestamp: ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z"),
			Type:      string(ev.Type),
			IntentID:  ev.IntentID,
			AgentID:   ev.AgentID,
			TenantID:  ev.TenantID,
			Payload:   ev.Payload,
			Evidence:  ev.Evidence,
		})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("auditchain: encode batch: %w", err)
	}
	return buf.Bytes(), nil
}

// Advance computes hash_n = SHA256(prev_head || canonical_bytes(batch)) for
// one trace_id's event batch, atomically updates the stored head, and
// records a checkpoint (independent of the tamperable event payloads) so
// Verify can later pinpoint the first diverging batch.
func (c *Chain) Advance(ctx context.Context, traceID string, batch []eventlog.Event) ([]byte, error) {
	if len(batch) == 0 {
		return c.head.Head(ctx)
	}

	prev, err := c.head.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("auditchain: read head: %w", err)
	}
	if len(prev) == 0 {
		prev = GenesisHash
	}

	canon, err := CanonicalBytes(batch)
	if err != nil {
		return nil, err
	}

	h := sha256.New()
	h.Write(prev)
	h.Write(canon)
	next := h.Sum(nil)

	if err := c.head.SetHead(ctx, next); err != nil {
		return nil, fmt.Errorf("auditchain: write head: %w", err)
	}

	existing, err := c.head.ListCheckpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("auditchain: list checkpoints: %w", err)
	}
	if err := c.head.AppendCheckpoint(ctx, store.ChainCheckpoint{
		Index: len(existing), TraceID: traceID, Count: len(batch), Hash: next,
	}); err != nil {
		return nil, fmt.Errorf("auditchain: append checkpoint: %w", err)
	}
	return next, nil
}

// VerificationResult reports the outcome of replaying the chain.
type VerificationResult struct {
	OK            bool
	TamperedBatch int // index of the first offending batch, -1 if OK
	TamperedTrace string
}

// Verify streams every event in insertion order, keeps those belonging to
// a chained trace, splits them back into batches using the checkpoint
// ledger's recorded counts, and recomputes each batch's hash from genesis
// forward. The first batch whose recomputed hash diverges from its
// checkpoint is reported: that is the batch whose event payload(s) were
// tampered with after the fact, since the checkpoint itself was recorded
// independently at append time. Events whose trace was never folded into
// the chain (intake decisions, scan runs triggered outside a validation)
// are ignored.
func Verify(ctx context.Context, reader BatchReader, head store.ChainHeadStore) (VerificationResult, error) {
	events, err := reader.Query(ctx, eventlog.Query{})
	if err != nil {
		return VerificationResult{}, fmt.Errorf("auditchain: query events: %w", err)
	}
	checkpoints, err := head.ListCheckpoints(ctx)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("auditchain: list checkpoints: %w", err)
	}

	chained := make(map[string]struct{}, len(checkpoints))
	for _, cp := range checkpoints {
		chained[cp.TraceID] = struct{}{}
	}

	// Query returns newest-first by convention; replay must be oldest-first.
	ordered := make([]eventlog.Event, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		if _, ok := chained[events[i].TraceID]; ok {
			ordered = append(ordered, events[i])
		}
	}

	running := GenesisHash
	pos := 0
	for i, cp := range checkpoints {
		if pos+cp.Count > len(ordered) {
			return VerificationResult{OK: false, TamperedBatch: i, TamperedTrace: cp.TraceID}, nil
		}
		batch := ordered[pos : pos+cp.Count]
		pos += cp.Count
		for _, ev := range batch {
			if ev.TraceID != cp.TraceID {
				return VerificationResult{OK: false, TamperedBatch: i, TamperedTrace: cp.TraceID}, nil
			}
		}

		canon, cerr := CanonicalBytes(batch)
		if cerr != nil {
			return VerificationResult{}, cerr
		}
		h := sha256.New()
		h.Write(running)
		h.Write(canon)
		running = h.Sum(nil)

		if !bytes.Equal(running, cp.Hash) {
			return VerificationResult{OK: false, TamperedBatch: i, TamperedTrace: cp.TraceID}, nil
		}
	}

	if pos < len(ordered) {
		// Events were inserted under a chained trace after its batches were
		// sealed.
		return VerificationResult{OK: false, TamperedBatch: len(checkpoints), TamperedTrace: ordered[pos].TraceID}, nil
	}

	return VerificationResult{OK: true, TamperedBatch: -1}, nil
}
