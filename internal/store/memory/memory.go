// Package memory implements the store port entirely in process memory,
// used for tests and single-node/demo deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ghmbegerez/converge/internal/eventlog"
	"github.com/ghmbegerez/converge/internal/intent"
	"github.com/ghmbegerez/converge/internal/store"
)

// Store is a thread-safe, in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	events  []eventlog.Event
	intents map[string]intent.Intent
	locks   map[string]store.LockToken
	seen    map[string]struct{}
	reviews map[string][]store.ReviewTask
	finds   map[string][]store.SecurityFinding
	head    []byte
	docs    map[string]map[string]any
	chain   []store.ChainCheckpoint
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		intents: make(map[string]intent.Intent),
		locks:   make(map[string]store.LockToken),
		seen:    make(map[string]struct{}),
		reviews: make(map[string][]store.ReviewTask),
		finds:   make(map[string][]store.SecurityFinding),
		docs:    make(map[string]map[string]any),
	}
}

func (s *Store) Append(_ context.Context, ev eventlog.Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return ev.ID, nil
}

func (s *Store) Query(_ context.Context, q store.Query) ([]eventlog.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Newest-first means exact reverse of insertion order, not a timestamp
	// sort: equal timestamps (common under a fixed test clock) must still
	// replay deterministically.
	var out []eventlog.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if q.Type != "" && ev.Type != q.Type {
			continue
		}
		if q.IntentID != "" && ev.IntentID != q.IntentID {
			continue
		}
		if q.TenantID != "" && ev.TenantID != q.TenantID {
			continue
		}
		if !q.Since.IsZero() && ev.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && ev.Timestamp.After(q.Until) {
			continue
		}
		out = append(out, ev)
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) LatestOf(_ context.Context, typ eventlog.EventType, intentID string) (*eventlog.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *eventlog.Event
	for i := range s.events {
		ev := s.events[i]
		if ev.Type != typ {
			continue
		}
		if intentID != "" && ev.IntentID != intentID {
			continue
		}
		if latest == nil || !ev.Timestamp.Before(latest.Timestamp) {
			evCopy := ev
			latest = &evCopy
		}
	}
	return latest, nil
}

func (s *Store) Upsert(_ context.Context, in intent.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[in.ID] = in.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, id string) (intent.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return intent.Intent{}, store.ErrNotFound
	}
	return in.Clone(), nil
}

func (s *Store) List(_ context.Context, status intent.Status) ([]intent.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []intent.Intent
	for _, in := range s.intents {
		if status == "" || in.Status == status {
			out = append(out, in.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListQueueCandidates(_ context.Context, limit int) ([]intent.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []intent.Intent
	for _, in := range s.intents {
		if in.Status == intent.StatusValidated {
			out = append(out, in.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Acquire(_ context.Context, name, holder string, ttl time.Duration, now time.Time) (store.LockToken, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.locks[name]; ok && existing.Holder != holder && now.Before(existing.ExpiresAt) {
		return store.LockToken{}, false, nil
	}

	token := store.LockToken{Name: name, Holder: holder, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	s.locks[name] = token
	return token, true, nil
}

func (s *Store) Release(_ context.Context, name, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.locks[name]; ok && existing.Holder == holder {
		delete(s.locks, name)
	}
	return nil
}

func (s *Store) SeenOrRecord(_ context.Context, deliveryID string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[deliveryID]; ok {
		return true, nil
	}
	s.seen[deliveryID] = struct{}{}
	return false, nil
}

func (s *Store) UpsertReview(_ context.Context, task store.ReviewTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.reviews[task.IntentID]
	for i, t := range list {
		if t.ID == task.ID {
			list[i] = task
			return nil
		}
	}
	s.reviews[task.IntentID] = append(list, task)
	return nil
}

func (s *Store) ListReviewsByIntent(_ context.Context, intentID string) ([]store.ReviewTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]store.ReviewTask(nil), s.reviews[intentID]...)
	return out, nil
}

func (s *Store) ListFindingsByIntent(_ context.Context, intentID string) ([]store.SecurityFinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]store.SecurityFinding(nil), s.finds[intentID]...)
	return out, nil
}

func (s *Store) UpsertFinding(_ context.Context, f store.SecurityFinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.finds[f.IntentID]
	for i, existing := range list {
		if existing.ID == f.ID {
			list[i] = f
			s.finds[f.IntentID] = list
			return nil
		}
	}
	s.finds[f.IntentID] = append(list, f)
	return nil
}

func (s *Store) Head(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.head...), nil
}

func (s *Store) SetHead(_ context.Context, head []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = append([]byte(nil), head...)
	return nil
}

func (s *Store) AppendCheckpoint(_ context.Context, cp store.ChainCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp.Hash = append([]byte(nil), cp.Hash...)
	s.chain = append(s.chain, cp)
	return nil
}

func (s *Store) ListCheckpoints(_ context.Context) ([]store.ChainCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ChainCheckpoint, len(s.chain))
	for i, cp := range s.chain {
		out[i] = cp
		out[i].Hash = append([]byte(nil), cp.Hash...)
	}
	return out, nil
}

func (s *Store) GetDoc(_ context.Context, name string) (map[string]any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[name]
	return doc, ok, nil
}

func (s *Store) SetDoc(_ context.Context, name string, doc map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[name] = doc
	return nil
}
