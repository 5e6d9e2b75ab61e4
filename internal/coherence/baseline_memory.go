package coherence

import (
	"context"
	"sync"
)

// MemoryBaselines is an in-memory BaselineStore; the latest Set call for
// a question id wins.
type MemoryBaselines struct {
	mu     sync.Mutex
	values map[string]float64
}

// NewMemoryBaselines returns an empty MemoryBaselines store.
func NewMemoryBaselines() *MemoryBaselines {
	return &MemoryBaselines{values: make(map[string]float64)}
}

func (m *MemoryBaselines) Get(_ context.Context, questionID string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[questionID]
	return v, ok, nil
}

func (m *MemoryBaselines) Set(_ context.Context, questionID string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[questionID] = value
	return nil
}
