package scm

import (
	"context"
	"fmt"
	"sync"
)

// Fake is a scripted, in-memory Port used by tests: callers preload the
// Simulation/commit responses keyed by source/target, then exercise code
// that depends on Port without touching a real repository.
type Fake struct {
	mu          sync.Mutex
	simulations map[string]Simulation
	commits     map[string][]Commit
	mergeErr    map[string]error
	nextSHA     int
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		simulations: make(map[string]Simulation),
		commits:     make(map[string][]Commit),
		mergeErr:    make(map[string]error),
	}
}

func key(a, b string) string { return a + "->" + b }

// SetSimulation scripts the Simulate response for source/target.
func (f *Fake) SetSimulation(source, target string, sim Simulation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulations[key(source, target)] = sim
}

// SetMergeError scripts ExecuteMerge to fail for source/target.
func (f *Fake) SetMergeError(source, target string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mergeErr[key(source, target)] = err
}

// SetCommits scripts the LogBetween response for base/head.
func (f *Fake) SetCommits(base, head string, commits []Commit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits[key(base, head)] = commits
}

func (f *Fake) Simulate(_ context.Context, source, target string) (Simulation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sim, ok := f.simulations[key(source, target)]
	if !ok {
		return Simulation{Mergeable: true, BaseCommit: "base", HeadCommit: "head"}, nil
	}
	return sim, nil
}

func (f *Fake) ExecuteMerge(_ context.Context, source, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.mergeErr[key(source, target)]; ok {
		return "", &MergeExecutionError{Source: source, Target: target, Err: err}
	}
	f.nextSHA++
	return fmt.Sprintf("sha-%d", f.nextSHA), nil
}

func (f *Fake) LogBetween(_ context.Context, base, head string) ([]Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Commit(nil), f.commits[key(base, head)]...), nil
}
