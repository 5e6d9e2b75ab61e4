// Package scm defines the source-control port: simulating a merge,
// executing it in an isolated scratch area, and replaying commits between
// two refs.
package scm

import (
	"context"
	"errors"
	"fmt"
)

// Simulation is the result of a dry-run merge.
type Simulation struct {
	Mergeable    bool
	Conflicts    []string
	FilesChanged []string
	BaseCommit   string
	HeadCommit   string
}

// Commit is one entry of a log_between traversal.
type Commit struct {
	SHA     string
	Author  string
	Message string
	Files   []string
}

// MergeExecutionError is raised by ExecuteMerge on failure. Errors.Is/As
// callers should check this type to distinguish a failed merge from a
// transport-level fault.
type MergeExecutionError struct {
	Source, Target string
	Err            error
}

func (e *MergeExecutionError) Error() string {
	return fmt.Sprintf("scm: merge %s -> %s failed: %v", e.Source, e.Target, e.Err)
}

func (e *MergeExecutionError) Unwrap() error { return e.Err }

// ErrUnknownRef and ErrCorruptRepo are fatal, non-retryable failures; any
// other error is treated as transient and retryable by callers.
var (
	ErrUnknownRef  = errors.New("scm: unknown ref")
	ErrCorruptRepo = errors.New("scm: corrupt repository")
)

// Port is the source-control capability the orchestrator depends on.
type Port interface {
	// Simulate performs a dry-run merge; it must not mutate the working tree.
	Simulate(ctx context.Context, source, target string) (Simulation, error)
	// ExecuteMerge performs the real merge in an isolated scratch area.
	ExecuteMerge(ctx context.Context, source, target string) (commitSHA string, err error)
	// LogBetween returns commits reachable from head but not base, oldest
	// first.
	LogBetween(ctx context.Context, base, head string) ([]Commit, error)
}
