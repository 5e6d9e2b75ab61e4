// Package intent implements the Intent lifecycle state machine: the
// structured semantic contract that carries a proposed merge through the
// validation pipeline.
package intent

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an Intent.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusReady     Status = "READY"
	StatusValidated Status = "VALIDATED"
	StatusQueued    Status = "QUEUED"
	StatusMerged    Status = "MERGED"
	StatusRejected  Status = "REJECTED"
)

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusReady, StatusValidated, StatusQueued, StatusMerged, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusMerged || s == StatusRejected
}

// RiskLevel classifies the computed or declared risk of an Intent.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Valid reports whether r is one of the declared risk levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// OriginType is the provenance of an Intent.
type OriginType string

const (
	OriginHuman       OriginType = "HUMAN"
	OriginAgent       OriginType = "AGENT"
	OriginIntegration OriginType = "INTEGRATION"
)

// Valid reports whether o is one of the declared origin types.
func (o OriginType) Valid() bool {
	switch o {
	case OriginHuman, OriginAgent, OriginIntegration:
		return true
	}
	return false
}

// DefaultPriority is assigned to Intents that do not specify one.
const DefaultPriority = 3

// MaxRetries bounds the number of requeue attempts.
const MaxRetries = 3

// Intent is the structured proposal to merge Source into Target.
type Intent struct {
	ID        string
	Source    string
	Target    string
	Status    Status
	RiskLevel RiskLevel
	Priority  int
	Origin    OriginType

	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time

	Semantic  map[string]any
	Technical Technical

	ChecksRequired []string
	Dependencies   []string

	Retries int

	TenantID string
	PlanID   string
}

// Technical carries automated-decision-relevant context. Only ScopeHint
// participates in automated decisions (risk/graph); AffectedModules is
// informational.
type Technical struct {
	ScopeHint       []string
	AffectedModules []string
}

// allowedTransitions is the explicit lifecycle state table.
var allowedTransitions = map[Status][]Status{
	StatusDraft:     {StatusReady, StatusRejected},
	StatusReady:     {StatusValidated, StatusRejected},
	StatusValidated: {StatusQueued, StatusReady, StatusRejected, StatusMerged},
	StatusQueued:    {StatusMerged, StatusReady, StatusRejected},
	StatusMerged:    {},
	StatusRejected:  {},
}

// CanTransition reports whether moving from 'from' to 'to' is legal under
// the lifecycle state machine.
func CanTransition(from, to Status) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionError is returned when an illegal state transition is attempted.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("intent: illegal transition %s -> %s", e.From, e.To)
}

// transitionTo validates and applies a status change, stamping UpdatedAt.
func (in *Intent) transitionTo(to Status, now time.Time) error {
	if !CanTransition(in.Status, to) {
		return &TransitionError{From: in.Status, To: to}
	}
	in.Status = to
	in.UpdatedAt = now
	return nil
}

// New constructs a READY Intent with defaults applied (priority,
// timestamps, empty collections).
func New(id, source, target string, origin OriginType, createdBy string, now time.Time) *Intent {
	return &Intent{
		ID:        id,
		Source:    source,
		Target:    target,
		Status:    StatusReady,
		RiskLevel: RiskLow,
		Priority:  DefaultPriority,
		Origin:    origin,
		CreatedAt: now,
		CreatedBy: createdBy,
		UpdatedAt: now,
		Semantic:  map[string]any{},
		Technical: Technical{},
	}
}

// Ready transitions DRAFT -> READY.
func (in *Intent) Ready(now time.Time) error { return in.transitionTo(StatusReady, now) }

// MarkValidated transitions READY -> VALIDATED.
func (in *Intent) MarkValidated(now time.Time) error { return in.transitionTo(StatusValidated, now) }

// Requeue transitions VALIDATED/QUEUED -> READY after a blocked
// revalidation or failed merge.
func (in *Intent) Requeue(now time.Time) error { return in.transitionTo(StatusReady, now) }

// MarkQueued transitions VALIDATED -> QUEUED. Callers must have a fresh,
// successful revalidation in hand before calling this.
func (in *Intent) MarkQueued(now time.Time) error { return in.transitionTo(StatusQueued, now) }

// MarkMerged transitions QUEUED or VALIDATED -> MERGED.
func (in *Intent) MarkMerged(now time.Time) error { return in.transitionTo(StatusMerged, now) }

// Reject transitions any non-terminal status -> REJECTED.
func (in *Intent) Reject(now time.Time) error { return in.transitionTo(StatusRejected, now) }

// IncrementRetries increments Retries, never exceeding MaxRetries.
// Returns true if the Intent has now exhausted its retries.
func (in *Intent) IncrementRetries() (exhausted bool) {
	in.Retries++
	if in.Retries > MaxRetries {
		in.Retries = MaxRetries
	}
	return in.Retries >= MaxRetries
}

// ValidateDependencies rejects self-references, duplicates, and (given a
// resolver for each dependency's own dependency list) any cycle in the
// dependency closure.
func (in *Intent) ValidateDependencies(resolveDeps func(id string) ([]string, error)) error {
	seen := make(map[string]struct{}, len(in.Dependencies))
	for _, dep := range in.Dependencies {
		if dep == in.ID {
			return fmt.Errorf("intent: dependency %s references self", dep)
		}
		if _, dup := seen[dep]; dup {
			return fmt.Errorf("intent: duplicate dependency %s", dep)
		}
		seen[dep] = struct{}{}
	}
	if resolveDeps == nil {
		return nil
	}
	return detectCycle(in.ID, in.Dependencies, resolveDeps)
}

// detectCycle performs DFS over the dependency closure rooted at root,
// starting from its direct dependency list deps, using resolveDeps to
// expand further nodes.
func detectCycle(root string, deps []string, resolveDeps func(id string) ([]string, error)) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{root: gray}

	var visit func(id string) error
	visit = func(id string) error {
		children, err := resolveDeps(id)
		if err != nil {
			return err
		}
		for _, child := range children {
			switch color[child] {
			case gray:
				return fmt.Errorf("intent: dependency cycle detected at %s", child)
			case black:
				continue
			default:
				color[child] = gray
				if err := visit(child); err != nil {
					return err
				}
				color[child] = black
			}
		}
		return nil
	}

	color[root] = gray
	for _, dep := range deps {
		if dep == root {
			continue
		}
		if color[dep] == white || color[dep] == 0 {
			color[dep] = gray
			if err := visit(dep); err != nil {
				return err
			}
			color[dep] = black
		}
	}
	return nil
}

// Clone returns a deep-enough copy safe for concurrent mutation by callers
// (maps and slices are copied; Semantic values are not deep-cloned).
func (in Intent) Clone() Intent {
	out := in
	if in.Semantic != nil {
		out.Semantic = make(map[string]any, len(in.Semantic))
		for k, v := range in.Semantic {
			out.Semantic[k] = v
		}
	}
	if in.Technical.ScopeHint != nil {
		out.Technical.ScopeHint = append([]string(nil), in.Technical.ScopeHint...)
	}
	if in.Technical.AffectedModules != nil {
		out.Technical.AffectedModules = append([]string(nil), in.Technical.AffectedModules...)
	}
	if in.ChecksRequired != nil {
		out.ChecksRequired = append([]string(nil), in.ChecksRequired...)
	}
	if in.Dependencies != nil {
		out.Dependencies = append([]string(nil), in.Dependencies...)
	}
	return out
}
