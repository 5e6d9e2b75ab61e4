// Package scanner defines the pluggable security-scanner port:
// availability probing plus a normalized finding model shared across
// SAST, SCA, and secrets scanners.
package scanner

import (
	"context"
	"time"

	"github.com/ghmbegerez/converge/internal/store"
)

// Options configures a single scan invocation.
type Options struct {
	IntentID string
	TenantID string
}

// Port is one security scanner. IsAvailable is checked before Scan is ever
// called; an unavailable scanner is skipped and recorded as such rather
// than failing the pipeline.
type Port interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	Scan(ctx context.Context, path string, opts Options) ([]store.SecurityFinding, error)
}

// Registry resolves scanners by name, falling back to an "unavailable"
// sentinel for names with no registered implementation.
type Registry struct {
	scanners map[string]Port
}

// NewRegistry builds a Registry from the given scanners, keyed by Name().
func NewRegistry(scanners ...Port) *Registry {
	reg := &Registry{scanners: make(map[string]Port, len(scanners))}
	for _, s := range scanners {
		reg.scanners[s.Name()] = s
	}
	return reg
}

// Get returns the named scanner, or an unavailable sentinel if none is
// registered under that name.
func (r *Registry) Get(name string) Port {
	if s, ok := r.scanners[name]; ok {
		return s
	}
	return unavailable{name: name}
}

// Names returns the registered scanner names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.scanners))
	for n := range r.scanners {
		names = append(names, n)
	}
	return names
}

type unavailable struct{ name string }

func (u unavailable) Name() string                     { return u.name }
func (u unavailable) IsAvailable(context.Context) bool { return false }
func (u unavailable) Scan(context.Context, string, Options) ([]store.SecurityFinding, error) {
	return nil, nil
}

// NormalizeSecretFinding forces a secrets finding to HIGH severity and
// truncates its evidence to the rule name plus the first 8 bytes of the
// match, so the secret itself never lands in the store.
func NormalizeSecretFinding(f store.SecurityFinding, rawMatch string) store.SecurityFinding {
	f.Category = store.CategorySecrets
	f.Severity = store.SeverityHigh
	match := rawMatch
	if len(match) > 8 {
		match = match[:8]
	}
	f.Evidence = f.Rule + ":" + match
	return f
}

// NewFinding stamps a finding with a timestamp and the scan's context.
func NewFinding(id, scannerName string, category store.SecurityCategory, severity store.SecuritySeverity, file string, line int, rule, evidence string, confidence float64, opts Options, now time.Time) store.SecurityFinding {
	return store.SecurityFinding{
		ID:         id,
		Scanner:    scannerName,
		Category:   category,
		Severity:   severity,
		File:       file,
		Line:       line,
		Rule:       rule,
		Evidence:   evidence,
		Confidence: confidence,
		IntentID:   opts.IntentID,
		TenantID:   opts.TenantID,
		Timestamp:  now,
	}
}
