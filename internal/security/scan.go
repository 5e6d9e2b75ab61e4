// Package security drives the pluggable scanner port over an Intent's
// changed paths, normalizing and persisting findings and emitting the
// SECURITY_SCAN_* event trio. It is a thin consumer of the core: the
// policy engine's security gate reads whatever findings already sit in
// the store, so a scan run is an operation external callers trigger
// (webhook hook, CLI, scheduler), not a pipeline step the orchestrator
// drives itself.
package security

import (
	"context"
	"strings"
	"time"

	"github.com/ghmbegerez/converge/internal/eventlog"
	"github.com/ghmbegerez/converge/internal/scanner"
	"github.com/ghmbegerez/converge/internal/store"
)

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Default per-scan wall-clock bounds; SCA scans resolve dependency trees
// and get more headroom.
const (
	DefaultScanTimeout = 120 * time.Second
	SCAScanTimeout     = 180 * time.Second
)

// Runner scans an Intent's changed paths with every registered scanner.
// An unavailable scanner is skipped and recorded as such, never an error.
type Runner struct {
	Scanners *scanner.Registry
	Findings store.SecurityFindingStore
	Events   *eventlog.Log
	Now      Clock
	// Timeouts overrides the per-scanner wall-clock bound by scanner name;
	// scanners not listed fall back to SCAScanTimeout when their name
	// contains "sca", else to DefaultScanTimeout.
	Timeouts map[string]time.Duration
}

func (r *Runner) timeoutFor(name string) time.Duration {
	if d, ok := r.Timeouts[name]; ok && d > 0 {
		return d
	}
	if strings.Contains(strings.ToLower(name), "sca") {
		return SCAScanTimeout
	}
	return DefaultScanTimeout
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// Result summarizes one Scan call.
type Result struct {
	Findings []store.SecurityFinding
	Skipped  []string
}

// Scan runs every named scanner over path, upserting normalized findings
// and emitting SECURITY_SCAN_STARTED/COMPLETED once per scanner plus
// SECURITY_FINDING_DETECTED per finding.
func (r *Runner) Scan(ctx context.Context, intentID, tenantID, path string, names []string) (Result, error) {
	var out Result
	opts := scanner.Options{IntentID: intentID, TenantID: tenantID}

	for _, name := range names {
		s := r.Scanners.Get(name)
		if !s.IsAvailable(ctx) {
			out.Skipped = append(out.Skipped, name)
			continue
		}

		r.emit(ctx, eventlog.SecurityScanStarted, intentID, tenantID, map[string]any{"scanner": name}, nil)

		scanCtx, cancel := context.WithTimeout(ctx, r.timeoutFor(name))
		findings, err := s.Scan(scanCtx, path, opts)
		cancel()
		if err != nil {
			r.emit(ctx, eventlog.SecurityScanCompleted, intentID, tenantID, map[string]any{
				"scanner": name, "error": err.Error(),
			}, nil)
			continue
		}

		for i := range findings {
			f := findings[i]
			f.Timestamp = r.now()
			f.IntentID = intentID
			f.TenantID = tenantID
			if err := r.Findings.UpsertFinding(ctx, f); err != nil {
				continue
			}
			out.Findings = append(out.Findings, f)
			r.emit(ctx, eventlog.SecurityFindingDetected, intentID, tenantID, map[string]any{
				"scanner": f.Scanner, "category": string(f.Category), "severity": string(f.Severity),
				"file": f.File, "rule": f.Rule,
			}, nil)
		}

		r.emit(ctx, eventlog.SecurityScanCompleted, intentID, tenantID, map[string]any{
			"scanner": name, "findings": len(findings),
		}, nil)
	}

	return out, nil
}

func (r *Runner) emit(ctx context.Context, typ eventlog.EventType, intentID, tenantID string, payload, evidence map[string]any) {
	if r.Events == nil {
		return
	}
	ev := eventlog.New(eventlog.NewID(), typ, intentID, payload, evidence, r.now())
	ev.TenantID = tenantID
	_, _ = r.Events.Append(ctx, ev)
}
