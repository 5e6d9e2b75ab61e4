// Package orchestrator drives the seven-step validation pipeline:
// simulate -> verify -> risk -> coherence -> policy -> risk-gate ->
// finalize, emitting every event under one trace_id and short-circuiting
// on block or error.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ghmbegerez/converge/internal/auditchain"
	"github.com/ghmbegerez/converge/internal/checks"
	"github.com/ghmbegerez/converge/internal/coherence"
	"github.com/ghmbegerez/converge/internal/eventlog"
	"github.com/ghmbegerez/converge/internal/graph"
	"github.com/ghmbegerez/converge/internal/intent"
	"github.com/ghmbegerez/converge/internal/obsmetrics"
	"github.com/ghmbegerez/converge/internal/policy"
	"github.com/ghmbegerez/converge/internal/resilience"
	"github.com/ghmbegerez/converge/internal/risk"
	"github.com/ghmbegerez/converge/internal/scm"
	"github.com/ghmbegerez/converge/internal/store"
)

// Outcome discriminates the Decision a Validate run produced.
type Outcome string

const (
	OutcomeAllowed Outcome = "ALLOWED"
	OutcomeBlocked Outcome = "BLOCKED"
	OutcomeError   Outcome = "ERROR"
)

// Decision is the terminal result of one validate(intent) run.
type Decision struct {
	Outcome  Outcome
	Reason   string
	TraceID  string
	RiskGate policy.RiskGateResult
	Gates    []policy.GateResult
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Orchestrator wires every port/engine the validation pipeline depends on.
type Orchestrator struct {
	SCM          scm.Port
	Checks       checks.Port
	Questions    []coherence.Question
	Baselines    coherence.BaselineStore
	Events       *eventlog.Log
	Intents      store.IntentStore
	Findings     store.SecurityFindingStore
	Profiles     map[intent.RiskLevel]policy.Profile
	Overrides    policy.OriginOverrides
	Global       policy.GlobalSettings
	AutoClassify bool
	Now          Clock
	// Reviews, if set, receives a pending review task whenever the
	// coherence harness's cross-validation downgrades a verdict.
	Reviews store.ReviewStore
	// Chain, if set, folds every event emitted by one Validate run into the
	// audit chain as a single batch keyed by trace_id.
	Chain *auditchain.Chain
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

// Validate runs the full pipeline against in, mutating in in place. The
// updated row is persisted only when the outcome is ALLOWED; a blocked or
// failed run leaves the stored row untouched.
func (o *Orchestrator) Validate(ctx context.Context, in *intent.Intent) (dec Decision, err error) {
	traceID := eventlog.NewID()
	started := time.Now()
	defer func() { obsmetrics.RecordValidation(string(dec.Outcome), time.Since(started)) }()

	var emitted []eventlog.Event
	emit := func(typ eventlog.EventType, payload, evidence map[string]any) {
		ev := eventlog.New(traceID, typ, in.ID, payload, evidence, o.now())
		ev.TenantID = in.TenantID
		_, _ = o.Events.Append(ctx, ev)
		emitted = append(emitted, ev)
	}
	if o.Chain != nil {
		defer func() { _, _ = o.Chain.Advance(ctx, traceID, emitted) }()
	}

	// Step 1: Simulation. Per scm.Port's contract, ErrUnknownRef/ErrCorruptRepo
	// are fatal and fail immediately; anything else is transient and gets
	// retried with backoff before becoming a hard pipeline error.
	var sim scm.Simulation
	var fatal error
	err = resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		var simErr error
		sim, simErr = o.SCM.Simulate(ctx, in.Source, in.Target)
		if simErr != nil && isFatalSCMError(simErr) {
			fatal = simErr
			return nil
		}
		return simErr
	})
	if fatal != nil {
		err = fatal
	}
	if err != nil {
		emit(eventlog.ValidationError, map[string]any{"step": "simulate", "error": err.Error()}, nil)
		return Decision{Outcome: OutcomeError, Reason: "simulate failed", TraceID: traceID}, err
	}
	emit(eventlog.SimulationCompleted, map[string]any{
		"mergeable":     sim.Mergeable,
		"conflicts":     sim.Conflicts,
		"files_changed": sim.FilesChanged,
	}, nil)
	if !sim.Mergeable {
		emit(eventlog.IntentBlocked, map[string]any{"reason": "conflicts"}, nil)
		return Decision{Outcome: OutcomeBlocked, Reason: "conflicts", TraceID: traceID}, nil
	}

	// Step 2: Verification. effective_checks = profile.checks ∪ intent.checks_required.
	profile := policy.Resolve(o.Profiles, o.Overrides, in.RiskLevel, in.Origin)
	required := unionChecks(profile.Checks, in.ChecksRequired)
	checksPassed := make(map[string]bool, len(required))
	for _, name := range required {
		res, err := o.Checks.Run(ctx, name)
		if err != nil {
			emit(eventlog.ValidationError, map[string]any{"step": "check", "check": name, "error": err.Error()}, nil)
			return Decision{Outcome: OutcomeError, Reason: "check execution failed", TraceID: traceID}, err
		}
		if res.Skipped {
			// An unconfigured check name is silently skipped, never failed.
			checksPassed[name] = true
			continue
		}
		checksPassed[name] = res.Passed
		emit(eventlog.CheckCompleted, map[string]any{
			"name": res.Name, "passed": res.Passed, "duration_ms": res.DurationMs,
		}, map[string]any{"details": res.Details})
	}

	// Step 3: Risk evaluation.
	g := graph.Build(graph.BuildInput{
		IntentID:     in.ID,
		Target:       in.Target,
		FilesChanged: sim.FilesChanged,
		ScopeHints:   in.Technical.ScopeHint,
		Dependencies: in.Dependencies,
	})
	metrics := g.Compute(10)
	riskInput := risk.GraphDerivedInput(g, metrics)
	riskInput.Conflicts = len(sim.Conflicts)
	riskInput.Dependencies = len(in.Dependencies)
	riskInput.Target = in.Target
	riskInput.RiskLevel = in.RiskLevel
	riskInput.CoreRatio = risk.CoreRatio(sim.FilesChanged)
	riskInput.CoreTouches = risk.CoreTouches(sim.FilesChanged)
	riskInput.ScopeCount = len(in.Technical.ScopeHint)
	// crossings = |unique targets of impact edges ∪ dependencies ∪ scope_hint|;
	// dependency targets already appear among the impact edges.
	riskInput.Crossings = riskInput.UniqueImpactTargets + len(in.Technical.ScopeHint)

	signals := risk.ComputeSignals(riskInput)
	scores := risk.ComputeScores(signals, riskInput)
	bombs := risk.DetectBombs(g, metrics, riskInput)

	obsmetrics.RecordRiskScore("risk_score", scores.RiskScore)
	obsmetrics.RecordRiskScore("damage_score", scores.DamageScore)
	obsmetrics.RecordRiskScore("entropy_score", scores.EntropyScore)
	obsmetrics.RecordRiskScore("propagation_score", scores.PropagationScore)
	for _, b := range bombs {
		obsmetrics.RecordBomb(b.Kind)
	}

	emit(eventlog.RiskEvaluated, map[string]any{
		"signals": signals, "scores": scores, "bombs": bombs,
	}, map[string]any{"graph_metrics": metrics})

	if o.AutoClassify {
		newLevel := risk.ClassifyLevel(scores.RiskScore)
		if newLevel != in.RiskLevel {
			in.RiskLevel = newLevel
			in.UpdatedAt = o.now()
			emit(eventlog.RiskLevelReclassified, map[string]any{"risk_level": string(newLevel)}, nil)
			profile = policy.Resolve(o.Profiles, o.Overrides, in.RiskLevel, in.Origin)
		}
	}

	// Step 4: Coherence.
	runner := coherence.NewRunner(o.Questions, o.Baselines)
	results, _ := runner.Run(ctx)
	score := coherence.Score(results)
	verdict := coherence.ClassifyVerdict(score, profile.CoherencePass, profile.CoherenceWarn)
	hasScopeQuestion := questionSetHasScope(o.Questions)
	finalVerdict, downgraded, reasons := coherence.CrossValidate(verdict, results, scores.RiskScore, scores.PropagationScore, bombs, hasScopeQuestion)

	emit(eventlog.CoherenceEvaluated, map[string]any{
		"score": score, "verdict": string(finalVerdict), "downgraded": downgraded,
	}, nil)
	if downgraded {
		emit(eventlog.CoherenceInconsistency, map[string]any{"reasons": reasons}, nil)
		if o.Reviews != nil {
			task := store.ReviewTask{
				ID: eventlog.NewID(), IntentID: in.ID, Reason: "coherence_inconsistency",
				Status: store.ReviewPending, CreatedAt: o.now(), UpdatedAt: o.now(),
			}
			if err := o.Reviews.UpsertReview(ctx, task); err == nil {
				emit(eventlog.ReviewRequested, map[string]any{"review_id": task.ID, "reason": task.Reason}, nil)
			}
		}
	}
	if finalVerdict == coherence.VerdictFail {
		emit(eventlog.IntentBlocked, map[string]any{"reason": "coherence_fail"}, nil)
		return Decision{Outcome: OutcomeBlocked, Reason: "coherence_fail", TraceID: traceID}, nil
	}

	// Step 5: Policy gates.
	var critical, high int
	if o.Findings != nil {
		findings, _ := o.Findings.ListFindingsByIntent(ctx, in.ID)
		for _, f := range findings {
			switch f.Severity {
			case store.SeverityCritical:
				critical++
			case store.SeverityHigh:
				high++
			}
		}
	}
	gateResults := policy.EvaluateGates(profile, policy.Evidence{
		ChecksPassed:     checksPassed,
		ContainmentScore: scores.ContainmentScore,
		EntropyScore:     scores.EntropyScore,
		CriticalFindings: critical,
		HighFindings:     high,
		CoherenceScore:   score,
	})
	gateVerdict := policy.Decide(gateResults)
	emit(eventlog.PolicyEvaluated, map[string]any{
		"verdict": string(gateVerdict), "gates": gateResults,
	}, nil)
	if gateVerdict == policy.VerdictBlock {
		emit(eventlog.IntentBlocked, map[string]any{"reason": firstFailingGate(gateResults)}, nil)
		return Decision{Outcome: OutcomeBlocked, Reason: "policy:" + firstFailingGate(gateResults), TraceID: traceID, Gates: gateResults}, nil
	}

	// Step 6: Risk gate.
	riskGateResult := policy.EvaluateRiskGate(o.Global, policy.RiskGateInput{
		RiskScore:        scores.RiskScore,
		DamageScore:      scores.DamageScore,
		PropagationScore: scores.PropagationScore,
	}, in.ID)
	if riskGateResult.Blocked {
		emit(eventlog.IntentBlocked, map[string]any{"reason": "risk_gate"}, nil)
		return Decision{Outcome: OutcomeBlocked, Reason: "risk_gate", TraceID: traceID, Gates: gateResults, RiskGate: riskGateResult}, nil
	}

	// Step 7: Finalize. A queue-pass revalidation arrives already VALIDATED;
	// only intents coming through for the first time transition.
	if in.Status == intent.StatusValidated {
		in.UpdatedAt = o.now()
	} else if err := in.MarkValidated(o.now()); err != nil {
		return Decision{Outcome: OutcomeError, Reason: "transition", TraceID: traceID}, err
	}
	if err := o.Intents.Upsert(ctx, *in); err != nil {
		return Decision{Outcome: OutcomeError, Reason: "persist", TraceID: traceID}, fmt.Errorf("orchestrator: persist intent: %w", err)
	}
	emit(eventlog.IntentValidated, map[string]any{
		"gates": gateResults, "risk_gate": riskGateResult, "coherence_score": score,
	}, nil)

	return Decision{Outcome: OutcomeAllowed, TraceID: traceID, Gates: gateResults, RiskGate: riskGateResult}, nil
}

// isFatalSCMError reports whether err is one of scm.Port's declared
// non-retryable failures.
func isFatalSCMError(err error) bool {
	return errors.Is(err, scm.ErrUnknownRef) || errors.Is(err, scm.ErrCorruptRepo)
}

func unionChecks(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func firstFailingGate(results []policy.GateResult) string {
	for _, r := range results {
		if !r.Passed {
			return string(r.Name)
		}
	}
	return ""
}

func questionSetHasScope(questions []coherence.Question) bool {
	for _, q := range questions {
		if q.Category == "scope" {
			return true
		}
	}
	return false
}
