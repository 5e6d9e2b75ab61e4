// Package policy implements the five always-computed gates, the separate
// risk gate with deterministic canary rollout, percentile-based entropy
// calibration, and origin-type profile overrides.
package policy

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sort"

	"github.com/ghmbegerez/converge/internal/intent"
)

// Profile is a per-risk-level policy document.
type Profile struct {
	EntropyBudget   float64
	ContainmentMin  float64
	BlastLimit      float64
	Checks          []string
	CoherencePass   float64
	CoherenceWarn   float64
	SecurityMaxCrit int
	SecurityMaxHigh int
}

// DefaultProfiles is the built-in per-risk-level policy table.
var DefaultProfiles = map[intent.RiskLevel]Profile{
	intent.RiskLow: {
		EntropyBudget: 25.0, ContainmentMin: 0.30, SecurityMaxHigh: 5,
		CoherencePass: 75, CoherenceWarn: 60, Checks: []string{"lint"},
	},
	intent.RiskMedium: {
		EntropyBudget: 18.0, ContainmentMin: 0.50, SecurityMaxHigh: 2,
		CoherencePass: 75, CoherenceWarn: 60, Checks: []string{"lint"},
	},
	intent.RiskHigh: {
		EntropyBudget: 12.0, ContainmentMin: 0.70, SecurityMaxHigh: 0,
		CoherencePass: 80, CoherenceWarn: 65, Checks: []string{"lint", "unit_tests"},
	},
	intent.RiskCritical: {
		EntropyBudget: 6.0, ContainmentMin: 0.85, SecurityMaxHigh: 0,
		CoherencePass: 85, CoherenceWarn: 70, Checks: []string{"lint", "unit_tests"},
	},
}

// GlobalSettings are the thresholds shared across profiles: the composite
// score ceilings and the risk gate's rollout controls.
type GlobalSettings struct {
	MaxRiskScore        float64
	MaxDamageScore      float64
	MaxPropagationScore float64
	RiskGateMode        RiskGateMode
	EnforceRatio        float64
}

// DefaultGlobalSettings is the built-in risk-gate configuration.
var DefaultGlobalSettings = GlobalSettings{
	MaxRiskScore:        65,
	MaxDamageScore:      60,
	MaxPropagationScore: 55,
	RiskGateMode:        RiskGateShadow,
	EnforceRatio:        1.0,
}

// RiskGateMode controls whether risk-gate breaches actually block.
type RiskGateMode string

const (
	RiskGateShadow  RiskGateMode = "shadow"
	RiskGateEnforce RiskGateMode = "enforce"
)

// OriginOverrides is profile(risk_level, origin_type) override data:
// origin_overrides[origin_type][risk_level-or-"_default"] = partial
// profile values, applied as a merge over the base profile.
type OriginOverrides map[intent.OriginType]map[string]ProfileOverride

// ProfileOverride carries only the fields an override wants to change;
// zero-value fields are treated as "unset" by Resolve. An entropy budget
// cannot be overridden to exactly zero this way; unknown keys pass
// through unchanged.
type ProfileOverride struct {
	EntropyBudget   float64
	ContainmentMin  float64
	CoherencePass   float64
	CoherenceWarn   float64
	SecurityMaxHigh *int
	Checks          []string
}

func applyOverride(base Profile, o ProfileOverride) Profile {
	out := base
	if o.EntropyBudget != 0 {
		out.EntropyBudget = o.EntropyBudget
	}
	if o.ContainmentMin != 0 {
		out.ContainmentMin = o.ContainmentMin
	}
	if o.CoherencePass != 0 {
		out.CoherencePass = o.CoherencePass
	}
	if o.CoherenceWarn != 0 {
		out.CoherenceWarn = o.CoherenceWarn
	}
	if o.SecurityMaxHigh != nil {
		out.SecurityMaxHigh = *o.SecurityMaxHigh
	}
	if len(o.Checks) > 0 {
		out.Checks = o.Checks
	}
	return out
}

// Resolve computes profile(risk_level, origin_type): the base profile for
// risk_level merged with origin_overrides[origin_type][risk_level],
// falling back to origin_overrides[origin_type]["_default"].
func Resolve(base map[intent.RiskLevel]Profile, overrides OriginOverrides, riskLevel intent.RiskLevel, origin intent.OriginType) Profile {
	profile := base[riskLevel]
	byOrigin, ok := overrides[origin]
	if !ok {
		return profile
	}
	if o, ok := byOrigin[string(riskLevel)]; ok {
		return applyOverride(profile, o)
	}
	if o, ok := byOrigin["_default"]; ok {
		return applyOverride(profile, o)
	}
	return profile
}

// Percentile returns the p-th percentile (0-100) of a sorted ascending
// slice using linear interpolation between closest ranks.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := (p / 100) * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Calibrate computes the four risk levels' entropy_budget values from a
// historical entropy_score sample: LOW stretches well past P75, CRITICAL
// tightens below P95.
func Calibrate(history []float64) map[intent.RiskLevel]float64 {
	sorted := append([]float64(nil), history...)
	sort.Float64s(sorted)

	p75 := Percentile(sorted, 75)
	p90 := Percentile(sorted, 90)
	p95 := Percentile(sorted, 95)

	return map[intent.RiskLevel]float64{
		intent.RiskLow:      math.Max(1.5*p75, 10.0),
		intent.RiskMedium:   math.Max(p75, 8.0),
		intent.RiskHigh:     math.Max(p90, 5.0),
		intent.RiskCritical: math.Max(0.8*p95, 3.0),
	}
}

// GateName identifies one of the five always-computed gates.
type GateName string

const (
	GateVerification GateName = "verification"
	GateContainment  GateName = "containment"
	GateEntropy      GateName = "entropy"
	GateSecurity     GateName = "security"
	GateCoherence    GateName = "coherence"
)

// GateResult is one gate's outcome.
type GateResult struct {
	Name   GateName
	Passed bool
	Value  float64
	Reason string
}

// Evidence bundles everything the five gates need.
type Evidence struct {
	ChecksPassed     map[string]bool
	ContainmentScore float64
	EntropyScore     float64
	CriticalFindings int
	HighFindings     int
	CoherenceScore   float64
}

// EvaluateGates runs all five gates, always fully, returning them in
// their fixed order: verification, containment, entropy, security,
// coherence. Full diagnostics matter more than early exit here.
func EvaluateGates(profile Profile, ev Evidence) []GateResult {
	results := make([]GateResult, 0, 5)

	var missing []string
	for _, required := range profile.Checks {
		if !ev.ChecksPassed[required] {
			missing = append(missing, required)
		}
	}
	verification := GateResult{Name: GateVerification, Passed: len(missing) == 0}
	if len(missing) > 0 {
		verification.Reason = "missing checks: " + joinStrings(missing)
	}
	results = append(results, verification)

	results = append(results, GateResult{
		Name:   GateContainment,
		Passed: ev.ContainmentScore >= profile.ContainmentMin,
		Value:  ev.ContainmentScore,
	})

	results = append(results, GateResult{
		Name:   GateEntropy,
		Passed: ev.EntropyScore <= profile.EntropyBudget,
		Value:  ev.EntropyScore,
	})

	securityValue := float64(ev.CriticalFindings*10 + ev.HighFindings)
	results = append(results, GateResult{
		Name:   GateSecurity,
		Passed: ev.CriticalFindings <= 0 && ev.HighFindings <= profile.SecurityMaxHigh,
		Value:  securityValue,
	})

	results = append(results, GateResult{
		Name:   GateCoherence,
		Passed: ev.CoherenceScore >= profile.CoherenceWarn,
		Value:  ev.CoherenceScore,
	})

	return results
}

func joinStrings(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

// Verdict is ALLOW iff every gate passes.
type Verdict string

const (
	VerdictAllow Verdict = "ALLOW"
	VerdictBlock Verdict = "BLOCK"
)

// Decide returns ALLOW iff every gate in results passed.
func Decide(results []GateResult) Verdict {
	for _, r := range results {
		if !r.Passed {
			return VerdictBlock
		}
	}
	return VerdictAllow
}

// RiskGateInput bundles the composite scores the separate risk gate needs.
type RiskGateInput struct {
	RiskScore        float64
	DamageScore      float64
	PropagationScore float64
}

// RiskGateResult is the risk gate's outcome.
type RiskGateResult struct {
	Breached   bool
	WouldBlock bool
	Blocked    bool
}

// Bucket computes the deterministic [0,1) bucket for an Intent ID via
// SHA-256 of the ID, taking the first 4 bytes as a big-endian uint32.
func Bucket(intentID string) float64 {
	sum := sha256.Sum256([]byte(intentID))
	v := binary.BigEndian.Uint32(sum[0:4])
	return float64(v) / float64(math.MaxUint32+1)
}

// EvaluateRiskGate applies the separate risk gate: breach detection
// against the composite ceilings, then deterministic canary rollout by
// mode.
func EvaluateRiskGate(settings GlobalSettings, in RiskGateInput, intentID string) RiskGateResult {
	breached := in.RiskScore > settings.MaxRiskScore ||
		in.DamageScore > settings.MaxDamageScore ||
		in.PropagationScore > settings.MaxPropagationScore

	if !breached {
		return RiskGateResult{}
	}

	if settings.RiskGateMode != RiskGateEnforce {
		return RiskGateResult{Breached: true, WouldBlock: true}
	}

	blocked := Bucket(intentID) < settings.EnforceRatio
	return RiskGateResult{Breached: true, WouldBlock: true, Blocked: blocked}
}
