package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ghmbegerez/converge/internal/intent"
)

func TestEvaluateGatesAllPass(t *testing.T) {
	profile := DefaultProfiles[intent.RiskLow]
	ev := Evidence{
		ChecksPassed:     map[string]bool{"lint": true},
		ContainmentScore: 0.9,
		EntropyScore:     5,
		CoherenceScore:   80,
	}
	results := EvaluateGates(profile, ev)
	require.Equal(t, VerdictAllow, Decide(results))
}

func TestEvaluateGatesSecurityBlocksOnAnyCritical(t *testing.T) {
	profile := DefaultProfiles[intent.RiskLow]
	ev := Evidence{
		ChecksPassed:     map[string]bool{"lint": true},
		ContainmentScore: 0.9,
		EntropyScore:     5,
		CoherenceScore:   80,
		CriticalFindings: 1,
	}
	results := EvaluateGates(profile, ev)
	require.Equal(t, VerdictBlock, Decide(results))
}

func TestEvaluateGatesVerificationReportsMissingChecks(t *testing.T) {
	profile := DefaultProfiles[intent.RiskHigh]
	ev := Evidence{ChecksPassed: map[string]bool{"lint": true}}
	results := EvaluateGates(profile, ev)
	var verification GateResult
	for _, r := range results {
		if r.Name == GateVerification {
			verification = r
		}
	}
	require.False(t, verification.Passed)
	require.Contains(t, verification.Reason, "unit_tests")
}

func TestResolveFallsBackToDefaultOverride(t *testing.T) {
	overrides := OriginOverrides{
		intent.OriginAgent: {
			"_default": ProfileOverride{EntropyBudget: 99},
		},
	}
	p := Resolve(DefaultProfiles, overrides, intent.RiskLow, intent.OriginAgent)
	require.Equal(t, 99.0, p.EntropyBudget)
}

func TestResolveUsesMostSpecificOverride(t *testing.T) {
	overrides := OriginOverrides{
		intent.OriginAgent: {
			"_default": ProfileOverride{EntropyBudget: 99},
			"LOW":      ProfileOverride{EntropyBudget: 42},
		},
	}
	p := Resolve(DefaultProfiles, overrides, intent.RiskLow, intent.OriginAgent)
	require.Equal(t, 42.0, p.EntropyBudget)
}

func TestCalibrateComputesPercentileBudgets(t *testing.T) {
	history := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	budgets := Calibrate(history)
	require.Greater(t, budgets[intent.RiskLow], budgets[intent.RiskCritical])
}

func TestBucketIsDeterministic(t *testing.T) {
	a := Bucket("intent-1")
	b := Bucket("intent-1")
	require.Equal(t, a, b)
	require.GreaterOrEqual(t, a, 0.0)
	require.Less(t, a, 1.0)
}

func TestRiskGateShadowNeverBlocks(t *testing.T) {
	settings := DefaultGlobalSettings
	settings.RiskGateMode = RiskGateShadow
	res := EvaluateRiskGate(settings, RiskGateInput{RiskScore: 100}, "i1")
	require.True(t, res.Breached)
	require.True(t, res.WouldBlock)
	require.False(t, res.Blocked)
}

func TestRiskGateEnforceBlocksWhenBucketBelowRatio(t *testing.T) {
	settings := DefaultGlobalSettings
	settings.RiskGateMode = RiskGateEnforce
	settings.EnforceRatio = 1.0 // always below ratio
	res := EvaluateRiskGate(settings, RiskGateInput{RiskScore: 100}, "i1")
	require.True(t, res.Breached)
	require.True(t, res.Blocked)
}

func TestRiskGateNoBreachWhenUnderThresholds(t *testing.T) {
	settings := DefaultGlobalSettings
	res := EvaluateRiskGate(settings, RiskGateInput{RiskScore: 1, DamageScore: 1, PropagationScore: 1}, "i1")
	require.False(t, res.Breached)
}
