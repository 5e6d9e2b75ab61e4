package coherence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ghmbegerez/converge/internal/risk"
)

func TestScoreDeductsSeverityWeightsForFailures(t *testing.T) {
	results := []QuestionResult{
		{Question: Question{Severity: SeverityCritical}, Passed: false},
		{Question: Question{Severity: SeverityHigh}, Passed: true},
	}
	require.Equal(t, 70.0, Score(results))
}

func TestScoreClampsAtZero(t *testing.T) {
	results := []QuestionResult{
		{Question: Question{Severity: SeverityCritical}},
		{Question: Question{Severity: SeverityCritical}},
		{Question: Question{Severity: SeverityCritical}},
		{Question: Question{Severity: SeverityCritical}},
	}
	require.Equal(t, 0.0, Score(results))
}

func TestClassifyVerdictThresholds(t *testing.T) {
	require.Equal(t, VerdictPass, ClassifyVerdict(90, 80, 60))
	require.Equal(t, VerdictWarn, ClassifyVerdict(70, 80, 60))
	require.Equal(t, VerdictFail, ClassifyVerdict(50, 80, 60))
}

func TestCrossValidateDowngradesOnHighRiskScore(t *testing.T) {
	v, downgraded, reasons := CrossValidate(VerdictPass, nil, 60, 0, nil, true)
	require.Equal(t, VerdictWarn, v)
	require.True(t, downgraded)
	require.NotEmpty(t, reasons)
}

func TestCrossValidateDowngradesWhenBombsDetectedDespiteAllPass(t *testing.T) {
	results := []QuestionResult{{Passed: true}}
	bombs := []risk.Bomb{{Kind: "cascade"}}
	v, downgraded, _ := CrossValidate(VerdictPass, results, 0, 0, bombs, true)
	require.Equal(t, VerdictWarn, v)
	require.True(t, downgraded)
}

func TestCrossValidateDowngradesOnUnscopedPropagation(t *testing.T) {
	v, downgraded, _ := CrossValidate(VerdictWarn, nil, 0, 50, nil, false)
	require.Equal(t, VerdictFail, v)
	require.True(t, downgraded)
}

func TestCrossValidateNoDowngradeWhenClean(t *testing.T) {
	results := []QuestionResult{{Passed: true}}
	v, downgraded, reasons := CrossValidate(VerdictPass, results, 10, 10, nil, true)
	require.Equal(t, VerdictPass, v)
	require.False(t, downgraded)
	require.Empty(t, reasons)
}

func TestCrossValidateFailStaysFail(t *testing.T) {
	v, downgraded, _ := CrossValidate(VerdictFail, nil, 60, 0, nil, true)
	require.Equal(t, VerdictFail, v)
	require.False(t, downgraded)
}

func TestUpdateBaselinesSkipsErroredQuestionsAndPersistsTheRest(t *testing.T) {
	baselines := NewMemoryBaselines()
	results := []QuestionResult{
		{Question: Question{ID: "q1"}, Value: 42, Passed: true},
		{Question: Question{ID: "q2"}, Err: assertionFixtureErr{}},
	}

	updated, err := UpdateBaselines(context.Background(), baselines, results)
	require.NoError(t, err)
	require.Equal(t, []string{"q1"}, updated)

	v, ok, err := baselines.Get(context.Background(), "q1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42.0, v)

	_, ok, err = baselines.Get(context.Background(), "q2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunDoesNotOverwriteBaselineOnEveryPass(t *testing.T) {
	baselines := NewMemoryBaselines()
	require.NoError(t, baselines.Set(context.Background(), "q1", 10))

	runner := &Runner{Baselines: baselines}
	// runOne is exercised indirectly: with no Questions configured, Run is
	// a no-op, but the baseline must survive untouched regardless.
	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	v, ok, err := baselines.Get(context.Background(), "q1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 10.0, v)
}

type assertionFixtureErr struct{}

func (assertionFixtureErr) Error() string { return "fixture error" }
