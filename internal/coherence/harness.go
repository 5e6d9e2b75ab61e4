package coherence

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ghmbegerez/converge/internal/risk"
)

// Timeout bounds a single question's probe execution.
const Timeout = 60 * time.Second

// Severity is a question's configured weight class.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
)

// SeverityWeight returns the score penalty for a failed question of
// severity s.
func SeverityWeight(s Severity) float64 {
	switch s {
	case SeverityCritical:
		return 30
	case SeverityHigh:
		return 20
	case SeverityMedium:
		return 10
	}
	return 0
}

// Question is one configured coherence probe.
type Question struct {
	ID        string
	Question  string
	Check     string
	Assertion string
	Severity  Severity
	Category  string
	Enabled   bool
}

// QuestionResult is the outcome of running one enabled Question.
type QuestionResult struct {
	Question Question
	Value    float64
	Passed   bool
	Err      error
}

// BaselineStore resolves and records the last stored baseline value for a
// question.
type BaselineStore interface {
	Get(ctx context.Context, questionID string) (value float64, ok bool, err error)
	Set(ctx context.Context, questionID string, value float64) error
}

// Verdict is the harness's overall judgment.
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictWarn Verdict = "WARN"
	VerdictFail Verdict = "FAIL"
)

// Report is the full outcome of running a Question set.
type Report struct {
	Results    []QuestionResult
	Score      float64
	Verdict    Verdict
	Downgraded bool
	Reasons    []string
}

// Runner executes a configured set of Questions and scores the result.
type Runner struct {
	Questions []Question
	Baselines BaselineStore
}

// NewRunner builds a Runner over the given enabled/disabled question set.
func NewRunner(questions []Question, baselines BaselineStore) *Runner {
	return &Runner{Questions: questions, Baselines: baselines}
}

// Run executes every enabled question in isolation, parses the last
// stdout line as a float, and evaluates its assertion against the stored
// baseline. It never writes baselines.
func (r *Runner) Run(ctx context.Context) ([]QuestionResult, error) {
	var out []QuestionResult
	for _, q := range r.Questions {
		if !q.Enabled {
			continue
		}
		out = append(out, r.runOne(ctx, q))
	}
	return out, nil
}

func (r *Runner) runOne(ctx context.Context, q Question) QuestionResult {
	runCtx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	fields := strings.Fields(q.Check)
	if len(fields) == 0 {
		return QuestionResult{Question: q, Err: fmt.Errorf("coherence: empty check command for %s", q.ID)}
	}

	var stdout bytes.Buffer
	cmd := exec.CommandContext(runCtx, fields[0], fields[1:]...)
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return QuestionResult{Question: q, Err: fmt.Errorf("coherence: run %s: %w", q.ID, err)}
	}

	value, err := lastLineAsFloat(stdout.String())
	if err != nil {
		return QuestionResult{Question: q, Err: fmt.Errorf("coherence: parse %s output: %w", q.ID, err)}
	}

	assertion, err := Parse(q.Assertion)
	if err != nil {
		return QuestionResult{Question: q, Value: value, Err: err}
	}

	baseline, baselineOK := 0.0, false
	if r.Baselines != nil {
		baseline, baselineOK, _ = r.Baselines.Get(ctx, q.ID)
	}
	passed := assertion.Eval(value, baseline, baselineOK)

	// Baselines are pinned by the explicit UpdateBaselines admin operation,
	// not rewritten on every probe run. Otherwise a baseline-relative
	// assertion would always compare against the immediately preceding run
	// instead of a stable reference point.
	return QuestionResult{Question: q, Value: value, Passed: passed}
}

func lastLineAsFloat(output string) (float64, error) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	var last string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			last = line
		}
	}
	if last == "" {
		return 0, fmt.Errorf("no output")
	}
	return strconv.ParseFloat(last, 64)
}

// Score computes 100 minus the sum of severity weights of failed
// questions, clamped to [0,100]. A question with a non-nil Err (timeout,
// parse failure) counts as failed.
func Score(results []QuestionResult) float64 {
	score := 100.0
	for _, res := range results {
		if res.Err != nil || !res.Passed {
			score -= SeverityWeight(res.Question.Severity)
		}
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ClassifyVerdict maps a score to PASS/WARN/FAIL given profile thresholds.
func ClassifyVerdict(score, coherencePass, coherenceWarn float64) Verdict {
	switch {
	case score >= coherencePass:
		return VerdictPass
	case score >= coherenceWarn:
		return VerdictWarn
	default:
		return VerdictFail
	}
}

// UpdateBaselines stores the current numeric result of every question in
// results as its new baseline. It is the explicit administrative
// operation, distinct from Run, which only reads baselines. Questions
// that errored (timeout, parse failure) are skipped; their prior baseline
// is left untouched. Returns the question IDs actually updated, for the
// caller to fold into a COHERENCE_BASELINE_UPDATED event payload.
func UpdateBaselines(ctx context.Context, baselines BaselineStore, results []QuestionResult) ([]string, error) {
	var updated []string
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		if err := baselines.Set(ctx, res.Question.ID, res.Value); err != nil {
			return updated, fmt.Errorf("coherence: update baseline %s: %w", res.Question.ID, err)
		}
		updated = append(updated, res.Question.ID)
	}
	return updated, nil
}

// CrossValidate applies the orchestrator's downgrade rules: the verdict
// is downgraded one step (PASS->WARN, WARN->FAIL) when the
// harness passes but risk_score > 50, when all questions pass but bombs
// were detected, or when propagation_score > 40 and no scope-named
// question exists in the configured set.
func CrossValidate(verdict Verdict, results []QuestionResult, riskScore, propagationScore float64, bombs []risk.Bomb, hasScopeQuestion bool) (Verdict, bool, []string) {
	allPass := true
	for _, r := range results {
		if r.Err != nil || !r.Passed {
			allPass = false
			break
		}
	}

	var reasons []string
	downgrade := false

	if verdict == VerdictPass && riskScore > 50 {
		downgrade = true
		reasons = append(reasons, "harness passed but risk_score exceeds 50")
	}
	if allPass && len(bombs) > 0 {
		downgrade = true
		reasons = append(reasons, "all questions passed but bombs were detected")
	}
	if propagationScore > 40 && !hasScopeQuestion {
		downgrade = true
		reasons = append(reasons, "propagation_score exceeds 40 with no scope-named question configured")
	}

	if !downgrade {
		return verdict, false, nil
	}

	switch verdict {
	case VerdictPass:
		return VerdictWarn, true, reasons
	case VerdictWarn:
		return VerdictFail, true, reasons
	default:
		return verdict, false, nil
	}
}
