// Command convergectl is a small flag-based operator CLI: create an
// Intent from a JSON payload, validate it once, run the queue once, or
// verify the audit chain, against either an in-memory or Postgres store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ghmbegerez/converge/internal/auditchain"
	"github.com/ghmbegerez/converge/internal/checks"
	"github.com/ghmbegerez/converge/internal/coherence"
	"github.com/ghmbegerez/converge/internal/config"
	"github.com/ghmbegerez/converge/internal/eventlog"
	"github.com/ghmbegerez/converge/internal/intent"
	"github.com/ghmbegerez/converge/internal/orchestrator"
	"github.com/ghmbegerez/converge/internal/platform/database"
	"github.com/ghmbegerez/converge/internal/policy"
	"github.com/ghmbegerez/converge/internal/queue"
	lockmemory "github.com/ghmbegerez/converge/internal/queue/lock/memory"
	lockpostgres "github.com/ghmbegerez/converge/internal/queue/lock/postgres"
	"github.com/ghmbegerez/converge/internal/scm"
	"github.com/ghmbegerez/converge/internal/store"
	"github.com/ghmbegerez/converge/internal/store/memory"
	"github.com/ghmbegerez/converge/internal/store/postgres"
	"github.com/ghmbegerez/converge/internal/store/postgres/migrations"
)

func main() {
	dsn := flag.String("dsn", "", "PostgreSQL DSN (in-memory storage when empty)")
	policyPath := flag.String("policy", "", "Path to the policy config document")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fatalUsage()
	}

	ctx := context.Background()
	st, closeFn, err := openStore(ctx, *dsn)
	if err != nil {
		fatal("open store: %v", err)
	}
	defer closeFn()

	pol := config.Policy{Profiles: policy.DefaultProfiles, Risk: policy.DefaultGlobalSettings}
	if resolved := config.Resolve(*policyPath); resolved != "" {
		loaded, err := config.Load(resolved)
		if err != nil {
			fatal("load policy: %v", err)
		}
		pol = loaded
	}

	events := eventlog.NewLog(st, st)
	chain := auditchain.New(st)

	switch args[0] {
	case "create":
		runCreate(ctx, st, events, args[1:])
	case "validate":
		runValidate(ctx, st, events, chain, pol, args[1:])
	case "queue":
		runQueue(ctx, st, events, chain, pol, args[1:])
	case "verify":
		runVerify(ctx, st)
	case "calibrate":
		runCalibrate(ctx, st, args[1:])
	case "baseline-update":
		runBaselineUpdate(ctx, st, events, args[1:])
	default:
		fatalUsage()
	}
}

func fatalUsage() {
	fatal("usage: convergectl [-dsn DSN] [-policy PATH] <create|validate|queue|verify|calibrate|baseline-update> [args]")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openStore(ctx context.Context, dsn string) (store.Store, func(), error) {
	if trimmed := strings.TrimSpace(dsn); trimmed != "" {
		db, err := database.Open(ctx, trimmed)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return postgres.New(db), func() { db.Close() }, nil
	}
	return memory.New(), func() {}, nil
}

// runCreate reads a JSON payload file (the same shape webhook intake
// accepts) and upserts the resulting Intent.
func runCreate(ctx context.Context, st store.Store, events *eventlog.Log, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	file := fs.String("file", "", "path to a JSON intent payload")
	fs.Parse(args)
	if strings.TrimSpace(*file) == "" {
		fatal("create: -file is required")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		fatal("create: read %s: %v", *file, err)
	}

	in, err := intent.FromPayload(raw, time.Now().UTC())
	if err != nil {
		fatal("create: %v", err)
	}
	if err := st.Upsert(ctx, *in); err != nil {
		fatal("create: persist: %v", err)
	}
	ev := eventlog.New(eventlog.NewID(), eventlog.IntentCreated, in.ID, map[string]any{
		"source": in.Source, "target": in.Target,
	}, nil, time.Now().UTC())
	if _, err := events.Append(ctx, ev); err != nil {
		fatal("create: append event: %v", err)
	}

	printJSON(in)
}

// runValidate runs the orchestrator's Validate pipeline once against an
// existing Intent ID.
func runValidate(ctx context.Context, st store.Store, events *eventlog.Log, chain *auditchain.Chain, pol config.Policy, args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	id := fs.String("id", "", "intent ID to validate")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		fatal("validate: -id is required")
	}

	in, err := st.Get(ctx, *id)
	if err != nil {
		fatal("validate: load %s: %v", *id, err)
	}

	orch := &orchestrator.Orchestrator{
		SCM:       scm.NewFake(),
		Checks:    checks.NewSubprocess(nil),
		Events:    events,
		Intents:   st,
		Findings:  st,
		Reviews:   st,
		Baselines: coherence.NewDocBaselines(st),
		Profiles:  pol.Profiles,
		Overrides: pol.OriginOverride,
		Global:    pol.Risk,
		Chain:     chain,
	}
	decision, err := orch.Validate(ctx, &in)
	if err != nil {
		fatal("validate: %v", err)
	}
	printJSON(decision)
}

// runQueue runs one queue.Processor.RunOnce pass.
func runQueue(ctx context.Context, st store.Store, events *eventlog.Log, chain *auditchain.Chain, pol config.Policy, args []string) {
	fs := flag.NewFlagSet("queue", flag.ExitOnError)
	mode := fs.String("mode", "OPEN", "intake mode: OPEN, THROTTLE, or PAUSE-CRITICAL-ONLY")
	autoConfirm := fs.Bool("auto-confirm", true, "execute the merge for intents that pass revalidation")
	fs.Parse(args)

	var lock queue.Lock
	if _, ok := st.(*postgres.Store); ok {
		lock = lockpostgres.New(st, time.Now)
	} else {
		lock = lockmemory.New(st, time.Now)
	}

	orch := &orchestrator.Orchestrator{
		SCM:       scm.NewFake(),
		Checks:    checks.NewSubprocess(nil),
		Events:    events,
		Intents:   st,
		Findings:  st,
		Reviews:   st,
		Baselines: coherence.NewDocBaselines(st),
		Profiles:  pol.Profiles,
		Overrides: pol.OriginOverride,
		Global:    pol.Risk,
		Chain:     chain,
	}
	processor := &queue.Processor{
		Lock:         lock,
		Intents:      st,
		Reviews:      st,
		Events:       events,
		SCM:          orch.SCM,
		Orchestrator: orch,
		AutoConfirm:  *autoConfirm,
		MaxRetries:   pol.Queue.MaxRetries,
		Holder:       "convergectl",
		Chain:        chain,
	}

	result, err := processor.RunOnce(ctx, queue.IntakeMode(*mode))
	if err != nil {
		fatal("queue: %v", err)
	}
	printJSON(result)
}

// runVerify replays the audit chain and reports the first tampered batch,
// if any.
func runVerify(ctx context.Context, st store.Store) {
	result, err := auditchain.Verify(ctx, st, st)
	if err != nil {
		fatal("verify: %v", err)
	}
	printJSON(result)
}

// runCalibrate recomputes per-risk-level entropy budgets from a
// historical sample of entropy_score values and persists the result as a
// named policy document in the store. The file-based policy loader does
// not read that document, so it does not change the loaded budgets.
func runCalibrate(ctx context.Context, st store.Store, args []string) {
	fs := flag.NewFlagSet("calibrate", flag.ExitOnError)
	historyFile := fs.String("history", "", "path to a JSON array of historical entropy_score values")
	fs.Parse(args)
	if strings.TrimSpace(*historyFile) == "" {
		fatal("calibrate: -history is required")
	}

	raw, err := os.ReadFile(*historyFile)
	if err != nil {
		fatal("calibrate: read %s: %v", *historyFile, err)
	}
	var history []float64
	if err := json.Unmarshal(raw, &history); err != nil {
		fatal("calibrate: parse history: %v", err)
	}

	budgets := policy.Calibrate(history)
	doc := make(map[string]any, len(budgets))
	for level, budget := range budgets {
		doc[string(level)] = budget
	}
	if err := st.SetDoc(ctx, "entropy_budget_calibration", doc); err != nil {
		fatal("calibrate: persist: %v", err)
	}
	printJSON(doc)
}

// runBaselineUpdate runs the coherence harness's configured questions
// once and pins the current numeric results as the new baselines,
// emitting COHERENCE_BASELINE_UPDATED.
func runBaselineUpdate(ctx context.Context, st store.Store, events *eventlog.Log, args []string) {
	fs := flag.NewFlagSet("baseline-update", flag.ExitOnError)
	questionsPath := fs.String("questions", "", "path to the coherence questions config")
	fs.Parse(args)
	if strings.TrimSpace(*questionsPath) == "" {
		fatal("baseline-update: -questions is required")
	}

	questions, err := coherence.LoadQuestions(*questionsPath)
	if err != nil {
		fatal("baseline-update: load questions: %v", err)
	}

	baselines := coherence.NewDocBaselines(st)
	runner := coherence.NewRunner(questions, baselines)
	results, err := runner.Run(ctx)
	if err != nil {
		fatal("baseline-update: run: %v", err)
	}

	updated, err := coherence.UpdateBaselines(ctx, baselines, results)
	if err != nil {
		fatal("baseline-update: %v", err)
	}

	ev := eventlog.New(eventlog.NewID(), eventlog.CoherenceBaselineUpdate, "", map[string]any{
		"questions_updated": updated,
	}, nil, time.Now().UTC())
	if _, err := events.Append(ctx, ev); err != nil {
		fatal("baseline-update: append event: %v", err)
	}

	printJSON(updated)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
