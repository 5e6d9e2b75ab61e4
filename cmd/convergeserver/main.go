// Command convergeserver wires the core engine (stores, orchestrator,
// queue processor, audit chain) to the thin HTTP surface and runs it
// until SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"github.com/ghmbegerez/converge/internal/auditchain"
	"github.com/ghmbegerez/converge/internal/checks"
	"github.com/ghmbegerez/converge/internal/coherence"
	"github.com/ghmbegerez/converge/internal/config"
	system "github.com/ghmbegerez/converge/internal/core/system"
	"github.com/ghmbegerez/converge/internal/eventlog"
	"github.com/ghmbegerez/converge/internal/flags"
	"github.com/ghmbegerez/converge/internal/httpapi"
	"github.com/ghmbegerez/converge/internal/intake"
	"github.com/ghmbegerez/converge/internal/orchestrator"
	"github.com/ghmbegerez/converge/internal/platform/database"
	"github.com/ghmbegerez/converge/internal/policy"
	"github.com/ghmbegerez/converge/internal/queue"
	lockmemory "github.com/ghmbegerez/converge/internal/queue/lock/memory"
	lockpostgres "github.com/ghmbegerez/converge/internal/queue/lock/postgres"
	lockredis "github.com/ghmbegerez/converge/internal/queue/lock/redis"
	"github.com/ghmbegerez/converge/internal/scanner"
	"github.com/ghmbegerez/converge/internal/scm"
	"github.com/ghmbegerez/converge/internal/security"
	"github.com/ghmbegerez/converge/internal/store"
	"github.com/ghmbegerez/converge/internal/store/memory"
	"github.com/ghmbegerez/converge/internal/store/postgres"
	"github.com/ghmbegerez/converge/internal/store/postgres/migrations"
	"github.com/ghmbegerez/converge/pkg/logger"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (in-memory storage when empty)")
	redisAddr := flag.String("redis-addr", "", "Redis address for the queue lock (ignored when empty; falls back to the store-backed lock)")
	policyPath := flag.String("policy", "", "Path to the policy config document (falls back to config.DefaultSearchPath)")
	questionsPath := flag.String("questions", "", "Path to the coherence questions config")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	cronSchedule := flag.String("queue-cron", "@every 30s", "cron schedule driving the queue processor's RunOnce pass")
	flag.Parse()

	log := logger.NewDefault("convergeserver")
	registry := flags.DefaultRegistry()

	rootCtx := context.Background()

	var (
		db  *sql.DB
		st  store.Store
		err error
	)
	if trimmed := strings.TrimSpace(*dsn); trimmed != "" {
		db, err = database.Open(rootCtx, trimmed)
		if err != nil {
			log.Fatalf("connect to postgres: %v", err)
		}
		if *runMigrations {
			if err := migrations.Apply(rootCtx, db); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}
		st = postgres.New(db)
	} else {
		st = memory.New()
	}
	if db != nil {
		defer db.Close()
	}

	pol := config.Policy{
		Profiles: policy.DefaultProfiles,
		Risk:     policy.DefaultGlobalSettings,
		Queue:    config.QueueSettings{MaxRetries: 3, DefaultTarget: "main"},
	}
	if resolved := config.Resolve(*policyPath); resolved != "" {
		loaded, err := config.Load(resolved)
		if err != nil {
			log.Fatalf("load policy config %s: %v", resolved, err)
		}
		pol = loaded
		log.WithField("path", resolved).Info("loaded policy config")
	} else {
		log.Info("no policy config found, using built-in defaults")
	}

	var questions []coherence.Question
	if strings.TrimSpace(*questionsPath) != "" {
		questions, err = coherence.LoadQuestions(*questionsPath)
		if err != nil {
			log.Fatalf("load coherence questions %s: %v", *questionsPath, err)
		}
	}

	events := eventlog.NewLog(st, st)
	chain := auditchain.New(st)

	orch := &orchestrator.Orchestrator{
		SCM:          scm.NewFake(),
		Checks:       checks.NewSubprocess(nil),
		Questions:    questions,
		Baselines:    coherence.NewDocBaselines(st),
		Events:       events,
		Intents:      st,
		Findings:     st,
		Reviews:      st,
		Profiles:     pol.Profiles,
		Overrides:    pol.OriginOverride,
		Global:       pol.Risk,
		AutoClassify: registry.Enabled(flags.FlagAutoClassify),
		Chain:        chain,
	}

	lock := buildLock(st, *redisAddr, log)

	processor := &queue.Processor{
		Lock:         lock,
		Intents:      st,
		Reviews:      st,
		Events:       events,
		SCM:          orch.SCM,
		Orchestrator: orch,
		AutoConfirm:  registry.Enabled(flags.FlagAutoConfirmMerge),
		MaxRetries:   pol.Queue.MaxRetries,
		Holder:       "convergeserver",
		Chain:        chain,
	}

	limiter := intake.NewLimiter(50, 100, time.Minute)
	limiter.Events = events

	scanRunner := &security.Runner{
		Scanners: scanner.NewRegistry(),
		Findings: st,
		Events:   events,
	}

	handler := &httpapi.Handler{
		Events:      events,
		Intents:     st,
		Dedup:       st,
		Processor:   processor,
		Chain:       chain,
		ChainReader: st,
		ChainHead:   st,
		Limiter:     limiter,
		Scanner:     scanRunner,
		Reviews:     st,
	}

	manager := system.NewManager()
	httpSvc := httpapi.NewService(handler, *addr, log)
	if err := manager.Register(httpSvc); err != nil {
		log.Fatalf("register http service: %v", err)
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(*cronSchedule, func() {
		mode := limiter.Mode(0.3, 0.7)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		result, err := processor.RunOnce(ctx, mode)
		if err != nil {
			log.WithError(err).Error("queue processor run failed")
			return
		}
		log.WithFields(map[string]any{
			"lock_acquired": result.LockAcquired,
			"processed":     result.Processed,
			"merged":        result.Merged,
			"requeued":      result.Requeued,
			"rejected":      result.Rejected,
			"blocked":       result.Blocked,
			"mode":          string(mode),
		}).Info("queue processor pass complete")
	}); err != nil {
		log.Fatalf("schedule queue processor cron %q: %v", *cronSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	if err := manager.Start(rootCtx); err != nil {
		log.Fatalf("start services: %v", err)
	}
	log.WithField("addr", *addr).Info("convergeserver listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

// buildLock picks the queue lock backend: Redis when -redis-addr is
// given, otherwise a lock backed directly by the selected Store (Postgres
// row or in-memory map).
func buildLock(st store.Store, redisAddr string, log *logger.Logger) queue.Lock {
	if trimmed := strings.TrimSpace(redisAddr); trimmed != "" {
		client := redis.NewClient(&redis.Options{Addr: trimmed})
		log.WithField("addr", trimmed).Info("using redis queue lock")
		return lockredis.New(client)
	}
	if _, ok := st.(*postgres.Store); ok {
		return lockpostgres.New(st, time.Now)
	}
	return lockmemory.New(st, time.Now)
}
