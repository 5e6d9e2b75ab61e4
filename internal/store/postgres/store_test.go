package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/ghmbegerez/converge/internal/eventlog"
	"github.com/ghmbegerez/converge/internal/intent"
	"github.com/ghmbegerez/converge/internal/store"
	"github.com/ghmbegerez/converge/internal/store/postgres/migrations"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	resetTables(t, db)

	st := New(db)
	now := time.Now().UTC()

	in := intent.New("pg-i1", "feature/a", "main", intent.OriginHuman, "alice", now)
	if err := st.Upsert(ctx, *in); err != nil {
		t.Fatalf("upsert intent: %v", err)
	}

	got, err := st.Get(ctx, "pg-i1")
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if got.Status != intent.StatusReady {
		t.Fatalf("expected READY, got %s", got.Status)
	}

	got.Status = intent.StatusValidated
	if err := st.Upsert(ctx, got); err != nil {
		t.Fatalf("re-upsert intent: %v", err)
	}
	candidates, err := st.ListQueueCandidates(ctx, 10)
	if err != nil {
		t.Fatalf("list queue candidates: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}

	ev := eventlog.New("trace-1", eventlog.IntentCreated, "pg-i1", map[string]any{"k": "v"}, nil, now)
	if _, err := st.Append(ctx, ev); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := st.Query(ctx, store.Query{IntentID: "pg-i1"})
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	if _, ok, err := st.Acquire(ctx, "queue", "worker-1", 300*time.Second, now); err != nil || !ok {
		t.Fatalf("acquire lock: ok=%v err=%v", ok, err)
	}
	if _, ok, err := st.Acquire(ctx, "queue", "worker-2", 300*time.Second, now); err != nil || ok {
		t.Fatalf("expected second acquire to fail, ok=%v err=%v", ok, err)
	}
	if err := st.Release(ctx, "queue", "worker-1"); err != nil {
		t.Fatalf("release lock: %v", err)
	}

	seen, err := st.SeenOrRecord(ctx, "delivery-1", now)
	if err != nil || seen {
		t.Fatalf("expected first delivery unseen, seen=%v err=%v", seen, err)
	}
	seen, err = st.SeenOrRecord(ctx, "delivery-1", now)
	if err != nil || !seen {
		t.Fatalf("expected duplicate delivery seen, seen=%v err=%v", seen, err)
	}

	if err := st.SetHead(ctx, []byte("abc")); err != nil {
		t.Fatalf("set head: %v", err)
	}
	head, err := st.Head(ctx)
	if err != nil || string(head) != "abc" {
		t.Fatalf("expected head abc, got %q err=%v", head, err)
	}
	if err := st.AppendCheckpoint(ctx, store.ChainCheckpoint{Index: 0, TraceID: "trace-1", Hash: []byte("abc")}); err != nil {
		t.Fatalf("append checkpoint: %v", err)
	}
	checkpoints, err := st.ListCheckpoints(ctx)
	if err != nil || len(checkpoints) != 1 {
		t.Fatalf("expected 1 checkpoint, got %d err=%v", len(checkpoints), err)
	}
}

func resetTables(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`
		TRUNCATE
			converge_chain_checkpoints,
			converge_chain_head,
			converge_security_findings,
			converge_review_tasks,
			converge_webhook_deliveries,
			converge_queue_locks,
			converge_events,
			converge_intents,
			converge_policy_docs
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("reset tables: %v", err)
	}
}
