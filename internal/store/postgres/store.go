// Package postgres implements store.Store on top of database/sql and
// lib/pq: raw SQL, JSON-marshaled map/slice columns, uuid.NewString() ID
// generation where the caller hasn't already assigned one.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ghmbegerez/converge/internal/eventlog"
	"github.com/ghmbegerez/converge/internal/intent"
	"github.com/ghmbegerez/converge/internal/store"
)

// Store implements store.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New wraps an already-open database handle. Run migrations.Apply before
// using it against a fresh database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- EventStore --------------------------------------------------------

func (s *Store) Append(ctx context.Context, ev eventlog.Event) (string, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return "", fmt.Errorf("postgres: marshal payload: %w", err)
	}
	evidence, err := json.Marshal(ev.Evidence)
	if err != nil {
		return "", fmt.Errorf("postgres: marshal evidence: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO converge_events (id, trace_id, "timestamp", event_type, intent_id, agent_id, tenant_id, payload, evidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ev.ID, ev.TraceID, ev.Timestamp, string(ev.Type), ev.IntentID, ev.AgentID, ev.TenantID, payload, evidence)
	if err != nil {
		return "", fmt.Errorf("postgres: insert event: %w", err)
	}
	return ev.ID, nil
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]eventlog.Event, error) {
	query := `
		SELECT id, trace_id, "timestamp", event_type, intent_id, agent_id, tenant_id, payload, evidence
		FROM converge_events
		WHERE ($1 = '' OR event_type = $1)
		  AND ($2 = '' OR intent_id = $2)
		  AND ($3 = '' OR tenant_id = $3)
		  AND ($4::timestamptz IS NULL OR "timestamp" >= $4)
		  AND ($5::timestamptz IS NULL OR "timestamp" <= $5)
		ORDER BY seq DESC
	`
	args := []any{string(q.Type), q.IntentID, q.TenantID, nullableTime(q.Since), nullableTime(q.Until)}
	if q.Limit > 0 {
		query += " LIMIT $6"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query events: %w", err)
	}
	defer rows.Close()

	var out []eventlog.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) LatestOf(ctx context.Context, typ eventlog.EventType, intentID string) (*eventlog.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trace_id, "timestamp", event_type, intent_id, agent_id, tenant_id, payload, evidence
		FROM converge_events
		WHERE event_type = $1 AND ($2 = '' OR intent_id = $2)
		ORDER BY "timestamp" DESC
		LIMIT 1
	`, string(typ), intentID)

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (eventlog.Event, error) {
	var (
		ev              eventlog.Event
		typ             string
		payload, evtRaw []byte
	)
	if err := row.Scan(&ev.ID, &ev.TraceID, &ev.Timestamp, &typ, &ev.IntentID, &ev.AgentID, &ev.TenantID, &payload, &evtRaw); err != nil {
		return eventlog.Event{}, err
	}
	ev.Type = eventlog.EventType(typ)
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &ev.Payload)
	}
	if len(evtRaw) > 0 {
		_ = json.Unmarshal(evtRaw, &ev.Evidence)
	}
	return ev, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// --- IntentStore ---------------------------------------------------------

func (s *Store) Upsert(ctx context.Context, in intent.Intent) error {
	semantic, err := json.Marshal(in.Semantic)
	if err != nil {
		return fmt.Errorf("postgres: marshal semantic: %w", err)
	}
	technical, err := json.Marshal(in.Technical)
	if err != nil {
		return fmt.Errorf("postgres: marshal technical: %w", err)
	}
	checksRequired, err := json.Marshal(in.ChecksRequired)
	if err != nil {
		return fmt.Errorf("postgres: marshal checks_required: %w", err)
	}
	dependencies, err := json.Marshal(in.Dependencies)
	if err != nil {
		return fmt.Errorf("postgres: marshal dependencies: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO converge_intents (
			id, source, target, status, risk_level, priority, origin,
			created_at, created_by, updated_at, semantic, technical,
			checks_required, dependencies, retries, tenant_id, plan_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			source = $2, target = $3, status = $4, risk_level = $5, priority = $6,
			origin = $7, updated_at = $10, semantic = $11, technical = $12,
			checks_required = $13, dependencies = $14, retries = $15,
			tenant_id = $16, plan_id = $17
	`,
		in.ID, in.Source, in.Target, string(in.Status), string(in.RiskLevel), in.Priority, string(in.Origin),
		in.CreatedAt, in.CreatedBy, in.UpdatedAt, semantic, technical,
		checksRequired, dependencies, in.Retries, in.TenantID, in.PlanID,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert intent: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (intent.Intent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, target, status, risk_level, priority, origin,
		       created_at, created_by, updated_at, semantic, technical,
		       checks_required, dependencies, retries, tenant_id, plan_id
		FROM converge_intents WHERE id = $1
	`, id)
	in, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return intent.Intent{}, store.ErrNotFound
	}
	if err != nil {
		return intent.Intent{}, fmt.Errorf("postgres: get intent: %w", err)
	}
	return in, nil
}

func (s *Store) List(ctx context.Context, status intent.Status) ([]intent.Intent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, target, status, risk_level, priority, origin,
		       created_at, created_by, updated_at, semantic, technical,
		       checks_required, dependencies, retries, tenant_id, plan_id
		FROM converge_intents
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("postgres: list intents: %w", err)
	}
	defer rows.Close()

	var out []intent.Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) ListQueueCandidates(ctx context.Context, limit int) ([]intent.Intent, error) {
	query := `
		SELECT id, source, target, status, risk_level, priority, origin,
		       created_at, created_by, updated_at, semantic, technical,
		       checks_required, dependencies, retries, tenant_id, plan_id
		FROM converge_intents
		WHERE status = $1
		ORDER BY priority ASC, created_at ASC
	`
	args := []any{string(intent.StatusValidated)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list queue candidates: %w", err)
	}
	defer rows.Close()

	var out []intent.Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func scanIntent(row rowScanner) (intent.Intent, error) {
	var (
		in                           intent.Intent
		status, riskLevel, origin    string
		semantic, technical          []byte
		checksRequired, dependencies []byte
	)
	if err := row.Scan(
		&in.ID, &in.Source, &in.Target, &status, &riskLevel, &in.Priority, &origin,
		&in.CreatedAt, &in.CreatedBy, &in.UpdatedAt, &semantic, &technical,
		&checksRequired, &dependencies, &in.Retries, &in.TenantID, &in.PlanID,
	); err != nil {
		return intent.Intent{}, err
	}
	in.Status = intent.Status(status)
	in.RiskLevel = intent.RiskLevel(riskLevel)
	in.Origin = intent.OriginType(origin)
	if len(semantic) > 0 {
		_ = json.Unmarshal(semantic, &in.Semantic)
	}
	if len(technical) > 0 {
		_ = json.Unmarshal(technical, &in.Technical)
	}
	if len(checksRequired) > 0 {
		_ = json.Unmarshal(checksRequired, &in.ChecksRequired)
	}
	if len(dependencies) > 0 {
		_ = json.Unmarshal(dependencies, &in.Dependencies)
	}
	return in, nil
}

// --- QueueLockStore ------------------------------------------------------

func (s *Store) Acquire(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (store.LockToken, bool, error) {
	expiresAt := now.Add(ttl)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO converge_queue_locks (name, holder, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET holder = $2, acquired_at = $3, expires_at = $4
		WHERE converge_queue_locks.holder = $2 OR converge_queue_locks.expires_at < $3
	`, name, holder, now, expiresAt)
	if err != nil {
		return store.LockToken{}, false, fmt.Errorf("postgres: acquire lock: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return store.LockToken{}, false, fmt.Errorf("postgres: acquire lock rows: %w", err)
	}
	if rows == 0 {
		return store.LockToken{}, false, nil
	}
	return store.LockToken{Name: name, Holder: holder, AcquiredAt: now, ExpiresAt: expiresAt}, true, nil
}

func (s *Store) Release(ctx context.Context, name, holder string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM converge_queue_locks WHERE name = $1 AND holder = $2
	`, name, holder)
	if err != nil {
		return fmt.Errorf("postgres: release lock: %w", err)
	}
	return nil
}

// --- WebhookDedupStore -----------------------------------------------------

func (s *Store) SeenOrRecord(ctx context.Context, deliveryID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO converge_webhook_deliveries (delivery_id, seen_at)
		VALUES ($1, $2)
		ON CONFLICT (delivery_id) DO NOTHING
	`, deliveryID, now)
	if err != nil {
		return false, fmt.Errorf("postgres: record delivery: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: record delivery rows: %w", err)
	}
	return rows == 0, nil
}

// --- ReviewStore -----------------------------------------------------------

func (s *Store) UpsertReview(ctx context.Context, task store.ReviewTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO converge_review_tasks (id, intent_id, reason, status, assigned_to, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			reason = $3, status = $4, assigned_to = $5, updated_at = $7
	`, task.ID, task.IntentID, task.Reason, string(task.Status), task.AssignedTo, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert review: %w", err)
	}
	return nil
}

func (s *Store) ListReviewsByIntent(ctx context.Context, intentID string) ([]store.ReviewTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, intent_id, reason, status, assigned_to, created_at, updated_at
		FROM converge_review_tasks WHERE intent_id = $1
		ORDER BY created_at
	`, intentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list reviews: %w", err)
	}
	defer rows.Close()

	var out []store.ReviewTask
	for rows.Next() {
		var t store.ReviewTask
		var status string
		if err := rows.Scan(&t.ID, &t.IntentID, &t.Reason, &status, &t.AssignedTo, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Status = store.ReviewStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- SecurityFindingStore ---------------------------------------------------

func (s *Store) UpsertFinding(ctx context.Context, f store.SecurityFinding) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO converge_security_findings (
			id, scanner, category, severity, file, line, rule, evidence,
			confidence, intent_id, tenant_id, "timestamp"
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			scanner = $2, category = $3, severity = $4, file = $5, line = $6,
			rule = $7, evidence = $8, confidence = $9
	`,
		f.ID, f.Scanner, string(f.Category), string(f.Severity), f.File, f.Line, f.Rule, f.Evidence,
		f.Confidence, f.IntentID, f.TenantID, f.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert finding: %w", err)
	}
	return nil
}

func (s *Store) ListFindingsByIntent(ctx context.Context, intentID string) ([]store.SecurityFinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scanner, category, severity, file, line, rule, evidence,
		       confidence, intent_id, tenant_id, "timestamp"
		FROM converge_security_findings WHERE intent_id = $1
	`, intentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list findings: %w", err)
	}
	defer rows.Close()

	var out []store.SecurityFinding
	for rows.Next() {
		var f store.SecurityFinding
		var category, severity string
		if err := rows.Scan(&f.ID, &f.Scanner, &category, &severity, &f.File, &f.Line, &f.Rule, &f.Evidence,
			&f.Confidence, &f.IntentID, &f.TenantID, &f.Timestamp); err != nil {
			return nil, err
		}
		f.Category = store.SecurityCategory(category)
		f.Severity = store.SecuritySeverity(severity)
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- ChainHeadStore ----------------------------------------------------

func (s *Store) Head(ctx context.Context) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `SELECT head FROM converge_chain_head WHERE id = 1`)
	var head []byte
	if err := row.Scan(&head); errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("postgres: read chain head: %w", err)
	}
	return head, nil
}

func (s *Store) SetHead(ctx context.Context, head []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO converge_chain_head (id, head) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET head = $1
	`, head)
	if err != nil {
		return fmt.Errorf("postgres: write chain head: %w", err)
	}
	return nil
}

func (s *Store) AppendCheckpoint(ctx context.Context, cp store.ChainCheckpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO converge_chain_checkpoints (idx, trace_id, event_count, hash) VALUES ($1, $2, $3, $4)
		ON CONFLICT (idx) DO UPDATE SET trace_id = $2, event_count = $3, hash = $4
	`, cp.Index, cp.TraceID, cp.Count, cp.Hash)
	if err != nil {
		return fmt.Errorf("postgres: append checkpoint: %w", err)
	}
	return nil
}

func (s *Store) ListCheckpoints(ctx context.Context) ([]store.ChainCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, trace_id, event_count, hash FROM converge_chain_checkpoints ORDER BY idx
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []store.ChainCheckpoint
	for rows.Next() {
		var cp store.ChainCheckpoint
		if err := rows.Scan(&cp.Index, &cp.TraceID, &cp.Count, &cp.Hash); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// --- PolicyDocStore ------------------------------------------------------

func (s *Store) GetDoc(ctx context.Context, name string) (map[string]any, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT doc FROM converge_policy_docs WHERE name = $1`, name)
	var raw []byte
	if err := row.Scan(&raw); errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("postgres: get doc: %w", err)
	}
	var doc map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, false, fmt.Errorf("postgres: unmarshal doc: %w", err)
		}
	}
	return doc, true, nil
}

func (s *Store) SetDoc(ctx context.Context, name string, doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("postgres: marshal doc: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO converge_policy_docs (name, doc, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET doc = $2, updated_at = now()
	`, name, raw)
	if err != nil {
		return fmt.Errorf("postgres: set doc: %w", err)
	}
	return nil
}
