package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ghmbegerez/converge/internal/auditchain"
	"github.com/ghmbegerez/converge/internal/eventlog"
	"github.com/ghmbegerez/converge/internal/orchestrator"
	"github.com/ghmbegerez/converge/internal/queue"
	memlock "github.com/ghmbegerez/converge/internal/queue/lock/memory"
	"github.com/ghmbegerez/converge/internal/scanner"
	"github.com/ghmbegerez/converge/internal/scm"
	"github.com/ghmbegerez/converge/internal/security"
	"github.com/ghmbegerez/converge/internal/store"
	"github.com/ghmbegerez/converge/internal/store/memory"
)

func fixedClock() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	st := memory.New()
	events := eventlog.NewLog(st, st)
	chain := auditchain.New(st)
	proc := &queue.Processor{
		Lock:    memlock.New(st, fixedClock),
		Intents: st,
		Events:  events,
		SCM:     scm.NewFake(),
		Orchestrator: &orchestrator.Orchestrator{
			SCM: scm.NewFake(), Events: events, Intents: st, Now: fixedClock,
		},
		Holder: "test",
		Now:    fixedClock,
	}
	return &Handler{
		Events: events, Intents: st, Dedup: st, Processor: proc,
		Chain: chain, ChainReader: st, ChainHead: st, Now: fixedClock,
	}
}

func TestCreateAndGetIntent(t *testing.T) {
	h := newTestHandler(t)
	router := NewRouter(h)

	body := []byte(`{"source":"feature/a","target":"main","origin_type":"HUMAN","created_by":"u1"}`)
	req := httptest.NewRequest(http.MethodPost, "/intents/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	events, err := h.Events.Query(req.Context(), eventlog.Query{Type: eventlog.IntentCreated})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestCreateIntentDedupsByDeliveryID(t *testing.T) {
	h := newTestHandler(t)
	router := NewRouter(h)

	body := []byte(`{"source":"feature/a","target":"main"}`)

	req1 := httptest.NewRequest(http.MethodPost, "/intents/", bytes.NewReader(body))
	req1.Header.Set(deliveryHeader, "dup-1")
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusCreated, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/intents/", bytes.NewReader(body))
	req2.Header.Set(deliveryHeader, "dup-1")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
	require.Contains(t, rec2.Body.String(), "duplicate")
}

func TestGetIntentNotFound(t *testing.T) {
	h := newTestHandler(t)
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/intents/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunQueueAndVerifyChain(t *testing.T) {
	h := newTestHandler(t)
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/queue/run", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	verifyReq := httptest.NewRequest(http.MethodGet, "/chain/verify", nil)
	verifyRec := httptest.NewRecorder()
	router.ServeHTTP(verifyRec, verifyReq)
	require.Equal(t, http.StatusOK, verifyRec.Code)
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t)
	router := NewRouter(h)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestScanIntentUnconfiguredWithoutScanner(t *testing.T) {
	h := newTestHandler(t)
	router := NewRouter(h)

	body := []byte(`{"source":"feature/a","target":"main","origin_type":"HUMAN","created_by":"u1"}`)
	req := httptest.NewRequest(http.MethodPost, "/intents/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["ID"].(string)

	scanReq := httptest.NewRequest(http.MethodPost, "/intents/"+id+"/scan", bytes.NewReader([]byte(`{}`)))
	scanRec := httptest.NewRecorder()
	router.ServeHTTP(scanRec, scanReq)
	require.Equal(t, http.StatusServiceUnavailable, scanRec.Code)
}

func TestScanIntentRunsAvailableScanners(t *testing.T) {
	h := newTestHandler(t)
	st := memory.New()
	h.Intents = st
	h.Scanner = &security.Runner{
		Scanners: scanner.NewRegistry(&scanner.Fake{
			ScannerName: "sast", Available: true,
			Findings: []store.SecurityFinding{{ID: "f1", Scanner: "sast", Severity: store.SeverityHigh, Category: store.CategorySAST}},
		}),
		Findings: st,
		Events:   h.Events,
		Now:      fixedClock,
	}
	router := NewRouter(h)

	body := []byte(`{"source":"feature/a","target":"main","origin_type":"HUMAN","created_by":"u1"}`)
	req := httptest.NewRequest(http.MethodPost, "/intents/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["ID"].(string)

	scanReq := httptest.NewRequest(http.MethodPost, "/intents/"+id+"/scan", bytes.NewReader([]byte(`{"scanners":["sast"]}`)))
	scanRec := httptest.NewRecorder()
	router.ServeHTTP(scanRec, scanReq)
	require.Equal(t, http.StatusOK, scanRec.Code)
	require.Contains(t, scanRec.Body.String(), "f1")
}

func TestReviewDecisionFlow(t *testing.T) {
	h := newTestHandler(t)
	st := memory.New()
	h.Intents = st
	h.Reviews = st
	router := NewRouter(h)

	require.NoError(t, st.UpsertReview(context.Background(), store.ReviewTask{
		ID: "r1", IntentID: "i1", Status: store.ReviewPending, CreatedAt: fixedClock(),
	}))

	listReq := httptest.NewRequest(http.MethodGet, "/intents/i1/reviews", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)
	require.Contains(t, listRec.Body.String(), "r1")

	decideReq := httptest.NewRequest(http.MethodPost, "/reviews/r1/decision", bytes.NewReader([]byte(`{"intent_id":"i1","decision":"approved"}`)))
	decideRec := httptest.NewRecorder()
	router.ServeHTTP(decideRec, decideReq)
	require.Equal(t, http.StatusOK, decideRec.Code)

	tasks, err := st.ListReviewsByIntent(context.Background(), "i1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, store.ReviewApproved, tasks[0].Status)

	events, err := h.Events.Query(context.Background(), eventlog.Query{Type: eventlog.ReviewCompleted})
	require.NoError(t, err)
	require.Len(t, events, 1)
}
