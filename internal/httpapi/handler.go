// Package httpapi is the thin HTTP surface over the core, not a product
// auth surface: webhook intake, Intent lookup, an on-demand queue
// trigger, and audit-chain verification. Routing uses go-chi/chi, the
// lighter-weight router this repo standardizes on.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ghmbegerez/converge/internal/auditchain"
	core "github.com/ghmbegerez/converge/internal/core/service"
	"github.com/ghmbegerez/converge/internal/eventlog"
	"github.com/ghmbegerez/converge/internal/intake"
	"github.com/ghmbegerez/converge/internal/intent"
	"github.com/ghmbegerez/converge/internal/obsmetrics"
	"github.com/ghmbegerez/converge/internal/queue"
	"github.com/ghmbegerez/converge/internal/security"
	"github.com/ghmbegerez/converge/internal/store"
)

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Handler bundles the core ports a thin HTTP surface needs.
type Handler struct {
	Events      *eventlog.Log
	Intents     store.IntentStore
	Dedup       store.WebhookDedupStore
	Processor   *queue.Processor
	Chain       *auditchain.Chain
	ChainReader auditchain.BatchReader
	ChainHead   store.ChainHeadStore
	Now         Clock

	// Limiter throttles webhook intake and feeds the queue processor's
	// default intake mode when none is supplied on /queue/run. Nil
	// disables both (unthrottled intake, OPEN mode default).
	Limiter *intake.Limiter

	// Scanner, if set, lets callers trigger an on-demand security scan of
	// an Intent; nil disables the /scan route.
	Scanner *security.Runner
	// Reviews, if set, exposes review-task listing and decisions; the
	// reviewer workflow is a thin consumer of the core.
	Reviews store.ReviewStore
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

// NewRouter builds the chi mux exposing the core's thin REST surface.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(obsmetrics.InstrumentHandler)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", obsmetrics.Handler())

	r.Route("/intents", func(r chi.Router) {
		if h.Limiter != nil {
			r.With(intake.Middleware(h.Limiter, intake.DefaultKeyFunc)).Post("/", h.createIntent)
		} else {
			r.Post("/", h.createIntent)
		}
		r.Get("/{id}", h.getIntent)
		r.Get("/{id}/events", h.listIntentEvents)
		r.Post("/{id}/scan", h.scanIntent)
		r.Get("/{id}/reviews", h.listReviews)
	})

	r.Post("/reviews/{id}/decision", h.decideReview)
	r.Post("/queue/run", h.runQueue)
	r.Get("/chain/verify", h.verifyChain)

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// deliveryHeader is the external delivery ID header used for webhook
// idempotency; redeliveries of the same ID are answered without creating
// a second Intent.
const deliveryHeader = "X-Delivery-Id"

// Denial-pressure thresholds feeding the derived intake mode when a caller
// does not pin ?mode= explicitly (see Limiter.Mode).
const (
	throttleDenialRatio = 0.3
	pauseDenialRatio    = 0.7
)

func (h *Handler) createIntent(w http.ResponseWriter, r *http.Request) {
	if deliveryID := r.Header.Get(deliveryHeader); deliveryID != "" && h.Dedup != nil {
		seen, err := h.Dedup.SeenOrRecord(r.Context(), deliveryID, h.now())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if seen {
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	body, err := readLimited(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	in, err := intent.FromPayload(body, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.Intents.Upsert(r.Context(), *in); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	ev := eventlog.New(eventlog.NewID(), eventlog.IntentCreated, in.ID, map[string]any{
		"source": in.Source, "target": in.Target, "origin_type": string(in.Origin),
	}, nil, h.now())
	ev.TenantID = in.TenantID
	_, _ = h.Events.Append(r.Context(), ev)

	writeJSON(w, http.StatusCreated, in)
}

func (h *Handler) getIntent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	in, err := h.Intents.Get(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (h *Handler) listIntentEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.Events.Query(r.Context(), eventlog.Query{
		IntentID: id,
		Limit:    core.ClampLimit(limit, core.DefaultListLimit, core.MaxListLimit),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// runQueue triggers one queue.Processor.RunOnce pass on demand (e.g. from
// an external scheduler); the processor itself enforces single-writer
// exclusivity via the advisory lock regardless of how it is invoked.
func (h *Handler) runQueue(w http.ResponseWriter, r *http.Request) {
	mode := queue.IntakeMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = queue.IntakeOpen
		if h.Limiter != nil {
			mode = h.Limiter.Mode(throttleDenialRatio, pauseDenialRatio)
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	result, err := h.Processor.RunOnce(ctx, mode)
	obsmetrics.RecordQueueRun(result.LockAcquired)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// scanRequest is the body for POST /intents/{id}/scan: the caller supplies
// the checked-out working path (scan execution is outside core scope, spec
// §1) and which registered scanner names to run.
type scanRequest struct {
	Path     string   `json:"path"`
	Scanners []string `json:"scanners"`
}

func (h *Handler) scanIntent(w http.ResponseWriter, r *http.Request) {
	if h.Scanner == nil {
		writeError(w, http.StatusServiceUnavailable, errUnconfigured)
		return
	}
	id := chi.URLParam(r, "id")
	in, err := h.Intents.Get(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var req scanRequest
	body, err := readLimited(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	result, err := h.Scanner.Scan(r.Context(), in.ID, in.TenantID, req.Path, req.Scanners)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listReviews(w http.ResponseWriter, r *http.Request) {
	if h.Reviews == nil {
		writeError(w, http.StatusServiceUnavailable, errUnconfigured)
		return
	}
	id := chi.URLParam(r, "id")
	tasks, err := h.Reviews.ListReviewsByIntent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// decisionRequest is the body for POST /reviews/{id}/decision. AssignedTo is
// only read for the "assigned" decision.
type decisionRequest struct {
	IntentID   string `json:"intent_id"`
	Decision   string `json:"decision"` // "assigned", "approved", "rejected", "cancelled", or "escalated"
	AssignedTo string `json:"assigned_to"`
}

func (h *Handler) decideReview(w http.ResponseWriter, r *http.Request) {
	if h.Reviews == nil {
		writeError(w, http.StatusServiceUnavailable, errUnconfigured)
		return
	}
	id := chi.URLParam(r, "id")

	body, err := readLimited(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req decisionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tasks, err := h.Reviews.ListReviewsByIntent(r.Context(), req.IntentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var task *store.ReviewTask
	for i := range tasks {
		if tasks[i].ID == id {
			task = &tasks[i]
			break
		}
	}
	if task == nil {
		writeError(w, http.StatusNotFound, store.ErrNotFound)
		return
	}

	var eventType eventlog.EventType
	payload := map[string]any{"review_id": task.ID, "decision": req.Decision}
	switch req.Decision {
	case "assigned":
		task.AssignedTo = req.AssignedTo
		eventType = eventlog.ReviewAssigned
		payload["assigned_to"] = req.AssignedTo
	case "approved":
		task.Status = store.ReviewApproved
		eventType = eventlog.ReviewCompleted
	case "rejected":
		task.Status = store.ReviewRejected
		eventType = eventlog.ReviewCompleted
	case "cancelled":
		task.Status = store.ReviewCancelled
		eventType = eventlog.ReviewCancelled
	case "escalated":
		// Escalation flags the task for higher-priority attention without
		// resolving it; status stays PENDING so the queue processor keeps
		// skipping the intent.
		eventType = eventlog.ReviewEscalated
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown decision %q", req.Decision))
		return
	}
	task.UpdatedAt = h.now()

	if err := h.Reviews.UpsertReview(r.Context(), *task); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	ev := eventlog.New(eventlog.NewID(), eventType, req.IntentID, payload, nil, h.now())
	_, _ = h.Events.Append(r.Context(), ev)

	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) verifyChain(w http.ResponseWriter, r *http.Request) {
	if h.ChainReader == nil || h.ChainHead == nil {
		writeError(w, http.StatusServiceUnavailable, errUnconfigured)
		return
	}
	result, err := auditchain.Verify(r.Context(), h.ChainReader, h.ChainHead)
	obsmetrics.RecordChainVerification(result.OK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

var errUnconfigured = &configError{"endpoint not configured"}

type configError struct{ msg string }

func (e *configError) Error() string { return e.msg }

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func readLimited(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	limited := http.MaxBytesReader(w, r.Body, 1<<20)
	return io.ReadAll(limited)
}
