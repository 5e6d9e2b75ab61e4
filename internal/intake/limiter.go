// Package intake implements the webhook-facing rate limiter that feeds
// the queue processor's intake mode (OPEN/THROTTLE/PAUSE-CRITICAL-ONLY):
// external pressure, not the queue itself, decides when non-critical
// intents should be skipped. Per-key token buckets come from
// golang.org/x/time/rate.
package intake

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ghmbegerez/converge/internal/eventlog"
	"github.com/ghmbegerez/converge/internal/queue"
)

// Limiter is a per-key token-bucket rate limiter. Keys are typically tenant
// IDs or client IPs; an unauthenticated caller falls back to "unknown".
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	window   time.Duration
	resetAt  time.Time
	allowed  int
	denied   int
	lastMode queue.IntakeMode

	// Events, if set, records INTAKE_ACCEPTED/INTAKE_THROTTLED/INTAKE_REJECTED per request
	// and INTAKE_MODE_CHANGED whenever Mode's derived verdict flips. Nil
	// disables emission.
	Events *eventlog.Log
}

// NewLimiter builds a Limiter allowing requestsPerSecond sustained, bursting
// up to burst. window sizes the rolling pressure sample Mode() reports over.
func NewLimiter(requestsPerSecond float64, burst int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		window:   window,
	}
}

func (l *Limiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// Allow reports whether a request keyed by key may proceed, recording the
// outcome into the rolling pressure sample used by Mode.
func (l *Limiter) Allow(key string) bool {
	ok := l.getLimiter(key).Allow()
	l.record(ok)
	l.emitDecision(key, ok)
	return ok
}

// emitDecision classifies the just-recorded request into one of the
// three intake outcomes: denied outright is always INTAKE_REJECTED;
// admitted while the last-observed mode is THROTTLE is INTAKE_THROTTLED
// (accepted but under pressure); otherwise plain INTAKE_ACCEPTED.
func (l *Limiter) emitDecision(key string, allowed bool) {
	if l.Events == nil {
		return
	}
	typ := eventlog.IntakeAccepted
	switch {
	case !allowed:
		typ = eventlog.IntakeRejected
	case l.currentMode() == queue.IntakeThrottle:
		typ = eventlog.IntakeThrottled
	}
	ev := eventlog.New(eventlog.NewID(), typ, "", map[string]any{"key": key}, nil, time.Now().UTC())
	_, _ = l.Events.Append(context.Background(), ev)
}

func (l *Limiter) currentMode() queue.IntakeMode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastMode
}

func (l *Limiter) record(allowed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if now.After(l.resetAt) {
		l.resetAt = now.Add(l.window)
		l.allowed, l.denied = 0, 0
	}
	if allowed {
		l.allowed++
	} else {
		l.denied++
	}
}

// Mode derives the queue processor's intake mode from recent denial
// pressure: a denial ratio at or above pauseThreshold pauses non-critical
// intake entirely, at or above throttleThreshold throttles it, otherwise
// intake stays open. The thresholds are supplied by the caller.
func (l *Limiter) Mode(throttleThreshold, pauseThreshold float64) queue.IntakeMode {
	l.mu.Lock()
	total := l.allowed + l.denied
	denied := l.denied
	l.mu.Unlock()

	if total == 0 {
		return queue.IntakeOpen
	}
	ratio := float64(denied) / float64(total)
	mode := queue.IntakeOpen
	switch {
	case ratio >= pauseThreshold:
		mode = queue.IntakePauseCriticalOnly
	case ratio >= throttleThreshold:
		mode = queue.IntakeThrottle
	}
	l.emitModeChange(mode)
	return mode
}

func (l *Limiter) emitModeChange(mode queue.IntakeMode) {
	l.mu.Lock()
	changed := l.lastMode != mode
	l.lastMode = mode
	l.mu.Unlock()
	if !changed || l.Events == nil {
		return
	}
	ev := eventlog.New(eventlog.NewID(), eventlog.IntakeModeChanged, "", map[string]any{"mode": string(mode)}, nil, time.Now().UTC())
	_, _ = l.Events.Append(context.Background(), ev)
}

// KeyFunc extracts the rate-limit bucket key from a request, e.g. tenant ID
// header or remote address.
type KeyFunc func(*http.Request) string

// DefaultKeyFunc buckets by the X-Tenant-Id header, falling back to the
// request's remote address.
func DefaultKeyFunc(r *http.Request) string {
	if tenant := r.Header.Get("X-Tenant-Id"); tenant != "" {
		return tenant
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// Middleware rejects requests over the per-key budget with 429 and a
// Retry-After hint.
func Middleware(l *Limiter, keyFn KeyFunc) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = DefaultKeyFunc
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if !l.Allow(key) {
				w.Header().Set("Retry-After", strconv.Itoa(1))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
