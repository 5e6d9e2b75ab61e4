// Package obsmetrics wires Prometheus collectors for the core. It is a
// thin consumer: the core emits events regardless of whether anything
// scrapes these gauges.
package obsmetrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every collector this package registers.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "converge", Subsystem: "http", Name: "inflight_requests",
		Help: "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "converge", Subsystem: "http", Name: "requests_total",
		Help: "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "converge", Subsystem: "http", Name: "request_duration_seconds",
		Help:    "Duration of HTTP requests.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	validationRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "converge", Subsystem: "orchestrator", Name: "validate_runs_total",
		Help: "Total validate() pipeline runs, by outcome.",
	}, []string{"outcome"})

	validationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "converge", Subsystem: "orchestrator", Name: "validate_duration_seconds",
		Help:    "Duration of validate() pipeline runs.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"outcome"})

	riskScores = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "converge", Subsystem: "risk", Name: "composite_score",
		Help:    "Distribution of composite risk-engine scores.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	}, []string{"score"})

	bombsDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "converge", Subsystem: "risk", Name: "bombs_detected_total",
		Help: "Total structural bomb findings, by kind.",
	}, []string{"kind"})

	queueRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "converge", Subsystem: "queue", Name: "runs_total",
		Help: "Total queue processor RunOnce passes, by whether the lock was acquired.",
	}, []string{"lock_acquired"})

	queueOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "converge", Subsystem: "queue", Name: "intent_outcomes_total",
		Help: "Total per-intent queue outcomes, by kind (merged/requeued/rejected/blocked).",
	}, []string{"kind"})

	chainVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "converge", Subsystem: "auditchain", Name: "verifications_total",
		Help: "Total audit chain verification runs, by result.",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(
		httpInFlight, httpRequests, httpDuration,
		validationRuns, validationDuration,
		riskScores, bombsDetected,
		queueRuns, queueOutcomes,
		chainVerifications,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with request-count/duration/in-flight
// collection, skipping the metrics endpoint itself.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// RecordValidation records one orchestrator.Validate outcome.
func RecordValidation(outcome string, duration time.Duration) {
	validationRuns.WithLabelValues(outcome).Inc()
	validationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRiskScore buckets one composite risk score by its named kind
// (risk_score/damage_score/entropy_score/propagation_score).
func RecordRiskScore(kind string, value float64) {
	riskScores.WithLabelValues(kind).Observe(value)
}

// RecordBomb increments the detected-bomb counter for kind.
func RecordBomb(kind string) {
	bombsDetected.WithLabelValues(kind).Inc()
}

// RecordQueueRun records one RunOnce pass.
func RecordQueueRun(lockAcquired bool) {
	queueRuns.WithLabelValues(strconv.FormatBool(lockAcquired)).Inc()
}

// RecordQueueOutcome increments the per-intent outcome counter.
func RecordQueueOutcome(kind string) {
	queueOutcomes.WithLabelValues(kind).Inc()
}

// RecordChainVerification records one auditchain.Verify call's result.
func RecordChainVerification(ok bool) {
	result := "ok"
	if !ok {
		result = "tampered"
	}
	chainVerifications.WithLabelValues(result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
