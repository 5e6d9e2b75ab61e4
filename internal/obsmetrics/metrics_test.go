package obsmetrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInstrumentHandlerRecordsStatus(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	wrapped := InstrumentHandler(inner)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRecordersDoNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		RecordValidation("ALLOWED", 10*time.Millisecond)
		RecordRiskScore("risk_score", 42.0)
		RecordBomb("thermal_death")
		RecordQueueRun(true)
		RecordQueueOutcome("merged")
		RecordChainVerification(true)
	})
}

func TestHandlerServesMetrics(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
