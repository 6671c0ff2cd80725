package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ServesGatheredMetrics(t *testing.T) {
	RecordLogProcessed("created")
	RecordIncidentCreated("HIGH")
	RecordRunOutcome("resolved", 2*time.Second, 7)
	RecordReplan("repeated_file_not_found")
	RecordLLMCall("claude-sonnet-4-5", 100, 50, 0.002, 500*time.Millisecond, nil)
	RecordLLMCall("claude-sonnet-4-5", 10, 5, 0.0002, 200*time.Millisecond, errors.New("boom"))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "resolveops_reducer_log_entries_processed_total")
	assert.Contains(t, body, "resolveops_agentloop_resolution_outcomes_total")
	assert.Contains(t, body, "resolveops_llm_tokens_total")
	assert.Contains(t, body, "resolveops_llm_cost_usd_total")
}

func TestInstrumentHandler_RecordsStatusAndDuration(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	wrapped := InstrumentHandler("/incidents/:id", inner)

	req := httptest.NewRequest(http.MethodGet, "/incidents/abc", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestOrUnknown_FillsEmptyLabel(t *testing.T) {
	assert.Equal(t, "unknown", orUnknown(""))
	assert.Equal(t, "resolved", orUnknown("resolved"))
}
