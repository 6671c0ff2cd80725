package ticket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sentineld/resolveops/pkg/models"
)

func baseIncident() *models.Incident {
	return &models.Incident{
		ID:          "inc-1",
		Title:       "db timeout",
		Description: "connection pool exhausted",
		Severity:    models.IncidentSeverityHigh,
		Status:      models.IncidentStatusInvestigating,
		ServiceName: "checkout",
		Source:      "app",
		FirstSeenAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		LastSeenAt:  time.Date(2026, 1, 2, 3, 10, 0, 0, time.UTC),
		LogIDs:      []string{"log-1", "log-2"},
	}
}

func TestBuildEnhancedDescription_IncludesIncidentDetails(t *testing.T) {
	desc := buildEnhancedDescription(baseIncident())
	assert.Contains(t, desc, "## Incident Details")
	assert.Contains(t, desc, "**Service:** checkout")
	assert.Contains(t, desc, "**Severity:** HIGH")
	assert.Contains(t, desc, "2026-01-02 03:04:05 UTC")
}

func TestBuildEnhancedDescription_OmitsSectionsWithNoData(t *testing.T) {
	desc := buildEnhancedDescription(&models.Incident{ServiceName: "svc"})
	assert.NotContains(t, desc, "## Root Cause")
	assert.NotContains(t, desc, "## Trace Information")
	assert.NotContains(t, desc, "## Stack Traces")
	assert.NotContains(t, desc, "## Related Logs Summary")
	assert.NotContains(t, desc, "## Repository")
}

func TestBuildEnhancedDescription_IncludesRootCauseAndRepository(t *testing.T) {
	inc := baseIncident()
	rootCause := "unbounded connection pool growth"
	repo := "acme/checkout-service"
	inc.RootCause = &rootCause
	inc.RepoName = &repo

	desc := buildEnhancedDescription(inc)
	assert.Contains(t, desc, "## Root Cause\nunbounded connection pool growth")
	assert.Contains(t, desc, "**Repo:** `acme/checkout-service`")
}

func TestBuildEnhancedDescription_SpansTableAndExecutionFlow(t *testing.T) {
	inc := baseIncident()
	inc.Metadata = map[string]any{
		"trace_id": "trace-abc",
		"spans": []any{
			map[string]any{"span_id": "root", "name": "handle_request", "duration_ms": float64(120), "status_code": float64(0)},
			map[string]any{"span_id": "child", "parent_span_id": "root", "name": "db_query", "duration_ms": float64(80), "status_code": float64(2)},
		},
	}

	desc := buildEnhancedDescription(inc)
	assert.Contains(t, desc, "## Trace Information")
	assert.Contains(t, desc, "**Trace ID(s):** trace-abc")
	assert.Contains(t, desc, "### Spans")
	assert.Contains(t, desc, "`root`")
	assert.Contains(t, desc, "### Execution Flow")
	assert.Contains(t, desc, "├─ handle_request (120ms) [OK]")
	assert.Contains(t, desc, "  ├─ db_query (80ms) [ERROR]")
}

func TestBuildExecutionFlow_IsCycleSafe(t *testing.T) {
	spans := []models.Span{
		{SpanID: "a", ParentSpanID: "b", Name: "a-span"},
		{SpanID: "b", ParentSpanID: "a", Name: "b-span"},
	}
	flow := buildExecutionFlow(spans)
	assert.NotEmpty(t, flow)
}

func TestBuildEnhancedDescription_StackTracesFilterDependencyOnlyFrames(t *testing.T) {
	inc := baseIncident()
	inc.Metadata = map[string]any{
		"stack_traces": []any{
			"Error: boom\n  at Object.<anonymous> (/app/node_modules/lodash/index.js:10:5)",
			"Error: boom\n  at handler (pkg/checkout/handler.go:42)\n  at main (main.go:10)",
		},
	}

	desc := buildEnhancedDescription(inc)
	assert.Contains(t, desc, "## Stack Traces")
	assert.Contains(t, desc, "pkg/checkout/handler.go:42")
	assert.NotContains(t, desc, "lodash/index.js")
}

func TestBuildEnhancedDescription_CapsStackTracesAtFive(t *testing.T) {
	inc := baseIncident()
	traces := make([]any, 0, 8)
	for i := 0; i < 8; i++ {
		traces = append(traces, "Error: boom\n  at handler (pkg/checkout/handler.go:1)")
	}
	inc.Metadata = map[string]any{"stack_traces": traces}

	desc := buildEnhancedDescription(inc)
	assert.Equal(t, 5, countOccurrences(desc, "### Stack Trace "))
}

func TestBuildEnhancedDescription_MetadataSectionOnlyShowsAllowlistedKeys(t *testing.T) {
	inc := baseIncident()
	inc.Metadata = map[string]any{
		"environment":  "production",
		"internal_key": "should not appear",
	}

	desc := buildEnhancedDescription(inc)
	assert.Contains(t, desc, "**Environment:** production")
	assert.NotContains(t, desc, "should not appear")
}

func countOccurrences(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
		}
	}
	return count
}
