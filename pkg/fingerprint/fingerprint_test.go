package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentineld/resolveops/pkg/models"
)

func testIncident() *models.Incident {
	return &models.Incident{
		ID:          "inc-1",
		ServiceName: "checkout-api",
		Source:      "app",
		Severity:    models.IncidentSeverityMedium,
	}
}

func testLogs(messages ...string) []*models.LogEntry {
	logs := make([]*models.LogEntry, 0, len(messages))
	for _, m := range messages {
		logs = append(logs, &models.LogEntry{Message: m, Timestamp: time.Now()})
	}
	return logs
}

func TestFingerprint_StableAcrossVolatileTokens(t *testing.T) {
	incA := testIncident()
	incB := testIncident()

	logsA := testLogs(
		"NullPointerException at 2024-01-02T03:04:05Z for user 10.0.0.1",
		"caused by request f47ac10b-58cc-4372-a567-0e02b2c3d479",
	)
	logsB := testLogs(
		"NullPointerException at 2024-06-09T11:12:13.456Z for user 192.168.1.5",
		"caused by request 6ba7b810-9dad-11d1-80b4-00c04fd430c8",
	)

	fpA := Fingerprint(incA, logsA)
	fpB := Fingerprint(incB, logsB)

	require.Len(t, fpA, 16)
	assert.Equal(t, fpA, fpB, "fingerprint must be invariant to timestamp/IP/UUID substitutions")
}

func TestFingerprint_DiffersOnDifferentHeader(t *testing.T) {
	incA := testIncident()
	incB := testIncident()
	incB.ServiceName = "billing-api"

	logs := testLogs("same message")

	assert.NotEqual(t, Fingerprint(incA, logs), Fingerprint(incB, logs))
}

func TestFingerprint_NeverFails(t *testing.T) {
	inc := &models.Incident{ID: "fallback-id"}
	fp := Fingerprint(inc, nil)
	require.Len(t, fp, 16)
}

func TestNormalizeMessage_Truncates(t *testing.T) {
	long := ""
	for i := 0; i < 500; i++ {
		long += "a"
	}
	assert.LessOrEqual(t, len(NormalizeMessage(long)), 200)
}

func TestErrorType_Classification(t *testing.T) {
	assert.Equal(t, "timeout", ErrorType("abc", "request timed out after 30s"))
	assert.Equal(t, "nil_dereference", ErrorType("abc", "nil pointer dereference"))
	assert.Equal(t, "authorization", ErrorType("abc", "403 Forbidden: unauthorized access"))
	assert.Equal(t, "unknown:abc", ErrorType("abc", ""))
}
