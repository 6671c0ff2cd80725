package ticket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentineld/resolveops/pkg/models"
)

func TestPriorityFor_MapsSeverityDescending(t *testing.T) {
	assert.Equal(t, 1, priorityFor(models.IncidentSeverityCritical))
	assert.Equal(t, 2, priorityFor(models.IncidentSeverityHigh))
	assert.Equal(t, 3, priorityFor(models.IncidentSeverityMedium))
	assert.Equal(t, 4, priorityFor(models.IncidentSeverityLow))
}

func newStubLinearServer(t *testing.T, identifier string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := createIssueResponse{}
		resp.Data.IssueCreate.Success = true
		resp.Data.IssueCreate.Issue.Identifier = identifier
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func withStubLinearURL(t *testing.T, url string) {
	t.Helper()
	prev := linearAPIURL
	linearAPIURL = url
	t.Cleanup(func() { linearAPIURL = prev })
}

func TestCreateIssueSync_ReturnsIdentifierOnSuccess(t *testing.T) {
	srv := newStubLinearServer(t, "ENG-42")
	defer srv.Close()
	withStubLinearURL(t, srv.URL)

	c := New("token", "team-1", nil, nil)
	c.httpClient = srv.Client()

	id, err := c.CreateIssueSync(context.Background(), &models.Incident{ID: "inc-1", Title: "boom"})
	require.NoError(t, err)
	assert.Equal(t, "ENG-42", id)
}

func TestScheduleCreateIssue_ReturnsFalseWhenPoolSaturated(t *testing.T) {
	c := New("token", "team-1", nil, nil)
	for i := 0; i < maxConcurrentCreates; i++ {
		c.inFlight <- struct{}{}
	}
	scheduled := c.ScheduleCreateIssue(context.Background(), &models.Incident{ID: "inc-1"})
	assert.False(t, scheduled, "pool is saturated, schedule must report false so the caller falls back to sync creation")
}

func TestScheduleCreateIssue_ReturnsTrueWhenPoolHasCapacity(t *testing.T) {
	srv := newStubLinearServer(t, "ENG-1")
	defer srv.Close()
	withStubLinearURL(t, srv.URL)

	c := New("token", "team-1", nil, nil)
	c.httpClient = srv.Client()

	scheduled := c.ScheduleCreateIssue(context.Background(), &models.Incident{ID: "inc-1"})
	assert.True(t, scheduled)
	time.Sleep(50 * time.Millisecond) // let the background goroutine release its slot
}
