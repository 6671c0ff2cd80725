// Package ticket implements reducer.TicketCreator against Linear's
// GraphQL API (spec §4.L), grounded on original_source's LinearIntegration
// (create_issue mutation shape) — no Go GraphQL client exists anywhere in
// the dependency set this module was grounded on, so requests are built
// and sent with net/http + encoding/json directly (see DESIGN.md).
package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sentineld/resolveops/pkg/masking"
	"github.com/sentineld/resolveops/pkg/models"
)

// linearAPIURL is a var, not a const, so tests can point it at a stub server.
var linearAPIURL = "https://api.linear.app/graphql"

const createIssueMutation = `
mutation CreateIssue($input: IssueCreateInput!) {
  issueCreate(input: $input) {
    success
    issue { id identifier url }
  }
}`

// maxConcurrentCreates bounds ScheduleCreateIssue's background worker
// pool, so a burst of incidents can't open unbounded HTTP connections to
// Linear.
const maxConcurrentCreates = 10

// LinearClient implements pkg/reducer.TicketCreator.
type LinearClient struct {
	httpClient  *http.Client
	accessToken string
	teamID      string
	inFlight    chan struct{}
	masker      *masking.Service
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	log         *slog.Logger
}

// New builds a LinearClient authenticated with an OAuth access token for
// the given team. masker may be nil, in which case issue bodies are sent
// to Linear unmasked. Every request to Linear runs through a circuit
// breaker (spec §5's resilience policy, same gobreaker settings as
// pkg/llm.Client's LLM breaker) so an outage trips open instead of every
// incident's ticket-creation hanging against a dead dependency.
func New(accessToken, teamID string, masker *masking.Service, log *slog.Logger) *LinearClient {
	if log == nil {
		log = slog.Default()
	}
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "linear-ticket-adapter",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &LinearClient{
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		accessToken: accessToken, teamID: teamID, masker: masker, log: log,
		inFlight: make(chan struct{}, maxConcurrentCreates),
		breaker:  breaker,
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type createIssueResponse struct {
	Data struct {
		IssueCreate struct {
			Success bool `json:"success"`
			Issue   struct {
				ID         string `json:"id"`
				Identifier string `json:"identifier"`
				URL        string `json:"url"`
			} `json:"issue"`
		} `json:"issueCreate"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// CreateIssueSync creates a Linear issue synchronously and returns its
// identifier (e.g. "ENG-123").
func (c *LinearClient) CreateIssueSync(ctx context.Context, inc *models.Incident) (string, error) {
	description := buildEnhancedDescription(inc)
	if c.masker != nil {
		description = c.masker.MaskOutboundText(description)
	}

	body, err := json.Marshal(graphqlRequest{
		Query: createIssueMutation,
		Variables: map[string]any{
			"input": map[string]any{
				"title":       inc.Title,
				"description": description,
				"teamId":      c.teamID,
				"priority":    priorityFor(inc.Severity),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal create issue request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, linearAPIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build create issue request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.accessToken)

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.httpClient.Do(req)
	})
	if err != nil {
		return "", fmt.Errorf("linear create issue request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read linear response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("linear returned HTTP %d: %s", resp.StatusCode, raw)
	}

	var parsed createIssueResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode linear response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return "", fmt.Errorf("linear graphql error: %s", parsed.Errors[0].Message)
	}
	if !parsed.Data.IssueCreate.Success {
		return "", fmt.Errorf("linear reported issueCreate failure")
	}

	return parsed.Data.IssueCreate.Issue.Identifier, nil
}

// priorityFor maps incident severity onto Linear's 0 (urgent) .. 4 (no
// priority) scale.
func priorityFor(sev models.IncidentSeverity) int {
	switch sev {
	case models.IncidentSeverityCritical:
		return 1
	case models.IncidentSeverityHigh:
		return 2
	case models.IncidentSeverityMedium:
		return 3
	default:
		return 4
	}
}

// ScheduleCreateIssue implements the async half of reducer.TicketCreator's
// schedule-else-sync-fallback contract (spec §4.E, grounded on
// original_source's ai_analysis.py async-scheduling pattern): it fires
// CreateIssueSync on a background goroutine and returns true immediately.
// A bounded worker pool caps how many concurrent creations run at once so
// a burst of incidents can't open unbounded HTTP connections to Linear.
func (c *LinearClient) ScheduleCreateIssue(ctx context.Context, inc *models.Incident) bool {
	select {
	case c.inFlight <- struct{}{}:
	default:
		return false // pool saturated; caller falls back to sync creation
	}

	go func() {
		defer func() { <-c.inFlight }()
		bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := c.CreateIssueSync(bgCtx, inc); err != nil {
			c.log.Warn("scheduled ticket creation failed", "incident_id", inc.ID, "error", err)
		}
	}()
	return true
}
