package storage

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sentineld/resolveops/pkg/models"
)

var (
	sharedCfg     Config
	containerOnce sync.Once
	containerErr  error
)

// testClient returns a Client backed by a shared postgres testcontainer,
// started once per package run, mirroring the shared-container pattern
// the previous iteration of this test suite used for speed.
func testClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	cfg := getOrStartSharedPostgres(t)
	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func getOrStartSharedPostgres(t *testing.T) Config {
	t.Helper()

	if url := os.Getenv("CI_POSTGRES_HOST"); url != "" {
		return Config{
			Host: url, Port: 5432, User: "test", Password: "test", Database: "test",
			SSLMode: "disable", MaxConns: 10, MinConns: 1,
			MaxConnLifetime: time.Hour, MaxConnIdleTime: 15 * time.Minute,
		}
	}

	containerOnce.Do(func() {
		pgContainer, err := postgres.Run(context.Background(),
			"postgres:17-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = err
			return
		}
		host, err := pgContainer.Host(context.Background())
		if err != nil {
			containerErr = err
			return
		}
		port, err := pgContainer.MappedPort(context.Background(), "5432/tcp")
		if err != nil {
			containerErr = err
			return
		}
		sharedCfg = Config{
			Host: host, Port: port.Int(), User: "test", Password: "test", Database: "test",
			SSLMode: "disable", MaxConns: 10, MinConns: 1,
			MaxConnLifetime: time.Hour, MaxConnIdleTime: 15 * time.Minute,
		}
	})

	require.NoError(t, containerErr, "failed to start shared postgres testcontainer")
	return sharedCfg
}

func newTestIncident(id string) *models.Incident {
	now := time.Now().UTC()
	return &models.Incident{
		ID: id, Title: "pod crash looping", Severity: models.IncidentSeverityHigh,
		Status: models.IncidentStatusOpen, ServiceName: "checkout", Source: "log",
		LogIDs: []string{"log-1"}, Metadata: map[string]any{"pod": "checkout-7f"},
		FirstSeenAt: now, LastSeenAt: now, CreatedAt: now,
	}
}

func TestIncidentRepo_CreateGetUpdate(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	inc := newTestIncident("inc-create-1")
	require.NoError(t, client.Incidents.Create(ctx, inc))

	got, err := client.Incidents.Get(ctx, inc.ID)
	require.NoError(t, err)
	require.Equal(t, inc.Title, got.Title)
	require.Equal(t, inc.Metadata["pod"], got.Metadata["pod"])

	got.Status = models.IncidentStatusInvestigating
	got.AppendLogID("log-2")
	require.NoError(t, client.Incidents.Update(ctx, got))

	reloaded, err := client.Incidents.Get(ctx, inc.ID)
	require.NoError(t, err)
	require.Equal(t, models.IncidentStatusInvestigating, reloaded.Status)
	require.Equal(t, []string{"log-1", "log-2"}, reloaded.LogIDs)
}

func TestIncidentRepo_GetMissing(t *testing.T) {
	client := testClient(t)
	_, err := client.Incidents.Get(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolutionRepo_ClaimIsExclusive(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	inc := newTestIncident("inc-claim-1")
	require.NoError(t, client.Incidents.Create(ctx, inc))
	require.NoError(t, client.Resolutions.Enqueue(ctx, &models.ResolutionRequest{
		IncidentID: inc.ID, State: models.ResolutionQueued, CreatedAt: time.Now().UTC(),
	}))

	first, err := client.Resolutions.Claim(ctx, inc.ID)
	require.NoError(t, err)
	require.Equal(t, models.ResolutionInFlight, first.State)

	_, err = client.Resolutions.Claim(ctx, inc.ID)
	require.ErrorIs(t, err, ErrNotFound, "a second claim on an already-IN_FLIGHT row must fail")

	require.NoError(t, client.Resolutions.Complete(ctx, inc.ID))
	final, err := client.Resolutions.Get(ctx, inc.ID)
	require.NoError(t, err)
	require.True(t, final.State.IsTerminal())
}

func TestMemoryRepo_UpsertAccumulates(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	rec := &models.MemoryRecord{
		Fingerprint: "fp-abc123", ErrorType: "timeout",
		KnownFixes: []string{"increase client timeout"}, ConfidenceScore: 40,
	}
	require.NoError(t, client.Memory.Upsert(ctx, rec, []float64{0.1, 0.2, 0.3}))

	rec2 := &models.MemoryRecord{
		Fingerprint: "fp-abc123", ErrorType: "timeout",
		KnownFixes: []string{"add retry with backoff"}, ConfidenceScore: 60,
	}
	require.NoError(t, client.Memory.Upsert(ctx, rec2, nil))

	got, err := client.Memory.Get(ctx, "fp-abc123")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"increase client timeout", "add retry with backoff"}, got.KnownFixes)
	require.Equal(t, 60, got.ConfidenceScore)
}

func TestKnowledgeRepo_IndexAndListCandidates(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	repoName := "checkout-service"

	require.NoError(t, client.Knowledge.Index(ctx, &KnowledgeRow{
		ID: "kn-1", Source: models.KnowledgeSourceCodePattern, RepoName: &repoName,
		Title: "retry helper", Content: "func WithRetry(...) error { ... }",
		Embedding: []float64{0.5, 0.5},
	}))

	rows, err := client.Knowledge.ListCandidates(ctx, models.KnowledgeSourceCodePattern, &repoName, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "retry helper", rows[0].Title)
}
