package resolution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sentineld/resolveops/pkg/models"
	"github.com/sentineld/resolveops/pkg/storage"
)

var (
	sharedCfg     storage.Config
	containerOnce sync.Once
	containerErr  error
)

// testClient returns a storage.Client backed by a shared postgres
// testcontainer, mirroring pkg/storage's own test setup.
func testClient(t *testing.T) *storage.Client {
	t.Helper()
	ctx := context.Background()

	cfg := getOrStartSharedPostgres(t)
	client, err := storage.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func getOrStartSharedPostgres(t *testing.T) storage.Config {
	t.Helper()

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
		sharedCfg = storage.Config{
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
		LogIDs: []string{"log-1"}, FirstSeenAt: now, LastSeenAt: now, CreatedAt: now,
	}
}

type fakePublisher struct {
	mu        sync.Mutex
	published []models.Task
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, task models.Task, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, task)
	return true
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func TestEnsureIncidentResolutionRequested_PublishesOnceForFreshIncident(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	inc := newTestIncident("inc-ledger-1")
	require.NoError(t, client.Incidents.Create(ctx, inc))

	pub := &fakePublisher{}
	ledger := New(client.Resolutions, pub, "resolve_incident", nil)

	queued, err := ledger.EnsureIncidentResolutionRequested(ctx, inc.ID, "user-1", "auto")
	require.NoError(t, err)
	require.True(t, queued)
	require.Equal(t, 1, pub.count())
}

func TestEnsureIncidentResolutionRequested_IsIdempotentWhileActive(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	inc := newTestIncident("inc-ledger-2")
	require.NoError(t, client.Incidents.Create(ctx, inc))

	pub := &fakePublisher{}
	ledger := New(client.Resolutions, pub, "resolve_incident", nil)

	first, err := ledger.EnsureIncidentResolutionRequested(ctx, inc.ID, "user-1", "auto")
	require.NoError(t, err)
	require.True(t, first)

	second, err := ledger.EnsureIncidentResolutionRequested(ctx, inc.ID, "user-1", "auto")
	require.NoError(t, err)
	require.False(t, second, "a QUEUED row must not be re-enqueued or re-published")
	require.Equal(t, 1, pub.count())
}

func TestEnsureIncidentResolutionRequested_RequeuesAfterTerminalState(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	inc := newTestIncident("inc-ledger-3")
	require.NoError(t, client.Incidents.Create(ctx, inc))

	pub := &fakePublisher{}
	ledger := New(client.Resolutions, pub, "resolve_incident", nil)

	_, err := ledger.EnsureIncidentResolutionRequested(ctx, inc.ID, "user-1", "auto")
	require.NoError(t, err)

	claimed, err := ledger.TryClaimIncidentResolution(ctx, inc.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, ledger.MarkIncidentResolutionFailed(ctx, inc.ID, "sandbox timeout"))

	requeued, err := ledger.EnsureIncidentResolutionRequested(ctx, inc.ID, "user-2", "manual")
	require.NoError(t, err)
	require.True(t, requeued, "a FAILED row is terminal, so a fresh request must be accepted")
	require.Equal(t, 2, pub.count())
}

func TestTryClaimIncidentResolution_ExclusiveAcrossWorkers(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	inc := newTestIncident("inc-ledger-4")
	require.NoError(t, client.Incidents.Create(ctx, inc))

	pub := &fakePublisher{}
	ledger := New(client.Resolutions, pub, "resolve_incident", nil)

	_, err := ledger.EnsureIncidentResolutionRequested(ctx, inc.ID, "user-1", "auto")
	require.NoError(t, err)

	first, err := ledger.TryClaimIncidentResolution(ctx, inc.ID)
	require.NoError(t, err)
	require.True(t, first)

	second, err := ledger.TryClaimIncidentResolution(ctx, inc.ID)
	require.NoError(t, err)
	require.False(t, second, "a second worker must not be able to claim an IN_FLIGHT request")
}

func TestMarkIncidentResolutionCompleted_SetsTerminalState(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	inc := newTestIncident("inc-ledger-5")
	require.NoError(t, client.Incidents.Create(ctx, inc))

	pub := &fakePublisher{}
	ledger := New(client.Resolutions, pub, "resolve_incident", nil)

	_, err := ledger.EnsureIncidentResolutionRequested(ctx, inc.ID, "user-1", "auto")
	require.NoError(t, err)
	claimed, err := ledger.TryClaimIncidentResolution(ctx, inc.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, ledger.MarkIncidentResolutionCompleted(ctx, inc.ID))

	req, err := client.Resolutions.Get(ctx, inc.ID)
	require.NoError(t, err)
	require.Equal(t, models.ResolutionCompleted, req.State)
}
