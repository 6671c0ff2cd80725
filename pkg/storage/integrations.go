package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IntegrationStatus is the cached health of one external adapter
// (repo host, ticketing, chat — spec §4.L), checked before each use so a
// degraded integration doesn't block the resolution pipeline.
type IntegrationStatus struct {
	IntegrationID string
	Kind          string
	Healthy       bool
	LastError     *string
}

// IntegrationRepo persists integration health snapshots.
type IntegrationRepo struct {
	pool *pgxpool.Pool
}

// Upsert records the latest health check result for an integration.
func (r *IntegrationRepo) Upsert(ctx context.Context, status IntegrationStatus) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO integration_status (integration_id, kind, healthy, last_error, last_checked_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (integration_id) DO UPDATE SET
			healthy = EXCLUDED.healthy,
			last_error = EXCLUDED.last_error,
			last_checked_at = now()
	`, status.IntegrationID, status.Kind, status.Healthy, status.LastError)
	if err != nil {
		return fmt.Errorf("upsert integration status: %w", err)
	}
	return nil
}

// Get fetches the cached health of one integration.
func (r *IntegrationRepo) Get(ctx context.Context, integrationID string) (*IntegrationStatus, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT integration_id, kind, healthy, last_error FROM integration_status WHERE integration_id = $1
	`, integrationID)

	var status IntegrationStatus
	err := row.Scan(&status.IntegrationID, &status.Kind, &status.Healthy, &status.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get integration status: %w", err)
	}
	return &status, nil
}
