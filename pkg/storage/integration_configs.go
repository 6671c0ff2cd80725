package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentineld/resolveops/pkg/models"
)

// IntegrationConfigRepo reads configured Integration rows (distinct from
// IntegrationRepo, which caches runtime health — this is the static
// per-user configuration the reducer resolves repo_name from).
type IntegrationConfigRepo struct {
	pool *pgxpool.Pool
}

// Get fetches a single integration by ID.
func (r *IntegrationConfigRepo) Get(ctx context.Context, id string) (*models.Integration, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, kind, active, service_mappings, repo_name, repository, project_id
		FROM integrations WHERE id = $1
	`, id)
	integ, err := scanIntegration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return integ, err
}

// ListActiveForUser returns every active integration for a user, used by
// the reducer's auto-assignment and GitHub-fallback lookups.
func (r *IntegrationConfigRepo) ListActiveForUser(ctx context.Context, userID string) ([]*models.Integration, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, kind, active, service_mappings, repo_name, repository, project_id
		FROM integrations WHERE user_id = $1 AND active = true
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list active integrations: %w", err)
	}
	defer rows.Close()

	var out []*models.Integration
	for rows.Next() {
		integ, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, integ)
	}
	return out, rows.Err()
}

// BatchGet fetches multiple integrations in one round trip, avoiding the
// N+1 pattern the reducer's per-task integration cache guards against
// (spec §4.E "a single batch fetch is allowed when multiple IDs are known
// ahead").
func (r *IntegrationConfigRepo) BatchGet(ctx context.Context, ids []string) (map[string]*models.Integration, error) {
	if len(ids) == 0 {
		return map[string]*models.Integration{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, kind, active, service_mappings, repo_name, repository, project_id
		FROM integrations WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("batch get integrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*models.Integration, len(ids))
	for rows.Next() {
		integ, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out[integ.ID] = integ
	}
	return out, rows.Err()
}

func scanIntegration(row rowScanner) (*models.Integration, error) {
	var integ models.Integration
	var serviceMappings []byte
	err := row.Scan(&integ.ID, &integ.UserID, &integ.Kind, &integ.Active,
		&serviceMappings, &integ.RepoName, &integ.Repository, &integ.ProjectID)
	if err != nil {
		return nil, err
	}
	if len(serviceMappings) > 0 {
		if err := json.Unmarshal(serviceMappings, &integ.ServiceMappings); err != nil {
			return nil, fmt.Errorf("unmarshal service_mappings: %w", err)
		}
	}
	return &integ, nil
}
