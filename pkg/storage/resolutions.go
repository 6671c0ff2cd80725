package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentineld/resolveops/pkg/models"
)

// ResolutionRepo persists the ResolutionRequest ledger (spec §4.F).
type ResolutionRepo struct {
	pool *pgxpool.Pool
}

// Enqueue inserts a QUEUED ledger row for an incident, or is a no-op if one
// already exists (the at-most-one-active-per-incident invariant).
func (r *ResolutionRepo) Enqueue(ctx context.Context, req *models.ResolutionRequest) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO resolution_requests (
			incident_id, state, requested_by_user_id, requested_by_trigger,
			attempts, created_at
		) VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (incident_id) DO NOTHING
	`, req.IncidentID, req.State, req.RequestedByUserID, req.RequestedByTrigger, req.Attempts, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue resolution request: %w", err)
	}
	return nil
}

// Claim atomically transitions a QUEUED row to IN_FLIGHT and returns it,
// or ErrNotFound if the row is missing or already claimed — the
// compare-and-set that prevents two workers from claiming the same
// incident (spec §4.F, testable property 3).
func (r *ResolutionRepo) Claim(ctx context.Context, incidentID string) (*models.ResolutionRequest, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE resolution_requests
		SET state = 'IN_FLIGHT', claimed_at = now(), attempts = attempts + 1
		WHERE incident_id = $1 AND state = 'QUEUED'
		RETURNING incident_id, state, requested_by_user_id, requested_by_trigger,
			attempts, last_error, claimed_at, completed_at, created_at
	`, incidentID)

	req, err := scanResolutionRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return req, err
}

// Complete marks an IN_FLIGHT row COMPLETED.
func (r *ResolutionRepo) Complete(ctx context.Context, incidentID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE resolution_requests
		SET state = 'COMPLETED', completed_at = now()
		WHERE incident_id = $1
	`, incidentID)
	if err != nil {
		return fmt.Errorf("complete resolution request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail marks a row FAILED and records a bounded-length last_error.
func (r *ResolutionRepo) Fail(ctx context.Context, incidentID, lastError string) error {
	truncated := models.TruncateError(lastError)
	tag, err := r.pool.Exec(ctx, `
		UPDATE resolution_requests
		SET state = 'FAILED', completed_at = now(), last_error = $2
		WHERE incident_id = $1
	`, incidentID, truncated)
	if err != nil {
		return fmt.Errorf("fail resolution request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Requeue resets a row back to QUEUED for retry, recording the error that
// caused the prior attempt to fail.
func (r *ResolutionRepo) Requeue(ctx context.Context, incidentID, lastError string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE resolution_requests
		SET state = 'QUEUED', claimed_at = NULL, last_error = $2
		WHERE incident_id = $1
	`, incidentID, models.TruncateError(lastError))
	if err != nil {
		return fmt.Errorf("requeue resolution request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get fetches the ledger row for an incident.
func (r *ResolutionRepo) Get(ctx context.Context, incidentID string) (*models.ResolutionRequest, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT incident_id, state, requested_by_user_id, requested_by_trigger,
			attempts, last_error, claimed_at, completed_at, created_at
		FROM resolution_requests WHERE incident_id = $1
	`, incidentID)
	req, err := scanResolutionRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return req, err
}

func scanResolutionRequest(row rowScanner) (*models.ResolutionRequest, error) {
	var req models.ResolutionRequest
	err := row.Scan(
		&req.IncidentID, &req.State, &req.RequestedByUserID, &req.RequestedByTrigger,
		&req.Attempts, &req.LastError, &req.ClaimedAt, &req.CompletedAt, &req.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}
