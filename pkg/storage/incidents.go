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

// ErrNotFound is returned by repository lookups that find no matching row.
var ErrNotFound = errors.New("storage: not found")

// IncidentRepo persists models.Incident rows.
type IncidentRepo struct {
	pool *pgxpool.Pool
}

// Create inserts a new incident row.
func (r *IncidentRepo) Create(ctx context.Context, inc *models.Incident) error {
	triggerEvent, err := json.Marshal(inc.TriggerEvent)
	if err != nil {
		return fmt.Errorf("marshal trigger_event: %w", err)
	}
	metadata, err := json.Marshal(inc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	pr, err := json.Marshal(inc.PR)
	if err != nil {
		return fmt.Errorf("marshal pr_info: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO incidents (
			id, title, description, severity, status, service_name, source, user_id,
			integration_id, repo_name, log_ids, trigger_event, metadata,
			root_cause, action_taken, code_fix_explanation, pr_info,
			first_seen_at, last_seen_at, created_at, resolved_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`,
		inc.ID, inc.Title, inc.Description, inc.Severity, inc.Status, inc.ServiceName, inc.Source, inc.UserID,
		inc.IntegrationID, inc.RepoName, inc.LogIDs, triggerEvent, metadata,
		inc.RootCause, inc.ActionTaken, inc.CodeFixExplanation, pr,
		inc.FirstSeenAt, inc.LastSeenAt, inc.CreatedAt, inc.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// Update persists every mutable field of an existing incident row.
func (r *IncidentRepo) Update(ctx context.Context, inc *models.Incident) error {
	metadata, err := json.Marshal(inc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	pr, err := json.Marshal(inc.PR)
	if err != nil {
		return fmt.Errorf("marshal pr_info: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE incidents SET
			title = $2, description = $3, severity = $4, status = $5,
			log_ids = $6, metadata = $7, root_cause = $8, action_taken = $9,
			code_fix_explanation = $10, pr_info = $11, last_seen_at = $12,
			resolved_at = $13
		WHERE id = $1
	`,
		inc.ID, inc.Title, inc.Description, inc.Severity, inc.Status,
		inc.LogIDs, metadata, inc.RootCause, inc.ActionTaken,
		inc.CodeFixExplanation, pr, inc.LastSeenAt, inc.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get fetches a single incident by ID.
func (r *IncidentRepo) Get(ctx context.Context, id string) (*models.Incident, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, title, description, severity, status, service_name, source, user_id,
			integration_id, repo_name, log_ids, trigger_event, metadata,
			root_cause, action_taken, code_fix_explanation, pr_info,
			first_seen_at, last_seen_at, created_at, resolved_at
		FROM incidents WHERE id = $1
	`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inc, err
}

// FindOpenForDedup returns open/investigating/healing incidents for a
// service that could be merge targets for a new log entry (spec §4.E
// dedup window), most-recently-seen first.
func (r *IncidentRepo) FindOpenForDedup(ctx context.Context, serviceName string, limit int) ([]*models.Incident, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, description, severity, status, service_name, source, user_id,
			integration_id, repo_name, log_ids, trigger_event, metadata,
			root_cause, action_taken, code_fix_explanation, pr_info,
			first_seen_at, last_seen_at, created_at, resolved_at
		FROM incidents
		WHERE service_name = $1 AND status IN ('OPEN', 'INVESTIGATING', 'HEALING')
		ORDER BY last_seen_at DESC
		LIMIT $2
	`, serviceName, limit)
	if err != nil {
		return nil, fmt.Errorf("query open incidents: %w", err)
	}
	defer rows.Close()

	var out []*models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var inc models.Incident
	var triggerEvent, metadata, pr []byte

	err := row.Scan(
		&inc.ID, &inc.Title, &inc.Description, &inc.Severity, &inc.Status,
		&inc.ServiceName, &inc.Source, &inc.UserID, &inc.IntegrationID, &inc.RepoName,
		&inc.LogIDs, &triggerEvent, &metadata,
		&inc.RootCause, &inc.ActionTaken, &inc.CodeFixExplanation, &pr,
		&inc.FirstSeenAt, &inc.LastSeenAt, &inc.CreatedAt, &inc.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(triggerEvent) > 0 {
		if err := json.Unmarshal(triggerEvent, &inc.TriggerEvent); err != nil {
			return nil, fmt.Errorf("unmarshal trigger_event: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &inc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(pr) > 0 && string(pr) != "null" {
		inc.PR = &models.PRInfo{}
		if err := json.Unmarshal(pr, inc.PR); err != nil {
			return nil, fmt.Errorf("unmarshal pr_info: %w", err)
		}
	}

	return &inc, nil
}
