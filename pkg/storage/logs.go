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

// LogRepo reads ingested log entries. The core never writes this table —
// ingestion is an upstream concern (spec §3 "owned by ingestion, not this
// core").
type LogRepo struct {
	pool *pgxpool.Pool
}

// Get fetches a log entry by ID, or ErrNotFound.
func (r *LogRepo) Get(ctx context.Context, id string) (*models.LogEntry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, "timestamp", service_name, severity, message, source, user_id, integration_id, metadata
		FROM log_entries WHERE id = $1
	`, id)

	var log models.LogEntry
	var metadata []byte
	err := row.Scan(&log.ID, &log.Timestamp, &log.ServiceName, &log.Severity, &log.Message,
		&log.Source, &log.UserID, &log.IntegrationID, &metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get log entry: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &log.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal log metadata: %w", err)
		}
	}
	return &log, nil
}
