package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentineld/resolveops/pkg/models"
)

// MemoryRepo persists per-fingerprint MemoryRecord rows (spec §4.B).
type MemoryRepo struct {
	pool *pgxpool.Pool
}

// Get fetches the accumulated record for a fingerprint, or ErrNotFound.
func (r *MemoryRepo) Get(ctx context.Context, fingerprint string) (*models.MemoryRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT fingerprint, error_type, known_fixes, past_errors,
			typical_files_read, typical_files_modified, confidence_score
		FROM memory_records WHERE fingerprint = $1
	`, fingerprint)

	var rec models.MemoryRecord
	err := row.Scan(
		&rec.Fingerprint, &rec.ErrorType, &rec.KnownFixes, &rec.PastErrors,
		&rec.TypicalFilesRead, &rec.TypicalFilesModified, &rec.ConfidenceScore,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory record: %w", err)
	}
	return &rec, nil
}

// Upsert inserts or merges a MemoryRecord, appending new fixes/errors/files
// rather than overwriting (spec §4.B "accumulating, never overwriting").
func (r *MemoryRepo) Upsert(ctx context.Context, rec *models.MemoryRecord, embedding []float64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO memory_records (
			fingerprint, error_type, known_fixes, past_errors,
			typical_files_read, typical_files_modified, confidence_score, embedding
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (fingerprint) DO UPDATE SET
			error_type = EXCLUDED.error_type,
			known_fixes = array(SELECT DISTINCT unnest(memory_records.known_fixes || EXCLUDED.known_fixes)),
			past_errors = memory_records.past_errors || EXCLUDED.past_errors,
			typical_files_read = array(SELECT DISTINCT unnest(memory_records.typical_files_read || EXCLUDED.typical_files_read)),
			typical_files_modified = array(SELECT DISTINCT unnest(memory_records.typical_files_modified || EXCLUDED.typical_files_modified)),
			confidence_score = EXCLUDED.confidence_score,
			embedding = COALESCE(EXCLUDED.embedding, memory_records.embedding),
			updated_at = now()
	`,
		rec.Fingerprint, rec.ErrorType, rec.KnownFixes, rec.PastErrors,
		rec.TypicalFilesRead, rec.TypicalFilesModified, rec.ConfidenceScore, embedding,
	)
	if err != nil {
		return fmt.Errorf("upsert memory record: %w", err)
	}
	return nil
}

// ListByErrorType returns candidate memory records sharing an error type,
// bounded to limit, for downstream cosine-similarity ranking.
func (r *MemoryRepo) ListByErrorType(ctx context.Context, errorType string, limit int) ([]*models.MemoryRecord, []([]float64), error) {
	rows, err := r.pool.Query(ctx, `
		SELECT fingerprint, error_type, known_fixes, past_errors,
			typical_files_read, typical_files_modified, confidence_score, embedding
		FROM memory_records WHERE error_type = $1
		ORDER BY updated_at DESC LIMIT $2
	`, errorType, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("list memory records: %w", err)
	}
	defer rows.Close()

	var records []*models.MemoryRecord
	var embeddings [][]float64
	for rows.Next() {
		var rec models.MemoryRecord
		var embedding []float64
		if err := rows.Scan(
			&rec.Fingerprint, &rec.ErrorType, &rec.KnownFixes, &rec.PastErrors,
			&rec.TypicalFilesRead, &rec.TypicalFilesModified, &rec.ConfidenceScore, &embedding,
		); err != nil {
			return nil, nil, fmt.Errorf("scan memory record: %w", err)
		}
		records = append(records, &rec)
		embeddings = append(embeddings, embedding)
	}
	return records, embeddings, rows.Err()
}
