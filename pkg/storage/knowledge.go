package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentineld/resolveops/pkg/models"
)

// KnowledgeRow is a persisted knowledge item: a chunk of codebase pattern,
// past-fix writeup, or documentation, embedded for similarity retrieval
// (spec §4.C). It carries fields models.KnowledgeItem doesn't need once
// retrieved (ID, Path, embedding) — callers convert the subset they need
// via ToKnowledgeItem after ranking.
type KnowledgeRow struct {
	ID        string
	Source    models.KnowledgeSource
	RepoName  *string
	Path      *string
	Title     string
	Content   string
	Embedding []float64
	Metadata  map[string]any
}

// ToKnowledgeItem converts a ranked row into the model surfaced to the
// planner and agent loop.
func (k *KnowledgeRow) ToKnowledgeItem(relevanceScore float64) models.KnowledgeItem {
	return models.KnowledgeItem{
		Content:        k.Content,
		Source:         k.Source,
		RelevanceScore: relevanceScore,
		Metadata:       k.Metadata,
	}
}

// KnowledgeRepo persists KnowledgeRow entries.
type KnowledgeRepo struct {
	pool *pgxpool.Pool
}

// Index inserts a knowledge row, replacing any existing row with the same
// ID (re-indexing is idempotent per spec §4.C index_codebase_patterns).
func (r *KnowledgeRepo) Index(ctx context.Context, row *KnowledgeRow) error {
	metadata, err := json.Marshal(row.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO knowledge_items (id, source, repo_name, path, title, content, embedding, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata
	`, row.ID, row.Source, row.RepoName, row.Path, row.Title, row.Content, row.Embedding, metadata)
	if err != nil {
		return fmt.Errorf("index knowledge row: %w", err)
	}
	return nil
}

// ListCandidates returns up to limit rows for a source/repo scope, for the
// caller to rank by cosine similarity against a query embedding.
func (r *KnowledgeRepo) ListCandidates(ctx context.Context, source models.KnowledgeSource, repoName *string, limit int) ([]*KnowledgeRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, source, repo_name, path, title, content, embedding, metadata
		FROM knowledge_items
		WHERE source = $1 AND ($2::text IS NULL OR repo_name = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, source, repoName, limit)
	if err != nil {
		return nil, fmt.Errorf("list knowledge candidates: %w", err)
	}
	defer rows.Close()

	var out []*KnowledgeRow
	for rows.Next() {
		row := &KnowledgeRow{}
		var metadata []byte
		if err := rows.Scan(&row.ID, &row.Source, &row.RepoName, &row.Path, &row.Title, &row.Content, &row.Embedding, &metadata); err != nil {
			return nil, fmt.Errorf("scan knowledge row: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &row.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeleteByRepo removes every indexed row for a repo (used when a repo is
// re-indexed from scratch).
func (r *KnowledgeRepo) DeleteByRepo(ctx context.Context, repoName string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM knowledge_items WHERE repo_name = $1`, repoName)
	if err != nil {
		return fmt.Errorf("delete knowledge rows for repo: %w", err)
	}
	return nil
}
