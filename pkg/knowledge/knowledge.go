// Package knowledge retrieves codebase patterns, past fixes, and
// documentation relevant to an incident (spec §4.C). Candidates are
// fetched by coarse filter (source, repo, recency) and ranked in Go by
// cosine similarity against query embeddings — no vector extension, per
// the teacher pack's plain-float-slice embedding shape.
package knowledge

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/sentineld/resolveops/pkg/models"
	"github.com/sentineld/resolveops/pkg/storage"
)

// candidatePoolSize bounds how many rows are pulled per coarse filter
// before ranking, keeping retrieve_relevant_knowledge O(poolSize) instead
// of a full table scan.
const candidatePoolSize = 200

// Embedder produces a query embedding for a piece of text. Implemented by
// the LLM client; kept as a narrow interface here to avoid a dependency
// cycle between pkg/knowledge and pkg/llm.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Retriever wraps the knowledge_items table with similarity ranking and
// the indexing entry points.
type Retriever struct {
	repo     *storage.KnowledgeRepo
	embedder Embedder
	log      *slog.Logger

	indexQueue chan indexJob
}

type indexJob struct {
	row *storage.KnowledgeRow
}

// New builds a Retriever with a bounded background indexing worker pool
// (spec §5 "Knowledge Retriever is allowed to index asynchronously").
func New(repo *storage.KnowledgeRepo, embedder Embedder, log *slog.Logger, workers int) *Retriever {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = 2
	}

	r := &Retriever{
		repo:       repo,
		embedder:   embedder,
		log:        log,
		indexQueue: make(chan indexJob, 1024),
	}
	for i := 0; i < workers; i++ {
		go r.indexWorker()
	}
	return r
}

func (r *Retriever) indexWorker() {
	for job := range r.indexQueue {
		ctx := context.Background()
		if err := r.repo.Index(ctx, job.row); err != nil {
			r.log.Warn("knowledge index job failed", "id", job.row.ID, "error", err)
		}
	}
}

// IndexCodebasePatterns schedules each file path for indexing as a
// code_pattern knowledge row. Idempotent: re-indexing a path replaces its
// row. Fire-and-forget — a full backing queue drops the job and logs,
// rather than blocking the caller.
func (r *Retriever) IndexCodebasePatterns(ctx context.Context, repoName string, filePaths []string, contentByPath map[string]string) {
	for _, path := range filePaths {
		content := contentByPath[path]
		embedding, err := r.embedder.Embed(ctx, content)
		if err != nil {
			r.log.Warn("embed codebase pattern failed, indexing without embedding", "path", path, "error", err)
		}
		row := &storage.KnowledgeRow{
			ID: "pattern:" + repoName + ":" + path, Source: models.KnowledgeSourceCodePattern,
			RepoName: &repoName, Path: &path, Title: path, Content: content, Embedding: embedding,
		}
		r.scheduleIndex(row)
	}
}

// IndexPastFixes appends resolved-incident fix writeups to the vector
// store for future retrieval.
func (r *Retriever) IndexPastFixes(ctx context.Context, fixes []PastFix) {
	for _, fix := range fixes {
		embedding, err := r.embedder.Embed(ctx, fix.Description)
		if err != nil {
			r.log.Warn("embed past fix failed, indexing without embedding", "incident_id", fix.IncidentID, "error", err)
		}
		row := &storage.KnowledgeRow{
			ID: "fix:" + fix.IncidentID, Source: models.KnowledgeSourcePastFix,
			Title: fix.Title, Content: fix.Description, Embedding: embedding,
			Metadata: map[string]any{"incident_id": fix.IncidentID},
		}
		r.scheduleIndex(row)
	}
}

func (r *Retriever) scheduleIndex(row *storage.KnowledgeRow) {
	select {
	case r.indexQueue <- indexJob{row: row}:
	default:
		r.log.Warn("knowledge index queue full, dropping job", "id", row.ID)
	}
}

// PastFix is one resolved incident's fix writeup, ready for indexing.
type PastFix struct {
	IncidentID  string
	Title       string
	Description string
}

// RetrieveRelevantKnowledge returns up to k items across every source,
// ordered by descending relevance, or an empty slice on any failure.
func (r *Retriever) RetrieveRelevantKnowledge(ctx context.Context, query string, k int) []models.KnowledgeItem {
	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.log.Warn("retrieve_relevant_knowledge embed failed", "error", err)
		return nil
	}

	var ranked []rankedItem
	for _, source := range []models.KnowledgeSource{
		models.KnowledgeSourceCodePattern, models.KnowledgeSourcePastFix, models.KnowledgeSourceDocumentation,
	} {
		rows, err := r.repo.ListCandidates(ctx, source, nil, candidatePoolSize)
		if err != nil {
			r.log.Warn("retrieve_relevant_knowledge list failed", "source", source, "error", err)
			continue
		}
		ranked = append(ranked, rankRows(rows, queryEmbedding)...)
	}

	return topK(ranked, k)
}

// RetrieveForPlanning returns knowledge relevant to a root cause and the
// files implicated by it — used by the planner to seed plan steps.
func (r *Retriever) RetrieveForPlanning(ctx context.Context, rootCause string, affectedFiles []string) []models.KnowledgeItem {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("retrieve_for_planning panicked", "recover", rec)
		}
	}()

	query := rootCause
	for _, f := range affectedFiles {
		query += " " + f
	}
	return r.RetrieveRelevantKnowledge(ctx, query, 10)
}

type rankedItem struct {
	row   *storage.KnowledgeRow
	score float64
}

func rankRows(rows []*storage.KnowledgeRow, queryEmbedding []float64) []rankedItem {
	out := make([]rankedItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, rankedItem{row: row, score: cosineSimilarity(queryEmbedding, row.Embedding)})
	}
	return out
}

func topK(items []rankedItem, k int) []models.KnowledgeItem {
	sort.Slice(items, func(i, j int) bool { return items[i].score > items[j].score })
	if k > len(items) {
		k = len(items)
	}
	if k < 0 {
		k = 0
	}

	out := make([]models.KnowledgeItem, 0, k)
	for _, item := range items[:k] {
		out = append(out, item.row.ToKnowledgeItem(item.score))
	}
	return out
}

// cosineSimilarity returns 0 for mismatched or empty vectors rather than
// erroring — a missing embedding just sorts last.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
