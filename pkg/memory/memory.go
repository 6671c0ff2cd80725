// Package memory is the per-fingerprint learning store (spec §4.B): what
// fixed this failure signature before, and what files the agent typically
// touches for it. Every public method is best-effort — memory is an
// optimization, never a dependency the resolution pipeline can block on.
package memory

import (
	"context"
	"log/slog"

	"github.com/sentineld/resolveops/pkg/models"
	"github.com/sentineld/resolveops/pkg/storage"
)

// WorkspaceContext captures what a successful run read and modified, for
// store_fix_with_workspace to learn from.
type WorkspaceContext struct {
	FilesRead     []string
	FilesModified []string
	ContextFiles  []string
	Changes       string
	IncidentID    string
}

// RetrievedContext is what retrieve_context surfaces to the planner.
type RetrievedContext struct {
	KnownFixes []string
	PastErrors []string
}

// LearningPattern is what get_learning_pattern surfaces, or nil.
type LearningPattern struct {
	TypicalFilesRead     []string
	TypicalFilesModified []string
	ConfidenceScore      int
}

// Store wraps the memory_records table with the swallow-and-log failure
// discipline the spec requires: a Postgres outage must never block an
// incident resolution.
type Store struct {
	repo *storage.MemoryRepo
	log  *slog.Logger
}

// New builds a Store over the given repository.
func New(repo *storage.MemoryRepo, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{repo: repo, log: log}
}

// RetrieveContext returns known fixes and past errors for a fingerprint,
// or a zero-value RetrievedContext if nothing is stored or the lookup
// fails.
func (s *Store) RetrieveContext(ctx context.Context, fingerprint string) RetrievedContext {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("memory.retrieve_context panicked", "recover", r, "fingerprint", fingerprint)
		}
	}()

	rec, err := s.repo.Get(ctx, fingerprint)
	if err != nil {
		if err != storage.ErrNotFound {
			s.log.Warn("memory.retrieve_context failed, proceeding without memory",
				"fingerprint", fingerprint, "error", err)
		}
		return RetrievedContext{}
	}

	return RetrievedContext{KnownFixes: rec.KnownFixes, PastErrors: rec.PastErrors}
}

// StoreFix idempotently appends a fix description to a fingerprint's
// known_fixes. Failures are logged and swallowed.
func (s *Store) StoreFix(ctx context.Context, fingerprint, errorType, description string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("memory.store_fix panicked", "recover", r, "fingerprint", fingerprint)
		}
	}()

	rec := &models.MemoryRecord{
		Fingerprint: fingerprint,
		ErrorType:   errorType,
		KnownFixes:  []string{description},
	}
	if err := s.repo.Upsert(ctx, rec, nil); err != nil {
		s.log.Warn("memory.store_fix failed", "fingerprint", fingerprint, "error", err)
	}
}

// StoreFixWithWorkspace stores a fix and the workspace context of the run
// that produced it, feeding get_learning_pattern's typical-files signal.
// patchBlob is accepted for shape-compatibility with the ledger's audit
// trail but is not itself persisted to memory — it belongs to the
// incident's PRInfo, not the reusable learning record.
func (s *Store) StoreFixWithWorkspace(ctx context.Context, fingerprint, errorType, description, patchBlob string, wc WorkspaceContext) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("memory.store_fix_with_workspace panicked", "recover", r, "fingerprint", fingerprint)
		}
	}()

	rec := &models.MemoryRecord{
		Fingerprint:          fingerprint,
		ErrorType:            errorType,
		KnownFixes:           []string{description},
		TypicalFilesRead:     wc.FilesRead,
		TypicalFilesModified: wc.FilesModified,
		ConfidenceScore:      confidenceFor(wc),
	}
	if err := s.repo.Upsert(ctx, rec, nil); err != nil {
		s.log.Warn("memory.store_fix_with_workspace failed",
			"fingerprint", fingerprint, "incident_id", wc.IncidentID, "error", err)
	}
}

// GetLearningPattern returns the typical files touched and confidence for
// an error type, or nil if none is recorded. Since memory_records is keyed
// by fingerprint rather than error type, this scans the most recently
// updated matching records and returns the union of their typical files.
func (s *Store) GetLearningPattern(ctx context.Context, errorType string) *LearningPattern {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("memory.get_learning_pattern panicked", "recover", r, "error_type", errorType)
		}
	}()

	records, _, err := s.repo.ListByErrorType(ctx, errorType, 20)
	if err != nil {
		s.log.Warn("memory.get_learning_pattern failed", "error_type", errorType, "error", err)
		return nil
	}
	if len(records) == 0 {
		return nil
	}

	readSeen := map[string]struct{}{}
	modifiedSeen := map[string]struct{}{}
	var confidenceSum, confidenceCount int
	for _, rec := range records {
		for _, f := range rec.TypicalFilesRead {
			readSeen[f] = struct{}{}
		}
		for _, f := range rec.TypicalFilesModified {
			modifiedSeen[f] = struct{}{}
		}
		if rec.ConfidenceScore > 0 {
			confidenceSum += rec.ConfidenceScore
			confidenceCount++
		}
	}

	pattern := &LearningPattern{
		TypicalFilesRead:     setToSlice(readSeen),
		TypicalFilesModified: setToSlice(modifiedSeen),
	}
	if confidenceCount > 0 {
		pattern.ConfidenceScore = confidenceSum / confidenceCount
	}
	return pattern
}

// confidenceFor derives a coarse confidence score from how much workspace
// signal a successful run produced: more files read/modified with a
// non-empty changes summary implies a more thoroughly-understood fix.
func confidenceFor(wc WorkspaceContext) int {
	score := 30
	if len(wc.FilesModified) > 0 {
		score += 30
	}
	if len(wc.FilesRead) > 0 {
		score += 20
	}
	if wc.Changes != "" {
		score += 20
	}
	if score > 100 {
		score = 100
	}
	return score
}

func setToSlice(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
