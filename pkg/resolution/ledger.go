// Package resolution implements the ResolutionRequest ledger (spec §4.F):
// the at-most-one-active-attempt-per-incident state machine gating the
// agent loop, and the claim that is the only cross-worker synchronization
// primitive the rest of the system needs.
package resolution

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sentineld/resolveops/pkg/models"
	"github.com/sentineld/resolveops/pkg/storage"
)

// Publisher schedules a resolve_incident task, keyed for per-incident FIFO.
// Implemented by *bus.Gateway; kept as a narrow interface to avoid a
// dependency cycle between pkg/resolution and pkg/bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, task models.Task, key string) bool
}

// Ledger wraps storage.ResolutionRepo with the spec's state-machine
// operations and backoff-retried persistence (spec §5 "database
// operations in §4.F use retry-with-backoff").
type Ledger struct {
	repo      *storage.ResolutionRepo
	publisher Publisher
	topic     string
	log       *slog.Logger
}

// New builds a Ledger publishing resolve_incident tasks to topic.
func New(repo *storage.ResolutionRepo, publisher Publisher, topic string, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{repo: repo, publisher: publisher, topic: topic, log: log}
}

// EnsureIncidentResolutionRequested inserts a fresh QUEUED row (or resets
// a terminal one) and publishes a resolve_incident task. A row already in
// QUEUED or IN_FLIGHT is left untouched — idempotent. Returns whether a
// new task was actually published.
func (l *Ledger) EnsureIncidentResolutionRequested(ctx context.Context, incidentID, requestedByUserID, trigger string) (bool, error) {
	existing, err := withRetry(ctx, func() (*models.ResolutionRequest, error) {
		return l.repo.Get(ctx, incidentID)
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}

	if existing != nil && !existing.State.IsTerminal() {
		return false, nil
	}

	req := &models.ResolutionRequest{
		IncidentID: incidentID, State: models.ResolutionQueued,
		RequestedByUserID: requestedByUserID, RequestedByTrigger: trigger,
		CreatedAt: time.Now().UTC(),
	}
	if existing == nil {
		if _, err := withRetry(ctx, func() (struct{}, error) {
			return struct{}{}, l.repo.Enqueue(ctx, req)
		}); err != nil {
			return false, err
		}
	} else {
		if _, err := withRetry(ctx, func() (struct{}, error) {
			return struct{}{}, l.repo.Requeue(ctx, incidentID, "")
		}); err != nil {
			return false, err
		}
	}

	published := l.publisher.Publish(ctx, l.topic, models.Task{
		TaskType: models.TaskResolveIncident,
		Payload: map[string]any{
			"incident_id":          incidentID,
			"requested_by_user_id": requestedByUserID,
		},
		CreatedAt: time.Now().UTC(),
	}, incidentID)

	return published, nil
}

// TryClaimIncidentResolution is the atomic compare-and-set from QUEUED to
// IN_FLIGHT. Exactly one concurrent caller wins; all others get false and
// must drop the task as a duplicate.
func (l *Ledger) TryClaimIncidentResolution(ctx context.Context, incidentID string) (bool, error) {
	_, err := withRetry(ctx, func() (*models.ResolutionRequest, error) {
		return l.repo.Claim(ctx, incidentID)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkIncidentResolutionCompleted transitions IN_FLIGHT to COMPLETED.
func (l *Ledger) MarkIncidentResolutionCompleted(ctx context.Context, incidentID string) error {
	_, err := withRetry(ctx, func() (struct{}, error) {
		return struct{}{}, l.repo.Complete(ctx, incidentID)
	})
	return err
}

// MarkIncidentResolutionFailed transitions to FAILED from any state,
// recording a bounded-length error. Per spec §4.F, if the ledger update
// itself fails post-claim the incident is considered FAILED regardless —
// callers should log that divergence but not retry indefinitely.
func (l *Ledger) MarkIncidentResolutionFailed(ctx context.Context, incidentID, errMsg string) error {
	_, err := withRetry(ctx, func() (struct{}, error) {
		return struct{}{}, l.repo.Fail(ctx, incidentID, errMsg)
	})
	return err
}

// withRetry runs op with exponential backoff, bounded to a few seconds —
// ledger operations must not stall a worker indefinitely on a flaky DB.
func withRetry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	var result T
	var lastErr error

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(), 5), ctx)

	err := backoff.Retry(func() error {
		var err error
		result, err = op()
		if errors.Is(err, storage.ErrNotFound) {
			lastErr = err
			return nil // not retryable — a legitimate "no such row"
		}
		lastErr = err
		return err
	}, policy)

	if err != nil {
		return result, err
	}
	return result, lastErr
}

