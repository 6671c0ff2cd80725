package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentineld/resolveops/pkg/models"
)

// RunStatus is the lifecycle of one agent loop execution, persisted
// independent of the incident's own status so a run's history survives
// replans and retries (spec §4.J).
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusSkipped   RunStatus = "SKIPPED"
)

// AgentRun is the persisted snapshot of a single agent loop execution:
// its plan, workspace, and full event stream, for audit and for resuming
// after a worker restart.
type AgentRun struct {
	ID         string
	IncidentID string
	Status     RunStatus
	Plan       *models.Plan
	Workspace  *models.WorkspaceRecord
	Events     []models.Event
	CostUSD    float64
	StartedAt  time.Time
	FinishedAt *time.Time
}

// RunRepo persists AgentRun snapshots.
type RunRepo struct {
	pool *pgxpool.Pool
}

// Create inserts a new RUNNING run row.
func (r *RunRepo) Create(ctx context.Context, run *AgentRun) error {
	events, err := json.Marshal(run.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO agent_runs (id, incident_id, status, plan, workspace, events, cost_usd, started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, run.ID, run.IncidentID, run.Status, marshalOrNil(run.Plan), marshalOrNil(run.Workspace), events, run.CostUSD, run.StartedAt)
	if err != nil {
		return fmt.Errorf("create agent run: %w", err)
	}
	return nil
}

// Snapshot persists the current plan/workspace/event-stream state of a
// run in progress, called periodically by the agent loop so a crash
// loses at most one iteration's worth of state.
func (r *RunRepo) Snapshot(ctx context.Context, runID string, plan *models.Plan, ws *models.WorkspaceRecord, events []models.Event, costUSD float64) error {
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE agent_runs SET plan = $2, workspace = $3, events = $4, cost_usd = $5
		WHERE id = $1
	`, runID, marshalOrNil(plan), marshalOrNil(ws), eventsJSON, costUSD)
	if err != nil {
		return fmt.Errorf("snapshot agent run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Finish marks a run terminal.
func (r *RunRepo) Finish(ctx context.Context, runID string, status RunStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE agent_runs SET status = $2, finished_at = now() WHERE id = $1
	`, runID, status)
	if err != nil {
		return fmt.Errorf("finish agent run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get fetches one run snapshot.
func (r *RunRepo) Get(ctx context.Context, runID string) (*AgentRun, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, incident_id, status, plan, workspace, events, cost_usd, started_at, finished_at
		FROM agent_runs WHERE id = $1
	`, runID)
	return scanAgentRun(row)
}

// LatestForIncident returns the most recent run for an incident, if any.
func (r *RunRepo) LatestForIncident(ctx context.Context, incidentID string) (*AgentRun, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, incident_id, status, plan, workspace, events, cost_usd, started_at, finished_at
		FROM agent_runs WHERE incident_id = $1
		ORDER BY started_at DESC LIMIT 1
	`, incidentID)
	return scanAgentRun(row)
}

func scanAgentRun(row rowScanner) (*AgentRun, error) {
	var run AgentRun
	var plan, ws, events []byte

	err := row.Scan(&run.ID, &run.IncidentID, &run.Status, &plan, &ws, &events, &run.CostUSD, &run.StartedAt, &run.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent run: %w", err)
	}

	if len(plan) > 0 && string(plan) != "null" {
		run.Plan = &models.Plan{}
		if err := json.Unmarshal(plan, run.Plan); err != nil {
			return nil, fmt.Errorf("unmarshal plan: %w", err)
		}
	}
	if len(ws) > 0 && string(ws) != "null" {
		run.Workspace = &models.WorkspaceRecord{}
		if err := json.Unmarshal(ws, run.Workspace); err != nil {
			return nil, fmt.Errorf("unmarshal workspace: %w", err)
		}
	}
	if len(events) > 0 {
		if err := json.Unmarshal(events, &run.Events); err != nil {
			return nil, fmt.Errorf("unmarshal events: %w", err)
		}
	}

	return &run, nil
}

// marshalOrNil marshals v, returning nil for a nil *models.Plan or
// *models.WorkspaceRecord rather than the literal JSON string "null" —
// a plain `v == nil` check doesn't catch a typed nil pointer boxed in an
// any, so the concrete types are checked explicitly.
func marshalOrNil(v any) []byte {
	switch p := v.(type) {
	case *models.Plan:
		if p == nil {
			return nil
		}
	case *models.WorkspaceRecord:
		if p == nil {
			return nil
		}
	case nil:
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
