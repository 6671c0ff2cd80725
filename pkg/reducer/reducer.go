// Package reducer implements the log→incident reducer (spec §4.E): the
// dedup/merge/create algorithm that turns a stream of actionable log
// entries into incident lifecycle state, and the handoff into the
// resolution request ledger.
package reducer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sentineld/resolveops/pkg/models"
	"github.com/sentineld/resolveops/pkg/storage"
	"github.com/sentineld/resolveops/pkg/telemetry"
)

// dedupWindow is how far back the merge lookup searches for an open
// incident to fold a new log entry into (spec §4.E step 4).
const dedupWindow = 3 * time.Minute

// TitleGenerator produces a short title/description pair for a new
// incident. Implemented by the LLM client; any failure must fall back to
// the spec's fixed template, which TitleAndDescription (below) does on
// the caller's behalf.
type TitleGenerator interface {
	GenerateIncidentTitle(ctx context.Context, log *models.LogEntry) (title, description string, err error)
}

// TicketCreator schedules ticket creation for a newly created incident.
// Implemented by pkg/adapters/ticket; kept narrow to avoid an import
// cycle.
type TicketCreator interface {
	ScheduleCreateIssue(ctx context.Context, incident *models.Incident) (scheduled bool)
	CreateIssueSync(ctx context.Context, incident *models.Incident) (ticketID string, err error)
}

// Ledger is the subset of pkg/resolution.Ledger the reducer drives.
type Ledger interface {
	EnsureIncidentResolutionRequested(ctx context.Context, incidentID, requestedByUserID, trigger string) (bool, error)
}

// Reducer wires storage, title generation, ticketing, and the resolution
// ledger into the process_log_entry handler.
type Reducer struct {
	logs         *storage.LogRepo
	incidents    *storage.IncidentRepo
	integrations *storage.IntegrationRepo
	configs      *storage.IntegrationConfigRepo
	titles       TitleGenerator
	tickets      TicketCreator
	ledger       Ledger
	log          *slog.Logger

	now func() time.Time
}

// New builds a Reducer.
func New(
	logs *storage.LogRepo,
	incidents *storage.IncidentRepo,
	integrations *storage.IntegrationRepo,
	configs *storage.IntegrationConfigRepo,
	titles TitleGenerator,
	tickets TicketCreator,
	ledger Ledger,
	log *slog.Logger,
) *Reducer {
	if log == nil {
		log = slog.Default()
	}
	return &Reducer{
		logs: logs, incidents: incidents, integrations: integrations, configs: configs,
		titles: titles, tickets: tickets, ledger: ledger, log: log, now: func() time.Time { return time.Now().UTC() },
	}
}

// ProcessLogEntry implements the full spec §4.E algorithm for one
// process_log_entry(log_id) task.
func (r *Reducer) ProcessLogEntry(ctx context.Context, logID string) error {
	entry, err := r.logs.Get(ctx, logID)
	if err != nil {
		if err == storage.ErrNotFound {
			r.log.Warn("process_log_entry: log entry missing, dropping", "log_id", logID)
			return nil
		}
		return fmt.Errorf("load log entry: %w", err)
	}

	if entry.IntegrationID != nil {
		if err := r.integrations.Upsert(ctx, storage.IntegrationStatus{
			IntegrationID: *entry.IntegrationID, Healthy: true,
		}); err != nil {
			r.log.Warn("process_log_entry: integration status update failed", "integration_id", *entry.IntegrationID, "error", err)
		}
	}

	if !entry.Severity.IsActionable() {
		telemetry.RecordLogProcessed("ignored")
		return nil
	}

	now := r.now()
	window := now.Add(-dedupWindow)

	candidates, err := r.incidents.FindOpenForDedup(ctx, entry.ServiceName, 20)
	if err != nil {
		return fmt.Errorf("find open incidents: %w", err)
	}

	var target *models.Incident
	for _, cand := range candidates {
		if cand.Source == entry.Source && cand.UserID == entry.UserID && !cand.LastSeenAt.Before(window) {
			target = cand
			break
		}
	}

	if target != nil {
		telemetry.RecordLogProcessed("merged")
		return r.merge(ctx, target, entry, now)
	}
	telemetry.RecordLogProcessed("created")
	return r.create(ctx, entry, now)
}

// merge folds a log entry into an existing open incident (spec §4.E step 5).
func (r *Reducer) merge(ctx context.Context, inc *models.Incident, entry *models.LogEntry, now time.Time) error {
	inc.Touch(now)
	inc.AppendLogID(entry.ID)

	if inc.IntegrationID == nil {
		inc.IntegrationID = entry.IntegrationID
	} else if resolved, ok := r.autoAssignIntegration(ctx, entry.UserID, inc); ok {
		inc.IntegrationID = &resolved
	}

	if inc.RepoName == nil {
		if repoName, ok := r.resolveRepoName(ctx, entry.UserID, inc.ServiceName, inc.IntegrationID); ok {
			inc.RepoName = &repoName
		}
	}

	inc.MergeMetadata(entry.Metadata)

	if entry.Severity == models.SeverityCritical {
		inc.Severity = inc.Severity.Escalate(models.IncidentSeverityCritical)
	}

	if err := r.incidents.Update(ctx, inc); err != nil {
		return fmt.Errorf("update merged incident: %w", err)
	}

	if inc.RootCause == nil {
		if _, err := r.ledger.EnsureIncidentResolutionRequested(ctx, inc.ID, entry.UserID, "incident_updated_from_log"); err != nil {
			r.log.Warn("merge: ensure resolution requested failed", "incident_id", inc.ID, "error", err)
		}
	}
	return nil
}

// create starts a new incident from a log entry with no merge target
// (spec §4.E step 6).
func (r *Reducer) create(ctx context.Context, entry *models.LogEntry, now time.Time) error {
	title, description := r.generateTitleAndDescription(ctx, entry)

	severity := models.IncidentSeverityMedium
	if entry.Severity == models.SeverityCritical {
		severity = models.IncidentSeverityHigh
	}

	var integrationID *string
	if entry.IntegrationID != nil {
		integrationID = entry.IntegrationID
	}
	var repoName *string
	if resolved, ok := r.resolveRepoName(ctx, entry.UserID, entry.ServiceName, integrationID); ok {
		repoName = &resolved
	}

	inc := &models.Incident{
		ID: uuid.NewString(), Title: title, Description: description,
		Severity: severity, Status: models.IncidentStatusOpen,
		ServiceName: entry.ServiceName, Source: entry.Source, UserID: entry.UserID,
		IntegrationID: integrationID, RepoName: repoName,
		LogIDs: []string{entry.ID},
		TriggerEvent: models.TriggerEvent{LogID: entry.ID, Message: entry.Message, Level: entry.Severity},
		Metadata:     entry.Metadata,
		FirstSeenAt:  now, LastSeenAt: now, CreatedAt: now,
	}

	if err := r.incidents.Create(ctx, inc); err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	telemetry.RecordIncidentCreated(string(severity))

	r.scheduleTicketCreation(ctx, inc, entry.UserID)

	if _, err := r.ledger.EnsureIncidentResolutionRequested(ctx, inc.ID, entry.UserID, "incident_created_from_log"); err != nil {
		r.log.Warn("create: ensure resolution requested failed", "incident_id", inc.ID, "error", err)
	}
	return nil
}

// generateTitleAndDescription calls the title-generation adapter, falling
// back to the spec's fixed template on any failure.
func (r *Reducer) generateTitleAndDescription(ctx context.Context, entry *models.LogEntry) (title, description string) {
	if r.titles != nil {
		if t, d, err := r.titles.GenerateIncidentTitle(ctx, entry); err == nil && t != "" {
			return t, d
		} else if err != nil {
			r.log.Warn("title generation failed, using fallback template", "log_id", entry.ID, "error", err)
		}
	}

	msg := entry.Message
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Sprintf("Detected %s in %s", entry.Severity, entry.ServiceName), msg
}

// scheduleTicketCreation prefers an asynchronous path, falling back to
// synchronous creation if scheduling itself fails (spec §4.E step 6,
// grounded on original_source's async-schedule-else-sync-fallback
// pattern).
func (r *Reducer) scheduleTicketCreation(ctx context.Context, inc *models.Incident, userID string) {
	if r.tickets == nil {
		return
	}

	if r.tickets.ScheduleCreateIssue(ctx, inc) {
		return
	}

	ticketID, err := r.tickets.CreateIssueSync(ctx, inc)
	if err != nil {
		r.log.Warn("ticket creation failed synchronously too", "incident_id", inc.ID, "error", err)
		return
	}
	inc.MergeMetadata(map[string]any{"ticket_id": ticketID})
	if err := r.incidents.Update(ctx, inc); err != nil {
		r.log.Warn("failed to persist ticket_id onto incident", "incident_id", inc.ID, "error", err)
	}
}

// resolveRepoName applies the spec's resolution order: first the known
// integration's mapping, falling back to the user's GitHub integration.
func (r *Reducer) resolveRepoName(ctx context.Context, userID, serviceName string, integrationID *string) (string, bool) {
	if integrationID != nil {
		if integ, err := r.configs.Get(ctx, *integrationID); err == nil {
			if repo, ok := integ.ResolveRepoName(serviceName); ok {
				return repo, true
			}
		}
	}

	integrations, err := r.configs.ListActiveForUser(ctx, userID)
	if err != nil {
		r.log.Warn("resolve_repo_name: list integrations failed", "user_id", userID, "error", err)
		return "", false
	}
	for _, integ := range integrations {
		if integ.Kind != models.IntegrationKindGitHub {
			continue
		}
		if repo, ok := integ.ResolveRepoName(serviceName); ok {
			return repo, true
		}
	}
	return "", false
}

// autoAssignIntegration picks the first active integration for the user
// that doesn't contradict the incident's existing service mapping (spec
// §4.E step 5's "preferring one without service_mappings that contradicts").
func (r *Reducer) autoAssignIntegration(ctx context.Context, userID string, inc *models.Incident) (string, bool) {
	integrations, err := r.configs.ListActiveForUser(ctx, userID)
	if err != nil {
		r.log.Warn("auto_assign_integration: list integrations failed", "user_id", userID, "error", err)
		return "", false
	}

	for _, integ := range integrations {
		if repo, ok := integ.ServiceMappings[inc.ServiceName]; ok {
			if inc.RepoName != nil && repo != *inc.RepoName {
				continue // contradicts the incident's existing repo mapping
			}
		}
		return integ.ID, true
	}
	return "", false
}
