package models

import "time"

// IncidentStatus tracks the lifecycle DAG described in spec §3:
// OPEN → INVESTIGATING → HEALING → {RESOLVED, FAILED}; OPEN may go directly
// to FAILED.
type IncidentStatus string

const (
	IncidentStatusOpen          IncidentStatus = "OPEN"
	IncidentStatusInvestigating IncidentStatus = "INVESTIGATING"
	IncidentStatusHealing       IncidentStatus = "HEALING"
	IncidentStatusResolved      IncidentStatus = "RESOLVED"
	IncidentStatusFailed        IncidentStatus = "FAILED"
)

// validIncidentTransitions encodes the allowed status DAG.
var validIncidentTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentStatusOpen:          {IncidentStatusInvestigating, IncidentStatusHealing, IncidentStatusFailed},
	IncidentStatusInvestigating: {IncidentStatusHealing, IncidentStatusFailed},
	IncidentStatusHealing:       {IncidentStatusResolved, IncidentStatusFailed},
}

// CanTransitionTo reports whether moving from s to next is a legal edge in
// the incident status DAG.
func (s IncidentStatus) CanTransitionTo(next IncidentStatus) bool {
	for _, allowed := range validIncidentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PRInfo captures the outcome of a successful repo-host pull request.
type PRInfo struct {
	URL               string
	Number            int
	FilesChanged      []string
	OriginalContents  map[string]string // path → pre-edit content, for rollback/audit
}

// TriggerEvent is a snapshot of the log entry that created or last updated
// an incident, preserved for audit/telemetry independent of log_ids.
type TriggerEvent struct {
	LogID   string
	Message string
	Level   Severity
}

// Incident is the central mutable aggregate of the reducer and resolution
// subsystems.
type Incident struct {
	ID                 string
	Title              string
	Description        string
	Severity           IncidentSeverity
	Status             IncidentStatus
	ServiceName        string
	Source             string
	UserID             string
	IntegrationID      *string
	RepoName           *string
	LogIDs             []string
	TriggerEvent       TriggerEvent
	Metadata           map[string]any
	FirstSeenAt        time.Time
	LastSeenAt         time.Time
	CreatedAt          time.Time
	ResolvedAt         *time.Time
	RootCause          *string
	ActionTaken        *string
	CodeFixExplanation *string
	PR                 *PRInfo
}

// AppendLogID appends id to LogIDs if not already present, preserving order
// and uniqueness per the §3 invariant. Returns true if the id was newly
// added.
func (inc *Incident) AppendLogID(id string) bool {
	for _, existing := range inc.LogIDs {
		if existing == id {
			return false
		}
	}
	inc.LogIDs = append(inc.LogIDs, id)
	return true
}

// Touch advances LastSeenAt to now if now is later, preserving the
// monotonic-non-decreasing invariant even if called with a stale timestamp.
func (inc *Incident) Touch(now time.Time) {
	if now.After(inc.LastSeenAt) {
		inc.LastSeenAt = now
	}
}

// MergeMetadata merges new key/value pairs into the incident's metadata,
// with new values overwriting on key collision (spec §4.E step 5).
func (inc *Incident) MergeMetadata(newMeta map[string]any) {
	if inc.Metadata == nil {
		inc.Metadata = make(map[string]any, len(newMeta))
	}
	for k, v := range newMeta {
		inc.Metadata[k] = v
	}
}
