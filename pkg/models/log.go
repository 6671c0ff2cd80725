// Package models defines the core domain types shared across the incident
// resolution pipeline: log entries, incidents, resolution requests, plans,
// the event stream, workspace state, and knowledge/memory records.
package models

import "time"

// Severity is the normalized log/incident severity level.
type Severity string

const (
	SeverityTrace    Severity = "TRACE"
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
	SeverityUnknown  Severity = "UNKNOWN"
)

// IsActionable reports whether a log at this severity should trigger
// incident creation/merge (spec §4.E step 3).
func (s Severity) IsActionable() bool {
	return s == SeverityError || s == SeverityCritical
}

// IncidentSeverity is the coarse severity bucket carried on an Incident.
// Distinct from LogEntry.Severity, which is per-message.
type IncidentSeverity string

const (
	IncidentSeverityLow      IncidentSeverity = "LOW"
	IncidentSeverityMedium   IncidentSeverity = "MEDIUM"
	IncidentSeverityHigh     IncidentSeverity = "HIGH"
	IncidentSeverityCritical IncidentSeverity = "CRITICAL"
)

// rank orders severities so escalation can be compared monotonically.
var incidentSeverityRank = map[IncidentSeverity]int{
	IncidentSeverityLow:      -1,
	IncidentSeverityMedium:   0,
	IncidentSeverityHigh:     1,
	IncidentSeverityCritical: 2,
}

// Escalate returns the higher of the two severities. Never downgrades,
// satisfying the §3 invariant that incident severity escalates only upward.
func (s IncidentSeverity) Escalate(other IncidentSeverity) IncidentSeverity {
	if incidentSeverityRank[other] > incidentSeverityRank[s] {
		return other
	}
	return s
}

// LogEntry is immutable after ingest; the core only reads it.
type LogEntry struct {
	ID            string
	Timestamp     time.Time
	ServiceName   string
	Severity      Severity
	Message       string
	Source        string
	UserID        string
	IntegrationID *string
	Metadata      map[string]any
}

// StackFrame is one frame of a parsed stack trace, extracted from
// LogEntry.Metadata by callers that need path-level detail (the agent loop's
// affected-file extraction, the external-code guard, the ticket adapter's
// stack trace rendering).
type StackFrame struct {
	FilePath string
	Function string
	Line     int
}

// Span is one entry of a distributed trace, used by the ticket adapter's
// enhanced description (execution flow tree, span table).
type Span struct {
	SpanID       string
	ParentSpanID string
	Name         string
	DurationMS   int64
	StatusCode   int
}
