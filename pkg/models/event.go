package models

import "time"

// EventType enumerates the kinds of entries appended to an incident's
// EventStream (spec §3 EventStream, §4.H).
type EventType string

const (
	EventUserRequest       EventType = "USER_REQUEST"
	EventAgentAction       EventType = "AGENT_ACTION"
	EventObservation       EventType = "OBSERVATION"
	EventPlanCreated       EventType = "PLAN_CREATED"
	EventPlanUpdated       EventType = "PLAN_UPDATED"
	EventPlanStepStarted   EventType = "PLAN_STEP_STARTED"
	EventPlanStepCompleted EventType = "PLAN_STEP_COMPLETED"
	EventPlanStepFailed    EventType = "PLAN_STEP_FAILED"
	EventError             EventType = "ERROR"
	EventMemoryRetrieved   EventType = "MEMORY_RETRIEVED"
	EventKnowledgeRetrieved EventType = "KNOWLEDGE_RETRIEVED"
	EventValidationResult  EventType = "VALIDATION_RESULT"
	EventFileOperation     EventType = "FILE_OPERATION"
	EventWorkspaceUpdated  EventType = "WORKSPACE_UPDATED"
	EventCompression       EventType = "COMPRESSION"
)

// Event is one append-only entry in an incident's EventStream.
type Event struct {
	Type        EventType
	UTCTimestamp time.Time
	AgentName   string // optional, empty if not applicable
	Data        map[string]any
	IncidentID  string
}

// KnowledgeSource identifies where a KnowledgeItem came from.
type KnowledgeSource string

const (
	KnowledgeSourcePastFix       KnowledgeSource = "past_fix"
	KnowledgeSourceCodePattern   KnowledgeSource = "code_pattern"
	KnowledgeSourceDocumentation KnowledgeSource = "documentation"
)

// KnowledgeItem is a single retrieved reference consulted by the planner
// and agent loop.
type KnowledgeItem struct {
	Content        string
	Source         KnowledgeSource
	RelevanceScore float64 // 0..1
	Metadata       map[string]any
}

// MemoryRecord is the persistent per-fingerprint record of prior outcomes.
type MemoryRecord struct {
	Fingerprint           string
	ErrorType             string
	KnownFixes            []string
	PastErrors            []string
	TypicalFilesRead      []string
	TypicalFilesModified  []string
	ConfidenceScore       int // 0..100
}
