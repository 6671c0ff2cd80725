package models

import "time"

// TaskType enumerates the recognized task shapes on the incident bus topic
// (spec §4.D).
type TaskType string

const (
	TaskProcessLogEntry TaskType = "process_log_entry"
	TaskResolveIncident TaskType = "resolve_incident"
	TaskRCACursorSlack  TaskType = "rca_cursor_slack"
)

// Task is the JSON envelope published/consumed on the incident bus topic.
// Payload fields vary by Type; callers type-assert via the Task*Payload
// helpers below.
type Task struct {
	TaskType  TaskType       `json:"task_type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// ProcessLogEntryPayload is the payload of a process_log_entry task.
type ProcessLogEntryPayload struct {
	LogID string `json:"log_id"`
}

// ResolveIncidentPayload is the payload of a resolve_incident task.
type ResolveIncidentPayload struct {
	IncidentID        string `json:"incident_id"`
	RequestedByUserID string `json:"requested_by_user_id"`
}

// RCACursorSlackPayload is the payload of an rca_cursor_slack task.
type RCACursorSlackPayload struct {
	IncidentID string `json:"incident_id"`
	UserID     string `json:"user_id,omitempty"`
}
