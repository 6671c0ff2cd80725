package models

import "time"

// Note is one entry in a Workspace's notes list.
type Note struct {
	Text      string
	Category  string
	Timestamp time.Time
}

// WorkspaceRecord is the persisted snapshot of a Workspace on completion
// (spec §3 Workspace ownership: "serialized to a persistent WorkspaceRecord
// on completion").
type WorkspaceRecord struct {
	IncidentID string
	Files      map[string]string // file_path → content
	Plan       *Plan
	Notes      []Note
	UpdatedAt  time.Time
}
