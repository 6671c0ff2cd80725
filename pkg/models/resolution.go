package models

import "time"

// ResolutionState is the lifecycle of a ResolutionRequest ledger row.
// Allowed transitions: QUEUED→IN_FLIGHT→{COMPLETED, FAILED}, and
// QUEUED→FAILED.
type ResolutionState string

const (
	ResolutionQueued    ResolutionState = "QUEUED"
	ResolutionInFlight  ResolutionState = "IN_FLIGHT"
	ResolutionCompleted ResolutionState = "COMPLETED"
	ResolutionFailed    ResolutionState = "FAILED"
)

// IsTerminal reports whether the state will never change again without a
// new resolution being requested.
func (s ResolutionState) IsTerminal() bool {
	return s == ResolutionCompleted || s == ResolutionFailed
}

// ResolutionRequest is the at-most-one-per-incident ledger row tracking a
// single active resolution attempt.
type ResolutionRequest struct {
	IncidentID        string
	State             ResolutionState
	RequestedByUserID string
	RequestedByTrigger string
	Attempts          int
	LastError         *string
	ClaimedAt         *time.Time
	CompletedAt       *time.Time
	CreatedAt         time.Time
}

// MaxLastErrorLen bounds the stored last_error text (spec §4.F).
const MaxLastErrorLen = 2000

// TruncateError bounds err to MaxLastErrorLen runes, matching the ledger's
// "truncated to a bounded length" contract.
func TruncateError(err string) string {
	if len(err) <= MaxLastErrorLen {
		return err
	}
	return err[:MaxLastErrorLen] + "...(truncated)"
}
