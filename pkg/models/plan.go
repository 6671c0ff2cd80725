package models

import "time"

// PlanStepStatus is the lifecycle of one PlanStep.
type PlanStepStatus string

const (
	PlanStepPending    PlanStepStatus = "PENDING"
	PlanStepInProgress PlanStepStatus = "IN_PROGRESS"
	PlanStepCompleted  PlanStepStatus = "COMPLETED"
	PlanStepFailed     PlanStepStatus = "FAILED"
	PlanStepSkipped    PlanStepStatus = "SKIPPED"
)

// PlanStep is one numbered unit of work in a Plan.
type PlanStep struct {
	StepNumber     int
	Description    string
	FilesToRead    []string
	ExpectedOutput string
	Status         PlanStepStatus
	Result         *string
	Errors         []string
	RetryCount     int
	StartedAt      *time.Time
	CompletedAt    *time.Time
	// Confidence is an additive field (SPEC_FULL §G) surfaced from the LLM's
	// plan JSON when present; zero value means "not reported".
	Confidence float64
}

// Plan is an ordered, append-only (except for replan-driven renumbering)
// sequence of PlanStep.
type Plan struct {
	Steps            []*PlanStep
	CurrentStepIndex int
	ReplanCount      int
}

// CurrentStep returns the step at CurrentStepIndex, or nil if the plan is
// complete or empty.
func (p *Plan) CurrentStep() *PlanStep {
	if p.CurrentStepIndex < 0 || p.CurrentStepIndex >= len(p.Steps) {
		return nil
	}
	return p.Steps[p.CurrentStepIndex]
}

// IsComplete reports whether every step has reached a terminal status.
func (p *Plan) IsComplete() bool {
	for _, s := range p.Steps {
		if s.Status == PlanStepPending || s.Status == PlanStepInProgress {
			return false
		}
	}
	return true
}

// AdvanceToNextStep moves CurrentStepIndex to the next PENDING step, if any.
func (p *Plan) AdvanceToNextStep() {
	for i := p.CurrentStepIndex + 1; i < len(p.Steps); i++ {
		if p.Steps[i].Status == PlanStepPending {
			p.CurrentStepIndex = i
			return
		}
	}
	p.CurrentStepIndex = len(p.Steps)
}

// HasFailedStep reports whether any step ended in FAILED, e.g. a critical
// error that advanced past the step instead of aborting the run. A plan
// can be IsComplete() (no PENDING/IN_PROGRESS steps left) while still
// containing a FAILED step, so callers must check both before declaring
// a run successful.
func (p *Plan) HasFailedStep() bool {
	for _, s := range p.Steps {
		if s.Status == PlanStepFailed {
			return true
		}
	}
	return false
}

// Progress returns (completed, total) step counts.
func (p *Plan) Progress() (completed, total int) {
	total = len(p.Steps)
	for _, s := range p.Steps {
		if s.Status == PlanStepCompleted {
			completed++
		}
	}
	return completed, total
}
