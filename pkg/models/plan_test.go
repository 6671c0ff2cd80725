package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlan_IsComplete_FalseWhilePendingOrInProgress(t *testing.T) {
	plan := &Plan{Steps: []*PlanStep{
		{Status: PlanStepCompleted},
		{Status: PlanStepPending},
	}}
	assert.False(t, plan.IsComplete())

	plan.Steps[1].Status = PlanStepInProgress
	assert.False(t, plan.IsComplete())

	plan.Steps[1].Status = PlanStepFailed
	assert.True(t, plan.IsComplete())
}

func TestPlan_HasFailedStep(t *testing.T) {
	plan := &Plan{Steps: []*PlanStep{
		{Status: PlanStepCompleted},
		{Status: PlanStepSkipped},
	}}
	assert.False(t, plan.HasFailedStep())

	plan.Steps[1].Status = PlanStepFailed
	assert.True(t, plan.HasFailedStep())
}

func TestPlan_AdvanceToNextStep_SkipsNonPendingSteps(t *testing.T) {
	plan := &Plan{Steps: []*PlanStep{
		{Status: PlanStepCompleted},
		{Status: PlanStepFailed},
		{Status: PlanStepPending},
	}, CurrentStepIndex: 0}

	plan.AdvanceToNextStep()
	assert.Equal(t, 2, plan.CurrentStepIndex)

	plan.AdvanceToNextStep()
	assert.Equal(t, 3, plan.CurrentStepIndex, "no more PENDING steps left")
}
