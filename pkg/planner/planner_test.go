package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentineld/resolveops/pkg/models"
)

func TestCreatePlan_NoLLMUsesFallback(t *testing.T) {
	p := New(nil, nil)
	plan := p.CreatePlan(context.Background(), "nil pointer in checkout handler", []string{"checkout.go"}, "")
	require.Len(t, plan.Steps, 5)
	assert.Equal(t, "checkout.go", plan.Steps[0].FilesToRead[0])
	assert.Equal(t, models.PlanStepPending, plan.Steps[0].Status)
}

func TestCreatePlan_ParsesLLMJSONArray(t *testing.T) {
	complete := func(ctx context.Context, system, user string, maxTokens int64) (string, error) {
		return `[{"description":"read logs","files_to_read":["a.go"],"expected_output":"root cause","confidence":0.8}]`, nil
	}
	p := New(complete, nil)
	plan := p.CreatePlan(context.Background(), "boom", nil, "")
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "read logs", plan.Steps[0].Description)
	assert.Equal(t, 0.8, plan.Steps[0].Confidence)
}

func TestCreatePlan_ParsesFencedCodeBlock(t *testing.T) {
	complete := func(ctx context.Context, system, user string, maxTokens int64) (string, error) {
		return "Here is the plan:\n```json\n[{\"description\":\"check metrics\"}]\n```", nil
	}
	p := New(complete, nil)
	plan := p.CreatePlan(context.Background(), "boom", nil, "")
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "check metrics", plan.Steps[0].Description)
}

func TestCreatePlan_RepairsTrailingComma(t *testing.T) {
	complete := func(ctx context.Context, system, user string, maxTokens int64) (string, error) {
		return `[{"description":"a"},{"description":"b"},]`, nil
	}
	p := New(complete, nil)
	plan := p.CreatePlan(context.Background(), "boom", nil, "")
	require.Len(t, plan.Steps, 2)
}

func TestCreatePlan_FallsBackOnLLMError(t *testing.T) {
	complete := func(ctx context.Context, system, user string, maxTokens int64) (string, error) {
		return "", errors.New("provider unavailable")
	}
	p := New(complete, nil)
	plan := p.CreatePlan(context.Background(), "boom", nil, "")
	require.Len(t, plan.Steps, 5)
}

func TestCreatePlan_FallsBackOnUnparseableResponse(t *testing.T) {
	complete := func(ctx context.Context, system, user string, maxTokens int64) (string, error) {
		return "I cannot help with that.", nil
	}
	p := New(complete, nil)
	plan := p.CreatePlan(context.Background(), "boom", nil, "")
	require.Len(t, plan.Steps, 5)
}

func TestCreatePlan_RepairsInvalidEscapeSequence(t *testing.T) {
	complete := func(ctx context.Context, system, user string, maxTokens int64) (string, error) {
		return "```json\n[{\"description\":\"match errors with \\d+ retries\"}]\n```", nil
	}
	p := New(complete, nil)
	plan := p.CreatePlan(context.Background(), "boom", nil, "")
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, `match errors with \d+ retries`, plan.Steps[0].Description)
}

func TestReplan_RepairsInvalidEscapeAndPreservesCompletedSteps(t *testing.T) {
	plan := &models.Plan{Steps: []*models.PlanStep{
		{StepNumber: 1, Description: "read files", Status: models.PlanStepCompleted},
		{StepNumber: 2, Description: "apply fix", Status: models.PlanStepFailed},
	}}

	complete := func(ctx context.Context, system, user string, maxTokens int64) (string, error) {
		return "```json\n[{\"description\":\"read files\"},{\"description\":\"match on \\d+ occurrences\"}]\n```", nil
	}
	p := New(complete, nil)

	err := p.Replan(context.Background(), plan, "fix did not compile", "syntax error at line 10", "")
	require.NoError(t, err)

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "read files", plan.Steps[0].Description)
	assert.Equal(t, models.PlanStepCompleted, plan.Steps[0].Status)
	assert.Equal(t, `match on \d+ occurrences`, plan.Steps[1].Description)
	assert.Equal(t, 1, plan.ReplanCount)
}

func TestReplan_PreservesCompletedSteps(t *testing.T) {
	plan := &models.Plan{Steps: []*models.PlanStep{
		{StepNumber: 1, Description: "read files", Status: models.PlanStepCompleted},
		{StepNumber: 2, Description: "apply fix", Status: models.PlanStepFailed},
	}}

	complete := func(ctx context.Context, system, user string, maxTokens int64) (string, error) {
		return `[{"description":"read files"},{"description":"apply a different fix"}]`, nil
	}
	p := New(complete, nil)

	err := p.Replan(context.Background(), plan, "fix did not compile", "syntax error at line 10", "")
	require.NoError(t, err)

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "read files", plan.Steps[0].Description)
	assert.Equal(t, models.PlanStepCompleted, plan.Steps[0].Status)
	assert.Equal(t, "apply a different fix", plan.Steps[1].Description)
	assert.Equal(t, 2, plan.Steps[1].StepNumber)
	assert.Equal(t, 1, plan.ReplanCount)
	assert.Equal(t, 1, plan.CurrentStepIndex)
}

func TestReplan_ExceedsMaxReplansReturnsError(t *testing.T) {
	plan := &models.Plan{ReplanCount: MaxReplans}
	p := New(nil, nil)
	err := p.Replan(context.Background(), plan, "still broken", "", "")
	assert.Error(t, err)
}

func TestMarkStepInProgress_StampsStart(t *testing.T) {
	step := &models.PlanStep{Status: models.PlanStepPending}
	now := time.Now().UTC()
	MarkStepInProgress(step, now)
	assert.Equal(t, models.PlanStepInProgress, step.Status)
	require.NotNil(t, step.StartedAt)
	assert.Equal(t, now, *step.StartedAt)
}

func TestMarkStepCompleted_RecordsResult(t *testing.T) {
	step := &models.PlanStep{Status: models.PlanStepInProgress}
	now := time.Now().UTC()
	MarkStepCompleted(step, "fix applied", now)
	assert.Equal(t, models.PlanStepCompleted, step.Status)
	require.NotNil(t, step.Result)
	assert.Equal(t, "fix applied", *step.Result)
}

func TestMarkStepFailed_AppendsError(t *testing.T) {
	step := &models.PlanStep{Status: models.PlanStepInProgress}
	now := time.Now().UTC()
	MarkStepFailed(step, "compile error", now)
	MarkStepFailed(step, "compile error again", now)
	assert.Equal(t, models.PlanStepFailed, step.Status)
	assert.Equal(t, []string{"compile error", "compile error again"}, step.Errors)
}
