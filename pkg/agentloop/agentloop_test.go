package agentloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentineld/resolveops/pkg/models"
	"github.com/sentineld/resolveops/pkg/planner"
	"github.com/sentineld/resolveops/pkg/sandbox"
)

func TestClassifyError(t *testing.T) {
	assert.Equal(t, errorRetryable, classifyError("not_found"))
	assert.Equal(t, errorRetryable, classifyError("validation_failed"))
	assert.Equal(t, errorNonRetryable, classifyError("invalid_argument"))
	assert.Equal(t, errorCritical, classifyError("internal"))
	assert.Equal(t, errorRetryable, classifyError("something_unmodeled"))
}

func TestIsRepeatedFileNotFound(t *testing.T) {
	assert.True(t, isRepeatedFileNotFound("not_found", "file not found: a.go", "not_found", "file not found: a.go"))
	assert.False(t, isRepeatedFileNotFound("not_found", "file not found: a.go", "not_found", "file not found: b.go"))
	assert.False(t, isRepeatedFileNotFound("validation_failed", "x", "not_found", "x"))
}

func TestExtractAffectedFiles_FindsFileShapedTokens(t *testing.T) {
	files := extractAffectedFiles("panic in pkg/checkout/handler.go caused by a nil pointer, see also config.yaml")
	assert.Contains(t, files, "pkg/checkout/handler.go")
	assert.Contains(t, files, "config.yaml")
}

func TestExtractAffectedFiles_DeduplicatesAndHandlesNoMatches(t *testing.T) {
	files := extractAffectedFiles("a.go failed, a.go failed again")
	assert.Equal(t, []string{"a.go"}, files)

	assert.Empty(t, extractAffectedFiles("generic failure with no file names"))
}

func TestMergeUnique_DropsDuplicatesAcrossAllLists(t *testing.T) {
	out := mergeUnique([]string{"a.go"}, []string{"a.go", "b.go"}, []string{"b.go", "c.go"})
	assert.Equal(t, []string{"a.go", "b.go", "c.go"}, out)
}

func TestExternalCodeGuard_BlocksVendorPaths(t *testing.T) {
	blocked, path := externalCodeGuard([]string{"pkg/foo.go", "vendor/lib/bar.go"})
	assert.True(t, blocked)
	assert.Equal(t, "vendor/lib/bar.go", path)
}

func TestExternalCodeGuard_AllowsOrdinaryPaths(t *testing.T) {
	blocked, _ := externalCodeGuard([]string{"pkg/foo.go", "cmd/api/main.go"})
	assert.False(t, blocked)
}

func TestParseAction_ParsesToolCall(t *testing.T) {
	call, complete, err := ParseAction(`{"tool": "read_file", "arguments": {"path": "a.go"}}`)
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Equal(t, "read_file", call.Name)
	assert.Equal(t, "a.go", call.Arguments["path"])
}

func TestParseAction_ParsesCompletion(t *testing.T) {
	_, complete, err := ParseAction(`{"complete": true}`)
	require.NoError(t, err)
	assert.True(t, complete)
}

func TestParseAction_ErrorsOnNeitherToolNorComplete(t *testing.T) {
	_, _, err := ParseAction(`{}`)
	assert.Error(t, err)
}

func TestParseAction_ErrorsOnInvalidJSON(t *testing.T) {
	_, _, err := ParseAction(`not json`)
	assert.Error(t, err)
}

func TestStatusRegistry_TryStartRejectsDuplicate(t *testing.T) {
	r := NewStatusRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.True(t, r.TryStart("inc-1", cancel))
	assert.False(t, r.TryStart("inc-1", cancel))
	assert.Equal(t, StatusWorking, r.Status())
	_ = ctx
}

func TestStatusRegistry_FinishAllowsRestart(t *testing.T) {
	r := NewStatusRegistry()
	_, cancel := context.WithCancel(context.Background())
	r.TryStart("inc-1", cancel)
	r.Finish("inc-1")
	assert.Equal(t, StatusAvailable, r.Status())
	assert.True(t, r.TryStart("inc-1", cancel))
}

func TestStatusRegistry_DisableCancelsActiveRuns(t *testing.T) {
	r := NewStatusRegistry()
	cancelled := false
	r.TryStart("inc-1", func() { cancelled = true })
	r.Disable()
	assert.True(t, cancelled)
	assert.Equal(t, StatusDisabled, r.Status())
	assert.False(t, r.TryStart("inc-2", func() {}))
}

func TestActionSelector_SignatureCompatibleWithSandboxToolCall(t *testing.T) {
	var selector ActionSelector = func(ctx context.Context, prompt string) (sandbox.ToolCall, bool, error) {
		return sandbox.ToolCall{Name: "read_file"}, false, nil
	}
	call, complete, err := selector(context.Background(), "prompt")
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Equal(t, "read_file", call.Name)
}

func testLoop(t *testing.T) *Loop {
	t.Helper()
	return &Loop{planner: planner.New(nil, nil), cfg: Config{}.withDefaults()}
}

func TestHandleStepFailure_NonRetryableRetriesOnceBeforeFailing(t *testing.T) {
	l := testLoop(t)
	plan := &models.Plan{Steps: []*models.PlanStep{{StepNumber: 1, Status: models.PlanStepInProgress}}}
	step := plan.Steps[0]
	var prevType, prevMsg string
	consecutive := 0

	ok := l.handleStepFailure(plan, step, "invalid_argument", "bad input", &prevType, &prevMsg, &consecutive)
	assert.True(t, ok, "first non-retryable failure should retry once")
	assert.Equal(t, models.PlanStepPending, step.Status)
	assert.Equal(t, 1, step.RetryCount)

	ok = l.handleStepFailure(plan, step, "invalid_argument", "bad input again", &prevType, &prevMsg, &consecutive)
	assert.True(t, ok, "replan on a fresh planner should succeed and keep the run going")
	assert.Equal(t, models.PlanStepFailed, step.Status)
}

func TestHandleStepFailure_CriticalErrorAdvancesInsteadOfAborting(t *testing.T) {
	l := testLoop(t)
	plan := &models.Plan{Steps: []*models.PlanStep{
		{StepNumber: 1, Status: models.PlanStepInProgress},
		{StepNumber: 2, Status: models.PlanStepPending},
	}}
	step := plan.Steps[0]
	var prevType, prevMsg string
	consecutive := 0

	ok := l.handleStepFailure(plan, step, "internal", "panic: nil pointer", &prevType, &prevMsg, &consecutive)
	assert.True(t, ok, "a critical error must not abort the run")
	assert.Equal(t, models.PlanStepFailed, step.Status)
}

func TestHandleStepFailure_ReplansAfterThreeConsecutiveFailures(t *testing.T) {
	l := testLoop(t)
	plan := &models.Plan{Steps: []*models.PlanStep{{StepNumber: 1, Status: models.PlanStepInProgress}}}
	step := plan.Steps[0]
	var prevType, prevMsg string
	consecutive := 0

	// not_found is retryable and MaxRetriesPerStep defaults to 3, so use
	// distinct messages each time to avoid tripping the repeated-file-not-found
	// path and isolate the consecutive-failure counter.
	ok := l.handleStepFailure(plan, step, "not_found", "missing a.go", &prevType, &prevMsg, &consecutive)
	assert.True(t, ok)
	assert.Equal(t, 1, consecutive)

	ok = l.handleStepFailure(plan, step, "not_found", "missing b.go", &prevType, &prevMsg, &consecutive)
	assert.True(t, ok)
	assert.Equal(t, 2, consecutive)

	ok = l.handleStepFailure(plan, step, "not_found", "missing c.go", &prevType, &prevMsg, &consecutive)
	assert.True(t, ok, "replan on a fresh planner should succeed")
	assert.Equal(t, 0, consecutive, "a successful replan resets the counter")
}

func TestHandleStepFailure_RetryableRetriesUnderBudget(t *testing.T) {
	l := testLoop(t)
	plan := &models.Plan{Steps: []*models.PlanStep{{StepNumber: 1, Status: models.PlanStepInProgress}}}
	step := plan.Steps[0]
	var prevType, prevMsg string
	consecutive := 0

	ok := l.handleStepFailure(plan, step, "not_found", "missing a.go", &prevType, &prevMsg, &consecutive)
	assert.True(t, ok)
	assert.Equal(t, models.PlanStepPending, step.Status)
	assert.Equal(t, 1, step.RetryCount)
}

func TestClassifyExternalCode_AllFramesVendoredTrips(t *testing.T) {
	inc := &models.Incident{Metadata: map[string]any{
		"stack_frames": []any{
			map[string]any{"file_path": "vendor/github.com/foo/bar.go", "function": "Do", "line": float64(10)},
		},
	}}
	blocked, path := classifyExternalCode(inc, nil)
	assert.True(t, blocked)
	assert.Equal(t, "vendor/github.com/foo/bar.go", path)
}

func TestClassifyExternalCode_OneOwnFrameDoesNotTrip(t *testing.T) {
	inc := &models.Incident{Metadata: map[string]any{
		"stack_frames": []any{
			map[string]any{"file_path": "vendor/github.com/foo/bar.go"},
			map[string]any{"file_path": "pkg/checkout/handler.go"},
		},
	}}
	blocked, _ := classifyExternalCode(inc, nil)
	assert.False(t, blocked)
}

func TestClassifyExternalCode_FallsBackToAffectedFiles(t *testing.T) {
	inc := &models.Incident{}
	blocked, path := classifyExternalCode(inc, []string{"vendor/lib/bar.go"})
	assert.True(t, blocked)
	assert.Equal(t, "vendor/lib/bar.go", path)
}

func TestCodeFixExplanation_StartsWithExpectedHeading(t *testing.T) {
	explanation := codeFixExplanation("vendor/lib/bar.go")
	assert.Contains(t, explanation, "## Why we didn't auto-resolve this incident")
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 50, cfg.MaxIterations)
	assert.Equal(t, 180*time.Second, cfg.StepTimeout)
	assert.Equal(t, 1200*time.Second, cfg.OverallTimeout)
	assert.Equal(t, 3, cfg.MaxRetriesPerStep)
}
