// Package agentloop implements the plan/act/observe execution loop (spec
// §4.J): preparation (memory + knowledge retrieval, plan creation),
// external-code guard, the single-action-per-iteration loop itself with
// its retry/replan policy, and post-run bookkeeping.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sentineld/resolveops/pkg/eventstream"
	"github.com/sentineld/resolveops/pkg/fingerprint"
	"github.com/sentineld/resolveops/pkg/knowledge"
	"github.com/sentineld/resolveops/pkg/memory"
	"github.com/sentineld/resolveops/pkg/models"
	"github.com/sentineld/resolveops/pkg/planner"
	"github.com/sentineld/resolveops/pkg/resolution"
	"github.com/sentineld/resolveops/pkg/sandbox"
	"github.com/sentineld/resolveops/pkg/storage"
	"github.com/sentineld/resolveops/pkg/telemetry"
	"github.com/sentineld/resolveops/pkg/workspace"
)

// Config bounds one run per spec §6's agent-loop environment variables.
type Config struct {
	MaxIterations     int           // MAX_AGENT_ITERATIONS, default 50
	StepTimeout       time.Duration // AGENT_STEP_TIMEOUT, default 180s
	OverallTimeout    time.Duration // CREW_EXECUTION_TIMEOUT, default 1200s
	MaxRetriesPerStep int           // MAX_RETRIES_PER_STEP, default 3
	SandboxTimeout    time.Duration // CODE_EXECUTION_TIMEOUT, default 30s
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 50
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 180 * time.Second
	}
	if c.OverallTimeout <= 0 {
		c.OverallTimeout = 1200 * time.Second
	}
	if c.MaxRetriesPerStep <= 0 {
		c.MaxRetriesPerStep = 3
	}
	if c.SandboxTimeout <= 0 {
		c.SandboxTimeout = sandbox.DefaultTimeout
	}
	return c
}

// ActionSelector picks the next tool call given the current workspace and
// plan step context. Implemented by pkg/llm.Client via an adapter
// closure constructed in cmd/*'s wiring.
type ActionSelector func(ctx context.Context, prompt string) (sandbox.ToolCall, complete bool, err error)

// RepoWorkspace pairs a sandbox.RepoReader with the validator the
// sandbox uses for validate_code, and the repo name being worked in.
type RepoWorkspace struct {
	RepoName  string
	Reader    sandbox.RepoReader
	Validator sandbox.Validator
}

// Notifier delivers terminal-status updates for a run to a chat channel.
// Implemented by pkg/adapters/chat; kept narrow to avoid an import cycle.
// Nil-safe at the call site: a Loop with no Notifier simply skips it.
type Notifier interface {
	NotifyResolutionOutcome(ctx context.Context, inc *models.Incident, outcome string, detail string)
}

// MemoryStore is the subset of pkg/memory's API the loop drives.
// Satisfied by both *memory.Store and *memory.CachedStore, so a Redis
// cache can sit in front of memory without the loop knowing about it.
type MemoryStore interface {
	sandbox.MemoryRetriever
	GetLearningPattern(ctx context.Context, errorType string) *memory.LearningPattern
	StoreFixWithWorkspace(ctx context.Context, fingerprint, errorType, description, patchBlob string, wc memory.WorkspaceContext)
}

// Loop wires storage, memory, knowledge, the planner, the ledger, and the
// sandbox into one incident's resolution run.
type Loop struct {
	incidents *storage.IncidentRepo
	runs      *storage.RunRepo
	memory    MemoryStore
	knowledge *knowledge.Retriever
	planner   *planner.Planner
	ledger    *resolution.Ledger
	selector  ActionSelector
	notifier  Notifier
	cfg       Config
	log       *slog.Logger
}

// New builds a Loop. notifier may be nil.
func New(
	incidents *storage.IncidentRepo,
	runs *storage.RunRepo,
	mem MemoryStore,
	know *knowledge.Retriever,
	pl *planner.Planner,
	ledger *resolution.Ledger,
	selector ActionSelector,
	notifier Notifier,
	cfg Config,
	log *slog.Logger,
) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		incidents: incidents, runs: runs, memory: mem, knowledge: know,
		planner: pl, ledger: ledger, selector: selector, notifier: notifier,
		cfg: cfg.withDefaults(), log: log,
	}
}

// vendorPathPattern flags files under vendored/third-party trees; the
// external-code guard refuses to plan edits there (spec §4.J "must not
// attempt to modify code outside the user's own repository").
var vendorPathPattern = regexp.MustCompile(`(^|/)(vendor|node_modules|third_party|\.git)/`)

// Run executes one incident's full resolution attempt: claim, prepare,
// iterate, and record the outcome. Returns nil even on a failed
// resolution (the failure is recorded on the incident/ledger, not
// surfaced as a Go error) — only infrastructure failures that prevented
// recording the outcome at all are returned as errors.
func (l *Loop) Run(ctx context.Context, incidentID string, rw RepoWorkspace) error {
	runStarted := time.Now()
	ctx, cancel := context.WithTimeout(ctx, l.cfg.OverallTimeout)
	defer cancel()

	inc, err := l.incidents.Get(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("load incident: %w", err)
	}

	if inc.Status.CanTransitionTo(models.IncidentStatusInvestigating) {
		inc.Status = models.IncidentStatusInvestigating
		if err := l.incidents.Update(ctx, inc); err != nil {
			return fmt.Errorf("transition to investigating: %w", err)
		}
	}

	stream := eventstream.New(incidentID, 500, nil)
	stream.AddEvent(models.EventUserRequest, map[string]any{"trigger": "resolve_incident"}, "")

	run := &storage.AgentRun{
		ID: uuid.NewString(), IncidentID: incidentID, Status: storage.RunStatusRunning, StartedAt: time.Now().UTC(),
	}
	if err := l.runs.Create(ctx, run); err != nil {
		return fmt.Errorf("create agent run: %w", err)
	}

	ws, rootCause, affectedFiles, err := l.prepare(ctx, inc, stream)
	if err != nil {
		return l.finishFailed(ctx, inc, run, stream, fmt.Sprintf("preparation failed: %s", err))
	}

	if blocked, path := classifyExternalCode(inc, affectedFiles); blocked {
		return l.finishSkippedExternal(ctx, inc, run, stream, path)
	}

	fp := fingerprint.Fingerprint(inc, nil)
	sb := sandbox.New(ws, rw.RepoName, rw.Reader, rw.Validator, l.memory, fp, l.cfg.SandboxTimeout)

	inc.Status = models.IncidentStatusHealing
	_ = l.incidents.Update(ctx, inc)

	outcome := l.iterate(ctx, ws, sb, stream, rootCause, affectedFiles)
	l.snapshot(ctx, run.ID, ws, stream)

	elapsed := time.Since(runStarted)
	if outcome.success {
		telemetry.RecordRunOutcome("resolved", elapsed, outcome.iterations)
		return l.finishSucceeded(ctx, inc, run, fp, outcome)
	}
	telemetry.RecordRunOutcome("failed", elapsed, outcome.iterations)
	return l.finishFailed(ctx, inc, run, stream, outcome.failureReason)
}

func externalCodeGuard(affectedFiles []string) (bool, string) {
	for _, f := range affectedFiles {
		if vendorPathPattern.MatchString(f) {
			return true, f
		}
	}
	return false, ""
}

// prepare retrieves memory/knowledge context and creates the initial plan
// (spec §4.J preparation steps).
func (l *Loop) prepare(ctx context.Context, inc *models.Incident, stream *eventstream.Stream) (*workspace.Workspace, string, []string, error) {
	ws := workspace.New(inc.ID)

	rootCause := ""
	if inc.RootCause != nil {
		rootCause = *inc.RootCause
	} else {
		rootCause = inc.TriggerEvent.Message
	}

	affectedFiles := extractAffectedFiles(rootCause)

	fp := fingerprint.Fingerprint(inc, nil)
	if l.memory != nil {
		rc := l.memory.RetrieveContext(ctx, fp)
		stream.AddEvent(models.EventMemoryRetrieved, map[string]any{
			"known_fixes": rc.KnownFixes, "past_errors": rc.PastErrors,
		}, "")

		errType := fingerprint.ErrorType(fp, rootCause)
		if lp := l.memory.GetLearningPattern(ctx, errType); lp != nil {
			affectedFiles = mergeUnique(affectedFiles, lp.TypicalFilesRead, lp.TypicalFilesModified)
		}
	}

	var knowledgeCtx string
	if l.knowledge != nil {
		items := l.knowledge.RetrieveForPlanning(ctx, rootCause, affectedFiles)
		stream.AddEvent(models.EventKnowledgeRetrieved, map[string]any{"count": len(items)}, "")
		knowledgeCtx = renderKnowledgeContext(items)
	}

	plan := l.planner.CreatePlan(ctx, rootCause, affectedFiles, knowledgeCtx)
	ws.SetPlan(plan)
	stream.AddEvent(models.EventPlanCreated, map[string]any{"step_count": len(plan.Steps)}, "")

	return ws, rootCause, affectedFiles, nil
}

func renderKnowledgeContext(items []models.KnowledgeItem) string {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "[%s, score %.2f] %s\n", item.Source, item.RelevanceScore, item.Content)
	}
	return b.String()
}

func mergeUnique(base []string, extras ...[]string) []string {
	seen := make(map[string]bool, len(base))
	out := append([]string(nil), base...)
	for _, f := range out {
		seen[f] = true
	}
	for _, list := range extras {
		for _, f := range list {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

var filePathPattern = regexp.MustCompile(`[\w./-]+\.(go|py|js|ts|java|rb|yaml|yml|json)\b`)

// extractAffectedFiles does a best-effort regex scan of a root-cause
// description for file-shaped tokens.
func extractAffectedFiles(rootCause string) []string {
	matches := filePathPattern.FindAllString(rootCause, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

type runOutcome struct {
	success       bool
	failureReason string
	filesRead     []string
	filesModified []string
	lastResult    string
	iterations    int
}

// iterate runs the single-action-per-iteration loop until the plan
// completes, the iteration cap is hit, or the overall context expires.
func (l *Loop) iterate(ctx context.Context, ws *workspace.Workspace, sb *sandbox.Sandbox, stream *eventstream.Stream, rootCause string, affectedFiles []string) runOutcome {
	plan := ws.Plan()
	filesRead := map[string]bool{}
	filesModified := map[string]bool{}

	var prevErrType, prevErrMsg string
	consecutiveFailures := 0

	iteration := 0
	for ; iteration < l.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return runOutcome{success: false, failureReason: "overall execution timeout exceeded", iterations: iteration}
		}

		step := plan.CurrentStep()
		if step == nil {
			break
		}

		if step.Status == models.PlanStepPending {
			planner.MarkStepInProgress(step, time.Now().UTC())
			stream.AddEvent(models.EventPlanStepStarted, map[string]any{"step": step.StepNumber, "description": step.Description}, "")
		}

		stepCtx, cancel := context.WithTimeout(ctx, l.cfg.StepTimeout)
		call, complete, err := l.selector(stepCtx, actionPrompt(step, ws, stream))
		cancel()

		if err != nil {
			l.log.Warn("agent loop: action selection failed", "incident_id", ws.IncidentID, "step", step.StepNumber, "error", err)
			if !l.handleStepFailure(plan, step, "internal", err.Error(), &prevErrType, &prevErrMsg, &consecutiveFailures) {
				return runOutcome{success: false, failureReason: fmt.Sprintf("step %d: action selection failed: %s", step.StepNumber, err), iterations: iteration}
			}
			continue
		}

		if complete {
			planner.MarkStepCompleted(step, "agent reported step complete", time.Now().UTC())
			stream.AddEvent(models.EventPlanStepCompleted, map[string]any{"step": step.StepNumber}, "")
			plan.AdvanceToNextStep()
			continue
		}

		stream.AddEvent(models.EventAgentAction, map[string]any{"tool": call.Name, "arguments": call.Arguments}, "agent")
		result := sb.Execute(ctx, call)
		stream.AddEvent(models.EventObservation, map[string]any{"success": result.Success, "result": result.Result, "error": result.Error}, "")

		if call.Name == "read_file" {
			if p, ok := call.Arguments["path"].(string); ok {
				filesRead[p] = true
			}
		}
		for p := range result.Files {
			filesModified[p] = true
			stream.AddEvent(models.EventFileOperation, map[string]any{"path": p}, "")
		}

		if !result.Success {
			ok := l.handleStepFailure(plan, step, result.ErrorType, result.Error, &prevErrType, &prevErrMsg, &consecutiveFailures)
			if !ok {
				return runOutcome{success: false, failureReason: fmt.Sprintf("step %d failed: %s", step.StepNumber, result.Error), iterations: iteration}
			}
			continue
		}

		prevErrType, prevErrMsg = "", ""
		consecutiveFailures = 0
		if resultStr, ok := result.Result.(string); ok {
			planner.MarkStepCompleted(step, resultStr, time.Now().UTC())
		} else {
			planner.MarkStepCompleted(step, "ok", time.Now().UTC())
		}
		stream.AddEvent(models.EventPlanStepCompleted, map[string]any{"step": step.StepNumber}, "")
		plan.AdvanceToNextStep()
	}

	if !plan.IsComplete() {
		return runOutcome{success: false, failureReason: "max iterations exceeded without completing the plan", iterations: iteration}
	}
	if plan.HasFailedStep() {
		return runOutcome{success: false, failureReason: "plan completed with at least one unrecovered FAILED step", iterations: iteration}
	}

	return runOutcome{
		success: true, filesRead: keys(filesRead), filesModified: keys(filesModified),
		lastResult: lastStepResult(plan), iterations: iteration,
	}
}

// maxConsecutiveFailures is the number of back-to-back step failures
// (across any error class) that forces a replan even without a critical
// observation or an exhausted retry budget (spec §4.J step 5/7).
const maxConsecutiveFailures = 3

// handleStepFailure applies the retry/replan policy for one failed step.
// consecutiveFailures tracks back-to-back failures across the whole run;
// the caller resets it to 0 on the next successful step. Returns false
// only when the run must fail outright — a replan that itself fails
// (e.g. MaxReplans exceeded) for a non-critical failure. A critical
// observation always marks the step FAILED and advances to the next
// step rather than aborting the run (spec §4.J step 5): the loop only
// gives up on a critical error if replanning was also exhausted.
func (l *Loop) handleStepFailure(plan *models.Plan, step *models.PlanStep, errType, errMsg string, prevErrType, prevErrMsg *string, consecutiveFailures *int) bool {
	class := classifyError(errType)
	repeated := isRepeatedFileNotFound(*prevErrType, *prevErrMsg, errType, errMsg)
	*prevErrType, *prevErrMsg = errType, errMsg
	*consecutiveFailures++

	// Non-retryable errors get exactly one retry before they're treated
	// like any other terminal step failure (spec §4.J step 5).
	if class == errorNonRetryable && step.RetryCount < 1 && !repeated {
		step.RetryCount++
		step.Status = models.PlanStepPending
		return true
	}

	if class == errorCritical {
		planner.MarkStepFailed(step, errMsg, time.Now().UTC())
		plan.AdvanceToNextStep()
		telemetry.RecordReplan("critical_error")
		if err := l.planner.Replan(context.Background(), plan, errMsg, fmt.Sprintf("step %q hit a critical error", step.Description), ""); err != nil {
			l.log.Warn("agent loop: replan after critical error failed, advancing without a new plan tail", "error", err)
			return true
		}
		*consecutiveFailures = 0
		return true
	}

	if repeated || *consecutiveFailures >= maxConsecutiveFailures || step.RetryCount >= l.cfg.MaxRetriesPerStep || class == errorNonRetryable {
		planner.MarkStepFailed(step, errMsg, time.Now().UTC())
		reason := "max_retries_exceeded"
		switch {
		case repeated:
			reason = "repeated_file_not_found"
		case class == errorNonRetryable:
			reason = "non_retryable_error"
		case *consecutiveFailures >= maxConsecutiveFailures:
			reason = "consecutive_failures"
		}
		telemetry.RecordReplan(reason)
		if err := l.planner.Replan(context.Background(), plan, errMsg, fmt.Sprintf("step %q failed repeatedly", step.Description), ""); err != nil {
			return false
		}
		*consecutiveFailures = 0
		return true
	}

	step.RetryCount++
	step.Status = models.PlanStepPending
	return true
}

func actionPrompt(step *models.PlanStep, ws *workspace.Workspace, stream *eventstream.Stream) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current step: %s\n", step.Description)
	if len(step.FilesToRead) > 0 {
		fmt.Fprintf(&b, "Files to read: %s\n", strings.Join(step.FilesToRead, ", "))
	}
	b.WriteString("Workspace state:\n")
	b.WriteString(ws.GetWorkspaceState())
	b.WriteString("Recent history:\n")
	b.WriteString(stream.ToContextString(10))
	b.WriteString("\nRespond with a JSON object: either {\"tool\": \"<name>\", \"arguments\": {...}} " +
		"or {\"complete\": true} if the current step is already satisfied by the workspace state.")
	return b.String()
}

// ParseAction decodes an LLM action response into a sandbox.ToolCall.
// Exported so the cmd wiring's ActionSelector closure can reuse it.
func ParseAction(text string) (sandbox.ToolCall, bool, error) {
	var raw struct {
		Tool      string         `json:"tool"`
		Arguments map[string]any `json:"arguments"`
		Complete  bool           `json:"complete"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return sandbox.ToolCall{}, false, fmt.Errorf("parse action: %w", err)
	}
	if raw.Complete {
		return sandbox.ToolCall{}, true, nil
	}
	if raw.Tool == "" {
		return sandbox.ToolCall{}, false, fmt.Errorf("action response named no tool and did not report completion")
	}
	return sandbox.ToolCall{Name: raw.Tool, Arguments: raw.Arguments}, false, nil
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func lastStepResult(plan *models.Plan) string {
	for i := len(plan.Steps) - 1; i >= 0; i-- {
		if plan.Steps[i].Result != nil {
			return *plan.Steps[i].Result
		}
	}
	return ""
}

func (l *Loop) snapshot(ctx context.Context, runID string, ws *workspace.Workspace, stream *eventstream.Stream) {
	if err := l.runs.Snapshot(ctx, runID, ws.Plan(), ws.ToRecord(), stream.Events(), 0); err != nil {
		l.log.Warn("agent loop: run snapshot failed", "run_id", runID, "error", err)
	}
}

func (l *Loop) finishSucceeded(ctx context.Context, inc *models.Incident, run *storage.AgentRun, fp string, outcome runOutcome) error {
	if err := l.runs.Finish(ctx, run.ID, storage.RunStatusSucceeded); err != nil {
		l.log.Warn("agent loop: finish run failed", "run_id", run.ID, "error", err)
	}

	if l.memory != nil {
		errType := fingerprint.ErrorType(fp, outcome.lastResult)
		l.memory.StoreFixWithWorkspace(ctx, fp, errType, outcome.lastResult, "", memory.WorkspaceContext{
			FilesRead: outcome.filesRead, FilesModified: outcome.filesModified, IncidentID: inc.ID,
		})
	}

	now := time.Now().UTC()
	inc.Status = models.IncidentStatusResolved
	inc.ResolvedAt = &now
	action := outcome.lastResult
	inc.ActionTaken = &action
	if err := l.incidents.Update(ctx, inc); err != nil {
		return fmt.Errorf("mark incident resolved: %w", err)
	}

	if err := l.ledger.MarkIncidentResolutionCompleted(ctx, inc.ID); err != nil {
		l.log.Warn("agent loop: mark resolution completed failed", "incident_id", inc.ID, "error", err)
	}

	if l.notifier != nil {
		l.notifier.NotifyResolutionOutcome(ctx, inc, "resolved", action)
	}
	return nil
}

// finishSkippedExternal records the outcome when the external-code guard
// trips: the resolution request still completes (there's nothing wrong
// in the user's repository to patch), but instead of an action taken we
// record why no patch was attempted (spec §4.J / §8 scenario S3).
func (l *Loop) finishSkippedExternal(ctx context.Context, inc *models.Incident, run *storage.AgentRun, stream *eventstream.Stream, path string) error {
	explanation := codeFixExplanation(path)
	stream.AddEvent(models.EventError, map[string]any{"reason": "external_code_guard", "path": path}, "")
	if err := l.runs.Finish(ctx, run.ID, storage.RunStatusSkipped); err != nil {
		l.log.Warn("agent loop: finish run failed", "run_id", run.ID, "error", err)
	}

	inc.CodeFixExplanation = &explanation
	if err := l.incidents.Update(ctx, inc); err != nil {
		return fmt.Errorf("record code fix explanation: %w", err)
	}

	if err := l.ledger.MarkIncidentResolutionCompleted(ctx, inc.ID); err != nil {
		l.log.Warn("agent loop: mark resolution completed failed", "incident_id", inc.ID, "error", err)
	}

	if l.notifier != nil {
		l.notifier.NotifyResolutionOutcome(ctx, inc, "skipped_external", explanation)
	}
	return nil
}

func (l *Loop) finishFailed(ctx context.Context, inc *models.Incident, run *storage.AgentRun, stream *eventstream.Stream, reason string) error {
	stream.AddEvent(models.EventError, map[string]any{"reason": reason}, "")
	if err := l.runs.Finish(ctx, run.ID, storage.RunStatusFailed); err != nil {
		l.log.Warn("agent loop: finish run failed", "run_id", run.ID, "error", err)
	}

	if inc.Status.CanTransitionTo(models.IncidentStatusFailed) {
		inc.Status = models.IncidentStatusFailed
		if err := l.incidents.Update(ctx, inc); err != nil {
			l.log.Warn("agent loop: mark incident failed failed", "incident_id", inc.ID, "error", err)
		}
	}

	if err := l.ledger.MarkIncidentResolutionFailed(ctx, inc.ID, reason); err != nil {
		l.log.Warn("agent loop: mark resolution failed failed", "incident_id", inc.ID, "error", err)
	}

	if l.notifier != nil {
		l.notifier.NotifyResolutionOutcome(ctx, inc, "failed", reason)
	}
	return nil
}
