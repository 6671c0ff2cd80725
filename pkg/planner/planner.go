// Package planner turns a root cause and a knowledge context into an
// ordered Plan (spec §4.G), manages step status transitions during
// execution, and replans when the agent loop hits a wall.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/sentineld/resolveops/pkg/models"
)

// MaxReplans bounds how many times one run may replan before the agent
// loop must give up and fail the run (spec §4.G / §4.J).
const MaxReplans = 3

// CompleteFunc is the narrow LLM surface the planner needs — callers
// adapt pkg/llm.Client.Complete (which also returns token usage) into
// this shape with a closure, avoiding an import cycle.
type CompleteFunc func(ctx context.Context, systemPrompt, userPrompt string, maxTokens int64) (string, error)

// Planner creates and evolves Plans via an LLM, falling back to a fixed
// template when the LLM is unavailable or its output can't be parsed.
type Planner struct {
	complete CompleteFunc
	log      *slog.Logger
}

// New builds a Planner. complete may be nil, in which case CreatePlan and
// Replan always use the fixed fallback template.
func New(complete CompleteFunc, log *slog.Logger) *Planner {
	if log == nil {
		log = slog.Default()
	}
	return &Planner{complete: complete, log: log}
}

type planStepJSON struct {
	Description    string   `json:"description"`
	FilesToRead    []string `json:"files_to_read"`
	ExpectedOutput string   `json:"expected_output"`
	Confidence     float64  `json:"confidence"`
}

// CreatePlan generates an ordered Plan from a root cause and the affected
// files, optionally grounded in retrieved knowledge context. Falls back
// to a fixed 5-step plan (read → trace → analyze → fix → validate) if the
// LLM is unavailable or its response can't be parsed into steps.
func (p *Planner) CreatePlan(ctx context.Context, rootCause string, affectedFiles []string, knowledgeContext string) *models.Plan {
	steps := p.generateSteps(ctx, rootCause, affectedFiles, knowledgeContext)
	if len(steps) == 0 {
		steps = fallbackSteps(affectedFiles)
	}
	return &models.Plan{Steps: steps, CurrentStepIndex: 0}
}

func (p *Planner) generateSteps(ctx context.Context, rootCause string, affectedFiles []string, knowledgeContext string) []*models.PlanStep {
	if p.complete == nil {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Root cause: %s\n", rootCause)
	if len(affectedFiles) > 0 {
		fmt.Fprintf(&b, "Affected files: %s\n", strings.Join(affectedFiles, ", "))
	}
	if knowledgeContext != "" {
		fmt.Fprintf(&b, "Relevant prior knowledge:\n%s\n", knowledgeContext)
	}
	b.WriteString("Respond with a JSON array of steps. Each step is an object with keys " +
		"\"description\", \"files_to_read\" (array of strings), \"expected_output\", and " +
		"\"confidence\" (0 to 1). Respond with the JSON array only, no other text.")

	text, err := p.complete(ctx, planningSystemPrompt, b.String(), 2000)
	if err != nil {
		p.log.Warn("create_plan: llm call failed, using fallback plan", "error", err)
		return nil
	}

	parsed, err := parsePlanJSON(text)
	if err != nil {
		p.log.Warn("create_plan: failed to parse llm plan, using fallback plan", "error", err)
		return nil
	}

	steps := make([]*models.PlanStep, 0, len(parsed))
	for i, s := range parsed {
		steps = append(steps, &models.PlanStep{
			StepNumber: i + 1, Description: s.Description, FilesToRead: s.FilesToRead,
			ExpectedOutput: s.ExpectedOutput, Status: models.PlanStepPending, Confidence: s.Confidence,
		})
	}
	return steps
}

const planningSystemPrompt = "You are a software reliability engineer planning the steps to diagnose and fix a production incident."

// Replan regenerates the PENDING/IN_PROGRESS tail of a plan in light of
// new context (e.g. a step failed repeatedly), preserving every COMPLETED
// step by description so prior work isn't discarded. Returns an error if
// the plan has already replanned MaxReplans times.
func (p *Planner) Replan(ctx context.Context, plan *models.Plan, reason, newContext string, knowledgeContext string) error {
	if plan.ReplanCount >= MaxReplans {
		return fmt.Errorf("replan: max replans (%d) exceeded", MaxReplans)
	}

	completed := make([]*models.PlanStep, 0, len(plan.Steps))
	completedDescriptions := make(map[string]bool)
	for _, s := range plan.Steps {
		if s.Status == models.PlanStepCompleted {
			completed = append(completed, s)
			completedDescriptions[s.Description] = true
		}
	}

	rootCause := fmt.Sprintf("Replanning because: %s. Additional context: %s", reason, newContext)
	newSteps := p.generateSteps(ctx, rootCause, nil, knowledgeContext)
	if len(newSteps) == 0 {
		newSteps = fallbackSteps(nil)
	}

	merged := make([]*models.PlanStep, 0, len(completed)+len(newSteps))
	merged = append(merged, completed...)
	next := len(completed) + 1
	for _, s := range newSteps {
		if completedDescriptions[s.Description] {
			continue // already done, don't redo it
		}
		s.StepNumber = next
		next++
		merged = append(merged, s)
	}

	plan.Steps = merged
	plan.ReplanCount++
	plan.CurrentStepIndex = 0
	for i, s := range plan.Steps {
		if s.Status == models.PlanStepPending {
			plan.CurrentStepIndex = i
			break
		}
	}
	return nil
}

// MarkStepInProgress transitions the current step to IN_PROGRESS and
// stamps its start time.
func MarkStepInProgress(step *models.PlanStep, now time.Time) {
	step.Status = models.PlanStepInProgress
	step.StartedAt = &now
}

// MarkStepCompleted transitions a step to COMPLETED, recording its result.
func MarkStepCompleted(step *models.PlanStep, result string, now time.Time) {
	step.Status = models.PlanStepCompleted
	step.Result = &result
	step.CompletedAt = &now
}

// MarkStepFailed records a failure against a step. The caller (agent
// loop) decides whether this is retryable based on step.RetryCount.
func MarkStepFailed(step *models.PlanStep, errMsg string, now time.Time) {
	step.Status = models.PlanStepFailed
	step.Errors = append(step.Errors, errMsg)
	step.CompletedAt = &now
}

// fallbackSteps is the fixed 5-step plan used when the LLM is unavailable
// or produces unparseable output (spec §4.G fallback requirement).
func fallbackSteps(affectedFiles []string) []*models.PlanStep {
	return []*models.PlanStep{
		{StepNumber: 1, Description: "Read affected files to understand current behavior", FilesToRead: affectedFiles, Status: models.PlanStepPending},
		{StepNumber: 2, Description: "Trace the execution path that leads to the failure", Status: models.PlanStepPending},
		{StepNumber: 3, Description: "Analyze the root cause against the traced path", Status: models.PlanStepPending},
		{StepNumber: 4, Description: "Apply a fix to the affected files", FilesToRead: affectedFiles, Status: models.PlanStepPending},
		{StepNumber: 5, Description: "Validate the fix resolves the original symptom", Status: models.PlanStepPending},
	}
}

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\[.*?\\])\\s*```")
var bareArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// parsePlanJSON extracts a JSON array of steps from an LLM response that
// may be a bare array, fenced in a markdown code block, or wrapped in
// explanatory prose. Falls back to a lenient repair pass (fixing invalid
// escape sequences, stripping trailing commas) before giving up.
func parsePlanJSON(text string) ([]planStepJSON, error) {
	candidate := strings.TrimSpace(text)

	if m := fencedJSONPattern.FindStringSubmatch(candidate); m != nil {
		candidate = m[1]
	} else if m := bareArrayPattern.FindString(candidate); m != "" {
		candidate = m
	}

	var steps []planStepJSON
	if err := json.Unmarshal([]byte(candidate), &steps); err == nil {
		return steps, nil
	}

	repaired := repairJSON(candidate)
	if err := json.Unmarshal([]byte(repaired), &steps); err == nil {
		return steps, nil
	}
	return nil, fmt.Errorf("could not parse plan JSON from llm response")
}

var trailingCommaPattern = regexp.MustCompile(`,(\s*[\]}])`)

// invalidEscapePattern matches a backslash not followed by one of the
// escape characters JSON actually recognizes, e.g. the \d in a regex
// fragment an LLM pastes into a string value unescaped.
var invalidEscapePattern = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

// repairJSON applies the minimal set of lenient fixes needed for common
// LLM JSON mistakes: invalid escape sequences (a bare backslash doubled
// so it survives as a literal) and trailing commas before a closing
// bracket/brace.
func repairJSON(s string) string {
	s = invalidEscapePattern.ReplaceAllString(s, `\\$1`)
	return trailingCommaPattern.ReplaceAllString(s, "$1")
}
