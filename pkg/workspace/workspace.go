// Package workspace owns the agent loop's per-incident in-memory file and
// plan state (Workspace), plus its externalized human-readable mirror
// (Scratchpad). Exclusively owned by one agent loop run (spec §3/§4.I).
package workspace

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sentineld/resolveops/pkg/models"
)

// Workspace holds the in-memory file/plan/notes state for a single agent
// loop run. Not safe for concurrent use — callers must serialize access
// themselves (there is exactly one writer per spec §5).
type Workspace struct {
	IncidentID string
	files      map[string]string
	plan       *models.Plan
	notes      []models.Note
}

// New creates an empty Workspace for the given incident.
func New(incidentID string) *Workspace {
	return &Workspace{
		IncidentID: incidentID,
		files:      make(map[string]string),
	}
}

// GetFile returns a file's content and whether it exists in the workspace.
func (w *Workspace) GetFile(path string) (string, bool) {
	content, ok := w.files[path]
	return content, ok
}

// SetFile sets or overwrites a file's content.
func (w *Workspace) SetFile(path, content string) {
	w.files[path] = content
}

// ApplyToolResult updates workspace file state directly from a tool
// response's declared file writes. Per the redesign in spec §9 ("Workspace
// auto-update from parsed code"), this replaces AST/regex inference: the
// tool-call protocol makes every file write an explicit, structured result.
func (w *Workspace) ApplyToolResult(filesWritten map[string]string) {
	for path, content := range filesWritten {
		w.SetFile(path, content)
	}
}

// SetPlan attaches (or replaces) the active plan.
func (w *Workspace) SetPlan(plan *models.Plan) {
	w.plan = plan
}

// Plan returns the active plan, or nil if none has been set.
func (w *Workspace) Plan() *models.Plan {
	return w.plan
}

// UpdateTodoStep updates one step's status (and optionally its result) on
// the active plan, a no-op if no plan or step exists.
func (w *Workspace) UpdateTodoStep(stepNumber int, status models.PlanStepStatus, result *string) {
	if w.plan == nil {
		return
	}
	for _, step := range w.plan.Steps {
		if step.StepNumber == stepNumber {
			step.Status = status
			if result != nil {
				step.Result = result
			}
			return
		}
	}
}

// AddNote appends a categorized note.
func (w *Workspace) AddNote(text, category string) {
	w.notes = append(w.notes, models.Note{
		Text:      text,
		Category:  category,
		Timestamp: time.Now().UTC(),
	})
}

// Notes returns all recorded notes in append order.
func (w *Workspace) Notes() []models.Note {
	return w.notes
}

// GetWorkspaceState renders a textual summary: up to the first 10 files,
// plan progress, and the last 5 notes (spec §4.I).
func (w *Workspace) GetWorkspaceState() string {
	var b strings.Builder

	paths := make([]string, 0, len(w.files))
	for p := range w.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	b.WriteString("Files:\n")
	limit := 10
	if len(paths) < limit {
		limit = len(paths)
	}
	for _, p := range paths[:limit] {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	if len(paths) > limit {
		fmt.Fprintf(&b, "  ... and %d more\n", len(paths)-limit)
	}

	if w.plan != nil {
		completed, total := w.plan.Progress()
		fmt.Fprintf(&b, "Progress: %d/%d steps completed\n", completed, total)
	} else {
		b.WriteString("Progress: no plan yet\n")
	}

	b.WriteString("Recent notes:\n")
	start := len(w.notes) - 5
	if start < 0 {
		start = 0
	}
	for _, n := range w.notes[start:] {
		fmt.Fprintf(&b, "  [%s] %s\n", n.Category, n.Text)
	}

	return b.String()
}

// ToRecord serializes the workspace to a persistable WorkspaceRecord (spec
// §3 "serialized to a persistent WorkspaceRecord on completion").
func (w *Workspace) ToRecord() *models.WorkspaceRecord {
	files := make(map[string]string, len(w.files))
	for p, c := range w.files {
		files[p] = c
	}
	return &models.WorkspaceRecord{
		IncidentID: w.IncidentID,
		Files:      files,
		Plan:       w.plan,
		Notes:      append([]models.Note(nil), w.notes...),
		UpdatedAt:  time.Now().UTC(),
	}
}

// FromRecord restores a Workspace from a persisted WorkspaceRecord.
func FromRecord(rec *models.WorkspaceRecord) *Workspace {
	w := New(rec.IncidentID)
	for p, c := range rec.Files {
		w.files[p] = c
	}
	w.plan = rec.Plan
	w.notes = append([]models.Note(nil), rec.Notes...)
	return w
}
