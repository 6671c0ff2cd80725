package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sentineld/resolveops/pkg/models"
)

// RepoWriter writes a file into the target repository under a given path
// (used when the scratchpad is mirrored into the repo's .healops/
// directory rather than a local directory). Implemented by the repo
// adapter (pkg/adapters/repo).
type RepoWriter interface {
	WriteScratchpadFile(repoName, path, content string) error
	DeleteScratchpadFile(repoName, path string) error
}

// Scratchpad is the externalized, human-readable mirror of a Workspace:
// two files per incident, kept eventually consistent (spec §3/§4.I).
type Scratchpad struct {
	incidentID string
	localDir   string // used when repo is nil
	repoName   string
	repo       RepoWriter // nil → write to localDir instead
}

// NewLocal creates a Scratchpad backed by a local directory
// (SCRATCHPAD_DIR env var per spec §6).
func NewLocal(incidentID, dir string) *Scratchpad {
	return &Scratchpad{incidentID: incidentID, localDir: dir}
}

// NewRepoBacked creates a Scratchpad backed by a repo path under .healops/.
func NewRepoBacked(incidentID, repoName string, repo RepoWriter) *Scratchpad {
	return &Scratchpad{incidentID: incidentID, repoName: repoName, repo: repo}
}

func (s *Scratchpad) scratchpadPath() string {
	return fmt.Sprintf("scratchpad_%s.md", s.incidentID)
}

func (s *Scratchpad) notesPath() string {
	return fmt.Sprintf("notes_%s.txt", s.incidentID)
}

// SyncFromWorkspace mirrors the current workspace state into the two
// scratchpad documents.
func (s *Scratchpad) SyncFromWorkspace(w *Workspace) error {
	todo := ""
	if plan := w.Plan(); plan != nil {
		todo = ToTodoMD(plan)
	}
	if err := s.writeFile(s.scratchpadPath(), todo); err != nil {
		return fmt.Errorf("sync scratchpad plan: %w", err)
	}

	var notesBuf strings.Builder
	for _, n := range w.Notes() {
		fmt.Fprintf(&notesBuf, "[%s] %s: %s\n", n.Timestamp.Format("2006-01-02T15:04:05Z"), n.Category, n.Text)
	}
	if err := s.writeFile(s.notesPath(), notesBuf.String()); err != nil {
		return fmt.Errorf("sync scratchpad notes: %w", err)
	}
	return nil
}

// Cleanup removes both scratchpad documents, best-effort.
func (s *Scratchpad) Cleanup() {
	if s.repo != nil {
		_ = s.repo.DeleteScratchpadFile(s.repoName, ".healops/"+s.scratchpadPath())
		_ = s.repo.DeleteScratchpadFile(s.repoName, ".healops/"+s.notesPath())
		return
	}
	_ = os.Remove(filepath.Join(s.localDir, s.scratchpadPath()))
	_ = os.Remove(filepath.Join(s.localDir, s.notesPath()))
}

func (s *Scratchpad) writeFile(name, content string) error {
	if s.repo != nil {
		return s.repo.WriteScratchpadFile(s.repoName, ".healops/"+name, content)
	}
	if err := os.MkdirAll(s.localDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.localDir, name), []byte(content), 0o644)
}

// ToTodoMD renders a Plan as a markdown plan-with-progress document.
func ToTodoMD(plan *models.Plan) string {
	var b strings.Builder
	completed, total := plan.Progress()
	fmt.Fprintf(&b, "# Resolution Plan (%d/%d complete)\n\n", completed, total)

	for _, step := range plan.Steps {
		box := " "
		switch step.Status {
		case models.PlanStepCompleted:
			box = "x"
		case models.PlanStepSkipped:
			box = "-"
		}
		fmt.Fprintf(&b, "- [%s] Step %d: %s (%s)\n", box, step.StepNumber, step.Description, step.Status)
		if step.Result != nil {
			fmt.Fprintf(&b, "  - Result: %s\n", *step.Result)
		}
		for _, e := range step.Errors {
			fmt.Fprintf(&b, "  - Error: %s\n", e)
		}
	}
	return b.String()
}
