package agentloop

import (
	"fmt"
	"strings"

	"github.com/sentineld/resolveops/pkg/models"
)

// extractStackFrames reads a parsed stack trace out of an incident's
// metadata, grounded on the same "callers extract path-level detail from
// LogEntry.Metadata" contract models.StackFrame documents. Metadata
// travels onto the incident unmodified from the triggering log entry
// (pkg/reducer), so the key is read defensively: absent, wrong-typed, or
// partially-populated entries are simply skipped rather than erroring.
func extractStackFrames(meta map[string]any) []models.StackFrame {
	raw, ok := meta["stack_frames"].([]any)
	if !ok {
		return nil
	}
	frames := make([]models.StackFrame, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		f := models.StackFrame{}
		if fp, ok := m["file_path"].(string); ok {
			f.FilePath = fp
		}
		if fn, ok := m["function"].(string); ok {
			f.Function = fn
		}
		if ln, ok := m["line"].(float64); ok {
			f.Line = int(ln)
		}
		if f.FilePath != "" {
			frames = append(frames, f)
		}
	}
	return frames
}

// classifyExternalCode decides whether an incident's root cause lives
// entirely outside the user's own repository (spec §4.J: "classify the
// incident's stack trace via the classifier", grounded on
// original_source/apps/engine/src/agents/orchestrator.py's equivalent
// stack-trace check). When a parsed stack trace is available, every
// single frame must resolve to a vendored/dependency path for the guard
// to trip — a stack trace that passes through the user's own code at any
// frame means there is something to fix, even if the proximate frame is
// vendored. Falls back to scanning the best-effort affected-file list
// when no stack trace was captured on the incident.
func classifyExternalCode(inc *models.Incident, affectedFiles []string) (blocked bool, path string) {
	if frames := extractStackFrames(inc.Metadata); len(frames) > 0 {
		allVendored := true
		for _, f := range frames {
			if !vendorPathPattern.MatchString(f.FilePath) {
				allVendored = false
				break
			}
		}
		if allVendored {
			return true, frames[0].FilePath
		}
		return false, ""
	}
	return externalCodeGuard(affectedFiles)
}

// codeFixExplanation renders the Markdown doc recorded on
// Incident.CodeFixExplanation when the external-code guard trips (spec
// §4.J / §8 scenario S3): the run is skipped rather than failed, since
// there genuinely is no fix available in the user's own repository.
func codeFixExplanation(path string) string {
	var b strings.Builder
	b.WriteString("## Why we didn't auto-resolve this incident\n\n")
	b.WriteString("Every frame of this incident's stack trace resolves to code outside " +
		"the user's own repository")
	if path != "" {
		fmt.Fprintf(&b, " (e.g. `%s`)", path)
	}
	b.WriteString(".\n\n")
	b.WriteString("Automatic resolution only edits files inside the target repository, so no " +
		"patch was attempted. If this incident is still occurring, it likely needs a fix " +
		"upstream, a version bump, or a workaround in application code that calls into the " +
		"affected dependency.\n")
	return b.String()
}
