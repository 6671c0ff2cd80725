// Package sandbox implements the fixed JSON tool-call protocol the agent
// loop uses to read, write, and validate code inside a workspace (spec
// §4.K). Adapted from the teacher's MCP tool-executor dispatch flow
// (error-as-content convention, one entry point per call) generalized
// from a discoverable MCP server/tool registry to a small fixed tool
// set operating on an in-memory Workspace and a real repo checkout.
package sandbox

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/sentineld/resolveops/pkg/memory"
	"github.com/sentineld/resolveops/pkg/models"
	"github.com/sentineld/resolveops/pkg/workspace"
)

// DefaultTimeout is CODE_EXECUTION_TIMEOUT's default (spec §6).
const DefaultTimeout = 30 * time.Second

// ToolCall is one agent-requested action.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// Result is the structured response every tool call produces, matching
// the teacher's "error as content, not as Go error" MCP convention so a
// malformed call never aborts the agent loop.
type Result struct {
	Success    bool
	Result     any
	Error      string
	ErrorType  string   // "not_found" | "invalid_argument" | "validation_failed" | "internal"
	ErrorHints []string
	Files      map[string]string // path -> new content, for write-shaped tools
}

// RepoReader reads real files from the target repository checkout.
// Implemented by pkg/adapters/repo.
type RepoReader interface {
	ReadFile(ctx context.Context, repoName, path string) (string, error)
	ListFiles(ctx context.Context, repoName, prefix string) ([]string, error)
}

// Validator runs a language-appropriate syntax/build check over a set of
// file contents. Implemented by pkg/adapters/repo (shells out to the
// repo's own toolchain).
type Validator interface {
	Validate(ctx context.Context, repoName string, files map[string]string) (ok bool, output string, err error)
}

// MemoryRetriever is the subset of pkg/memory.Store the retrieve_memory
// tool needs.
type MemoryRetriever interface {
	RetrieveContext(ctx context.Context, fingerprint string) memory.RetrievedContext
}

// Sandbox dispatches tool calls against one workspace for the duration of
// a single agent loop run.
type Sandbox struct {
	ws          *workspace.Workspace
	repoName    string
	repo        RepoReader
	validator   Validator
	memory      MemoryRetriever
	fingerprint string
	timeout     time.Duration
}

// New builds a Sandbox bound to one workspace and repo. repo, validator,
// and mem may be nil — the tools that need them then report a
// "not_found"/"internal" error instead of panicking.
func New(ws *workspace.Workspace, repoName string, repo RepoReader, validator Validator, mem MemoryRetriever, fingerprint string, timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sandbox{ws: ws, repoName: repoName, repo: repo, validator: validator, memory: mem, fingerprint: fingerprint, timeout: timeout}
}

// Execute dispatches one tool call under the sandbox's wall-clock timeout.
func (s *Sandbox) Execute(ctx context.Context, call ToolCall) Result {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		done <- s.dispatch(ctx, call)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return Result{Success: false, Error: "tool call timed out", ErrorType: "internal"}
	}
}

func (s *Sandbox) dispatch(ctx context.Context, call ToolCall) Result {
	switch call.Name {
	case "read_file":
		return s.readFile(ctx, call.Arguments)
	case "write_file":
		return s.writeFile(call.Arguments)
	case "apply_incremental_edit":
		return s.applyIncrementalEdit(call.Arguments)
	case "validate_code":
		return s.validateCode(ctx)
	case "find_symbol_definition":
		return s.findSymbolDefinition(call.Arguments)
	case "update_todo":
		return s.updateTodo(call.Arguments)
	case "retrieve_memory":
		return s.retrieveMemory(ctx)
	case "list_files":
		return s.listFiles(ctx, call.Arguments)
	default:
		return Result{
			Success: false, Error: fmt.Sprintf("unknown tool %q", call.Name), ErrorType: "invalid_argument",
			ErrorHints: []string{"valid tools: read_file, write_file, apply_incremental_edit, validate_code, find_symbol_definition, update_todo, retrieve_memory, list_files"},
		}
	}
}

// normalizePath rejects absolute paths and any ".." traversal component,
// keeping every tool confined to the repo checkout root.
func normalizePath(p string) (string, error) {
	clean := path.Clean(p)
	if path.IsAbs(clean) {
		return "", fmt.Errorf("path must be relative: %q", p)
	}
	for _, part := range strings.Split(clean, "/") {
		if part == ".." {
			return "", fmt.Errorf("path traversal is not allowed: %q", p)
		}
	}
	return clean, nil
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

func (s *Sandbox) readFile(ctx context.Context, args map[string]any) Result {
	rawPath, ok := stringArg(args, "path")
	if !ok {
		return Result{Success: false, Error: "missing required argument \"path\"", ErrorType: "invalid_argument"}
	}
	p, err := normalizePath(rawPath)
	if err != nil {
		return Result{Success: false, Error: err.Error(), ErrorType: "invalid_argument"}
	}

	if content, ok := s.ws.GetFile(p); ok {
		return Result{Success: true, Result: content}
	}

	if s.repo == nil {
		return Result{Success: false, Error: fmt.Sprintf("file not found: %s", p), ErrorType: "not_found"}
	}
	content, err := s.repo.ReadFile(ctx, s.repoName, p)
	if err != nil {
		return Result{
			Success: false, Error: err.Error(), ErrorType: "not_found",
			ErrorHints: []string{"use list_files to see what exists under this prefix"},
		}
	}
	s.ws.SetFile(p, content)
	return Result{Success: true, Result: content}
}

func (s *Sandbox) writeFile(args map[string]any) Result {
	rawPath, ok := stringArg(args, "path")
	if !ok {
		return Result{Success: false, Error: "missing required argument \"path\"", ErrorType: "invalid_argument"}
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return Result{Success: false, Error: "missing required argument \"content\"", ErrorType: "invalid_argument"}
	}
	p, err := normalizePath(rawPath)
	if err != nil {
		return Result{Success: false, Error: err.Error(), ErrorType: "invalid_argument"}
	}

	s.ws.SetFile(p, content)
	return Result{Success: true, Result: fmt.Sprintf("wrote %d bytes to %s", len(content), p), Files: map[string]string{p: content}}
}

// applyIncrementalEdit replaces the first occurrence of "find" with
// "replace" in the named file, failing with a hint if "find" doesn't
// match exactly once — an LLM-produced patch is only ever safe to apply
// when its anchor is unambiguous.
func (s *Sandbox) applyIncrementalEdit(args map[string]any) Result {
	rawPath, ok := stringArg(args, "path")
	if !ok {
		return Result{Success: false, Error: "missing required argument \"path\"", ErrorType: "invalid_argument"}
	}
	find, ok := stringArg(args, "find")
	if !ok {
		return Result{Success: false, Error: "missing required argument \"find\"", ErrorType: "invalid_argument"}
	}
	replace, ok := stringArg(args, "replace")
	if !ok {
		return Result{Success: false, Error: "missing required argument \"replace\"", ErrorType: "invalid_argument"}
	}

	p, err := normalizePath(rawPath)
	if err != nil {
		return Result{Success: false, Error: err.Error(), ErrorType: "invalid_argument"}
	}

	content, ok := s.ws.GetFile(p)
	if !ok {
		return Result{
			Success: false, Error: fmt.Sprintf("file not loaded into workspace: %s", p), ErrorType: "not_found",
			ErrorHints: []string{"read_file it first"},
		}
	}

	count := strings.Count(content, find)
	switch count {
	case 0:
		return Result{
			Success: false, Error: "find text not present in file", ErrorType: "validation_failed",
			ErrorHints: []string{"re-read the file; the anchor text must match exactly"},
		}
	case 1:
		updated := strings.Replace(content, find, replace, 1)
		s.ws.SetFile(p, updated)
		return Result{Success: true, Result: fmt.Sprintf("applied edit to %s", p), Files: map[string]string{p: updated}}
	default:
		return Result{
			Success: false, Error: fmt.Sprintf("find text is ambiguous: matches %d locations", count), ErrorType: "validation_failed",
			ErrorHints: []string{"include more surrounding context in \"find\" to make it unique"},
		}
	}
}

func (s *Sandbox) validateCode(ctx context.Context) Result {
	if s.validator == nil {
		return Result{Success: false, Error: "no validator configured for this repo", ErrorType: "internal"}
	}
	ok, output, err := s.validator.Validate(ctx, s.repoName, s.snapshotFiles())
	if err != nil {
		return Result{Success: false, Error: err.Error(), ErrorType: "internal"}
	}
	if !ok {
		return Result{Success: false, Error: output, ErrorType: "validation_failed"}
	}
	return Result{Success: true, Result: output}
}

func (s *Sandbox) snapshotFiles() map[string]string {
	return s.ws.ToRecord().Files
}

// findSymbolDefinition does a line-oriented search for a symbol's
// definition across currently loaded workspace files — a best-effort
// substitute for a real language-server lookup, sufficient for pointing
// an agent at the right file before it reads it in full.
func (s *Sandbox) findSymbolDefinition(args map[string]any) Result {
	symbol, ok := stringArg(args, "symbol")
	if !ok {
		return Result{Success: false, Error: "missing required argument \"symbol\"", ErrorType: "invalid_argument"}
	}

	type hit struct {
		Path string
		Line int
		Text string
	}
	var hits []hit
	for path, content := range s.snapshotFiles() {
		for i, line := range strings.Split(content, "\n") {
			if strings.Contains(line, symbol) && looksLikeDefinition(line, symbol) {
				hits = append(hits, hit{Path: path, Line: i + 1, Text: strings.TrimSpace(line)})
			}
		}
	}

	if len(hits) == 0 {
		return Result{
			Success: false, Error: fmt.Sprintf("no definition found for %q in loaded files", symbol), ErrorType: "not_found",
			ErrorHints: []string{"read_file the candidate source files first so they're in scope for this search"},
		}
	}
	return Result{Success: true, Result: hits}
}

func looksLikeDefinition(line, symbol string) bool {
	trimmed := strings.TrimSpace(line)
	prefixes := []string{"func ", "type ", "var ", "const ", "class ", "def ", "function "}
	for _, p := range prefixes {
		if strings.HasPrefix(trimmed, p) && strings.Contains(trimmed, symbol) {
			return true
		}
	}
	return false
}

func (s *Sandbox) updateTodo(args map[string]any) Result {
	stepNumber, ok := args["step_number"].(float64)
	if !ok {
		return Result{Success: false, Error: "missing required numeric argument \"step_number\"", ErrorType: "invalid_argument"}
	}
	status, ok := stringArg(args, "status")
	if !ok {
		return Result{Success: false, Error: "missing required argument \"status\"", ErrorType: "invalid_argument"}
	}

	var resultPtr *string
	if r, ok := stringArg(args, "result"); ok {
		resultPtr = &r
	}

	s.ws.UpdateTodoStep(int(stepNumber), models.PlanStepStatus(status), resultPtr)
	return Result{Success: true, Result: fmt.Sprintf("step %d marked %s", int(stepNumber), status)}
}

func (s *Sandbox) retrieveMemory(ctx context.Context) Result {
	if s.memory == nil {
		return Result{Success: false, Error: "no memory store configured", ErrorType: "internal"}
	}
	rc := s.memory.RetrieveContext(ctx, s.fingerprint)
	return Result{Success: true, Result: rc}
}

func (s *Sandbox) listFiles(ctx context.Context, args map[string]any) Result {
	prefix, _ := stringArg(args, "prefix")
	norm, err := normalizePath(prefix)
	if err != nil {
		return Result{Success: false, Error: err.Error(), ErrorType: "invalid_argument"}
	}
	if norm == "." {
		norm = ""
	}

	if s.repo == nil {
		return Result{Success: false, Error: "no repo configured", ErrorType: "internal"}
	}
	files, err := s.repo.ListFiles(ctx, s.repoName, norm)
	if err != nil {
		return Result{Success: false, Error: err.Error(), ErrorType: "internal"}
	}
	return Result{Success: true, Result: files}
}
