package ticket

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sentineld/resolveops/pkg/models"
)

// maxSpanRows, maxStackTraces, maxStackTraceChars, maxFlowDepth, and
// maxRecentErrorLogs are the enhanced-description caps (spec §6),
// grounded on original_source's build_enhanced_linear_description /
// build_trace_execution_flow.
const (
	maxSpanRows        = 20
	maxStackTraces     = 5
	maxStackTraceChars = 1000
	maxFlowDepth       = 20
	maxRecentErrorLogs = 5
)

// vendorDependencyPattern flags stack-trace lines pointing into
// vendored/third-party code, mirroring original_source's
// is_stacktrace_from_node_modules substring check generalized to Go,
// Node, and Python dependency trees.
var vendorDependencyPattern = regexp.MustCompile(`(^|[/\\])(node_modules|vendor|site-packages|third_party)[/\\]`)

// relevantMetadataKeys is the metadata allowlist surfaced in the
// Metadata section — everything else on Incident.Metadata is internal
// bookkeeping (stack frames, span data, ticket ids) rendered elsewhere
// or not at all.
var relevantMetadataKeys = []string{"environment", "version", "deployment", "region", "host", "container_id"}

// buildEnhancedDescription renders the full Markdown ticket body for an
// incident (spec §6's section list): Incident Details, Description, Root
// Cause, Trace Information, Spans, Execution Flow, Stack Traces, Related
// Logs Summary, Metadata, Action Taken, Repository. Every section is
// omitted entirely when its source data is absent, matching the
// original's "only emit what we have" shape.
func buildEnhancedDescription(inc *models.Incident) string {
	var b strings.Builder

	writeIncidentDetails(&b, inc)
	writeDescriptionSection(&b, inc)
	writeRootCause(&b, inc)
	writeTraceInformation(&b, inc)
	writeStackTraces(&b, inc)
	writeRelatedLogsSummary(&b, inc)
	writeMetadata(&b, inc)
	writeActionTaken(&b, inc)
	writeRepository(&b, inc)

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeIncidentDetails(b *strings.Builder, inc *models.Incident) {
	b.WriteString("## Incident Details\n")
	fmt.Fprintf(b, "**Service:** %s\n", orNA(inc.ServiceName))
	fmt.Fprintf(b, "**Severity:** %s\n", orNA(string(inc.Severity)))
	fmt.Fprintf(b, "**Source:** %s\n", orNA(inc.Source))
	fmt.Fprintf(b, "**Status:** %s\n", orNA(string(inc.Status)))
	fmt.Fprintf(b, "**First Seen:** %s\n", formatTimestamp(inc.FirstSeenAt))
	fmt.Fprintf(b, "**Last Seen:** %s\n\n", formatTimestamp(inc.LastSeenAt))
}

func writeDescriptionSection(b *strings.Builder, inc *models.Incident) {
	if inc.Description == "" {
		return
	}
	b.WriteString("## Description\n")
	b.WriteString(inc.Description)
	b.WriteString("\n\n")
}

func writeRootCause(b *strings.Builder, inc *models.Incident) {
	if inc.RootCause == nil || *inc.RootCause == "" {
		return
	}
	b.WriteString("## Root Cause\n")
	b.WriteString(*inc.RootCause)
	b.WriteString("\n\n")
}

func writeTraceInformation(b *strings.Builder, inc *models.Incident) {
	traceIDs := extractTraceIDs(inc.Metadata)
	spans := extractSpans(inc.Metadata)
	if len(traceIDs) == 0 && len(spans) == 0 {
		return
	}

	b.WriteString("## Trace Information\n")
	if len(traceIDs) > 0 {
		shown := traceIDs
		if len(shown) > 3 {
			shown = shown[:3]
		}
		fmt.Fprintf(b, "**Trace ID(s):** %s\n", strings.Join(shown, ", "))
		if extra := len(traceIDs) - len(shown); extra > 0 {
			fmt.Fprintf(b, "*(%d more trace(s))*\n", extra)
		}
	}
	b.WriteString("\n")

	if len(spans) == 0 {
		return
	}

	b.WriteString("### Spans\n")
	b.WriteString("| Span ID | Name | Duration | Status |\n")
	b.WriteString("|---------|------|----------|--------|\n")
	shown := spans
	if len(shown) > maxSpanRows {
		shown = shown[:maxSpanRows]
	}
	for _, s := range shown {
		status := "OK"
		if s.StatusCode == 2 {
			status = "ERROR"
		}
		fmt.Fprintf(b, "| `%s` | %s | %dms | %s |\n", truncate(s.SpanID, 16), truncate(s.Name, 30), s.DurationMS, status)
	}
	if extra := len(spans) - len(shown); extra > 0 {
		fmt.Fprintf(b, "*(%d more span(s))*\n", extra)
	}
	b.WriteString("\n")

	if flow := buildExecutionFlow(spans); flow != "" {
		b.WriteString("### Execution Flow\n```\n")
		b.WriteString(flow)
		b.WriteString("\n```\n\n")
	}
}

// buildExecutionFlow renders an ASCII tree of spans by parent/child
// relationship, root spans first, depth-capped and cycle-safe (spec §6:
// "max depth 20, cycle-safe"), grounded on original_source's format_span.
func buildExecutionFlow(spans []models.Span) string {
	byID := make(map[string]models.Span, len(spans))
	children := make(map[string][]models.Span)
	isChild := make(map[string]bool, len(spans))
	processedEdges := make(map[[2]string]bool, len(spans))
	for _, s := range spans {
		byID[s.SpanID] = s
	}
	for _, s := range spans {
		if s.ParentSpanID == "" || s.ParentSpanID == s.SpanID {
			continue
		}
		if _, ok := byID[s.ParentSpanID]; !ok {
			continue
		}
		// A direct parent<->child cycle (the presumed parent was already
		// recorded as this span's own child) is left as two independent
		// roots rather than dropped, so every span still surfaces somewhere.
		if processedEdges[[2]string{s.SpanID, s.ParentSpanID}] {
			continue
		}
		children[s.ParentSpanID] = append(children[s.ParentSpanID], s)
		isChild[s.SpanID] = true
		processedEdges[[2]string{s.ParentSpanID, s.SpanID}] = true
	}

	var roots []models.Span
	for _, s := range spans {
		if !isChild[s.SpanID] {
			roots = append(roots, s)
		}
	}

	var lines []string
	for _, r := range roots {
		formatSpan(r, 0, map[string]bool{}, children, &lines)
	}
	return strings.Join(lines, "\n")
}

func formatSpan(s models.Span, depth int, visited map[string]bool, children map[string][]models.Span, lines *[]string) {
	prefix := strings.Repeat("  ", depth)
	if visited[s.SpanID] {
		*lines = append(*lines, fmt.Sprintf("%s├─ [CYCLE DETECTED: %s]", prefix, s.Name))
		return
	}
	visited[s.SpanID] = true
	defer delete(visited, s.SpanID)

	status := "OK"
	if s.StatusCode == 2 {
		status = "ERROR"
	}
	*lines = append(*lines, fmt.Sprintf("%s├─ %s (%dms) [%s]", prefix, s.Name, s.DurationMS, status))

	if depth >= maxFlowDepth {
		*lines = append(*lines, fmt.Sprintf("%s├─ [MAX DEPTH REACHED]", strings.Repeat("  ", depth+1)))
		return
	}
	for _, c := range children[s.SpanID] {
		formatSpan(c, depth+1, visited, children, lines)
	}
}

func writeStackTraces(b *strings.Builder, inc *models.Incident) {
	traces := extractStackTraces(inc.Metadata)
	if len(traces) == 0 {
		return
	}
	b.WriteString("## Stack Traces\n")
	shown := traces
	if len(shown) > maxStackTraces {
		shown = shown[:maxStackTraces]
	}
	for i, t := range shown {
		fmt.Fprintf(b, "### Stack Trace %d\n```\n%s\n```\n\n", i+1, truncate(t, maxStackTraceChars))
	}
}

func writeRelatedLogsSummary(b *strings.Builder, inc *models.Incident) {
	if len(inc.LogIDs) == 0 {
		return
	}
	b.WriteString("## Related Logs Summary\n")
	fmt.Fprintf(b, "**Total Logs:** %d\n\n", len(inc.LogIDs))

	errorLogs := extractRecentErrorLogs(inc.Metadata)
	if len(errorLogs) == 0 {
		return
	}
	b.WriteString("### Recent Error Logs\n")
	shown := errorLogs
	if len(shown) > maxRecentErrorLogs {
		shown = shown[:maxRecentErrorLogs]
	}
	for _, l := range shown {
		fmt.Fprintf(b, "- **[%s]** `%s`: %s\n", orNA(l.timestamp), orNA(l.severity), truncate(l.message, 150))
	}
	b.WriteString("\n")
}

func writeMetadata(b *strings.Builder, inc *models.Incident) {
	if inc.Metadata == nil {
		return
	}
	var lines []string
	for _, key := range relevantMetadataKeys {
		if v, ok := inc.Metadata[key]; ok {
			lines = append(lines, fmt.Sprintf("**%s:** %v", titleCase(key), v))
		}
	}
	if len(lines) == 0 {
		return
	}
	b.WriteString("## Metadata\n")
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeActionTaken(b *strings.Builder, inc *models.Incident) {
	if inc.ActionTaken == nil || *inc.ActionTaken == "" {
		return
	}
	b.WriteString("## Action Taken\n")
	b.WriteString(*inc.ActionTaken)
	b.WriteString("\n\n")
}

func writeRepository(b *strings.Builder, inc *models.Incident) {
	if inc.RepoName == nil || *inc.RepoName == "" {
		return
	}
	b.WriteString("## Repository\n")
	fmt.Fprintf(b, "**Repo:** `%s`\n", *inc.RepoName)
}

// extractTraceIDs reads "trace_ids" ([]any of string) or a single
// "trace_id" (string) off incident metadata.
func extractTraceIDs(meta map[string]any) []string {
	if raw, ok := meta["trace_ids"].([]any); ok {
		ids := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok && s != "" {
				ids = append(ids, s)
			}
		}
		return ids
	}
	if s, ok := meta["trace_id"].(string); ok && s != "" {
		return []string{s}
	}
	return nil
}

// extractSpans decodes "spans" ([]any of map[string]any) off incident
// metadata into models.Span values.
func extractSpans(meta map[string]any) []models.Span {
	raw, ok := meta["spans"].([]any)
	if !ok {
		return nil
	}
	spans := make([]models.Span, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		var s models.Span
		if v, ok := m["span_id"].(string); ok {
			s.SpanID = v
		}
		if v, ok := m["parent_span_id"].(string); ok {
			s.ParentSpanID = v
		}
		if v, ok := m["name"].(string); ok {
			s.Name = v
		}
		if v, ok := m["duration_ms"].(float64); ok {
			s.DurationMS = int64(v)
		}
		if v, ok := m["status_code"].(float64); ok {
			s.StatusCode = int(v)
		}
		if s.SpanID != "" {
			spans = append(spans, s)
		}
	}
	return spans
}

// extractStackTraces reads "stack_traces" ([]any of string) off incident
// metadata, dropping any trace whose path-shaped lines resolve entirely
// to vendored/third-party code — only traces that touch the user's own
// code somewhere are worth surfacing in a ticket.
func extractStackTraces(meta map[string]any) []string {
	raw, ok := meta["stack_traces"].([]any)
	if !ok {
		return nil
	}
	traces := make([]string, 0, len(raw))
	for _, r := range raw {
		s, ok := r.(string)
		if !ok || s == "" || isDependencyOnlyTrace(s) {
			continue
		}
		traces = append(traces, s)
	}
	return traces
}

// isDependencyOnlyTrace reports whether every path-shaped line of a raw
// stack trace resolves to vendored/third-party code.
func isDependencyOnlyTrace(trace string) bool {
	sawPathLine := false
	for _, line := range strings.Split(trace, "\n") {
		if !looksLikeTraceLine(line) {
			continue
		}
		sawPathLine = true
		if !vendorDependencyPattern.MatchString(line) {
			return false
		}
	}
	return sawPathLine
}

func looksLikeTraceLine(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "at ") || strings.HasPrefix(line, `File "`) || strings.Contains(line, ".go:")
}

type recentErrorLog struct {
	timestamp, severity, message string
}

// extractRecentErrorLogs reads "recent_error_logs" ([]any of
// map[string]any with timestamp/severity/message keys) off incident
// metadata.
func extractRecentErrorLogs(meta map[string]any) []recentErrorLog {
	raw, ok := meta["recent_error_logs"].([]any)
	if !ok {
		return nil
	}
	logs := make([]recentErrorLog, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		var l recentErrorLog
		l.timestamp, _ = m["timestamp"].(string)
		l.severity, _ = m["severity"].(string)
		l.message, _ = m["message"].(string)
		logs = append(logs, l)
	}
	return logs
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.Format("2006-01-02 15:04:05 UTC")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func titleCase(key string) string {
	parts := strings.Split(key, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
