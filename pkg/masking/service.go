// Package masking strips secret-shaped substrings out of text before it
// is persisted to the knowledge base or forwarded to a third-party
// integration (Slack, Linear). Adapted from the teacher's per-MCP-server
// masking service: this system has no server registry, so one fixed
// pattern catalog (pattern.go) applies uniformly instead of being
// resolved per integration.
package masking

import "log/slog"

// Service applies data masking to sandbox tool output and outbound
// integration text. Created once at application startup; thread-safe and
// stateless aside from the compiled pattern catalog built in New.
type Service struct {
	patterns    map[string]*CompiledPattern
	codeMaskers map[string]Masker
	enabled     bool
	group       string
}

// New creates a masking service resolving the given pattern group
// ("basic", "security", "kubernetes", or "all") whenever enabled is true.
// All patterns are compiled eagerly; invalid patterns are logged and
// skipped.
func New(enabled bool, group string) *Service {
	s := &Service{
		patterns:    make(map[string]*CompiledPattern),
		codeMaskers: make(map[string]Masker),
		enabled:     enabled,
		group:       group,
	}
	s.compileBuiltinPatterns()
	s.registerMasker(&KubernetesSecretMasker{})

	slog.Info("masking service initialized",
		"compiled_patterns", len(s.patterns), "code_maskers", len(s.codeMaskers),
		"enabled", enabled, "group", group)
	return s
}

// Mask applies the configured pattern group to content produced by a
// sandbox tool call before it is appended to the event stream or stored
// as plan-step output. Fail-closed: a masking failure redacts the whole
// string rather than risk leaking it.
func (s *Service) Mask(content string) string {
	if !s.enabled || content == "" {
		return content
	}

	resolved := s.resolvePatternsFromGroup(s.group)
	if len(resolved.codeMaskerNames) == 0 && len(resolved.regexPatterns) == 0 {
		return content
	}

	masked, err := s.applyMasking(content, resolved)
	if err != nil {
		slog.Error("masking: failed, redacting content (fail-closed)", "error", err)
		return "[REDACTED: data masking failure, content could not be safely processed]"
	}
	return masked
}

// MaskOutboundText applies the configured pattern group to text about to
// leave the process toward Slack or Linear. Fail-open: a masking failure
// falls back to the original text rather than silently dropping an
// incident notification.
func (s *Service) MaskOutboundText(data string) string {
	if !s.enabled || data == "" {
		return data
	}

	resolved := s.resolvePatternsFromGroup(s.group)
	if len(resolved.codeMaskerNames) == 0 && len(resolved.regexPatterns) == 0 {
		return data
	}

	masked, err := s.applyMasking(data, resolved)
	if err != nil {
		slog.Error("masking: outbound masking failed, continuing unmasked (fail-open)", "error", err)
		return data
	}
	return masked
}

// applyMasking runs code-based maskers (structural, more specific) then
// regex patterns (general sweep) over content.
func (s *Service) applyMasking(content string, resolved *resolvedPatterns) (string, error) {
	masked := content

	for _, name := range resolved.codeMaskerNames {
		m, ok := s.codeMaskers[name]
		if !ok {
			continue
		}
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}

	for _, pattern := range resolved.regexPatterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}

	return masked, nil
}

func (s *Service) registerMasker(m Masker) {
	s.codeMaskers[m.Name()] = m
}
