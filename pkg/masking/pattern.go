package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// resolvedPatterns holds the resolved set of maskers and patterns for a
// masking operation.
type resolvedPatterns struct {
	codeMaskerNames []string
	regexPatterns   []*CompiledPattern
}

// builtinPattern is the uncompiled source for one of the fixed patterns
// below — every deployment gets the same set, since there is no longer a
// per-integration config registry to vary it.
type builtinPattern struct {
	pattern     string
	replacement string
	description string
}

// builtinPatterns is the fixed catalog of secret-shaped substrings masked
// out of anything this service forwards to a third-party integration
// (Slack messages, Linear issue bodies) or persists in the knowledge
// base. Order doesn't matter — every pattern in a resolved group is
// applied independently.
var builtinPatterns = map[string]builtinPattern{
	"api_key": {
		pattern:     `(?i)(api[_-]?key)\s*[:=]\s*"?[A-Za-z0-9_\-]{12,}"?`,
		replacement: "[MASKED_API_KEY]",
		description: "Generic API key assignment",
	},
	"password": {
		pattern:     `(?i)(password)\s*[:=]\s*"?[^\s"]{8,}"?`,
		replacement: "[MASKED_PASSWORD]",
		description: "Password assignment of at least 8 characters",
	},
	"certificate": {
		pattern:     `(?s)-----BEGIN [A-Z ]*CERTIFICATE-----.*?-----END [A-Z ]*CERTIFICATE-----`,
		replacement: "[MASKED_CERTIFICATE]",
		description: "PEM certificate block",
	},
	"private_key_pem": {
		pattern:     `(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`,
		replacement: "[MASKED_CERTIFICATE]",
		description: "PEM private key block",
	},
	"certificate_authority_data": {
		pattern:     `(?i)certificate-authority-data:\s*[A-Za-z0-9+/=]{16,}`,
		replacement: "[MASKED_CA_CERTIFICATE]",
		description: "Kubernetes kubeconfig CA data",
	},
	"token": {
		pattern:     `(?i)\bbearer\s*:?\s*[A-Za-z0-9\-_.]{20,}`,
		replacement: "[MASKED_TOKEN]",
		description: "Bearer token",
	},
	"email": {
		pattern:     `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
		replacement: "[MASKED_EMAIL]",
		description: "Email address",
	},
	"ssh_key": {
		pattern:     `ssh-(?:rsa|ed25519|dss) [A-Za-z0-9+/=]{20,}(?: \S+)?`,
		replacement: "[MASKED_SSH_KEY]",
		description: "SSH public key",
	},
	"private_key": {
		pattern:     `(?i)private_key\s*[:=]\s*"?sk_[A-Za-z0-9_]{10,}"?`,
		replacement: "[MASKED_PRIVATE_KEY]",
		description: "Inline private/secret key assignment",
	},
	"secret_key": {
		pattern:     `(?i)secret_key\s*[:=]\s*"?sec_[A-Za-z0-9_]{6,}"?`,
		replacement: "[MASKED_SECRET_KEY]",
		description: "Generic secret key assignment",
	},
	"aws_access_key": {
		pattern:     `\bAKIA[A-Z0-9]{12,}\b`,
		replacement: "[MASKED_AWS_KEY]",
		description: "AWS access key ID",
	},
	"aws_secret_key": {
		pattern:     `(?i)aws_secret_access_key\s*[:=]\s*"?[A-Za-z0-9/+=]{30,}"?`,
		replacement: "[MASKED_AWS_SECRET]",
		description: "AWS secret access key",
	},
	"github_token": {
		pattern:     `gh[po]_[A-Za-z0-9]{20,}`,
		replacement: "[MASKED_GITHUB_TOKEN]",
		description: "GitHub personal access / OAuth token",
	},
	"slack_token": {
		pattern:     `xox[baprs]-[A-Za-z0-9\-]{10,}`,
		replacement: "[MASKED_SLACK_TOKEN]",
		description: "Slack bot/user/app token",
	},
	"base64_secret": {
		pattern:     `\b[A-Za-z0-9+/]{44,}={0,2}\b`,
		replacement: "[MASKED_BASE64_VALUE]",
		description: "Long base64-encoded value, likely a secret blob",
	},
	"base64_short": {
		pattern:     `(?i)\bkey\s*:\s*[A-Za-z0-9+/]{8,43}={0,2}\b`,
		replacement: "[MASKED_SHORT_BASE64]",
		description: "Short base64-encoded value assigned to a *key field",
	},
}

// builtinPatternGroups names the subsets of builtinPatterns applied
// together by resolvePatternsFromGroup. "all" is every pattern; the
// others mirror the teacher's per-integration groupings, generalized
// to apply uniformly instead of per-server.
var builtinPatternGroups = map[string][]string{
	"basic": {"api_key", "password"},
	"security": {
		"api_key", "password", "token", "email", "certificate",
		"private_key_pem", "ssh_key", "private_key", "secret_key",
	},
	"kubernetes": {
		"certificate_authority_data", "api_key", "password", "base64_secret",
	},
	"all": {
		"api_key", "password", "certificate", "private_key_pem",
		"certificate_authority_data", "token", "email", "ssh_key",
		"private_key", "secret_key", "aws_access_key", "aws_secret_key",
		"github_token", "slack_token", "base64_secret", "base64_short",
	},
}

// builtinCodeMaskers names the Masker implementations applied ahead of
// regex patterns for groups that include them.
var builtinCodeMaskers = map[string]bool{
	"kubernetes_secret": true,
}

// compileBuiltinPatterns compiles every entry in builtinPatterns. Invalid
// patterns are logged and skipped rather than failing startup — the
// catalog above is static and should never actually fail to compile, but
// a future edit that breaks a regex shouldn't take down the service.
func (s *Service) compileBuiltinPatterns() {
	for name, p := range builtinPatterns {
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("masking: failed to compile built-in pattern, skipping", "pattern", name, "error", err)
			continue
		}
		s.patterns[name] = &CompiledPattern{Name: name, Regex: compiled, Replacement: p.replacement, Description: p.description}
	}
}

// resolvePatternsFromGroup expands a pattern group name into the code
// maskers and compiled regex patterns it names.
func (s *Service) resolvePatternsFromGroup(groupName string) *resolvedPatterns {
	resolved := &resolvedPatterns{}
	names, ok := builtinPatternGroups[groupName]
	if !ok {
		return resolved
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		s.addToResolved(resolved, name)
	}
	return resolved
}

// addToResolved classifies name as a code masker or a compiled regex
// pattern and appends it to resolved.
func (s *Service) addToResolved(resolved *resolvedPatterns, name string) {
	if builtinCodeMaskers[name] {
		resolved.codeMaskerNames = append(resolved.codeMaskerNames, name)
		return
	}
	if cp, ok := s.patterns[name]; ok {
		resolved.regexPatterns = append(resolved.regexPatterns, cp)
	}
}
