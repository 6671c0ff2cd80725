// Package fingerprint derives stable incident signatures from log content,
// normalizing volatile tokens (timestamps, IPs, UUIDs) so that recurring
// errors hash identically across occurrences.
//
// Grounded on spec §4.A; normalization helper reused by the ticket adapter's
// enhanced description renderer.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/sentineld/resolveops/pkg/models"
)

const (
	// maxMessageLen is the per-message truncation applied before hashing.
	maxMessageLen = 200
	// hexLen is the number of hex characters kept from the SHA-256 digest.
	hexLen = 16
)

var (
	isoTimestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?`)
	ipv4Pattern         = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	uuidPattern         = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
)

// NormalizeMessage replaces ISO timestamps, IPv4 addresses, and UUIDs with
// stable tokens, then truncates to maxMessageLen characters.
func NormalizeMessage(msg string) string {
	normalized := isoTimestampPattern.ReplaceAllString(msg, "[TIMESTAMP]")
	normalized = ipv4Pattern.ReplaceAllString(normalized, "[IP]")
	normalized = uuidPattern.ReplaceAllString(normalized, "[UUID]")

	if len(normalized) > maxMessageLen {
		normalized = normalized[:maxMessageLen]
	}
	return normalized
}

// Fingerprint derives a 16-hex stable incident signature from the incident
// header and the first three logs. Never fails: on any unexpected condition
// it falls back to hashing the incident ID.
func Fingerprint(incident *models.Incident, logs []*models.LogEntry) string {
	defer func() {
		// No-op recover guard; Fingerprint below never panics, but the
		// "never fails" contract is made explicit for future maintainers
		// touching the normalization regexes.
		_ = recover()
	}()
	return compute(incident, logs)
}

func compute(incident *models.Incident, logs []*models.LogEntry) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = hashString(incident.ID)
		}
	}()

	parts := []string{
		incident.ServiceName,
		incident.Source,
		string(incident.Severity),
	}

	limit := 3
	if len(logs) < limit {
		limit = len(logs)
	}
	for i := 0; i < limit; i++ {
		parts = append(parts, NormalizeMessage(logs[i].Message))
	}
	// Pad so that incidents with fewer than 3 logs still hash deterministically
	// against the same (service, source, severity) header.
	for len(parts) < 3+3 {
		parts = append(parts, "")
	}

	return hashString(strings.Join(parts, "|"))
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hexLen]
}

// ErrorType classifies a fingerprint + root cause into a coarse error type
// used as the key for learning-pattern retrieval (spec §4.A
// classify_error_type).
func ErrorType(fingerprint string, rootCause string) string {
	rc := strings.ToLower(rootCause)
	switch {
	case strings.Contains(rc, "timeout") || strings.Contains(rc, "deadline"):
		return "timeout"
	case strings.Contains(rc, "nil") || strings.Contains(rc, "null") || strings.Contains(rc, "undefined"):
		return "nil_dereference"
	case strings.Contains(rc, "connection") || strings.Contains(rc, "network"):
		return "connectivity"
	case strings.Contains(rc, "permission") || strings.Contains(rc, "unauthorized") || strings.Contains(rc, "forbidden"):
		return "authorization"
	case strings.Contains(rc, "memory") || strings.Contains(rc, "oom"):
		return "resource_exhaustion"
	case rootCause == "":
		return "unknown:" + fingerprint
	default:
		return "generic"
	}
}
