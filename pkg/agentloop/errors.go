package agentloop

import "strings"

// errorClass is how a step failure is handled (spec §4.J retry policy).
type errorClass string

const (
	// errorRetryable means retry the same step, up to MaxRetriesPerStep.
	errorRetryable errorClass = "retryable"
	// errorCritical means abandon the run entirely — no replan helps.
	errorCritical errorClass = "critical"
	// errorNonRetryable means the step itself can't succeed as written;
	// replan instead of retrying verbatim.
	errorNonRetryable errorClass = "non_retryable"
)

// classifyError buckets a sandbox tool error into a retry policy bucket.
// Grounded on the sandbox's own ErrorType taxonomy (not_found,
// invalid_argument, validation_failed, internal).
func classifyError(errType string) errorClass {
	switch errType {
	case "not_found", "validation_failed":
		return errorRetryable
	case "invalid_argument":
		return errorNonRetryable
	case "internal":
		return errorCritical
	default:
		return errorRetryable
	}
}

// isRepeatedFileNotFound special-cases the same missing path failing
// twice in a row for one step — a sign the plan itself named a file that
// doesn't exist, so retrying verbatim won't help; replan instead.
func isRepeatedFileNotFound(prevErrType, prevErr, errType, errMsg string) bool {
	if prevErrType != "not_found" || errType != "not_found" {
		return false
	}
	return strings.TrimSpace(prevErr) != "" && prevErr == errMsg
}
