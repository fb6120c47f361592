package runner

import "strings"

// criticality is the outcome of classifyToolError.
type criticality int

const (
	nonCritical criticality = iota
	critical
)

var nonCriticalSubstrings = []string{
	"timeout", "timed out", "rate_limited", "rate limit", "temporarily unavailable",
}

var criticalConfigSubstrings = []string{
	"not configured", "no ssh key", "ssh key not found", "not connected",
	"not found in path", "ssh client not found", "connector_not_configured",
	"invalid_credentials", "credentials have expired",
}

var executionSetupSubstrings = []string{"ssh", "connection", "host", "unreachable"}

// classifyToolError applies the fail-fast substring list (§4.D): a
// case-insensitive match over the combined result + extracted message. The
// literal substrings and the non-critical-wins-first ordering come directly
// from §4.D's specification text (no equivalent classifier exists in
// original_source/roundabout_monitor.py to port from).
func classifyToolError(result, extracted string) criticality {
	haystack := strings.ToLower(result + " " + extracted)

	for _, s := range nonCriticalSubstrings {
		if strings.Contains(haystack, s) {
			return nonCritical
		}
	}

	for _, s := range criticalConfigSubstrings {
		if strings.Contains(haystack, s) {
			return critical
		}
	}
	if strings.Contains(haystack, "permission_denied") {
		return critical
	}
	if strings.Contains(haystack, "validation_error") {
		return critical
	}
	if strings.Contains(haystack, "execution_error") {
		for _, s := range executionSetupSubstrings {
			if strings.Contains(haystack, s) {
				return critical
			}
		}
	}

	return nonCritical
}
