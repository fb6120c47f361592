package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyToolError(t *testing.T) {
	cases := []struct {
		name     string
		result   string
		extract  string
		expected criticality
	}{
		{"missing field validation", `validation_error: missing field 'token'`, "", critical},
		{"ssh key not found", "ssh key not found on host", "", critical},
		{"permission denied", "permission_denied: cannot write", "", critical},
		{"execution error with ssh", "execution_error: ssh connection refused", "", critical},
		{"execution error without network words", "execution_error: unknown failure", "", nonCritical},
		{"timeout always wins", "validation_error but also timed out", "", nonCritical},
		{"rate limited", "rate_limited by upstream", "", nonCritical},
		{"unrecognized default", "something went wrong", "", nonCritical},
		{"case insensitive", "PERMISSION_DENIED", "", critical},
		{"checked across both fields", "generic failure", "connector_not_configured", critical},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, classifyToolError(tc.result, tc.extract))
		})
	}
}
