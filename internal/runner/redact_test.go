package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact_TopLevelSensitiveKeys(t *testing.T) {
	args := map[string]interface{}{
		"username":     "alice",
		"password":     "hunter2",
		"api_token":    "abc123",
		"client_secret": "shh",
		"ssh_key":      "-----BEGIN",
	}

	got := redact(args)

	assert.Equal(t, "alice", got["username"])
	assert.Equal(t, "[REDACTED]", got["password"])
	assert.Equal(t, "[REDACTED]", got["api_token"])
	assert.Equal(t, "[REDACTED]", got["client_secret"])
	assert.Equal(t, "[REDACTED]", got["ssh_key"])
}

func TestRedact_NestedMapsAndSlices(t *testing.T) {
	args := map[string]interface{}{
		"config": map[string]interface{}{
			"token": "nested-secret",
			"host":  "example.com",
		},
		"items": []interface{}{
			map[string]interface{}{"secret": "in-a-list"},
		},
	}

	got := redact(args)

	cfg := got["config"].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", cfg["token"])
	assert.Equal(t, "example.com", cfg["host"])

	item := got["items"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", item["secret"])
}
