package runner

import "strings"

var sensitiveKeySubstrings = []string{"password", "token", "secret", "key"}

// redact walks args recursively and replaces the value of any key whose
// name contains one of the sensitive substrings (case-insensitive) with a
// fixed placeholder, before WORKER_TOOL_STARTED is emitted (§4.D). Hand
// rolled on stdlib: no example repo ships a generic structure-redaction
// library, and a ~20-line map walk is simpler and safer than adding a
// dependency for it.
func redact(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		switch val := v.(type) {
		case map[string]interface{}:
			out[k] = redact(val)
		case []interface{}:
			out[k] = redactSlice(val)
		default:
			out[k] = v
		}
	}
	return out
}

func redactSlice(items []interface{}) []interface{} {
	out := make([]interface{}, len(items))
	for i, v := range items {
		if m, ok := v.(map[string]interface{}); ok {
			out[i] = redact(m)
		} else {
			out[i] = v
		}
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeySubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
