package db

import (
	"encoding/json"
	"errors"
)

// ErrContextTooLarge is returned when a merged User.context would exceed
// MaxUserContextBytes once serialized.
var ErrContextTooLarge = errors.New("user context exceeds size cap")

// MergeUserContext deep-merges patch into base: nested maps merge key by
// key, any other value (including nil, to delete a key) replaces the
// existing one wholesale. Mirrors original_source's crud.py update_user
// merge behavior. The result is rejected if its serialized size exceeds
// MaxUserContextBytes, leaving base untouched.
func MergeUserContext(base JSONB, patch JSONB) (JSONB, error) {
	merged := deepMerge(base, patch)

	size, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	if len(size) > MaxUserContextBytes {
		return nil, ErrContextTooLarge
	}
	return merged, nil
}

func deepMerge(base, patch JSONB) JSONB {
	out := JSONB{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		patchMap, patchIsMap := v.(map[string]interface{})
		baseVal, exists := out[k]
		baseMap, baseIsMap := baseVal.(map[string]interface{})
		if patchIsMap && exists && baseIsMap {
			out[k] = deepMerge(JSONB(baseMap), JSONB(patchMap))
			continue
		}
		out[k] = v
	}
	return out
}
