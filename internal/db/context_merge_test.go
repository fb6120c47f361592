package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeUserContext_DeepMergesNestedMaps(t *testing.T) {
	base := JSONB{
		"prefs": map[string]interface{}{
			"theme":    "dark",
			"timezone": "UTC",
		},
		"scratch": "keep-me",
	}
	patch := JSONB{
		"prefs": map[string]interface{}{
			"theme": "light",
		},
	}

	merged, err := MergeUserContext(base, patch)
	require.NoError(t, err)

	prefs, ok := merged["prefs"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "light", prefs["theme"])
	assert.Equal(t, "UTC", prefs["timezone"])
	assert.Equal(t, "keep-me", merged["scratch"])
}

func TestMergeUserContext_NilValueDeletesKey(t *testing.T) {
	base := JSONB{"a": "1", "b": "2"}
	patch := JSONB{"a": nil}

	merged, err := MergeUserContext(base, patch)
	require.NoError(t, err)

	_, exists := merged["a"]
	assert.False(t, exists)
	assert.Equal(t, "2", merged["b"])
}

func TestMergeUserContext_RejectsOversizedResult(t *testing.T) {
	base := JSONB{}
	patch := JSONB{"blob": strings.Repeat("x", MaxUserContextBytes+1)}

	_, err := MergeUserContext(base, patch)
	require.ErrorIs(t, err, ErrContextTooLarge)
}
