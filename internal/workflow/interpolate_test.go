package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerg-labs/zerg-core/internal/db"
)

func sampleOutputs() map[string]db.NodeEnvelope {
	return map[string]db.NodeEnvelope{
		"fetch": {
			Value: map[string]interface{}{"status": "ok", "a": map[string]interface{}{"b": map[string]interface{}{"c": 42}}},
			Meta:  map[string]interface{}{"tool": "http_get"},
		},
	}
}

func TestInterpolate_TopLevelAndNestedPath(t *testing.T) {
	got, err := Interpolate("status is ${fetch.value.status}", sampleOutputs())
	require.NoError(t, err)
	assert.Equal(t, "status is ok", got)

	got, err = Interpolate("${fetch.value.a.b.c}", sampleOutputs())
	require.NoError(t, err)
	assert.Equal(t, "42", got)
}

func TestInterpolate_MetaPath(t *testing.T) {
	got, err := Interpolate("${fetch.meta.tool}", sampleOutputs())
	require.NoError(t, err)
	assert.Equal(t, "http_get", got)
}

func TestInterpolate_MissingPathLeftLiteral(t *testing.T) {
	got, err := Interpolate("${nope.value.x}", sampleOutputs())
	require.NoError(t, err)
	assert.Equal(t, "${nope.value.x}", got)
}

func TestInterpolateConfig_WalksNestedStructures(t *testing.T) {
	cfg := map[string]interface{}{
		"prompt": "use ${fetch.value.status}",
		"nested": map[string]interface{}{
			"list": []interface{}{"literal", "${fetch.value.a.b.c}"},
		},
	}
	out, err := InterpolateConfig(cfg, sampleOutputs())
	require.NoError(t, err)

	assert.Equal(t, "use ok", out["prompt"])
	nested := out["nested"].(map[string]interface{})
	list := nested["list"].([]interface{})
	assert.Equal(t, "literal", list[0])
	assert.Equal(t, "42", list[1])
}
