package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zerg-labs/zerg-core/internal/db"
	"github.com/zerg-labs/zerg-core/internal/registry"
)

func TestExecuteConditional_ExpressionNumericOperators(t *testing.T) {
	out, err := executeConditional(map[string]interface{}{"condition": "95 >= 90"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "true", out.Value.(map[string]interface{})["branch"])

	out, err = executeConditional(map[string]interface{}{"condition": "0.95 > 0.9"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "true", out.Value.(map[string]interface{})["branch"])

	out, err = executeConditional(map[string]interface{}{"condition": "10 > 90"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "false", out.Value.(map[string]interface{})["branch"])
}

func TestExecuteConditional_ExpressionStringEquality(t *testing.T) {
	// Grounded on the original's asymmetric quote-stripping: only the right
	// operand has surrounding quotes stripped, matching the "bare
	// interpolated value == 'literal'" shape spec examples use.
	out, err := executeConditional(map[string]interface{}{"condition": `ok == 'ok'`}, nil)
	require.NoError(t, err)
	assert.Equal(t, "true", out.Value.(map[string]interface{})["branch"])

	out, err = executeConditional(map[string]interface{}{"condition": `ok == 'nope'`}, nil)
	require.NoError(t, err)
	assert.Equal(t, "false", out.Value.(map[string]interface{})["branch"])
}

func TestExecuteConditional_Exists(t *testing.T) {
	outputs := map[string]db.NodeEnvelope{
		"tool-1": {Value: map[string]interface{}{"result": 1}},
	}

	out, err := executeConditional(map[string]interface{}{"condition": "tool-1.result", "condition_type": "exists"}, outputs)
	require.NoError(t, err)
	assert.Equal(t, "true", out.Value.(map[string]interface{})["branch"])

	out, err = executeConditional(map[string]interface{}{"condition": "tool-1.missing", "condition_type": "exists"}, outputs)
	require.NoError(t, err)
	assert.Equal(t, "false", out.Value.(map[string]interface{})["branch"])

	out, err = executeConditional(map[string]interface{}{"condition": "tool-2", "condition_type": "exists"}, outputs)
	require.NoError(t, err)
	assert.Equal(t, "false", out.Value.(map[string]interface{})["branch"])
}

func TestExecuteConditional_MissingConditionErrors(t *testing.T) {
	_, err := executeConditional(map[string]interface{}{}, nil)
	assert.Error(t, err)
}

func TestExecuteTrigger_EchoesPayload(t *testing.T) {
	out, err := executeTrigger(Deps{TriggerPayload: map[string]interface{}{"x": 1}})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"x": 1}, out.Value)
}

func TestExecuteTool_RunsRegisteredTool(t *testing.T) {
	reg := registry.New(nil, zap.NewNop())
	reg.RegisterRuntime(registry.Tool{
		Name: "echo",
		Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return args["msg"], nil
		},
	})

	out, err := executeTool(context.Background(), map[string]interface{}{
		"tool_name":     "echo",
		"static_params": map[string]interface{}{"msg": "hi"},
	}, Deps{Tools: reg})
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Value)
}

func TestExecuteTool_UnknownToolErrors(t *testing.T) {
	reg := registry.New(nil, zap.NewNop())
	_, err := executeTool(context.Background(), map[string]interface{}{"tool_name": "ghost"}, Deps{Tools: reg})
	assert.Error(t, err)
}

func TestExecuteNode_DispatchesByType(t *testing.T) {
	reg := registry.New(nil, zap.NewNop())
	node := db.WorkflowNode{ID: "cond", Type: "conditional", Config: map[string]interface{}{"condition": "a == a"}}

	out, err := executeNode(context.Background(), node, Deps{Tools: reg}, map[string]db.NodeEnvelope{})
	require.NoError(t, err)
	assert.Equal(t, "true", out.Value.(map[string]interface{})["branch"])
}

func TestExecuteNode_UnknownTypeErrors(t *testing.T) {
	reg := registry.New(nil, zap.NewNop())
	node := db.WorkflowNode{ID: "x", Type: "mystery"}
	_, err := executeNode(context.Background(), node, Deps{Tools: reg}, map[string]db.NodeEnvelope{})
	assert.Error(t, err)
}
