package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerg-labs/zerg-core/internal/db"
)

func twoNodeData() db.WorkflowData {
	return db.WorkflowData{
		Nodes: []db.WorkflowNode{
			{ID: "a", Type: "tool"},
			{ID: "b", Type: "tool"},
		},
		Edges: []db.WorkflowEdge{
			{FromNodeID: "a", ToNodeID: "b"},
		},
	}
}

func TestBuild_StartNodesAndEdges(t *testing.T) {
	g, err := Build(twoNodeData())
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, g.StartNodes())
	assert.Len(t, g.OutEdges("a"), 1)
	assert.Equal(t, 0, g.Indegree("a"))
	assert.Equal(t, 1, g.Indegree("b"))
}

func TestBuild_RejectsCycle(t *testing.T) {
	data := db.WorkflowData{
		Nodes: []db.WorkflowNode{{ID: "a"}, {ID: "b"}},
		Edges: []db.WorkflowEdge{
			{FromNodeID: "a", ToNodeID: "b"},
			{FromNodeID: "b", ToNodeID: "a"},
		},
	}
	_, err := Build(data)
	assert.Error(t, err)
}

func TestBuild_RejectsUnknownEdgeEndpoint(t *testing.T) {
	data := db.WorkflowData{
		Nodes: []db.WorkflowNode{{ID: "a"}},
		Edges: []db.WorkflowEdge{{FromNodeID: "a", ToNodeID: "ghost"}},
	}
	_, err := Build(data)
	assert.Error(t, err)
}

func TestNext_ConditionalRoutesOnBranch(t *testing.T) {
	data := db.WorkflowData{
		Nodes: []db.WorkflowNode{
			{ID: "cond", Type: "conditional"},
			{ID: "yes", Type: "tool"},
			{ID: "no", Type: "tool"},
		},
		Edges: []db.WorkflowEdge{
			{FromNodeID: "cond", ToNodeID: "yes", Config: map[string]interface{}{"branch": "true"}},
			{FromNodeID: "cond", ToNodeID: "no", Config: map[string]interface{}{"branch": "false"}},
		},
	}
	g, err := Build(data)
	require.NoError(t, err)

	out := db.NodeEnvelope{Value: map[string]interface{}{"branch": "true"}}
	edges := g.Next("cond", out)
	require.Len(t, edges, 1)
	assert.Equal(t, "yes", edges[0].ToNodeID)
}

func TestNext_NonConditionalReturnsAllEdges(t *testing.T) {
	g, err := Build(twoNodeData())
	require.NoError(t, err)

	edges := g.Next("a", db.NodeEnvelope{})
	require.Len(t, edges, 1)
	assert.Equal(t, "b", edges[0].ToNodeID)
}
