// Package workflow implements the DAG execution engine (§4.F): load a
// stored canvas, validate it acyclic, topologically build a state graph
// once per execution, then stream node completions with a commutative
// reducer over shared execution state. No single teacher file matches this
// shape (Shannon's DAGs are Temporal workflow functions); the graph-build
// idiom is grounded on the other_examples pack's workflow-engine files
// (igoryanba-ricochet-task, zkoranges-go-claw), the commutative-reducer
// state merge on a third (the "..._dag_engine.go.go" file), and the
// node-output envelope contract is spec-original.
package workflow

import (
	"fmt"

	"github.com/zerg-labs/zerg-core/internal/db"
	"github.com/zerg-labs/zerg-core/internal/validation"
)

// Graph is the once-per-execution compiled form of a Workflow's canvas.
type Graph struct {
	Nodes      map[string]db.WorkflowNode
	outEdges   map[string][]db.WorkflowEdge
	inDegree   map[string]int
	startNodes []string
}

// Build validates data as acyclic (Kahn's algorithm, reused from
// internal/validation) and compiles it into a Graph ready for execution.
func Build(data db.WorkflowData) (*Graph, error) {
	subtasks := make([]validation.SubtaskInfo, 0, len(data.Nodes))
	deps := make(map[string][]string, len(data.Nodes))
	for _, n := range data.Nodes {
		deps[n.ID] = nil
	}
	for _, e := range data.Edges {
		deps[e.ToNodeID] = append(deps[e.ToNodeID], e.FromNodeID)
	}
	for _, n := range data.Nodes {
		subtasks = append(subtasks, validation.SubtaskInfo{ID: n.ID, Dependencies: deps[n.ID]})
	}

	result := validation.DetectCyclicDependencies(subtasks)
	if result.HasCycle {
		return nil, fmt.Errorf("workflow canvas has a cycle: %s", result.ErrorMessage)
	}

	g := &Graph{
		Nodes:    make(map[string]db.WorkflowNode, len(data.Nodes)),
		outEdges: make(map[string][]db.WorkflowEdge),
		inDegree: make(map[string]int, len(data.Nodes)),
	}
	for _, n := range data.Nodes {
		g.Nodes[n.ID] = n
		g.inDegree[n.ID] = 0
	}
	for _, e := range data.Edges {
		if _, ok := g.Nodes[e.FromNodeID]; !ok {
			return nil, fmt.Errorf("edge references unknown source node %q", e.FromNodeID)
		}
		if _, ok := g.Nodes[e.ToNodeID]; !ok {
			return nil, fmt.Errorf("edge references unknown target node %q", e.ToNodeID)
		}
		g.outEdges[e.FromNodeID] = append(g.outEdges[e.FromNodeID], e)
		g.inDegree[e.ToNodeID]++
	}
	for id, deg := range g.inDegree {
		if deg == 0 {
			g.startNodes = append(g.startNodes, id)
		}
	}
	return g, nil
}

// StartNodes returns every node with no incoming edges.
func (g *Graph) StartNodes() []string {
	out := make([]string, len(g.startNodes))
	copy(out, g.startNodes)
	return out
}

// OutEdges returns the outgoing edges of a node.
func (g *Graph) OutEdges(nodeID string) []db.WorkflowEdge {
	return g.outEdges[nodeID]
}

// Next resolves the edges to actually traverse from a finished node,
// applying the conditional router (§4.F step 3) when the node is
// conditional: "true" routes to the first "true"-branch edge, "false" to
// the first "false"-branch edge, and no match routes nowhere (implicit END).
func (g *Graph) Next(nodeID string, output db.NodeEnvelope) []db.WorkflowEdge {
	node := g.Nodes[nodeID]
	edges := g.outEdges[nodeID]
	if node.Type != "conditional" {
		return edges
	}

	branch, _ := output.Value.(map[string]interface{})["branch"].(string)
	for _, e := range edges {
		if cfgBranch, _ := e.Config["branch"].(string); cfgBranch == branch {
			return []db.WorkflowEdge{e}
		}
	}
	return nil
}

// Indegree exposes each node's incoming-edge count, used by the executor to
// know when a node's dependencies have all completed.
func (g *Graph) Indegree(nodeID string) int {
	return g.inDegree[nodeID]
}
