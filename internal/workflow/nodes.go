package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/zerg-labs/zerg-core/internal/db"
	"github.com/zerg-labs/zerg-core/internal/registry"
	"github.com/zerg-labs/zerg-core/internal/runner"
)

// Deps bundles the collaborators a node executor needs; passed through from
// the Engine so each node kind stays a small, independently testable
// function rather than a method tangled into Engine's state.
type Deps struct {
	Store    *db.Client
	Tools    *registry.Registry
	Runner   *runner.Runner
	TriggerPayload interface{}
}

// executeNode dispatches to the node-kind executor and always returns an
// envelope, even on error (the envelope's meta carries the error so a
// conditional downstream can route on it if the canvas wants that).
func executeNode(ctx context.Context, node db.WorkflowNode, deps Deps, outputs map[string]db.NodeEnvelope) (db.NodeEnvelope, error) {
	cfg, err := InterpolateConfig(node.Config, outputs)
	if err != nil {
		return db.NodeEnvelope{}, fmt.Errorf("interpolating node %s config: %w", node.ID, err)
	}

	switch node.Type {
	case "trigger":
		return executeTrigger(deps)
	case "tool":
		return executeTool(ctx, cfg, deps)
	case "agent":
		return executeAgent(ctx, cfg, deps)
	case "conditional":
		return executeConditional(cfg, outputs)
	default:
		return db.NodeEnvelope{}, fmt.Errorf("unknown node type %q", node.Type)
	}
}

func executeTrigger(deps Deps) (db.NodeEnvelope, error) {
	return db.NodeEnvelope{Value: deps.TriggerPayload, Meta: map[string]interface{}{"kind": "trigger"}}, nil
}

// executeTool looks up "tool_name" and "static_params" from the interpolated
// config and invokes the registry exactly the way the agent runner does for
// an in-thread tool call, placing the tool's raw return under the envelope's
// value (§4.F node kinds).
func executeTool(ctx context.Context, cfg map[string]interface{}, deps Deps) (db.NodeEnvelope, error) {
	name, _ := cfg["tool_name"].(string)
	if name == "" {
		return db.NodeEnvelope{}, fmt.Errorf("tool node missing \"tool_name\" in config")
	}
	args, _ := cfg["static_params"].(map[string]interface{})

	tool, ok := deps.Tools.Get(name)
	if !ok {
		return db.NodeEnvelope{}, fmt.Errorf("unknown tool %q", name)
	}
	result, err := tool.Run(ctx, args)
	if err != nil {
		return db.NodeEnvelope{}, fmt.Errorf("tool %q: %w", name, err)
	}
	return db.NodeEnvelope{Value: result, Meta: map[string]interface{}{"tool_name": name}}, nil
}

// executeAgent resolves "agent_id" and "message" from the interpolated
// config, opens a scratch thread seeded with that message, and drives one
// full ReAct loop via internal/runner. The envelope value carries
// {messages, messages_created}: the ordered sequence of messages persisted
// during the turn, i.e. every message on the scratch thread after the seed
// (§4.F node kinds).
func executeAgent(ctx context.Context, cfg map[string]interface{}, deps Deps) (db.NodeEnvelope, error) {
	agentIDStr, _ := cfg["agent_id"].(string)
	agentID, err := uuid.Parse(agentIDStr)
	if err != nil {
		return db.NodeEnvelope{}, fmt.Errorf("agent node has invalid agent_id %q: %w", agentIDStr, err)
	}
	message, _ := cfg["message"].(string)

	agent, err := deps.Store.GetAgent(ctx, agentID)
	if err != nil {
		return db.NodeEnvelope{}, fmt.Errorf("loading agent %s: %w", agentID, err)
	}

	thread := &db.Thread{AgentID: agent.ID, ThreadType: db.ThreadTypeManual, Active: false}
	if err := deps.Store.CreateThread(ctx, thread); err != nil {
		return db.NodeEnvelope{}, fmt.Errorf("creating scratch thread: %w", err)
	}
	if err := deps.Store.AppendThreadMessage(ctx, &db.ThreadMessage{ThreadID: thread.ID, Role: db.RoleUserMsg, Content: message}); err != nil {
		return db.NodeEnvelope{}, fmt.Errorf("seeding scratch thread: %w", err)
	}

	if _, err := deps.Runner.Run(ctx, agent, thread, runner.Config{InWorkerContext: true}); err != nil {
		return db.NodeEnvelope{}, fmt.Errorf("agent node run: %w", err)
	}

	all, err := deps.Store.ListThreadMessages(ctx, thread.ID)
	if err != nil {
		return db.NodeEnvelope{}, fmt.Errorf("loading scratch thread messages: %w", err)
	}
	created := all
	if len(created) > 0 {
		created = created[1:] // drop the seed message we appended above
	}

	return db.NodeEnvelope{
		Value: map[string]interface{}{"messages": created, "messages_created": len(created)},
		Meta:  map[string]interface{}{"agent_id": agentID.String()},
	}, nil
}

// executeConditional evaluates the interpolated "condition" against
// "condition_type" (§4.F): "expression" supports ==, !=, <, <=, >, >= on
// numeric or quoted-string operands; "exists" checks whether a node output
// (optionally a dotted key within it) is present. Emits branch "true" or
// "false" for graph.Next's router. Grounded on the original's
// ConditionalNodeExecutor._evaluate_condition.
func executeConditional(cfg map[string]interface{}, outputs map[string]db.NodeEnvelope) (db.NodeEnvelope, error) {
	condition, _ := cfg["condition"].(string)
	if condition == "" {
		return db.NodeEnvelope{}, fmt.Errorf("conditional node missing \"condition\" in config")
	}
	conditionType, _ := cfg["condition_type"].(string)
	if conditionType == "" {
		conditionType = "expression"
	}

	var result bool
	switch conditionType {
	case "expression":
		result = evaluateExpressionCondition(condition)
	case "exists":
		result = evaluateExistsCondition(condition, outputs)
	default:
		return db.NodeEnvelope{}, fmt.Errorf("conditional node has unsupported condition_type %q", conditionType)
	}

	branch := "false"
	if result {
		branch = "true"
	}
	return db.NodeEnvelope{
		Value: map[string]interface{}{"result": result, "branch": branch},
		Meta:  map[string]interface{}{"condition": condition, "condition_type": conditionType},
	}, nil
}

// condOperand is a condition's operand after type coercion: numeric when it
// parses as a float, string otherwise.
type condOperand struct {
	isNum bool
	num   float64
	str   string
}

func convertCondOperand(raw string) condOperand {
	raw = strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return condOperand{isNum: true, num: f}
	}
	return condOperand{str: raw}
}

func condOperandsEqual(a, b condOperand) bool {
	if a.isNum && b.isNum {
		return a.num == b.num
	}
	if !a.isNum && !b.isNum {
		return a.str == b.str
	}
	return false
}

// evaluateExpressionCondition splits condition on the first operator found
// — checked in order >=, <=, ==, != , >, < so ">=" is never mistaken for
// ">" — converts both sides to a numeric or string operand, and compares.
// With no operator present, the condition is evaluated as a truthy check.
func evaluateExpressionCondition(condition string) bool {
	operators := []string{">=", "<=", "==", "!=", ">", "<"}
	for _, op := range operators {
		idx := strings.Index(condition, op)
		if idx < 0 {
			continue
		}
		left := convertCondOperand(condition[:idx])
		right := convertCondOperand(strings.Trim(strings.TrimSpace(condition[idx+len(op):]), `'"`))

		switch op {
		case "==":
			return condOperandsEqual(left, right)
		case "!=":
			return !condOperandsEqual(left, right)
		case ">":
			return left.num > right.num
		case "<":
			return left.num < right.num
		case ">=":
			return left.num >= right.num
		case "<=":
			return left.num <= right.num
		}
	}

	v := convertCondOperand(condition)
	if v.isNum {
		return v.num != 0
	}
	return v.str != ""
}

// evaluateExistsCondition checks "node_id" or "node_id.key" against the
// accumulated node outputs: bare node_id asks whether that node ran at all,
// node_id.key additionally requires the node's value to be a map containing
// key.
func evaluateExistsCondition(condition string, outputs map[string]db.NodeEnvelope) bool {
	nodeID, key, hasKey := strings.Cut(condition, ".")
	if !hasKey {
		_, ok := outputs[condition]
		return ok
	}
	env, ok := outputs[nodeID]
	if !ok {
		return false
	}
	m, ok := env.Value.(map[string]interface{})
	if !ok {
		return false
	}
	_, exists := m[key]
	return exists
}
