package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetWorkflow fetches a workflow definition by id, decoding its canvas.
func (c *Client) GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	var w Workflow
	err := c.sqlx.GetContext(ctx, &w, `SELECT id, owner_id, name, description, canvas, is_active
		FROM workflows WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting workflow %s: %w", id, err)
	}
	if err := decodeCanvas(&w); err != nil {
		return nil, err
	}
	return &w, nil
}

func decodeCanvas(w *Workflow) error {
	raw, err := json.Marshal(w.CanvasJSON)
	if err != nil {
		return fmt.Errorf("re-marshaling canvas for workflow %s: %w", w.ID, err)
	}
	if err := json.Unmarshal(raw, &w.Canvas); err != nil {
		return fmt.Errorf("decoding canvas for workflow %s: %w", w.ID, err)
	}
	return nil
}

// CreateWorkflow inserts a new workflow. Callers must validate the canvas
// (acyclic, all edges reference existing nodes) via internal/workflow before
// calling this — the store does not re-validate graph shape.
func (c *Client) CreateWorkflow(ctx context.Context, w *Workflow) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	canvasJSON, err := canvasToJSONB(w.Canvas)
	if err != nil {
		return err
	}
	_, err = c.sqlx.ExecContext(ctx, `INSERT INTO workflows (id, owner_id, name, description, canvas, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)`, w.ID, w.OwnerID, w.Name, w.Description, canvasJSON, w.IsActive)
	if err != nil {
		return fmt.Errorf("creating workflow: %w", err)
	}
	return nil
}

func canvasToJSONB(data WorkflowData) (JSONB, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling canvas: %w", err)
	}
	var out JSONB
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling canvas to jsonb: %w", err)
	}
	return out, nil
}

// UpdateWorkflowCanvas replaces a workflow's node/edge graph.
func (c *Client) UpdateWorkflowCanvas(ctx context.Context, id uuid.UUID, data WorkflowData) error {
	canvasJSON, err := canvasToJSONB(data)
	if err != nil {
		return err
	}
	res, err := c.sqlx.ExecContext(ctx, `UPDATE workflows SET canvas = $1 WHERE id = $2`, canvasJSON, id)
	if err != nil {
		return fmt.Errorf("updating workflow canvas %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateExecution starts a WAITING WorkflowExecution row.
func (c *Client) CreateExecution(ctx context.Context, e *WorkflowExecution) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Phase == "" {
		e.Phase = PhaseWaiting
	}
	if e.AttemptNo == 0 {
		e.AttemptNo = 1
	}
	_, err := c.sqlx.ExecContext(ctx, `INSERT INTO workflow_executions
		(id, workflow_id, phase, attempt_no, triggered_by) VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.WorkflowID, e.Phase, e.AttemptNo, e.TriggeredBy)
	if err != nil {
		return fmt.Errorf("creating workflow execution: %w", err)
	}
	return nil
}

// TransitionExecutionPhase moves a WorkflowExecution's phase, enforcing that
// result is set iff phase becomes FINISHED (§4.F, §8).
func (c *Client) TransitionExecutionPhase(ctx context.Context, id uuid.UUID, phase Phase, result *Result, failureKind *FailureKind, errMsg *string) error {
	e := WorkflowExecution{Phase: phase, Result: result}
	if !e.Valid() {
		return fmt.Errorf("invalid execution transition: phase=%s result=%v", phase, result)
	}

	now := time.Now().UTC()
	switch phase {
	case PhaseRunning:
		_, err := c.sqlx.ExecContext(ctx, `UPDATE workflow_executions SET phase = $1, started_at = $2, heartbeat_ts = $2 WHERE id = $3`, phase, now, id)
		if err != nil {
			return fmt.Errorf("transitioning execution %s to RUNNING: %w", id, err)
		}
	case PhaseFinished:
		_, err := c.sqlx.ExecContext(ctx, `UPDATE workflow_executions SET phase = $1, result = $2,
			failure_kind = $3, error_message = $4, finished_at = $5 WHERE id = $6`,
			phase, result, failureKind, errMsg, now, id)
		if err != nil {
			return fmt.Errorf("transitioning execution %s to FINISHED: %w", id, err)
		}
	default:
		_, err := c.sqlx.ExecContext(ctx, `UPDATE workflow_executions SET phase = $1 WHERE id = $2`, phase, id)
		if err != nil {
			return fmt.Errorf("transitioning execution %s to %s: %w", id, phase, err)
		}
	}
	return nil
}

// Heartbeat refreshes an execution's liveness timestamp; consumed by the
// Roundabout monitor's stuck-detection heuristic (§4.G).
func (c *Client) Heartbeat(ctx context.Context, id uuid.UUID) error {
	_, err := c.sqlx.ExecContext(ctx, `UPDATE workflow_executions SET heartbeat_ts = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("heartbeating execution %s: %w", id, err)
	}
	return nil
}

// GetExecution fetches a WorkflowExecution by id.
func (c *Client) GetExecution(ctx context.Context, id uuid.UUID) (*WorkflowExecution, error) {
	var e WorkflowExecution
	err := c.sqlx.GetContext(ctx, &e, `SELECT id, workflow_id, phase, result, attempt_no, failure_kind,
		error_message, triggered_by, started_at, finished_at, heartbeat_ts
		FROM workflow_executions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting execution %s: %w", id, err)
	}
	return &e, nil
}

// ListRunningExecutions returns every execution in RUNNING phase, polled by
// the Roundabout monitor.
func (c *Client) ListRunningExecutions(ctx context.Context) ([]WorkflowExecution, error) {
	var execs []WorkflowExecution
	err := c.sqlx.SelectContext(ctx, &execs, `SELECT id, workflow_id, phase, result, attempt_no, failure_kind,
		error_message, triggered_by, started_at, finished_at, heartbeat_ts
		FROM workflow_executions WHERE phase = $1`, PhaseRunning)
	if err != nil {
		return nil, fmt.Errorf("listing running executions: %w", err)
	}
	return execs, nil
}

// UpsertNodeState writes or replaces a node's execution state within an
// execution, enforcing the same FINISHED<=>result invariant as executions.
func (c *Client) UpsertNodeState(ctx context.Context, n *NodeExecutionState) error {
	if !n.Valid() {
		return fmt.Errorf("invalid node state: phase=%s result=%v", n.Phase, n.Result)
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	outputJSON, err := envelopeToJSONB(n.Output)
	if err != nil {
		return err
	}
	_, err = c.sqlx.ExecContext(ctx, `INSERT INTO node_execution_states
		(id, execution_id, node_id, phase, result, output, failure_kind, error_message, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (execution_id, node_id) DO UPDATE SET
			phase = EXCLUDED.phase, result = EXCLUDED.result, output = EXCLUDED.output,
			failure_kind = EXCLUDED.failure_kind, error_message = EXCLUDED.error_message,
			started_at = COALESCE(node_execution_states.started_at, EXCLUDED.started_at),
			finished_at = EXCLUDED.finished_at`,
		n.ID, n.ExecutionID, n.NodeID, n.Phase, n.Result, outputJSON, n.FailureKind, n.ErrorMessage, n.StartedAt, n.FinishedAt)
	if err != nil {
		return fmt.Errorf("upserting node state %s/%s: %w", n.ExecutionID, n.NodeID, err)
	}
	return nil
}

func envelopeToJSONB(e NodeEnvelope) (JSONB, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshaling node envelope: %w", err)
	}
	var out JSONB
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling node envelope to jsonb: %w", err)
	}
	return out, nil
}

// ListNodeStates returns every node's state for an execution, used to
// rebuild node_outputs/completed_nodes when replaying to a reconnecting
// WebSocket subscriber.
func (c *Client) ListNodeStates(ctx context.Context, executionID uuid.UUID) ([]NodeExecutionState, error) {
	var states []NodeExecutionState
	err := c.sqlx.SelectContext(ctx, &states, `SELECT id, execution_id, node_id, phase, result, output,
		failure_kind, error_message, started_at, finished_at FROM node_execution_states
		WHERE execution_id = $1`, executionID)
	if err != nil {
		return nil, fmt.Errorf("listing node states for execution %s: %w", executionID, err)
	}
	for i := range states {
		raw, err := json.Marshal(states[i].OutputJSON)
		if err != nil {
			continue
		}
		_ = json.Unmarshal(raw, &states[i].Output)
	}
	return states, nil
}
