package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrIllegalRunTransition is returned when a status change does not follow
// QUEUED -> RUNNING -> (SUCCESS | FAILED).
var ErrIllegalRunTransition = errors.New("illegal agent run status transition")

var legalRunTransitions = map[RunStatus]map[RunStatus]bool{
	RunQueued:  {RunRunning: true},
	RunRunning: {RunSuccess: true, RunFailed: true},
}

// CreateAgentRun inserts a new run in QUEUED status.
func (c *Client) CreateAgentRun(ctx context.Context, r *AgentRun) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = RunQueued
	}
	_, err := c.sqlx.ExecContext(ctx, `INSERT INTO agent_runs
		(id, agent_id, thread_id, trigger, status)
		VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.AgentID, r.ThreadID, r.Trigger, r.Status)
	if err != nil {
		return fmt.Errorf("creating agent run: %w", err)
	}
	return nil
}

// GetAgentRun fetches a run by id.
func (c *Client) GetAgentRun(ctx context.Context, id uuid.UUID) (*AgentRun, error) {
	var r AgentRun
	err := c.sqlx.GetContext(ctx, &r, `SELECT id, agent_id, thread_id, trigger, status, started_at,
		finished_at, duration_ms, total_tokens, total_cost_usd, error, summary, created_at, updated_at
		FROM agent_runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting agent run %s: %w", id, err)
	}
	return &r, nil
}

// TransitionRunStatus atomically validates and applies a status change,
// stamping started_at/finished_at/duration_ms as the transition demands.
// Rejects anything outside QUEUED->RUNNING->(SUCCESS|FAILED).
func (c *Client) TransitionRunStatus(ctx context.Context, id uuid.UUID, to RunStatus, runErr *string) error {
	tx, err := c.sqlx.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	var current RunStatus
	var startedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `SELECT status, started_at FROM agent_runs WHERE id = $1 FOR UPDATE`, id).Scan(&current, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("locking agent run %s: %w", id, err)
	}

	if !legalRunTransitions[current][to] {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalRunTransition, current, to)
	}

	now := time.Now().UTC()

	switch to {
	case RunRunning:
		_, err = tx.ExecContext(ctx, `UPDATE agent_runs SET status = $1, started_at = $2, updated_at = now() WHERE id = $3`, to, now, id)
	case RunSuccess, RunFailed:
		var durationMs *int64
		if startedAt.Valid {
			d := now.Sub(startedAt.Time).Milliseconds()
			durationMs = &d
		}
		_, err = tx.ExecContext(ctx, `UPDATE agent_runs SET status = $1, finished_at = $2, duration_ms = $3,
			error = $4, updated_at = now() WHERE id = $5`, to, now, durationMs, runErr, id)
	}
	if err != nil {
		return fmt.Errorf("applying run transition %s -> %s: %w", current, to, err)
	}

	return tx.Commit()
}

// RecordRunUsage accumulates token/cost totals on a run (§4.D expansion).
func (c *Client) RecordRunUsage(ctx context.Context, id uuid.UUID, tokens int, costUSD float64) error {
	_, err := c.sqlx.ExecContext(ctx, `UPDATE agent_runs SET
		total_tokens = COALESCE(total_tokens, 0) + $1,
		total_cost_usd = COALESCE(total_cost_usd, 0) + $2,
		updated_at = now() WHERE id = $3`, tokens, costUSD, id)
	if err != nil {
		return fmt.Errorf("recording usage for run %s: %w", id, err)
	}
	return nil
}

// SetRunSummary stores the truncated first-assistant-message summary (§4.D).
func (c *Client) SetRunSummary(ctx context.Context, id uuid.UUID, summary string) error {
	_, err := c.sqlx.ExecContext(ctx, `UPDATE agent_runs SET summary = $1, updated_at = now() WHERE id = $2`, summary, id)
	if err != nil {
		return fmt.Errorf("setting summary for run %s: %w", id, err)
	}
	return nil
}

// ListRunsByAgent lists an agent's runs, most recent first.
func (c *Client) ListRunsByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]AgentRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []AgentRun
	err := c.sqlx.SelectContext(ctx, &runs, `SELECT id, agent_id, thread_id, trigger, status, started_at,
		finished_at, duration_ms, total_tokens, total_cost_usd, error, summary, created_at, updated_at
		FROM agent_runs WHERE agent_id = $1 ORDER BY created_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs for agent %s: %w", agentID, err)
	}
	return runs, nil
}
