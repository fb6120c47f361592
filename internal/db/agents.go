package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetAgent fetches an agent by id.
func (c *Client) GetAgent(ctx context.Context, id uuid.UUID) (*Agent, error) {
	var a Agent
	err := c.sqlx.GetContext(ctx, &a, `SELECT id, owner_id, name, system_instructions, task_instructions,
		model, status, schedule, config, allowed_tools, next_run_at, last_run_at, last_error,
		created_at, updated_at FROM agents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting agent %s: %w", id, err)
	}
	return &a, nil
}

// ListAgentsByOwner lists all agents owned by a user.
func (c *Client) ListAgentsByOwner(ctx context.Context, ownerID uuid.UUID) ([]Agent, error) {
	var agents []Agent
	err := c.sqlx.SelectContext(ctx, &agents, `SELECT id, owner_id, name, system_instructions, task_instructions,
		model, status, schedule, config, allowed_tools, next_run_at, last_run_at, last_error,
		created_at, updated_at FROM agents WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing agents for owner %s: %w", ownerID, err)
	}
	return agents, nil
}

// ListScheduledAgents lists every agent with a non-empty cron schedule, used
// to rehydrate the in-memory scheduler on startup.
func (c *Client) ListScheduledAgents(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	err := c.sqlx.SelectContext(ctx, &agents, `SELECT id, owner_id, name, system_instructions, task_instructions,
		model, status, schedule, config, allowed_tools, next_run_at, last_run_at, last_error,
		created_at, updated_at FROM agents WHERE schedule IS NOT NULL AND schedule <> ''`)
	if err != nil {
		return nil, fmt.Errorf("listing scheduled agents: %w", err)
	}
	return agents, nil
}

// CreateAgent inserts a new agent in IDLE status.
func (c *Client) CreateAgent(ctx context.Context, a *Agent) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = AgentStatusIdle
	}
	allowed := JSONB{"tools": toAnySlice(a.AllowedTools)}
	_, err := c.sqlx.ExecContext(ctx, `INSERT INTO agents
		(id, owner_id, name, system_instructions, task_instructions, model, status, schedule, config, allowed_tools)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.OwnerID, a.Name, a.SystemInstructions, a.TaskInstructions, a.Model, a.Status, a.Schedule, a.Config, allowed)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}
	return nil
}

func toAnySlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// UpdateAgentSchedule sets or clears an agent's cron schedule and recomputed
// next_run_at, invoked by internal/schedules on schedule_agent/remove_agent_job.
func (c *Client) UpdateAgentSchedule(ctx context.Context, id uuid.UUID, schedule *string, nextRunAt *time.Time) error {
	_, err := c.sqlx.ExecContext(ctx, `UPDATE agents SET schedule = $1, next_run_at = $2, updated_at = now() WHERE id = $3`,
		schedule, nextRunAt, id)
	if err != nil {
		return fmt.Errorf("updating agent schedule %s: %w", id, err)
	}
	return nil
}

// TransitionAgentStatus moves an agent between IDLE/RUNNING/ERROR. Only the
// Task Runner calls this (§5); every other component must observe status
// changes through AGENT_UPDATED events instead of writing it directly.
func (c *Client) TransitionAgentStatus(ctx context.Context, id uuid.UUID, status AgentStatus, lastError *string) error {
	_, err := c.sqlx.ExecContext(ctx, `UPDATE agents SET status = $1, last_error = $2, updated_at = now() WHERE id = $3`,
		status, lastError, id)
	if err != nil {
		return fmt.Errorf("transitioning agent %s to %s: %w", id, status, err)
	}
	return nil
}

// RecordAgentRunStart stamps last_run_at at the start of a run.
func (c *Client) RecordAgentRunStart(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := c.sqlx.ExecContext(ctx, `UPDATE agents SET last_run_at = $1, updated_at = now() WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("recording run start for agent %s: %w", id, err)
	}
	return nil
}

// DeleteAgent removes an agent and cascades to its threads, runs and
// triggers (enforced by FK ON DELETE CASCADE in the schema).
func (c *Client) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	res, err := c.sqlx.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting agent %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
