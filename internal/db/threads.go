package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// GetThread fetches a thread by id.
func (c *Client) GetThread(ctx context.Context, id uuid.UUID) (*Thread, error) {
	var t Thread
	err := c.sqlx.GetContext(ctx, &t, `SELECT id, agent_id, title, active, agent_state, memory_strategy,
		thread_type, created_at, updated_at FROM threads WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting thread %s: %w", id, err)
	}
	return &t, nil
}

// GetActiveThread returns the single active thread for an agent, if any.
func (c *Client) GetActiveThread(ctx context.Context, agentID uuid.UUID) (*Thread, error) {
	var t Thread
	err := c.sqlx.GetContext(ctx, &t, `SELECT id, agent_id, title, active, agent_state, memory_strategy,
		thread_type, created_at, updated_at FROM threads WHERE agent_id = $1 AND active = true`, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting active thread for agent %s: %w", agentID, err)
	}
	return &t, nil
}

// CreateThread inserts a new thread. If active is true, any other active
// thread on the same agent is deactivated first so the "at most one active
// thread per agent" invariant always holds (§3).
func (c *Client) CreateThread(ctx context.Context, t *Thread) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.ThreadType == "" {
		t.ThreadType = ThreadTypeChat
	}

	tx, err := c.sqlx.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	if t.Active {
		if _, err := tx.ExecContext(ctx, `UPDATE threads SET active = false WHERE agent_id = $1 AND active = true`, t.AgentID); err != nil {
			return fmt.Errorf("deactivating prior active thread: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO threads
		(id, agent_id, title, active, agent_state, memory_strategy, thread_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.AgentID, t.Title, t.Active, t.AgentState, t.MemoryStrategy, t.ThreadType)
	if err != nil {
		return fmt.Errorf("creating thread: %w", err)
	}

	return tx.Commit()
}

// SetActiveThread marks one thread active and deactivates every sibling on
// the same agent in a single transaction.
func (c *Client) SetActiveThread(ctx context.Context, agentID, threadID uuid.UUID) error {
	tx, err := c.sqlx.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE threads SET active = false WHERE agent_id = $1 AND active = true`, agentID); err != nil {
		return fmt.Errorf("deactivating threads for agent %s: %w", agentID, err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE threads SET active = true, updated_at = now() WHERE id = $1 AND agent_id = $2`, threadID, agentID)
	if err != nil {
		return fmt.Errorf("activating thread %s: %w", threadID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// AppendThreadMessage inserts a message with a monotonically increasing id
// within its thread; id ordering is the authoritative chronological order
// regardless of sent_at clock skew (§3, §5).
func (c *Client) AppendThreadMessage(ctx context.Context, m *ThreadMessage) error {
	err := c.sqlx.GetContext(ctx, &m.ID, `INSERT INTO thread_messages
		(thread_id, role, content, tool_calls, tool_call_id, name, sent_at, processed, parent_id, message_metadata)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()), $8, $9, $10)
		RETURNING id`,
		m.ThreadID, m.Role, m.Content, m.ToolCallsJSON, m.ToolCallID, m.Name, m.SentAt, m.Processed, m.ParentID, m.MessageMetadata)
	if err != nil {
		return fmt.Errorf("appending message to thread %s: %w", m.ThreadID, err)
	}
	return nil
}

// ListThreadMessages returns a thread's messages ordered by id (§5).
func (c *Client) ListThreadMessages(ctx context.Context, threadID uuid.UUID) ([]ThreadMessage, error) {
	var msgs []ThreadMessage
	err := c.sqlx.SelectContext(ctx, &msgs, `SELECT id, thread_id, role, content, tool_calls, tool_call_id,
		name, sent_at, processed, parent_id, message_metadata FROM thread_messages
		WHERE thread_id = $1 ORDER BY id ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("listing messages for thread %s: %w", threadID, err)
	}
	return msgs, nil
}

// MarkMessageProcessed flips processed once the runner has consumed a message.
func (c *Client) MarkMessageProcessed(ctx context.Context, id int64) error {
	_, err := c.sqlx.ExecContext(ctx, `UPDATE thread_messages SET processed = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking message %d processed: %w", id, err)
	}
	return nil
}
