package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateTrigger inserts a trigger bound to an agent.
func (c *Client) CreateTrigger(ctx context.Context, t *Trigger) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := c.sqlx.ExecContext(ctx, `INSERT INTO triggers (id, agent_id, type, secret, config)
		VALUES ($1, $2, $3, $4, $5)`, t.ID, t.AgentID, t.Type, t.Secret, t.Config)
	if err != nil {
		return fmt.Errorf("creating trigger: %w", err)
	}
	return nil
}

// GetTrigger fetches a trigger by id.
func (c *Client) GetTrigger(ctx context.Context, id uuid.UUID) (*Trigger, error) {
	var t Trigger
	err := c.sqlx.GetContext(ctx, &t, `SELECT id, agent_id, type, secret, config, created_at
		FROM triggers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting trigger %s: %w", id, err)
	}
	return &t, nil
}

// ListTriggersByType lists all triggers of a given type, used by the Gmail
// poller to enumerate watched mailboxes and by the webhook handler to
// resolve an inbound webhook id to its owning agent.
func (c *Client) ListTriggersByType(ctx context.Context, triggerType string) ([]Trigger, error) {
	var triggers []Trigger
	err := c.sqlx.SelectContext(ctx, &triggers, `SELECT id, agent_id, type, secret, config, created_at
		FROM triggers WHERE type = $1`, triggerType)
	if err != nil {
		return nil, fmt.Errorf("listing triggers of type %s: %w", triggerType, err)
	}
	return triggers, nil
}

// UpdateTriggerConfig overwrites a trigger's config JSONB wholesale. Callers
// merge in-memory first (the Gmail poller always reads-merges-writes the
// full config so history_id/watch_expiry updates never clobber filters).
func (c *Client) UpdateTriggerConfig(ctx context.Context, id uuid.UUID, config JSONB) error {
	res, err := c.sqlx.ExecContext(ctx, `UPDATE triggers SET config = $1 WHERE id = $2`, config, id)
	if err != nil {
		return fmt.Errorf("updating trigger %s config: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTrigger removes a trigger.
func (c *Client) DeleteTrigger(ctx context.Context, id uuid.UUID) error {
	res, err := c.sqlx.ExecContext(ctx, `DELETE FROM triggers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting trigger %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
