package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get* lookups that find no row.
var ErrNotFound = errors.New("not found")

// GetUser fetches a user by id.
func (c *Client) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := c.sqlx.GetContext(ctx, &u, `SELECT id, email, role, display_name, avatar_url, prefs,
		gmail_refresh_token, context, created_at, updated_at FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}
	return &u, nil
}

// GetUserByEmail fetches a user by email.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := c.sqlx.GetContext(ctx, &u, `SELECT id, email, role, display_name, avatar_url, prefs,
		gmail_refresh_token, context, created_at, updated_at FROM users WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by email %s: %w", email, err)
	}
	return &u, nil
}

// CreateUser inserts a new user, defaulting role to USER.
func (c *Client) CreateUser(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	_, err := c.sqlx.ExecContext(ctx, `INSERT INTO users
		(id, email, role, display_name, avatar_url, prefs, gmail_refresh_token, context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.Role, u.DisplayName, u.AvatarURL, u.Prefs, u.GmailRefreshToken, u.Context)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// UpdateUserContext deep-merges patch into the user's stored context under
// the size cap (§9) and persists the result in the same statement that read
// it, guarding against a lost update with a row lock.
func (c *Client) UpdateUserContext(ctx context.Context, id uuid.UUID, patch JSONB) (JSONB, error) {
	tx, err := c.sqlx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	var current JSONB
	err = tx.GetContext(ctx, &current, `SELECT context FROM users WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("locking user context: %w", err)
	}

	merged, err := MergeUserContext(current, patch)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET context = $1, updated_at = now() WHERE id = $2`, merged, id); err != nil {
		return nil, fmt.Errorf("persisting merged context: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing context update: %w", err)
	}
	return merged, nil
}

// SetGmailRefreshToken stores an already-encrypted refresh token blob
// (see internal/secretbox) for the Gmail trigger poller.
func (c *Client) SetGmailRefreshToken(ctx context.Context, id uuid.UUID, encrypted []byte) error {
	_, err := c.sqlx.ExecContext(ctx, `UPDATE users SET gmail_refresh_token = $1, updated_at = now() WHERE id = $2`, encrypted, id)
	if err != nil {
		return fmt.Errorf("setting gmail refresh token: %w", err)
	}
	return nil
}

// GetAnyUserWithGmailToken returns one user that has a stored Gmail refresh
// token, for the MVP single-mailbox-per-deployment polling model (ported
// from original_source's equivalent "first available" lookup).
func (c *Client) GetAnyUserWithGmailToken(ctx context.Context) (*User, error) {
	var u User
	err := c.sqlx.GetContext(ctx, &u, `SELECT id, email, role, display_name, avatar_url, prefs,
		gmail_refresh_token, context, created_at, updated_at
		FROM users WHERE gmail_refresh_token IS NOT NULL LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting gmail-connected user: %w", err)
	}
	return &u, nil
}
