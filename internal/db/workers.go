package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateWorkerJob inserts a new background worker job in queued status.
func (c *Client) CreateWorkerJob(ctx context.Context, j *WorkerJob) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = WorkerQueued
	}
	_, err := c.sqlx.ExecContext(ctx, `INSERT INTO worker_jobs (id, owner_id, task, model, status)
		VALUES ($1, $2, $3, $4, $5)`, j.ID, j.OwnerID, j.Task, j.Model, j.Status)
	if err != nil {
		return fmt.Errorf("creating worker job: %w", err)
	}
	return nil
}

// GetWorkerJob fetches a worker job by id.
func (c *Client) GetWorkerJob(ctx context.Context, id uuid.UUID) (*WorkerJob, error) {
	var j WorkerJob
	err := c.sqlx.GetContext(ctx, &j, `SELECT id, owner_id, task, model, status, worker_id, error,
		created_at, updated_at FROM worker_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting worker job %s: %w", id, err)
	}
	return &j, nil
}

// AssignWorkerID stamps the artifact-directory worker id once a job starts.
func (c *Client) AssignWorkerID(ctx context.Context, id uuid.UUID, workerID string) error {
	_, err := c.sqlx.ExecContext(ctx, `UPDATE worker_jobs SET status = $1, worker_id = $2, updated_at = now() WHERE id = $3`,
		WorkerRunning, workerID, id)
	if err != nil {
		return fmt.Errorf("assigning worker id for job %s: %w", id, err)
	}
	return nil
}

// FinishWorkerJob records a terminal status (success/failed/cancelled).
func (c *Client) FinishWorkerJob(ctx context.Context, id uuid.UUID, status WorkerStatus, jobErr *string) error {
	_, err := c.sqlx.ExecContext(ctx, `UPDATE worker_jobs SET status = $1, error = $2, updated_at = now() WHERE id = $3`,
		status, jobErr, id)
	if err != nil {
		return fmt.Errorf("finishing worker job %s: %w", id, err)
	}
	return nil
}

// ListRunningWorkerJobs returns every job currently running, polled by the
// Roundabout monitor each tick.
func (c *Client) ListRunningWorkerJobs(ctx context.Context) ([]WorkerJob, error) {
	var jobs []WorkerJob
	err := c.sqlx.SelectContext(ctx, &jobs, `SELECT id, owner_id, task, model, status, worker_id, error,
		created_at, updated_at FROM worker_jobs WHERE status = $1`, WorkerRunning)
	if err != nil {
		return nil, fmt.Errorf("listing running worker jobs: %w", err)
	}
	return jobs, nil
}
