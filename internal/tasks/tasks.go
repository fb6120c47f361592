// Package tasks implements the single shared "mark running, run, mark
// idle/error" helper (§4.I) used by the cron scheduler, the webhook
// ingestor, and the workflow engine's agent node so none of them
// reimplements agent-invocation bookkeeping on their own.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zerg-labs/zerg-core/internal/db"
	"github.com/zerg-labs/zerg-core/internal/eventbus"
	"github.com/zerg-labs/zerg-core/internal/runner"
)

// ErrAlreadyRunning is returned when the agent is already mid-run.
// Scheduled triggers downgrade this to a silent skip (§4.I step 1); API and
// webhook callers should surface it.
var ErrAlreadyRunning = errors.New("tasks: agent is already running")

// Runner is the subset of internal/runner.Runner this package depends on.
type Runner interface {
	Run(ctx context.Context, agent *db.Agent, thread *db.Thread, cfg runner.Config) (*db.AgentRun, error)
}

// Executor wires a store, event bus, and Runner together for
// ExecuteAgentTask.
type Executor struct {
	store  *db.Client
	bus    *eventbus.Bus
	runner Runner
	logger *zap.Logger
}

// New builds an Executor.
func New(store *db.Client, bus *eventbus.Bus, r Runner, logger *zap.Logger) *Executor {
	return &Executor{store: store, bus: bus, runner: r, logger: logger}
}

// ExecuteAgentTask implements §4.I: refuse a concurrent run, open a fresh
// thread seeded with the agent's task instructions, and drive one
// internal/runner.Run call under the given trigger.
func (e *Executor) ExecuteAgentTask(ctx context.Context, agent *db.Agent, threadType db.ThreadType, trigger db.TriggerKind) (*db.AgentRun, error) {
	if agent.Status == db.AgentStatusRunning {
		return nil, ErrAlreadyRunning
	}

	if err := e.store.RecordAgentRunStart(ctx, agent.ID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("recording run start for agent %s: %w", agent.ID, err)
	}

	thread := &db.Thread{AgentID: agent.ID, ThreadType: threadType}
	if err := e.store.CreateThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("creating thread for agent %s: %w", agent.ID, err)
	}
	if err := e.store.AppendThreadMessage(ctx, &db.ThreadMessage{
		ThreadID: thread.ID,
		Role:     db.RoleUserMsg,
		Content:  agent.TaskInstructions,
	}); err != nil {
		return nil, fmt.Errorf("seeding thread for agent %s: %w", agent.ID, err)
	}

	run, err := e.runner.Run(ctx, agent, thread, runner.Config{Trigger: trigger})
	if err != nil {
		e.logger.Warn("agent task failed", zap.String("agent_id", agent.ID.String()), zap.Error(err))
		return nil, err
	}
	return run, nil
}
