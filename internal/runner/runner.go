// Package runner implements the ReAct-style agent run loop (§4.D): invoke an
// LLM bound to a resolved tool set, execute any requested tool calls in
// parallel, feed the results back in, and repeat until the LLM returns a
// plain assistant message. Grounded on the now-removed
// internal/activities/agent_loop.go's HTTP-call-per-iteration shape,
// reshaped into an in-process loop against an LLMClient port instead of a
// hardcoded call to an external service.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/zerg-labs/zerg-core/internal/db"
	"github.com/zerg-labs/zerg-core/internal/eventbus"
	"github.com/zerg-labs/zerg-core/internal/registry"
	"github.com/zerg-labs/zerg-core/internal/util"
)

// LLMClient is the port the runner calls; concrete providers are out of
// scope for this module (§1).
type LLMClient interface {
	Complete(ctx context.Context, model string, messages []db.ThreadMessage, tools []registry.Tool, onToken func(string)) (Completion, error)
}

// Completion is one LLM response.
type Completion struct {
	Content     string
	ToolCalls   []db.ToolCall
	Tokens      int
	CostUSD     float64
}

// Config tunes one run's behavior.
type Config struct {
	Streaming        bool
	InWorkerContext  bool // set by the worker supervisor (§4.D)
	MaxToolFanout    int
	TaskBudgetTokens int
	HardBudgetLimit  bool
	Trigger          db.TriggerKind // defaults to db.TriggerManual if unset
}

// Runner executes agent turns over threads.
type Runner struct {
	store     *db.Client
	bus       *eventbus.Bus
	tools     *registry.Registry
	llm       LLMClient
	logger    *zap.Logger
}

// New builds a Runner.
func New(store *db.Client, bus *eventbus.Bus, tools *registry.Registry, llm LLMClient, logger *zap.Logger) *Runner {
	return &Runner{store: store, bus: bus, tools: tools, llm: llm, logger: logger}
}

// Run executes one agent turn over a thread until the LLM emits a message
// with no tool calls, or a critical tool error fails the run fast while
// running inside a worker context. Exactly-once per (thread, run) is the
// caller's responsibility (internal/tasks serializes per thread).
func (r *Runner) Run(ctx context.Context, agent *db.Agent, thread *db.Thread, cfg Config) (*db.AgentRun, error) {
	trigger := cfg.Trigger
	if trigger == "" {
		trigger = db.TriggerManual
	}
	run := &db.AgentRun{AgentID: agent.ID, ThreadID: thread.ID, Trigger: trigger, Status: db.RunQueued}
	if err := r.store.CreateAgentRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating agent run: %w", err)
	}
	if err := r.store.TransitionRunStatus(ctx, run.ID, db.RunRunning, nil); err != nil {
		return nil, fmt.Errorf("starting agent run: %w", err)
	}
	if err := r.store.TransitionAgentStatus(ctx, agent.ID, db.AgentStatusRunning, nil); err != nil {
		return nil, fmt.Errorf("marking agent running: %w", err)
	}
	r.bus.Publish(eventbus.AgentUpdated, agent.ID)
	r.bus.Publish(eventbus.RunCreated, map[string]interface{}{"agent_id": agent.ID, "run_id": run.ID, "status": run.Status})

	startedAt := time.Now()
	acc := NewAccumulator(cfg.TaskBudgetTokens, cfg.HardBudgetLimit)

	resolved, err := r.tools.Filter(ctx, agent.ID.String(), "prod", agent.Tools())
	if err != nil {
		return r.fail(ctx, agent, run, fmt.Errorf("resolving tools: %w", err))
	}

	var firstAssistant string
	var synthesizedCritical string

	for {
		history, err := r.store.ListThreadMessages(ctx, thread.ID)
		if err != nil {
			return r.fail(ctx, agent, run, fmt.Errorf("loading thread history: %w", err))
		}

		var onToken func(string)
		if cfg.Streaming {
			onToken = func(tok string) {
				r.bus.Publish(eventbus.ThreadMessage, map[string]interface{}{"thread_id": thread.ID, "owner_id": agent.OwnerID, "token": tok})
			}
		}

		completion, err := r.llm.Complete(ctx, agent.Model, history, resolved, onToken)
		if err != nil {
			return r.fail(ctx, agent, run, fmt.Errorf("llm completion: %w", err))
		}
		if !acc.Add(completion.Tokens, completion.CostUSD) {
			synthesizedCritical = "token budget exceeded for this run"
		}
		if err := r.store.RecordRunUsage(ctx, run.ID, completion.Tokens, completion.CostUSD); err != nil {
			r.logger.Warn("failed to record run usage", zap.Error(err))
		}

		assistant := &db.ThreadMessage{
			ThreadID: thread.ID,
			Role:     db.RoleAssistant,
			Content:  completion.Content,
		}
		if len(completion.ToolCalls) > 0 {
			toolCallsJSON := db.JSONB{}
			assistant.ToolCalls = completion.ToolCalls
			assistant.ToolCallsJSON = marshalToolCalls(completion.ToolCalls, toolCallsJSON)
		}
		if err := r.store.AppendThreadMessage(ctx, assistant); err != nil {
			return r.fail(ctx, agent, run, fmt.Errorf("persisting assistant message: %w", err))
		}
		if firstAssistant == "" && completion.Content != "" {
			firstAssistant = completion.Content
		}

		if synthesizedCritical != "" {
			break
		}

		if len(completion.ToolCalls) == 0 {
			break
		}

		criticalMsg, execErr := r.executeToolBatch(ctx, run, completion.ToolCalls, cfg)
		if execErr != nil {
			return r.fail(ctx, agent, run, execErr)
		}
		if criticalMsg != "" && cfg.InWorkerContext {
			synthesizedCritical = criticalMsg
			final := &db.ThreadMessage{
				ThreadID: thread.ID,
				Role:     db.RoleAssistant,
				Content:  "I encountered a critical error that prevents me from completing this task: " + criticalMsg,
			}
			if err := r.store.AppendThreadMessage(ctx, final); err != nil {
				r.logger.Warn("failed to persist critical-error message", zap.Error(err))
			}
			break
		}
	}

	summary := util.TruncateString(firstAssistant, 500, true)
	if err := r.store.SetRunSummary(ctx, run.ID, summary); err != nil {
		r.logger.Warn("failed to set run summary", zap.Error(err))
	}
	if err := r.store.TransitionRunStatus(ctx, run.ID, db.RunSuccess, nil); err != nil {
		return nil, fmt.Errorf("finishing agent run: %w", err)
	}
	if err := r.store.TransitionAgentStatus(ctx, agent.ID, db.AgentStatusIdle, nil); err != nil {
		return nil, fmt.Errorf("marking agent idle: %w", err)
	}
	r.bus.Publish(eventbus.AgentUpdated, agent.ID)
	r.bus.Publish(eventbus.RunFinished, map[string]interface{}{"agent_id": agent.ID, "run_id": run.ID, "status": db.RunSuccess})

	_ = startedAt // duration_ms is computed by TransitionRunStatus from started_at
	return run, nil
}

func (r *Runner) fail(ctx context.Context, agent *db.Agent, run *db.AgentRun, cause error) (*db.AgentRun, error) {
	msg := cause.Error()
	_ = r.store.TransitionRunStatus(ctx, run.ID, db.RunFailed, &msg)
	_ = r.store.TransitionAgentStatus(ctx, agent.ID, db.AgentStatusError, &msg)
	r.bus.Publish(eventbus.AgentUpdated, agent.ID)
	r.bus.Publish(eventbus.RunFinished, map[string]interface{}{"agent_id": agent.ID, "run_id": run.ID, "status": db.RunFailed, "error": msg})
	return nil, cause
}

type toolOutcome struct {
	message     *db.ThreadMessage
	criticalMsg string
}

// executeToolBatch runs every tool call concurrently, bounded by
// cfg.MaxToolFanout, via github.com/sourcegraph/conc/pool — the one
// component that genuinely needs a join-all-children fan-out with result
// collection and panic propagation (§4.D).
func (r *Runner) executeToolBatch(ctx context.Context, run *db.AgentRun, calls []db.ToolCall, cfg Config) (string, error) {
	maxGoroutines := cfg.MaxToolFanout
	if maxGoroutines <= 0 {
		maxGoroutines = 8
	}

	p := pool.NewWithResults[toolOutcome]().WithMaxGoroutines(maxGoroutines)
	for _, call := range calls {
		call := call
		p.Go(func() toolOutcome {
			return r.executeOne(ctx, run.AgentID, run.ID, call)
		})
	}
	outcomes := p.Wait()

	var criticalMsg string
	for _, o := range outcomes {
		if err := r.store.AppendThreadMessage(ctx, o.message); err != nil {
			r.logger.Warn("failed to persist tool message", zap.Error(err))
		}
		if o.criticalMsg != "" && criticalMsg == "" {
			criticalMsg = o.criticalMsg
		}
	}
	return criticalMsg, nil
}

// executeOne tags every emitted event with run_id and agent_id so a
// Roundabout monitor can filter the bus to one worker's activity (§4.G) and
// the WebSocket topic manager can route it to the owning agent:<id> topic.
func (r *Runner) executeOne(ctx context.Context, agentID, runID uuid.UUID, call db.ToolCall) toolOutcome {
	redacted := redact(call.Arguments)
	r.bus.Publish(eventbus.WorkerToolCall, map[string]interface{}{"agent_id": agentID, "run_id": runID, "tool": call.Name, "args": redacted})

	tool, ok := r.tools.Get(call.Name)
	if !ok {
		content := "<tool-error> unknown tool: " + call.Name
		return toolOutcome{
			message:     &db.ThreadMessage{Role: db.RoleTool, Content: content, ToolCallID: &call.ID, Name: &call.Name},
			criticalMsg: "",
		}
	}

	result, err := tool.Run(ctx, call.Arguments)
	if err != nil {
		errText := err.Error()
		content := "<tool-error> " + errText
		crit := ""
		if classifyToolError(errText, "") == critical {
			crit = errText
		}
		r.bus.Publish(eventbus.WorkerFinished, map[string]interface{}{"agent_id": agentID, "run_id": runID, "tool": call.Name, "status": "failed"})
		return toolOutcome{
			message:     &db.ThreadMessage{Role: db.RoleTool, Content: content, ToolCallID: &call.ID, Name: &call.Name},
			criticalMsg: crit,
		}
	}

	content := fmt.Sprintf("%v", result)
	r.bus.Publish(eventbus.WorkerFinished, map[string]interface{}{"agent_id": agentID, "run_id": runID, "tool": call.Name, "status": "ok"})
	return toolOutcome{
		message: &db.ThreadMessage{Role: db.RoleTool, Content: content, ToolCallID: &call.ID, Name: &call.Name},
	}
}

func marshalToolCalls(calls []db.ToolCall, into db.JSONB) db.JSONB {
	items := make([]interface{}, len(calls))
	for i, c := range calls {
		items[i] = map[string]interface{}{"id": c.ID, "name": c.Name, "arguments": map[string]interface{}(c.Arguments)}
	}
	into["calls"] = items
	return into
}
