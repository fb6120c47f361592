package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zerg-labs/zerg-core/internal/db"
	"github.com/zerg-labs/zerg-core/internal/eventbus"
	"github.com/zerg-labs/zerg-core/internal/registry"
	"github.com/zerg-labs/zerg-core/internal/runner"
)

// Supervisor exposes spawn_worker/list_workers/read_worker_result to the
// supervisor agent (§4.G) by registering them as runtime tools, and drives
// each spawned worker with an internal/runner.Runner plus a Roundabout
// Monitor watching it in the background.
type Supervisor struct {
	store     *db.Client
	bus       *eventbus.Bus
	tools     *registry.Registry
	runner    *runner.Runner
	artifacts *Store
	monitorCfg RoundaboutConfig
	logger    *zap.Logger
}

// New builds a Supervisor and registers its three tools into tools.
func New(store *db.Client, bus *eventbus.Bus, tools *registry.Registry, r *runner.Runner, artifacts *Store, logger *zap.Logger) *Supervisor {
	s := &Supervisor{
		store:      store,
		bus:        bus,
		tools:      tools,
		runner:     r,
		artifacts:  artifacts,
		monitorCfg: DefaultRoundaboutConfig(),
		logger:     logger,
	}
	tools.RegisterRuntime(registry.Tool{
		Name:        "spawn_worker",
		Description: "Spawn a background worker agent to carry out a task and watch it with the Roundabout monitor.",
		Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return s.spawnWorkerTool(ctx, args)
		},
	})
	tools.RegisterRuntime(registry.Tool{
		Name:        "list_workers",
		Description: "List every worker this caller owns, with status.",
		Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return s.listWorkersTool(args)
		},
	})
	tools.RegisterRuntime(registry.Tool{
		Name:        "read_worker_result",
		Description: "Read a worker's canonical final result.",
		Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return s.readWorkerResultTool(args)
		},
	})
	return s
}

func (s *Supervisor) spawnWorkerTool(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	task, _ := args["task"].(string)
	if task == "" {
		return nil, fmt.Errorf("spawn_worker requires \"task\"")
	}
	model, _ := args["model"].(string)
	ownerIDStr, _ := args["owner_id"].(string)
	ownerID, err := uuid.Parse(ownerIDStr)
	if err != nil {
		return nil, fmt.Errorf("spawn_worker requires a valid \"owner_id\": %w", err)
	}

	workerID := fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102T150405Z"), uuid.New().String()[:8])

	if err := s.artifacts.CreateWorker(workerID, ownerID, map[string]interface{}{"task": task, "model": model}); err != nil {
		return nil, fmt.Errorf("creating worker artifacts: %w", err)
	}

	job := &db.WorkerJob{OwnerID: ownerID, Task: task, Model: model, Status: db.WorkerQueued}
	if err := s.store.CreateWorkerJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating worker job: %w", err)
	}
	if err := s.store.AssignWorkerID(ctx, job.ID, workerID); err != nil {
		return nil, fmt.Errorf("assigning worker id: %w", err)
	}

	go s.runWorker(job.ID, workerID, ownerID, task, model)

	return map[string]interface{}{"worker_id": workerID, "job_id": job.ID.String(), "status": "queued"}, nil
}

// runWorker drives the background AgentRunner invocation and its Roundabout
// monitor concurrently; the monitor's CANCEL/EXIT decision and the runner's
// own completion race, whichever reports first wins the final status.
func (s *Supervisor) runWorker(jobID uuid.UUID, workerID string, ownerID uuid.UUID, task, model string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.monitorCfg.HardTimeout+s.monitorCfg.CheckInterval)
	defer cancel()

	_ = s.artifacts.UpdateMetadata(workerID, func(md *Metadata) { md.Status = "running" })

	agent := &db.Agent{
		OwnerID:            ownerID,
		Name:               "worker:" + workerID,
		SystemInstructions: "You are a background worker agent. Complete the assigned task, then reply with a line starting \"Result:\" summarizing the outcome.",
		TaskInstructions:   task,
		Model:              model,
		AllowedTools:       []string{"*"},
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		s.finishWorker(ctx, jobID, workerID, db.WorkerFailed, err)
		return
	}

	thread := &db.Thread{AgentID: agent.ID, ThreadType: db.ThreadTypeManual}
	if err := s.store.CreateThread(ctx, thread); err != nil {
		s.finishWorker(ctx, jobID, workerID, db.WorkerFailed, err)
		return
	}
	if err := s.store.AppendThreadMessage(ctx, &db.ThreadMessage{ThreadID: thread.ID, Role: db.RoleUserMsg, Content: task}); err != nil {
		s.finishWorker(ctx, jobID, workerID, db.WorkerFailed, err)
		return
	}
	_ = s.artifacts.AppendThreadLine(workerID, map[string]interface{}{"role": "user", "content": task})

	type runOutcome struct {
		run *db.AgentRun
		err error
	}
	runDone := make(chan runOutcome, 1)
	go func() {
		run, err := s.runner.Run(ctx, agent, thread, runner.Config{InWorkerContext: true})
		runDone <- runOutcome{run: run, err: err}
	}()

	// The runner creates its own AgentRun row internally, so its id isn't
	// known until that row is persisted; poll briefly for it to appear
	// before handing off to the Roundabout monitor, rather than the monitor
	// starting late or not at all.
	runID, found := s.awaitRunID(ctx, agent.ID, thread.ID)

	monitorDone := make(chan *Result, 1)
	if found {
		monitor := NewMonitor(s.store, s.bus, s.artifacts, s.monitorCfg)
		go func() {
			result, err := monitor.Run(ctx, runID, workerID)
			if err != nil {
				result = &Result{Status: "failed", Note: err.Error()}
			}
			monitorDone <- result
		}()
	}

	select {
	case outcome := <-runDone:
		if outcome.err != nil {
			s.finishWorker(ctx, jobID, workerID, db.WorkerFailed, outcome.err)
			return
		}
		s.finalizeFromRun(ctx, jobID, workerID, outcome.run)
	case result := <-monitorDone:
		s.finalizeFromMonitor(ctx, jobID, workerID, result)
	case <-ctx.Done():
		s.finishWorker(ctx, jobID, workerID, db.WorkerFailed, ctx.Err())
	}
}

// awaitRunID polls briefly for the AgentRun the runner creates for thread,
// since Run() does not expose it until the run finishes.
func (s *Supervisor) awaitRunID(ctx context.Context, agentID, threadID uuid.UUID) (uuid.UUID, bool) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runs, err := s.store.ListRunsByAgent(ctx, agentID, 5)
		if err == nil {
			for _, r := range runs {
				if r.ThreadID == threadID {
					return r.ID, true
				}
			}
		}
		select {
		case <-ctx.Done():
			return uuid.Nil, false
		case <-time.After(50 * time.Millisecond):
		}
	}
	return uuid.Nil, false
}

func (s *Supervisor) finalizeFromRun(ctx context.Context, jobID uuid.UUID, workerID string, run *db.AgentRun) {
	summary := ""
	if run != nil && run.Summary != nil {
		summary = *run.Summary
	}
	_ = s.artifacts.WriteResult(workerID, summary)
	_ = s.artifacts.UpdateMetadata(workerID, func(md *Metadata) {
		md.Status = "success"
		md.Summary = summary
	})
	_ = s.store.FinishWorkerJob(ctx, jobID, db.WorkerSuccess, nil)
}

func (s *Supervisor) finalizeFromMonitor(ctx context.Context, jobID uuid.UUID, workerID string, result *Result) {
	status := db.WorkerSuccess
	var errMsg *string
	if result.Status == "cancelled" || result.Status == "failed" {
		status = db.WorkerCancelled
		msg := result.Note
		errMsg = &msg
	}
	_ = s.artifacts.UpdateMetadata(workerID, func(md *Metadata) { md.Status = string(status) })
	_ = s.store.FinishWorkerJob(ctx, jobID, status, errMsg)
}

func (s *Supervisor) finishWorker(ctx context.Context, jobID uuid.UUID, workerID string, status db.WorkerStatus, cause error) {
	msg := cause.Error()
	_ = s.artifacts.UpdateMetadata(workerID, func(md *Metadata) { md.Status = string(status) })
	_ = s.store.FinishWorkerJob(ctx, jobID, status, &msg)
	s.logger.Warn("worker finished with error", zap.String("worker_id", workerID), zap.Error(cause))
}

func (s *Supervisor) listWorkersTool(args map[string]interface{}) (interface{}, error) {
	ownerIDStr, _ := args["owner_id"].(string)
	ownerID, err := uuid.Parse(ownerIDStr)
	if err != nil {
		return nil, fmt.Errorf("list_workers requires a valid \"owner_id\": %w", err)
	}

	entries, err := s.artifacts.ListWorkers()
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		if e.OwnerID != ownerID {
			continue
		}
		out = append(out, map[string]interface{}{
			"worker_id":  e.WorkerID,
			"status":     e.Status,
			"created_at": e.CreatedAt,
			"updated_at": e.UpdatedAt,
		})
	}
	return out, nil
}

func (s *Supervisor) readWorkerResultTool(args map[string]interface{}) (interface{}, error) {
	workerID, _ := args["worker_id"].(string)
	ownerIDStr, _ := args["owner_id"].(string)
	ownerID, err := uuid.Parse(ownerIDStr)
	if err != nil {
		return nil, fmt.Errorf("read_worker_result requires a valid \"owner_id\": %w", err)
	}

	result, err := s.artifacts.ReadResult(workerID, ownerID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"worker_id": workerID, "result": result}, nil
}
