package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zerg-labs/zerg-core/internal/db"
	"github.com/zerg-labs/zerg-core/internal/eventbus"
	"github.com/zerg-labs/zerg-core/internal/registry"
	"github.com/zerg-labs/zerg-core/internal/runner"
)

// shutdownGrace is how long Shutdown waits for in-flight executions to
// finish on their own before their contexts are canceled (§4.F background
// mode).
const shutdownGrace = 30 * time.Second

// Engine runs WorkflowExecutions over a compiled Graph. One Engine is
// shared process-wide; each Execute call owns its own Graph/State.
type Engine struct {
	store  *db.Client
	bus    *eventbus.Bus
	tools  *registry.Registry
	runner *runner.Runner

	mu      sync.Mutex
	running map[uuid.UUID]*inflight
}

type inflight struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New builds an Engine.
func New(store *db.Client, bus *eventbus.Bus, tools *registry.Registry, r *runner.Runner) *Engine {
	return &Engine{
		store:   store,
		bus:     bus,
		tools:   tools,
		runner:  r,
		running: make(map[uuid.UUID]*inflight),
	}
}

// Execute runs a workflow's canvas to completion synchronously, returning
// once the execution reaches FINISHED. Use ExecuteBackground for the
// fire-and-forget + wait_for_completion/shutdown variant (§4.F).
func (e *Engine) Execute(ctx context.Context, wf *db.Workflow, triggerPayload interface{}, triggeredBy string) (*db.WorkflowExecution, error) {
	graph, err := Build(wf.Canvas)
	if err != nil {
		return nil, fmt.Errorf("building graph: %w", err)
	}

	exec := &db.WorkflowExecution{
		WorkflowID:  wf.ID,
		Phase:       db.PhaseWaiting,
		TriggeredBy: triggeredBy,
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("creating execution: %w", err)
	}
	if err := e.store.TransitionExecutionPhase(ctx, exec.ID, db.PhaseRunning, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("starting execution: %w", err)
	}
	e.bus.Publish(eventbus.WorkflowStarted, exec.ID)

	state := NewState()
	deps := Deps{Store: e.store, Tools: e.tools, Runner: e.runner, TriggerPayload: triggerPayload}

	runErr := e.runGraph(ctx, exec.ID, graph, state, deps)

	if runErr != nil {
		msg := runErr.Error()
		kind := db.FailureSystem
		res := db.ResultFailure
		if ferr := e.store.TransitionExecutionPhase(ctx, exec.ID, db.PhaseFinished, &res, &kind, &msg); ferr != nil {
			return nil, fmt.Errorf("finishing failed execution: %w", ferr)
		}
	} else {
		res := db.ResultSuccess
		if ferr := e.store.TransitionExecutionPhase(ctx, exec.ID, db.PhaseFinished, &res, nil, nil); ferr != nil {
			return nil, fmt.Errorf("finishing execution: %w", ferr)
		}
	}
	e.bus.Publish(eventbus.WorkflowFinished, exec.ID)

	return e.store.GetExecution(ctx, exec.ID)
}

// runGraph walks the graph level by level: each node's dependencies must
// all be completed before it runs, and every node whose dependencies just
// became satisfied fans out in parallel via golang.org/x/sync/errgroup
// (the teacher pack's idiomatic join-all-or-first-error primitive, chosen
// over sourcegraph/conc here because runGraph needs the first-error
// short-circuit conc's pool.WithResults doesn't give for free).
func (e *Engine) runGraph(ctx context.Context, execID uuid.UUID, graph *Graph, state *State, deps Deps) error {
	remaining := make(map[string]int, len(graph.Nodes))
	for id := range graph.Nodes {
		remaining[id] = graph.Indegree(id)
	}

	frontier := graph.StartNodes()
	for len(frontier) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		var mu sync.Mutex
		var nextFrontier []string

		for _, nodeID := range frontier {
			nodeID := nodeID
			g.Go(func() error {
				node := graph.Nodes[nodeID]
				out, err := e.runNode(gctx, execID, node, deps, state)
				if err != nil {
					state.RecordError(err)
					return err
				}
				state.RecordOutput(nodeID, out)

				edges := graph.Next(nodeID, out)
				mu.Lock()
				for _, edge := range edges {
					remaining[edge.ToNodeID]--
					if remaining[edge.ToNodeID] == 0 {
						nextFrontier = append(nextFrontier, edge.ToNodeID)
					}
				}
				mu.Unlock()
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}
		if err := e.store.Heartbeat(ctx, execID); err != nil {
			// heartbeat failure does not fail the run; it only affects
			// stuck-execution detection elsewhere.
			_ = err
		}
		frontier = nextFrontier
	}
	return state.FirstError()
}

func (e *Engine) runNode(ctx context.Context, execID uuid.UUID, node db.WorkflowNode, deps Deps, state *State) (db.NodeEnvelope, error) {
	ns := &db.NodeExecutionState{ExecutionID: execID, NodeID: node.ID, Phase: db.PhaseRunning}
	if err := e.store.UpsertNodeState(ctx, ns); err != nil {
		return db.NodeEnvelope{}, fmt.Errorf("marking node %s running: %w", node.ID, err)
	}

	out, err := executeNode(ctx, node, deps, state.Outputs())

	finished := &db.NodeExecutionState{ExecutionID: execID, NodeID: node.ID, Phase: db.PhaseFinished}
	if err != nil {
		res := db.ResultFailure
		msg := err.Error()
		finished.Result = &res
		finished.ErrorMessage = &msg
	} else {
		res := db.ResultSuccess
		finished.Result = &res
		finished.Output = out
	}
	if uerr := e.store.UpsertNodeState(ctx, finished); uerr != nil {
		return out, fmt.Errorf("recording node %s result: %w", node.ID, uerr)
	}
	e.bus.Publish(eventbus.NodeStateChanged, map[string]interface{}{"execution_id": execID, "node_id": node.ID})

	return out, err
}

// ExecuteBackground starts execution without blocking the caller, usable
// with WaitForCompletion/Shutdown below.
func (e *Engine) ExecuteBackground(parent context.Context, wf *db.Workflow, triggerPayload interface{}, triggeredBy string) (uuid.UUID, error) {
	graph, err := Build(wf.Canvas)
	if err != nil {
		return uuid.Nil, fmt.Errorf("building graph: %w", err)
	}

	exec := &db.WorkflowExecution{WorkflowID: wf.ID, Phase: db.PhaseWaiting, TriggeredBy: triggeredBy}
	if err := e.store.CreateExecution(parent, exec); err != nil {
		return uuid.Nil, fmt.Errorf("creating execution: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	inf := &inflight{cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	e.running[exec.ID] = inf
	e.mu.Unlock()

	go func() {
		defer close(inf.done)
		if err := e.store.TransitionExecutionPhase(ctx, exec.ID, db.PhaseRunning, nil, nil, nil); err != nil {
			inf.err = err
			return
		}
		e.bus.Publish(eventbus.WorkflowStarted, exec.ID)

		state := NewState()
		deps := Deps{Store: e.store, Tools: e.tools, Runner: e.runner, TriggerPayload: triggerPayload}
		runErr := e.runGraph(ctx, exec.ID, graph, state, deps)

		if runErr != nil {
			msg := runErr.Error()
			kind := db.FailureSystem
			res := db.ResultFailure
			_ = e.store.TransitionExecutionPhase(ctx, exec.ID, db.PhaseFinished, &res, &kind, &msg)
		} else {
			res := db.ResultSuccess
			_ = e.store.TransitionExecutionPhase(ctx, exec.ID, db.PhaseFinished, &res, nil, nil)
		}
		e.bus.Publish(eventbus.WorkflowFinished, exec.ID)
		inf.err = runErr

		e.mu.Lock()
		delete(e.running, exec.ID)
		e.mu.Unlock()
	}()

	return exec.ID, nil
}

// WaitForCompletion blocks until the named execution finishes, ctx is
// canceled, or timeout elapses (0 means no timeout beyond ctx).
func (e *Engine) WaitForCompletion(ctx context.Context, execID uuid.UUID, timeout time.Duration) error {
	e.mu.Lock()
	inf, ok := e.running[execID]
	e.mu.Unlock()
	if !ok {
		return nil // already finished (or never started in this process)
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-inf.done:
		return inf.err
	case <-waitCtx.Done():
		return waitCtx.Err()
	}
}

// Shutdown cancels every in-flight execution after giving each up to
// shutdownGrace to finish on its own, per §4.F background-mode semantics.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	infs := make([]*inflight, 0, len(e.running))
	for _, inf := range e.running {
		infs = append(infs, inf)
	}
	e.mu.Unlock()

	deadline := time.After(shutdownGrace)
	for _, inf := range infs {
		select {
		case <-inf.done:
		case <-deadline:
			inf.cancel()
		}
	}
	for _, inf := range infs {
		inf.cancel()
		<-inf.done
	}
}
