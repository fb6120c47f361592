package worker

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zerg-labs/zerg-core/internal/db"
	"github.com/zerg-labs/zerg-core/internal/eventbus"
)

// RoundaboutConfig tunes the bounded polling loop (§4.G); the field names
// and defaults are the spec's own, not ported from
// original_source/services/roundabout_monitor.py (its class carries the
// same concept but different parameter names and no Go equivalent to copy).
type RoundaboutConfig struct {
	CheckInterval        time.Duration
	HardTimeout          time.Duration
	SlowThreshold        time.Duration
	CancelStuckThreshold time.Duration
	NoProgressPolls      int
}

// DefaultRoundaboutConfig returns the spec's defaults.
func DefaultRoundaboutConfig() RoundaboutConfig {
	return RoundaboutConfig{
		CheckInterval:        5 * time.Second,
		HardTimeout:          300 * time.Second,
		SlowThreshold:        30 * time.Second,
		CancelStuckThreshold: 60 * time.Second,
		NoProgressPolls:      6,
	}
}

var finalAnswerRegexes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^Result:`),
	regexp.MustCompile(`(?i)^Summary:`),
	regexp.MustCompile(`(?i)Completed successfully`),
	regexp.MustCompile(`(?i)Task complete`),
	regexp.MustCompile(`(?i)Done\.`),
}

// decision is the Roundabout's per-tick heuristic outcome.
type decision int

const (
	decisionWait decision = iota
	decisionExit
	decisionCancel
)

// ActivitySummary counts the worker's tool activity as seen by the monitor.
type ActivitySummary struct {
	Started   int `json:"started"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Result is what Monitor.Run returns once the loop exits.
type Result struct {
	Status             string          `json:"status"` // complete | failed | monitor_timeout | early_exit | cancelled | peek
	WorkerStillRunning bool            `json:"worker_still_running"`
	Activity           ActivitySummary `json:"activity"`
	Note               string          `json:"note,omitempty"`
}

// activity tracks the tool events published for one run, filtered by
// run_id, per the "subscribes to the worker's tool events" requirement.
type activity struct {
	mu                sync.Mutex
	summary           ActivitySummary
	lastProgressAt    time.Time
	lastCompletedText string
}

func (a *activity) onToolStarted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summary.Started++
	a.lastProgressAt = time.Now()
}

func (a *activity) onToolFinished(status string, lastOutput string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if status == "failed" {
		a.summary.Failed++
	} else {
		a.summary.Completed++
	}
	a.lastProgressAt = time.Now()
	a.lastCompletedText = lastOutput
}

func (a *activity) snapshot() (ActivitySummary, time.Time, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summary, a.lastProgressAt, a.lastCompletedText
}

// Monitor runs the Roundabout heuristic loop for one worker's AgentRun.
type Monitor struct {
	store     *db.Client
	bus       *eventbus.Bus
	artifacts *Store // optional; nil skips periodic monitoring snapshots
	cfg       RoundaboutConfig
}

// NewMonitor builds a Monitor using the given config (zero value picks
// DefaultRoundaboutConfig). artifacts may be nil to skip writing
// monitoring/check_<elapsed>s.json snapshots.
func NewMonitor(store *db.Client, bus *eventbus.Bus, artifacts *Store, cfg RoundaboutConfig) *Monitor {
	if cfg.CheckInterval == 0 {
		cfg = DefaultRoundaboutConfig()
	}
	return &Monitor{store: store, bus: bus, artifacts: artifacts, cfg: cfg}
}

// Run polls runID's AgentRun on cfg.CheckInterval until a decision resolves
// to EXIT or CANCEL, or the hard timeout elapses. It subscribes to
// WORKER_TOOL_STARTED/WORKER_FINISHED events tagged with this run's id to
// build the activity summary and detect stuck/no-progress conditions.
// workerID, when non-empty, receives a monitoring snapshot on every tick.
func (m *Monitor) Run(ctx context.Context, runID uuid.UUID, workerID string) (*Result, error) {
	act := &activity{lastProgressAt: time.Now()}

	unsubStart := m.bus.Subscribe(eventbus.WorkerToolCall, func(e eventbus.Event) {
		payload, ok := e.Payload.(map[string]interface{})
		if !ok || payload["run_id"] != runID {
			return
		}
		act.onToolStarted()
	})
	defer unsubStart()

	unsubFinish := m.bus.Subscribe(eventbus.WorkerFinished, func(e eventbus.Event) {
		payload, ok := e.Payload.(map[string]interface{})
		if !ok || payload["run_id"] != runID {
			return
		}
		status, _ := payload["status"].(string)
		tool, _ := payload["tool"].(string)
		act.onToolFinished(status, tool)
	})
	defer unsubFinish()

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	started := time.Now()
	pollsWithoutProgress := 0
	var lastSeenProgress time.Time

	for {
		select {
		case <-ctx.Done():
			return &Result{Status: "peek", WorkerStillRunning: true, Activity: act.summary, Note: "monitor context canceled"}, ctx.Err()
		case <-ticker.C:
			summary, lastProgressAt, lastText := act.snapshot()

			run, err := m.store.GetAgentRun(ctx, runID)
			if err != nil {
				return nil, fmt.Errorf("refreshing agent run %s: %w", runID, err)
			}

			d, note := m.decide(run, started, lastProgressAt, lastText, pollsWithoutProgress)

			if m.artifacts != nil && workerID != "" {
				elapsed := time.Since(started)
				_ = m.artifacts.WriteMonitoringSnapshot(workerID, elapsed, map[string]interface{}{
					"elapsed_seconds":          int(elapsed.Seconds()),
					"status":                   run.Status,
					"activity":                 summary,
					"slow":                     time.Since(lastProgressAt) > m.cfg.SlowThreshold,
					"polls_without_progress":   pollsWithoutProgress,
					"decision":                 decisionLabel(d),
				})
			}

			if lastProgressAt.Equal(lastSeenProgress) {
				pollsWithoutProgress++
			} else {
				pollsWithoutProgress = 0
				lastSeenProgress = lastProgressAt
			}

			switch d {
			case decisionExit:
				return &Result{Status: terminalStatus(run), WorkerStillRunning: false, Activity: summary, Note: note}, nil
			case decisionCancel:
				msg := "Cancelled by roundabout: " + note
				if err := m.store.TransitionRunStatus(ctx, runID, db.RunFailed, &msg); err != nil {
					return nil, fmt.Errorf("cancelling run %s: %w", runID, err)
				}
				return &Result{Status: "cancelled", WorkerStillRunning: false, Activity: summary, Note: note}, nil
			default:
				if time.Since(started) >= m.cfg.HardTimeout {
					return &Result{
						Status:             "monitor_timeout",
						WorkerStillRunning: true,
						Activity:           summary,
						Note:               "hard monitor timeout reached; the worker may still be running",
					}, nil
				}
			}
		}
	}
}

// decide implements the §4.G priority list.
func (m *Monitor) decide(run *db.AgentRun, started time.Time, lastProgressAt time.Time, lastCompletedText string, pollsWithoutProgress int) (decision, string) {
	if run.Status == db.RunSuccess || run.Status == db.RunFailed {
		return decisionExit, "run reached a terminal status"
	}

	for _, re := range finalAnswerRegexes {
		if re.MatchString(strings.TrimSpace(lastCompletedText)) {
			return decisionExit, "final-answer pattern matched a completed tool output"
		}
	}

	stuckFor := time.Since(lastProgressAt)
	if stuckFor > m.cfg.CancelStuckThreshold {
		return decisionCancel, fmt.Sprintf("no progress for %s, exceeding the %s cancel-stuck threshold", stuckFor.Round(time.Second), m.cfg.CancelStuckThreshold)
	}

	if pollsWithoutProgress >= m.cfg.NoProgressPolls {
		return decisionCancel, fmt.Sprintf("%d consecutive polls without progress", pollsWithoutProgress)
	}

	return decisionWait, ""
}

func decisionLabel(d decision) string {
	switch d {
	case decisionExit:
		return "exit"
	case decisionCancel:
		return "cancel"
	default:
		return "wait"
	}
}

func terminalStatus(run *db.AgentRun) string {
	if run.Status == db.RunFailed {
		return "failed"
	}
	return "complete"
}
