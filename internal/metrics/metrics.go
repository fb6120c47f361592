// Package metrics registers the Prometheus collectors shared across the
// orchestration core, in the same promauto style the teacher uses for its
// own (now removed) workflow/embedding metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event bus

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_events_published_total",
			Help: "Total number of events published on the bus, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// Cron scheduler

	ScheduledJobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_scheduled_jobs_active",
			Help: "Number of agent/workflow schedules currently armed",
		},
	)

	ScheduleFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_schedule_fires_total",
			Help: "Total number of times a schedule fired, by job kind and outcome",
		},
		[]string{"job_kind", "outcome"},
	)

	// Workflow engine

	WorkflowExecutionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_workflow_executions_started_total",
			Help: "Total number of workflow executions started",
		},
		[]string{"workflow_id"},
	)

	WorkflowExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_workflow_execution_duration_seconds",
			Help:    "Workflow execution wall-clock duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow_id", "result"},
	)

	WorkflowNodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_workflow_node_duration_seconds",
			Help:    "Per-node execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node_type", "result"},
	)

	// Agent runner

	AgentRunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_agent_runs_started_total",
			Help: "Total number of agent runs started, by trigger",
		},
		[]string{"trigger"},
	)

	AgentRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_agent_run_duration_seconds",
			Help:    "Agent run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_tool_calls_total",
			Help: "Total number of tool calls, by tool name and criticality of any error",
		},
		[]string{"tool", "outcome"},
	)

	// Worker supervisor / roundabout

	WorkerJobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_worker_jobs_active",
			Help: "Number of background worker jobs currently running",
		},
	)

	RoundaboutDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_roundabout_decisions_total",
			Help: "Total number of roundabout monitor decisions, by decision kind",
		},
		[]string{"decision"},
	)

	// Trigger ingestion

	WebhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_webhook_requests_total",
			Help: "Total number of inbound webhook requests, by outcome",
		},
		[]string{"outcome"},
	)

	GmailWatchRenewTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_gmail_watch_renew_total",
			Help: "Total number of Gmail watch renewal attempts, by outcome",
		},
		[]string{"outcome"},
	)

	GmailAPIErrorTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_gmail_api_error_total",
			Help: "Total number of Gmail API call errors, by endpoint",
		},
		[]string{"endpoint"},
	)

	// WebSocket topic manager

	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_ws_connections_active",
			Help: "Number of currently connected WebSocket clients",
		},
	)

	WSSubscriptionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_ws_subscriptions_active",
			Help: "Number of active topic subscriptions, by topic prefix",
		},
		[]string{"topic_prefix"},
	)

	// Admin surface

	AdminClearDataTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_admin_clear_data_total",
			Help: "Total number of clear_data admin operations, by outcome",
		},
		[]string{"outcome"},
	)

	AdminFullRebuildTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_admin_full_rebuild_total",
			Help: "Total number of full_rebuild admin operations, by outcome",
		},
		[]string{"outcome"},
	)
)
