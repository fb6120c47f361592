// Package db implements the persistence layer for the orchestration core:
// typed entity structs matching the spec's data model plus a Postgres-backed
// store wrapped in a circuit breaker, in the same shape as the teacher's
// internal/db client.
package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB represents a Postgres jsonb column.
type JSONB map[string]interface{}

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// Role is a User's platform role.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is a platform account.
type User struct {
	ID                uuid.UUID `db:"id" json:"id"`
	Email             string    `db:"email" json:"email"`
	Role              Role      `db:"role" json:"role"`
	DisplayName       *string   `db:"display_name" json:"display_name,omitempty"`
	AvatarURL         *string   `db:"avatar_url" json:"avatar_url,omitempty"`
	Prefs             JSONB     `db:"prefs" json:"prefs,omitempty"`
	GmailRefreshToken []byte    `db:"gmail_refresh_token" json:"-"` // encrypted at rest, see internal/secretbox
	Context           JSONB     `db:"context" json:"context,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// MaxUserContextBytes is the serialized-size cap enforced on User.Context (§9).
const MaxUserContextBytes = 64 * 1024

// AgentStatus is the Agent lifecycle state. Only the Task Runner (internal/tasks)
// may mutate it; every other component observes it through events (§5).
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "IDLE"
	AgentStatusRunning AgentStatus = "RUNNING"
	AgentStatusError   AgentStatus = "ERROR"
)

// Agent is a configured LLM persona.
type Agent struct {
	ID                 uuid.UUID   `db:"id" json:"id"`
	OwnerID             uuid.UUID   `db:"owner_id" json:"owner_id"`
	Name                string      `db:"name" json:"name"`
	SystemInstructions  string      `db:"system_instructions" json:"system_instructions"`
	TaskInstructions    string      `db:"task_instructions" json:"task_instructions"`
	Model               string      `db:"model" json:"model"`
	Status              AgentStatus `db:"status" json:"status"`
	Schedule            *string     `db:"schedule" json:"schedule,omitempty"`
	Config              JSONB       `db:"config" json:"config,omitempty"`
	AllowedTools        []string    `db:"-" json:"allowed_tools,omitempty"` // marshaled via AllowedToolsJSON
	AllowedToolsJSON     JSONB       `db:"allowed_tools" json:"-"`
	NextRunAt           *time.Time  `db:"next_run_at" json:"next_run_at,omitempty"`
	LastRunAt           *time.Time  `db:"last_run_at" json:"last_run_at,omitempty"`
	LastError           *string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt           time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time   `db:"updated_at" json:"updated_at"`
}

// Tools extracts the allowlist patterns stored in AllowedToolsJSON.
func (a *Agent) Tools() []string {
	raw, ok := a.AllowedToolsJSON["tools"]
	if !ok {
		return nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, v := range items {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ThreadType classifies how a Thread was created.
type ThreadType string

const (
	ThreadTypeChat     ThreadType = "CHAT"
	ThreadTypeSchedule ThreadType = "SCHEDULE"
	ThreadTypeManual   ThreadType = "MANUAL"
)

// Thread is an ordered conversation with one agent.
type Thread struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	AgentID        uuid.UUID  `db:"agent_id" json:"agent_id"`
	Title          string     `db:"title" json:"title"`
	Active         bool       `db:"active" json:"active"`
	AgentState     JSONB      `db:"agent_state" json:"agent_state,omitempty"`
	MemoryStrategy string     `db:"memory_strategy" json:"memory_strategy,omitempty"`
	ThreadType     ThreadType `db:"thread_type" json:"thread_type"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// MessageRole is the speaker of a ThreadMessage.
type MessageRole string

const (
	RoleSystem    MessageRole = "SYSTEM"
	RoleUserMsg   MessageRole = "USER"
	RoleAssistant MessageRole = "ASSISTANT"
	RoleTool      MessageRole = "TOOL"
)

// ToolCall is one LLM-requested tool invocation attached to an assistant message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments JSONB  `json:"arguments"`
}

// ThreadMessage is one entry in a thread's conversation. Id ordering is
// authoritative chronological order (§3, §5); clients must never reorder by
// timestamp.
type ThreadMessage struct {
	ID              int64       `db:"id" json:"id"`
	ThreadID        uuid.UUID   `db:"thread_id" json:"thread_id"`
	Role            MessageRole `db:"role" json:"role"`
	Content         string      `db:"content" json:"content"`
	ToolCalls       []ToolCall  `db:"-" json:"tool_calls,omitempty"`
	ToolCallsJSON   JSONB       `db:"tool_calls" json:"-"`
	ToolCallID      *string     `db:"tool_call_id" json:"tool_call_id,omitempty"`
	Name            *string     `db:"name" json:"name,omitempty"`
	SentAt          time.Time   `db:"sent_at" json:"sent_at"`
	Processed       bool        `db:"processed" json:"processed"`
	ParentID        *int64      `db:"parent_id" json:"parent_id,omitempty"`
	MessageMetadata JSONB       `db:"message_metadata" json:"message_metadata,omitempty"`
}

// TriggerKind enumerates how an AgentRun was started.
type TriggerKind string

const (
	TriggerManual   TriggerKind = "MANUAL"
	TriggerSchedule TriggerKind = "SCHEDULE"
	TriggerAPI      TriggerKind = "API"
	TriggerWebhook  TriggerKind = "WEBHOOK"
)

// RunStatus is the AgentRun lifecycle state. Legal transitions:
// QUEUED -> RUNNING -> (SUCCESS | FAILED).
type RunStatus string

const (
	RunQueued  RunStatus = "QUEUED"
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
)

// AgentRun is a single execution instance of an agent over a thread.
type AgentRun struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	AgentID       uuid.UUID   `db:"agent_id" json:"agent_id"`
	ThreadID      uuid.UUID   `db:"thread_id" json:"thread_id"`
	Trigger       TriggerKind `db:"trigger" json:"trigger"`
	Status        RunStatus   `db:"status" json:"status"`
	StartedAt     *time.Time  `db:"started_at" json:"started_at,omitempty"`
	FinishedAt    *time.Time  `db:"finished_at" json:"finished_at,omitempty"`
	DurationMs    *int64      `db:"duration_ms" json:"duration_ms,omitempty"`
	TotalTokens   *int        `db:"total_tokens" json:"total_tokens,omitempty"`
	TotalCostUSD  *float64    `db:"total_cost_usd" json:"total_cost_usd,omitempty"`
	Error         *string     `db:"error" json:"error,omitempty"`
	Summary       *string     `db:"summary" json:"summary,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
}

// Trigger is an external event source bound to an agent.
type Trigger struct {
	ID        uuid.UUID `db:"id" json:"id"`
	AgentID   uuid.UUID `db:"agent_id" json:"agent_id"`
	Type      string    `db:"type" json:"type"`
	Secret    string    `db:"secret" json:"-"`
	Config    JSONB     `db:"config" json:"config,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// WorkflowNode is one vertex of a Workflow's canvas.
type WorkflowNode struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"` // trigger | tool | agent | conditional
	Position struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"position"`
	Config map[string]interface{} `json:"config"`
}

// WorkflowEdge is one directed edge of a Workflow's canvas.
type WorkflowEdge struct {
	FromNodeID string                 `json:"from_node_id"`
	ToNodeID   string                 `json:"to_node_id"`
	Config     map[string]interface{} `json:"config,omitempty"`
}

// WorkflowData is the canvas stored on a Workflow.
type WorkflowData struct {
	Nodes []WorkflowNode `json:"nodes"`
	Edges []WorkflowEdge `json:"edges"`
}

// Workflow is a DAG of nodes composing agents, tools, conditionals and triggers.
type Workflow struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	OwnerID     uuid.UUID    `db:"owner_id" json:"owner_id"`
	Name        string       `db:"name" json:"name"`
	Description *string      `db:"description" json:"description,omitempty"`
	Canvas      WorkflowData `db:"-" json:"canvas"`
	CanvasJSON  JSONB        `db:"canvas" json:"-"`
	IsActive    bool         `db:"is_active" json:"is_active"`
}

// Phase is shared by WorkflowExecution and NodeExecutionState.
type Phase string

const (
	PhaseWaiting  Phase = "WAITING"
	PhaseRunning  Phase = "RUNNING"
	PhaseFinished Phase = "FINISHED"
)

// Result is shared by WorkflowExecution and NodeExecutionState.
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultFailure Result = "FAILURE"
)

// FailureKind classifies a terminal failure per §7.
type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureSystem     FailureKind = "system"
)

// WorkflowExecution is one run of a Workflow's DAG. Hard constraint:
// (Phase == FINISHED) iff (Result != nil).
type WorkflowExecution struct {
	ID           uuid.UUID    `db:"id" json:"id"`
	WorkflowID   uuid.UUID    `db:"workflow_id" json:"workflow_id"`
	Phase        Phase        `db:"phase" json:"phase"`
	Result       *Result      `db:"result" json:"result,omitempty"`
	AttemptNo    int          `db:"attempt_no" json:"attempt_no"`
	FailureKind  *FailureKind `db:"failure_kind" json:"failure_kind,omitempty"`
	ErrorMessage *string      `db:"error_message" json:"error_message,omitempty"`
	TriggeredBy  string       `db:"triggered_by" json:"triggered_by"`
	StartedAt    *time.Time   `db:"started_at" json:"started_at,omitempty"`
	FinishedAt   *time.Time   `db:"finished_at" json:"finished_at,omitempty"`
	HeartbeatTS  *time.Time   `db:"heartbeat_ts" json:"heartbeat_ts,omitempty"`
}

// Valid reports whether the FINISHED<=>Result invariant holds.
func (e *WorkflowExecution) Valid() bool {
	return (e.Phase == PhaseFinished) == (e.Result != nil)
}

// NodeEnvelope is the cross-node wire format: all node outputs are envelopes.
type NodeEnvelope struct {
	Value interface{}            `json:"value"`
	Meta  map[string]interface{} `json:"meta"`
}

// NodeExecutionState tracks one node's execution within a WorkflowExecution.
// Same phase/result model and invariant as WorkflowExecution.
type NodeExecutionState struct {
	ID           uuid.UUID    `db:"id" json:"id"`
	ExecutionID  uuid.UUID    `db:"execution_id" json:"execution_id"`
	NodeID       string       `db:"node_id" json:"node_id"`
	Phase        Phase        `db:"phase" json:"phase"`
	Result       *Result      `db:"result" json:"result,omitempty"`
	Output       NodeEnvelope `db:"-" json:"output"`
	OutputJSON   JSONB        `db:"output" json:"-"`
	FailureKind  *FailureKind `db:"failure_kind" json:"failure_kind,omitempty"`
	ErrorMessage *string      `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time   `db:"started_at" json:"started_at,omitempty"`
	FinishedAt   *time.Time   `db:"finished_at" json:"finished_at,omitempty"`
}

// Valid reports whether the FINISHED<=>Result invariant holds.
func (n *NodeExecutionState) Valid() bool {
	return (n.Phase == PhaseFinished) == (n.Result != nil)
}

// WorkerStatus is the lifecycle of a background WorkerJob.
type WorkerStatus string

const (
	WorkerQueued    WorkerStatus = "queued"
	WorkerRunning   WorkerStatus = "running"
	WorkerSuccess   WorkerStatus = "success"
	WorkerFailed    WorkerStatus = "failed"
	WorkerCancelled WorkerStatus = "cancelled"
)

// WorkerJob is a background agent run spawned by a supervisor agent.
type WorkerJob struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	OwnerID   uuid.UUID    `db:"owner_id" json:"owner_id"`
	Task      string       `db:"task" json:"task"`
	Model     string       `db:"model" json:"model"`
	Status    WorkerStatus `db:"status" json:"status"`
	WorkerID  *string      `db:"worker_id" json:"worker_id,omitempty"` // "<iso-timestamp>_<slug>"
	Error     *string      `db:"error" json:"error,omitempty"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}
