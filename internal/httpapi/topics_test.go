package httpapi

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zerg-labs/zerg-core/internal/auth"
	"github.com/zerg-labs/zerg-core/internal/db"
	"github.com/zerg-labs/zerg-core/internal/eventbus"
)

func newTestTopicManager(t *testing.T) (*TopicManager, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	store := db.NewTestClient(sqlDB, zap.NewNop())
	bus := eventbus.New(zap.NewNop())
	return NewTopicManager(store, bus, zap.NewNop()), mock
}

func adminUser() *auth.UserContext {
	return &auth.UserContext{UserID: uuid.New(), Email: "admin@example.com", Role: db.RoleAdmin}
}

func decodeEnvelope(t *testing.T, raw []byte) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestSubscribe_OpsEventsRequiresAdmin(t *testing.T) {
	tm, _ := newTestTopicManager(t)
	nonAdmin := &auth.UserContext{UserID: uuid.New(), Email: "u@example.com", Role: db.RoleUser}
	c := tm.Register(nonAdmin)

	outcomes, _ := tm.Subscribe(context.Background(), c, []string{"ops:events"})
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].OK)
	assert.Equal(t, CodeForbidden, outcomes[0].Code)
}

func TestSubscribe_OpsEventsAllowsAdmin(t *testing.T) {
	tm, _ := newTestTopicManager(t)
	c := tm.Register(adminUser())

	outcomes, _ := tm.Subscribe(context.Background(), c, []string{"ops:events"})
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].OK)
}

func TestSubscribe_AgentTopicRejectsNonOwner(t *testing.T) {
	tm, mock := newTestTopicManager(t)
	agentID := uuid.New()
	ownerID := uuid.New()
	other := &auth.UserContext{UserID: uuid.New(), Email: "o@example.com", Role: db.RoleUser}
	c := tm.Register(other)

	mock.ExpectQuery("SELECT id, owner_id, name").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "name", "system_instructions", "task_instructions",
			"model", "status", "schedule", "config", "allowed_tools", "next_run_at", "last_run_at", "last_error",
			"created_at", "updated_at"}).
			AddRow(agentID, ownerID, "a", "", "", "gpt", db.AgentStatusIdle, nil, []byte("{}"), []byte(`{"tools":[]}`), nil, nil, nil, time.Now(), time.Now()))

	outcomes, _ := tm.Subscribe(context.Background(), c, []string{"agent:" + agentID.String()})
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].OK)
	assert.Equal(t, CodeForbidden, outcomes[0].Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscribe_AgentTopicAllowsOwner(t *testing.T) {
	tm, mock := newTestTopicManager(t)
	agentID := uuid.New()
	owner := adminUser()
	owner.Role = db.RoleUser
	c := tm.Register(owner)

	mock.ExpectQuery("SELECT id, owner_id, name").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "name", "system_instructions", "task_instructions",
			"model", "status", "schedule", "config", "allowed_tools", "next_run_at", "last_run_at", "last_error",
			"created_at", "updated_at"}).
			AddRow(agentID, owner.UserID, "a", "", "", "gpt", db.AgentStatusIdle, nil, []byte("{}"), []byte(`{"tools":[]}`), nil, nil, nil, time.Now(), time.Now()))

	outcomes, initial := tm.Subscribe(context.Background(), c, []string{"agent:" + agentID.String()})
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].OK)
	require.Len(t, initial, 1)
	assert.Equal(t, TypeAgentState, initial[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscribe_MalformedTopicIsInvalidFormat(t *testing.T) {
	tm, _ := newTestTopicManager(t)
	c := tm.Register(adminUser())

	outcomes, _ := tm.Subscribe(context.Background(), c, []string{"agent:not-a-uuid"})
	require.Len(t, outcomes, 1)
	assert.Equal(t, CodeInvalidFormat, outcomes[0].Code)
}

func TestSubscribe_UnrecognizedPrefixIsUnknown(t *testing.T) {
	tm, _ := newTestTopicManager(t)
	c := tm.Register(adminUser())

	outcomes, _ := tm.Subscribe(context.Background(), c, []string{"bogus:topic"})
	require.Len(t, outcomes, 1)
	assert.Equal(t, CodeUnknown, outcomes[0].Code)
}

func TestSubscribe_WorkflowExecutionReplaysFinishedState(t *testing.T) {
	tm, mock := newTestTopicManager(t)
	c := tm.Register(adminUser())
	execID := uuid.New()
	wfID := uuid.New()
	result := db.ResultSuccess

	mock.ExpectQuery("SELECT id, workflow_id, phase").
		WillReturnRows(sqlmock.NewRows([]string{"id", "workflow_id", "phase", "result", "attempt_no", "failure_kind",
			"error_message", "triggered_by", "started_at", "finished_at", "heartbeat_ts"}).
			AddRow(execID, wfID, db.PhaseFinished, result, 1, nil, nil, "MANUAL", time.Now(), time.Now(), time.Now()))

	outcomes, initial := tm.Subscribe(context.Background(), c, []string{"workflow_execution:" + execID.String()})
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].OK)
	require.Len(t, initial, 1)
	assert.Equal(t, TypeExecutionFinished, initial[0].Type)
	assert.Equal(t, db.ResultSuccess, initial[0].Data["result"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnsubscribe_RemovesFromSubscriptionSet(t *testing.T) {
	tm, _ := newTestTopicManager(t)
	c := tm.Register(adminUser())

	outcomes, _ := tm.Subscribe(context.Background(), c, []string{"ops:events"})
	require.True(t, outcomes[0].OK)

	tm.Unsubscribe(c, []string{"ops:events"})

	tm.mu.RLock()
	_, subscribed := tm.subscriptions["ops:events"][c.ID]
	tm.mu.RUnlock()
	assert.False(t, subscribed)
}

func TestBroadcastToTopic_DeliversToSubscribers(t *testing.T) {
	tm, _ := newTestTopicManager(t)
	c := tm.Register(adminUser())
	tm.Subscribe(context.Background(), c, []string{"ops:events"})

	tm.BroadcastToTopic("ops:events", newEnvelope(TypeAgentState, "", map[string]interface{}{"x": 1}))

	select {
	case raw := <-c.send:
		env := decodeEnvelope(t, raw)
		assert.Equal(t, TypeAgentState, env.Type)
		assert.Equal(t, "ops:events", env.Topic)
	default:
		t.Fatal("expected a broadcast envelope on c.send")
	}
}

func TestBroadcastToTopic_EvictsSlowConsumer(t *testing.T) {
	tm, _ := newTestTopicManager(t)
	c := tm.Register(adminUser())
	tm.Subscribe(context.Background(), c, []string{"ops:events"})

	// Fill the buffered channel so the next broadcast hits the default
	// (non-blocking) branch and evicts c per §4.C's failed-send contract.
	for i := 0; i < cap(c.send); i++ {
		c.send <- []byte("x")
	}

	tm.BroadcastToTopic("ops:events", newEnvelope(TypeAgentState, "", nil))

	tm.mu.RLock()
	_, stillConnected := tm.connections[c.ID]
	tm.mu.RUnlock()
	assert.False(t, stillConnected)
}

func TestOnAgentMapEvent_RoutesRunLifecycleToAgentTopic(t *testing.T) {
	tm, mock := newTestTopicManager(t)
	c := tm.Register(adminUser())
	agentID := uuid.New()

	mock.ExpectQuery("SELECT id, owner_id, name").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "name", "system_instructions", "task_instructions",
			"model", "status", "schedule", "config", "allowed_tools", "next_run_at", "last_run_at", "last_error",
			"created_at", "updated_at"}).
			AddRow(agentID, uuid.New(), "a", "", "", "gpt", db.AgentStatusIdle, nil, []byte("{}"), []byte(`{"tools":[]}`), nil, nil, nil, time.Now(), time.Now()))

	tm.Subscribe(context.Background(), c, []string{"agent:" + agentID.String()})

	tm.bus.Publish(eventbus.RunCreated, map[string]interface{}{"agent_id": agentID, "run_id": uuid.New(), "status": db.RunQueued})

	select {
	case raw := <-c.send:
		env := decodeEnvelope(t, raw)
		assert.Equal(t, TypeAgentState, env.Type)
		assert.Equal(t, "agent:"+agentID.String(), env.Topic)
	default:
		t.Fatal("expected RunCreated to broadcast onto the agent topic")
	}
}
