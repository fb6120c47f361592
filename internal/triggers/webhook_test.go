package triggers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zerg-labs/zerg-core/internal/db"
	"github.com/zerg-labs/zerg-core/internal/eventbus"
	"github.com/zerg-labs/zerg-core/internal/runner"
	"github.com/zerg-labs/zerg-core/internal/tasks"
)

// fakeRunner satisfies tasks.Runner and signals every call on a channel so
// tests can wait for the handler's background dispatch instead of sleeping.
type fakeRunner struct {
	done chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, agent *db.Agent, thread *db.Thread, cfg runner.Config) (*db.AgentRun, error) {
	defer close(f.done)
	return &db.AgentRun{ID: uuid.New(), AgentID: agent.ID, ThreadID: thread.ID, Trigger: cfg.Trigger, Status: db.RunSuccess}, nil
}

func triggerRows(id, agentID uuid.UUID, secret string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "agent_id", "type", "secret", "config", "created_at"}).
		AddRow(id, agentID, "webhook", secret, []byte(`{}`), time.Now())
}

func agentRows(id uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "owner_id", "name", "system_instructions", "task_instructions",
		"model", "status", "schedule", "config", "allowed_tools",
		"next_run_at", "last_run_at", "last_error", "created_at", "updated_at",
	}).AddRow(id, uuid.New(), "agent", "sys", "do the thing",
		"gpt-5", "IDLE", nil, []byte(`{}`), []byte(`{}`),
		nil, nil, nil, time.Now(), time.Now())
}

func newTestHandler(t *testing.T, r tasks.Runner) (*WebhookHandler, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	store := db.NewTestClient(sqlDB, zap.NewNop())
	bus := eventbus.New(zap.NewNop())
	exec := tasks.New(store, bus, r, zap.NewNop())
	return NewWebhookHandler(store, bus, exec, zap.NewNop()), mock
}

func TestWebhookHandler_UnknownID(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/triggers/webhook/not-a-uuid", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookHandler_BadSecret(t *testing.T) {
	h, mock := newTestHandler(t, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	triggerID := uuid.New()
	agentID := uuid.New()
	mock.ExpectQuery("SELECT id, agent_id, type, secret, config, created_at").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(triggerRows(triggerID, agentID, "correct-secret"))

	req := httptest.NewRequest(http.MethodPost, "/triggers/webhook/"+triggerID.String(), nil)
	req.Header.Set("X-Trigger-Secret", "wrong-secret")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookHandler_AcceptsGoodSecretAndDispatchesTask(t *testing.T) {
	fr := &fakeRunner{done: make(chan struct{})}
	h, mock := newTestHandler(t, fr)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	triggerID := uuid.New()
	agentID := uuid.New()
	mock.ExpectQuery("SELECT id, agent_id, type, secret, config, created_at").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(triggerRows(triggerID, agentID, "correct-secret"))
	mock.ExpectQuery("SELECT id, owner_id, name, system_instructions, task_instructions").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(agentRows(agentID))
	mock.ExpectExec("UPDATE agents SET last_run_at").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO threads").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("INSERT INTO thread_messages").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	req := httptest.NewRequest(http.MethodPost, "/triggers/webhook/"+triggerID.String(), nil)
	req.Header.Set("X-Trigger-Secret", "correct-secret")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	select {
	case <-fr.done:
	case <-time.After(time.Second):
		t.Fatal("background task dispatch never reached the fake runner")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}
