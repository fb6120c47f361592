package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/zerg-labs/zerg-core/internal/db"
)

func TestExecuteAgentTask_RefusesConcurrentRun(t *testing.T) {
	e := New(nil, nil, nil, zap.NewNop())
	agent := &db.Agent{Status: db.AgentStatusRunning}

	_, err := e.ExecuteAgentTask(context.Background(), agent, db.ThreadTypeSchedule, db.TriggerSchedule)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}
