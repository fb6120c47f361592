package schedules

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSchedule_RejectsIntervalShorterThanMinimum(t *testing.T) {
	cfg := &Config{MaxPerUser: 50, MinCronIntervalMins: 60, MaxBudgetPerRunUSD: 10}
	m := NewManager(cfg, func(ctx context.Context, kind JobKind, id string) error { return nil }, zap.NewNop())

	_, err := m.Schedule(context.Background(), JobKindAgent, "a1", "*/5 * * * *", "UTC", 1.0)
	require.ErrorIs(t, err, ErrIntervalTooShort)
}

func TestSchedule_RejectsBudgetOverLimit(t *testing.T) {
	cfg := DefaultConfig()
	m := NewManager(cfg, func(ctx context.Context, kind JobKind, id string) error { return nil }, zap.NewNop())

	_, err := m.Schedule(context.Background(), JobKindAgent, "a1", "0 * * * *", "UTC", 9999)
	require.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestSchedule_FiresRunAndRearms(t *testing.T) {
	cfg := &Config{MaxPerUser: 50, MinCronIntervalMins: 0, MaxBudgetPerRunUSD: 10}
	var fires int32
	m := NewManager(cfg, func(ctx context.Context, kind JobKind, id string) error {
		atomic.AddInt32(&fires, 1)
		return nil
	}, zap.NewNop())

	_, err := m.Schedule(context.Background(), JobKindAgent, "a1", "* * * * *", "UTC", 1.0)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Remove(JobKindAgent, "a1"))
	assert.Equal(t, 0, m.Len())
}

func TestRemove_UnknownJobReturnsNotFound(t *testing.T) {
	m := NewManager(DefaultConfig(), func(ctx context.Context, kind JobKind, id string) error { return nil }, zap.NewNop())
	err := m.Remove(JobKindWorkflow, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
