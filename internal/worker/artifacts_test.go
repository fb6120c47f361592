package worker

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStore_CreateAndReadMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	owner := uuid.New()

	require.NoError(t, s.CreateWorker("w1", owner, map[string]interface{}{"task": "do the thing"}))

	md, err := s.ReadMetadata("w1", owner)
	require.NoError(t, err)
	assert.Equal(t, "queued", md.Status)
	assert.Equal(t, owner, md.OwnerID)
}

func TestStore_ReadMetadataRejectsWrongOwner(t *testing.T) {
	s := newTestStore(t)
	owner := uuid.New()
	stranger := uuid.New()
	require.NoError(t, s.CreateWorker("w1", owner, nil))

	_, err := s.ReadMetadata("w1", stranger)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestStore_RejectsPathEscape(t *testing.T) {
	s := newTestStore(t)
	owner := uuid.New()

	assert.ErrorIs(t, s.CreateWorker("../escape", owner, nil), ErrInvalidPath)
	assert.ErrorIs(t, s.CreateWorker("a/../../b", owner, nil), ErrInvalidPath)
}

func TestStore_WriteResultAndReadResult(t *testing.T) {
	s := newTestStore(t)
	owner := uuid.New()
	require.NoError(t, s.CreateWorker("w1", owner, nil))

	require.NoError(t, s.WriteResult("w1", "Result: all done"))

	got, err := s.ReadResult("w1", owner)
	require.NoError(t, err)
	assert.Equal(t, "Result: all done", got)
}

func TestStore_UpdateMetadataUpdatesIndex(t *testing.T) {
	s := newTestStore(t)
	owner := uuid.New()
	require.NoError(t, s.CreateWorker("w1", owner, nil))

	require.NoError(t, s.UpdateMetadata("w1", func(md *Metadata) { md.Status = "running" }))

	entries, err := s.ListWorkers()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "running", entries[0].Status)
}

func TestStore_WriteToolCallAndMonitoringSnapshot(t *testing.T) {
	s := newTestStore(t)
	owner := uuid.New()
	require.NoError(t, s.CreateWorker("w1", owner, nil))

	require.NoError(t, s.WriteToolCall("w1", 1, "http get", "fetched 200 bytes"))
	require.NoError(t, s.WriteMonitoringSnapshot("w1", 12*time.Second, map[string]interface{}{"status": "running"}))
}

func TestStore_AppendThreadLine(t *testing.T) {
	s := newTestStore(t)
	owner := uuid.New()
	require.NoError(t, s.CreateWorker("w1", owner, nil))

	require.NoError(t, s.AppendThreadLine("w1", map[string]interface{}{"role": "user", "content": "hi"}))
	require.NoError(t, s.AppendThreadLine("w1", map[string]interface{}{"role": "assistant", "content": "hello"}))
}
