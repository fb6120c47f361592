package triggers

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zerg-labs/zerg-core/internal/db"
	"github.com/zerg-labs/zerg-core/internal/eventbus"
	"github.com/zerg-labs/zerg-core/internal/secretbox"
	"github.com/zerg-labs/zerg-core/internal/tasks"
)

type fakeGmailClient struct {
	historyRecords   []HistoryRecord
	maxHistoryID     uint64
	messages         map[string]*MessageMeta
	renewHistoryID   uint64
	renewExpiry      time.Time
	exchangeCalls    int
	listHistoryCalls int
}

func (f *fakeGmailClient) ExchangeRefreshToken(ctx context.Context, refreshToken string) (string, error) {
	f.exchangeCalls++
	return "access-token-for-" + refreshToken, nil
}

func (f *fakeGmailClient) ListHistory(ctx context.Context, accessToken string, startHistoryID uint64) ([]HistoryRecord, uint64, error) {
	f.listHistoryCalls++
	return f.historyRecords, f.maxHistoryID, nil
}

func (f *fakeGmailClient) GetMessageMetadata(ctx context.Context, accessToken, messageID string) (*MessageMeta, error) {
	return f.messages[messageID], nil
}

func (f *fakeGmailClient) RenewWatch(ctx context.Context, accessToken string) (uint64, time.Time, error) {
	return f.renewHistoryID, f.renewExpiry, nil
}

func TestMatchesFilters_EmptyMatchesEverything(t *testing.T) {
	assert.True(t, matchesFilters(&MessageMeta{From: "a@b.com"}, nil))
}

func TestMatchesFilters_FromContains(t *testing.T) {
	meta := &MessageMeta{From: "Alerts <alerts@example.com>", Subject: "Disk full"}
	assert.True(t, matchesFilters(meta, map[string]interface{}{"from_contains": "alerts@"}))
	assert.False(t, matchesFilters(meta, map[string]interface{}{"from_contains": "billing@"}))
}

func TestMatchesFilters_SubjectAndLabelCombine(t *testing.T) {
	meta := &MessageMeta{Subject: "URGENT: disk full", Labels: []string{"INBOX", "IMPORTANT"}}
	assert.True(t, matchesFilters(meta, map[string]interface{}{"subject_contains": "urgent", "label": "important"}))
	assert.False(t, matchesFilters(meta, map[string]interface{}{"subject_contains": "urgent", "label": "spam"}))
}

func TestHistoryIDFromConfig_DefaultsZero(t *testing.T) {
	assert.Equal(t, uint64(0), historyIDFromConfig(db.JSONB{}))
	assert.Equal(t, uint64(42), historyIDFromConfig(db.JSONB{"history_id": float64(42)}))
}

func TestWatchExpiryFromConfig_AbsentReturnsFalse(t *testing.T) {
	_, ok := watchExpiryFromConfig(db.JSONB{})
	assert.False(t, ok)
}

func newTestPoller(t *testing.T, client GmailClient) (*GmailPoller, sqlmock.Sqlmock, *secretbox.Box) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	store := db.NewTestClient(sqlDB, zap.NewNop())
	bus := eventbus.New(zap.NewNop())
	exec := tasks.New(store, bus, nil, zap.NewNop())
	box, err := secretbox.New("test-passphrase")
	require.NoError(t, err)

	poller := NewGmailPoller(store, bus, exec, client, box, time.Hour, zap.NewNop())
	return poller, mock, box
}

func TestProcessTrigger_AdvancesHistoryIDEvenWithoutMatches(t *testing.T) {
	client := &fakeGmailClient{maxHistoryID: 99}
	poller, mock, box := newTestPoller(t, client)

	userID := uuid.New()
	sealed, err := box.Seal([]byte("refresh-token-value"))
	require.NoError(t, err)

	agentID := uuid.New()
	trigID := uuid.New()
	trig := &db.Trigger{ID: trigID, AgentID: agentID, Type: "email", Config: db.JSONB{"provider": "gmail", "history_id": float64(10)}}

	mock.ExpectQuery("SELECT id, email, role").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "role", "display_name", "avatar_url", "prefs",
			"gmail_refresh_token", "context", "created_at", "updated_at",
		}).AddRow(userID, "u@example.com", "USER", nil, nil, []byte(`{}`), sealed, []byte(`{}`), time.Now(), time.Now()))
	mock.ExpectExec("UPDATE triggers SET config").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = poller.processTrigger(context.Background(), trig)
	require.NoError(t, err)
	assert.Equal(t, 1, client.exchangeCalls)
	assert.Equal(t, 1, client.listHistoryCalls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessTrigger_CachesAccessToken(t *testing.T) {
	client := &fakeGmailClient{maxHistoryID: 0}
	poller, mock, box := newTestPoller(t, client)

	userID := uuid.New()
	sealed, err := box.Seal([]byte("refresh-token-value"))
	require.NoError(t, err)

	trig := &db.Trigger{ID: uuid.New(), AgentID: uuid.New(), Type: "email", Config: db.JSONB{"provider": "gmail"}}

	userRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{
			"id", "email", "role", "display_name", "avatar_url", "prefs",
			"gmail_refresh_token", "context", "created_at", "updated_at",
		}).AddRow(userID, "u@example.com", "USER", nil, nil, []byte(`{}`), sealed, []byte(`{}`), time.Now(), time.Now())
	}
	mock.ExpectQuery("SELECT id, email, role").WillReturnRows(userRows())
	mock.ExpectQuery("SELECT id, email, role").WillReturnRows(userRows())

	require.NoError(t, poller.processTrigger(context.Background(), trig))
	require.NoError(t, poller.processTrigger(context.Background(), trig))

	assert.Equal(t, 1, client.exchangeCalls, "second poll should reuse the cached access token")
	assert.NoError(t, mock.ExpectationsWereMet())
}
