package admin

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zerg-labs/zerg-core/internal/db"
)

func newTestManager(t *testing.T, cfg *Config) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	store := db.NewTestClient(sqlDB, zap.NewNop())
	if cfg == nil {
		cfg = &Config{Environment: "development"}
	}
	return New(store, cfg, zap.NewNop()), mock
}

func TestClearData_ExcludesPreservedTablesAndReportsCounts(t *testing.T) {
	m, mock := newTestManager(t, nil)

	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).
			AddRow("agents").
			AddRow("users").
			AddRow("migration_version"))

	mock.ExpectQuery("SELECT count").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectExec("TRUNCATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	before, after, err := m.ClearData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), before["agents"])
	assert.Equal(t, int64(0), after["agents"])
	assert.NotContains(t, before, "users")
	assert.NotContains(t, before, "migration_version")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthorizeRebuild_DevelopmentAlwaysAllowed(t *testing.T) {
	m, _ := newTestManager(t, &Config{Environment: "development"})
	assert.NoError(t, m.authorizeRebuild(""))
	assert.NoError(t, m.authorizeRebuild("anything"))
}

func TestAuthorizeRebuild_ProductionRequiresMatchingSecret(t *testing.T) {
	m, _ := newTestManager(t, &Config{Environment: "production", ConfirmationSecret: "s3cret"})
	assert.ErrorIs(t, m.authorizeRebuild(""), ErrForbidden)
	assert.ErrorIs(t, m.authorizeRebuild("wrong"), ErrForbidden)
	assert.NoError(t, m.authorizeRebuild("s3cret"))
}

func TestAuthorizeRebuild_UnknownEnvironmentForbidden(t *testing.T) {
	m, _ := newTestManager(t, &Config{Environment: "staging"})
	assert.ErrorIs(t, m.authorizeRebuild("anything"), ErrForbidden)
}
