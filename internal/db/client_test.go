package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewTestClient_RoundTripsAgainstMockDriver(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	c := NewTestClient(sqlDB, zap.NewNop())

	id := uuid.New()
	mock.ExpectQuery("SELECT id, email, role").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "role", "display_name", "avatar_url", "prefs",
			"gmail_refresh_token", "context", "created_at", "updated_at",
		}).AddRow(id, "u@example.com", "USER", nil, nil, []byte(`{}`), nil, []byte(`{}`), time.Now(), time.Now()))

	u, err := c.GetUser(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, "u@example.com", u.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewTestClient_NotFoundMapsToErrNotFound(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	c := NewTestClient(sqlDB, zap.NewNop())

	id := uuid.New()
	mock.ExpectQuery("SELECT id, email, role").
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err = c.GetUser(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
