// Package admin implements the two database reset operations of §4.J:
// clear_data, a non-destructive row wipe used between test runs, and
// full_rebuild, a schema drop/recreate gated to development or to
// production with a confirmation secret. Grounded directly on spec wording;
// the teacher has no equivalent admin-reset surface.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/zerg-labs/zerg-core/internal/db"
	"github.com/zerg-labs/zerg-core/internal/metrics"
)

// ErrForbidden is returned when full_rebuild is attempted outside
// development without a matching confirmation secret.
var ErrForbidden = errors.New("admin: full_rebuild forbidden in this environment")

const (
	rebuildRetries     = 3
	rebuildRetryDelay  = time.Second
	rebuildLockTimeout = "5s"
)

// preservedTables are never truncated by clear_data. full_rebuild drops the
// whole public schema instead, so this set only governs clear_data.
var preservedTables = map[string]bool{
	"users":             true,
	"migration_version": true,
}

// TableCounts maps table name to row count, used to report clear_data's
// before/after snapshot.
type TableCounts map[string]int64

// Manager implements the admin reset operations against a live database.
type Manager struct {
	store  *db.Client
	config *Config
	logger *zap.Logger
}

// New builds a Manager.
func New(store *db.Client, config *Config, logger *zap.Logger) *Manager {
	return &Manager{store: store, config: config, logger: logger}
}

// ClearData truncates every table except {users, migration_version},
// restarting identity sequences, and reports row counts before and after.
// It never drops schema.
func (m *Manager) ClearData(ctx context.Context) (before, after TableCounts, err error) {
	tables, err := m.listTruncatableTables(ctx)
	if err != nil {
		metrics.AdminClearDataTotal.WithLabelValues("error").Inc()
		return nil, nil, fmt.Errorf("listing tables: %w", err)
	}

	before, err = m.countRows(ctx, tables)
	if err != nil {
		metrics.AdminClearDataTotal.WithLabelValues("error").Inc()
		return nil, nil, fmt.Errorf("counting rows before clear: %w", err)
	}

	if len(tables) > 0 {
		stmt := "TRUNCATE TABLE " + quoteJoin(tables) + " RESTART IDENTITY CASCADE"
		if _, err := m.store.DB().ExecContext(ctx, stmt); err != nil {
			metrics.AdminClearDataTotal.WithLabelValues("error").Inc()
			return before, nil, fmt.Errorf("truncating tables: %w", err)
		}
	}

	after, err = m.countRows(ctx, tables)
	if err != nil {
		metrics.AdminClearDataTotal.WithLabelValues("error").Inc()
		return before, nil, fmt.Errorf("counting rows after clear: %w", err)
	}

	m.logger.Info("clear_data completed", zap.Int("tables", len(tables)))
	metrics.AdminClearDataTotal.WithLabelValues("ok").Inc()
	return before, after, nil
}

// FullRebuild drops and recreates the public schema. It requires
// Config.Environment to be "development", or "production" with
// confirmationSecret matching Config.ConfirmationSecret. Competing
// connections to the database are terminated first; the drop/recreate runs
// under a short lock timeout and retries up to three times on lock
// contention with a fixed one-second backoff.
func (m *Manager) FullRebuild(ctx context.Context, confirmationSecret string) error {
	if err := m.authorizeRebuild(confirmationSecret); err != nil {
		metrics.AdminFullRebuildTotal.WithLabelValues("forbidden").Inc()
		return err
	}

	if err := m.terminateOtherConnections(ctx); err != nil {
		m.logger.Warn("terminating competing connections before rebuild", zap.Error(err))
	}

	var lastErr error
	for attempt := 1; attempt <= rebuildRetries; attempt++ {
		if err := m.rebuildOnce(ctx); err != nil {
			lastErr = err
			if !isLockContention(err) || attempt == rebuildRetries {
				break
			}
			m.logger.Warn("full_rebuild retrying after lock contention",
				zap.Int("attempt", attempt), zap.Error(err))
			select {
			case <-ctx.Done():
				metrics.AdminFullRebuildTotal.WithLabelValues("error").Inc()
				return ctx.Err()
			case <-time.After(rebuildRetryDelay):
			}
			continue
		}
		m.logger.Info("full_rebuild completed", zap.Int("attempts", attempt))
		metrics.AdminFullRebuildTotal.WithLabelValues("ok").Inc()
		return nil
	}

	metrics.AdminFullRebuildTotal.WithLabelValues("error").Inc()
	return fmt.Errorf("full_rebuild failed after %d attempts: %w", rebuildRetries, lastErr)
}

func (m *Manager) authorizeRebuild(confirmationSecret string) error {
	switch m.config.Environment {
	case "development":
		return nil
	case "production":
		if m.config.ConfirmationSecret != "" && confirmationSecret == m.config.ConfirmationSecret {
			return nil
		}
		return ErrForbidden
	default:
		return ErrForbidden
	}
}

func (m *Manager) rebuildOnce(ctx context.Context) error {
	tx, err := m.store.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rebuild transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%s'", rebuildLockTimeout)); err != nil {
		return fmt.Errorf("setting lock timeout: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DROP SCHEMA public CASCADE"); err != nil {
		return fmt.Errorf("dropping schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "CREATE SCHEMA public"); err != nil {
		return fmt.Errorf("recreating schema: %w", err)
	}
	return tx.Commit()
}

// terminateOtherConnections kills every other backend connected to the
// current database so the drop/recreate below isn't blocked waiting on them.
func (m *Manager) terminateOtherConnections(ctx context.Context) error {
	_, err := m.store.DB().ExecContext(ctx, `
		SELECT pg_terminate_backend(pid) FROM pg_stat_activity
		WHERE datname = current_database() AND pid <> pg_backend_pid()`)
	return err
}

func (m *Manager) listTruncatableTables(ctx context.Context) ([]string, error) {
	var tables []string
	rows, err := m.store.DB().QueryxContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if preservedTables[name] {
			continue
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (m *Manager) countRows(ctx context.Context, tables []string) (TableCounts, error) {
	counts := make(TableCounts, len(tables))
	for _, t := range tables {
		var n int64
		query := fmt.Sprintf("SELECT count(*) FROM %s", quoteIdent(t))
		if err := m.store.DB().GetContext(ctx, &n, query); err != nil {
			return nil, fmt.Errorf("counting rows in %s: %w", t, err)
		}
		counts[t] = n
	}
	return counts, nil
}

func quoteIdent(name string) string {
	return pq.QuoteIdentifier(name)
}

func quoteJoin(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += quoteIdent(n)
	}
	return out
}

// isLockContention reports whether err is a Postgres lock-not-available or
// statement-timeout error, the two codes SET LOCAL lock_timeout can produce.
func isLockContention(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03", "57014":
			return true
		}
	}
	return false
}
