package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/zerg-labs/zerg-core/internal/circuitbreaker"
)

// Config configures the Postgres connection pool.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
}

// WriteType classifies a queued asynchronous write. Only non-critical,
// best-effort writes belong here: event/audit trails whose loss is
// tolerable. Entities with ordering or phase<->result invariants
// (ThreadMessage ids, AgentRun/WorkflowExecution transitions) are always
// written synchronously on the caller's goroutine.
type WriteType int

const (
	WriteTypeEventLog WriteType = iota
	WriteTypeAuditLog
)

func (t WriteType) String() string {
	switch t {
	case WriteTypeEventLog:
		return "event_log"
	case WriteTypeAuditLog:
		return "audit_log"
	default:
		return "unknown"
	}
}

// WriteRequest is one item on the async write queue.
type WriteRequest struct {
	Type     WriteType
	Exec     func(ctx context.Context) error
	Callback func(error)
}

// Client wraps a Postgres connection pool behind a circuit breaker, plus a
// bounded async queue for non-critical writes. Modeled on the teacher's
// database client: pool sizing, health check loop and queued-write workers,
// generalized from a fixed per-entity write dispatcher to an arbitrary
// closure so every store file can enqueue its own non-critical writes.
type Client struct {
	wrapped *circuitbreaker.DatabaseWrapper
	sqlx    *sqlx.DB
	logger  *zap.Logger
	config  *Config

	writeQueue chan WriteRequest
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
}

func dsn(c *Config) string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
}

// NewClient opens the pool, wraps it in a circuit breaker, and starts the
// async write workers and background health check.
func NewClient(ctx context.Context, config *Config, logger *zap.Logger) (*Client, error) {
	sqlDB, err := sql.Open("postgres", dsn(config))
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	maxConns := config.MaxConnections
	if maxConns == 0 {
		maxConns = 25
	}
	idleConns := config.IdleConnections
	if idleConns == 0 {
		idleConns = 5
	}
	maxLifetime := config.MaxLifetime
	if maxLifetime == 0 {
		maxLifetime = 30 * time.Minute
	}

	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(idleConns)
	sqlDB.SetConnMaxLifetime(maxLifetime)

	wrapped := circuitbreaker.NewDatabaseWrapper(sqlDB, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := wrapped.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	c := &Client{
		wrapped:    wrapped,
		sqlx:       sqlx.NewDb(sqlDB, "postgres"),
		logger:     logger,
		config:     config,
		writeQueue: make(chan WriteRequest, 1000),
		stopCh:     make(chan struct{}),
	}

	for i := 0; i < 4; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
	go c.healthCheck()

	return c, nil
}

// DB exposes the sqlx handle for store files.
func (c *Client) DB() *sqlx.DB {
	return c.sqlx
}

// NewTestClient wraps an already-open *sql.DB (typically a
// github.com/DATA-DOG/go-sqlmock connection) into a Client with no pool
// tuning, no async write workers, and no background health check, so store
// methods can be exercised against a mock driver from other packages'
// tests without dialing real Postgres. Grounded on the teacher's own
// `circuitbreaker.NewDatabaseWrapper(sqlDB, logger)` being directly
// sqlmock-testable; this just extends that same seam up to Client.
func NewTestClient(sqlDB *sql.DB, logger *zap.Logger) *Client {
	return &Client{
		wrapped: circuitbreaker.NewDatabaseWrapper(sqlDB, logger),
		sqlx:    sqlx.NewDb(sqlDB, "postgres"),
		logger:  logger,
		config:  &Config{},
	}
}

// EnqueueWrite submits a non-critical write to the async queue. If the queue
// is full the write runs synchronously instead of being dropped.
func (c *Client) EnqueueWrite(req WriteRequest) {
	select {
	case c.writeQueue <- req:
	default:
		c.logger.Warn("write queue full, running write synchronously", zap.String("type", req.Type.String()))
		err := req.Exec(context.Background())
		if req.Callback != nil {
			req.Callback(err)
		}
	}
}

func (c *Client) writeWorker(id int) {
	defer c.workerWg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case req := <-c.writeQueue:
			err := req.Exec(context.Background())
			if err != nil {
				c.logger.Error("async write failed", zap.Int("worker", id), zap.String("type", req.Type.String()), zap.Error(err))
			}
			if req.Callback != nil {
				req.Callback(err)
			}
		}
	}
}

func (c *Client) healthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.wrapped.PingContext(ctx); err != nil {
				c.logger.Warn("database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Close stops the write workers and the health check and closes the pool.
func (c *Client) Close() error {
	close(c.stopCh)
	c.workerWg.Wait()
	return c.wrapped.Close()
}
