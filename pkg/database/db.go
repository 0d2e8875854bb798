package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	_ "github.com/lib/pq"
)

// Config holds database configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Querier is the query surface shared by *sql.Tx and TenantConn, so
// schema-scoped repositories can run inside the provisioning transaction or
// on a per-request bound connection without caring which.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Pool manages database connections and hands out schema-bound connections
// for tenant-scoped work.
type Pool struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPool creates a new database connection pool
func NewPool(ctx context.Context, config *Config, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host,
		config.Port,
		config.User,
		config.Password,
		config.Database,
		config.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctxTest, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctxTest); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connected successfully",
		slog.String("host", config.Host),
		slog.String("database", config.Database),
	)

	return &Pool{db: db, logger: logger}, nil
}

// NewPoolFromDB wraps an existing *sql.DB (used by tests with sqlmock).
func NewPoolFromDB(db *sql.DB, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{db: db, logger: logger}
}

// DB returns the underlying pool for global (public-schema) queries.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Close closes the database connection
func (p *Pool) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// Health checks the database health
func (p *Pool) Health(ctx context.Context) error {
	ctxTest, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return p.db.PingContext(ctxTest)
}

// schemaNamePattern is the only shape of schema name ever interpolated into
// SQL. SET search_path cannot take a bind parameter, so anything outside
// this pattern is rejected before it gets near a statement.
var schemaNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidSchemaName reports whether name is safe to use as a tenant schema.
func ValidSchemaName(name string) bool {
	return schemaNamePattern.MatchString(name)
}

// TenantConn is a dedicated connection whose search_path is bound to one
// tenant schema. The binding is connection-scoped state: Release resets it
// before the connection goes back to the pool, so a later request can never
// run against a stale tenant. A TenantConn must never be shared across
// requests.
type TenantConn struct {
	conn   *sql.Conn
	schema string
}

// AcquireTenant takes a connection out of the pool and binds its
// search_path to the given tenant schema for the lifetime of one request.
func (p *Pool) AcquireTenant(ctx context.Context, schema string) (*TenantConn, error) {
	if !ValidSchemaName(schema) {
		return nil, fmt.Errorf("invalid schema name %q", schema)
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	if _, err := conn.ExecContext(ctx, fmt.Sprintf(`SET search_path TO %q, public`, schema)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to bind schema %s: %w", schema, err)
	}

	return &TenantConn{conn: conn, schema: schema}, nil
}

// Schema returns the tenant schema this connection is bound to.
func (tc *TenantConn) Schema() string {
	return tc.schema
}

// QueryRowContext runs a query on the bound connection.
func (tc *TenantConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tc.conn.QueryRowContext(ctx, query, args...)
}

// QueryContext runs a query on the bound connection.
func (tc *TenantConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tc.conn.QueryContext(ctx, query, args...)
}

// ExecContext runs a statement on the bound connection.
func (tc *TenantConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tc.conn.ExecContext(ctx, query, args...)
}

// Begin starts a transaction on the bound connection. The transaction
// inherits the schema binding.
func (tc *TenantConn) Begin(ctx context.Context) (*sql.Tx, error) {
	return tc.conn.BeginTx(ctx, nil)
}

// Release resets the connection's search_path and returns it to the pool.
// If the reset fails the connection is discarded rather than returned with
// a stale binding.
func (tc *TenantConn) Release(ctx context.Context) error {
	if tc.conn == nil {
		return nil
	}
	_, err := tc.conn.ExecContext(ctx, `SET search_path TO public`)
	if err != nil {
		// Returning ErrBadConn from Raw marks the connection as bad so the
		// pool drops it instead of reusing it with a stale binding.
		_ = tc.conn.Raw(func(any) error { return driver.ErrBadConn })
	}
	closeErr := tc.conn.Close()
	tc.conn = nil
	if err != nil {
		return fmt.Errorf("failed to reset schema binding: %w", err)
	}
	return closeErr
}
