package dbcontext

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/fernandezvara/dbcontext/hooks"
)

// ExecutionContext is implemented by *AutonomousContext and
// *TransactionalContext. It is sealed: the generic CRUD functions of this
// package dispatch on the two variants through unexported methods.
type ExecutionContext interface {
	// Schema returns the schema qualifying every table.
	Schema() string

	// AsTransactional upgrades the context. An autonomous context returns a
	// new transactional context sharing its connection descriptor and
	// schema; a transactional context adds one nesting layer and returns
	// itself.
	AsTransactional() *TransactionalContext

	// ExecuteProcedure calls a stored procedure and returns the affected-row
	// count reported by the server. PostgreSQL reports 0 for every CALL, so
	// the count is always 0 there; ask a function through ExecuteScalar or
	// ExecuteAndRetrieveAs when a result is needed.
	ExecuteProcedure(ctx context.Context, name string, params ...any) (int64, error)

	// ExecuteStatement runs a raw statement and returns the number of
	// affected rows.
	ExecuteStatement(ctx context.Context, query string, args ...any) (int64, error)

	// ExecuteScalar runs a raw statement and returns the first column of
	// the first row, or nil when there are no rows.
	ExecuteScalar(ctx context.Context, query string, args ...any) (any, error)

	shared() *core
	acquire(ctx context.Context) (conn, func(), error)
}

// conn is satisfied by bun.Conn and bun.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// core is the state shared by a context and every transactional context
// derived from it.
type core struct {
	db      *bun.DB
	cfg     Config
	builder *StatementBuilder
}

// AutonomousContext runs every call on its own connection: acquire,
// execute, release. It holds no connection between calls and is safe for
// concurrent use.
type AutonomousContext struct {
	c *core
}

var (
	_ ExecutionContext = (*AutonomousContext)(nil)
	_ ExecutionContext = (*TransactionalContext)(nil)
)

// New opens a connection pool described by cfg and verifies it with a ping.
func New(cfg Config) (*AutonomousContext, error) {
	// Apply defaults for zero values
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	sqlDB, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	// Configure pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ac, err := newAutonomous(sqlDB, cfg)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := ac.c.db.PingContext(ctx); err != nil {
		_ = ac.c.db.Close()
		return nil, fmt.Errorf("dbcontext.New: failed to connect to database: %w", err)
	}

	return ac, nil
}

// NewWithDB wraps an already opened *sql.DB. The connection string of cfg is
// not used; the pool is not pinged.
func NewWithDB(sqlDB *sql.DB, cfg Config) (*AutonomousContext, error) {
	if sqlDB == nil {
		return nil, &ConfigurationError{Name: "DB", Reason: "database handle is required"}
	}
	cfg.applyDefaults()
	return newAutonomous(sqlDB, cfg)
}

func openDB(cfg Config) (*sql.DB, error) {
	if cfg.Driver == DriverPGX {
		connCfg, err := pgx.ParseConfig(cfg.ConnectionString)
		if err != nil {
			return nil, &ConfigurationError{Name: "ConnectionString", Reason: "invalid connection string", Cause: err}
		}
		connCfg.ConnectTimeout = cfg.DialTimeout
		return stdlib.OpenDB(*connCfg), nil
	}

	// Create pgdriver connector with timeouts
	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.ConnectionString),
		pgdriver.WithDialTimeout(cfg.DialTimeout),
		pgdriver.WithReadTimeout(cfg.ReadTimeout),
		pgdriver.WithWriteTimeout(cfg.WriteTimeout),
	)
	return sql.OpenDB(connector), nil
}

func newAutonomous(sqlDB *sql.DB, cfg Config) (*AutonomousContext, error) {
	bunDB := bun.NewDB(sqlDB, pgdialect.New())

	// Add observability hooks
	if cfg.Logger != nil && (cfg.LogQueries || cfg.LogSlowQueries > 0) {
		bunDB.AddQueryHook(hooks.NewLoggerHook(cfg.Logger, cfg.LogQueries, cfg.LogSlowQueries))
	}
	if cfg.MetricsRegistry != nil {
		hook, err := hooks.NewMetricsHook(cfg.MetricsRegistry)
		if err != nil {
			return nil, fmt.Errorf("dbcontext: failed to create metrics hook: %w", err)
		}
		bunDB.AddQueryHook(hook)
	}
	if cfg.Tracer != nil {
		bunDB.AddQueryHook(hooks.NewTracingHook(cfg.Tracer, cfg.Schema))
	}

	return &AutonomousContext{
		c: &core{
			db:      bunDB,
			cfg:     cfg,
			builder: NewStatementBuilder(cfg.Schema),
		},
	}, nil
}

// Close closes the connection pool. Transactional contexts derived from
// this context must be closed first.
func (ac *AutonomousContext) Close() error {
	return ac.c.db.Close()
}

// Ping verifies the database connection is alive
func (ac *AutonomousContext) Ping(ctx context.Context) error {
	return ac.c.db.PingContext(ctx)
}

// DB returns the underlying bun.DB for direct access
func (ac *AutonomousContext) DB() *bun.DB {
	return ac.c.db
}

// Config returns the current configuration
func (ac *AutonomousContext) Config() Config {
	return ac.c.cfg
}

// Builder returns the statement builder bound to the context schema
func (ac *AutonomousContext) Builder() *StatementBuilder {
	return ac.c.builder
}

// Schema returns the schema qualifying every table
func (ac *AutonomousContext) Schema() string {
	return ac.c.cfg.Schema
}

// AsTransactional returns a new, idle transactional context sharing the
// connection descriptor and schema.
func (ac *AutonomousContext) AsTransactional() *TransactionalContext {
	return &TransactionalContext{c: ac.c}
}

// ExecuteProcedure calls a stored procedure on a connection of its own.
// PostgreSQL reports 0 affected rows for CALL.
func (ac *AutonomousContext) ExecuteProcedure(ctx context.Context, name string, params ...any) (int64, error) {
	return execute(ctx, ac, "ExecuteProcedure", ac.c.builder.Procedure(name, params...))
}

// ExecuteStatement runs a raw statement and returns the affected rows
func (ac *AutonomousContext) ExecuteStatement(ctx context.Context, query string, args ...any) (int64, error) {
	return execute(ctx, ac, "ExecuteStatement", Statement{SQL: query, Args: nilIfEmpty(args)})
}

// ExecuteScalar returns the first column of the first row, or nil
func (ac *AutonomousContext) ExecuteScalar(ctx context.Context, query string, args ...any) (any, error) {
	return scalar(ctx, ac, "ExecuteScalar", Statement{SQL: query, Args: nilIfEmpty(args)})
}

func (ac *AutonomousContext) shared() *core {
	return ac.c
}

func (ac *AutonomousContext) acquire(ctx context.Context) (conn, func(), error) {
	return ac.c.acquire(ctx)
}

// acquire takes a dedicated connection from the pool; release returns it.
func (c *core) acquire(ctx context.Context) (conn, func(), error) {
	cn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	return cn, func() { _ = cn.Close() }, nil
}
