package dbcontext

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle state of a TransactionalContext.
type State int

const (
	StateIdle          State = iota // no connection held
	StateOpen                       // connection held, no transaction
	StateInTransaction              // connection held, transaction active
)

// String returns the lowercase state name used in log attributes
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateInTransaction:
		return "in_transaction"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TxOptions configures transaction behavior
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

// DefaultTxOptions returns default transaction options
func DefaultTxOptions() TxOptions {
	return TxOptions{
		Isolation: sql.LevelDefault,
		ReadOnly:  false,
	}
}

// ReadOnlyTxOptions returns options for read-only transactions
func ReadOnlyTxOptions() TxOptions {
	return TxOptions{
		Isolation: sql.LevelDefault,
		ReadOnly:  true,
	}
}

// SerializableTxOptions returns options for serializable transactions
func SerializableTxOptions() TxOptions {
	return TxOptions{
		Isolation: sql.LevelSerializable,
		ReadOnly:  false,
	}
}

// TransactionalContext holds one connection across several calls and at
// most one transaction on it.
//
// Nested scopes share the instance: AsTransactional adds a layer and Close
// removes one. Only the outermost scope (depth 0) commits, rolls back or
// releases the connection. A TransactionalContext is not safe for concurrent
// use.
type TransactionalContext struct {
	c *core

	conn         *bun.Conn
	tx           *bun.Tx
	depth        int
	rollbackOnly bool
	span         trace.Span
}

// State reports whether a connection and a transaction are held.
func (tc *TransactionalContext) State() State {
	switch {
	case tc.tx != nil:
		return StateInTransaction
	case tc.conn != nil:
		return StateOpen
	default:
		return StateIdle
	}
}

// Depth returns the number of nesting layers above the outermost scope.
func (tc *TransactionalContext) Depth() int {
	return tc.depth
}

// RollbackOnly reports whether an inner scope asked for a rollback.
func (tc *TransactionalContext) RollbackOnly() bool {
	return tc.rollbackOnly
}

// Schema returns the schema qualifying every table
func (tc *TransactionalContext) Schema() string {
	return tc.c.cfg.Schema
}

// AsTransactional adds one nesting layer and returns the receiver.
func (tc *TransactionalContext) AsTransactional() *TransactionalContext {
	tc.depth++
	tc.debug("transaction scope nested")
	return tc
}

// BeginTransaction opens the connection if needed and begins a transaction.
// It is a no-op when a transaction is already active.
func (tc *TransactionalContext) BeginTransaction(ctx context.Context) error {
	return tc.BeginTransactionWithOptions(ctx, DefaultTxOptions())
}

// BeginTransactionWithOptions is BeginTransaction with an isolation level
// and access mode.
func (tc *TransactionalContext) BeginTransactionWithOptions(ctx context.Context, opts TxOptions) error {
	if tc.tx != nil {
		return nil
	}

	if tc.conn == nil {
		cn, err := tc.c.db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("dbcontext.BeginTransaction: acquire connection: %w", err)
		}
		tc.conn = &cn
		tc.debug("connection opened")
	}

	tx, err := tc.conn.BeginTx(ctx, &sql.TxOptions{
		Isolation: opts.Isolation,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return classify(err, "BeginTransaction")
	}
	tc.tx = &tx

	if tracer := tc.c.cfg.Tracer; tracer != nil {
		_, tc.span = tracer.Start(ctx, "db.transaction",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("db.system", "postgresql"),
				attribute.String("db.schema", tc.c.cfg.Schema),
				attribute.Bool("db.transaction.read_only", opts.ReadOnly),
				attribute.String("db.transaction.isolation", opts.Isolation.String()),
			),
		)
	}

	tc.debug("transaction begun")
	return nil
}

// CommitTransaction commits the active transaction and releases the
// connection. Inside a nested scope it does nothing; the outermost scope
// decides. When an inner scope requested a rollback the transaction is rolled
// back instead and ErrRollbackOnly is returned.
func (tc *TransactionalContext) CommitTransaction(ctx context.Context) error {
	if tc.depth > 0 {
		tc.debug("commit deferred to outer scope")
		return nil
	}

	if tc.rollbackOnly {
		if err := tc.finish(false); err != nil {
			return err
		}
		return fmt.Errorf("dbcontext.CommitTransaction: %w", ErrRollbackOnly)
	}
	return tc.finish(true)
}

// RollBackTransaction rolls back the active transaction and releases the
// connection. Inside a nested scope it only marks the transaction
// rollback-only.
func (tc *TransactionalContext) RollBackTransaction(ctx context.Context) error {
	if tc.depth > 0 {
		if tc.tx != nil {
			tc.rollbackOnly = true
		}
		tc.debug("rollback deferred to outer scope")
		return nil
	}
	return tc.finish(false)
}

// Close ends the current scope. Inside a nested scope it removes one layer.
// In the outermost scope an uncommitted transaction is rolled back and the
// connection released. Closing an idle context does nothing.
func (tc *TransactionalContext) Close() error {
	if tc.depth > 0 {
		tc.depth--
		tc.debug("transaction scope closed")
		return nil
	}
	return tc.finish(false)
}

// finish commits or rolls back the transaction, if any, and releases the
// connection. The context is Idle afterwards even when finalizing fails.
func (tc *TransactionalContext) finish(commit bool) error {
	var err error
	if tc.tx != nil {
		op := "RollBackTransaction"
		if commit {
			op = "CommitTransaction"
			err = tc.tx.Commit()
		} else {
			err = tc.tx.Rollback()
			if errors.Is(err, sql.ErrTxDone) {
				err = nil
			}
		}
		err = classify(err, op)
		tc.endSpan(commit, err)
		tc.tx = nil
		tc.rollbackOnly = false

		if err == nil {
			tc.debug("transaction finished", "committed", commit)
		}
	}

	if relErr := tc.release(); relErr != nil && err == nil {
		err = relErr
	}
	return err
}

func (tc *TransactionalContext) release() error {
	if tc.conn == nil {
		return nil
	}
	err := tc.conn.Close()
	tc.conn = nil
	tc.debug("connection released")
	if err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("dbcontext.Close: release connection: %w", err)
	}
	return nil
}

func (tc *TransactionalContext) endSpan(commit bool, err error) {
	if tc.span == nil {
		return
	}
	tc.span.SetAttributes(attribute.Bool("db.transaction.committed", commit && err == nil))
	if err != nil {
		tc.span.RecordError(err)
		tc.span.SetStatus(codes.Error, err.Error())
	} else {
		tc.span.SetStatus(codes.Ok, "")
	}
	tc.span.End()
	tc.span = nil
}

func (tc *TransactionalContext) debug(msg string, args ...any) {
	logger := tc.c.cfg.Logger
	if logger == nil {
		return
	}
	logger.Debug(msg, append([]any{
		"schema", tc.c.cfg.Schema,
		"state", tc.State().String(),
		"depth", tc.depth,
	}, args...)...)
}

// ExecuteProcedure calls a stored procedure inside the current scope.
// PostgreSQL reports 0 affected rows for CALL.
func (tc *TransactionalContext) ExecuteProcedure(ctx context.Context, name string, params ...any) (int64, error) {
	return execute(ctx, tc, "ExecuteProcedure", tc.c.builder.Procedure(name, params...))
}

// ExecuteStatement runs a raw statement and returns the affected rows
func (tc *TransactionalContext) ExecuteStatement(ctx context.Context, query string, args ...any) (int64, error) {
	return execute(ctx, tc, "ExecuteStatement", Statement{SQL: query, Args: nilIfEmpty(args)})
}

// ExecuteScalar returns the first column of the first row, or nil
func (tc *TransactionalContext) ExecuteScalar(ctx context.Context, query string, args ...any) (any, error) {
	return scalar(ctx, tc, "ExecuteScalar", Statement{SQL: query, Args: nilIfEmpty(args)})
}

func (tc *TransactionalContext) shared() *core {
	return tc.c
}

// acquire hands out the transaction or the held connection. An idle context
// runs the call on a connection of its own, like an autonomous context.
func (tc *TransactionalContext) acquire(ctx context.Context) (conn, func(), error) {
	switch {
	case tc.tx != nil:
		return tc.tx, func() {}, nil
	case tc.conn != nil:
		return tc.conn, func() {}, nil
	default:
		return tc.c.acquire(ctx)
	}
}
