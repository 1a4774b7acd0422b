package dbcontext

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// run executes fn on the connection chosen by ec. Engine errors returned by
// fn are classified; failing to obtain a connection is not.
func run(ctx context.Context, ec ExecutionContext, op string, stmt Statement, fn func(cn conn, query string, args []any) error) error {
	query, args := stmt.SQL, stmt.Args
	if ec.shared().cfg.InlineLiterals {
		inlined, err := stmt.Inline()
		if err != nil {
			return fmt.Errorf("dbcontext.%s: %w", op, err)
		}
		query, args = inlined, nil
	}

	cn, release, err := ec.acquire(ctx)
	if err != nil {
		return fmt.Errorf("dbcontext.%s: acquire connection: %w", op, err)
	}
	defer release()

	return classify(fn(cn, query, args), op)
}

// execute runs stmt and returns the number of affected rows.
func execute(ctx context.Context, ec ExecutionContext, op string, stmt Statement) (int64, error) {
	var affected int64
	err := run(ctx, ec, op, stmt, func(cn conn, query string, args []any) error {
		res, err := cn.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// scalar runs stmt and returns the first column of the first row.
func scalar(ctx context.Context, ec ExecutionContext, op string, stmt Statement) (any, error) {
	var value any
	err := run(ctx, ec, op, stmt, func(cn conn, query string, args []any) error {
		rows, err := cn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		if !rows.Next() {
			return rows.Err()
		}

		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		if len(dest) > 0 {
			value = dest[0]
		}
		return rows.Err()
	})
	return value, err
}

// retrieve runs stmt and materializes every returned row as a T.
func retrieve[T any](ctx context.Context, ec ExecutionContext, op string, stmt Statement) ([]T, error) {
	var rows []map[string]any
	err := run(ctx, ec, op, stmt, func(cn conn, query string, args []any) error {
		result, err := cn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		return ec.shared().db.ScanRows(ctx, result, &rows)
	})
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	items, err := Materialize[T](rows)
	if err != nil {
		return nil, fmt.Errorf("dbcontext.%s: %w", op, err)
	}
	return items, nil
}
