package dbcontext

import (
	"context"
	"fmt"
	"reflect"
)

// Option customizes a CRUD call
type Option func(*options)

type options struct {
	table string
}

// Table overrides the table name, which defaults to the snake_case name of
// the record type (or its TableName method).
func Table(name string) Option {
	return func(o *options) {
		o.table = name
	}
}

func collectOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SelectAll returns every row of the record table. An empty table yields an
// empty slice.
func SelectAll[T any](ctx context.Context, ec ExecutionContext, opts ...Option) ([]T, error) {
	o := collectOptions(opts)

	m, err := MappingOf[T]()
	if err != nil {
		return nil, err
	}

	stmt, err := ec.shared().builder.SelectAll(tableOr(o.table, m))
	if err != nil {
		return nil, err
	}

	return retrieve[T](ctx, ec, "SelectAll", stmt)
}

// Insert stores entity. When its type declares a write-back identity field
// the value generated by the database is stored in that field.
func Insert[T any](ctx context.Context, ec ExecutionContext, entity *T, opts ...Option) error {
	o := collectOptions(opts)

	stmt, err := ec.shared().builder.Insert(entity, o.table)
	if err != nil {
		return err
	}

	m, err := MappingOf[T]()
	if err != nil {
		return err
	}

	wb := m.WriteBackField()
	if wb == nil {
		_, err := execute(ctx, ec, "Insert", stmt)
		return err
	}

	id, err := scalar(ctx, ec, "Insert", stmt)
	if err != nil {
		return err
	}
	if err := assign(reflect.ValueOf(entity).Elem().FieldByIndex(wb.Index), id); err != nil {
		return fmt.Errorf("dbcontext.Insert: write back %s.%s: %w", m.TypeName, wb.Name, err)
	}
	return nil
}

// Update stores every mapped non-identity field of entity in the row
// matching its primary key. It fails with *MissingPrimaryKeyError, before
// any I/O, when T has no primary-key field.
func Update[T any](ctx context.Context, ec ExecutionContext, entity *T, opts ...Option) error {
	o := collectOptions(opts)

	stmt, err := ec.shared().builder.Update(entity, o.table)
	if err != nil {
		return err
	}

	_, err = execute(ctx, ec, "Update", stmt)
	return err
}

// Delete removes the row matching the primary key of entity. It fails with
// *MissingPrimaryKeyError, before any I/O, when T has no primary-key field.
func Delete[T any](ctx context.Context, ec ExecutionContext, entity *T, opts ...Option) error {
	o := collectOptions(opts)

	stmt, err := ec.shared().builder.Delete(entity, o.table)
	if err != nil {
		return err
	}

	_, err = execute(ctx, ec, "Delete", stmt)
	return err
}

// ExecuteAndRetrieveAs calls a set-returning function and materializes its
// rows.
func ExecuteAndRetrieveAs[T any](ctx context.Context, ec ExecutionContext, name string, params ...any) ([]T, error) {
	return retrieve[T](ctx, ec, "ExecuteAndRetrieveAs", ec.shared().builder.Function(name, params...))
}

// SelectAndRetrieveAs runs a raw query and materializes its rows.
func SelectAndRetrieveAs[T any](ctx context.Context, ec ExecutionContext, query string, args ...any) ([]T, error) {
	return retrieve[T](ctx, ec, "SelectAndRetrieveAs", Statement{SQL: query, Args: nilIfEmpty(args)})
}
