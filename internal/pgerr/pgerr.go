// Package pgerr extracts PostgreSQL error diagnostics from the errors returned
// by the drivers supported by dbcontext (bun's pgdriver and pgx).
package pgerr

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun/driver/pgdriver"
)

// SQLSTATE codes the classifier dispatches on.
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	NotNullViolation = "23502"
	CheckViolation   = "23514"
	UniqueViolation  = "23505"
)

// Diagnostic is the driver-independent view of a PostgreSQL ErrorResponse.
type Diagnostic struct {
	Code       string // SQLSTATE
	Message    string // primary human-readable message
	Detail     string
	Hint       string
	Schema     string
	Table      string
	Column     string
	Constraint string
}

// Extract returns the diagnostic carried by err, if err (or anything it wraps)
// is an error reported by the PostgreSQL server.
func Extract(err error) (Diagnostic, bool) {
	if err == nil {
		return Diagnostic{}, false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return Diagnostic{
			Code:       pgErr.Code,
			Message:    pgErr.Message,
			Detail:     pgErr.Detail,
			Hint:       pgErr.Hint,
			Schema:     pgErr.SchemaName,
			Table:      pgErr.TableName,
			Column:     pgErr.ColumnName,
			Constraint: pgErr.ConstraintName,
		}, true
	}

	var drvErr pgdriver.Error
	if errors.As(err, &drvErr) {
		// Field keys follow the ErrorResponse message format.
		return Diagnostic{
			Code:       drvErr.Field('C'),
			Message:    drvErr.Field('M'),
			Detail:     drvErr.Field('D'),
			Hint:       drvErr.Field('H'),
			Schema:     drvErr.Field('s'),
			Table:      drvErr.Field('t'),
			Column:     drvErr.Field('c'),
			Constraint: drvErr.Field('n'),
		}, true
	}

	return Diagnostic{}, false
}

// Code returns the SQLSTATE of err, or "" when err is not a server error.
func Code(err error) string {
	d, ok := Extract(err)
	if !ok {
		return ""
	}
	return d.Code
}
