package dbcontext

import (
	"errors"
	"fmt"
)

// Sentinel errors for quick checks with errors.Is
var (
	ErrDatabase          = errors.New("dbcontext: database error")
	ErrNullValue         = errors.New("dbcontext: not null violation")
	ErrCheckConstraint   = errors.New("dbcontext: check constraint violation")
	ErrUniqueConstraint  = errors.New("dbcontext: unique constraint violation")
	ErrMissingPrimaryKey = errors.New("dbcontext: missing primary key")
	ErrConfiguration     = errors.New("dbcontext: invalid configuration")
	ErrRollbackOnly      = errors.New("dbcontext: transaction was marked rollback-only by a nested scope")
	ErrMigrationChanged  = errors.New("dbcontext: applied migration has changed")
)

// DatabaseError is an engine error that is not one of the classified
// constraint violations. Every classified error embeds it.
type DatabaseError struct {
	Op       string // Operation that failed (e.g., "Insert", "CommitTransaction")
	SQLState string // PostgreSQL error code
	Message  string // Server message
	Detail   string // Server detail, if any
	Cause    error  // Original driver error
}

func (e *DatabaseError) Error() string {
	msg := "dbcontext: " + e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("dbcontext.%s: %s", e.Op, e.Message)
	}
	if e.SQLState != "" {
		msg += fmt.Sprintf(" (SQLSTATE %s)", e.SQLState)
	}
	return msg
}

func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for sentinel error matching
func (e *DatabaseError) Is(target error) bool {
	return target == ErrDatabase
}

// NullValueError reports an attempt to store NULL in a NOT NULL column.
type NullValueError struct {
	DatabaseError
	Field string
	Table string
}

func (e *NullValueError) Error() string {
	return fmt.Sprintf("dbcontext: field %s cannot be null in table %s", e.Field, e.Table)
}

// Is implements errors.Is for sentinel error matching
func (e *NullValueError) Is(target error) bool {
	return target == ErrNullValue || target == ErrDatabase
}

// CheckConstraintError reports a row rejected by a CHECK constraint.
type CheckConstraintError struct {
	DatabaseError
	ConstraintName string
	Table          string
	Field          string
}

func (e *CheckConstraintError) Error() string {
	return fmt.Sprintf("dbcontext: check constraint %s violated in table %s; conflicting field is %s",
		e.ConstraintName, e.Table, e.Field)
}

func (e *CheckConstraintError) Is(target error) bool {
	return target == ErrCheckConstraint || target == ErrDatabase
}

// UniqueConstraintError reports a duplicate key.
type UniqueConstraintError struct {
	DatabaseError
	ConstraintName  string
	Table           string
	DuplicatedValue string
}

func (e *UniqueConstraintError) Error() string {
	return fmt.Sprintf("dbcontext: %s violated in table %s; duplicated value is %s",
		e.ConstraintName, e.Table, e.DuplicatedValue)
}

// Is matches ErrUniqueConstraint and ErrDatabase
func (e *UniqueConstraintError) Is(target error) bool {
	return target == ErrUniqueConstraint || target == ErrDatabase
}

// MissingPrimaryKeyError is returned by Update and Delete when the record type
// has no field tagged as primary key. It is raised before any I/O.
type MissingPrimaryKeyError struct {
	TypeName string
}

func (e *MissingPrimaryKeyError) Error() string {
	return fmt.Sprintf("dbcontext: type %s does not declare a primary key; tag the key field with `db:\",pk\"` to use this operation", e.TypeName)
}

func (e *MissingPrimaryKeyError) Is(target error) bool {
	return target == ErrMissingPrimaryKey
}

// ConfigurationError reports a missing or invalid connection descriptor.
type ConfigurationError struct {
	Name   string // Connection name or setting that failed to resolve
	Reason string
	Cause  error
}

func (e *ConfigurationError) Error() string {
	if e.Name == "" {
		return "dbcontext: configuration: " + e.Reason
	}
	return fmt.Sprintf("dbcontext: configuration %q: %s", e.Name, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// IsDatabase checks if err is any classified engine error
func IsDatabase(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// IsNullValue checks if err is a not null violation
func IsNullValue(err error) bool {
	return errors.Is(err, ErrNullValue)
}

// IsCheckConstraint checks if err is a check constraint violation
func IsCheckConstraint(err error) bool {
	return errors.Is(err, ErrCheckConstraint)
}

// IsUniqueConstraint checks if err is a duplicate key violation
func IsUniqueConstraint(err error) bool {
	return errors.Is(err, ErrUniqueConstraint)
}

// IsMissingPrimaryKey checks if err was caused by a record type without primary key
func IsMissingPrimaryKey(err error) bool {
	return errors.Is(err, ErrMissingPrimaryKey)
}

// IsConfiguration checks if err is a configuration error
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// SQLState extracts the PostgreSQL error code of a classified error
func SQLState(err error) (string, bool) {
	if base := databaseError(err); base != nil && base.SQLState != "" {
		return base.SQLState, true
	}
	return "", false
}

// databaseError returns the DatabaseError embedded in any classified error.
func databaseError(err error) *DatabaseError {
	var (
		nullErr   *NullValueError
		checkErr  *CheckConstraintError
		uniqueErr *UniqueConstraintError
		dbErr     *DatabaseError
	)
	switch {
	case errors.As(err, &nullErr):
		return &nullErr.DatabaseError
	case errors.As(err, &checkErr):
		return &checkErr.DatabaseError
	case errors.As(err, &uniqueErr):
		return &uniqueErr.DatabaseError
	case errors.As(err, &dbErr):
		return dbErr
	}
	return nil
}
