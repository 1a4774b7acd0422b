package dbcontext

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseError_Error(t *testing.T) {
	err := &DatabaseError{Op: "Insert", SQLState: "42P01", Message: `relation "widget" does not exist`}
	assert.Equal(t, `dbcontext.Insert: relation "widget" does not exist (SQLSTATE 42P01)`, err.Error())

	err = &DatabaseError{Message: "boom"}
	assert.Equal(t, "dbcontext: boom", err.Error())
}

func TestDatabaseError_Unwrap(t *testing.T) {
	cause := errors.New("driver failure")
	err := fmt.Errorf("outer: %w", &DatabaseError{Message: "x", Cause: cause})

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrDatabase)
	assert.False(t, IsUniqueConstraint(err))
}

func TestClassifiedErrors_Is(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"null value", &NullValueError{}, ErrNullValue},
		{"check", &CheckConstraintError{}, ErrCheckConstraint},
		{"unique", &UniqueConstraintError{}, ErrUniqueConstraint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("wrapped: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.ErrorIs(t, wrapped, ErrDatabase)
			assert.True(t, IsDatabase(wrapped))
		})
	}
}

func TestSQLState(t *testing.T) {
	code, ok := SQLState(fmt.Errorf("x: %w", &UniqueConstraintError{DatabaseError: DatabaseError{SQLState: "23505"}}))
	assert.True(t, ok)
	assert.Equal(t, "23505", code)

	_, ok = SQLState(errors.New("plain"))
	assert.False(t, ok)

	_, ok = SQLState(nil)
	assert.False(t, ok)
}

func TestMissingPrimaryKeyError(t *testing.T) {
	err := &MissingPrimaryKeyError{TypeName: "note"}
	assert.Contains(t, err.Error(), "note")
	assert.True(t, IsMissingPrimaryKey(err))
	assert.False(t, IsDatabase(err))

	_, ok := SQLState(err)
	assert.False(t, ok)
}

func TestConfigurationError(t *testing.T) {
	cause := errors.New("open database.yaml: no such file")
	err := &ConfigurationError{Name: "reporting", Reason: "connection string not found", Cause: cause}

	assert.Equal(t, `dbcontext: configuration "reporting": connection string not found`, err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsConfiguration(err))

	assert.Equal(t, "dbcontext: configuration: schema is required",
		(&ConfigurationError{Reason: "schema is required"}).Error())
}
