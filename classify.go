package dbcontext

import (
	"regexp"
	"strings"

	"github.com/fernandezvara/dbcontext/internal/pgerr"
)

// Message shapes produced by PostgreSQL (12+), for example:
//
//	null value in column "price" of relation "widget" violates not-null constraint
//	new row for relation "widget" violates check constraint "widget_price_check"
//	duplicate key value violates unique constraint "widget_name_key"
//	Key (name)=(bolt) already exists.
var (
	columnPattern         = regexp.MustCompile(`column "([^"]+)"`)
	relationPattern       = regexp.MustCompile(`relation "([^"]+)"`)
	checkPattern          = regexp.MustCompile(`check constraint "([^"]+)"`)
	uniquePattern         = regexp.MustCompile(`unique constraint "([^"]+)"`)
	duplicateValuePattern = regexp.MustCompile(`^Key \(.+?\)=\((.*)\) already exists`)
)

// Classify converts a driver error into one of the typed errors of this
// package. Errors that were not reported by the PostgreSQL server (dial
// failures, context cancellation, ...) are returned unchanged.
func Classify(err error) error {
	return classify(err, "")
}

// classify never fails: unmatched patterns leave diagnostic fields empty.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}

	// Already classified
	if databaseError(err) != nil {
		return err
	}

	d, ok := pgerr.Extract(err)
	if !ok {
		return err
	}

	base := DatabaseError{
		Op:       op,
		SQLState: d.Code,
		Message:  d.Message,
		Detail:   d.Detail,
		Cause:    err,
	}

	switch d.Code {
	case pgerr.NotNullViolation:
		return &NullValueError{
			DatabaseError: base,
			Field:         firstMatch(columnPattern, d.Message),
			Table:         firstMatch(relationPattern, d.Message),
		}
	case pgerr.CheckViolation:
		e := &CheckConstraintError{
			DatabaseError:  base,
			ConstraintName: firstMatch(checkPattern, d.Message),
			Table:          firstMatch(relationPattern, d.Message),
		}
		e.Field = checkedField(e.ConstraintName, e.Table)
		return e
	case pgerr.UniqueViolation:
		return &UniqueConstraintError{
			DatabaseError:   base,
			ConstraintName:  firstMatch(uniquePattern, d.Message),
			Table:           d.Table,
			DuplicatedValue: firstMatch(duplicateValuePattern, d.Detail),
		}
	}

	return &base
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// checkedField recovers the column from PostgreSQL's default check constraint
// name, <table>_<column>_check.
func checkedField(constraint, table string) string {
	if constraint == "" || table == "" {
		return ""
	}
	prefix := table + "_"
	const suffix = "_check"
	if !strings.HasPrefix(constraint, prefix) || !strings.HasSuffix(constraint, suffix) {
		return ""
	}
	if len(constraint) <= len(prefix)+len(suffix) {
		return ""
	}
	return constraint[len(prefix) : len(constraint)-len(suffix)]
}
