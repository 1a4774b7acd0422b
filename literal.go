package dbcontext

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// literalTimeLayout renders timestamps as yyyyMMdd HH:mm:ss.fff, which
// PostgreSQL accepts for both timestamp and timestamptz columns.
const literalTimeLayout = "20060102 15:04:05.000"

// Literal renders v as PostgreSQL literal text. It is the only place in the
// package that turns values into SQL text; statements are executed with
// bound arguments unless Config.InlineLiterals is set.
func Literal(v any) (string, error) {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "NULL", nil
		}
		return Literal(rv.Elem().Interface())
	}

	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quoteLiteral(x), nil
	case []byte:
		if x == nil {
			return "NULL", nil
		}
		return `'\x` + hex.EncodeToString(x) + `'`, nil
	case time.Time:
		return "'" + x.Format(literalTimeLayout) + "'", nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case decimal.Decimal:
		return x.String(), nil
	case uuid.UUID:
		return quoteLiteral(x.String()), nil
	case driver.Valuer:
		val, err := x.Value()
		if err != nil {
			return "", fmt.Errorf("dbcontext: encode %T: %w", v, err)
		}
		return Literal(val)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// Named integer types ("enums") are encoded by their numeric value
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return floatLiteral(rv.Float(), rv.Type().Bits()), nil
	case reflect.Bool:
		return Literal(rv.Bool())
	case reflect.String:
		return quoteLiteral(rv.String()), nil
	}

	if s, ok := v.(fmt.Stringer); ok {
		return quoteLiteral(s.String()), nil
	}
	return quoteLiteral(fmt.Sprint(v)), nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func floatLiteral(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "'NaN'"
	case math.IsInf(f, 1):
		return "'Infinity'"
	case math.IsInf(f, -1):
		return "'-Infinity'"
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}

// inlineArgs replaces each ? placeholder outside quoted text, dollar-quoted
// bodies and comments with the literal form of the matching argument.
func inlineArgs(query string, args []any) (string, error) {
	if len(args) == 0 {
		return query, nil
	}

	var b strings.Builder
	b.Grow(len(query) + 16*len(args))

	n := 0
	for i := 0; i < len(query); {
		if end := skipQuoted(query, i); end > i {
			b.WriteString(query[i:end])
			i = end
			continue
		}
		if query[i] != '?' {
			b.WriteByte(query[i])
			i++
			continue
		}

		if n >= len(args) {
			return "", fmt.Errorf("dbcontext: statement has more placeholders than arguments (%d)", len(args))
		}
		lit, err := Literal(args[n])
		if err != nil {
			return "", err
		}
		b.WriteString(lit)
		n++
		i++
	}

	if n != len(args) {
		return "", fmt.Errorf("dbcontext: statement has %d placeholders but %d arguments", n, len(args))
	}
	return b.String(), nil
}

// skipQuoted returns the end of the quoted text, comment or dollar-quoted body
// starting at q[i], or i when none starts there. Unterminated text runs to the
// end of the query.
func skipQuoted(q string, i int) int {
	rest := q[i:]
	switch {
	case rest[0] == '\'' || rest[0] == '"':
		if end := strings.IndexByte(rest[1:], rest[0]); end >= 0 {
			return i + end + 2
		}
		return len(q)
	case strings.HasPrefix(rest, "--"):
		if end := strings.IndexByte(rest, '\n'); end >= 0 {
			return i + end + 1
		}
		return len(q)
	case strings.HasPrefix(rest, "/*"):
		// Block comments nest in PostgreSQL
		depth := 0
		for j := i; j+1 < len(q); j++ {
			switch q[j : j+2] {
			case "/*":
				depth++
				j++
			case "*/":
				depth--
				j++
				if depth == 0 {
					return j + 1
				}
			}
		}
		return len(q)
	case rest[0] == '$' && (i == 0 || !isIdentByte(q[i-1])):
		tag := dollarTag(rest)
		if tag == "" {
			return i
		}
		if end := strings.Index(rest[len(tag):], tag); end >= 0 {
			return i + len(tag) + end + len(tag)
		}
		return len(q)
	}
	return i
}

// dollarTag returns the opening $tag$ at the start of s, or "" when s does not
// open a dollar-quoted string ($1 parameters included).
func dollarTag(s string) string {
	j := 1
	for j < len(s) && (isIdentStart(s[j]) || (j > 1 && s[j] >= '0' && s[j] <= '9')) {
		j++
	}
	if j < len(s) && s[j] == '$' {
		return s[:j+1]
	}
	return ""
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '$'
}
