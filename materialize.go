package dbcontext

import (
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Materialize converts result rows keyed by column name into records of type
// T. Columns without a mapped field are ignored; mapped fields without a
// column, or with a NULL cell, keep their zero value.
func Materialize[T any](rows []map[string]any) ([]T, error) {
	m, err := MappingOf[T]()
	if err != nil {
		return nil, err
	}

	result := make([]T, 0, len(rows))
	for _, row := range rows {
		var item T
		rv := reflect.ValueOf(&item).Elem()

		for _, f := range m.Fields {
			raw, ok := cell(row, f.Column)
			if !ok || raw == nil {
				continue
			}
			dst := rv.FieldByIndex(f.Index)
			if f.Char {
				err = assignChar(dst, raw)
			} else {
				err = assign(dst, raw)
			}
			if err != nil {
				return nil, fmt.Errorf("dbcontext: materialize %s.%s from column %q: %w", m.TypeName, f.Name, f.Column, err)
			}
		}

		result = append(result, item)
	}

	return result, nil
}

func cell(row map[string]any, column string) (any, bool) {
	if v, ok := row[column]; ok {
		return v, true
	}
	for k, v := range row {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

// assign coerces a raw driver value into dst.
func assign(dst reflect.Value, raw any) error {
	if raw == nil {
		return nil
	}

	t := dst.Type()

	if t.Kind() == reflect.Pointer {
		elem := reflect.New(t.Elem())
		if err := assign(elem.Elem(), raw); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	// uuid.UUID, decimal.Decimal, sql.Null* and friends
	if dst.CanAddr() {
		if s, ok := dst.Addr().Interface().(sql.Scanner); ok {
			return s.Scan(raw)
		}
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// Named integer types ("enums") are rebuilt from their numeric value
		return assignInt(dst, raw)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return assignUint(dst, raw)
	case reflect.Float32, reflect.Float64:
		return assignFloat(dst, raw)
	case reflect.Bool:
		return assignBool(dst, raw)
	case reflect.Struct:
		if t == timeType {
			if s, ok := text(raw); ok {
				return assignTime(dst, s)
			}
		}
	case reflect.String:
		if s, ok := text(raw); ok {
			dst.SetString(s)
		} else {
			dst.SetString(fmt.Sprint(raw))
		}
		return nil
	}

	rv := reflect.ValueOf(raw)
	switch {
	case rv.Type().AssignableTo(t):
		if b, ok := raw.([]byte); ok {
			// Driver buffers may be reused after the row is read
			raw = append([]byte(nil), b...)
			rv = reflect.ValueOf(raw)
		}
		dst.Set(rv)
		return nil
	case rv.Type().ConvertibleTo(t):
		dst.Set(rv.Convert(t))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", raw, t)
}

// assignChar fills a rune field tagged char. One-character text becomes its
// code point; anything else is read as an integer.
func assignChar(dst reflect.Value, raw any) error {
	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := assignChar(elem.Elem(), raw); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	if s, ok := text(raw); ok && utf8.RuneCountInString(s) == 1 {
		r, _ := utf8.DecodeRuneInString(s)
		dst.SetInt(int64(r))
		return nil
	}
	return assignInt(dst, raw)
}

var timeType = reflect.TypeFor[time.Time]()

// Text forms PostgreSQL uses for date, timestamp and timestamptz values.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func assignTime(dst reflect.Value, s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			dst.Set(reflect.ValueOf(ts))
			return nil
		}
	}
	return fmt.Errorf("cannot parse %q as time", s)
}

func text(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}

func assignInt(dst reflect.Value, raw any) error {
	var n int64
	switch v := raw.(type) {
	case int64:
		n = v
	case int32:
		n = int64(v)
	case int:
		n = int64(v)
	case float64:
		if v != float64(int64(v)) {
			return fmt.Errorf("cannot assign non-integral %v to %s", v, dst.Type())
		}
		n = int64(v)
	case bool:
		if v {
			n = 1
		}
	default:
		s, ok := text(raw)
		if !ok {
			return fmt.Errorf("cannot assign %T to %s", raw, dst.Type())
		}
		parsed, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return err
		}
		n = parsed
	}

	if dst.OverflowInt(n) {
		return fmt.Errorf("value %d overflows %s", n, dst.Type())
	}
	dst.SetInt(n)
	return nil
}

func assignUint(dst reflect.Value, raw any) error {
	var n uint64
	switch v := raw.(type) {
	case int64:
		if v < 0 {
			return fmt.Errorf("cannot assign negative %d to %s", v, dst.Type())
		}
		n = uint64(v)
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return fmt.Errorf("cannot assign %v to %s", v, dst.Type())
		}
		n = uint64(v)
	default:
		s, ok := text(raw)
		if !ok {
			return fmt.Errorf("cannot assign %T to %s", raw, dst.Type())
		}
		parsed, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return err
		}
		n = parsed
	}

	if dst.OverflowUint(n) {
		return fmt.Errorf("value %d overflows %s", n, dst.Type())
	}
	dst.SetUint(n)
	return nil
}

func assignFloat(dst reflect.Value, raw any) error {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int64:
		f = float64(v)
	case int32:
		f = float64(v)
	case int:
		f = float64(v)
	default:
		s, ok := text(raw)
		if !ok {
			return fmt.Errorf("cannot assign %T to %s", raw, dst.Type())
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return err
		}
		f = parsed
	}

	dst.SetFloat(f)
	return nil
}

func assignBool(dst reflect.Value, raw any) error {
	switch v := raw.(type) {
	case bool:
		dst.SetBool(v)
	case int64:
		dst.SetBool(v != 0)
	default:
		s, ok := text(raw)
		if !ok {
			return fmt.Errorf("cannot assign %T to %s", raw, dst.Type())
		}
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		dst.SetBool(b)
	}
	return nil
}
