package dbcontext

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"
)

// TableNamer lets a record type override its default table name.
type TableNamer interface {
	TableName() string
}

// Field describes one mapped struct field.
type Field struct {
	Name       string // Go field name
	Column     string // Column name
	Index      []int  // Index path for reflect.Value.FieldByIndex
	Type       reflect.Type
	PrimaryKey bool // Used to build the WHERE clause of Update and Delete
	Identity   bool // Generated by the database; never inserted or updated
	WriteBack  bool // Identity value is read back after Insert
	Char       bool // rune field read from one-character text
}

// Mapping is the field metadata of a record type. It is built once per type
// and cached.
type Mapping struct {
	TypeName    string
	Table       string
	Fields      []*Field
	PrimaryKeys []*Field
	Identity    *Field
}

// WriteBackField returns the identity field to populate after an insert, or
// nil when the type does not request one.
func (m *Mapping) WriteBackField() *Field {
	if m.Identity != nil && m.Identity.WriteBack {
		return m.Identity
	}
	return nil
}

// Writable returns the fields that take part in INSERT and UPDATE statements.
func (m *Mapping) Writable() []*Field {
	fields := make([]*Field, 0, len(m.Fields))
	for _, f := range m.Fields {
		if !f.Identity {
			fields = append(fields, f)
		}
	}
	return fields
}

// Lookup finds the field mapped to column, ignoring case when there is no
// exact match.
func (m *Mapping) Lookup(column string) *Field {
	for _, f := range m.Fields {
		if f.Column == column {
			return f
		}
	}
	for _, f := range m.Fields {
		if strings.EqualFold(f.Column, column) {
			return f
		}
	}
	return nil
}

var mappingCache sync.Map // map[reflect.Type]*Mapping

// MappingOf returns the field metadata of T.
//
// Fields are configured with the "db" struct tag:
//
//	type Widget struct {
//	    ID    int    `db:"id,pk,identity,writeback"`
//	    Name  string `db:"name"`
//	    Notes string `db:"-"` // not mapped
//	}
//
// Untagged exported fields map to the snake_case form of their name.
func MappingOf[T any]() (*Mapping, error) {
	return mappingFor(reflect.TypeFor[T]())
}

func mappingFor(t reflect.Type) (*Mapping, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if cached, ok := mappingCache.Load(t); ok {
		return cached.(*Mapping), nil
	}

	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("dbcontext: cannot map %s: not a struct", t)
	}

	m := &Mapping{
		TypeName: t.Name(),
		Table:    tableNameOf(t),
	}
	if err := collectFields(m, t, nil); err != nil {
		return nil, err
	}

	actual, _ := mappingCache.LoadOrStore(t, m)
	return actual.(*Mapping), nil
}

func collectFields(m *Mapping, t reflect.Type, parent []int) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, hasTag := sf.Tag.Lookup("db")
		if tag == "-" {
			continue
		}

		index := append(append([]int(nil), parent...), i)

		// Embedded structs are flattened unless explicitly tagged
		if sf.Anonymous && !hasTag {
			switch {
			case sf.Type.Kind() == reflect.Struct:
				if err := collectFields(m, sf.Type, index); err != nil {
					return err
				}
			case sf.Type.Kind() == reflect.Pointer && sf.Type.Elem().Kind() == reflect.Struct:
				return fmt.Errorf("dbcontext: %s embeds %s by pointer; embed the struct or tag the field db:\"-\"",
					t.Name(), sf.Type)
			}
			continue
		}

		if !sf.IsExported() {
			continue
		}

		f, err := parseField(sf, tag, index)
		if err != nil {
			return fmt.Errorf("dbcontext: %s.%s: %w", t.Name(), sf.Name, err)
		}

		if f.Identity {
			if m.Identity != nil {
				return fmt.Errorf("dbcontext: %s declares more than one identity field (%s, %s)",
					m.TypeName, m.Identity.Name, f.Name)
			}
			m.Identity = f
		}
		if f.PrimaryKey {
			m.PrimaryKeys = append(m.PrimaryKeys, f)
		}
		m.Fields = append(m.Fields, f)
	}
	return nil
}

func parseField(sf reflect.StructField, tag string, index []int) (*Field, error) {
	name, opts, _ := strings.Cut(tag, ",")

	f := &Field{
		Name:   sf.Name,
		Column: name,
		Index:  index,
		Type:   sf.Type,
	}
	if f.Column == "" {
		f.Column = snakeCase(sf.Name)
	}

	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		switch strings.TrimSpace(opt) {
		case "pk":
			f.PrimaryKey = true
		case "identity":
			f.Identity = true
		case "writeback":
			f.Identity = true
			f.WriteBack = true
		case "char":
			t := sf.Type
			if t.Kind() == reflect.Pointer {
				t = t.Elem()
			}
			if t.Kind() != reflect.Int32 {
				return nil, fmt.Errorf("db tag option char needs a rune field, got %s", sf.Type)
			}
			f.Char = true
		case "":
		default:
			return nil, fmt.Errorf("unknown db tag option %q", opt)
		}
	}

	return f, nil
}

func tableNameOf(t reflect.Type) string {
	namer := reflect.TypeFor[TableNamer]()
	switch {
	case t.Implements(namer):
		return reflect.Zero(t).Interface().(TableNamer).TableName()
	case reflect.PointerTo(t).Implements(namer):
		return reflect.New(t).Interface().(TableNamer).TableName()
	}
	return snakeCase(t.Name())
}

// snakeCase converts Go identifiers to column names: UserID -> user_id,
// HTTPServer -> http_server.
func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)

	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}
