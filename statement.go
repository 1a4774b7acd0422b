package dbcontext

import (
	"fmt"
	"reflect"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Statement is SQL text with ? placeholders and its arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Inline renders the statement with every argument encoded as a literal.
func (s Statement) Inline() (string, error) {
	return inlineArgs(s.SQL, s.Args)
}

// StatementBuilder produces schema-qualified statements for mapped record
// types.
type StatementBuilder struct {
	schema string
	sq     sq.StatementBuilderType
}

// NewStatementBuilder creates a builder qualifying every table with schema.
func NewStatementBuilder(schema string) *StatementBuilder {
	return &StatementBuilder{
		schema: schema,
		sq:     sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

// Schema returns the schema used to qualify table names.
func (b *StatementBuilder) Schema() string {
	return b.schema
}

// SelectAll builds SELECT * over table.
func (b *StatementBuilder) SelectAll(table string) (Statement, error) {
	return build(b.sq.Select("*").From(b.qualify(table)))
}

// Insert builds an INSERT of every mapped non-identity field of entity. When
// the type requests an identity write-back the generated value is returned
// by the statement.
func (b *StatementBuilder) Insert(entity any, table string) (Statement, error) {
	m, rv, err := mapEntity(entity)
	if err != nil {
		return Statement{}, err
	}

	fields := m.Writable()
	target := b.qualify(tableOr(table, m))

	var returning string
	if wb := m.WriteBackField(); wb != nil {
		returning = "RETURNING " + quoteIdent(wb.Column)
	}

	if len(fields) == 0 {
		query := "INSERT INTO " + target + " DEFAULT VALUES"
		if returning != "" {
			query += " " + returning
		}
		return Statement{SQL: query}, nil
	}

	columns := make([]string, len(fields))
	values := make([]any, len(fields))
	for i, f := range fields {
		columns[i] = quoteIdent(f.Column)
		values[i] = rv.FieldByIndex(f.Index).Interface()
	}

	q := b.sq.Insert(target).Columns(columns...).Values(values...)
	if returning != "" {
		q = q.Suffix(returning)
	}
	return build(q)
}

// Update builds an UPDATE of every mapped non-identity field, matching the
// row by all primary-key fields.
func (b *StatementBuilder) Update(entity any, table string) (Statement, error) {
	m, rv, err := mapEntity(entity)
	if err != nil {
		return Statement{}, err
	}
	if len(m.PrimaryKeys) == 0 {
		return Statement{}, &MissingPrimaryKeyError{TypeName: m.TypeName}
	}

	q := b.sq.Update(b.qualify(tableOr(table, m)))
	for _, f := range m.Writable() {
		q = q.Set(quoteIdent(f.Column), rv.FieldByIndex(f.Index).Interface())
	}
	for _, f := range m.PrimaryKeys {
		q = q.Where(sq.Eq{quoteIdent(f.Column): rv.FieldByIndex(f.Index).Interface()})
	}
	return build(q)
}

// Delete builds a DELETE matching the row by all primary-key fields.
func (b *StatementBuilder) Delete(entity any, table string) (Statement, error) {
	m, rv, err := mapEntity(entity)
	if err != nil {
		return Statement{}, err
	}
	if len(m.PrimaryKeys) == 0 {
		return Statement{}, &MissingPrimaryKeyError{TypeName: m.TypeName}
	}

	q := b.sq.Delete(b.qualify(tableOr(table, m)))
	for _, f := range m.PrimaryKeys {
		q = q.Where(sq.Eq{quoteIdent(f.Column): rv.FieldByIndex(f.Index).Interface()})
	}
	return build(q)
}

// Procedure builds a CALL of a stored procedure.
func (b *StatementBuilder) Procedure(name string, params ...any) Statement {
	return Statement{
		SQL:  "CALL " + b.qualify(name) + "(" + placeholders(len(params)) + ")",
		Args: nilIfEmpty(params),
	}
}

// Function builds a SELECT over a set-returning function, the PostgreSQL
// counterpart of a procedure that produces a result set.
func (b *StatementBuilder) Function(name string, params ...any) Statement {
	return Statement{
		SQL:  "SELECT * FROM " + b.qualify(name) + "(" + placeholders(len(params)) + ")",
		Args: nilIfEmpty(params),
	}
}

func (b *StatementBuilder) qualify(name string) string {
	if b.schema == "" {
		return quoteIdent(name)
	}
	return quoteIdent(b.schema) + "." + quoteIdent(name)
}

func build(q sq.Sqlizer) (Statement, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("dbcontext: build statement: %w", err)
	}
	return Statement{SQL: query, Args: nilIfEmpty(args)}, nil
}

// mapEntity resolves the mapping of entity, which may be a struct or a
// non-nil pointer to one.
func mapEntity(entity any) (*Mapping, reflect.Value, error) {
	rv := reflect.ValueOf(entity)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, reflect.Value{}, fmt.Errorf("dbcontext: nil %s", rv.Type())
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil, reflect.Value{}, fmt.Errorf("dbcontext: nil entity")
	}

	m, err := mappingFor(rv.Type())
	if err != nil {
		return nil, reflect.Value{}, err
	}
	return m, rv, nil
}

func tableOr(table string, m *Mapping) string {
	if table != "" {
		return table
	}
	return m.Table
}

// quoteIdent quotes a PostgreSQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nilIfEmpty(args []any) []any {
	if len(args) == 0 {
		return nil
	}
	return args
}
