package storage

import (
	"fmt"
	"strings"
)

// Dialect abstracts the SQL syntax differences between SQLite and
// PostgreSQL so the rest of the storage package can be written once,
// using SQLite-style `?` placeholders, and run against either backend.
type Dialect interface {
	Name() string
	Placeholder(index int) string
	AutoIncrement(big bool) string
	TimestampType() string
	BoolType() string
	CurrentTimestamp() string
	ReturningClause(columns ...string) string
	LimitOffset(limit, offset int) string
	ILike(column string, placeholderIndex int) string
	TextType() string
	IntegerType(big bool) string
}

// SQLiteDialect implements Dialect for modernc.org/sqlite.
type SQLiteDialect struct{}

var _ Dialect = (*SQLiteDialect)(nil)

func (d *SQLiteDialect) Name() string                   { return "sqlite" }
func (d *SQLiteDialect) Placeholder(index int) string    { return "?" }
func (d *SQLiteDialect) AutoIncrement(big bool) string   { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (d *SQLiteDialect) TimestampType() string           { return "DATETIME" }
func (d *SQLiteDialect) BoolType() string                { return "INTEGER" }
func (d *SQLiteDialect) CurrentTimestamp() string        { return "CURRENT_TIMESTAMP" }
func (d *SQLiteDialect) TextType() string                { return "TEXT" }
func (d *SQLiteDialect) IntegerType(big bool) string     { return "INTEGER" }

func (d *SQLiteDialect) ReturningClause(columns ...string) string {
	if len(columns) == 0 {
		return ""
	}
	return "RETURNING " + strings.Join(columns, ", ")
}

func (d *SQLiteDialect) LimitOffset(limit, offset int) string {
	if limit <= 0 && offset <= 0 {
		return ""
	}
	if offset <= 0 {
		return fmt.Sprintf("LIMIT %d", limit)
	}
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

func (d *SQLiteDialect) ILike(column string, placeholderIndex int) string {
	return fmt.Sprintf("LOWER(%s) LIKE LOWER(?)", column)
}

// PostgresDialect implements Dialect for jackc/pgx.
type PostgresDialect struct{}

var _ Dialect = (*PostgresDialect)(nil)

func (d *PostgresDialect) Name() string                { return "postgres" }
func (d *PostgresDialect) Placeholder(index int) string { return fmt.Sprintf("$%d", index) }
func (d *PostgresDialect) TimestampType() string        { return "TIMESTAMPTZ" }
func (d *PostgresDialect) BoolType() string             { return "BOOLEAN" }
func (d *PostgresDialect) CurrentTimestamp() string     { return "NOW()" }
func (d *PostgresDialect) TextType() string             { return "TEXT" }

func (d *PostgresDialect) AutoIncrement(big bool) string {
	if big {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "SERIAL PRIMARY KEY"
}

func (d *PostgresDialect) IntegerType(big bool) string {
	if big {
		return "BIGINT"
	}
	return "INTEGER"
}

func (d *PostgresDialect) ReturningClause(columns ...string) string {
	if len(columns) == 0 {
		return ""
	}
	return "RETURNING " + strings.Join(columns, ", ")
}

func (d *PostgresDialect) LimitOffset(limit, offset int) string {
	if limit <= 0 && offset <= 0 {
		return ""
	}
	if offset <= 0 {
		return fmt.Sprintf("LIMIT %d", limit)
	}
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

func (d *PostgresDialect) ILike(column string, placeholderIndex int) string {
	return fmt.Sprintf("%s ILIKE $%d", column, placeholderIndex)
}

// ConvertPlaceholders rewrites SQLite-style `?` placeholders into
// PostgreSQL-style `$1, $2, ...` placeholders, in order.
func ConvertPlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
