package storage

import "strings"

// NewStore opens a Store against dsn, dispatching to the PostgreSQL or
// SQLite backend based on its scheme. Any DSN not prefixed with
// "postgres://" or "postgresql://" is treated as a SQLite path.
func NewStore(dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgresStore(dsn)
	}
	return NewSQLiteStore(dsn)
}
