package storage

import (
	"context"
	"database/sql"
)

// BaseStore provides the shared database plumbing used by every entity
// store: a *sql.DB connection paired with a Dialect, plus placeholder
// conversion so all queries are written once, in SQLite's `?` style, and
// run unmodified against either backend.
type BaseStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewBaseStore wraps an open connection with the given dialect.
func NewBaseStore(db *sql.DB, dialect Dialect) *BaseStore {
	return &BaseStore{db: db, dialect: dialect}
}

// DB returns the underlying connection pool.
func (s *BaseStore) DB() *sql.DB { return s.db }

// Dialect returns the active SQL dialect.
func (s *BaseStore) Dialect() Dialect { return s.dialect }

// Close closes the underlying connection pool.
func (s *BaseStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// query converts `?` placeholders to the dialect's native form.
func (s *BaseStore) query(q string) string {
	if s.dialect.Name() == "postgres" {
		return ConvertPlaceholders(q)
	}
	return q
}

func (s *BaseStore) execContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.query(query), args...)
}

func (s *BaseStore) queryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.query(query), args...)
}

func (s *BaseStore) queryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.query(query), args...)
}

// insertReturningID runs an INSERT and returns the generated primary key.
// PostgreSQL appends RETURNING id and scans it back; SQLite uses
// LastInsertId from the exec result.
func (s *BaseStore) insertReturningID(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	if s.dialect.Name() == "postgres" {
		var id int64
		err := s.db.QueryRowContext(ctx, s.query(stmt)+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	res, err := s.execContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *BaseStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

// txQuery converts `?` placeholders the same way query() does, for use
// inside withTx callbacks that operate on the *sql.Tx directly.
func (s *BaseStore) txQuery(q string) string {
	return s.query(q)
}
