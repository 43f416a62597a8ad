// Package database provides the parametrized relational adapter every
// entity store persists through. The interface is deliberately narrow:
// prepared-statement style queries, generic row maps, and explicit
// transaction boundaries. Concrete backends are selected at bootstrap and
// injected; nothing in this package is a process-wide singleton.
package database

import "context"

// Executor is the query surface shared by a live connection and an open
// transaction. All queries use '?' placeholders; the adapter rebinds them
// for the underlying driver.
type Executor interface {
	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, query string, args ...any) (int64, error)

	// GetRow returns the first result row as a column-keyed map, or nil
	// when the query matches nothing.
	GetRow(ctx context.Context, query string, args ...any) (map[string]any, error)

	// GetResults returns every result row as a column-keyed map.
	GetResults(ctx context.Context, query string, args ...any) ([]map[string]any, error)

	// GetVar returns the first column of the first row, or nil.
	GetVar(ctx context.Context, query string, args ...any) (any, error)

	// GetCol returns the first column of every row.
	GetCol(ctx context.Context, query string, args ...any) ([]any, error)

	// Insert inserts data into table and returns the new row id.
	Insert(ctx context.Context, table string, data map[string]any) (int64, error)

	// Update updates rows matching where and returns the affected count.
	Update(ctx context.Context, table string, data, where map[string]any) (int64, error)

	// Delete removes rows matching where and returns the affected count.
	Delete(ctx context.Context, table string, where map[string]any) (int64, error)
}

// Tx is an open transaction. A Tx must end in exactly one Commit or
// Rollback; mutations inside it are invisible to other requests until
// Commit returns.
type Tx interface {
	Executor

	Commit() error
	Rollback() error
}

// Adapter is the full database surface handed to entity stores.
type Adapter interface {
	Executor

	// Begin opens a transaction.
	Begin(ctx context.Context) (Tx, error)

	// LastError returns the most recent error seen by this adapter, or
	// nil. It exists for callers that batch statements and check once.
	LastError() error
}

// WithTx runs fn inside a transaction, rolling back on error or panic and
// committing otherwise. This is the read-modify-write boundary used by
// license activation and role upserts.
func WithTx(ctx context.Context, db Adapter, fn func(tx Tx) error) (err error) {
	tx, err := db.Begin(ctx)
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
