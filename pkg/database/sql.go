package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Placeholder styles supported by the SQL adapter.
const (
	PlaceholderQuestion = "question" // sqlite, mysql
	PlaceholderDollar   = "dollar"   // postgres
)

// SQL implements Adapter over database/sql.
type SQL struct {
	db          *sql.DB
	placeholder string

	mu      sync.Mutex
	lastErr error
}

// NewSQL wraps an open *sql.DB. driverName selects the placeholder style
// ("postgres" rebinds '?' to '$n'; everything else passes through).
func NewSQL(db *sql.DB, driverName string) *SQL {
	placeholder := PlaceholderQuestion
	if driverName == "postgres" || driverName == "pgx" {
		placeholder = PlaceholderDollar
	}
	return &SQL{db: db, placeholder: placeholder}
}

// Begin implements Adapter.Begin.
func (s *SQL) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.fail(fmt.Errorf("failed to begin transaction: %w", err))
	}
	return &sqlTx{tx: tx, parent: s}, nil
}

// LastError implements Adapter.LastError.
func (s *SQL) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *SQL) fail(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

func (s *SQL) rebind(query string) string {
	if s.placeholder != PlaceholderDollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQL) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execOn(ctx, s, s.db, query, args...)
}

func (s *SQL) GetRow(ctx context.Context, query string, args ...any) (map[string]any, error) {
	return getRowOn(ctx, s, s.db, query, args...)
}

func (s *SQL) GetResults(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	return getResultsOn(ctx, s, s.db, query, args...)
}

func (s *SQL) GetVar(ctx context.Context, query string, args ...any) (any, error) {
	return getVarOn(ctx, s, s.db, query, args...)
}

func (s *SQL) GetCol(ctx context.Context, query string, args ...any) ([]any, error) {
	return getColOn(ctx, s, s.db, query, args...)
}

func (s *SQL) Insert(ctx context.Context, table string, data map[string]any) (int64, error) {
	return insertOn(ctx, s, s.db, table, data)
}

func (s *SQL) Update(ctx context.Context, table string, data, where map[string]any) (int64, error) {
	return updateOn(ctx, s, s.db, table, data, where)
}

func (s *SQL) Delete(ctx context.Context, table string, where map[string]any) (int64, error) {
	return deleteOn(ctx, s, s.db, table, where)
}

// sqlTx adapts *sql.Tx to the Tx interface, sharing the parent's
// placeholder style and error slot.
type sqlTx struct {
	tx     *sql.Tx
	parent *SQL
}

func (t *sqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return t.parent.fail(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return t.parent.fail(fmt.Errorf("failed to roll back transaction: %w", err))
	}
	return nil
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execOn(ctx, t.parent, t.tx, query, args...)
}

func (t *sqlTx) GetRow(ctx context.Context, query string, args ...any) (map[string]any, error) {
	return getRowOn(ctx, t.parent, t.tx, query, args...)
}

func (t *sqlTx) GetResults(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	return getResultsOn(ctx, t.parent, t.tx, query, args...)
}

func (t *sqlTx) GetVar(ctx context.Context, query string, args ...any) (any, error) {
	return getVarOn(ctx, t.parent, t.tx, query, args...)
}

func (t *sqlTx) GetCol(ctx context.Context, query string, args ...any) ([]any, error) {
	return getColOn(ctx, t.parent, t.tx, query, args...)
}

func (t *sqlTx) Insert(ctx context.Context, table string, data map[string]any) (int64, error) {
	return insertOn(ctx, t.parent, t.tx, table, data)
}

func (t *sqlTx) Update(ctx context.Context, table string, data, where map[string]any) (int64, error) {
	return updateOn(ctx, t.parent, t.tx, table, data, where)
}

func (t *sqlTx) Delete(ctx context.Context, table string, where map[string]any) (int64, error) {
	return deleteOn(ctx, t.parent, t.tx, table, where)
}

func execOn(ctx context.Context, s *SQL, q queryer, query string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, s.fail(fmt.Errorf("exec failed: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, s.fail(fmt.Errorf("failed to read affected rows: %w", err))
	}
	return affected, nil
}

func getResultsOn(ctx context.Context, s *SQL, q queryer, query string, args ...any) ([]map[string]any, error) {
	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, s.fail(fmt.Errorf("query failed: %w", err))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, s.fail(fmt.Errorf("failed to read columns: %w", err))
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, s.fail(fmt.Errorf("failed to scan row: %w", err))
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(fmt.Errorf("row iteration failed: %w", err))
	}
	return results, nil
}

func getRowOn(ctx context.Context, s *SQL, q queryer, query string, args ...any) (map[string]any, error) {
	results, err := getResultsOn(ctx, s, q, query, args...)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

func getVarOn(ctx context.Context, s *SQL, q queryer, query string, args ...any) (any, error) {
	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, s.fail(fmt.Errorf("query failed: %w", err))
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var value any
	if err := rows.Scan(&value); err != nil {
		return nil, s.fail(fmt.Errorf("failed to scan value: %w", err))
	}
	if b, ok := value.([]byte); ok {
		return string(b), nil
	}
	return value, nil
}

func getColOn(ctx context.Context, s *SQL, q queryer, query string, args ...any) ([]any, error) {
	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, s.fail(fmt.Errorf("query failed: %w", err))
	}
	defer rows.Close()

	var col []any
	for rows.Next() {
		var value any
		if err := rows.Scan(&value); err != nil {
			return nil, s.fail(fmt.Errorf("failed to scan value: %w", err))
		}
		if b, ok := value.([]byte); ok {
			col = append(col, string(b))
			continue
		}
		col = append(col, value)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(fmt.Errorf("row iteration failed: %w", err))
	}
	return col, nil
}

// sortedKeys keeps generated statements deterministic for tests and logs.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func insertOn(ctx context.Context, s *SQL, q queryer, table string, data map[string]any) (int64, error) {
	if len(data) == 0 {
		return 0, s.fail(fmt.Errorf("insert into %s: no columns", table))
	}
	cols := sortedKeys(data)
	args := make([]any, 0, len(cols))
	marks := make([]string, 0, len(cols))
	for _, col := range cols {
		args = append(args, data[col])
		marks = append(marks, "?")
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(marks, ", "))

	if s.placeholder == PlaceholderDollar {
		// Postgres has no LastInsertId; fetch the id via RETURNING.
		id, err := getVarOn(ctx, s, q, query+" RETURNING id", args...)
		if err != nil {
			return 0, err
		}
		return toInt64(id), nil
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, s.fail(fmt.Errorf("insert into %s failed: %w", table, err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, s.fail(fmt.Errorf("failed to read insert id: %w", err))
	}
	return id, nil
}

func updateOn(ctx context.Context, s *SQL, q queryer, table string, data, where map[string]any) (int64, error) {
	if len(data) == 0 || len(where) == 0 {
		return 0, s.fail(fmt.Errorf("update %s: empty data or where clause", table))
	}
	var sets, conds []string
	var args []any
	for _, col := range sortedKeys(data) {
		sets = append(sets, col+" = ?")
		args = append(args, data[col])
	}
	for _, col := range sortedKeys(where) {
		conds = append(conds, col+" = ?")
		args = append(args, where[col])
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		table, strings.Join(sets, ", "), strings.Join(conds, " AND "))
	return execOn(ctx, s, q, query, args...)
}

func deleteOn(ctx context.Context, s *SQL, q queryer, table string, where map[string]any) (int64, error) {
	if len(where) == 0 {
		return 0, s.fail(fmt.Errorf("delete from %s: empty where clause", table))
	}
	var conds []string
	var args []any
	for _, col := range sortedKeys(where) {
		conds = append(conds, col+" = ?")
		args = append(args, where[col])
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(conds, " AND "))
	return execOn(ctx, s, q, query, args...)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	case float64:
		return int64(n)
	default:
		return 0
	}
}
