package executor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/lib/pq"
)

// SQLBackend runs statements through database/sql. It serves the embedded DuckDB engine and
// Postgres through lib/pq.
type SQLBackend struct {
	db   *sql.DB
	name string
	// readOnlyTx wraps each statement in a read-only transaction. DuckDB rejects read-only
	// transactions, so its databases are opened with access_mode=read_only instead.
	readOnlyTx bool
	setup      func(timeout time.Duration) []string
}

// OpenDuckDB opens a DuckDB database file in read-only mode.
func OpenDuckDB(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path+"?access_mode=read_only")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	return db, nil
}

// OpenPQ opens a lib/pq backed Postgres handle.
func OpenPQ(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	return db, nil
}

func NewDuckDBBackend(db *sql.DB) *SQLBackend {
	return &SQLBackend{db: db, name: "duckdb"}
}

func NewPQBackend(db *sql.DB) *SQLBackend {
	return &SQLBackend{
		db:         db,
		name:       "pq",
		readOnlyTx: true,
		setup: func(timeout time.Duration) []string {
			return []string{fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())}
		},
	}
}

func (b *SQLBackend) Name() string { return b.name }

func (b *SQLBackend) Query(ctx context.Context, query string, limit int, timeout time.Duration) ([]string, [][]any, error) {
	var q interface {
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	}
	if b.readOnlyTx {
		tx, err := b.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to begin read-only transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if b.setup != nil {
			for _, stmt := range b.setup(timeout) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return nil, nil, fmt.Errorf("failed to prepare transaction: %w", err)
				}
			}
		}
		q = tx
	} else {
		conn, err := b.db.Conn(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get connection: %w", err)
		}
		defer conn.Close()
		q = conn
	}

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var out [][]any
	for rows.Next() {
		if len(out) >= limit {
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}
