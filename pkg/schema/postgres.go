package schema

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresSource struct {
	pool   *pgxpool.Pool
	schema string
}

func NewPostgresSource(pool *pgxpool.Pool, schema string) *PostgresSource {
	if schema == "" {
		schema = "public"
	}
	return &PostgresSource{pool: pool, schema: schema}
}

func (s *PostgresSource) Tables(ctx context.Context) ([]Table, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.relname, COALESCE(obj_description(c.oid, 'pg_class'), '')
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relkind IN ('r', 'p', 'v', 'm')
		ORDER BY c.relname
	`, s.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Table, error) {
		var t Table
		err := row.Scan(&t.Name, &t.Comment)
		return t, err
	})
}

func (s *PostgresSource) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.attname,
			format_type(a.atttypid, a.atttypmod),
			COALESCE(col_description(a.attrelid, a.attnum), '')
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum
	`, s.schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	cols, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Column, error) {
		var c Column
		err := row.Scan(&c.Name, &c.Type, &c.Comment)
		return c, err
	})
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, ErrTableNotFound
	}
	return cols, nil
}
