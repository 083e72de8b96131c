package schema

import (
	"context"
	"database/sql"
	"fmt"
)

type DuckDBSource struct {
	db     *sql.DB
	schema string
}

func NewDuckDBSource(db *sql.DB, schema string) *DuckDBSource {
	if schema == "" {
		schema = "main"
	}
	return &DuckDBSource{db: db, schema: schema}
}

func (s *DuckDBSource) Tables(ctx context.Context) ([]Table, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name, COALESCE(comment, '') FROM duckdb_tables()
		WHERE schema_name = ?
		ORDER BY table_name
	`, s.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var out []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Name, &t.Comment); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *DuckDBSource) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT column_name, data_type, COALESCE(comment, '') FROM duckdb_columns()
		WHERE schema_name = ? AND table_name = ?
		ORDER BY column_index
	`, s.schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var out []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Comment); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrTableNotFound
	}
	return out, nil
}
