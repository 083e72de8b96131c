package schema

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

type ClickHouseSource struct {
	conn     driver.Conn
	database string
}

func NewClickHouseSource(conn driver.Conn, database string) *ClickHouseSource {
	return &ClickHouseSource{conn: conn, database: database}
}

func (s *ClickHouseSource) Tables(ctx context.Context) ([]Table, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT name, comment FROM system.tables
		WHERE database = ? AND NOT is_temporary
		ORDER BY name
	`, s.database)
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

func (s *ClickHouseSource) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT name, type, comment FROM system.columns
		WHERE database = ? AND table = ?
		ORDER BY position
	`, s.database, table)
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
