package schema

import (
	"database/sql"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/require"
)

func TestSchema_DuckDBSource(t *testing.T) {
	t.Parallel()

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(t.Context(), `
		CREATE TABLE employees (id INTEGER, name VARCHAR, dept_path VARCHAR);
		COMMENT ON TABLE employees IS 'staff directory';
		COMMENT ON COLUMN employees.name IS 'full name';
	`)
	require.NoError(t, err)

	src := NewDuckDBSource(db, "")

	tables, err := src.Tables(t.Context())
	require.NoError(t, err)
	require.Equal(t, []Table{{Name: "employees", Comment: "staff directory"}}, tables)

	cols, err := src.Columns(t.Context(), "employees")
	require.NoError(t, err)
	require.Equal(t, []Column{
		{Name: "id", Type: "INTEGER"},
		{Name: "name", Type: "VARCHAR", Comment: "full name"},
		{Name: "dept_path", Type: "VARCHAR"},
	}, cols)

	_, err = src.Columns(t.Context(), "ghost")
	require.ErrorIs(t, err, ErrTableNotFound)
}
