package executor_test

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	clickhousetesting "github.com/malbeclabs/sqlassist/pkg/clickhouse/testing"
	"github.com/malbeclabs/sqlassist/pkg/executor"
	"github.com/malbeclabs/sqlassist/pkg/sqlscan"
)

func TestExecutor_ClickHouse(t *testing.T) {
	t.Parallel()

	db := clickhousetesting.NewDB(t, nil)
	ctx := t.Context()
	require.NoError(t, db.Conn.Exec(ctx, `
		CREATE TABLE employees (
			id UInt32,
			name String,
			salary Decimal(10, 2),
			manager Nullable(String),
			hired DateTime('UTC'),
			dept_path String
		) ENGINE = MergeTree ORDER BY id
	`))
	require.NoError(t, db.Conn.Exec(ctx, `
		INSERT INTO employees VALUES
			(1, 'ada', 1200.50, NULL, '2020-01-15 10:00:00', '1>10'),
			(2, 'bob', 900.00, 'ada', '2021-06-01 00:00:00', '1>12')
	`))

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	e, err := executor.New(executor.Config{Logger: log, Backend: executor.NewClickHouseBackend(db.Conn), Dialect: sqlscan.DialectClickHouse, Timeout: 5 * time.Second})
	require.NoError(t, err)

	res := e.Execute(ctx, "SELECT id, name, salary, manager, hired FROM employees ORDER BY id")
	require.True(t, res.Success, res.Error)
	require.Equal(t, []string{"id", "name", "salary", "manager", "hired"}, res.Columns)
	require.Equal(t, []any{uint32(1), "ada", "1200.5", nil, "2020-01-15T10:00:00Z"}, res.Rows[0])
	require.Equal(t, "ada", res.Rows[1][3])

	res = e.Execute(ctx, "SELECT count() FROM (SELECT * FROM employees WHERE match(dept_path, '(^|>)10(>|$)')) AS employees")
	require.True(t, res.Success, res.Error)
	require.EqualValues(t, 1, res.Rows[0][0])

	// readonly=2 refuses writes even when the statement guard is bypassed.
	_, _, err = executor.NewClickHouseBackend(db.Conn).Query(ctx, "INSERT INTO employees (id) VALUES (3)", 10, time.Second)
	require.Error(t, err)
}
