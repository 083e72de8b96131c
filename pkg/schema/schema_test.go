package schema

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type mockSource struct {
	TablesFunc  func(ctx context.Context) ([]Table, error)
	ColumnsFunc func(ctx context.Context, table string) ([]Column, error)

	tableCalls  int
	columnCalls map[string]int
}

func (m *mockSource) Tables(ctx context.Context) ([]Table, error) {
	m.tableCalls++
	return m.TablesFunc(ctx)
}

func (m *mockSource) Columns(ctx context.Context, table string) ([]Column, error) {
	if m.columnCalls == nil {
		m.columnCalls = map[string]int{}
	}
	m.columnCalls[table]++
	return m.ColumnsFunc(ctx, table)
}

func newMockSource() *mockSource {
	return &mockSource{
		TablesFunc: func(context.Context) ([]Table, error) {
			return []Table{{Name: "employees", Comment: "staff"}}, nil
		},
		ColumnsFunc: func(_ context.Context, table string) ([]Column, error) {
			if !strings.EqualFold(table, "employees") {
				return nil, ErrTableNotFound
			}
			return []Column{{Name: "id", Type: "integer"}, {Name: "name", Type: "text", Comment: "full name"}}, nil
		},
	}
}

func TestSchema_Inspector_Caches(t *testing.T) {
	t.Parallel()

	src := newMockSource()
	i, err := New(Config{Logger: testLogger, Source: src, TTL: time.Hour})
	require.NoError(t, err)

	for range 3 {
		tables, err := i.Tables(t.Context())
		require.NoError(t, err)
		require.Len(t, tables, 1)

		st, err := i.Structure(t.Context(), "employees")
		require.NoError(t, err)
		require.Equal(t, "employees", st.TableName)
		require.Equal(t, []string{"id", "name"}, []string{st.Columns[0].Name, st.Columns[1].Name})
	}
	require.Equal(t, 1, src.tableCalls)
	require.Equal(t, 1, src.columnCalls["employees"])

	i.Invalidate()
	_, err = i.Tables(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, src.tableCalls)
}

func TestSchema_Inspector_Structures(t *testing.T) {
	t.Parallel()

	src := newMockSource()
	i, err := New(Config{Logger: testLogger, Source: src})
	require.NoError(t, err)

	sts, err := i.Structures(t.Context(), []string{"employees", "EMPLOYEES", "employees"})
	require.NoError(t, err)
	require.Len(t, sts, 1)

	_, err = i.Structures(t.Context(), []string{"employees", "ghost"})
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestSchema_Config(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Source: newMockSource()})
	require.Error(t, err)
	_, err = New(Config{Logger: testLogger})
	require.Error(t, err)
}
