package matcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// staticEmbedder returns fixed vectors per text.
type staticEmbedder map[string][]float32

func (e staticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := e[text]
	if !ok {
		return nil, errors.New("no embedding for " + text)
	}
	return v, nil
}

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	emb := staticEmbedder{
		"revenue":                   {1, 0, 0},
		"sales amount":              {0.99, 0.1, 0},
		"headcount":                 {0, 1, 0},
		"number of employees":       {0.05, 0.99, 0},
		"weather":                   {0.5, 0.5, 0.7},
		"orders with amounts":       {1, 0, 0.1},
		"employee directory":        {0, 1, 0.1},
		"office locations":          {0, 0, 1},
		"total revenue by employee": {0.7, 0.7, 0},
	}
	store := NewMemoryStore()
	require.NoError(t, Index(t.Context(), emb, store, Catalog{
		Terms: []Term{
			{OriginalTerm: "sales amount", StandardName: "revenue", AdditionalInfo: "sum of order totals"},
			{OriginalTerm: "number of employees", StandardName: "headcount", AdditionalInfo: "active staff only"},
		},
		Tables: []TableDescription{
			{TableName: "orders", Description: "orders with amounts"},
			{TableName: "employees", Description: "employee directory"},
			{TableName: "offices", Description: "office locations"},
		},
	}))
	m, err := New(Config{Logger: testLogger, Embedder: emb, Store: store})
	require.NoError(t, err)
	return m
}

func TestMatcher_MapTerms(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)
	mapped, err := m.MapTerms(t.Context(), []string{"revenue", "headcount", "weather", "unembeddable"})
	require.NoError(t, err)
	require.Equal(t, map[string]Term{
		"revenue":   {OriginalTerm: "sales amount", StandardName: "revenue", AdditionalInfo: "sum of order totals"},
		"headcount": {OriginalTerm: "number of employees", StandardName: "headcount", AdditionalInfo: "active staff only"},
	}, mapped)

	mapped, err = m.MapTerms(t.Context(), nil)
	require.NoError(t, err)
	require.Empty(t, mapped)
}

func TestMatcher_MatchTables(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)
	tables, err := m.MatchTables(t.Context(), "total revenue by employee")
	require.NoError(t, err)
	require.Len(t, tables, 2)
	names := []string{tables[0].TableName, tables[1].TableName}
	require.ElementsMatch(t, []string{"orders", "employees"}, names)
	require.GreaterOrEqual(t, tables[0].SimilarityScore, tables[1].SimilarityScore)

	_, err = m.MatchTables(t.Context(), "unembeddable")
	require.Error(t, err)
}

func TestMatcher_Cosine(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	require.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.Zero(t, cosine([]float32{1}, []float32{1, 2}))
	require.Zero(t, cosine([]float32{0, 0}, []float32{1, 2}))
}
