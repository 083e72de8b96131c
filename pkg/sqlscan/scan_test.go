package sqlscan

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLScan_Tokenize_RoundTripsSource(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"SELECT * FROM employees",
		"SELECT `name`, \"dept\" FROM t -- trailing\nWHERE x = 'it''s'",
		"/* lead */ SELECT 1.5e3, $1, $$body$$ FROM a.b",
		"SELECT 名字 FROM 员工 e",
		"",
	}
	for _, in := range inputs {
		tokens, err := Tokenize(in, DialectPostgres)
		require.NoError(t, err, in)
		var sb strings.Builder
		for _, tok := range tokens {
			require.Equal(t, tok.Pos, sb.Len())
			sb.WriteString(tok.Text)
		}
		require.Equal(t, in, sb.String())
	}
}

func TestSQLScan_Tokenize_Kinds(t *testing.T) {
	t.Parallel()

	tokens, err := Tokenize("SELECT `a``b`, 'x' FROM t /* c */ -- d", DialectMySQL)
	require.NoError(t, err)

	var kinds []Kind
	for _, tok := range Significant(tokens) {
		kinds = append(kinds, tok.Kind)
	}
	require.Equal(t, []Kind{KindWord, KindQuotedIdent, KindPunct, KindString, KindWord, KindWord}, kinds)

	sig := Significant(tokens)
	require.Equal(t, "a`b", sig[1].Ident())
	require.True(t, sig[0].IsWord("select"))
}

func TestSQLScan_Tokenize_Comments(t *testing.T) {
	t.Parallel()

	t.Run("line comment", func(t *testing.T) {
		t.Parallel()
		tokens, err := Tokenize("SELECT 1 -- FROM secret\nFROM t", DialectPostgres)
		require.NoError(t, err)
		sig := Significant(tokens)
		require.Len(t, sig, 4)
		require.Equal(t, "t", sig[3].Text)
	})

	t.Run("carriage return ends line comment", func(t *testing.T) {
		t.Parallel()
		tokens, err := Tokenize("SELECT 1 -- x\rFROM secret", DialectPostgres)
		require.NoError(t, err)
		require.Equal(t, "secret", Significant(tokens)[3].Text)
	})

	t.Run("block comment", func(t *testing.T) {
		t.Parallel()
		tokens, err := Tokenize("SELECT /* a */ 1 FROM t", DialectPostgres)
		require.NoError(t, err)
		require.Len(t, Significant(tokens), 4)
	})
}

func TestSQLScan_Tokenize_Backslashes(t *testing.T) {
	t.Parallel()

	t.Run("literal in postgres", func(t *testing.T) {
		t.Parallel()
		tokens, err := Tokenize(`SELECT 'C:\dir\' FROM t`, DialectPostgres)
		require.NoError(t, err)
		sig := Significant(tokens)
		require.Equal(t, KindString, sig[1].Kind)
		require.Equal(t, "t", sig[3].Text)
	})

	t.Run("literal in duckdb", func(t *testing.T) {
		t.Parallel()
		_, err := Tokenize(`SELECT 'a\' FROM t`, DialectDuckDB)
		require.NoError(t, err)
	})

	for _, d := range []Dialect{DialectMySQL, DialectClickHouse, ""} {
		t.Run("escape in "+string(d), func(t *testing.T) {
			t.Parallel()
			for _, in := range []string{`SELECT 'a\'' FROM t`, `SELECT "a\"" FROM t`, "SELECT `a\\` FROM t"} {
				_, err := Tokenize(in, d)
				require.ErrorIs(t, err, ErrParse, in)
			}
		})
	}
}

func TestSQLScan_Tokenize_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unterminated string":       "SELECT 'abc FROM t",
		"unterminated comment":      "SELECT 1 /* FROM t",
		"unterminated quote":        "SELECT `abc FROM t",
		"executable comment":        "SELECT 1 /*!50000 FROM secret */",
		"escape string":             `SELECT E'a' FROM t`,
		"odbc braces":               "SELECT * FROM {oj a LEFT OUTER JOIN b ON a.id = b.id}",
		"empty identifier":          `SELECT "" FROM t`,
		"unterminated dollar":       "SELECT $tag$ abc",
		"double dash without space": "SELECT 1--1 FROM secret",
		"double dash quote":         "SELECT * FROM departments d --'\nJOIN salaries s ON true --'",
		"nested block comment":      "SELECT * FROM departments d /* /* */ '*/ JOIN salaries s ON true --'",
		"hash":                      "SELECT * FROM departments d # '\nJOIN salaries s ON 1 = 1 -- '",
		"hash operator":             "SELECT 5 # 3",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			for _, d := range []Dialect{DialectPostgres, DialectMySQL, DialectClickHouse, DialectDuckDB} {
				_, err := Tokenize(in, d)
				require.Error(t, err, d)
				require.True(t, errors.Is(err, ErrParse), d)
			}
		})
	}
}

func TestSQLScan_Tokenize_DollarQuotes(t *testing.T) {
	t.Parallel()

	_, err := Tokenize("SELECT $$x$$ FROM t", DialectPostgres)
	require.NoError(t, err)

	_, err = Tokenize("SELECT $a$ FROM secret $a$", DialectMySQL)
	require.ErrorIs(t, err, ErrParse)
}

func TestSQLScan_StripComments(t *testing.T) {
	t.Parallel()

	out, err := StripComments("/* a */SELECT 1 -- b\nFROM t", DialectPostgres)
	require.NoError(t, err)
	require.Equal(t, " SELECT 1  \nFROM t", out)
}
