package permission

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/malbeclabs/sqlassist/pkg/sqlscan"
)

// Dialect selects how the department path predicate is written.
type Dialect string

const (
	DialectMySQL      Dialect = "mysql"
	DialectPostgres   Dialect = "postgres"
	DialectClickHouse Dialect = "clickhouse"
	DialectDuckDB     Dialect = "duckdb"
)

func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(s)); d {
	case DialectMySQL, DialectPostgres, DialectClickHouse, DialectDuckDB:
		return d, nil
	default:
		return "", fmt.Errorf("unknown sql dialect %q", s)
	}
}

// Scan returns the tokenizer rules for the dialect.
func (d Dialect) Scan() sqlscan.Dialect { return sqlscan.Dialect(d) }

var (
	columnPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	deptIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// PathPattern builds the regular expression matching a '>'-separated department path that
// contains any of deptIDs as a whole segment.
func PathPattern(deptIDs []string) (string, error) {
	if len(deptIDs) == 0 {
		return "", fmt.Errorf("%w: no department ids", ErrInvalidConfig)
	}
	parts := make([]string, 0, len(deptIDs))
	for _, id := range deptIDs {
		if !deptIDPattern.MatchString(id) {
			return "", fmt.Errorf("%w: department id %q", ErrInvalidConfig, id)
		}
		parts = append(parts, "(^|>)"+regexp.QuoteMeta(id)+"(>|$)")
	}
	return strings.Join(parts, "|"), nil
}

// PathPredicate returns the boolean expression matching column against pattern.
func (d Dialect) PathPredicate(column, pattern string) (string, error) {
	if !columnPattern.MatchString(column) {
		return "", fmt.Errorf("%w: department path column %q", ErrInvalidConfig, column)
	}
	lit := "'" + strings.ReplaceAll(pattern, "'", "''") + "'"
	switch d {
	case DialectPostgres:
		return column + " ~ " + lit, nil
	case DialectClickHouse:
		return "match(" + column + ", " + lit + ")", nil
	case DialectDuckDB:
		return "regexp_matches(" + column + ", " + lit + ")", nil
	default:
		return column + " REGEXP " + lit, nil
	}
}
