package permission

import (
	"fmt"
	"sort"
	"strings"

	"github.com/malbeclabs/sqlassist/pkg/sqlscan"
)

// Decision is the outcome of validating one statement for one user.
type Decision struct {
	Approved bool
	// SQL is the statement to execute. Identical to the input when no table needed scoping.
	SQL string
	// Unauthorized lists the referenced tables outside the user's accessible set, deduplicated
	// in order of first appearance.
	Unauthorized []string
	// Scoped lists the tables that were wrapped with a department filter.
	Scoped []string
}

// Rewrite checks sql against auth and wraps every department-controlled table reference in a
// filtering derived table. Errors wrapping sqlscan.ErrParse mean the statement itself could not
// be resolved; errors wrapping ErrInvalidConfig point at bad administrative data.
func Rewrite(sql string, configs TableConfigs, auth AuthContext, dialect Dialect) (Decision, error) {
	refs, err := sqlscan.ExtractTables(sql, dialect.Scan(), configs.Known)
	if err != nil {
		return Decision{}, err
	}

	var (
		unauthorized []string
		seen         = map[string]struct{}{}
	)
	for _, ref := range refs {
		if ref.Subquery || auth.CanAccess(ref.Name) {
			continue
		}
		key := strings.ToLower(ref.Name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unauthorized = append(unauthorized, ref.Name)
	}
	if len(unauthorized) > 0 {
		return Decision{Approved: false, Unauthorized: unauthorized}, nil
	}

	if len(auth.DeptIDs) == 0 {
		return Decision{Approved: true, SQL: sql}, nil
	}

	var scoped []sqlscan.Reference
	for _, ref := range refs {
		if ref.Subquery {
			continue
		}
		cfg, ok := configs.Get(ref.Name)
		if !ok || !cfg.NeedDeptControl || cfg.DeptPathField == "" {
			continue
		}
		scoped = append(scoped, ref)
	}
	if len(scoped) == 0 {
		return Decision{Approved: true, SQL: sql}, nil
	}

	pattern, err := PathPattern(auth.DeptIDs)
	if err != nil {
		return Decision{}, err
	}

	sort.Slice(scoped, func(i, j int) bool { return scoped[i].Start < scoped[j].Start })

	var (
		sb     strings.Builder
		last   int
		tables []string
		names  = map[string]struct{}{}
	)
	for _, ref := range scoped {
		cfg, _ := configs.Get(ref.Name)
		subquery, err := buildScopedTable(ref, cfg.DeptPathField, pattern, dialect)
		if err != nil {
			return Decision{}, err
		}
		sb.WriteString(sql[last:ref.Start])
		sb.WriteString(subquery)
		last = ref.End

		if _, ok := names[strings.ToLower(ref.Name)]; !ok {
			names[strings.ToLower(ref.Name)] = struct{}{}
			tables = append(tables, ref.Name)
		}
	}
	sb.WriteString(sql[last:])

	return Decision{Approved: true, SQL: sb.String(), Scoped: tables}, nil
}

// buildScopedTable renders "(SELECT * FROM t WHERE <path predicate>) AS alias". The alias is the
// original alias, or the table name so that qualified column references keep resolving.
func buildScopedTable(ref sqlscan.Reference, column, pattern string, dialect Dialect) (string, error) {
	pred, err := dialect.PathPredicate(column, pattern)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(SELECT * FROM %s WHERE %s) AS %s", ref.Qualified, pred, ref.RawAliasOrName()), nil
}
