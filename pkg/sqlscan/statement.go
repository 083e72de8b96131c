package sqlscan

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyStatement     = errors.New("empty statement")
	ErrMultipleStatements = errors.New("multiple statements are not allowed")
	ErrNotReadOnly        = errors.New("only SELECT statements are allowed")
)

// Words that begin a write, DDL or procedure statement. They only count where a statement can
// start, so a column called "copy" or "lock" is not mistaken for one.
var writeKeywords = map[string]struct{}{
	"insert": {}, "update": {}, "delete": {}, "merge": {}, "upsert": {}, "drop": {}, "alter": {},
	"create": {}, "truncate": {}, "grant": {}, "revoke": {}, "attach": {}, "detach": {},
	"optimize": {}, "rename": {}, "vacuum": {}, "copy": {}, "call": {}, "lock": {},
}

// CheckReadOnly verifies that sql is a single read-only query: it must start with SELECT or WITH
// (optionally inside parentheses) and contain no nested write statement (such as a data-modifying
// CTE), no INTO target, no row-locking clause and no query-level SETTINGS override. A trailing
// semicolon is allowed.
func CheckReadOnly(sql string, d Dialect) error {
	tokens, err := Tokenize(sql, d)
	if err != nil {
		return err
	}
	sig := Significant(tokens)
	for len(sig) > 0 && sig[len(sig)-1].IsPunct(";") {
		sig = sig[:len(sig)-1]
	}
	if len(sig) == 0 {
		return ErrEmptyStatement
	}

	first := 0
	for first < len(sig) && sig[first].IsPunct("(") {
		first++
	}
	if first == len(sig) || !sig[first].IsWord("select", "with") {
		return fmt.Errorf("%w: statement starts with %q", ErrNotReadOnly, leadingWord(sig))
	}

	for i, t := range sig {
		if t.IsPunct(";") {
			return ErrMultipleStatements
		}
		if t.Kind != KindWord {
			continue
		}
		switch {
		case t.IsWord("into"):
			return fmt.Errorf("%w: found INTO", ErrNotReadOnly)
		case isNestedStatement(sig, i):
			return fmt.Errorf("%w: found %s", ErrNotReadOnly, strings.ToUpper(t.Text))
		case isLockingClause(sig, i):
			return fmt.Errorf("%w: found row-locking clause", ErrNotReadOnly)
		case isSettingsClause(sig, i):
			// ClickHouse lets a query lift its own time and row limits.
			return fmt.Errorf("%w: found SETTINGS clause", ErrNotReadOnly)
		}
	}
	return nil
}

// isNestedStatement reports whether sig[i] starts a write statement inside parentheses, as in
// "WITH d AS (DELETE FROM t RETURNING *)".
func isNestedStatement(sig []Token, i int) bool {
	if _, ok := writeKeywords[strings.ToLower(sig[i].Text)]; !ok {
		return false
	}
	if i == 0 || !sig[i-1].IsPunct("(") || i+1 >= len(sig) {
		return false
	}
	next := sig[i+1]
	return next.Kind == KindWord || next.Kind == KindQuotedIdent
}

// isLockingClause matches FOR UPDATE, FOR [NO KEY|KEY] UPDATE/SHARE and LOCK IN SHARE MODE.
func isLockingClause(sig []Token, i int) bool {
	t := sig[i]
	if t.IsWord("update", "share") && i > 0 && sig[i-1].IsWord("for", "key") {
		return true
	}
	return t.IsWord("lock") && i+2 < len(sig) && sig[i+1].IsWord("in") && sig[i+2].IsWord("share")
}

// isSettingsClause matches "SETTINGS name =".
func isSettingsClause(sig []Token, i int) bool {
	if !sig[i].IsWord("settings") || i+2 >= len(sig) {
		return false
	}
	name := sig[i+1]
	return (name.Kind == KindWord || name.Kind == KindQuotedIdent) && sig[i+2].IsPunct("=")
}

// Normalize trims whitespace and trailing semicolons.
func Normalize(sql string) string {
	sql = strings.TrimSpace(sql)
	for strings.HasSuffix(sql, ";") {
		sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	}
	return sql
}

func leadingWord(sig []Token) string {
	for _, t := range sig {
		if t.Kind == KindWord {
			return strings.ToUpper(t.Text)
		}
	}
	if len(sig) > 0 {
		return sig[0].Text
	}
	return ""
}
