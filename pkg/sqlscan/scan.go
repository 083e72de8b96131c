// Package sqlscan tokenizes SQL text and finds the table references inside it.
//
// Tokenizing follows the target Dialect. Where engines disagree on how a piece of text tokenizes
// ("--" without a following space, nested block comments, "#", backslash escapes, dollar quotes)
// the scanner fails with ErrParse instead of picking a reading. Callers that make security
// decisions on the output rely on that: a reference the database would see is never hidden inside
// something the scanner took for a comment or a string.
package sqlscan

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Dialect is the SQL engine the text is written for. The zero value tokenizes with the strictest
// rules of every supported engine.
type Dialect string

const (
	DialectPostgres   Dialect = "postgres"
	DialectMySQL      Dialect = "mysql"
	DialectClickHouse Dialect = "clickhouse"
	DialectDuckDB     Dialect = "duckdb"
)

// backslashEscapes reports whether the engine reads a backslash inside quotes as an escape.
func (d Dialect) backslashEscapes() bool {
	return d != DialectPostgres && d != DialectDuckDB
}

// dollarQuotes reports whether the engine has $tag$ quoted strings.
func (d Dialect) dollarQuotes() bool {
	return d != DialectMySQL
}

// ErrParse is returned for SQL that cannot be tokenized or resolved unambiguously.
var ErrParse = errors.New("sql parse error")

func parseErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrParse, fmt.Sprintf(format, args...))
}

type Kind int

const (
	KindWord Kind = iota
	KindQuotedIdent
	KindString
	KindNumber
	KindPunct
	KindSpace
	KindComment
)

func (k Kind) String() string {
	switch k {
	case KindWord:
		return "word"
	case KindQuotedIdent:
		return "quoted_ident"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindPunct:
		return "punct"
	case KindSpace:
		return "space"
	case KindComment:
		return "comment"
	default:
		return "unknown"
	}
}

// Token is a lexical unit of SQL text. Pos is the byte offset of Text in the source.
type Token struct {
	Kind Kind
	Text string
	Pos  int
}

func (t Token) End() int { return t.Pos + len(t.Text) }

// Significant reports whether the token carries meaning, i.e. is not whitespace or a comment.
func (t Token) Significant() bool {
	return t.Kind != KindSpace && t.Kind != KindComment
}

// IsWord reports whether the token is an unquoted word equal to one of kws, ignoring case.
func (t Token) IsWord(kws ...string) bool {
	if t.Kind != KindWord {
		return false
	}
	for _, kw := range kws {
		if strings.EqualFold(t.Text, kw) {
			return true
		}
	}
	return false
}

func (t Token) IsPunct(p string) bool {
	return t.Kind == KindPunct && t.Text == p
}

// Ident returns the identifier value of a word or quoted identifier, with quotes removed and
// doubled quote characters collapsed.
func (t Token) Ident() string {
	switch t.Kind {
	case KindWord:
		return t.Text
	case KindQuotedIdent:
		q := t.Text[:1]
		inner := t.Text[1 : len(t.Text)-1]
		return strings.ReplaceAll(inner, q+q, q)
	default:
		return ""
	}
}

// Tokenize splits sql into tokens covering the whole input. Concatenating the Text of every
// token reproduces sql exactly.
func Tokenize(sql string, d Dialect) ([]Token, error) {
	var (
		tokens []Token
		i      int
	)
	for i < len(sql) {
		start := i
		c := sql[i]
		var kind Kind
		switch {
		case isSpace(c):
			for i < len(sql) && isSpace(sql[i]) {
				i++
			}
			kind = KindSpace

		case c == '-' && strings.HasPrefix(sql[i:], "--"):
			// MySQL needs whitespace after "--", Postgres and ClickHouse do not.
			if i+2 < len(sql) && !isSpace(sql[i+2]) {
				return nil, parseErrorf("ambiguous \"--\" at offset %d", i)
			}
			i = endOfLine(sql, i)
			kind = KindComment

		case c == '#':
			// A line comment in MySQL and ClickHouse, an operator in Postgres.
			return nil, parseErrorf("ambiguous \"#\" at offset %d", i)

		case c == '/' && strings.HasPrefix(sql[i:], "/*"):
			end, err := scanBlockComment(sql, i)
			if err != nil {
				return nil, err
			}
			i = end
			kind = KindComment

		case c == '\'':
			end, err := scanString(sql, i, d)
			if err != nil {
				return nil, err
			}
			i = end
			kind = KindString

		case c == '"' || c == '`':
			end, err := scanQuoted(sql, i, c, d)
			if err != nil {
				return nil, err
			}
			i = end
			kind = KindQuotedIdent

		case c == '$' && dollarTag(sql, i) != "":
			if !d.dollarQuotes() {
				return nil, parseErrorf("dollar-quoted string at offset %d", i)
			}
			tag := dollarTag(sql, i)
			end := strings.Index(sql[i+len(tag):], tag)
			if end < 0 {
				return nil, parseErrorf("unterminated dollar-quoted string at offset %d", i)
			}
			i += len(tag) + end + len(tag)
			kind = KindString

		case c >= '0' && c <= '9':
			for i < len(sql) && isNumberByte(sql[i]) {
				i++
			}
			kind = KindNumber

		case c == '{' || c == '}':
			return nil, parseErrorf("unsupported brace syntax at offset %d", i)

		case isIdentStart(sql, i):
			// E'...' and N'...' prefixed literals tokenize as strings.
			if (c == 'E' || c == 'e' || c == 'N' || c == 'n' || c == 'X' || c == 'x' || c == 'B' || c == 'b') &&
				i+1 < len(sql) && sql[i+1] == '\'' {
				if c == 'E' || c == 'e' {
					return nil, parseErrorf("escape string literal at offset %d", i)
				}
				end, err := scanString(sql, i+1, d)
				if err != nil {
					return nil, err
				}
				i = end
				kind = KindString
				break
			}
			for i < len(sql) && isIdentByte(sql, i) {
				_, size := utf8.DecodeRuneInString(sql[i:])
				i += size
			}
			kind = KindWord

		default:
			_, size := utf8.DecodeRuneInString(sql[i:])
			i += size
			kind = KindPunct
		}
		tokens = append(tokens, Token{Kind: kind, Text: sql[start:i], Pos: start})
	}
	return tokens, nil
}

// Significant drops whitespace and comments.
func Significant(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Significant() {
			out = append(out, t)
		}
	}
	return out
}

// StripComments returns sql with every comment replaced by a single space.
func StripComments(sql string, d Dialect) (string, error) {
	tokens, err := Tokenize(sql, d)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, t := range tokens {
		if t.Kind == KindComment {
			sb.WriteByte(' ')
			continue
		}
		sb.WriteString(t.Text)
	}
	return sb.String(), nil
}

// scanBlockComment scans a /* */ comment starting at i. Postgres nests block comments and MySQL
// runs /*! */ bodies, so both are rejected.
func scanBlockComment(sql string, i int) (int, error) {
	if strings.HasPrefix(sql[i:], "/*!") {
		return 0, parseErrorf("executable comment at offset %d", i)
	}
	end := strings.Index(sql[i+2:], "*/")
	if end < 0 {
		return 0, parseErrorf("unterminated block comment at offset %d", i)
	}
	if strings.Contains(sql[i+2:i+2+end], "/*") {
		return 0, parseErrorf("nested block comment at offset %d", i)
	}
	return i + 2 + end + 2, nil
}

// scanString scans a single-quoted literal starting at i and returns the offset after it.
func scanString(sql string, i int, d Dialect) (int, error) {
	j := i + 1
	for j < len(sql) {
		if sql[j] == '\\' && d.backslashEscapes() {
			return 0, parseErrorf("backslash escape in string literal at offset %d", i)
		}
		if sql[j] == '\'' {
			if j+1 < len(sql) && sql[j+1] == '\'' {
				j += 2
				continue
			}
			return j + 1, nil
		}
		j++
	}
	return 0, parseErrorf("unterminated string literal at offset %d", i)
}

func scanQuoted(sql string, i int, q byte, d Dialect) (int, error) {
	j := i + 1
	for j < len(sql) {
		if sql[j] == '\\' && d.backslashEscapes() {
			return 0, parseErrorf("backslash escape in quoted identifier at offset %d", i)
		}
		if sql[j] == q {
			if j+1 < len(sql) && sql[j+1] == q {
				j += 2
				continue
			}
			if j == i+1 {
				return 0, parseErrorf("empty quoted identifier at offset %d", i)
			}
			return j + 1, nil
		}
		j++
	}
	return 0, parseErrorf("unterminated quoted identifier at offset %d", i)
}

// dollarTag returns the opening tag of a Postgres dollar-quoted string at i ("$$" or "$tag$").
// Positional parameters such as $1 return "".
func dollarTag(sql string, i int) string {
	j := i + 1
	for j < len(sql) && sql[j] != '$' {
		c := sql[j]
		if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (j > i+1 && c >= '0' && c <= '9')) {
			return ""
		}
		j++
	}
	if j >= len(sql) {
		return ""
	}
	return sql[i : j+1]
}

// endOfLine stops at either newline byte. Postgres ends a line comment at "\r" too.
func endOfLine(sql string, i int) int {
	if nl := strings.IndexAny(sql[i:], "\r\n"); nl >= 0 {
		return i + nl
	}
	return len(sql)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isNumberByte(c byte) bool {
	return c == '.' || c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentStart(sql string, i int) bool {
	r, _ := utf8.DecodeRuneInString(sql[i:])
	return r == '_' || unicode.IsLetter(r)
}

func isIdentByte(sql string, i int) bool {
	r, _ := utf8.DecodeRuneInString(sql[i:])
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
