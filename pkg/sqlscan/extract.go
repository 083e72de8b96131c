package sqlscan

import (
	"strings"
)

// Reference is a table (or derived table) found in a FROM, JOIN, UPDATE, INTO or TABLE position.
// Start and End delimit the bytes of the reference in the source, covering the name and its alias.
type Reference struct {
	// Name is the unquoted, unqualified table name. Empty for derived tables.
	Name string
	// Qualified is the table name as written, including schema prefix and quoting.
	Qualified string
	Alias     string
	// RawName and RawAlias keep the original quoting of the last name part and the alias.
	RawName  string
	RawAlias string
	// Subquery marks a derived table "(SELECT ...) alias".
	Subquery bool
	Start    int
	End      int
}

// AliasOrName returns the name other parts of the statement use for the reference.
func (r Reference) AliasOrName() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.Name
}

// RawAliasOrName is AliasOrName with the original quoting preserved.
func (r Reference) RawAliasOrName() string {
	if r.RawAlias != "" {
		return r.RawAlias
	}
	return r.RawName
}

// KnownFunc reports whether a table name is one the caller tracks.
type KnownFunc func(name string) bool

// KnownSet builds a case-insensitive KnownFunc over names.
func KnownSet(names ...string) KnownFunc {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return func(name string) bool {
		_, ok := set[strings.ToLower(name)]
		return ok
	}
}

// Words that can never be a table alias. A word after a table name that is not listed here is
// taken as its alias.
var reservedAfterTable = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"all", "and", "anti", "any", "array", "as", "asof", "by", "case", "cross", "else", "end",
		"except", "fetch", "final", "for", "force", "format", "from", "full", "global", "group", "having",
		"ignore", "in", "inner", "intersect", "into", "is", "join", "lateral", "left", "limit",
		"natural", "not", "offset", "on", "or", "order", "outer", "paste", "prewhere", "qualify",
		"returning", "right", "sample", "select", "semi", "set", "settings", "straight_join",
		"tablesample", "then", "union", "use", "using", "values", "when", "where", "window", "with",
	} {
		reservedAfterTable[w] = struct{}{}
	}
}

// Keywords that close a FROM list at the current nesting level.
var fromListEnd = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"where", "group", "order", "having", "limit", "offset", "union", "intersect", "except",
		"window", "qualify", "fetch", "for", "set", "values", "select", "returning", "prewhere",
		"settings", "format",
	} {
		fromListEnd[w] = struct{}{}
	}
}

func isReservedAfterTable(t Token) bool {
	if t.Kind != KindWord {
		return false
	}
	_, ok := reservedAfterTable[strings.ToLower(t.Text)]
	return ok
}

type frame struct {
	inFrom   bool
	subquery bool
	start    int
}

type extractor struct {
	sig   []Token
	known KnownFunc
	refs  []Reference
}

// ExtractTables tokenizes sql and returns every reference to a known table, together with every
// aliased derived table, in source order. Unknown names in table position (CTE names, table
// functions, unmanaged tables) are skipped.
func ExtractTables(sql string, d Dialect, known KnownFunc) ([]Reference, error) {
	tokens, err := Tokenize(sql, d)
	if err != nil {
		return nil, err
	}
	e := &extractor{sig: Significant(tokens), known: known}
	if err := e.run(); err != nil {
		return nil, err
	}
	return e.refs, nil
}

func (e *extractor) run() error {
	stack := []frame{{}}
	expect := false

	for i := 0; i < len(e.sig); i++ {
		t := e.sig[i]
		top := &stack[len(stack)-1]

		if expect {
			expect = false
			switch {
			case t.IsWord("lateral", "only"):
				expect = true
				continue
			case t.IsPunct("("):
				fr := frame{start: t.Pos}
				if i+1 < len(e.sig) && e.sig[i+1].IsWord("select", "with", "values", "table") {
					fr.subquery = true
				} else {
					// Parenthesized join: the first element is a table factor.
					fr.inFrom = true
					expect = true
				}
				stack = append(stack, fr)
				continue
			case isIdentToken(t) && !isReservedAfterTable(t):
				next, err := e.tableFactor(i)
				if err != nil {
					return err
				}
				i = next - 1
				continue
			}
		}

		switch {
		case t.IsPunct("("):
			stack = append(stack, frame{start: t.Pos})
		case t.IsPunct(")"):
			if len(stack) == 1 {
				return parseErrorf("unbalanced parenthesis at offset %d", t.Pos)
			}
			fr := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if fr.subquery {
				alias, next, err := e.alias(i + 1)
				if err != nil {
					return err
				}
				if next > i+1 {
					e.refs = append(e.refs, Reference{
						Alias:    alias.Ident(),
						RawAlias: alias.Text,
						Subquery: true,
						Start:    fr.start,
						End:      e.sig[next-1].End(),
					})
				}
				i = next - 1
			}
		case t.IsPunct(","):
			if top.inFrom {
				expect = true
			}
		case t.IsPunct(";"):
			top.inFrom = false
		case t.IsWord("from"):
			top.inFrom = true
			expect = true
		case t.IsWord("join", "straight_join", "update", "into", "table"):
			expect = true
		case t.Kind == KindWord:
			if _, ok := fromListEnd[strings.ToLower(t.Text)]; ok {
				top.inFrom = false
			}
		}
	}
	if len(stack) != 1 {
		return parseErrorf("unbalanced parenthesis: %d unclosed", len(stack)-1)
	}
	return nil
}

// tableFactor reads "name[.name...] [[AS] alias]" starting at i and returns the index of the
// first token after it.
func (e *extractor) tableFactor(i int) (int, error) {
	start := i
	parts := []Token{e.sig[i]}
	j := i + 1
	for j+1 < len(e.sig) && e.sig[j].IsPunct(".") && isIdentToken(e.sig[j+1]) {
		parts = append(parts, e.sig[j+1])
		j += 2
	}
	last := parts[len(parts)-1]
	name := last.Ident()

	// Table function, not a table.
	if j < len(e.sig) && e.sig[j].IsPunct("(") {
		return j, nil
	}
	if !e.known(name) {
		return j, nil
	}

	alias, next, err := e.alias(j)
	if err != nil {
		return 0, err
	}
	ref := Reference{
		Name:      name,
		Qualified: e.span(start, j),
		Alias:     alias.Ident(),
		RawName:   last.Text,
		RawAlias:  alias.Text,
		Start:     e.sig[start].Pos,
		End:       e.sig[next-1].End(),
	}
	e.refs = append(e.refs, ref)
	return next, nil
}

// alias reads an optional alias at i and returns its token (zero if absent) with the index of
// the token after it.
func (e *extractor) alias(i int) (Token, int, error) {
	if i >= len(e.sig) {
		return Token{}, i, nil
	}
	t := e.sig[i]
	if t.IsWord("as") {
		if i+1 >= len(e.sig) || !isIdentToken(e.sig[i+1]) || isReservedAfterTable(e.sig[i+1]) {
			return Token{}, 0, parseErrorf("cannot resolve alias after AS at offset %d", t.Pos)
		}
		return e.sig[i+1], i + 2, nil
	}
	if isIdentToken(t) && !isReservedAfterTable(t) {
		return t, i + 1, nil
	}
	return Token{}, i, nil
}

// span returns the source text from token i up to, not including, token j.
func (e *extractor) span(i, j int) string {
	var sb strings.Builder
	for k := i; k < j; k++ {
		sb.WriteString(e.sig[k].Text)
	}
	return sb.String()
}

func isIdentToken(t Token) bool {
	return t.Kind == KindWord || t.Kind == KindQuotedIdent
}
