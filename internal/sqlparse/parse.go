// Copyright (c) 2026 QueryGate. All rights reserved.

/*
Package sqlparse lexes generated SQL and extracts the references the access
policy needs: statement kind, (schema, table) pairs, (qualifier, column)
pairs, star usage, and top-level LIMIT presence.

# Scope

This is a reference extractor, not a full grammar. It tokenizes PostgreSQL
lexical syntax exactly (strings, quoted identifiers, dollar quoting, nested
comments) and then walks the token stream tracking parenthesis depth and
clause context. Subqueries, CTEs, and set operations are traversed because
the walk is linear over every token. Anything it cannot make sense of is
reported as InvalidSQL with the byte position, which feeds the model retry
loop.

Extraction errs on the side of over-collection: an identifier that might be
a column is reported as one. The policy layer only acts on references that
match a deny rule, so over-collection can only make checks stricter.
*/
package sqlparse

import (
	"strings"

	"github.com/querygate/querygate/internal/platform/apperr"
)

// Kind classifies the top-level statement.
type Kind string

const (
	KindSelect Kind = "SELECT"
	KindUnion  Kind = "UNION"
	KindValues Kind = "VALUES"
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
	KindDDL    Kind = "DDL"
	KindOther  Kind = "OTHER"
)

// ReadOnly reports whether the statement kind is one the gateway may
// execute.
func (k Kind) ReadOnly() bool {
	return k == KindSelect || k == KindUnion || k == KindValues
}

// TableRef is one referenced relation. Schema is empty when the reference
// was unqualified.
type TableRef struct {
	Schema string
	Table  string
	Alias  string
}

// Qualified returns "schema.table" with the public default applied.
func (r TableRef) Qualified() string {
	schemaName := r.Schema
	if schemaName == "" {
		schemaName = "public"
	}
	return schemaName + "." + r.Table
}

// ColumnRef is one referenced column. Table is the resolved relation name
// when the qualifier could be resolved through the alias map; empty for
// unqualified references and unresolvable qualifiers (subquery aliases).
type ColumnRef struct {
	Qualifier string
	Table     string
	Column    string
}

// Info is the parse result consumed by the policy validator and the
// canonicalization pass.
type Info struct {
	Kind       Kind
	Statements int

	Tables  []TableRef
	Columns []ColumnRef

	// SelectStar is true when any select list contains * or table.*.
	SelectStar bool
	// StarQualifiers lists the qualifiers of table.* references.
	StarQualifiers []string

	// HasLimit reports a LIMIT or FETCH FIRST clause at the top level.
	HasLimit bool

	aliases map[string]TableRef
}

// ResolveQualifier maps an alias or table name (as written in a column
// qualifier) to the underlying table reference.
func (info *Info) ResolveQualifier(qualifier string) (TableRef, bool) {
	ref, ok := info.aliases[strings.ToLower(qualifier)]
	return ref, ok
}

// Parse tokenizes and walks one SQL string.
func Parse(sql string) (*Info, error) {
	tokens, err := lex(sql)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, apperr.InvalidSQL("empty statement", 0)
	}

	w := &walker{
		tokens: tokens,
		info: &Info{
			Statements: 1,
			aliases:    make(map[string]TableRef),
		},
		ctes: make(map[string]bool),
	}
	if err := w.run(); err != nil {
		return nil, err
	}
	return w.info, nil
}

// clause keywords that terminate a FROM list.
var fromListEnders = map[string]bool{
	"WHERE": true, "GROUP": true, "HAVING": true, "ORDER": true,
	"LIMIT": true, "OFFSET": true, "UNION": true, "INTERSECT": true,
	"EXCEPT": true, "WINDOW": true, "FETCH": true, "FOR": true,
	"RETURNING": true, "SELECT": true, "SET": true,
}

var joinKeywords = map[string]bool{
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true,
	"FULL": true, "CROSS": true, "NATURAL": true, "OUTER": true,
}

// Keywords that can never be a table alias or a column reference.
var reservedWords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "BY": true,
	"HAVING": true, "ORDER": true, "LIMIT": true, "OFFSET": true,
	"UNION": true, "INTERSECT": true, "EXCEPT": true, "ALL": true,
	"DISTINCT": true, "AS": true, "ON": true, "USING": true,
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"OUTER": true, "CROSS": true, "NATURAL": true, "LATERAL": true,
	"WITH": true, "RECURSIVE": true, "AND": true, "OR": true, "NOT": true,
	"IN": true, "IS": true, "NULL": true, "TRUE": true, "FALSE": true,
	"BETWEEN": true, "LIKE": true, "ILIKE": true, "SIMILAR": true,
	"EXISTS": true, "CASE": true, "WHEN": true, "THEN": true, "ELSE": true,
	"END": true, "CAST": true, "ASC": true, "DESC": true, "NULLS": true,
	"FIRST": true, "LAST": true, "FETCH": true, "NEXT": true, "ROW": true,
	"ROWS": true, "ONLY": true, "FOR": true, "UPDATE": true, "SHARE": true,
	"VALUES": true, "INSERT": true, "INTO": true, "DELETE": true,
	"SET": true, "RETURNING": true, "WINDOW": true, "OVER": true,
	"PARTITION": true, "FILTER": true, "WITHIN": true, "COLLATE": true,
	"ANY": true, "SOME": true, "ARRAY": true, "INTERVAL": true,
	"GROUPING": true, "TABLESAMPLE": true, "ISNULL": true, "NOTNULL": true,
	"CREATE": true, "ALTER": true, "DROP": true, "TRUNCATE": true,
	"GRANT": true, "REVOKE": true, "TABLE": true, "INDEX": true,
	"VIEW": true, "MERGE": true, "DO": true, "COPY": true, "CALL": true,
	"EXPLAIN": true, "ANALYZE": true, "VACUUM": true, "BEGIN": true,
	"COMMIT": true, "ROLLBACK": true,
}

var ddlKeywords = map[string]bool{
	"CREATE": true, "ALTER": true, "DROP": true, "TRUNCATE": true,
	"GRANT": true, "REVOKE": true, "COMMENT": true, "VACUUM": true,
	"ANALYZE": true, "REINDEX": true,
}

type walker struct {
	tokens []token
	info   *Info
	ctes   map[string]bool

	pos   int
	depth int

	// inFromList is the paren depth of the FROM list being scanned, or -1.
	inFromList int

	// funcParens marks, per open paren, whether it opened a function call.
	funcParens []bool
}

func (w *walker) run() error {
	w.inFromList = -1
	w.resolveKind()

	for w.pos < len(w.tokens) {
		tok := w.tokens[w.pos]

		switch {
		case tok.isSymbol("("):
			w.funcParens = append(w.funcParens, w.isFunctionParen())
			w.depth++
			w.pos++

		case tok.isSymbol(")"):
			if w.depth == 0 {
				return apperr.InvalidSQL("unbalanced parenthesis", tok.start)
			}
			w.depth--
			w.funcParens = w.funcParens[:len(w.funcParens)-1]
			if w.depth < w.inFromList {
				w.inFromList = -1
			}
			w.pos++

		case tok.isSymbol(";"):
			if w.hasMoreStatements() {
				w.info.Statements++
			}
			w.inFromList = -1
			w.pos++

		case tok.kind == tokenIdent && w.handleKeyword(tok):
			// handled, position already advanced

		case tok.isSymbol(",") && w.depth == w.inFromList:
			w.pos++
			w.parseTableItem()

		case tok.isSymbol("*"):
			w.handleStar()
			w.pos++

		case tok.kind == tokenIdent || tok.kind == tokenQuotedIdent:
			w.handleIdentifier()

		default:
			w.pos++
		}
	}

	if w.depth != 0 {
		return apperr.InvalidSQL("unbalanced parenthesis", w.tokens[len(w.tokens)-1].start)
	}
	return nil
}

// resolveKind classifies the statement from its leading keyword, looking
// through parentheses for set operations like (SELECT ...) UNION (...).
func (w *walker) resolveKind() {
	first := w.tokens[0]
	switch {
	case first.isKeyword("SELECT"), first.isKeyword("WITH"), first.isSymbol("("):
		w.info.Kind = KindSelect
	case first.isKeyword("VALUES"):
		w.info.Kind = KindValues
	case first.isKeyword("INSERT"):
		w.info.Kind = KindInsert
	case first.isKeyword("UPDATE"):
		w.info.Kind = KindUpdate
	case first.isKeyword("DELETE"):
		w.info.Kind = KindDelete
	case first.kind == tokenIdent && ddlKeywords[strings.ToUpper(first.text)]:
		w.info.Kind = KindDDL
	default:
		w.info.Kind = KindOther
	}

	// WITH fronts whatever statement follows the CTE list; the main walk
	// upgrades the kind when it meets a depth-0 data-modifying keyword.
	if first.isKeyword("WITH") {
		w.info.Kind = KindSelect
	}
}

// handleKeyword processes clause-level keywords. Reports true when it
// consumed tokens.
func (w *walker) handleKeyword(tok token) bool {
	upper := strings.ToUpper(tok.text)

	switch upper {
	case "FROM":
		// EXTRACT(... FROM x), substring(... FROM n), trim(... FROM s)
		// live inside function-call parens; their FROM is not a table
		// clause. Neither is IS [NOT] DISTINCT FROM.
		if w.insideFunctionCall() || w.prevIsKeyword("DISTINCT") {
			w.pos++
			return true
		}
		w.pos++
		w.inFromList = w.depth
		w.parseTableItem()
		return true

	case "JOIN":
		w.pos++
		w.parseTableItem()
		return true

	case "INTO":
		// INSERT INTO target
		w.pos++
		w.parseTableItem()
		return true

	case "UPDATE":
		// UPDATE target SET ... — only at statement position; the FOR
		// UPDATE locking clause has a FOR before it.
		if w.depth == 0 && w.info.Kind == KindUpdate && !w.prevIsKeyword("FOR") {
			w.pos++
			w.parseTableItem()
			return true
		}
		w.pos++
		return true

	case "UNION", "INTERSECT", "EXCEPT":
		if w.depth == 0 && w.info.Kind == KindSelect {
			w.info.Kind = KindUnion
		}
		w.inFromList = -1
		w.pos++
		return true

	case "LIMIT":
		if w.depth == 0 {
			w.info.HasLimit = true
		}
		w.inFromList = -1
		w.pos++
		return true

	case "FETCH":
		if w.depth == 0 {
			w.info.HasLimit = true
		}
		w.inFromList = -1
		w.pos++
		return true

	case "INSERT", "DELETE", "CREATE", "ALTER", "DROP", "TRUNCATE":
		// A depth-0 modifying keyword after a WITH chain fixes the kind.
		if w.depth == 0 && w.info.Kind == KindSelect {
			switch upper {
			case "INSERT":
				w.info.Kind = KindInsert
			case "DELETE":
				w.info.Kind = KindDelete
			default:
				w.info.Kind = KindDDL
			}
		}
		w.pos++
		return true

	case "WHERE", "GROUP", "HAVING", "ORDER", "OFFSET", "WINDOW", "SET", "RETURNING":
		if w.depth <= w.inFromList {
			w.inFromList = -1
		}
		w.pos++
		return true
	}

	return false
}

// parseTableItem consumes one relation reference after FROM, JOIN, INTO, or
// a FROM-list comma. Subqueries are left for the main walk.
func (w *walker) parseTableItem() {
	for w.pos < len(w.tokens) {
		tok := w.tokens[w.pos]
		if tok.isKeyword("LATERAL") || tok.isKeyword("ONLY") {
			w.pos++
			continue
		}
		break
	}
	if w.pos >= len(w.tokens) {
		return
	}

	tok := w.tokens[w.pos]
	if tok.kind != tokenIdent && tok.kind != tokenQuotedIdent {
		// Subquery or parenthesized join; the main walk scans inside.
		return
	}
	if tok.kind == tokenIdent && reservedWords[strings.ToUpper(tok.text)] {
		return
	}

	// name [. name] — schema-qualified or bare.
	first := tok.val()
	w.pos++

	var ref TableRef
	if w.peekSymbol(".") {
		w.pos++ // consume the dot
		if w.pos >= len(w.tokens) {
			return
		}
		ref = TableRef{Schema: first, Table: w.tokens[w.pos].val()}
		w.pos++
	} else {
		ref = TableRef{Table: first}
	}

	// A set-returning function in FROM is not a relation.
	if w.peekSymbol("(") {
		return
	}

	// Optional alias: AS name, or a bare non-reserved identifier.
	if w.pos < len(w.tokens) && w.tokens[w.pos].isKeyword("AS") {
		w.pos++
		if w.pos < len(w.tokens) {
			ref.Alias = w.tokens[w.pos].val()
			w.pos++
		}
	} else if w.pos < len(w.tokens) {
		next := w.tokens[w.pos]
		if (next.kind == tokenIdent && !reservedWords[strings.ToUpper(next.text)]) ||
			next.kind == tokenQuotedIdent {
			ref.Alias = next.val()
			w.pos++
		}
	}

	w.register(ref)
}

// register records a table reference and its qualifier mappings. CTE names
// shadow real tables and are not reported.
func (w *walker) register(ref TableRef) {
	if ref.Schema == "" && w.ctes[strings.ToLower(ref.Table)] {
		if ref.Alias != "" {
			// Columns qualified by a CTE alias cannot resolve to a base
			// table; leave the qualifier unresolvable.
			delete(w.info.aliases, strings.ToLower(ref.Alias))
		}
		return
	}

	w.info.Tables = append(w.info.Tables, ref)
	w.info.aliases[strings.ToLower(ref.Table)] = ref
	if ref.Alias != "" {
		w.info.aliases[strings.ToLower(ref.Alias)] = ref
	}
}

// handleStar records select-list stars. A star after SELECT, DISTINCT, or a
// list comma is a projection star; after a dot it is table.*; anything else
// is multiplication.
func (w *walker) handleStar() {
	prev, ok := w.prevToken()
	if !ok {
		return
	}
	switch {
	case prev.isSymbol("."):
		// qualifier already recorded by handleIdentifier
	case prev.isKeyword("SELECT") || prev.isKeyword("DISTINCT") || prev.isSymbol(","):
		w.info.SelectStar = true
	}
}

// handleIdentifier processes identifiers in expression position: qualified
// column references, qualified stars, CTE definitions, and bare columns.
func (w *walker) handleIdentifier() {
	tok := w.tokens[w.pos]

	if tok.kind == tokenIdent && reservedWords[strings.ToUpper(tok.text)] {
		w.pos++
		return
	}

	// name AS ( — a CTE definition; register the name so later FROM
	// references are not mistaken for base tables.
	if w.isCTEDefinition() {
		w.ctes[strings.ToLower(tok.val())] = true
		w.pos++
		return
	}

	if !w.peekAheadSymbol(1, ".") {
		w.collectBareColumn(tok)
		w.pos++
		return
	}

	// qualifier.something
	qualifier := tok.val()
	w.pos += 2
	if w.pos >= len(w.tokens) {
		return
	}
	next := w.tokens[w.pos]

	switch {
	case next.isSymbol("*"):
		w.info.SelectStar = true
		w.info.StarQualifiers = append(w.info.StarQualifiers, qualifier)
		w.pos++

	case next.kind == tokenIdent || next.kind == tokenQuotedIdent:
		// schema.table.column — fold the schema into the qualifier.
		if w.peekAheadSymbol(1, ".") && w.pos+2 < len(w.tokens) {
			columnTok := w.tokens[w.pos+2]
			w.addColumn(qualifier+"."+next.val(), columnTok.val())
			w.pos += 3
			return
		}
		// qualifier.column, unless it is a function call like schema.fn(.
		if !w.peekAheadSymbol(1, "(") {
			w.addColumn(qualifier, next.val())
		}
		w.pos++

	default:
		w.pos++
	}
}

// collectBareColumn records an unqualified identifier as a column unless
// position rules say it is something else: a function name, an alias being
// defined, a cast target, or a parameter-like construct.
func (w *walker) collectBareColumn(tok token) {
	if w.peekAheadSymbol(1, "(") {
		return // function call
	}
	if prev, ok := w.prevToken(); ok {
		if prev.isKeyword("AS") {
			return // output alias definition
		}
		if prev.isSymbol("::") {
			return // cast type name
		}
		if prev.isKeyword("INTERVAL") {
			return
		}
		if prev.isSymbol(")") && w.depth == w.inFromList {
			return // subquery alias in a FROM list
		}
	}
	w.addColumn("", tok.val())
}

func (w *walker) addColumn(qualifier, column string) {
	ref := ColumnRef{Qualifier: qualifier, Column: column}
	if qualifier != "" {
		if tableRef, ok := w.info.aliases[strings.ToLower(qualifier)]; ok {
			ref.Table = tableRef.Table
		} else if i := strings.IndexByte(qualifier, '.'); i >= 0 {
			ref.Table = qualifier[i+1:]
		}
	}
	w.info.Columns = append(w.info.Columns, ref)
}

// # Token Helpers

// hasMoreStatements reports whether any token follows the semicolon at the
// current position, so a trailing semicolon does not count as a second
// statement.
func (w *walker) hasMoreStatements() bool {
	return w.pos+1 < len(w.tokens)
}

func (w *walker) prevToken() (token, bool) {
	if w.pos == 0 {
		return token{}, false
	}
	return w.tokens[w.pos-1], true
}

func (w *walker) prevIsKeyword(kw string) bool {
	prev, ok := w.prevToken()
	return ok && prev.isKeyword(kw)
}

func (w *walker) peekSymbol(s string) bool {
	return w.pos < len(w.tokens) && w.tokens[w.pos].isSymbol(s)
}

func (w *walker) peekAheadSymbol(offset int, s string) bool {
	return w.pos+offset < len(w.tokens) && w.tokens[w.pos+offset].isSymbol(s)
}

// isFunctionParen reports whether the paren at the current position opens a
// function call: the previous token is a plain identifier that is not a
// reserved word.
func (w *walker) isFunctionParen() bool {
	prev, ok := w.prevToken()
	if !ok {
		return false
	}
	return prev.kind == tokenIdent && !reservedWords[strings.ToUpper(prev.text)]
}

func (w *walker) insideFunctionCall() bool {
	for i := len(w.funcParens) - 1; i >= 0; i-- {
		if w.funcParens[i] {
			return true
		}
	}
	return false
}

// isCTEDefinition matches `name AS (` and `name (col, ...) AS (`.
func (w *walker) isCTEDefinition() bool {
	i := w.pos + 1
	if i < len(w.tokens) && w.tokens[i].isSymbol("(") {
		// Skip a column list, which contains only identifiers and commas.
		depth := 1
		i++
		for i < len(w.tokens) && depth > 0 {
			switch {
			case w.tokens[i].isSymbol("("):
				depth++
			case w.tokens[i].isSymbol(")"):
				depth--
			case w.tokens[i].kind == tokenIdent, w.tokens[i].kind == tokenQuotedIdent, w.tokens[i].isSymbol(","):
			default:
				return false
			}
			i++
		}
	}
	return i+1 < len(w.tokens) && w.tokens[i].isKeyword("AS") && w.tokens[i+1].isSymbol("(")
}
