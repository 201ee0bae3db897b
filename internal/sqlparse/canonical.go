// Copyright (c) 2026 QueryGate. All rights reserved.

package sqlparse

import (
	"fmt"
	"strings"
)

// Canonicalize produces the final SQL text for execution. A top-level
// SELECT without a LIMIT gets one appended with the configured row cap;
// existing LIMITs are never raised. UNION statements are left untouched.
// Canonicalizing an already-canonical statement is a no-op.
func Canonicalize(sql string, info *Info, maxRows int) string {
	out := strings.TrimSpace(sql)
	out = strings.TrimRight(out, ";")
	out = strings.TrimSpace(out)

	if info.Kind != KindSelect || info.HasLimit {
		return out
	}
	return fmt.Sprintf("%s LIMIT %d", out, maxRows)
}

// listItem is one comma-separated entry of the top-level select list, with
// its byte span in the source.
type listItem struct {
	start  int
	end    int
	tokens []token
}

// topSelectList locates the projection list of the outermost SELECT.
// Returns nil when there is none (set operations, VALUES).
func topSelectList(sql string) ([]listItem, error) {
	tokens, err := lex(sql)
	if err != nil {
		return nil, err
	}

	// Find the depth-0 SELECT.
	depth := 0
	start := -1
	for i, tok := range tokens {
		switch {
		case tok.isSymbol("("):
			depth++
		case tok.isSymbol(")"):
			depth--
		case depth == 0 && tok.isKeyword("SELECT"):
			start = i + 1
		}
		if start >= 0 {
			break
		}
	}
	if start < 0 {
		return nil, nil
	}

	// Skip DISTINCT / ALL / DISTINCT ON (...).
	if start < len(tokens) && (tokens[start].isKeyword("DISTINCT") || tokens[start].isKeyword("ALL")) {
		isDistinct := tokens[start].isKeyword("DISTINCT")
		start++
		if isDistinct && start < len(tokens) && tokens[start].isKeyword("ON") && start+1 < len(tokens) && tokens[start+1].isSymbol("(") {
			start += 2
			nested := 1
			for start < len(tokens) && nested > 0 {
				if tokens[start].isSymbol("(") {
					nested++
				}
				if tokens[start].isSymbol(")") {
					nested--
				}
				start++
			}
		}
	}

	var items []listItem
	var current listItem
	current.start = -1
	depth = 0

	flush := func(end int) {
		if len(current.tokens) > 0 {
			current.end = end
			items = append(items, current)
		}
		current = listItem{start: -1}
	}

	for i := start; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok.isSymbol("("):
			depth++
		case tok.isSymbol(")"):
			depth--
		case depth == 0 && tok.isSymbol(","):
			flush(tok.start)
			continue
		case depth == 0 && tok.kind == tokenIdent && fromListEnders[strings.ToUpper(tok.text)]:
			flush(tok.start)
			return items, nil
		case depth == 0 && tok.isSymbol(";"):
			flush(tok.start)
			return items, nil
		}
		if current.start < 0 {
			current.start = tok.start
		}
		current.tokens = append(current.tokens, tok)
		current.end = tok.end
	}
	flush(len(sql))
	return items, nil
}

// ExpandStar rewrites * and table.* projections into explicit column lists.
//
// columnsFor supplies the ordered column names of a referenced table;
// include decides per column whether it survives the expansion (deny
// patterns drop columns here rather than after the fact). Stars over
// relations columnsFor does not know are left in place; downstream policy
// or execution reports those.
func ExpandStar(sql string, info *Info, columnsFor func(TableRef) ([]string, bool), include func(TableRef, string) bool) (string, error) {
	items, err := topSelectList(sql)
	if err != nil {
		return "", err
	}

	out := sql
	// Splice right to left so earlier spans stay valid.
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		replacement, ok := expandItem(item, info, columnsFor, include)
		if !ok {
			continue
		}
		out = out[:item.start] + replacement + out[item.end:]
	}
	return out, nil
}

func expandItem(item listItem, info *Info, columnsFor func(TableRef) ([]string, bool), include func(TableRef, string) bool) (string, bool) {
	var targets []TableRef

	switch {
	case len(item.tokens) == 1 && item.tokens[0].isSymbol("*"):
		targets = info.Tables

	case len(item.tokens) == 3 && item.tokens[1].isSymbol(".") && item.tokens[2].isSymbol("*"):
		ref, ok := info.ResolveQualifier(item.tokens[0].val())
		if !ok {
			return "", false
		}
		targets = []TableRef{ref}

	default:
		return "", false
	}

	var parts []string
	for _, ref := range targets {
		columns, known := columnsFor(ref)
		if !known {
			return "", false
		}
		prefix := ref.Alias
		if prefix == "" {
			prefix = ref.Table
		}
		for _, column := range columns {
			if include != nil && !include(ref, column) {
				continue
			}
			parts = append(parts, prefix+"."+column)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, ", "), true
}

// Redact replaces denied select-list columns with NULL placeholders that
// keep the output column name, so the result shape stays what the model
// promised while the value is withheld.
//
// Only plain column projections are rewritten. A denied column buried in an
// expression or referenced outside the select list cannot be redacted; the
// caller detects that by re-parsing the result.
func Redact(sql string, info *Info, denied func(ColumnRef) bool) (string, error) {
	items, err := topSelectList(sql)
	if err != nil {
		return "", err
	}

	out := sql
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		ref, outName, ok := plainColumn(item, info)
		if !ok || !denied(ref) {
			continue
		}
		out = out[:item.start] + "NULL AS " + outName + out[item.end:]
	}
	return out, nil
}

// plainColumn matches `[q.]col`, `[s.t.]col`, each with an optional alias,
// and returns the resolved reference plus the output column name.
func plainColumn(item listItem, info *Info) (ColumnRef, string, bool) {
	tokens := item.tokens

	// Strip a trailing [AS] alias.
	alias := ""
	if n := len(tokens); n >= 2 {
		last := tokens[n-1]
		if last.kind == tokenIdent || last.kind == tokenQuotedIdent {
			if tokens[n-2].isKeyword("AS") {
				alias = last.val()
				tokens = tokens[:n-2]
			} else if n >= 2 && !tokens[n-2].isSymbol(".") &&
				(last.kind == tokenQuotedIdent || !reservedWords[strings.ToUpper(last.text)]) &&
				(tokens[n-2].kind == tokenIdent || tokens[n-2].kind == tokenQuotedIdent) {
				alias = last.val()
				tokens = tokens[:n-1]
			}
		}
	}

	isName := func(t token) bool { return t.kind == tokenIdent || t.kind == tokenQuotedIdent }

	var ref ColumnRef
	switch len(tokens) {
	case 1:
		if !isName(tokens[0]) || reservedWords[strings.ToUpper(tokens[0].text)] {
			return ColumnRef{}, "", false
		}
		ref = ColumnRef{Column: tokens[0].val()}

	case 3:
		if !isName(tokens[0]) || !tokens[1].isSymbol(".") || !isName(tokens[2]) {
			return ColumnRef{}, "", false
		}
		ref = ColumnRef{Qualifier: tokens[0].val(), Column: tokens[2].val()}

	case 5:
		if !isName(tokens[0]) || !tokens[1].isSymbol(".") || !isName(tokens[2]) ||
			!tokens[3].isSymbol(".") || !isName(tokens[4]) {
			return ColumnRef{}, "", false
		}
		ref = ColumnRef{Qualifier: tokens[0].val() + "." + tokens[2].val(), Column: tokens[4].val()}

	default:
		return ColumnRef{}, "", false
	}

	if ref.Qualifier != "" {
		if tableRef, ok := info.ResolveQualifier(ref.Qualifier); ok {
			ref.Table = tableRef.Table
		} else if i := strings.IndexByte(ref.Qualifier, '.'); i >= 0 {
			ref.Table = ref.Qualifier[i+1:]
		}
	}

	outName := alias
	if outName == "" {
		outName = ref.Column
	}
	return ref, outName, true
}
