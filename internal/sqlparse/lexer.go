// Copyright (c) 2026 QueryGate. All rights reserved.

package sqlparse

import (
	"fmt"
	"strings"

	"github.com/querygate/querygate/internal/platform/apperr"
)

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenQuotedIdent
	tokenNumber
	tokenString
	tokenSymbol
	tokenParam
)

// token is one lexical unit with its byte span in the original text, so the
// rewrite passes can splice the source.
type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
}

// val returns the normalized identifier value: quoted identifiers keep their
// exact case with quotes stripped, plain identifiers fold to lower case the
// way PostgreSQL does.
func (t token) val() string {
	if t.kind == tokenQuotedIdent {
		return strings.ReplaceAll(t.text[1:len(t.text)-1], `""`, `"`)
	}
	if t.kind == tokenIdent {
		return strings.ToLower(t.text)
	}
	return t.text
}

// isKeyword reports whether the token is the given keyword (upper-case).
func (t token) isKeyword(kw string) bool {
	return t.kind == tokenIdent && strings.EqualFold(t.text, kw)
}

func (t token) isSymbol(s string) bool {
	return t.kind == tokenSymbol && t.text == s
}

// lex splits SQL into tokens. Comments and whitespace are discarded.
// Lexical errors (unterminated strings, quotes, comments) surface as
// InvalidSQL with the byte position.
func lex(sql string) ([]token, error) {
	var tokens []token
	i := 0
	n := len(sql)

	for i < n {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '-' && i+1 < n && sql[i+1] == '-':
			for i < n && sql[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < n && sql[i+1] == '*':
			end, err := skipBlockComment(sql, i)
			if err != nil {
				return nil, err
			}
			i = end

		case c == '\'':
			end, err := scanString(sql, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenString, text: sql[i:end], start: i, end: end})
			i = end

		case (c == 'e' || c == 'E') && i+1 < n && sql[i+1] == '\'':
			end, err := scanEscapeString(sql, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenString, text: sql[i:end], start: i, end: end})
			i = end

		case c == '$' && isDollarQuoteStart(sql[i:]):
			end, err := scanDollarString(sql, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenString, text: sql[i:end], start: i, end: end})
			i = end

		case c == '"':
			end, err := scanQuotedIdent(sql, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenQuotedIdent, text: sql[i:end], start: i, end: end})
			i = end

		case c == '$' && i+1 < n && isDigit(sql[i+1]):
			end := i + 1
			for end < n && isDigit(sql[end]) {
				end++
			}
			tokens = append(tokens, token{kind: tokenParam, text: sql[i:end], start: i, end: end})
			i = end

		case isDigit(c) || (c == '.' && i+1 < n && isDigit(sql[i+1])):
			end := scanNumber(sql, i)
			tokens = append(tokens, token{kind: tokenNumber, text: sql[i:end], start: i, end: end})
			i = end

		case isIdentStart(c):
			end := i + 1
			for end < n && isIdentPart(sql[end]) {
				end++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: sql[i:end], start: i, end: end})
			i = end

		case c == ':' && i+1 < n && sql[i+1] == ':':
			tokens = append(tokens, token{kind: tokenSymbol, text: "::", start: i, end: i + 2})
			i += 2

		case strings.IndexByte("(),;.*=<>+-/%^|!&~[]{}:?#@", c) >= 0:
			tokens = append(tokens, token{kind: tokenSymbol, text: string(c), start: i, end: i + 1})
			i++

		default:
			return nil, apperr.InvalidSQL(fmt.Sprintf("unexpected character %q", c), i)
		}
	}
	return tokens, nil
}

func skipBlockComment(sql string, start int) (int, error) {
	// PostgreSQL block comments nest.
	depth := 0
	i := start
	for i < len(sql) {
		if i+1 < len(sql) && sql[i] == '/' && sql[i+1] == '*' {
			depth++
			i += 2
			continue
		}
		if i+1 < len(sql) && sql[i] == '*' && sql[i+1] == '/' {
			depth--
			i += 2
			if depth == 0 {
				return i, nil
			}
			continue
		}
		i++
	}
	return 0, apperr.InvalidSQL("unterminated comment", start)
}

func scanString(sql string, start int) (int, error) {
	i := start + 1
	for i < len(sql) {
		if sql[i] == '\'' {
			// Doubled quote is an escaped quote inside the literal.
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1, nil
		}
		i++
	}
	return 0, apperr.InvalidSQL("unterminated string literal", start)
}

func scanEscapeString(sql string, start int) (int, error) {
	i := start + 2
	for i < len(sql) {
		switch sql[i] {
		case '\\':
			i += 2
		case '\'':
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1, nil
		default:
			i++
		}
	}
	return 0, apperr.InvalidSQL("unterminated string literal", start)
}

func isDollarQuoteStart(s string) bool {
	if len(s) < 2 || s[0] != '$' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] == '$' {
			return true
		}
		if !isIdentPart(s[i]) {
			return false
		}
	}
	return false
}

func scanDollarString(sql string, start int) (int, error) {
	tagEnd := strings.IndexByte(sql[start+1:], '$')
	tag := sql[start : start+tagEnd+2]
	bodyStart := start + len(tag)
	idx := strings.Index(sql[bodyStart:], tag)
	if idx < 0 {
		return 0, apperr.InvalidSQL("unterminated dollar-quoted string", start)
	}
	return bodyStart + idx + len(tag), nil
}

func scanQuotedIdent(sql string, start int) (int, error) {
	i := start + 1
	for i < len(sql) {
		if sql[i] == '"' {
			if i+1 < len(sql) && sql[i+1] == '"' {
				i += 2
				continue
			}
			return i + 1, nil
		}
		i++
	}
	return 0, apperr.InvalidSQL("unterminated quoted identifier", start)
}

func scanNumber(sql string, start int) int {
	i := start
	for i < len(sql) && (isDigit(sql[i]) || sql[i] == '.') {
		i++
	}
	// Exponent part.
	if i < len(sql) && (sql[i] == 'e' || sql[i] == 'E') {
		j := i + 1
		if j < len(sql) && (sql[j] == '+' || sql[j] == '-') {
			j++
		}
		if j < len(sql) && isDigit(sql[j]) {
			for j < len(sql) && isDigit(sql[j]) {
				j++
			}
			i = j
		}
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '$'
}
