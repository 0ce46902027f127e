package backend

import (
	"strings"
)

// splitStatement verifies that sql holds exactly one SQL statement and
// returns it with any trailing semicolon removed. String literals, quoted
// identifiers and comments are skipped over, so semicolons inside them
// don't count as statement separators.
func splitStatement(sql string) (string, error) {
	var i, n = 0, len(sql)
	var end = -1       // Index of a statement-terminating semicolon, if any.
	var tokens = false // Whether anything but whitespace and comments was seen.

	for i < n {
		var c = sql[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			if end >= 0 {
				return "", execErrorf("SQL string contains more than one statement")
			}
			i = skipQuoted(sql, i, c)
			tokens = true
		case c == '[':
			if end >= 0 {
				return "", execErrorf("SQL string contains more than one statement")
			}
			i = skipTo(sql, i+1, ']')
			tokens = true
		case c == '-' && i+1 < n && sql[i+1] == '-':
			i = skipTo(sql, i+2, '\n')
		case c == '/' && i+1 < n && sql[i+1] == '*':
			if j := strings.Index(sql[i+2:], "*/"); j < 0 {
				i = n
			} else {
				i += 2 + j + 2
			}
		case c == ';':
			if end >= 0 {
				return "", execErrorf("SQL string contains more than one statement")
			}
			end = i
			i++
		default:
			if end >= 0 && !isSpace(c) {
				return "", execErrorf("SQL string contains more than one statement")
			}
			tokens = tokens || !isSpace(c)
			i++
		}
	}

	var stmt = sql
	if end >= 0 {
		stmt = sql[:end]
	}
	if !tokens {
		return "", execErrorf("SQL string does not contain any statement")
	}
	return stmt, nil
}

func skipQuoted(sql string, i int, quote byte) int {
	i++ // Opening quote.
	for i < len(sql) {
		if sql[i] == quote {
			// A doubled quote is an escape, not a terminator.
			if i+1 < len(sql) && sql[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

func skipTo(sql string, i int, c byte) int {
	if j := strings.IndexByte(sql[i:], c); j >= 0 {
		return i + j + 1
	}
	return len(sql)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

// stmtKind is a coarse classification of a statement by leading keyword,
// used to decide which result metadata is reported.
type stmtKind int

const (
	kindOther stmtKind = iota
	kindInsert
	kindUpdate
	kindDelete
)

// isDML statements report affected_row_count from changes().
func (k stmtKind) isDML() bool { return k != kindOther }

// reportsRowID statements report last_insert_rowid; others report null.
func (k stmtKind) reportsRowID() bool { return k == kindInsert }

// classify inspects the statement's first keyword, skipping leading
// whitespace and comments. An EXPLAIN prefix is not skipped, so EXPLAIN
// statements classify as kindOther.
func classify(sql string) stmtKind {
	var i, n = 0, len(sql)
	for i < n {
		var c = sql[i]
		switch {
		case isSpace(c):
			i++
		case c == '-' && i+1 < n && sql[i+1] == '-':
			i = skipTo(sql, i+2, '\n')
		case c == '/' && i+1 < n && sql[i+1] == '*':
			if j := strings.Index(sql[i+2:], "*/"); j < 0 {
				i = n
			} else {
				i += 2 + j + 2
			}
		default:
			var j = i
			for j < n && isKeywordByte(sql[j]) {
				j++
			}
			switch strings.ToUpper(sql[i:j]) {
			case "INSERT", "REPLACE":
				return kindInsert
			case "UPDATE":
				return kindUpdate
			case "DELETE":
				return kindDelete
			default:
				return kindOther
			}
		}
	}
	return kindOther
}

func isKeywordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
