// Package splitter breaks a SQL script into individual statements per the
// dialect-specific terminator convention, mirroring
// sqlitch's PostgreSQL engine _split_sql_statements but generalized to
// mysql's DELIMITER directive and oracle's standalone "/" terminator.
package splitter

import "strings"

// Policy selects how a script is divided into executable statements.
type Policy string

const (
	// Generic splits on a semicolon that ends a non-blank, non-"--"-comment
	// line — used by pg, cockroach, sqlite, snowflake, vertica, exasol,
	// and firebird.
	Generic Policy = "generic"

	// MySQL additionally tracks a "DELIMITER <tok>" directive, which
	// changes the active terminator until the next DELIMITER line; the
	// directive lines themselves are not emitted as statements.
	MySQL Policy = "mysql"

	// Oracle terminates a statement only with a "/" alone on its own line;
	// a trailing semicolon does not split, and it stays part of the
	// statement text.
	Oracle Policy = "oracle"
)

// Split divides script into trimmed, non-empty statements according to
// policy. Blank lines and lines whose first non-whitespace characters are
// "--" are dropped as pure comment lines; for the generic and mysql
// policies an inline "--" truncates the rest of its line. Statements are
// not otherwise parsed for embedded strings or quoting — scripts are
// trusted input.
func Split(script string, policy Policy) []string {
	switch policy {
	case MySQL:
		return splitMySQL(script)
	case Oracle:
		return splitOracle(script)
	default:
		return splitGeneric(script, ";")
	}
}

func isCommentOrBlank(line string) bool {
	t := strings.TrimSpace(line)
	return t == "" || strings.HasPrefix(t, "--")
}

func splitGeneric(script, terminator string) []string {
	var statements []string
	var buf strings.Builder

	for _, line := range strings.Split(script, "\n") {
		if isCommentOrBlank(line) {
			continue
		}
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)

		trimmed := strings.TrimRight(line, " \t\r")
		if strings.HasSuffix(trimmed, terminator) {
			stmt := strings.TrimSpace(buf.String())
			stmt = strings.TrimSuffix(stmt, terminator)
			stmt = strings.TrimSpace(stmt)
			if stmt != "" {
				statements = append(statements, stmt)
			}
			buf.Reset()
		}
	}

	if rest := strings.TrimSpace(buf.String()); rest != "" {
		statements = append(statements, rest)
	}
	return statements
}

func splitMySQL(script string) []string {
	var statements []string
	var buf strings.Builder
	delimiter := ";"

	flush := func() {
		if stmt := strings.TrimSpace(buf.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		buf.Reset()
	}

	for _, line := range strings.Split(script, "\n") {
		if isCommentOrBlank(line) {
			continue
		}

		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToUpper(trimmed), "DELIMITER ") {
			flush()
			delimiter = strings.TrimSpace(trimmed[len("DELIMITER "):])
			continue
		}

		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)

		right := strings.TrimRight(line, " \t\r")
		if strings.HasSuffix(right, delimiter) {
			stmt := strings.TrimSpace(buf.String())
			stmt = strings.TrimSuffix(stmt, delimiter)
			stmt = strings.TrimSpace(stmt)
			if stmt != "" {
				statements = append(statements, stmt)
			}
			buf.Reset()
		}
	}
	flush()
	return statements
}

// splitOracle terminates a statement only on a "/" standalone on its own
// line — the PL/SQL block terminator. Semicolons inside a block (ending a
// BEGIN...END statement list) are left alone, since a block may contain
// many semicolon-terminated inner statements that must run together.
func splitOracle(script string) []string {
	var statements []string
	var buf strings.Builder

	flush := func() {
		if stmt := strings.TrimSpace(buf.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		buf.Reset()
	}

	for _, line := range strings.Split(script, "\n") {
		if isCommentOrBlank(line) {
			continue
		}

		if strings.TrimSpace(line) == "/" {
			flush()
			continue
		}

		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)
	}
	flush()
	return statements
}
