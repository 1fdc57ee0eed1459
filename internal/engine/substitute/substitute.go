// Package substitute performs the textual variable replacement sqitch
// applies to a script before splitting it into statements: ":name" tokens
// by default, "&name" tokens for oracle, snowflake, and vertica.
package substitute

import "strings"

// Style selects the token prefix used to mark a variable reference.
type Style int

const (
	// Colon recognizes ":name" tokens (pg, mysql, sqlite, cockroach,
	// exasol, firebird).
	Colon Style = iota
	// Ampersand recognizes "&name" tokens (oracle, snowflake, vertica).
	Ampersand
)

func (s Style) prefix() byte {
	if s == Ampersand {
		return '&'
	}
	return ':'
}

// Apply replaces every "<prefix>name" token in script with vars[name].
// Tokens not present in vars are left verbatim — unresolved references are
// not an error at this layer; the driver or engine surfaces any resulting
// SQL error. A name is a run of letters, digits, and underscores.
func Apply(script string, vars map[string]string, style Style) string {
	if len(vars) == 0 {
		return script
	}

	prefix := style.prefix()
	var out strings.Builder
	out.Grow(len(script))

	i := 0
	for i < len(script) {
		c := script[i]
		if c != prefix {
			out.WriteByte(c)
			i++
			continue
		}

		j := i + 1
		for j < len(script) && isNameByte(script[j]) {
			j++
		}
		if j == i+1 {
			// bare prefix with no following name characters
			out.WriteByte(c)
			i++
			continue
		}

		name := script[i+1 : j]
		if v, ok := vars[name]; ok {
			out.WriteString(v)
		} else {
			out.WriteString(script[i:j])
		}
		i = j
	}

	return out.String()
}

func isNameByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// Reserved variable names. The executor injects ReservedRegistry (the
// registry namespace) itself; ReservedWarehouse is not injected by the
// engine and resolves only when the caller's vars supply it.
const (
	ReservedRegistry  = "registry"
	ReservedWarehouse = "warehouse"
)
