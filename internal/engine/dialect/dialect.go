// Package dialect is the engine registry (C12) and per-engine metadata
// store (C6): a Dialect value bundles everything that varies by database
// engine — connection opening, registry DDL, statement-splitting and
// variable-substitution policy, the regex search operator, pagination
// syntax, and the pre-transaction locking hook — as a struct of function
// fields rather than a class hierarchy, registered once per dialect file's
// init().
package dialect

import (
	"context"
	"database/sql"
	"sync"

	"github.com/vitaliisemenov/deployctl/internal/engine/conn"
	"github.com/vitaliisemenov/deployctl/internal/engine/engerr"
	"github.com/vitaliisemenov/deployctl/internal/engine/splitter"
	"github.com/vitaliisemenov/deployctl/internal/engine/substitute"
)

// RegistryVersion is the schema version this implementation writes and
// expects; registry.Ensure refuses to operate against a mismatched,
// unmigratable version (see Upgrade).
const RegistryVersion = "1.1"

// Dialect bundles the engine-specific behavior the rest of
// internal/engine dispatches through. Fields left nil are never called for
// a driverless dialect's pure-metadata uses (DDL inspection, splitter
// tests); Open is the only field guaranteed non-nil for every registered
// tag, since even a driverless dialect must report why it cannot connect.
type Dialect struct {
	Tag             string
	ParamStyle      conn.ParamStyle
	SplitPolicy     splitter.Policy
	SubstituteStyle substitute.Style

	// Open establishes a *sql.DB for driverURI. Driverless dialects
	// (oracle, snowflake, vertica, exasol, firebird) return a
	// *engerr.ConnectionError naming the missing driver.
	Open func(ctx context.Context, driverURI string) (*sql.DB, error)

	// RegistryDDL returns the ordered CREATE statements for the six
	// registry tables under namespace; the seed project and release rows
	// are inserted separately by registry.Ensure.
	RegistryDDL func(namespace string) []string

	// TableName renders the qualified name of one registry table under
	// namespace, matching whatever RegistryDDL actually created —
	// "namespace.table" for dialects with schema support (pg, cockroach,
	// snowflake, vertica, exasol), "namespace_table" elsewhere (mysql,
	// sqlite, oracle, firebird).
	TableName func(namespace, table string) string

	// RegexCondition returns a WHERE-clause fragment matching column
	// against a regex bound parameter, e.g. "change ~ :pattern".
	RegexCondition func(column, paramName string) string

	// LimitOffset renders the pagination clause appended to a SELECT for
	// the given limit and offset; firebird renders "ROWS m TO n" and oracle
	// "OFFSET ... FETCH NEXT ... ROWS ONLY" instead of LIMIT/OFFSET.
	LimitOffset func(limit, offset int) string

	// PreTransaction runs immediately after BEGIN, before any statement
	// executes: mysql/mariadb LOCK TABLES, vertica LOCK TABLE EXCLUSIVE.
	// Nil means no hook is needed for this dialect.
	PreTransaction func(ctx context.Context, c conn.Connection, namespace string) error

	// PostTransaction runs once the transaction has committed or rolled
	// back, on the same underlying connection PreTransaction used, before
	// that connection returns to the pool: mysql/mariadb's matching
	// UNLOCK TABLES. Runs unconditionally (success or failure) and its own
	// error is logged, never escalated, over the primary result. Nil means
	// PreTransaction's lock releases on its own (vertica's table lock is
	// transaction-scoped; pg/cockroach take no lock at all).
	PostTransaction func(ctx context.Context, c conn.Connection) error

	// Upgrade migrates a registry found at fromVersion to RegistryVersion.
	// Returning an error (including "no migration known") causes
	// registry.Ensure to refuse to operate rather than proceed against a
	// schema it does not understand.
	Upgrade func(ctx context.Context, c conn.Connection, namespace, fromVersion string) error
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*Dialect{}
)

// Register installs d under its own Tag. Called once per dialect file's
// init(); a second registration for the same tag overwrites the first,
// which only ever happens in tests.
func Register(d *Dialect) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Tag] = d
}

// Lookup returns the Dialect registered for tag, or an *engerr.EngineError
// if no dialect file registered that tag.
func Lookup(tag string) (*Dialect, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[tag]
	if !ok {
		return nil, engerr.NewEngineError("no dialect registered for engine tag " + tag)
	}
	return d, nil
}

// SupportedTags lists every currently registered engine tag in map
// iteration order, which is unspecified and may differ between calls.
func SupportedTags() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	tags := make([]string, 0, len(registry))
	for tag := range registry {
		tags = append(tags, tag)
	}
	return tags
}
