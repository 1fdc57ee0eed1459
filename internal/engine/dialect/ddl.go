package dialect

import "fmt"

// schemaQualified renders "namespace.table" — the naming scheme used by
// dialects that support CREATE SCHEMA (pg, cockroach, snowflake, vertica,
// exasol).
func schemaQualified(namespace, table string) string { return namespace + "." + table }

// underscorePrefixed renders "namespace_table" — the naming scheme used by
// dialects with no schema/namespace object of their own (mysql, sqlite,
// oracle, firebird), where the registry namespace is just a table-name
// prefix.
func underscorePrefixed(namespace, table string) string { return namespace + "_" + table }

// registryTypes names the column types that differ across the SQL
// dialects sharing the genericRegistryDDL template: pg/cockroach, mysql,
// sqlite and the driverless dialects all use the same six-table shape (grounded on
// PostgreSQLRegistrySchema.get_create_statements) but spell TEXT/REAL/
// TIMESTAMP differently.
type registryTypes struct {
	text      string
	real      string
	timestamp string
	// createSchema renders the statement creating namespace, or nil/"" when
	// the dialect has no schema object to create
	createSchema func(namespace string) string
	table        func(namespace, name string) string
}

// genericRegistryDDL renders the six sqitch registry tables — projects,
// releases, changes, tags, dependencies, events — against t's type names.
// Every registered dialect shares this template: pg, cockroach, mysql and
// sqlite, and also the driverless dialects, whose DDL can be inspected even
// though they have no connection to apply it to.
func genericRegistryDDL(namespace string, t registryTypes) []string {
	tbl := func(name string) string { return t.table(namespace, name) }

	var stmts []string
	if t.createSchema != nil {
		if s := t.createSchema(namespace); s != "" {
			stmts = append(stmts, s)
		}
	}

	stmts = append(stmts,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    project     %s PRIMARY KEY,
    uri         %s,
    created_at  %s NOT NULL,
    creator_name  %s NOT NULL,
    creator_email %s NOT NULL
)`, tbl("projects"), t.text, t.text, t.timestamp, t.text, t.text),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    version        %s PRIMARY KEY,
    installed_at   %s NOT NULL,
    installer_name %s NOT NULL,
    installer_email %s NOT NULL
)`, tbl("releases"), t.real, t.timestamp, t.text, t.text),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    change_id      %s PRIMARY KEY,
    script_hash    %s,
    change         %s NOT NULL,
    project        %s NOT NULL,
    note           %s NOT NULL DEFAULT '',
    committed_at   %s NOT NULL,
    committer_name %s NOT NULL,
    committer_email %s NOT NULL,
    planned_at     %s NOT NULL,
    planner_name   %s NOT NULL,
    planner_email  %s NOT NULL
)`, tbl("changes"), t.text, t.text, t.text, t.text, t.text, t.timestamp, t.text, t.text, t.timestamp, t.text, t.text),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    tag_id     %s PRIMARY KEY,
    tag        %s NOT NULL,
    project    %s NOT NULL,
    change_id  %s NOT NULL REFERENCES %s(change_id),
    note       %s NOT NULL DEFAULT '',
    committed_at %s NOT NULL,
    committer_name %s NOT NULL,
    committer_email %s NOT NULL,
    planned_at %s NOT NULL,
    planner_name %s NOT NULL,
    planner_email %s NOT NULL,
    UNIQUE (project, tag)
)`, tbl("tags"), t.text, t.text, t.text, t.text, tbl("changes"), t.text, t.timestamp, t.text, t.text, t.timestamp, t.text, t.text),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    change_id      %s NOT NULL REFERENCES %s(change_id) ON DELETE CASCADE,
    type           %s NOT NULL,
    dependency     %s NOT NULL,
    dependency_id  %s,
    PRIMARY KEY (change_id, dependency)
)`, tbl("dependencies"), t.text, tbl("changes"), t.text, t.text, t.text),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    change_id      %s NOT NULL,
    event          %s NOT NULL CHECK (event IN ('deploy', 'revert', 'fail', 'merge')),
    change         %s NOT NULL,
    project        %s NOT NULL,
    note           %s NOT NULL DEFAULT '',
    requires       %s NOT NULL DEFAULT '',
    conflicts      %s NOT NULL DEFAULT '',
    tags           %s NOT NULL DEFAULT '',
    committed_at   %s NOT NULL,
    committer_name %s NOT NULL,
    committer_email %s NOT NULL,
    planned_at     %s NOT NULL,
    planner_name   %s NOT NULL,
    planner_email  %s NOT NULL,
    PRIMARY KEY (change_id, committed_at)
)`, tbl("events"), t.text, t.text, t.text, t.text, t.text, t.text, t.text, t.text, t.timestamp, t.text, t.text, t.timestamp, t.text, t.text),
	)

	return stmts
}
