// This file registers the five engine tags for which no Go database/sql
// driver exists anywhere in the example corpus this module was built
// from: oracle, snowflake, vertica, exasol, firebird. Per the "never
// fabricate a dependency" constraint, none of these get a real Open —
// instead Open fails with a ConnectionError naming the missing driver,
// while every other piece of dialect metadata (DDL shape, regex operator,
// splitter/substitute policy, locking hook) is fully implemented and
// testable on its own, since dialect.Lookup and the pure-logic paths
// (fingerprint, splitter, substitute, DDL rendering) don't need a live
// connection to exercise.
package dialect

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vitaliisemenov/deployctl/internal/engine/conn"
	"github.com/vitaliisemenov/deployctl/internal/engine/engerr"
	"github.com/vitaliisemenov/deployctl/internal/engine/splitter"
	"github.com/vitaliisemenov/deployctl/internal/engine/substitute"
)

func init() {
	Register(oracleDialect())
	Register(snowflakeDialect())
	Register(verticaDialect())
	Register(exasolDialect())
	Register(firebirdDialect())
}

func noDriver(tag, driverName string) func(ctx context.Context, driverURI string) (*sql.DB, error) {
	return func(ctx context.Context, driverURI string) (*sql.DB, error) {
		return nil, engerr.NewConnectionError(tag, "open",
			fmt.Sprintf("no Go database/sql driver for %s is available; %s is required but not vendored", tag, driverName))
	}
}

func oracleDialect() *Dialect {
	return &Dialect{
		Tag:             "oracle",
		ParamStyle:      conn.Question,
		SplitPolicy:     splitter.Oracle,
		SubstituteStyle: substitute.Ampersand,
		Open:            noDriver("oracle", "a driver such as godror (requires Oracle Instant Client, cgo)"),
		RegistryDDL: func(namespace string) []string {
			return genericRegistryDDL(namespace, registryTypes{
				text:      "VARCHAR2(255)",
				real:      "NUMBER",
				timestamp: "TIMESTAMP",
				table:     underscorePrefixed,
			})
		},
		TableName: underscorePrefixed,
		RegexCondition: func(column, paramName string) string {
			return fmt.Sprintf("REGEXP_LIKE(%s, :%s)", column, paramName)
		},
		LimitOffset: func(limit, offset int) string {
			return fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
		},
		Upgrade: refuseUnknownUpgrade,
	}
}

func snowflakeDialect() *Dialect {
	return &Dialect{
		Tag:             "snowflake",
		ParamStyle:      conn.Question,
		SplitPolicy:     splitter.Generic,
		SubstituteStyle: substitute.Ampersand,
		Open:            noDriver("snowflake", "gosnowflake"),
		RegistryDDL: func(namespace string) []string {
			return genericRegistryDDL(namespace, registryTypes{
				text:      "VARCHAR(255)",
				real:      "FLOAT",
				timestamp: "TIMESTAMP_NTZ",
				createSchema: func(ns string) string {
					return fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", ns)
				},
				table: schemaQualified,
			})
		},
		TableName: schemaQualified,
		RegexCondition: func(column, paramName string) string {
			return fmt.Sprintf("REGEXP_SUBSTR(%s, :%s) IS NOT NULL", column, paramName)
		},
		LimitOffset: func(limit, offset int) string {
			return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
		},
		Upgrade: refuseUnknownUpgrade,
	}
}

func verticaDialect() *Dialect {
	return &Dialect{
		Tag:             "vertica",
		ParamStyle:      conn.Question,
		SplitPolicy:     splitter.Generic,
		SubstituteStyle: substitute.Ampersand,
		Open:            noDriver("vertica", "vertica-sql-go"),
		RegistryDDL: func(namespace string) []string {
			return genericRegistryDDL(namespace, registryTypes{
				text:      "VARCHAR(255)",
				real:      "FLOAT",
				timestamp: "TIMESTAMP",
				createSchema: func(ns string) string {
					return fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", ns)
				},
				table: schemaQualified,
			})
		},
		TableName: schemaQualified,
		RegexCondition: func(column, paramName string) string {
			return fmt.Sprintf("%s ~ :%s", column, paramName)
		},
		LimitOffset: func(limit, offset int) string {
			return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
		},
		PreTransaction: func(ctx context.Context, c conn.Connection, namespace string) error {
			return c.Execute(ctx, fmt.Sprintf("LOCK TABLE %s.changes IN EXCLUSIVE MODE", namespace), nil)
		},
		Upgrade: refuseUnknownUpgrade,
	}
}

func exasolDialect() *Dialect {
	return &Dialect{
		Tag:             "exasol",
		ParamStyle:      conn.Question,
		SplitPolicy:     splitter.Generic,
		SubstituteStyle: substitute.Colon,
		Open:            noDriver("exasol", "go-exasol-client"),
		RegistryDDL: func(namespace string) []string {
			return genericRegistryDDL(namespace, registryTypes{
				text:      "VARCHAR(255)",
				real:      "DOUBLE",
				timestamp: "TIMESTAMP",
				createSchema: func(ns string) string {
					return fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", ns)
				},
				table: schemaQualified,
			})
		},
		TableName: schemaQualified,
		RegexCondition: func(column, paramName string) string {
			return fmt.Sprintf("%s REGEXP_LIKE :%s", column, paramName)
		},
		LimitOffset: func(limit, offset int) string {
			return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
		},
		Upgrade: refuseUnknownUpgrade,
	}
}

func firebirdDialect() *Dialect {
	return &Dialect{
		Tag:             "firebird",
		ParamStyle:      conn.Question,
		SplitPolicy:     splitter.Generic,
		SubstituteStyle: substitute.Colon,
		Open:            noDriver("firebird", "firebirdsql"),
		RegistryDDL: func(namespace string) []string {
			return genericRegistryDDL(namespace, registryTypes{
				text:      "VARCHAR(255)",
				real:      "DOUBLE PRECISION",
				timestamp: "TIMESTAMP",
				table:     underscorePrefixed,
			})
		},
		TableName: underscorePrefixed,
		RegexCondition: func(column, paramName string) string {
			return fmt.Sprintf("%s SIMILAR TO :%s", column, paramName)
		},
		LimitOffset: func(limit, offset int) string {
			return fmt.Sprintf("ROWS %d TO %d", offset+1, offset+limit)
		},
		Upgrade: refuseUnknownUpgrade,
	}
}
