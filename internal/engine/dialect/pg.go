package dialect

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vitaliisemenov/deployctl/internal/engine/conn"
	"github.com/vitaliisemenov/deployctl/internal/engine/splitter"
	"github.com/vitaliisemenov/deployctl/internal/engine/substitute"
)

func init() {
	Register(newPostgresLike("pg"))
	Register(newPostgresLike("cockroach"))
}

// newPostgresLike builds the Dialect shared by pg and cockroach: both
// speak the PostgreSQL wire protocol through pgx/v5/stdlib, so connection
// opening and the regex operator are identical. Neither needs a
// PreTransaction hook: a plain row-level write lock from the registry's
// own primary key/unique constraints is enough to prevent double-recording
// inside the surrounding transaction, without the session-level LOCK
// TABLE dance mysql and vertica require.
func newPostgresLike(tag string) *Dialect {
	d := &Dialect{
		Tag:             tag,
		ParamStyle:      conn.Dollar,
		SplitPolicy:     splitter.Generic,
		SubstituteStyle: substitute.Colon,

		Open: func(ctx context.Context, driverURI string) (*sql.DB, error) {
			return openWithRetry(ctx, "pgx", driverURI)
		},

		RegistryDDL: func(namespace string) []string {
			return genericRegistryDDL(namespace, registryTypes{
				text:      "TEXT",
				real:      "REAL",
				timestamp: "TIMESTAMPTZ",
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

		Upgrade: refuseUnknownUpgrade,
	}

	return d
}
