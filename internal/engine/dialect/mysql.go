package dialect

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/vitaliisemenov/deployctl/internal/engine/conn"
	"github.com/vitaliisemenov/deployctl/internal/engine/splitter"
	"github.com/vitaliisemenov/deployctl/internal/engine/substitute"
)

func init() {
	Register(newMySQLLike("mysql"))
	Register(newMySQLLike("mariadb"))
}

// registryTables is the ordered table list locked/unlocked as a unit by
// mysql's PreTransaction hook, since MySQL's LOCK TABLES statement must
// name every table a transaction touches up front.
var registryTables = []string{"projects", "releases", "changes", "tags", "dependencies", "events"}

func newMySQLLike(tag string) *Dialect {
	return &Dialect{
		Tag:             tag,
		ParamStyle:      conn.Question,
		SplitPolicy:     splitter.MySQL,
		SubstituteStyle: substitute.Colon,

		Open: func(ctx context.Context, driverURI string) (*sql.DB, error) {
			return openWithRetry(ctx, "mysql", driverURI)
		},

		RegistryDDL: func(namespace string) []string {
			return genericRegistryDDL(namespace, registryTypes{
				text:      "VARCHAR(255)",
				real:      "FLOAT",
				timestamp: "DATETIME",
				table:     underscorePrefixed,
			})
		},

		TableName: underscorePrefixed,

		RegexCondition: func(column, paramName string) string {
			return fmt.Sprintf("%s REGEXP :%s", column, paramName)
		},

		LimitOffset: func(limit, offset int) string {
			return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
		},

		PreTransaction: func(ctx context.Context, c conn.Connection, namespace string) error {
			var clauses string
			for i, name := range registryTables {
				if i > 0 {
					clauses += ", "
				}
				clauses += namespace + "_" + name + " WRITE"
			}
			return c.Execute(ctx, "LOCK TABLES "+clauses, nil)
		},

		PostTransaction: func(ctx context.Context, c conn.Connection) error {
			return c.Execute(ctx, "UNLOCK TABLES", nil)
		},

		Upgrade: refuseUnknownUpgrade,
	}
}
