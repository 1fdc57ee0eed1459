package dialect

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vitaliisemenov/deployctl/internal/engine/conn"
	"github.com/vitaliisemenov/deployctl/internal/engine/splitter"
	"github.com/vitaliisemenov/deployctl/internal/engine/substitute"
)

// The example pack also carries modernc.org/sqlite (a pure-Go, cgo-free
// driver). One sqlite driver is enough for one engine-tag slot; this
// module keeps mattn/go-sqlite3 because it's the driver the teacher's own
// internal/storage/sqlite package already exercised.

func init() {
	Register(&Dialect{
		Tag:             "sqlite",
		ParamStyle:      conn.Question,
		SplitPolicy:     splitter.Generic,
		SubstituteStyle: substitute.Colon,

		Open: func(ctx context.Context, driverURI string) (*sql.DB, error) {
			return openWithRetry(ctx, "sqlite3", driverURI)
		},

		RegistryDDL: func(namespace string) []string {
			return genericRegistryDDL(namespace, registryTypes{
				text:      "TEXT",
				real:      "REAL",
				timestamp: "TEXT",
				table:     underscorePrefixed,
			})
		},

		TableName: underscorePrefixed,

		// sqlite has no native regular-expression operator; the closest
		// portable equivalent without a loadable extension is a GLOB/LIKE
		// fallback, which only supports a strict subset of regex syntax.
		RegexCondition: func(column, paramName string) string {
			return fmt.Sprintf("%s LIKE :%s", column, paramName)
		},

		LimitOffset: func(limit, offset int) string {
			return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
		},

		Upgrade: refuseUnknownUpgrade,
	})
}
