package dialect

import (
	"context"
	"database/sql"

	"github.com/cenkalti/backoff/v4"

	"github.com/vitaliisemenov/deployctl/internal/engine/engerr"
)

// openWithRetry opens driverName/dsn and pings it, retrying transient
// connection failures (a database still coming up, a brief network blip)
// with exponential backoff. Four attempts (the first plus three retries)
// bound how long a deploy/revert invocation will wait before surfacing a
// ConnectionError, matching the teacher's own RetryExecutor default of
// three retries.
func openWithRetry(ctx context.Context, driverName, dsn string) (*sql.DB, error) {
	var db *sql.DB

	operation := func() error {
		d, err := sql.Open(driverName, dsn)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := d.PingContext(ctx); err != nil {
			d.Close()
			return err
		}
		db = d
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, engerr.NewConnectionError(driverName, "open", "could not open database").WithCause(err)
	}
	return db, nil
}
