// Package txscope brackets a unit of work in BEGIN/COMMIT/ROLLBACK,
// mirroring sqlitch's Engine.transaction context manager: commit on
// success, rollback and wrap as a DeploymentError on failure, with
// secondary rollback/close errors logged and swallowed rather than
// masking the original failure.
package txscope

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/vitaliisemenov/deployctl/internal/engine/conn"
	"github.com/vitaliisemenov/deployctl/internal/engine/engerr"
)

// Hook runs once immediately after the transaction begins, before fn —
// the dialect's PreTransaction lock acquisition.
type Hook func(ctx context.Context, c conn.Connection) error

// PostHook runs once the transaction has committed or rolled back, on the
// same underlying connection the transaction (and any PreHook) ran on,
// before that connection returns to the pool — the dialect's matching
// lock release. Runs unconditionally; its error is logged, never
// propagated, by the caller.
type PostHook func(ctx context.Context, c conn.Connection) error

// Run acquires a single pooled connection, invokes hook (if non-nil),
// begins a transaction on that same connection, runs fn, and commits if
// both succeed. A hook error is returned as a *engerr.DeploymentError
// before any transaction begins; an error from fn rolls the transaction
// back and is returned as a *engerr.DeploymentError (wrapped in one unless
// it already is one); the original error is
// preserved via Unwrap even when rollback itself fails. postHook, if
// non-nil, always runs afterward on the same connection — e.g. mysql's
// UNLOCK TABLES, which must be issued on the exact session that ran LOCK
// TABLES before that connection is returned to db's pool.
func Run(ctx context.Context, db *sql.DB, engine string, paramStyle conn.ParamStyle, hook Hook, postHook PostHook, fn func(conn.Connection) error) error {
	sc, err := db.Conn(ctx)
	if err != nil {
		return engerr.NewConnectionError(engine, "acquire", err.Error())
	}
	defer sc.Close()

	if hook != nil {
		hookConn := conn.NewConnConnection(engine, paramStyle, sc)
		if err := hook(ctx, hookConn); err != nil {
			return engerr.NewDeploymentError("deploy", "", engine).WithCause(err)
		}
	}

	tx, err := sc.BeginTx(ctx, nil)
	if err != nil {
		return engerr.NewConnectionError(engine, "begin", err.Error())
	}

	c := conn.NewTxConnection(engine, paramStyle, tx)
	runErr := func() error {
		if err := fn(c); err != nil {
			rollback(ctx, c)
			var de *engerr.DeploymentError
			if !errors.As(err, &de) {
				err = engerr.NewDeploymentError("deploy", "", engine).WithCause(err)
			}
			return err
		}
		return c.Commit(ctx)
	}()

	if postHook != nil {
		postConn := conn.NewConnConnection(engine, paramStyle, sc)
		if err := postHook(ctx, postConn); err != nil {
			slog.Default().Debug("post-transaction hook failed", "engine", engine, "error", err)
		}
	}

	return runErr
}

// rollback rolls the transaction back, logging (at debug, never
// propagating) any secondary error — the caller already has the primary
// failure to report.
func rollback(ctx context.Context, c conn.Connection) {
	if err := c.Rollback(ctx); err != nil {
		slog.Default().Debug("rollback failed after primary error", "error", err)
	}
}
