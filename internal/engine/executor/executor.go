// Package executor runs a single change's deploy, revert, or verify
// script against a target, bracketing deploy/revert in a transaction and
// recording the resulting registry rows.
package executor

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/vitaliisemenov/deployctl/internal/engine/conn"
	"github.com/vitaliisemenov/deployctl/internal/engine/dialect"
	"github.com/vitaliisemenov/deployctl/internal/engine/engerr"
	"github.com/vitaliisemenov/deployctl/internal/engine/fingerprint"
	"github.com/vitaliisemenov/deployctl/internal/engine/guard"
	"github.com/vitaliisemenov/deployctl/internal/engine/metrics"
	"github.com/vitaliisemenov/deployctl/internal/engine/recorder"
	"github.com/vitaliisemenov/deployctl/internal/engine/registry"
	"github.com/vitaliisemenov/deployctl/internal/engine/splitter"
	"github.com/vitaliisemenov/deployctl/internal/engine/substitute"
	"github.com/vitaliisemenov/deployctl/internal/engine/txscope"
	"github.com/vitaliisemenov/deployctl/internal/identity"
	"github.com/vitaliisemenov/deployctl/internal/plan"
	"github.com/vitaliisemenov/deployctl/internal/target"
)

// Executor runs plan changes against one open target connection pool.
type Executor struct {
	DB       *sql.DB
	Dialect  *dialect.Dialect
	Target   *target.Target
	Plan     *plan.Plan
	Registry *registry.Registry
	Recorder *recorder.Recorder
	FPCache  *fingerprint.Cache
	Vars     map[string]string
	Who      identity.Identity
	Log      *slog.Logger
	Metrics  *metrics.Recorder

	// Guard, if set, cross-host advisory-locks this target's name before
	// Deploy/Revert and releases it when the run finishes. Nil means rely
	// solely on the per-dialect DB-native lock in Dialect.PreTransaction.
	Guard *guard.Distributed
}

// New builds an Executor with a fresh registry memo, recorder dependency
// cache, and fingerprint cache. db is expected already open and ping'd —
// dialect.Open is the caller's responsibility (see cmd/deployctl).
func New(db *sql.DB, d *dialect.Dialect, tg *target.Target, pl *plan.Plan, vars map[string]string, who identity.Identity, log *slog.Logger, m *metrics.Recorder) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		DB:       db,
		Dialect:  d,
		Target:   tg,
		Plan:     pl,
		Registry: registry.New(),
		Recorder: recorder.New(),
		FPCache:  fingerprint.NewCache(),
		Vars:     vars,
		Who:      who,
		Log:      log,
		Metrics:  m,
	}
}

func (e *Executor) scriptPaths(ch *plan.Change) fingerprint.ScriptPaths {
	deploy, revert, verify := plan.ScriptPaths(e.Target.DeployDir, e.Target.RevertDir, e.Target.VerifyDir, ch)
	return fingerprint.ScriptPaths{Deploy: deploy, Revert: revert, Verify: verify}
}

// Deploy runs ch's deploy script (if any) and records the deploy inside one
// transaction, recording a "fail" event on a side connection if anything in
// that transaction fails.
func (e *Executor) Deploy(ctx context.Context, ch *plan.Change) error {
	release, err := e.acquireGuard(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := e.Registry.Ensure(ctx, e.DB, e.Dialect, e.Target, e.Plan, e.Who); err != nil {
		return err
	}

	paths := e.scriptPaths(ch)
	hash, err := e.FPCache.Of(paths)
	if err != nil {
		return engerr.NewDeploymentError("deploy", ch.Name, e.Dialect.Tag).WithSQLFile(paths.Deploy).WithCause(err)
	}

	runErr := txscope.Run(ctx, e.DB, e.Dialect.Tag, e.Dialect.ParamStyle, e.preTransactionHook(), e.postTransactionHook(), func(c conn.Connection) error {
		if paths.Deploy != "" {
			if err := e.runScript(ctx, c, paths.Deploy, "deploy", ch.Name); err != nil {
				return err
			}
		}
		return e.Recorder.RecordDeploy(ctx, c, e.Dialect, e.Target, e.Plan, ch, hash)
	})

	if runErr != nil {
		e.recordFailSafely(ctx, ch, runErr)
		if e.Metrics != nil {
			e.Metrics.DeployFailed(e.Dialect.Tag)
		}
		return runErr
	}

	e.Log.Info("deployed change", "change", ch.Name, "engine", e.Dialect.Tag, "target", e.Target.Name)
	if e.Metrics != nil {
		e.Metrics.DeploySucceeded(e.Dialect.Tag)
	}
	return nil
}

// Revert runs ch's revert script (if any) and removes its registry rows
// inside one transaction.
func (e *Executor) Revert(ctx context.Context, ch *plan.Change) error {
	release, err := e.acquireGuard(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := e.Registry.Ensure(ctx, e.DB, e.Dialect, e.Target, e.Plan, e.Who); err != nil {
		return err
	}

	paths := e.scriptPaths(ch)

	runErr := txscope.Run(ctx, e.DB, e.Dialect.Tag, e.Dialect.ParamStyle, e.preTransactionHook(), e.postTransactionHook(), func(c conn.Connection) error {
		if paths.Revert != "" {
			if err := e.runScript(ctx, c, paths.Revert, "revert", ch.Name); err != nil {
				return err
			}
		}
		return e.Recorder.RecordRevert(ctx, c, e.Dialect, e.Target, e.Plan, ch)
	})

	if runErr != nil {
		e.recordFailSafely(ctx, ch, runErr)
		if e.Metrics != nil {
			e.Metrics.RevertFailed(e.Dialect.Tag)
		}
		return runErr
	}

	e.Log.Info("reverted change", "change", ch.Name, "engine", e.Dialect.Tag, "target", e.Target.Name)
	if e.Metrics != nil {
		e.Metrics.RevertSucceeded(e.Dialect.Tag)
	}
	return nil
}

// Verify runs ch's verify script, if one exists, on a non-transactional
// connection and reports whether it succeeded. It never returns an error —
// any failure (missing file aside, which is simply "no verify script" and
// trivially true) is logged and folded into a false result, matching
// sqitch's verify semantics.
func (e *Executor) Verify(ctx context.Context, ch *plan.Change) bool {
	paths := e.scriptPaths(ch)
	if paths.Verify == "" {
		return true
	}

	c := conn.NewDBConnection(e.Dialect.Tag, e.Dialect.ParamStyle, e.DB)
	if err := e.runScript(ctx, c, paths.Verify, "verify", ch.Name); err != nil {
		e.Log.Warn("verify failed", "change", ch.Name, "engine", e.Dialect.Tag, "error", err)
		if e.Metrics != nil {
			e.Metrics.VerifyFailed(e.Dialect.Tag)
		}
		return false
	}
	if e.Metrics != nil {
		e.Metrics.VerifySucceeded(e.Dialect.Tag)
	}
	return true
}

func (e *Executor) runScript(ctx context.Context, c conn.Connection, path, operation, changeName string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return engerr.NewDeploymentError(operation, changeName, e.Dialect.Tag).WithSQLFile(path).WithCause(err)
	}

	vars := make(map[string]string, len(e.Vars)+1)
	for k, v := range e.Vars {
		vars[k] = v
	}
	vars[substitute.ReservedRegistry] = e.Target.RegistryNamespace

	script := substitute.Apply(string(raw), vars, e.Dialect.SubstituteStyle)
	for _, stmt := range splitter.Split(script, e.Dialect.SplitPolicy) {
		if err := c.Execute(ctx, stmt, nil); err != nil {
			return engerr.NewDeploymentError(operation, changeName, e.Dialect.Tag).WithSQLFile(path).WithCause(err)
		}
	}
	return nil
}

// acquireGuard takes e.Guard, if configured, before a deploy/revert run and
// returns a release func safe to defer unconditionally. A target already
// locked by a concurrent run fails fast with an EngineError rather than
// blocking on the DB-native lock, which is the point of running both.
func (e *Executor) acquireGuard(ctx context.Context) (func(), error) {
	if e.Guard == nil {
		return func() {}, nil
	}
	ok, err := e.Guard.Acquire(ctx)
	if err != nil {
		return func() {}, engerr.NewEngineError("acquiring distributed guard for target " + e.Target.Name).WithCause(err)
	}
	if !ok {
		return func() {}, engerr.NewEngineError("target " + e.Target.Name + " is locked by a concurrent deployment run")
	}
	return func() {
		if err := e.Guard.Release(ctx); err != nil {
			e.Log.Debug("failed to release distributed guard", "target", e.Target.Name, "error", err)
		}
	}, nil
}

// preTransactionHook adapts Dialect.PreTransaction (which takes a registry
// namespace) into the namespace-free txscope.Hook signature, binding this
// executor's target namespace once.
func (e *Executor) preTransactionHook() txscope.Hook {
	if e.Dialect.PreTransaction == nil {
		return nil
	}
	return func(ctx context.Context, c conn.Connection) error {
		return e.Dialect.PreTransaction(ctx, c, e.Target.RegistryNamespace)
	}
}

// postTransactionHook adapts Dialect.PostTransaction, if set, into the
// txscope.PostHook signature — the dialect's release of whatever
// preTransactionHook acquired.
func (e *Executor) postTransactionHook() txscope.PostHook {
	if e.Dialect.PostTransaction == nil {
		return nil
	}
	return e.Dialect.PostTransaction
}

// recordFailSafely appends a "fail" event on a side connection against
// e.DB, outside the transaction that just rolled back. A failure here is
// logged, never escalated — the caller already has the primary error to
// report, and a missing fail-event row is not worth masking it.
func (e *Executor) recordFailSafely(ctx context.Context, ch *plan.Change, cause error) {
	c := conn.NewDBConnection(e.Dialect.Tag, e.Dialect.ParamStyle, e.DB)
	if err := e.Recorder.RecordFail(ctx, c, e.Dialect, e.Target, e.Plan, ch, cause); err != nil {
		e.Log.Debug("failed to record fail event", "change", ch.Name, "error", err)
	}
}
