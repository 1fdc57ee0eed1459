// Package registry bootstraps and version-checks the six sqitch registry
// tables (C6/C7): ensure_registry from sqlitch's Engine base class,
// translated into an idempotent Go entry point called before every
// deploy/revert/verify operation.
package registry

import (
	"context"
	"database/sql"
	"strconv"
	"sync/atomic"

	"github.com/vitaliisemenov/deployctl/internal/engine/conn"
	"github.com/vitaliisemenov/deployctl/internal/engine/dialect"
	"github.com/vitaliisemenov/deployctl/internal/engine/engerr"
	"github.com/vitaliisemenov/deployctl/internal/identity"
	"github.com/vitaliisemenov/deployctl/internal/plan"
	"github.com/vitaliisemenov/deployctl/internal/target"
)

// Registry remembers, for the lifetime of one *Registry value (normally
// one per engine/target pair for one process run), whether its tables
// have already been confirmed present — avoiding a round trip to the
// database on every subsequent call within the same run.
type Registry struct {
	exists atomic.Bool
}

// New returns a Registry with no cached existence state.
func New() *Registry { return &Registry{} }

// Ensure makes sure namespace's six registry tables exist in db, creating
// them (and seeding a projects row and the current release row) if this
// is the first deploy against this target, or checking the existing
// release version against dialect.RegistryVersion otherwise. A mismatched
// version with no concrete migration registered in d.Upgrade causes this
// to return an *engerr.EngineError rather than proceeding.
func (r *Registry) Ensure(ctx context.Context, db *sql.DB, d *dialect.Dialect, tg *target.Target, pl *plan.Plan, who identity.Identity) error {
	if r.exists.Load() {
		return nil
	}

	c := conn.NewDBConnection(d.Tag, d.ParamStyle, db)

	exists, err := r.existsInDB(ctx, c, d, tg.RegistryNamespace)
	if err != nil {
		return err
	}

	if !exists {
		if err := r.create(ctx, db, d, tg, pl, who); err != nil {
			return err
		}
		r.exists.Store(true)
		return nil
	}

	if err := r.checkVersion(ctx, c, d, tg.RegistryNamespace); err != nil {
		return err
	}

	r.exists.Store(true)
	return nil
}

func (r *Registry) existsInDB(ctx context.Context, c conn.Connection, d *dialect.Dialect, namespace string) (bool, error) {
	_, err := c.FetchOne(ctx, "SELECT COUNT(*) AS n FROM "+d.TableName(namespace, "projects"), nil)
	if err != nil {
		// A missing table surfaces as a driver/SQL error, not a distinct
		// "table not found" type this module tracks — absence is the
		// overwhelmingly common cause, so treat any query failure here as
		// "not bootstrapped yet" and let creation's own errors surface if
		// something else is actually wrong.
		return false, nil
	}
	return true, nil
}

func (r *Registry) create(ctx context.Context, db *sql.DB, d *dialect.Dialect, tg *target.Target, pl *plan.Plan, who identity.Identity) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return engerr.NewConnectionError(d.Tag, "begin", err.Error())
	}

	c := conn.NewTxConnection(d.Tag, d.ParamStyle, tx)

	for _, stmt := range d.RegistryDDL(tg.RegistryNamespace) {
		if err := c.Execute(ctx, stmt, nil); err != nil {
			tx.Rollback()
			return engerr.NewEngineError("creating registry schema").WithCause(err)
		}
	}

	insertProject := "INSERT INTO " + d.TableName(tg.RegistryNamespace, "projects") +
		" (project, uri, created_at, creator_name, creator_email) VALUES (:project, :uri, CURRENT_TIMESTAMP, :creator_name, :creator_email)"
	if err := c.Execute(ctx, insertProject, map[string]any{
		"project":       pl.ProjectName,
		"uri":           tg.URI,
		"creator_name":  pl.CreatorName,
		"creator_email": pl.CreatorEmail,
	}); err != nil {
		tx.Rollback()
		return engerr.NewEngineError("recording project row").WithCause(err)
	}

	insertRelease := "INSERT INTO " + d.TableName(tg.RegistryNamespace, "releases") +
		" (version, installed_at, installer_name, installer_email) VALUES (:version, CURRENT_TIMESTAMP, :installer_name, :installer_email)"
	if err := c.Execute(ctx, insertRelease, map[string]any{
		"version":         dialect.RegistryVersion,
		"installer_name":  who.Name,
		"installer_email": who.Email,
	}); err != nil {
		tx.Rollback()
		return engerr.NewEngineError("recording release row").WithCause(err)
	}

	if err := tx.Commit(); err != nil {
		return engerr.NewConnectionError(d.Tag, "commit", err.Error())
	}
	return nil
}

func (r *Registry) checkVersion(ctx context.Context, c conn.Connection, d *dialect.Dialect, namespace string) error {
	row, err := c.FetchOne(ctx, "SELECT version FROM "+d.TableName(namespace, "releases")+" ORDER BY version DESC "+d.LimitOffset(1, 0), nil)
	if err != nil {
		return engerr.NewEngineError("reading registry release version").WithCause(err)
	}
	if row == nil {
		return engerr.NewEngineError("registry has no release row recorded")
	}

	var version string
	switch v := row["version"].(type) {
	case string:
		version = v
	case float64:
		version = strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		version = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	if version == dialect.RegistryVersion {
		return nil
	}

	return d.Upgrade(ctx, c, namespace, version)
}

