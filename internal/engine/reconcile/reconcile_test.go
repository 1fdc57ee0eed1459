package reconcile

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/deployctl/internal/engine/conn"
	"github.com/vitaliisemenov/deployctl/internal/engine/dialect"
	"github.com/vitaliisemenov/deployctl/internal/engine/fingerprint"
	"github.com/vitaliisemenov/deployctl/internal/engine/recorder"
	"github.com/vitaliisemenov/deployctl/internal/engine/registry"
	"github.com/vitaliisemenov/deployctl/internal/identity"
	"github.com/vitaliisemenov/deployctl/internal/plan"
	"github.com/vitaliisemenov/deployctl/internal/target"
)

func setupPlanAndTarget(t *testing.T) (*target.Target, *plan.Plan, []*plan.Change) {
	t.Helper()
	top := t.TempDir()
	for _, sub := range []string{"deploy", "revert", "verify"} {
		require.NoError(t, os.MkdirAll(filepath.Join(top, sub), 0o755))
	}
	tg, err := target.Parse("widgets", "db:sqlite::memory:", "", top)
	require.NoError(t, err)

	a, err := plan.NewChange("widgets", "a", "", time.Now(), "Ada", "ada@example.com", nil, nil)
	require.NoError(t, err)
	b, err := plan.NewChange("widgets", "b", "", time.Now().Add(time.Second), "Ada", "ada@example.com",
		[]plan.Dependency{{Type: plan.Require, Change: "a"}}, nil)
	require.NoError(t, err)
	c, err := plan.NewChange("widgets", "c", "", time.Now().Add(2*time.Second), "Ada", "ada@example.com", nil, nil)
	require.NoError(t, err)

	for _, ch := range []*plan.Change{a, b, c} {
		writeScript(t, filepath.Join(top, "deploy"), ch.Name, "-- deploy "+ch.Name)
		writeScript(t, filepath.Join(top, "revert"), ch.Name, "-- revert "+ch.Name)
	}

	pl, err := plan.New("widgets", "Ada", "ada@example.com", []*plan.Change{a, b, c})
	require.NoError(t, err)
	return tg, pl, []*plan.Change{a, b, c}
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".sql"), []byte(body), 0o644))
}

func deployAll(t *testing.T, db *sql.DB, d *dialect.Dialect, tg *target.Target, pl *plan.Plan, changes []*plan.Change) {
	t.Helper()
	ctx := context.Background()
	who := identity.Identity{Name: "Ada", Email: "ada@example.com"}
	require.NoError(t, registry.New().Ensure(ctx, db, d, tg, pl, who))

	fp := fingerprint.NewCache()
	r := recorder.New()
	c := conn.NewDBConnection(d.Tag, d.ParamStyle, db)
	for _, ch := range changes {
		deployPath, revertPath, verifyPath := plan.ScriptPaths(tg.DeployDir, tg.RevertDir, tg.VerifyDir, ch)
		hash, err := fp.Of(fingerprint.ScriptPaths{Deploy: deployPath, Revert: revertPath, Verify: verifyPath})
		require.NoError(t, err)
		require.NoError(t, r.RecordDeploy(ctx, c, d, tg, pl, ch, hash))
	}
}

func TestDeployedIDs_OrderedByCommittedAt(t *testing.T) {
	tg, pl, changes := setupPlanAndTarget(t)
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	d, err := dialect.Lookup("sqlite")
	require.NoError(t, err)

	deployAll(t, db, d, tg, pl, changes)

	c := conn.NewDBConnection(d.Tag, d.ParamStyle, db)
	rows, err := DeployedIDs(context.Background(), c, d, tg, pl, "widgets")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{rows[0].Change, rows[1].Change, rows[2].Change})
}

func TestDeployPlan_SkipsDeployedAndStopsAtToChange(t *testing.T) {
	tg, pl, changes := setupPlanAndTarget(t)
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	d, err := dialect.Lookup("sqlite")
	require.NoError(t, err)

	deployAll(t, db, d, tg, pl, changes[:1]) // only "a" deployed

	c := conn.NewDBConnection(d.Tag, d.ParamStyle, db)
	rows, err := DeployedIDs(context.Background(), c, d, tg, pl, "widgets")
	require.NoError(t, err)

	toDeploy := DeployPlan(pl, rows, "b", ToChange)
	require.Len(t, toDeploy, 1)
	assert.Equal(t, "b", toDeploy[0].Name)

	toDeployAll := DeployPlan(pl, rows, "", All)
	require.Len(t, toDeployAll, 2)
	assert.Equal(t, "b", toDeployAll[0].Name)
	assert.Equal(t, "c", toDeployAll[1].Name)
}

func TestRevertPlan_NewestFirstAndToChangeSuffix(t *testing.T) {
	tg, pl, changes := setupPlanAndTarget(t)
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	d, err := dialect.Lookup("sqlite")
	require.NoError(t, err)

	deployAll(t, db, d, tg, pl, changes)

	c := conn.NewDBConnection(d.Tag, d.ParamStyle, db)
	rows, err := DeployedIDs(context.Background(), c, d, tg, pl, "widgets")
	require.NoError(t, err)

	all, err := RevertPlan(pl, rows, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].Name, all[1].Name, all[2].Name})

	afterA, err := RevertPlan(pl, rows, "a")
	require.NoError(t, err)
	require.Len(t, afterA, 2)
	assert.Equal(t, []string{"c", "b"}, []string{afterA[0].Name, afterA[1].Name})
}

func TestCommonAncestor_NoDivergenceWhenScriptsUnchanged(t *testing.T) {
	tg, pl, changes := setupPlanAndTarget(t)
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	d, err := dialect.Lookup("sqlite")
	require.NoError(t, err)

	deployAll(t, db, d, tg, pl, changes)

	c := conn.NewDBConnection(d.Tag, d.ParamStyle, db)
	rows, err := DeployedIDs(context.Background(), c, d, tg, pl, "widgets")
	require.NoError(t, err)

	div, err := CommonAncestor(rows, pl, tg, fingerprint.NewCache())
	require.NoError(t, err)
	assert.False(t, div.Diverged)
	assert.Equal(t, "c", div.CommonAncestor.Name)
}

func TestCommonAncestor_DetectsMutatedDeployScript(t *testing.T) {
	tg, pl, changes := setupPlanAndTarget(t)
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	d, err := dialect.Lookup("sqlite")
	require.NoError(t, err)

	deployAll(t, db, d, tg, pl, changes)

	writeScript(t, tg.DeployDir, "a", "-- deploy a (mutated)")

	c := conn.NewDBConnection(d.Tag, d.ParamStyle, db)
	rows, err := DeployedIDs(context.Background(), c, d, tg, pl, "widgets")
	require.NoError(t, err)

	div, err := CommonAncestor(rows, pl, tg, fingerprint.NewCache())
	require.NoError(t, err)
	assert.True(t, div.Diverged)
	assert.Equal(t, 0, div.Index)
	assert.Nil(t, div.CommonAncestor)
}
