package registry

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/deployctl/internal/engine/dialect"
	"github.com/vitaliisemenov/deployctl/internal/engine/engerr"
	"github.com/vitaliisemenov/deployctl/internal/identity"
	"github.com/vitaliisemenov/deployctl/internal/plan"
	"github.com/vitaliisemenov/deployctl/internal/target"
)

func openMemDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testTarget(t *testing.T) *target.Target {
	t.Helper()
	tg, err := target.Parse("widgets", "db:sqlite::memory:", "", ".")
	require.NoError(t, err)
	return tg
}

func testPlan(t *testing.T) *plan.Plan {
	t.Helper()
	ch, err := plan.NewChange("widgets", "add_users", "", time.Now(), "Ada Lovelace", "ada@example.com", nil, nil)
	require.NoError(t, err)
	pl, err := plan.New("widgets", "Ada Lovelace", "ada@example.com", []*plan.Change{ch})
	require.NoError(t, err)
	return pl
}

func TestEnsure_CreatesRegistryOnFirstRun(t *testing.T) {
	db := openMemDB(t)
	d, err := dialect.Lookup("sqlite")
	require.NoError(t, err)
	tg := testTarget(t)
	pl := testPlan(t)
	who := identity.Identity{Name: "Ada Lovelace", Email: "ada@example.com"}

	r := New()
	require.NoError(t, r.Ensure(context.Background(), db, d, tg, pl, who))

	var project string
	require.NoError(t, db.QueryRow(
		"SELECT project FROM "+d.TableName(tg.RegistryNamespace, "projects")).Scan(&project))
	assert.Equal(t, "widgets", project)

	var version float64
	require.NoError(t, db.QueryRow(
		"SELECT version FROM "+d.TableName(tg.RegistryNamespace, "releases")).Scan(&version))
	assert.Equal(t, 1.1, version)
}

func TestEnsure_CachesExistenceAfterFirstCall(t *testing.T) {
	db := openMemDB(t)
	d, err := dialect.Lookup("sqlite")
	require.NoError(t, err)
	tg := testTarget(t)
	pl := testPlan(t)
	who := identity.Identity{Name: "Ada Lovelace", Email: "ada@example.com"}

	r := New()
	require.NoError(t, r.Ensure(context.Background(), db, d, tg, pl, who))
	assert.True(t, r.exists.Load())

	// Dropping the projects table after the first Ensure proves the second
	// call never touches the database again: it trusts the cached flag.
	_, err = db.Exec("DROP TABLE " + d.TableName(tg.RegistryNamespace, "projects"))
	require.NoError(t, err)

	require.NoError(t, r.Ensure(context.Background(), db, d, tg, pl, who))
}

func TestEnsure_ReusesExistingRegistryAcrossInstances(t *testing.T) {
	db := openMemDB(t)
	d, err := dialect.Lookup("sqlite")
	require.NoError(t, err)
	tg := testTarget(t)
	pl := testPlan(t)
	who := identity.Identity{Name: "Ada Lovelace", Email: "ada@example.com"}

	require.NoError(t, New().Ensure(context.Background(), db, d, tg, pl, who))

	// A fresh Registry value (as a new process run would create) must
	// detect the already-bootstrapped tables rather than try to recreate
	// them and fail on a duplicate project primary key.
	second := New()
	require.NoError(t, second.Ensure(context.Background(), db, d, tg, pl, who))
	assert.True(t, second.exists.Load())
}

func TestEnsure_RefusesUnknownOlderVersion(t *testing.T) {
	db := openMemDB(t)
	d, err := dialect.Lookup("sqlite")
	require.NoError(t, err)
	tg := testTarget(t)
	pl := testPlan(t)
	who := identity.Identity{Name: "Ada Lovelace", Email: "ada@example.com"}

	require.NoError(t, New().Ensure(context.Background(), db, d, tg, pl, who))

	_, err = db.Exec("UPDATE " + d.TableName(tg.RegistryNamespace, "releases") + " SET version = 0.999")
	require.NoError(t, err)

	err = New().Ensure(context.Background(), db, d, tg, pl, who)
	require.Error(t, err)
	assert.True(t, engerr.IsEngineError(err))
}
