package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/deployctl/internal/engine/conn"
	"github.com/vitaliisemenov/deployctl/internal/engine/dialect"
	"github.com/vitaliisemenov/deployctl/internal/engine/engerr"
	"github.com/vitaliisemenov/deployctl/internal/engine/registry"
	"github.com/vitaliisemenov/deployctl/internal/identity"
	"github.com/vitaliisemenov/deployctl/internal/plan"
	"github.com/vitaliisemenov/deployctl/internal/target"
)

func setupHistoryFixture(t *testing.T) (*sql.DB, conn.Connection, *dialect.Dialect, *target.Target) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	d, err := dialect.Lookup("sqlite")
	require.NoError(t, err)
	tg, err := target.Parse("widgets", "db:sqlite::memory:", "", ".")
	require.NoError(t, err)

	ch, err := plan.NewChange("widgets", "a", "", time.Now(), "Ada", "ada@example.com", nil, nil)
	require.NoError(t, err)
	pl, err := plan.New("widgets", "Ada", "ada@example.com", []*plan.Change{ch})
	require.NoError(t, err)
	who := identity.Identity{Name: "Ada", Email: "ada@example.com"}
	require.NoError(t, registry.New().Ensure(context.Background(), db, d, tg, pl, who))

	c := conn.NewDBConnection(d.Tag, d.ParamStyle, db)

	eventsTable := d.TableName(tg.RegistryNamespace, "events")
	insert := "INSERT INTO " + eventsTable + ` (
		change_id, event, change, project, note, requires, conflicts, tags,
		committed_at, committer_name, committer_email, planned_at, planner_name, planner_email
	) VALUES (:change_id, :event, :change, :project, :note, :requires, :conflicts, :tags,
		:committed_at, :committer_name, :committer_email, :planned_at, :planner_name, :planner_email)`

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []map[string]any{
		{"change_id": "id-a", "event": "deploy", "change": "a", "requires": "", "conflicts": "", "tags": "", "committed_at": base},
		{"change_id": "id-b", "event": "deploy", "change": "b", "requires": "a", "conflicts": "", "tags": "v1", "committed_at": base.Add(time.Minute)},
		{"change_id": "id-c", "event": "deploy", "change": "c", "requires": "", "conflicts": "", "tags": "", "committed_at": base.Add(2 * time.Minute)},
		{"change_id": "id-c", "event": "revert", "change": "c", "requires": "", "conflicts": "", "tags": "", "committed_at": base.Add(3 * time.Minute)},
	}
	for _, r := range rows {
		params := map[string]any{
			"project":         "widgets",
			"note":            "",
			"committer_name":  "Ada",
			"committer_email": "ada@example.com",
			"planner_name":    "Ada",
			"planner_email":   "ada@example.com",
			"planned_at":      base,
		}
		for k, v := range r {
			params[k] = v
		}
		require.NoError(t, c.Execute(context.Background(), insert, params))
	}

	return db, c, d, tg
}

func TestSearch_FiltersByEventKindAndChangeRegexAscending(t *testing.T) {
	_, c, d, tg := setupHistoryFixture(t)

	var got []Event
	for ev := range Search(context.Background(), c, d, tg, "widgets", Filter{
		EventKinds:  []string{"revert"},
		ChangeRegex: "c",
		Direction:   Asc,
	}) {
		got = append(got, ev)
	}

	require.Len(t, got, 1)
	assert.Equal(t, "revert", got[0].Event)
	assert.Equal(t, "c", got[0].Change)
}

func TestSearch_DefaultsToDescendingOrder(t *testing.T) {
	_, c, d, tg := setupHistoryFixture(t)

	var got []Event
	for ev := range Search(context.Background(), c, d, tg, "widgets", Filter{EventKinds: []string{"deploy"}}) {
		got = append(got, ev)
	}

	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Change)
	assert.Equal(t, "a", got[2].Change)
}

func TestFilter_Validate_RejectsBadDirection(t *testing.T) {
	f := Filter{Direction: "sideways"}
	err := f.Validate()
	require.Error(t, err)
	assert.True(t, engerr.IsEngineError(err))
}

func TestSearch_ParsesRequiresConflictsTagsAsLists(t *testing.T) {
	_, c, d, tg := setupHistoryFixture(t)

	var b Event
	for ev := range Search(context.Background(), c, d, tg, "widgets", Filter{ChangeRegex: "b"}) {
		b = ev
	}
	assert.Equal(t, []string{"a"}, b.Requires)
	assert.Equal(t, []string{"v1"}, b.Tags)
}

func seedChangesRows(t *testing.T, c conn.Connection, d *dialect.Dialect, tg *target.Target) {
	t.Helper()
	table := d.TableName(tg.RegistryNamespace, "changes")
	insert := "INSERT INTO " + table + ` (
		change_id, script_hash, change, project, note,
		committed_at, committer_name, committer_email,
		planned_at, planner_name, planner_email
	) VALUES (:change_id, :script_hash, :change, :project, :note,
		:committed_at, :committer_name, :committer_email,
		:planned_at, :planner_name, :planner_email)`

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"a", "b", "c"} {
		require.NoError(t, c.Execute(context.Background(), insert, map[string]any{
			"change_id":       "id-" + name,
			"script_hash":     "hash-" + name,
			"change":          name,
			"project":         "widgets",
			"note":            "",
			"committed_at":    base.Add(time.Duration(i) * time.Minute),
			"committer_name":  "Ada",
			"committer_email": "ada@example.com",
			"planned_at":      base,
			"planner_name":    "Ada",
			"planner_email":   "ada@example.com",
		}))
	}
}

func TestCurrentState_ReturnsMostRecentlyCommittedChange(t *testing.T) {
	_, c, d, tg := setupHistoryFixture(t)
	seedChangesRows(t, c, d, tg)

	ev, ok, err := CurrentState(context.Background(), c, d, tg, "widgets")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c", ev.Change)
}

func TestCurrentState_NoneWhenNothingDeployed(t *testing.T) {
	_, c, d, tg := setupHistoryFixture(t)

	_, ok, err := CurrentState(context.Background(), c, d, tg, "no-such-project")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCurrentChanges_OrdersByCommittedAtAscending(t *testing.T) {
	_, c, d, tg := setupHistoryFixture(t)
	seedChangesRows(t, c, d, tg)

	var names []string
	for ev := range CurrentChanges(context.Background(), c, d, tg, "widgets") {
		names = append(names, ev.Change)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}
