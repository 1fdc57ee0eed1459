package txscope

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/deployctl/internal/engine/conn"
)

func openMemDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec("CREATE TABLE widgets (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	return db
}

func TestRun_CommitsOnSuccess(t *testing.T) {
	db := openMemDB(t)

	err := Run(context.Background(), db, "sqlite", conn.Question, nil, nil, func(c conn.Connection) error {
		return c.Execute(context.Background(), "INSERT INTO widgets (id) VALUES (1)", nil)
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM widgets").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRun_RollsBackOnFailure(t *testing.T) {
	db := openMemDB(t)

	err := Run(context.Background(), db, "sqlite", conn.Question, nil, nil, func(c conn.Connection) error {
		if err := c.Execute(context.Background(), "INSERT INTO widgets (id) VALUES (1)", nil); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM widgets").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestRun_HookFailureRollsBackAndWraps(t *testing.T) {
	db := openMemDB(t)

	called := false
	err := Run(context.Background(), db, "sqlite", conn.Question,
		func(ctx context.Context, c conn.Connection) error { return errors.New("lock failed") },
		nil,
		func(c conn.Connection) error {
			called = true
			return nil
		})

	require.Error(t, err)
	assert.False(t, called)
}

func TestRun_HookRunsBeforeFn(t *testing.T) {
	db := openMemDB(t)

	var order []string
	err := Run(context.Background(), db, "sqlite", conn.Question,
		func(ctx context.Context, c conn.Connection) error {
			order = append(order, "hook")
			return nil
		},
		nil,
		func(c conn.Connection) error {
			order = append(order, "fn")
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"hook", "fn"}, order)
}

func TestRun_PostHookRunsAfterCommit(t *testing.T) {
	db := openMemDB(t)

	var order []string
	err := Run(context.Background(), db, "sqlite", conn.Question, nil,
		func(ctx context.Context, c conn.Connection) error {
			order = append(order, "post")
			return nil
		},
		func(c conn.Connection) error {
			order = append(order, "fn")
			return c.Execute(context.Background(), "INSERT INTO widgets (id) VALUES (1)", nil)
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"fn", "post"}, order)
}

func TestRun_PostHookRunsAfterRollbackAndDoesNotMaskPrimaryError(t *testing.T) {
	db := openMemDB(t)

	postCalled := false
	err := Run(context.Background(), db, "sqlite", conn.Question, nil,
		func(ctx context.Context, c conn.Connection) error {
			postCalled = true
			return errors.New("unlock failed")
		},
		func(c conn.Connection) error {
			return errors.New("boom")
		})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.True(t, postCalled)
}
