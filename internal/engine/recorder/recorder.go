// Package recorder writes and unwinds the registry rows one deploy,
// revert, or failed attempt leaves behind: the changes/dependencies/events
// triad described in PostgreSQLRegistrySchema's insert statements.
package recorder

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitaliisemenov/deployctl/internal/engine/conn"
	"github.com/vitaliisemenov/deployctl/internal/engine/dialect"
	"github.com/vitaliisemenov/deployctl/internal/engine/engerr"
	"github.com/vitaliisemenov/deployctl/internal/identity"
	"github.com/vitaliisemenov/deployctl/internal/plan"
	"github.com/vitaliisemenov/deployctl/internal/target"
)

// depCacheSize bounds the dependency-id resolution cache; a plan with more
// cross-project dependency edges than this just evicts its oldest
// resolutions first, falling back to a registry lookup.
const depCacheSize = 1024

// Recorder inserts and removes registry rows for one target, memoizing
// cross-project dependency name-to-id lookups that would otherwise repeat
// a query per dependency edge during a long deploy run.
type Recorder struct {
	depIDs *lru.Cache[string, string]
}

// New returns a Recorder with an empty dependency-id cache.
func New() *Recorder {
	c, err := lru.New[string, string](depCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which depCacheSize
		// never is.
		panic(err)
	}
	return &Recorder{depIDs: c}
}

// RecordDeploy inserts the changes row, one dependencies row per
// ch.Dependencies, and a "deploy" events row, all within c's transaction.
// committer_name/committer_email are set equal to the change's planner
// fields rather than the operator running the deploy — preserved sqlitch
// registry behavior, not a bug.
func (r *Recorder) RecordDeploy(ctx context.Context, c conn.Connection, d *dialect.Dialect, tg *target.Target, pl *plan.Plan, ch *plan.Change, scriptHash string) error {
	now := time.Now().UTC()

	insertChange := "INSERT INTO " + d.TableName(tg.RegistryNamespace, "changes") + ` (
		change_id, script_hash, change, project, note,
		committed_at, committer_name, committer_email,
		planned_at, planner_name, planner_email
	) VALUES (
		:change_id, :script_hash, :change, :project, :note,
		:committed_at, :committer_name, :committer_email,
		:planned_at, :planner_name, :planner_email
	)`
	if err := c.Execute(ctx, insertChange, map[string]any{
		"change_id":        ch.ID(),
		"script_hash":      scriptHash,
		"change":           ch.Name,
		"project":          pl.ProjectName,
		"note":             ch.Note,
		"committed_at":     now,
		"committer_name":   ch.PlannerName,
		"committer_email":  ch.PlannerEmail,
		"planned_at":       ch.Timestamp.UTC(),
		"planner_name":     ch.PlannerName,
		"planner_email":    ch.PlannerEmail,
	}); err != nil {
		return engerr.NewDeploymentError("deploy", ch.Name, d.Tag).WithCause(err)
	}

	for _, dep := range ch.Dependencies {
		depID, err := r.resolveDependencyID(ctx, c, d, tg, pl, dep)
		if err != nil {
			return engerr.NewDeploymentError("deploy", ch.Name, d.Tag).WithCause(err)
		}

		insertDep := "INSERT INTO " + d.TableName(tg.RegistryNamespace, "dependencies") +
			" (change_id, type, dependency, dependency_id) VALUES (:change_id, :type, :dependency, :dependency_id)"
		if err := c.Execute(ctx, insertDep, map[string]any{
			"change_id":     ch.ID(),
			"type":          string(dep.Type),
			"dependency":    dep.String(),
			"dependency_id": depID,
		}); err != nil {
			return engerr.NewDeploymentError("deploy", ch.Name, d.Tag).WithCause(err)
		}
	}

	if err := r.appendEvent(ctx, c, d, tg, pl, ch, "deploy", now); err != nil {
		return engerr.NewDeploymentError("deploy", ch.Name, d.Tag).WithCause(err)
	}
	return nil
}

// RecordRevert deletes ch's changes row (and its dependencies rows — the
// generic DDL declares an ON DELETE CASCADE foreign key, but dialects that
// don't enforce it by default, e.g. sqlite without PRAGMA foreign_keys, get
// an explicit delete here too) and appends a "revert" events row carrying
// the change's original note and planned/planner metadata, with
// committed_at set to the time of the revert.
func (r *Recorder) RecordRevert(ctx context.Context, c conn.Connection, d *dialect.Dialect, tg *target.Target, pl *plan.Plan, ch *plan.Change) error {
	if err := r.appendEvent(ctx, c, d, tg, pl, ch, "revert", time.Now().UTC()); err != nil {
		return engerr.NewDeploymentError("revert", ch.Name, d.Tag).WithCause(err)
	}

	deleteDeps := "DELETE FROM " + d.TableName(tg.RegistryNamespace, "dependencies") + " WHERE change_id = :change_id"
	if err := c.Execute(ctx, deleteDeps, map[string]any{"change_id": ch.ID()}); err != nil {
		return engerr.NewDeploymentError("revert", ch.Name, d.Tag).WithCause(err)
	}

	deleteChange := "DELETE FROM " + d.TableName(tg.RegistryNamespace, "changes") + " WHERE change_id = :change_id"
	if err := c.Execute(ctx, deleteChange, map[string]any{"change_id": ch.ID()}); err != nil {
		return engerr.NewDeploymentError("revert", ch.Name, d.Tag).WithCause(err)
	}
	return nil
}

// RecordFail appends a "fail" events row for ch over c, which the caller
// must have opened on a side connection outside the transaction that just
// rolled back — the failing transaction's own connection is no longer
// usable for writes once txscope.Run has rolled it back.
func (r *Recorder) RecordFail(ctx context.Context, c conn.Connection, d *dialect.Dialect, tg *target.Target, pl *plan.Plan, ch *plan.Change, cause error) error {
	note := ch.Note
	if cause != nil {
		note = fmt.Sprintf("%s (failed: %v)", note, cause)
	}
	return r.appendEventWithNote(ctx, c, d, tg, pl, ch, "fail", time.Now().UTC(), note)
}

// RecordTag inserts a tags row binding tagName to ch, tagging it as of
// right now with who as the tagger. Unlike deploy/revert, a tag's
// committer is the operator running `deployctl tag`, not the change's
// original planner. project+tag is unique per the registry schema, so the
// same tag name may be reused across different projects sharing a
// registry namespace.
func (r *Recorder) RecordTag(ctx context.Context, c conn.Connection, d *dialect.Dialect, tg *target.Target, pl *plan.Plan, ch *plan.Change, tagName string, who identity.Identity) error {
	now := time.Now().UTC()
	insertTag := "INSERT INTO " + d.TableName(tg.RegistryNamespace, "tags") + ` (
		tag_id, tag, project, change_id, note,
		committed_at, committer_name, committer_email,
		planned_at, planner_name, planner_email
	) VALUES (
		:tag_id, :tag, :project, :change_id, :note,
		:committed_at, :committer_name, :committer_email,
		:planned_at, :planner_name, :planner_email
	)`
	if err := c.Execute(ctx, insertTag, map[string]any{
		"tag_id":          pl.ProjectName + ":" + tagName,
		"tag":             tagName,
		"project":         pl.ProjectName,
		"change_id":       ch.ID(),
		"note":            ch.Note,
		"committed_at":    now,
		"committer_name":  who.Name,
		"committer_email": who.Email,
		"planned_at":      now,
		"planner_name":    who.Name,
		"planner_email":   who.Email,
	}); err != nil {
		return engerr.NewEngineError("recording tag " + tagName + " on change " + ch.Name).WithCause(err)
	}
	return nil
}

func (r *Recorder) appendEvent(ctx context.Context, c conn.Connection, d *dialect.Dialect, tg *target.Target, pl *plan.Plan, ch *plan.Change, event string, at time.Time) error {
	return r.appendEventWithNote(ctx, c, d, tg, pl, ch, event, at, ch.Note)
}

func (r *Recorder) appendEventWithNote(ctx context.Context, c conn.Connection, d *dialect.Dialect, tg *target.Target, pl *plan.Plan, ch *plan.Change, event string, at time.Time, note string) error {
	requires, conflicts := requiresConflicts(ch)
	tags := tagList(ch)

	insertEvent := "INSERT INTO " + d.TableName(tg.RegistryNamespace, "events") + ` (
		change_id, event, change, project, note,
		requires, conflicts, tags,
		committed_at, committer_name, committer_email,
		planned_at, planner_name, planner_email
	) VALUES (
		:change_id, :event, :change, :project, :note,
		:requires, :conflicts, :tags,
		:committed_at, :committer_name, :committer_email,
		:planned_at, :planner_name, :planner_email
	)`
	return c.Execute(ctx, insertEvent, map[string]any{
		"change_id":       ch.ID(),
		"event":           event,
		"change":          ch.Name,
		"project":         pl.ProjectName,
		"note":            note,
		"requires":        requires,
		"conflicts":       conflicts,
		"tags":            tags,
		"committed_at":    at,
		"committer_name":  ch.PlannerName,
		"committer_email": ch.PlannerEmail,
		"planned_at":      ch.Timestamp.UTC(),
		"planner_name":    ch.PlannerName,
		"planner_email":   ch.PlannerEmail,
	})
}

// requiresConflicts renders ch's dependencies as sqitch's space-separated
// event-row lists, one for "require" deps and one for "conflict" deps.
func requiresConflicts(ch *plan.Change) (requires, conflicts string) {
	var req, conf []string
	for _, dep := range ch.Dependencies {
		if dep.Type == plan.Require {
			req = append(req, dep.String())
		} else {
			conf = append(conf, dep.String())
		}
	}
	return joinSpace(req), joinSpace(conf)
}

func tagList(ch *plan.Change) string { return joinSpace(ch.Tags) }

func joinSpace(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

// resolveDependencyID finds the change id a dependency edge refers to,
// first checking the in-memory plan (covers the overwhelmingly common
// same-project case with no query at all), then falling back to a
// registry lookup by change name and project for a cross-project
// dependency, memoizing the result since the same cross-project
// dependency often repeats across many changes in one plan.
func (r *Recorder) resolveDependencyID(ctx context.Context, c conn.Connection, d *dialect.Dialect, tg *target.Target, pl *plan.Plan, dep plan.Dependency) (any, error) {
	if dep.Type == plan.Conflict {
		return nil, nil
	}

	if dep.Project == "" || dep.Project == pl.ProjectName {
		if depChange, ok := pl.ByName(dep.Change); ok {
			return depChange.ID(), nil
		}
	}

	cacheKey := dep.String()
	if id, ok := r.depIDs.Get(cacheKey); ok {
		return id, nil
	}

	row, err := c.FetchOne(ctx, "SELECT change_id FROM "+d.TableName(tg.RegistryNamespace, "changes")+
		" WHERE change = :change AND project = :project "+d.LimitOffset(1, 0),
		map[string]any{"change": dep.Change, "project": projectOrSelf(dep, pl)})
	if err != nil {
		return nil, err
	}
	if row == nil {
		// Unresolved forward reference (the dependency hasn't been deployed
		// yet in its own project) — NULL is a valid dependency_id per the
		// registry schema and is recorded as such.
		return nil, nil
	}

	id, _ := row["change_id"].(string)
	r.depIDs.Add(cacheKey, id)
	return id, nil
}

func projectOrSelf(dep plan.Dependency, pl *plan.Plan) string {
	if dep.Project != "" {
		return dep.Project
	}
	return pl.ProjectName
}
