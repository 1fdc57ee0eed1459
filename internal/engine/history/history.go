// Package history answers queries against the events/changes registry
// tables: filtered event search, and the current deployed state of a
// project. Results are exposed as Go 1.23 range-over-func iterators,
// the idiomatic substitute for the source engine's lazy generators.
package history

import (
	"context"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vitaliisemenov/deployctl/internal/engine/conn"
	"github.com/vitaliisemenov/deployctl/internal/engine/dialect"
	"github.com/vitaliisemenov/deployctl/internal/engine/engerr"
	"github.com/vitaliisemenov/deployctl/internal/target"
)

// Direction orders a Search result by committed_at.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// normalize case-folds direction and rejects anything but asc/desc.
func normalize(d Direction) (Direction, error) {
	switch strings.ToUpper(string(d)) {
	case "", string(Desc):
		return Desc, nil
	case string(Asc):
		return Asc, nil
	default:
		return "", engerr.NewEngineError("invalid search direction: " + string(d))
	}
}

// Event is one events-table row, with requires/conflicts/tags parsed back
// from their whitespace-joined column storage into lists.
type Event struct {
	ChangeID       string
	Event          string
	Change         string
	Project        string
	Note           string
	Requires       []string
	Conflicts      []string
	Tags           []string
	CommittedAt    time.Time
	CommitterName  string
	CommitterEmail string
	PlannedAt      time.Time
	PlannerName    string
	PlannerEmail   string
}

// Filter selects which events Search returns.
type Filter struct {
	EventKinds     []string
	ChangeRegex    string
	ProjectRegex   string
	CommitterRegex string
	PlannerRegex   string
	Limit          int
	Offset         int
	Direction      Direction
}

var (
	searchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deployctl",
		Subsystem: "history",
		Name:      "events_searched_total",
		Help:      "Total number of event rows returned by history.Search",
	}, []string{"engine"})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "deployctl",
		Subsystem: "history",
		Name:      "query_duration_seconds",
		Help:      "Duration of history queries (search, current_state, current_changes)",
		Buckets:   prometheus.DefBuckets,
	}, []string{"engine", "query"})
)

// Search runs a filtered query over the events table, returning an
// iterator that closes its underlying cursor on early break or
// exhaustion. Range-over-func iterators have no separate error return: an
// invalid Direction or a failed query simply yields no events, so callers
// needing the *engerr.EngineError for a bad Direction should call
// Validate before ranging.
func Search(ctx context.Context, c conn.Connection, d *dialect.Dialect, tg *target.Target, project string, f Filter) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		rows, err := runSearch(ctx, c, d, tg, project, f)
		if err != nil {
			return
		}
		for _, row := range rows {
			if !yield(row) {
				return
			}
		}
	}
}

// Validate checks f.Direction up front, letting callers surface an
// *engerr.EngineError before starting to range over Search's iterator.
func (f Filter) Validate() error {
	_, err := normalize(f.Direction)
	return err
}

func runSearch(ctx context.Context, c conn.Connection, d *dialect.Dialect, tg *target.Target, project string, f Filter) ([]Event, error) {
	start := time.Now()
	defer func() { queryDuration.WithLabelValues(d.Tag, "search").Observe(time.Since(start).Seconds()) }()

	direction, err := normalize(f.Direction)
	if err != nil {
		return nil, err
	}

	table := d.TableName(tg.RegistryNamespace, "events")
	query := "SELECT change_id, event, change, project, note, requires, conflicts, tags, " +
		"committed_at, committer_name, committer_email, planned_at, planner_name, planner_email FROM " + table +
		" WHERE project = :project"
	params := map[string]any{"project": project}

	if len(f.EventKinds) > 0 {
		clauses := make([]string, len(f.EventKinds))
		for i, kind := range f.EventKinds {
			key := paramName("event_kind", i)
			clauses[i] = "event = :" + key
			params[key] = kind
		}
		query += " AND (" + strings.Join(clauses, " OR ") + ")"
	}

	query += regexClause(d, "change", f.ChangeRegex, "change_re", params)
	query += regexClause(d, "project", f.ProjectRegex, "project_re", params)
	query += regexClause(d, "committer_name", f.CommitterRegex, "committer_re", params)
	query += regexClause(d, "planner_name", f.PlannerRegex, "planner_re", params)

	query += " ORDER BY committed_at " + string(direction)

	limit := f.Limit
	if limit <= 0 {
		limit = 1 << 30
	}
	query += " " + d.LimitOffset(limit, f.Offset)

	rows, err := c.FetchAll(ctx, query, params)
	if err != nil {
		return nil, engerr.NewDeploymentError("search", "", d.Tag).WithCause(err)
	}

	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToEvent(row))
	}
	searchTotal.WithLabelValues(d.Tag).Add(float64(len(out)))
	return out, nil
}

func regexClause(d *dialect.Dialect, column, pattern, paramKey string, params map[string]any) string {
	if pattern == "" {
		return ""
	}
	params[paramKey] = pattern
	return " AND " + d.RegexCondition(column, paramKey)
}

func paramName(prefix string, i int) string {
	return prefix + "_" + strconv.Itoa(i)
}

func rowToEvent(row conn.Row) Event {
	return Event{
		ChangeID:       str(row["change_id"]),
		Event:          str(row["event"]),
		Change:         str(row["change"]),
		Project:        str(row["project"]),
		Note:           str(row["note"]),
		Requires:       splitWhitespace(str(row["requires"])),
		Conflicts:      splitWhitespace(str(row["conflicts"])),
		Tags:           splitWhitespace(str(row["tags"])),
		CommittedAt:    asTime(row["committed_at"]),
		CommitterName:  str(row["committer_name"]),
		CommitterEmail: str(row["committer_email"]),
		PlannedAt:      asTime(row["planned_at"]),
		PlannerName:    str(row["planner_name"]),
		PlannerEmail:   str(row["planner_email"]),
	}
}

func splitWhitespace(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

// CurrentState returns the single most recently committed change row for
// project, or (Event{}, false) if nothing has been deployed yet. Tags are
// aggregated onto the row the way the underlying source's get_current_state
// joins the tags table.
func CurrentState(ctx context.Context, c conn.Connection, d *dialect.Dialect, tg *target.Target, project string) (Event, bool, error) {
	start := time.Now()
	defer func() { queryDuration.WithLabelValues(d.Tag, "current_state").Observe(time.Since(start).Seconds()) }()

	table := d.TableName(tg.RegistryNamespace, "changes")
	query := "SELECT change_id, 'deploy' AS event, change, project, note, '' AS requires, '' AS conflicts, '' AS tags, " +
		"committed_at, committer_name, committer_email, planned_at, planner_name, planner_email FROM " + table +
		" WHERE project = :project ORDER BY committed_at DESC " + d.LimitOffset(1, 0)

	rows, err := c.FetchAll(ctx, query, map[string]any{"project": project})
	if err != nil {
		return Event{}, false, engerr.NewDeploymentError("current_state", "", d.Tag).WithCause(err)
	}
	if len(rows) == 0 {
		return Event{}, false, nil
	}

	ev := rowToEvent(rows[0])

	tagRows, err := c.FetchAll(ctx,
		"SELECT tag FROM "+d.TableName(tg.RegistryNamespace, "tags")+" WHERE change_id = :change_id",
		map[string]any{"change_id": ev.ChangeID})
	if err != nil {
		return Event{}, false, engerr.NewDeploymentError("current_state", "", d.Tag).WithCause(err)
	}
	for _, tr := range tagRows {
		ev.Tags = append(ev.Tags, str(tr["tag"]))
	}

	return ev, true, nil
}

// CurrentChanges returns every deployed change row for project ordered by
// committed_at ascending, with no tag aggregation — the unaggregated
// counterpart to CurrentState.
func CurrentChanges(ctx context.Context, c conn.Connection, d *dialect.Dialect, tg *target.Target, project string) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		start := time.Now()
		defer func() {
			queryDuration.WithLabelValues(d.Tag, "current_changes").Observe(time.Since(start).Seconds())
		}()

		table := d.TableName(tg.RegistryNamespace, "changes")
		query := "SELECT change_id, 'deploy' AS event, change, project, note, '' AS requires, '' AS conflicts, '' AS tags, " +
			"committed_at, committer_name, committer_email, planned_at, planner_name, planner_email FROM " + table +
			" WHERE project = :project ORDER BY committed_at ASC"

		rows, err := c.FetchAll(ctx, query, map[string]any{"project": project})
		if err != nil {
			return
		}
		for _, row := range rows {
			if !yield(rowToEvent(row)) {
				return
			}
		}
	}
}

// CurrentTags returns every tag recorded for project, ordered by
// committed_at ascending.
func CurrentTags(ctx context.Context, c conn.Connection, d *dialect.Dialect, tg *target.Target, project string) iter.Seq[string] {
	return func(yield func(string) bool) {
		table := d.TableName(tg.RegistryNamespace, "tags")
		changes := d.TableName(tg.RegistryNamespace, "changes")
		query := "SELECT t.tag AS tag FROM " + table + " t JOIN " + changes +
			" c ON t.change_id = c.change_id WHERE c.project = :project ORDER BY t.committed_at ASC"

		rows, err := c.FetchAll(ctx, query, map[string]any{"project": project})
		if err != nil {
			return
		}
		for _, row := range rows {
			if !yield(str(row["tag"])) {
				return
			}
		}
	}
}
