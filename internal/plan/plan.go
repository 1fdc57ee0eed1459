// Package plan models the ordered list of changes that make up a project:
// the Change, Dependency, and Plan types, change-id computation, and the
// script path convention an engine uses to locate a change's deploy,
// revert, and verify files.
package plan

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vitaliisemenov/deployctl/internal/engine/engerr"
)

// changeNamePattern/projectNamePattern mirror sqlitch's CHANGE_NAME_PATTERN
// and PROJECT_NAME_PATTERN (also used for tag names).
var (
	changeNamePattern  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	projectNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("changename", func(fl validator.FieldLevel) bool {
		return changeNamePattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("projectname", func(fl validator.FieldLevel) bool {
		return projectNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// DependencyType distinguishes a change that must already be deployed
// (require) from one that must not be deployed (conflict).
type DependencyType string

const (
	Require  DependencyType = "require"
	Conflict DependencyType = "conflict"
)

// Dependency references another change, optionally in a different
// project, that a change requires or conflicts with.
type Dependency struct {
	Type    DependencyType `validate:"required,oneof=require conflict"`
	Change  string         `validate:"required,max=255,changename"`
	Project string         `validate:"omitempty,max=255,projectname"`
}

// String renders a dependency the way it appears in a plan file:
// "project:change" when cross-project, "change" otherwise.
func (d Dependency) String() string {
	if d.Project != "" {
		return d.Project + ":" + d.Change
	}
	return d.Change
}

// Change is one entry in a plan: a named, timestamped unit of schema work
// with an immutable, content-derived id.
type Change struct {
	id           string
	Name         string `validate:"required,max=255,changename"`
	Note         string
	Timestamp    time.Time
	PlannerName  string `validate:"required"`
	PlannerEmail string `validate:"required,email"`
	Dependencies []Dependency
	Tags         []string
}

// ID returns the change's 40-hex SHA-1 identifier, computed once at
// construction from its name, project, timestamp, planner identity,
// dependencies, and note — the same inputs sqitch hashes to derive a
// change id that is stable across plan re-reads but changes if any of
// those fields change.
func (c *Change) ID() string { return c.id }

// NewChange validates fields and computes the change's id.
func NewChange(project, name, note string, ts time.Time, plannerName, plannerEmail string, deps []Dependency, tags []string) (*Change, error) {
	c := &Change{
		Name:         name,
		Note:         note,
		Timestamp:    ts,
		PlannerName:  plannerName,
		PlannerEmail: plannerEmail,
		Dependencies: deps,
		Tags:         tags,
	}
	if err := validate.Struct(c); err != nil {
		return nil, &engerr.ValidationError{Field: "change", Value: name, Reason: err.Error()}
	}
	c.id = computeChangeID(project, c)
	return c, nil
}

// computeChangeID hashes the fields that identify a change uniquely within
// its project's history: project name, change name, RFC3339 timestamp,
// planner name and email, the formatted dependency list, and the note.
// Any one of these changing yields a different id, matching sqitch's
// practice of treating a change's id as a fingerprint of its plan-file
// entry rather than an opaque sequence number.
func computeChangeID(project string, c *Change) string {
	var deps []string
	for _, d := range c.Dependencies {
		deps = append(deps, string(d.Type)+":"+d.String())
	}

	h := sha1.New()
	fmt.Fprintf(h, "project %s\nchange %s\ntimestamp %s\nplanner %s <%s>\ndependencies %s\nnote %s\n",
		project, c.Name, c.Timestamp.UTC().Format(time.RFC3339), c.PlannerName, c.PlannerEmail,
		strings.Join(deps, ","), c.Note)
	return hex.EncodeToString(h.Sum(nil))
}

// Plan is the ordered sequence of changes for one project, with name/id
// lookup indexes built once at construction.
type Plan struct {
	ProjectName  string `validate:"required,max=255,projectname"`
	CreatorName  string `validate:"required"`
	CreatorEmail string `validate:"required,email"`

	changes []*Change
	byName  map[string]*Change
	byID    map[string]*Change
}

// New builds a Plan from an ordered list of changes, validating the plan
// header and rejecting duplicate change names.
func New(projectName, creatorName, creatorEmail string, changes []*Change) (*Plan, error) {
	p := &Plan{ProjectName: projectName, CreatorName: creatorName, CreatorEmail: creatorEmail}
	if err := validate.Struct(p); err != nil {
		return nil, &engerr.ValidationError{Field: "plan", Value: projectName, Reason: err.Error()}
	}

	p.byName = make(map[string]*Change, len(changes))
	p.byID = make(map[string]*Change, len(changes))
	for _, c := range changes {
		if _, dup := p.byName[c.Name]; dup {
			return nil, &engerr.ValidationError{Field: "change.Name", Value: c.Name, Reason: "duplicate change name in plan"}
		}
		p.byName[c.Name] = c
		p.byID[c.id] = c
		p.changes = append(p.changes, c)
	}
	return p, nil
}

// Changes returns the plan's changes in plan order. The returned slice
// must not be mutated by callers.
func (p *Plan) Changes() []*Change { return p.changes }

// ByName looks up a change by its plan name.
func (p *Plan) ByName(name string) (*Change, bool) {
	c, ok := p.byName[name]
	return c, ok
}

// ByID looks up a change by its computed id.
func (p *Plan) ByID(id string) (*Change, bool) {
	c, ok := p.byID[id]
	return c, ok
}

// IndexOf returns the position of the named change in plan order, or -1.
func (p *Plan) IndexOf(name string) int {
	for i, c := range p.changes {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ScriptPaths locates the deploy, revert, and verify script files for a
// change, following sqitch's "<dir>/<name>.sql" convention. Any directory
// left empty yields an empty path for that slot, signaling "no script".
func ScriptPaths(deployDir, revertDir, verifyDir string, c *Change) (deploy, revert, verify string) {
	if deployDir != "" {
		deploy = filepath.Join(deployDir, c.Name+".sql")
	}
	if revertDir != "" {
		revert = filepath.Join(revertDir, c.Name+".sql")
	}
	if verifyDir != "" {
		verify = filepath.Join(verifyDir, c.Name+".sql")
	}
	return deploy, revert, verify
}
