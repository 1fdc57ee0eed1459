package plan

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"
)

// ParseFile reads a plan file in sqitch's plain-text format:
//
//	%syntax-version=1.0.0
//	%project=widgets
//
//	add_users 2024-01-01T00:00:00Z Ada Lovelace <ada@example.com> # initial table
//	add_posts [add_users] 2024-01-02T00:00:00Z Ada Lovelace <ada@example.com> # depends on add_users
//	@v1 2024-01-03T00:00:00Z Ada Lovelace <ada@example.com> # tag marking a release
//
// Parsing the plan file itself is a read-only collaborator the core engine
// never touches directly — this is the thin boundary that turns that text
// format into the Change/Plan values the engine consumes.
func ParseFile(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening plan file: %w", err)
	}
	defer f.Close()

	var project string
	var changes []*Change
	var creatorName, creatorEmail string

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "%project=") {
			project = strings.TrimPrefix(line, "%project=")
			continue
		}
		if strings.HasPrefix(line, "%") {
			continue // other pragmas (syntax-version, uri, ...) are not interpreted
		}
		if strings.HasPrefix(line, "@") {
			name, _, _, _, _, _, err := parseEntry(line)
			if err != nil {
				return nil, fmt.Errorf("plan file line %d: %w", lineNo, err)
			}
			if len(changes) == 0 {
				return nil, fmt.Errorf("plan file line %d: tag %s has no preceding change", lineNo, name)
			}
			changes[len(changes)-1].Tags = append(changes[len(changes)-1].Tags, strings.TrimPrefix(name, "@"))
			continue
		}

		name, deps, ts, plannerName, plannerEmail, note, err := parseEntry(line)
		if err != nil {
			return nil, fmt.Errorf("plan file line %d: %w", lineNo, err)
		}
		if creatorName == "" {
			creatorName, creatorEmail = plannerName, plannerEmail
		}
		ch, err := NewChange(project, name, note, ts, plannerName, plannerEmail, deps, nil)
		if err != nil {
			return nil, fmt.Errorf("plan file line %d: %w", lineNo, err)
		}
		changes = append(changes, ch)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}

	return New(project, creatorName, creatorEmail, changes)
}

// parseEntry splits one change or tag line into its fields:
//
//	name [dep1 !dep2] 2024-01-01T00:00:00Z Planner Name <email> # note
//
// A dependency prefixed with "!" is a conflict, otherwise a requirement.
func parseEntry(line string) (name string, deps []Dependency, ts time.Time, plannerName, plannerEmail, note string, err error) {
	note = ""
	if i := strings.Index(line, "#"); i >= 0 {
		note = strings.TrimSpace(line[i+1:])
		line = strings.TrimSpace(line[:i])
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, time.Time{}, "", "", "", fmt.Errorf("empty entry")
	}
	name = fields[0]
	rest := fields[1:]

	if len(rest) > 0 && strings.HasPrefix(rest[0], "[") {
		depList := rest[0]
		for !strings.HasSuffix(depList, "]") && len(rest) > 1 {
			rest = rest[1:]
			depList += " " + rest[0]
		}
		rest = rest[1:]
		depList = strings.TrimSuffix(strings.TrimPrefix(depList, "["), "]")
		for _, d := range strings.Fields(depList) {
			dep := Dependency{Type: Require, Change: d}
			if strings.HasPrefix(d, "!") {
				dep.Type = Conflict
				dep.Change = strings.TrimPrefix(d, "!")
			}
			if p := strings.SplitN(dep.Change, ":", 2); len(p) == 2 {
				dep.Project, dep.Change = p[0], p[1]
			}
			deps = append(deps, dep)
		}
	}

	if len(rest) < 3 {
		return "", nil, time.Time{}, "", "", "", fmt.Errorf("expected \"<timestamp> <planner name> <email>\" after %q", name)
	}
	ts, err = time.Parse(time.RFC3339, rest[0])
	if err != nil {
		return "", nil, time.Time{}, "", "", "", fmt.Errorf("invalid timestamp %q: %w", rest[0], err)
	}

	emailField := rest[len(rest)-1]
	plannerEmail = strings.TrimSuffix(strings.TrimPrefix(emailField, "<"), ">")
	plannerName = strings.Join(rest[1:len(rest)-1], " ")

	return name, deps, ts, plannerName, plannerEmail, note, nil
}
