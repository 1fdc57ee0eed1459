// Package reconcile compares a plan's changes against a target's registry
// state: the deployed set, the ordered changes still to deploy or revert,
// and the point at which a deployed change's script contents have
// diverged from what the plan currently says.
package reconcile

import (
	"context"
	"sort"

	"github.com/vitaliisemenov/deployctl/internal/engine/conn"
	"github.com/vitaliisemenov/deployctl/internal/engine/dialect"
	"github.com/vitaliisemenov/deployctl/internal/engine/engerr"
	"github.com/vitaliisemenov/deployctl/internal/engine/fingerprint"
	"github.com/vitaliisemenov/deployctl/internal/plan"
	"github.com/vitaliisemenov/deployctl/internal/target"
)

// DeployMode selects how DeployPlan interprets its toChange argument.
type DeployMode string

const (
	// All deploys every undeployed change; toChange is ignored.
	All DeployMode = "all"
	// ToChange stops after the named change.
	ToChange DeployMode = "change"
	// ToTag stops at the first change carrying the named tag.
	ToTag DeployMode = "tag"
)

// DeployedRow is one changes-table row relevant to reconciliation.
type DeployedRow struct {
	ChangeID   string
	Change     string
	ScriptHash string
}

// DeployedIDs reads the change ids deployed for project, ordered by
// committed_at ascending with plan order as the tie-break for rows sharing
// a timestamp (rare, but permitted by the registry schema's precision).
func DeployedIDs(ctx context.Context, c conn.Connection, d *dialect.Dialect, tg *target.Target, pl *plan.Plan, project string) ([]DeployedRow, error) {
	query := "SELECT change_id, change, script_hash, committed_at FROM " +
		d.TableName(tg.RegistryNamespace, "changes") +
		" WHERE project = :project ORDER BY committed_at ASC"
	rows, err := c.FetchAll(ctx, query, map[string]any{"project": project})
	if err != nil {
		return nil, engerr.NewEngineError("reading deployed change ids").WithCause(err)
	}

	out := make([]DeployedRow, 0, len(rows))
	for _, row := range rows {
		id, _ := row["change_id"].(string)
		name, _ := row["change"].(string)
		hash, _ := row["script_hash"].(string)
		out = append(out, DeployedRow{ChangeID: id, Change: name, ScriptHash: hash})
	}

	for start := 0; start < len(out); {
		end := start + 1
		for end < len(out) && rows[end]["committed_at"] == rows[start]["committed_at"] {
			end++
		}
		group := out[start:end]
		sort.SliceStable(group, func(i, j int) bool {
			return pl.IndexOf(group[i].Change) < pl.IndexOf(group[j].Change)
		})
		start = end
	}
	return out, nil
}

// DeployPlan returns pl's undeployed changes in plan order (oldest first),
// stopping according to mode once toChange is reached.
func DeployPlan(pl *plan.Plan, deployed []DeployedRow, toChange string, mode DeployMode) []*plan.Change {
	deployedIDs := make(map[string]bool, len(deployed))
	for _, row := range deployed {
		deployedIDs[row.ChangeID] = true
	}

	var out []*plan.Change
	for _, ch := range pl.Changes() {
		if deployedIDs[ch.ID()] {
			continue
		}
		out = append(out, ch)

		if toChange == "" || mode == All {
			continue
		}
		switch mode {
		case ToChange:
			if ch.Name == toChange {
				return out
			}
		case ToTag:
			if hasTag(ch, toChange) {
				return out
			}
		}
	}
	return out
}

// RevertPlan returns the deployed changes to revert, newest-first. With no
// toChange it is the full deployed list reversed; with toChange it is
// every change committed strictly after the matching one (by deployed
// order), reversed.
func RevertPlan(pl *plan.Plan, deployed []DeployedRow, toChange string) ([]*plan.Change, error) {
	start := 0
	if toChange != "" {
		idx := -1
		for i, row := range deployed {
			if row.Change == toChange {
				idx = i
				break
			}
		}
		if idx == -1 {
			return nil, engerr.NewEngineError("revert target change not deployed: " + toChange)
		}
		start = idx + 1
	}

	suffix := deployed[start:]
	out := make([]*plan.Change, 0, len(suffix))
	for i := len(suffix) - 1; i >= 0; i-- {
		ch, ok := pl.ByID(suffix[i].ChangeID)
		if !ok {
			return nil, engerr.NewEngineError("deployed change not found in plan: " + suffix[i].Change)
		}
		out = append(out, ch)
	}
	return out, nil
}

// Divergence describes where a target's deployed changes stop matching
// what the plan currently says, per the common-ancestor walk: the
// CommonAncestor is the last change whose stored script_hash still equals
// the plan's recomputed fingerprint, or nil if even the first deployed
// change has diverged. Index is the position of the first mismatch.
type Divergence struct {
	CommonAncestor *plan.Change
	Index          int
	Diverged       bool
}

// CommonAncestor walks deployed and pl's changes in lockstep from index 0,
// comparing each deployed row's stored script_hash against the fingerprint
// recomputed from the plan's current script files, stopping at the first
// index where they differ, the deployed id no longer matches the plan's id
// at that position, or either list runs out.
func CommonAncestor(deployed []DeployedRow, pl *plan.Plan, tg *target.Target, fp *fingerprint.Cache) (Divergence, error) {
	planChanges := pl.Changes()

	i := 0
	for ; i < len(deployed) && i < len(planChanges); i++ {
		pc := planChanges[i]
		if pc.ID() != deployed[i].ChangeID {
			return Divergence{Index: i, Diverged: true, CommonAncestor: ancestorAt(planChanges, i)}, nil
		}

		deployPath, revertPath, verifyPath := plan.ScriptPaths(tg.DeployDir, tg.RevertDir, tg.VerifyDir, pc)
		fresh, err := fp.Of(fingerprint.ScriptPaths{Deploy: deployPath, Revert: revertPath, Verify: verifyPath})
		if err != nil {
			return Divergence{}, err
		}
		if fresh != deployed[i].ScriptHash {
			return Divergence{Index: i, Diverged: true, CommonAncestor: ancestorAt(planChanges, i)}, nil
		}
	}

	if i < len(deployed) {
		// Plan ran out before the deployed list did: every deployed change
		// from i onward no longer corresponds to anything in the plan.
		return Divergence{Index: i, Diverged: true, CommonAncestor: ancestorAt(planChanges, i)}, nil
	}

	return Divergence{Index: i, Diverged: false, CommonAncestor: ancestorAt(planChanges, i)}, nil
}

func ancestorAt(planChanges []*plan.Change, divergeIndex int) *plan.Change {
	if divergeIndex == 0 {
		return nil
	}
	return planChanges[divergeIndex-1]
}

func hasTag(ch *plan.Change, tag string) bool {
	for _, t := range ch.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
