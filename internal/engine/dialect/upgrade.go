package dialect

import (
	"context"

	"github.com/vitaliisemenov/deployctl/internal/engine/conn"
	"github.com/vitaliisemenov/deployctl/internal/engine/engerr"
)

// refuseUnknownUpgrade is the shared Upgrade implementation for every
// dialect in this release: there is no migration path from any
// pre-RegistryVersion schema, so registry.Ensure must refuse to operate
// rather than guess at a transformation (see Open Question decision in
// SPEC_FULL.md §9).
func refuseUnknownUpgrade(ctx context.Context, c conn.Connection, namespace, fromVersion string) error {
	return engerr.NewEngineError("registry at version " + fromVersion +
		" has no known upgrade path to " + RegistryVersion)
}
