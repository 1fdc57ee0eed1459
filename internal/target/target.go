// Package target resolves a deployment target: its engine tag, connection
// URI, registry namespace, and the directories its scripts live in.
package target

import (
	"strings"

	"github.com/vitaliisemenov/deployctl/internal/engine/engerr"
)

// EngineTags is the closed set of engine tags this module understands.
// Every Target.EngineTag must be one of these; Parse rejects anything else
// as an EngineError.
var EngineTags = []string{
	"pg", "mysql", "sqlite", "oracle", "snowflake",
	"vertica", "exasol", "firebird", "cockroach",
}

// DefaultRegistryNamespace is the schema/prefix sqitch registry objects
// live under when a Target does not configure one explicitly.
const DefaultRegistryNamespace = "sqitch"

// Target names a database to deploy changes against: the engine it
// speaks, its connection URI, the registry namespace, and the plan's
// script directories.
type Target struct {
	Name              string
	URI               string // "db:<engine-tag>:<driver-uri>"
	EngineTag         string
	RegistryNamespace string
	TopDir            string
	DeployDir         string
	RevertDir         string
	VerifyDir         string
}

// Parse builds a Target from a name and a "db:<engine-tag>:<driver-uri>"
// URI, defaulting the registry namespace and script directories relative
// to topDir when not otherwise given. It rejects any engine tag outside
// the closed set.
func Parse(name, uri, registryNamespace, topDir string) (*Target, error) {
	tag, driverURI, err := splitURI(uri)
	if err != nil {
		return nil, err
	}

	if registryNamespace == "" {
		registryNamespace = DefaultRegistryNamespace
	}
	if topDir == "" {
		topDir = "."
	}

	_ = driverURI
	return &Target{
		Name:              name,
		URI:               uri,
		EngineTag:         tag,
		RegistryNamespace: registryNamespace,
		TopDir:            topDir,
		DeployDir:         topDir + "/deploy",
		RevertDir:         topDir + "/revert",
		VerifyDir:         topDir + "/verify",
	}, nil
}

// DriverURI returns the connection string with the "db:<tag>:" prefix
// stripped, as handed to the underlying driver.
func (t *Target) DriverURI() string {
	_, driverURI, _ := splitURI(t.URI)
	return driverURI
}

func splitURI(uri string) (tag, driverURI string, err error) {
	if !strings.HasPrefix(uri, "db:") {
		return "", "", engerr.NewEngineError("target URI must start with \"db:\": " + uri)
	}
	rest := strings.TrimPrefix(uri, "db:")
	parts := strings.SplitN(rest, ":", 2)
	tag = parts[0]
	if len(parts) == 2 {
		driverURI = parts[1]
	}

	if !isKnownTag(tag) {
		return "", "", engerr.NewEngineError("unknown engine tag in target URI: " + tag)
	}
	return tag, driverURI, nil
}

func isKnownTag(tag string) bool {
	for _, t := range EngineTags {
		if t == tag {
			return true
		}
	}
	return false
}

// SanitizeURI redacts credentials from a target URI for logging, matching
// sqitch's sanitize_connection_string behavior: password=..., pwd=..., and
// user:pass@host forms are all redacted.
func SanitizeURI(uri string) string {
	redactors := []struct {
		marker string
	}{
		{"password="}, {"pwd="},
	}

	out := uri
	for _, r := range redactors {
		out = redactKeyValue(out, r.marker)
	}
	out = redactUserinfo(out)
	return out
}

func redactKeyValue(s, marker string) string {
	from := 0
	for {
		idx := strings.Index(strings.ToLower(s[from:]), marker)
		if idx == -1 {
			return s
		}
		end := from + idx + len(marker)
		stop := strings.IndexAny(s[end:], ";&")
		if stop == -1 {
			return s[:end] + "***"
		}
		s = s[:end] + "***" + s[end+stop:]
		from = end + len("***")
	}
}

func redactUserinfo(s string) string {
	at := strings.Index(s, "@")
	if at == -1 {
		return s
	}
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 || schemeEnd+3 >= at {
		return s
	}
	return s[:schemeEnd+3] + "***:***" + s[at:]
}
