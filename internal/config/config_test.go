package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_AppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "deployctl.plan", cfg.Plan.File)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Targets)
	assert.False(t, cfg.GuardEnabled())
}

func TestLoad_ReadsTargetsFromFile(t *testing.T) {
	path := writeTempYAML(t, `
plan:
  file: migrations.plan
targets:
  prod:
    uri: "db:pg://user@host/widgets"
    registry: sqitch
  dev:
    uri: "db:sqlite:dev.db"
log:
  level: debug
  format: text
guard:
  addr: "localhost:6379"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "migrations.plan", cfg.Plan.File)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.Len(t, cfg.Targets, 2)
	assert.Equal(t, "db:pg://user@host/widgets", cfg.Targets["prod"].URI)
	assert.Equal(t, "sqitch", cfg.Targets["prod"].RegistryNamespace)
	assert.True(t, cfg.GuardEnabled())
}

func TestLoad_RejectsTargetWithoutURI(t *testing.T) {
	path := writeTempYAML(t, `
targets:
  broken: {}
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownLogLevel(t *testing.T) {
	path := writeTempYAML(t, `
log:
  level: loud
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfig_TargetResolvesSoleEntryWhenNameEmpty(t *testing.T) {
	cfg := &Config{Targets: map[string]TargetEntry{"only": {URI: "db:sqlite:only.db"}}}
	tgt, err := cfg.Target("")
	require.NoError(t, err)
	assert.Equal(t, "db:sqlite:only.db", tgt.URI)
}

func TestConfig_TargetRequiresNameWhenAmbiguous(t *testing.T) {
	cfg := &Config{Targets: map[string]TargetEntry{
		"a": {URI: "db:sqlite:a.db"},
		"b": {URI: "db:sqlite:b.db"},
	}}
	_, err := cfg.Target("")
	assert.Error(t, err)

	tgt, err := cfg.Target("b")
	require.NoError(t, err)
	assert.Equal(t, "db:sqlite:b.db", tgt.URI)
}

func TestConfig_TargetRejectsUnknownName(t *testing.T) {
	cfg := &Config{Targets: map[string]TargetEntry{"a": {URI: "db:sqlite:a.db"}}}
	_, err := cfg.Target("missing")
	assert.Error(t, err)
}
