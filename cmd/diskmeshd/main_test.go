package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("DISKMESH_CONFIG", "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		configPath, logLevel, dbPath = "", "", ""
		inspectFormat, inspectLayout = "yaml", ""
	})
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestMigrateCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "mesh.db")

	assert.Contains(t, execute(t, "--db", db, "migrate", "up"), "schema version 2")
	assert.Contains(t, execute(t, "--db", db, "migrate", "down"), "schema version 0")
}

func TestInspectDetect(t *testing.T) {
	layout := filepath.Join(t.TempDir(), "world.yaml")
	require.NoError(t, os.WriteFile(layout, []byte(`
nodes:
  - {x: 0, y: 64, kind: server}
  - {x: 1, y: 64, kind: bay}
  - {x: 2, y: 64, kind: terminal}
`), 0644))

	out := execute(t, "inspect", "detect", "0:2:64:0", "--layout", layout, "-o", "json")
	assert.Contains(t, out, `"outcome": "valid"`)
	assert.Contains(t, out, `"id": "net_0_0_64_0"`)
}

func TestInspectNetworksOnEmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "mesh.db")
	out := execute(t, "--db", db, "inspect", "networks", "-o", "json")
	assert.Regexp(t, `^(null|\[\])\s*$`, out)
}
