package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args against a fresh data directory
// and returns what it printed.
func execute(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Setenv("TASKMEM_DATA_DIR", dataDir)
	t.Setenv("TASKMEM_WORKSPACE", "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(dataDir, "config.yaml")}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag to its default so tests do not leak
// values into each other through the package-level commands.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "taskmem vdev")
}

func TestProjects_Empty(t *testing.T) {
	out, err := execute(t, t.TempDir(), "projects")
	require.NoError(t, err)
	assert.Contains(t, out, "No projects registered yet.")
}

func TestCleanup_WorkspaceThenAll(t *testing.T) {
	dataDir := t.TempDir()
	ws, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	out, err := execute(t, dataDir, "cleanup", "--workspace", ws, "--retention-days", "7")
	require.NoError(t, err)
	assert.Contains(t, out, ws+": purged 0 tasks, 0 entities and 0 links")

	out, err = execute(t, dataDir, "projects", "--stats")
	require.NoError(t, err)
	assert.Contains(t, out, "TASKS")
	assert.Contains(t, out, ws)

	out, err = execute(t, dataDir, "cleanup", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "ENTITIES")
	assert.Contains(t, out, ws)
}

func TestCleanup_RejectsBadRetention(t *testing.T) {
	ws, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	_, err = execute(t, t.TempDir(), "cleanup", "--workspace", ws, "--retention-days", "0")
	require.Error(t, err)
}

func TestCleanup_FlagsAreExclusive(t *testing.T) {
	_, err := execute(t, t.TempDir(), "cleanup", "--workspace", "/tmp", "--all")
	require.Error(t, err)
}
