package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/thelook/internal/cli/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd()
	assert.Equal(t, "thelook", cmd.Use)

	for _, name := range []string{"run", "runs", "config", "version", "completion"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}

	for _, flag := range []string{"config", "env", "state", "lookback", "parallelism", "verbose"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestRootCmd_VersionSkipsConfig(t *testing.T) {
	out, err := testutil.ExecuteCommand(NewRootCmd(), "version", "--config", "/does/not/exist.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "thelook v"+Version)
}

func TestRootCmd_FlagsOverrideConfigFile(t *testing.T) {
	_, cfgPath := testutil.SetupTestProject(t)

	out, err := testutil.ExecuteCommand(NewRootCmd(),
		"config", "--config", cfgPath, "--lookback", "9", "--parallelism", "3", "--env", "prod")
	require.NoError(t, err)

	assert.Contains(t, out, "# "+cfgPath)
	assert.Contains(t, out, "order_lookback_days: 9")
	assert.Contains(t, out, "parallelism: 3")
	assert.Contains(t, out, "environment: prod")
	assert.NotContains(t, out, "hunter2")
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thelook.yaml")
	require.NoError(t, os.WriteFile(path, []byte("parallelism: 0\norder_lookback_days: -1\n"), 0o600))

	_, err := testutil.ExecuteCommand(NewRootCmd(), "config", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order_lookback_days must be >= 0")
}

func TestRootCmd_DryRun(t *testing.T) {
	dir, cfgPath := testutil.SetupTestProject(t)

	out, err := testutil.ExecuteCommand(NewRootCmd(),
		"run", "--config", cfgPath, "--select", "products", "--dry-run")
	require.NoError(t, err)

	assert.Contains(t, out, "distribution_centers")
	assert.Contains(t, out, "products")
	assert.Contains(t, out, "completed")
	assert.FileExists(t, filepath.Join(dir, ".thelook", "state.db"))

	out, err = testutil.ExecuteCommand(NewRootCmd(), "runs", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "dev")
	assert.Contains(t, out, "completed")
}
