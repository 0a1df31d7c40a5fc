package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func seedWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	appDir := filepath.Join(root, "applications")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "bench.hcl"), []byte(`
application "bench" {
  executable "execute" {
    template = ["./bench {n_ranks}"]
  }
  workload "standard" {
    executables = ["execute"]
  }
  workload_variable "n_ranks" {
    default   = "1"
    workloads = ["standard"]
  }
}
`), 0o644))

	cfgDir := filepath.Join(root, "configs")
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "expgrid.yaml"), []byte(`
expgrid:
  applications:
    bench:
      workloads:
        standard:
          experiments:
            trial:
              variables:
                n_ranks: ["1", "2"]
`), 0o644))
	return root
}

func TestInitCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ws")
	out, err := run(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Created workspace")

	_, err = os.Stat(filepath.Join(dir, "configs", "expgrid.yaml"))
	require.NoError(t, err)
}

func TestInfoCommand(t *testing.T) {
	root := seedWorkspace(t)

	out, err := run(t, "--workspace", root, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "2 experiment(s)")
	assert.Contains(t, out, "bench.standard.trial_1")
	assert.Contains(t, out, "bench.standard.trial_2")
}

func TestSetupCommand(t *testing.T) {
	root := seedWorkspace(t)

	_, err := run(t, "--workspace", root, "setup")
	require.NoError(t, err)

	script := filepath.Join(root, "experiments", "bench.standard.trial_2", "execute_experiment")
	data, err := os.ReadFile(script)
	require.NoError(t, err)
	assert.Contains(t, string(data), "./bench 2")
}

func TestSetupDryRunTouchesNothing(t *testing.T) {
	root := seedWorkspace(t)

	_, err := run(t, "--workspace", root, "setup", "--dry-run")
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(root, "experiments", "bench.standard.trial_1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestUnknownWorkspaceFails(t *testing.T) {
	_, err := run(t, "--workspace", t.TempDir(), "info")
	require.Error(t, err)
}
