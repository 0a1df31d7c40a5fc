package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expgrid/expgrid/internal/definition"
	"github.com/expgrid/expgrid/internal/lang"
)

func writeConfig(t *testing.T, root, content string) {
	t.Helper()
	dir := filepath.Join(root, "configs")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "expgrid.yaml"), []byte(content), 0o644))
}

func testRegistry(t *testing.T) *lang.Registry {
	t.Helper()
	reg := lang.NewRegistry()
	require.NoError(t, reg.Define(lang.NewType("bench", definition.Application, nil,
		lang.Executable("execute", lang.Exec{Template: []string{"run -n {n_ranks}"}, UseMPI: true}),
		lang.Workload("standard", lang.WorkloadDef{Executables: []string{"execute"}}),
		lang.WorkloadVariable("n_ranks", lang.WorkloadVar{Default: "1", Workloads: []string{"standard"}}),
	)))
	require.NoError(t, reg.Define(lang.NewType("probe", definition.Application, nil,
		lang.Executable("execute", lang.Exec{Template: []string{"probe"}}),
		lang.Workload("standard", lang.WorkloadDef{Executables: []string{"execute"}}),
	)))
	return reg
}

func TestOpenMissingConfig(t *testing.T) {
	_, err := Open(t.TempDir())
	require.Error(t, err)
}

func TestInitCreatesSkeleton(t *testing.T) {
	root := t.TempDir()
	ws, err := Init(root)
	require.NoError(t, err)

	for _, dir := range []string{"configs", "experiments", "archive", "inputs"} {
		info, err := os.Stat(filepath.Join(ws.Root, dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
	_, err = os.Stat(ws.ConfigPath())
	require.NoError(t, err)

	// A second init against the same root must not clobber the config.
	_, err = Init(root)
	require.ErrorContains(t, err, "already has a configuration")
}

func TestBuildExperimentSetFromConfig(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
expgrid:
  variables:
    mpi_command: mpirun -n {n_ranks}
  applications:
    bench:
      variables:
        partition: batch
      workloads:
        standard:
          experiments:
            scale:
              variables:
                n_ranks: ["2", "4"]
`)

	ws, err := Open(root)
	require.NoError(t, err)

	set, err := ws.BuildExperimentSet(context.Background(), testRegistry(t))
	require.NoError(t, err)
	require.Equal(t, []string{
		"bench.standard.scale_2",
		"bench.standard.scale_4",
	}, set.Names())

	exp, ok := set.Get("bench.standard.scale_4")
	require.True(t, ok)

	got, err := exp.Expand("{mpi_command} on {partition}")
	require.NoError(t, err)
	assert.Equal(t, "mpirun -n 4 on batch", got)

	// Workspace path defaults resolve through the experiment namespace.
	runDir, err := exp.Expand("{experiment_run_dir}")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Root, "experiments", exp.Name), filepath.FromSlash(runDir))
}

func TestCrossApplicationChains(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
expgrid:
  applications:
    bench:
      workloads:
        standard:
          experiments:
            main:
              chained_experiments: ["probe.*"]
    probe:
      workloads:
        standard:
          experiments:
            baseline: {}
`)

	ws, err := Open(root)
	require.NoError(t, err)

	set, err := ws.BuildExperimentSet(context.Background(), testRegistry(t))
	require.NoError(t, err)

	exp, ok := set.Get("bench.standard.main")
	require.True(t, ok)
	assert.Equal(t, []string{"probe.standard.baseline"}, exp.ChainOrder)
}

func TestIncludeMerging(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "configs", "site.yaml"), []byte(`
expgrid:
  variables:
    partition: batch
    account: shared
`), 0o644))
	writeConfig(t, root, `
expgrid:
  include: [site.yaml]
  variables:
    partition: debug
`)

	ws, err := Open(root)
	require.NoError(t, err)

	// The including document wins; included-only keys survive.
	assert.Equal(t, "debug", ws.Config.Expgrid.Variables["partition"])
	assert.Equal(t, "shared", ws.Config.Expgrid.Variables["account"])
}

func TestUnknownApplicationFails(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
expgrid:
  applications:
    nonsuch:
      workloads:
        standard:
          experiments:
            one: {}
`)

	ws, err := Open(root)
	require.NoError(t, err)

	_, err = ws.BuildExperimentSet(context.Background(), testRegistry(t))
	require.Error(t, err)
}

func TestWriteTransactionExcludesConcurrentInvocations(t *testing.T) {
	root := t.TempDir()
	ws := &Workspace{Root: root}

	release, err := ws.WriteTransaction()
	require.NoError(t, err)

	_, err = ws.WriteTransaction()
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, release())

	release2, err := ws.WriteTransaction()
	require.NoError(t, err)
	require.NoError(t, release2())
}

func TestPhaseMarkers(t *testing.T) {
	ws := &Workspace{Root: t.TempDir()}

	assert.False(t, ws.PhaseComplete("bench.standard.main", "make_experiments"))
	require.NoError(t, ws.MarkPhaseComplete("bench.standard.main", "make_experiments"))
	assert.True(t, ws.PhaseComplete("bench.standard.main", "make_experiments"))

	require.NoError(t, ws.ClearPhaseMarkers("bench.standard.main"))
	assert.False(t, ws.PhaseComplete("bench.standard.main", "make_experiments"))
}
