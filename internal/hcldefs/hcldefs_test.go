package hcldefs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expgrid/expgrid/internal/attrdict"
	"github.com/expgrid/expgrid/internal/lang"
)

func loadManifest(t *testing.T, reg *lang.Registry, src string) error {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "defs.hcl"), []byte(src), 0o644))
	return Load(context.Background(), reg, dir)
}

const hplManifest = `
application "hpl" {
  maintainers      = ["perf-team"]
  tags             = ["benchmark", "linpack"]
  archive_patterns = ["HPL.dat"]

  executable "execute" {
    template = ["./xhpl"]
    use_mpi  = true
  }

  workload "standard" {
    executables = ["execute"]
    inputs      = ["hpl-input"]
  }

  workload_variable "problem_size" {
    default   = "10000"
    workloads = ["standard"]
  }

  input "hpl-input" {
    url    = "https://example.com/hpl/input.dat"
    sha256 = "abc123"
  }

  figure_of_merit "GFlops" {
    regex      = "Gflops\\s+=\\s+(?P<gflops>[0-9.]+)"
    group_name = "gflops"
    units      = "GFLOP/s"
  }

  software_spec "hpl" {
    pkg_spec = "hpl@2.3"
    compiler = "gcc12"
  }

  success_criteria "positive" {
    mode     = "fom_comparison"
    fom_name = "GFlops"
    formula  = "{value} > 0"
  }

  builtin "env_vars" {
    required         = true
    injection_method = "prepend"
  }
}
`

func TestLoadApplicationManifest(t *testing.T) {
	reg := lang.NewRegistry()
	require.NoError(t, loadManifest(t, reg, hplManifest))

	def, err := reg.Build("hpl")
	require.NoError(t, err)

	assert.Equal(t, []string{"perf-team"}, def.Maintainers)
	assert.ElementsMatch(t, []string{"benchmark", "linpack"}, def.Tags)

	wl, ok := def.Workloads.Get("standard")
	require.True(t, ok)
	assert.Equal(t, []string{"execute"}, wl.(map[string]any)["executables"])

	exec, ok := def.Executables.Get("execute")
	require.True(t, ok)
	assert.Equal(t, true, exec.(map[string]any)["use_mpi"])
	assert.Equal(t, "{log_file}", exec.(map[string]any)["redirect"])

	f, ok := def.FiguresOfMerit.Get("GFlops")
	require.True(t, ok)
	assert.Equal(t, "gflops", f.(map[string]any)["group_name"])

	_, ok = def.Builtins.Get("builtin::env_vars")
	assert.True(t, ok)

	crit, ok := def.SuccessCriteria.Get("positive")
	require.True(t, ok)
	assert.Equal(t, "fom_comparison", crit.(map[string]any)["mode"])
}

func TestInheritanceAcrossManifests(t *testing.T) {
	reg := lang.NewRegistry()

	// The derived block comes first in the file; its parent must still be
	// defined before it.
	err := loadManifest(t, reg, hplManifest+`
application "hpl-tuned" {
  inherits = "hpl"

  update "software_specs" {
    pattern = "hpl"
    set     = { pkg_spec = "hpl@2.3 +openmp" }
  }
}
`)
	require.NoError(t, err)

	def, err := reg.Build("hpl-tuned")
	require.NoError(t, err)

	spec, ok := def.SoftwareSpecs.Get("hpl")
	require.True(t, ok)
	assert.Equal(t, "hpl@2.3 +openmp", spec.(map[string]any)["pkg_spec"])

	// The parent is untouched.
	parent, err := reg.Build("hpl")
	require.NoError(t, err)
	spec, _ = parent.SoftwareSpecs.Get("hpl")
	assert.Equal(t, "hpl@2.3", spec.(map[string]any)["pkg_spec"])
}

func TestRemoveAndPurgeBlocks(t *testing.T) {
	reg := lang.NewRegistry()
	err := loadManifest(t, reg, hplManifest+`
application "hpl-lean" {
  inherits = "hpl"

  remove "workload_variables" {
    pattern = "problem_*"
    within  = ["standard"]
  }

  purge "archive_patterns" {}
}
`)
	require.NoError(t, err)

	def, err := reg.Build("hpl-lean")
	require.NoError(t, err)

	vars, ok := def.WorkloadVariables.Get("standard")
	require.True(t, ok)
	assert.False(t, vars.(*attrdict.Dict).Has("problem_size"))
	assert.Zero(t, def.ArchivePatterns.Len())
}

func TestUnknownParentFails(t *testing.T) {
	reg := lang.NewRegistry()
	err := loadManifest(t, reg, `
application "orphan" {
  inherits = "nonexistent"
  executable "execute" { template = ["run"] }
  workload "w" { executables = ["execute"] }
}
`)
	require.ErrorContains(t, err, "unknown type")
}

func TestDuplicateDefinitionFails(t *testing.T) {
	reg := lang.NewRegistry()
	err := loadManifest(t, reg, `
application "dup" {
  executable "execute" { template = ["run"] }
  workload "w" { executables = ["execute"] }
}
application "dup" {
  executable "execute" { template = ["run"] }
  workload "w" { executables = ["execute"] }
}
`)
	require.ErrorContains(t, err, "declared more than once")
}

func TestMalformedManifestFails(t *testing.T) {
	reg := lang.NewRegistry()
	err := loadManifest(t, reg, `application "broken" {`)
	require.Error(t, err)
}
