package lang

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expgrid/expgrid/internal/attrdict"
	"github.com/expgrid/expgrid/internal/definition"
)

// apply replays a single directive onto a definition, the way the registry
// would during construction.
func apply(t *testing.T, d *definition.Definition, dir Directive) error {
	t.Helper()
	return dir.Apply(d)
}

func mutatorFixture(t *testing.T) *definition.Definition {
	t.Helper()
	d := definition.New("fixture", definition.Application)
	for _, dir := range []Directive{
		SoftwareSpec("hpl", PackageSpec{Spec: "hpl@2.3"}),
		SoftwareSpec("hpcg", PackageSpec{Spec: "hpcg@3.1"}),
		Workload("calc", WorkloadDef{Executables: []string{"execute"}}),
		Workload("calc_large", WorkloadDef{Executables: []string{"execute"}}),
		Workload("stream", WorkloadDef{Executables: []string{"execute"}}),
		WorkloadVariable("bcast", WorkloadVar{Default: "1", Workloads: []string{"calc", "calc_large"}}),
		WorkloadVariable("runtime", WorkloadVar{Default: "60", Workloads: []string{"calc", "stream"}}),
		Maintainers("someone"),
		Tags("benchmark"),
	} {
		require.NoError(t, dir.Apply(d))
	}
	return d
}

func TestPurgeAttrVals(t *testing.T) {
	d := mutatorFixture(t)
	require.NoError(t, apply(t, d, PurgeAttrVals("software_specs")))
	assert.Zero(t, d.SoftwareSpecs.Len())

	err := apply(t, d, PurgeAttrVals("maintainers"))
	var mutErr *MutationError
	require.True(t, errors.As(err, &mutErr))
}

func TestPurgeAttr(t *testing.T) {
	d := mutatorFixture(t)
	require.NoError(t, apply(t, d, PurgeAttr("maintainers")))
	assert.Empty(t, d.Maintainers)

	assert.Error(t, apply(t, d, PurgeAttr("software_specs")))
}

func TestRemoveAttrVal(t *testing.T) {
	t.Run("exact key removed once", func(t *testing.T) {
		d := mutatorFixture(t)
		require.NoError(t, apply(t, d, RemoveAttrVal("software_specs", "hpl")))
		assert.Equal(t, []string{"hpcg"}, d.SoftwareSpecs.Keys())

		// A second removal has nothing to match and must fail.
		err := apply(t, d, RemoveAttrVal("software_specs", "hpl"))
		require.Error(t, err)
		assert.ErrorContains(t, err, "matched no keys")
	})

	t.Run("glob removes every match", func(t *testing.T) {
		d := mutatorFixture(t)
		require.NoError(t, apply(t, d, RemoveAttrVal("workloads", "calc*")))
		assert.Equal(t, []string{"stream"}, d.Workloads.Keys())
	})

	t.Run("within scopes to matching sub-containers", func(t *testing.T) {
		d := mutatorFixture(t)
		require.NoError(t, apply(t, d, RemoveAttrVal("workload_variables", "bcast", "calc*")))

		calc, _ := d.WorkloadVariables.Get("calc")
		assert.False(t, calc.(*attrdict.Dict).Has("bcast"))
		assert.True(t, calc.(*attrdict.Dict).Has("runtime"))
		calcLarge, _ := d.WorkloadVariables.Get("calc_large")
		assert.False(t, calcLarge.(*attrdict.Dict).Has("bcast"))
	})
}

func TestUpdateAttrVal(t *testing.T) {
	t.Run("zero matches always fails", func(t *testing.T) {
		d := mutatorFixture(t)
		err := apply(t, d, UpdateAttrVal("software_specs", "wrf*", map[string]any{"pkg_spec": "x"}))
		require.Error(t, err)
		assert.ErrorContains(t, err, "matched no keys")
	})

	t.Run("exactly the matching entries are mutated", func(t *testing.T) {
		d := mutatorFixture(t)
		require.NoError(t, apply(t, d, UpdateAttrVal("software_specs", "hp*", map[string]any{
			"pkg_spec": "updated",
		})))

		for _, key := range []string{"hpl", "hpcg"} {
			v, _ := d.SoftwareSpecs.Get(key)
			assert.Equal(t, "updated", v.(map[string]any)["pkg_spec"])
		}
	})

	t.Run("replacement shape must match", func(t *testing.T) {
		d := mutatorFixture(t)
		err := apply(t, d, UpdateAttrVal("workloads", "calc", map[string]any{
			"executables": "execute", // string replacing []string
		}))
		require.Error(t, err)
		assert.ErrorContains(t, err, "does not match existing value type")
	})

	t.Run("no replacements fails", func(t *testing.T) {
		d := mutatorFixture(t)
		assert.Error(t, apply(t, d, UpdateAttrVal("workloads", "calc", nil)))
	})

	t.Run("maintainers and tags are excluded", func(t *testing.T) {
		d := mutatorFixture(t)
		for _, attr := range []string{"maintainers", "tags"} {
			err := apply(t, d, UpdateAttrVal(attr, "*", map[string]any{"x": "y"}))
			require.Error(t, err)
			assert.ErrorContains(t, err, "generic mutator")
		}
	})

	t.Run("within updates nested variable entries", func(t *testing.T) {
		d := mutatorFixture(t)
		require.NoError(t, apply(t, d, UpdateAttrVal("workload_variables", "bcast", map[string]any{
			"default": "6",
		}, "calc*")))

		calc, _ := d.WorkloadVariables.Get("calc")
		bcast, _ := calc.(*attrdict.Dict).Get("bcast")
		assert.Equal(t, "6", bcast.(map[string]any)["default"])

		// stream has no bcast variable and was never touched.
		stream, _ := d.WorkloadVariables.Get("stream")
		assert.False(t, stream.(*attrdict.Dict).Has("bcast"))
	})
}

func TestCopyAttrVal(t *testing.T) {
	t.Run("copies an entry under a new key", func(t *testing.T) {
		d := mutatorFixture(t)
		require.NoError(t, apply(t, d, CopyAttrVal("software_specs", "hpl", "hpl_ref")))

		orig, _ := d.SoftwareSpecs.Get("hpl")
		cp, ok := d.SoftwareSpecs.Get("hpl_ref")
		require.True(t, ok)
		assert.Equal(t, orig, cp)

		// The copy is independent of the original.
		cp.(map[string]any)["pkg_spec"] = "changed"
		assert.Equal(t, "hpl@2.3", orig.(map[string]any)["pkg_spec"])
	})

	t.Run("absent source fails", func(t *testing.T) {
		d := mutatorFixture(t)
		err := apply(t, d, CopyAttrVal("software_specs", "wrf", "wrf_ref"))
		require.Error(t, err)
		assert.ErrorContains(t, err, "source key not found")
	})

	t.Run("copies across sub-containers", func(t *testing.T) {
		d := mutatorFixture(t)
		require.NoError(t, apply(t, d, CopyAttrValAcross(
			"workload_variables", "calc", "bcast", "bcast_copy", "*")))

		for _, wl := range []string{"calc", "calc_large", "stream"} {
			sub, _ := d.WorkloadVariables.Get(wl)
			assert.True(t, sub.(*attrdict.Dict).Has("bcast_copy"), wl)
		}
	})
}
