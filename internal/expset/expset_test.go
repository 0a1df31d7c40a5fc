package expset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expgrid/expgrid/internal/definition"
	"github.com/expgrid/expgrid/internal/lang"
)

func testDefinition(t *testing.T) *definition.Definition {
	t.Helper()
	reg := lang.NewRegistry()
	spec := lang.NewType("bench", definition.Application, nil,
		lang.Executable("pre", lang.Exec{Template: []string{"prepare {workload_name}"}}),
		lang.Executable("execute", lang.Exec{Template: []string{"run -n {n_ranks}"}, UseMPI: true}),
		lang.Workload("w", lang.WorkloadDef{Executables: []string{"pre", "execute"}}),
		lang.Workload("w2", lang.WorkloadDef{Executables: []string{"execute"}}),
		lang.WorkloadVariable("n_ranks", lang.WorkloadVar{Default: "1", Workloads: []string{"w", "w2"}}),
		lang.RegisterBuiltin("env_vars", lang.Builtin{Required: true, InjectionMethod: "prepend"}),
		lang.RegisterBuiltin("teardown", lang.Builtin{Required: true, InjectionMethod: "append"}),
		lang.RegisterBuiltin("optional_probe", lang.Builtin{Required: false}),
		lang.SuccessCriteria("done", lang.Criterion{Mode: "string", Match: "Done"}),
	)
	require.NoError(t, reg.Define(spec))
	def, err := reg.Build("bench")
	require.NoError(t, err)
	return def
}

func TestMatrixExpansion(t *testing.T) {
	b := &Builder{
		Definition: testDefinition(t),
		Workloads: []WorkloadSelection{{
			Name: "w",
			Experiments: []ExperimentSpec{{
				Name: "scaling",
				Variables: map[string]any{
					"x": []any{"1", "2"},
					"y": []any{"a", "b"},
				},
				Matrices: [][]string{{"x", "y"}},
			}},
		}},
	}

	set, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, set.Len())

	// Deterministic, reproducible name order.
	want := []string{
		"bench.w.scaling_1_a",
		"bench.w.scaling_1_b",
		"bench.w.scaling_2_a",
		"bench.w.scaling_2_b",
	}
	assert.Equal(t, want, set.Names())

	// Every instance carries its own (x, y) binding.
	exp, ok := set.Get("bench.w.scaling_2_b")
	require.True(t, ok)
	x, _ := exp.Variables.Lookup("x")
	y, _ := exp.Variables.Lookup("y")
	assert.Equal(t, "2", x)
	assert.Equal(t, "b", y)

	// Re-running expansion yields identical names and ordering.
	again, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, set.Names(), again.Names())
}

func TestVectorExpansion(t *testing.T) {
	b := &Builder{
		Definition: testDefinition(t),
		Workloads: []WorkloadSelection{{
			Name: "w",
			Experiments: []ExperimentSpec{{
				Name: "sweep",
				Variables: map[string]any{
					"n_ranks": []any{"2", "4", "8"},
				},
			}},
		}},
	}

	set, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"bench.w.sweep_2",
		"bench.w.sweep_4",
		"bench.w.sweep_8",
	}, set.Names())
}

func TestVectorLengthMismatch(t *testing.T) {
	b := &Builder{
		Definition: testDefinition(t),
		Workloads: []WorkloadSelection{{
			Name: "w",
			Experiments: []ExperimentSpec{{
				Name: "bad",
				Variables: map[string]any{
					"a": []any{"1", "2"},
					"b": []any{"x", "y", "z"},
				},
			}},
		}},
	}

	_, err := b.Build(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "equal lengths")
}

func TestMalformedMatrix(t *testing.T) {
	b := &Builder{
		Definition: testDefinition(t),
		Workloads: []WorkloadSelection{{
			Name: "w",
			Experiments: []ExperimentSpec{{
				Name:     "bad",
				Matrices: [][]string{{"missing_var"}},
			}},
		}},
	}

	_, err := b.Build(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "missing_var")
	assert.ErrorContains(t, err, "not a declared list variable")
}

func TestBuiltinInjection(t *testing.T) {
	b := &Builder{
		Definition: testDefinition(t),
		Workloads: []WorkloadSelection{{
			Name:        "w",
			Experiments: []ExperimentSpec{{Name: "run"}},
		}},
	}

	set, err := b.Build(context.Background())
	require.NoError(t, err)
	exp, ok := set.Get("bench.w.run")
	require.True(t, ok)

	// Required prepend builtin lands at index 0, required append at the
	// end, optional builtins are not injected at all.
	assert.Equal(t, []string{
		"builtin::env_vars", "pre", "execute", "builtin::teardown",
	}, exp.Executables)
}

func TestBuiltinNotReinjected(t *testing.T) {
	def := testDefinition(t)
	// The workload already lists the required builtin explicitly.
	def.Workloads.Set("w", map[string]any{
		"executables": []string{"pre", "builtin::env_vars", "execute"},
		"inputs":      []string{},
	})

	b := &Builder{
		Definition: def,
		Workloads: []WorkloadSelection{{
			Name:        "w",
			Experiments: []ExperimentSpec{{Name: "run"}},
		}},
	}

	set, err := b.Build(context.Background())
	require.NoError(t, err)
	exp, _ := set.Get("bench.w.run")
	assert.Equal(t, []string{
		"pre", "builtin::env_vars", "execute", "builtin::teardown",
	}, exp.Executables)
}

func TestChainResolution(t *testing.T) {
	b := &Builder{
		Definition: testDefinition(t),
		Workloads: []WorkloadSelection{
			{
				Name:        "w",
				Experiments: []ExperimentSpec{{Name: "first"}},
			},
			{
				Name: "w2",
				Experiments: []ExperimentSpec{{
					Name:               "second",
					ChainedExperiments: []string{"bench.w.*"},
				}},
			},
		},
	}

	set, err := b.Build(context.Background())
	require.NoError(t, err)

	second, ok := set.Get("bench.w2.second")
	require.True(t, ok)
	assert.Equal(t, []string{"bench.w.first"}, second.ChainOrder)
}

func TestChainOverlappingGlobs(t *testing.T) {
	b := &Builder{
		Definition: testDefinition(t),
		Workloads: []WorkloadSelection{
			{
				Name:        "w",
				Experiments: []ExperimentSpec{{Name: "base"}},
			},
			{
				Name: "w2",
				Experiments: []ExperimentSpec{{
					Name:               "second",
					ChainedExperiments: []string{"bench.w.*", "*.base"},
				}},
			},
		},
	}

	set, err := b.Build(context.Background())
	require.NoError(t, err)

	second, ok := set.Get("bench.w2.second")
	require.True(t, ok)
	assert.Equal(t, []string{"bench.w.base"}, second.ChainOrder)
}

func TestChainUnresolvableReference(t *testing.T) {
	b := &Builder{
		Definition: testDefinition(t),
		Workloads: []WorkloadSelection{{
			Name: "w",
			Experiments: []ExperimentSpec{{
				Name:               "solo",
				ChainedExperiments: []string{"bench.w.never_declared"},
			}},
		}},
	}

	_, err := b.Build(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "does not resolve to any known experiment")
}

func TestChainCycle(t *testing.T) {
	b := &Builder{
		Definition: testDefinition(t),
		Workloads: []WorkloadSelection{
			{
				Name: "w",
				Experiments: []ExperimentSpec{{
					Name:               "a",
					ChainedExperiments: []string{"bench.w2.b"},
				}},
			},
			{
				Name: "w2",
				Experiments: []ExperimentSpec{{
					Name:               "b",
					ChainedExperiments: []string{"bench.w.a"},
				}},
			},
		},
	}

	_, err := b.Build(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "cycle")
}

func TestDeferredExpansion(t *testing.T) {
	b := &Builder{
		Definition:    testDefinition(t),
		WorkspaceVars: map[string]any{"mpi_command": "mpirun -n {n_ranks}"},
		Workloads: []WorkloadSelection{{
			Name: "w",
			Experiments: []ExperimentSpec{{
				Name:      "run",
				Variables: map[string]any{"n_ranks": "32"},
			}},
		}},
	}

	set, err := b.Build(context.Background())
	require.NoError(t, err)
	exp, _ := set.Get("bench.w.run")

	// Expansion happens lazily against the final merged namespace, so the
	// workspace-level template sees the experiment-level override.
	out, err := exp.Expand("{mpi_command} ./app")
	require.NoError(t, err)
	assert.Equal(t, "mpirun -n 32 ./app", out)
}

func TestWorkloadVariableDefaults(t *testing.T) {
	b := &Builder{
		Definition: testDefinition(t),
		Workloads: []WorkloadSelection{{
			Name:        "w",
			Experiments: []ExperimentSpec{{Name: "run"}},
		}},
	}

	set, err := b.Build(context.Background())
	require.NoError(t, err)
	exp, _ := set.Get("bench.w.run")

	out, err := exp.Expand("run -n {n_ranks}")
	require.NoError(t, err)
	assert.Equal(t, "run -n 1", out)
}

func TestUnknownWorkload(t *testing.T) {
	b := &Builder{
		Definition: testDefinition(t),
		Workloads: []WorkloadSelection{{
			Name:        "nope",
			Experiments: []ExperimentSpec{{Name: "run"}},
		}},
	}

	_, err := b.Build(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "no workload")
}
