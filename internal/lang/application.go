package lang

import (
	"fmt"

	"github.com/expgrid/expgrid/internal/attrdict"
	"github.com/expgrid/expgrid/internal/definition"
)

// Directives specific to application definitions.

// Exec describes an executable declaration. Redirect defaults to
// "{log_file}" when empty.
type Exec struct {
	Template []string
	UseMPI   bool
	Redirect string
}

// Executable declares a named command template. Template lines keep their
// {var} placeholders; expansion happens per experiment instance.
func Executable(name string, e Exec) Directive {
	return Directive{
		Name: "executable",
		Apply: func(d *definition.Definition) error {
			redirect := e.Redirect
			if redirect == "" {
				redirect = "{log_file}"
			}
			d.Executables.Set(name, map[string]any{
				"template": append([]string(nil), e.Template...),
				"use_mpi":  e.UseMPI,
				"redirect": redirect,
			})
			return nil
		},
	}
}

// WorkloadDef describes a workload declaration: the ordered executables it
// runs and the input files it needs.
type WorkloadDef struct {
	Executables []string
	Inputs      []string
}

// Workload declares a named workload of this application.
func Workload(name string, w WorkloadDef) Directive {
	return Directive{
		Name: "workload",
		Apply: func(d *definition.Definition) error {
			if len(w.Executables) == 0 {
				return fmt.Errorf("workload %q declares no executables", name)
			}
			d.Workloads.Set(name, map[string]any{
				"executables": append([]string(nil), w.Executables...),
				"inputs":      append([]string(nil), w.Inputs...),
			})
			return nil
		},
	}
}

// WorkloadVar describes a workload variable declaration.
type WorkloadVar struct {
	Default     string
	Description string
	Workloads   []string
}

// WorkloadVariable declares a variable scoped to one or more workloads. The
// workload_variables container is a mapping of workload name to a nested
// container of variable entries.
func WorkloadVariable(name string, v WorkloadVar) Directive {
	return Directive{
		Name: "workload_variable",
		Apply: func(d *definition.Definition) error {
			if len(v.Workloads) == 0 {
				return fmt.Errorf("workload variable %q names no workloads", name)
			}
			for _, wl := range v.Workloads {
				var sub *attrdict.Dict
				if existing, ok := d.WorkloadVariables.Get(wl); ok {
					sub = existing.(*attrdict.Dict)
				} else {
					sub = attrdict.New()
					d.WorkloadVariables.Set(wl, sub)
				}
				sub.Set(name, map[string]any{
					"default":     v.Default,
					"description": v.Description,
				})
			}
			return nil
		},
	}
}

// InputFile describes an input file declaration.
type InputFile struct {
	URL         string
	Description string
	SHA256      string
}

// Input declares a named input file fetched before a workload runs.
// Download and verification belong to an external collaborator; this core
// records the declaration.
func Input(name string, f InputFile) Directive {
	return Directive{
		Name: "input_file",
		Apply: func(d *definition.Definition) error {
			d.Inputs.Set(name, map[string]any{
				"url":         f.URL,
				"description": f.Description,
				"sha256":      f.SHA256,
			})
			return nil
		},
	}
}

// EnvironmentVariable declares an environment variable exported for every
// experiment of this definition.
func EnvironmentVariable(name, value, description string) Directive {
	return Directive{
		Name: "environment_variable",
		Apply: func(d *definition.Definition) error {
			d.EnvironmentVariables.Set(name, map[string]any{
				"value":       value,
				"description": description,
			})
			return nil
		},
	}
}
