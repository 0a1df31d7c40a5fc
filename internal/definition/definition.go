// Package definition holds the polymorphic declaration instance produced by
// replaying a type's directive list. A Definition is never authored by hand;
// it is constructed by the lang registry and then consumed by the experiment
// set builder.
package definition

import (
	"fmt"
	"sort"

	"github.com/expgrid/expgrid/internal/attrdict"
)

// Kind discriminates the concrete definition types.
type Kind int

const (
	Application Kind = iota
	Modifier
	PackageManager
)

func (k Kind) String() string {
	switch k {
	case Application:
		return "application"
	case Modifier:
		return "modifier"
	case PackageManager:
		return "package_manager"
	default:
		return "unknown"
	}
}

// Definition is a fully built declaration instance. Each attribute container
// is owned by this instance; the registry deep-copies on construction so
// sibling instances of the same type never share state.
type Definition struct {
	Name string
	Kind Kind

	Executables           *attrdict.Dict
	Workloads             *attrdict.Dict
	WorkloadVariables     *attrdict.Dict
	FiguresOfMerit        *attrdict.Dict
	FigureOfMeritContexts *attrdict.Dict
	Inputs                *attrdict.Dict
	SoftwareSpecs         *attrdict.Dict
	DefaultCompilers      *attrdict.Dict
	RequiredPackages      *attrdict.Dict
	PackageManagerConfigs *attrdict.Dict
	SuccessCriteria       *attrdict.Dict
	Builtins              *attrdict.Dict
	ArchivePatterns       *attrdict.Dict
	EnvironmentVariables  *attrdict.Dict

	// Maintainers and Tags are plain sorted sets with dedicated directives;
	// the generic mutators refuse to touch them.
	Maintainers []string
	Tags        []string
}

// New creates an empty Definition with all containers initialized.
func New(name string, kind Kind) *Definition {
	return &Definition{
		Name:                  name,
		Kind:                  kind,
		Executables:           attrdict.New(),
		Workloads:             attrdict.New(),
		WorkloadVariables:     attrdict.New(),
		FiguresOfMerit:        attrdict.New(),
		FigureOfMeritContexts: attrdict.New(),
		Inputs:                attrdict.New(),
		SoftwareSpecs:         attrdict.New(),
		DefaultCompilers:      attrdict.New(),
		RequiredPackages:      attrdict.New(),
		PackageManagerConfigs: attrdict.New(),
		SuccessCriteria:       attrdict.New(),
		Builtins:              attrdict.New(),
		ArchivePatterns:       attrdict.New(),
		EnvironmentVariables:  attrdict.New(),
	}
}

// ContainerNames lists every keyed attribute container, in declaration
// order. Maintainers and tags are deliberately absent.
var ContainerNames = []string{
	"executables",
	"workloads",
	"workload_variables",
	"figures_of_merit",
	"figure_of_merit_contexts",
	"inputs",
	"software_specs",
	"default_compilers",
	"required_packages",
	"package_manager_configs",
	"success_criteria",
	"builtins",
	"archive_patterns",
	"environment_variables",
}

// Container resolves an attribute container by its declarative name.
// Maintainers and tags are not keyed containers and resolve to an error.
func (d *Definition) Container(name string) (*attrdict.Dict, error) {
	switch name {
	case "executables":
		return d.Executables, nil
	case "workloads":
		return d.Workloads, nil
	case "workload_variables":
		return d.WorkloadVariables, nil
	case "figures_of_merit":
		return d.FiguresOfMerit, nil
	case "figure_of_merit_contexts":
		return d.FigureOfMeritContexts, nil
	case "inputs":
		return d.Inputs, nil
	case "software_specs":
		return d.SoftwareSpecs, nil
	case "default_compilers":
		return d.DefaultCompilers, nil
	case "required_packages":
		return d.RequiredPackages, nil
	case "package_manager_configs":
		return d.PackageManagerConfigs, nil
	case "success_criteria":
		return d.SuccessCriteria, nil
	case "builtins":
		return d.Builtins, nil
	case "archive_patterns":
		return d.ArchivePatterns, nil
	case "environment_variables":
		return d.EnvironmentVariables, nil
	case "maintainers", "tags":
		return nil, fmt.Errorf("attribute %q of %s %q is not a keyed container", name, d.Kind, d.Name)
	default:
		return nil, fmt.Errorf("%s %q has no attribute container %q", d.Kind, d.Name, name)
	}
}

// BuiltinName returns the fully qualified name of a builtin declared on this
// definition. Applications use the plain builtin namespace; modifiers embed
// their own name so chained modifiers cannot collide.
func (d *Definition) BuiltinName(name string) string {
	if d.Kind == Modifier {
		return fmt.Sprintf("modifier_builtin::%s::%s", d.Name, name)
	}
	return fmt.Sprintf("builtin::%s", name)
}

// AddMaintainers merges names into the maintainer set, keeping it sorted
// and free of duplicates.
func (d *Definition) AddMaintainers(names ...string) {
	d.Maintainers = mergeSet(d.Maintainers, names)
}

// AddTags merges values into the tag set, keeping it sorted and free of
// duplicates.
func (d *Definition) AddTags(values ...string) {
	d.Tags = mergeSet(d.Tags, values)
}

// Copy returns a deep copy of the definition. Mutating the copy's
// containers never affects the original.
func (d *Definition) Copy() *Definition {
	out := New(d.Name, d.Kind)
	out.Executables = d.Executables.Copy()
	out.Workloads = d.Workloads.Copy()
	out.WorkloadVariables = d.WorkloadVariables.Copy()
	out.FiguresOfMerit = d.FiguresOfMerit.Copy()
	out.FigureOfMeritContexts = d.FigureOfMeritContexts.Copy()
	out.Inputs = d.Inputs.Copy()
	out.SoftwareSpecs = d.SoftwareSpecs.Copy()
	out.DefaultCompilers = d.DefaultCompilers.Copy()
	out.RequiredPackages = d.RequiredPackages.Copy()
	out.PackageManagerConfigs = d.PackageManagerConfigs.Copy()
	out.SuccessCriteria = d.SuccessCriteria.Copy()
	out.Builtins = d.Builtins.Copy()
	out.ArchivePatterns = d.ArchivePatterns.Copy()
	out.EnvironmentVariables = d.EnvironmentVariables.Copy()
	out.Maintainers = append([]string(nil), d.Maintainers...)
	out.Tags = append([]string(nil), d.Tags...)
	return out
}

func mergeSet(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	for _, v := range added {
		seen[v] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
