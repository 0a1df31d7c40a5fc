package lang

import (
	"fmt"

	"github.com/expgrid/expgrid/internal/definition"
)

// Directives shared by every definition kind. Each constructor returns an
// inert Directive; nothing happens until the registry replays it onto an
// instance.

// Success criteria modes.
const (
	CriteriaModeString              = "string"
	CriteriaModeFOMComparison       = "fom_comparison"
	CriteriaModeApplicationFunction = "application_function"
)

// ValidCriteriaModes are the accepted success criteria modes.
var ValidCriteriaModes = []string{CriteriaModeString, CriteriaModeFOMComparison, CriteriaModeApplicationFunction}

// SupportedInjectionMethods are the accepted builtin injection policies.
var SupportedInjectionMethods = []string{"prepend", "append"}

// ArchivePattern adds a file pattern to be archived in addition to figure
// of merit logs during workspace archival.
func ArchivePattern(pat string) Directive {
	return Directive{
		Name: "archive_pattern",
		Apply: func(d *definition.Definition) error {
			d.ArchivePatterns.Set(pat, pat)
			return nil
		},
	}
}

// FigureOfMeritContext defines a named context that figures of merit can be
// scoped to. The regex uses named groups; the output format references them
// with {group_name} placeholders.
func FigureOfMeritContext(name, regex, outputFormat string) Directive {
	return Directive{
		Name: "figure_of_merit_context",
		Apply: func(d *definition.Definition) error {
			d.FigureOfMeritContexts.Set(name, map[string]any{
				"regex":         regex,
				"output_format": outputFormat,
			})
			return nil
		},
	}
}

// FOM describes a figure of merit declaration. LogFile defaults to
// "{log_file}" when empty.
type FOM struct {
	LogFile   string
	Regex     string
	GroupName string
	Units     string
	Contexts  []string
}

// FigureOfMerit declares a figure of merit to extract from an experiment's
// output via a named-group regular expression.
func FigureOfMerit(name string, fom FOM) Directive {
	return Directive{
		Name: "figure_of_merit",
		Apply: func(d *definition.Definition) error {
			logFile := fom.LogFile
			if logFile == "" {
				logFile = "{log_file}"
			}
			contexts := append([]string(nil), fom.Contexts...)
			d.FiguresOfMerit.Set(name, map[string]any{
				"log_file":   logFile,
				"regex":      fom.Regex,
				"group_name": fom.GroupName,
				"units":      fom.Units,
				"contexts":   contexts,
			})
			return nil
		},
	}
}

// PackageSpec describes an abstract software package requirement. The
// concretizer that maps it onto a package manager is an external
// collaborator; this core only records the declaration.
type PackageSpec struct {
	Spec         string
	CompilerSpec string
	Compiler     string
}

// SoftwareSpec declares a software package this definition needs in order
// to execute.
func SoftwareSpec(name string, spec PackageSpec) Directive {
	return Directive{
		Name: "software_spec",
		Apply: func(d *definition.Definition) error {
			d.SoftwareSpecs.Set(name, map[string]any{
				"pkg_spec":      spec.Spec,
				"compiler_spec": spec.CompilerSpec,
				"compiler":      spec.Compiler,
			})
			return nil
		},
	}
}

// DefaultCompiler declares the default compiler used with this definition.
// Software specs reference a compiler that has been added this way.
func DefaultCompiler(name string, spec PackageSpec) Directive {
	return Directive{
		Name: "default_compiler",
		Apply: func(d *definition.Definition) error {
			d.DefaultCompilers.Set(name, map[string]any{
				"pkg_spec":      spec.Spec,
				"compiler_spec": spec.CompilerSpec,
				"compiler":      spec.Compiler,
			})
			return nil
		},
	}
}

// PackageManagerConfig declares a config option passed through to the
// package manager, which owns the logic of applying it.
func PackageManagerConfig(name, config string) Directive {
	return Directive{
		Name: "package_manager_config",
		Apply: func(d *definition.Definition) error {
			d.PackageManagerConfigs.Set(name, config)
			return nil
		},
	}
}

// RequiredPackage declares a package that must be present for this
// definition to function.
func RequiredPackage(name string) Directive {
	return Directive{
		Name: "required_package",
		Apply: func(d *definition.Definition) error {
			d.RequiredPackages.Set(name, true)
			return nil
		},
	}
}

// Criterion describes a success criteria declaration. File defaults to
// "{log_file}" and FOMContext to "null" when empty.
type Criterion struct {
	Mode       string
	Match      string
	File       string
	FOMName    string
	FOMContext string
	Formula    string
}

// SuccessCriteria declares a rule checked during analyze to decide whether
// an experiment exited properly. An unknown mode fails construction before
// any experiment runs.
func SuccessCriteria(name string, c Criterion) Directive {
	return Directive{
		Name: "success_criteria",
		Apply: func(d *definition.Definition) error {
			valid := false
			for _, m := range ValidCriteriaModes {
				if c.Mode == m {
					valid = true
					break
				}
			}
			if !valid {
				return fmt.Errorf("success criteria %q has invalid mode %q (valid modes are %v)",
					name, c.Mode, ValidCriteriaModes)
			}

			file := c.File
			if file == "" {
				file = "{log_file}"
			}
			fomContext := c.FOMContext
			if fomContext == "" {
				fomContext = "null"
			}
			d.SuccessCriteria.Set(name, map[string]any{
				"mode":        c.Mode,
				"match":       c.Match,
				"file":        file,
				"fom_name":    c.FOMName,
				"fom_context": fomContext,
				"formula":     c.Formula,
			})
			return nil
		},
	}
}

// Builtin describes a registered builtin: a named executable-generating
// unit. Required builtins are injected into any workload whose explicit
// executable list omits them, at the position the injection method implies.
type Builtin struct {
	Required        bool
	InjectionMethod string
}

// RegisterBuiltin records a builtin under its fully qualified name. An
// unsupported injection method aborts construction of the declaring type.
func RegisterBuiltin(name string, b Builtin) Directive {
	return Directive{
		Name: "register_builtin",
		Apply: func(d *definition.Definition) error {
			method := b.InjectionMethod
			if method == "" {
				method = "prepend"
			}
			supported := false
			for _, m := range SupportedInjectionMethods {
				if method == m {
					supported = true
					break
				}
			}
			if !supported {
				return fmt.Errorf("%s %q has an invalid injection method of %q (valid methods are %v)",
					d.Kind, d.Name, method, SupportedInjectionMethods)
			}

			d.Builtins.Set(d.BuiltinName(name), map[string]any{
				"name":             name,
				"required":         b.Required,
				"injection_method": method,
			})
			return nil
		},
	}
}

// Maintainers merges GitHub usernames into the maintainer set.
func Maintainers(names ...string) Directive {
	return Directive{
		Name: "maintainers",
		Apply: func(d *definition.Definition) error {
			d.AddMaintainers(names...)
			return nil
		},
	}
}

// Tags merges values into the tag set.
func Tags(values ...string) Directive {
	return Directive{
		Name: "tags",
		Apply: func(d *definition.Definition) error {
			d.AddTags(values...)
			return nil
		},
	}
}
