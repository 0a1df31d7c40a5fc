// Package hcldefs loads application, modifier and package manager
// definitions written as HCL manifests and registers them as definition
// types. A manifest holds one or more labelled blocks:
//
//	application "hpl" {
//	  executable "execute" {
//	    template = ["./xhpl"]
//	    use_mpi  = true
//	  }
//	  workload "standard" {
//	    executables = ["execute"]
//	  }
//	}
//
// Blocks translate one-to-one into the directive API, so manifests and
// Go-defined types share the same registry and inheritance rules.
package hcldefs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/expgrid/expgrid/internal/ctxlog"
	"github.com/expgrid/expgrid/internal/definition"
	"github.com/expgrid/expgrid/internal/lang"
)

type fileRoot struct {
	Applications    []*typeBlock `hcl:"application,block"`
	Modifiers       []*typeBlock `hcl:"modifier,block"`
	PackageManagers []*typeBlock `hcl:"package_manager,block"`
}

type typeBlock struct {
	Name     string  `hcl:"name,label"`
	Inherits *string `hcl:"inherits,optional"`

	Maintainers      []string `hcl:"maintainers,optional"`
	Tags             []string `hcl:"tags,optional"`
	ArchivePatterns  []string `hcl:"archive_patterns,optional"`
	RequiredPackages []string `hcl:"required_packages,optional"`

	Executables       []execBlock       `hcl:"executable,block"`
	Workloads         []workloadBlock   `hcl:"workload,block"`
	WorkloadVariables []wlVarBlock      `hcl:"workload_variable,block"`
	FiguresOfMerit    []fomBlock        `hcl:"figure_of_merit,block"`
	FomContexts       []fomContextBlock `hcl:"figure_of_merit_context,block"`
	Inputs            []inputBlock      `hcl:"input,block"`
	SoftwareSpecs     []specBlock       `hcl:"software_spec,block"`
	DefaultCompilers  []specBlock       `hcl:"default_compiler,block"`
	PMConfigs         []pmConfigBlock   `hcl:"package_manager_config,block"`
	SuccessCriteria   []criterionBlock  `hcl:"success_criteria,block"`
	Builtins          []builtinBlock    `hcl:"builtin,block"`
	EnvVars           []envVarBlock     `hcl:"environment_variable,block"`

	Removals []removeBlock `hcl:"remove,block"`
	Updates  []updateBlock `hcl:"update,block"`
	Purges   []purgeBlock  `hcl:"purge,block"`

	kind definition.Kind
}

type execBlock struct {
	Name     string   `hcl:"name,label"`
	Template []string `hcl:"template"`
	UseMPI   bool     `hcl:"use_mpi,optional"`
	Redirect string   `hcl:"redirect,optional"`
}

type workloadBlock struct {
	Name        string   `hcl:"name,label"`
	Executables []string `hcl:"executables"`
	Inputs      []string `hcl:"inputs,optional"`
}

type wlVarBlock struct {
	Name        string   `hcl:"name,label"`
	Default     string   `hcl:"default"`
	Description string   `hcl:"description,optional"`
	Workloads   []string `hcl:"workloads"`
}

type fomBlock struct {
	Name      string   `hcl:"name,label"`
	LogFile   string   `hcl:"log_file,optional"`
	Regex     string   `hcl:"regex"`
	GroupName string   `hcl:"group_name"`
	Units     string   `hcl:"units,optional"`
	Contexts  []string `hcl:"contexts,optional"`
}

type fomContextBlock struct {
	Name         string `hcl:"name,label"`
	Regex        string `hcl:"regex"`
	OutputFormat string `hcl:"output_format"`
}

type inputBlock struct {
	Name        string `hcl:"name,label"`
	URL         string `hcl:"url"`
	SHA256      string `hcl:"sha256,optional"`
	Description string `hcl:"description,optional"`
}

type specBlock struct {
	Name         string `hcl:"name,label"`
	PkgSpec      string `hcl:"pkg_spec"`
	CompilerSpec string `hcl:"compiler_spec,optional"`
	Compiler     string `hcl:"compiler,optional"`
}

type pmConfigBlock struct {
	Name   string `hcl:"name,label"`
	Config string `hcl:"config"`
}

type criterionBlock struct {
	Name       string `hcl:"name,label"`
	Mode       string `hcl:"mode"`
	Match      string `hcl:"match,optional"`
	File       string `hcl:"file,optional"`
	FOMName    string `hcl:"fom_name,optional"`
	FOMContext string `hcl:"fom_context,optional"`
	Formula    string `hcl:"formula,optional"`
}

type builtinBlock struct {
	Name            string `hcl:"name,label"`
	Required        bool   `hcl:"required,optional"`
	InjectionMethod string `hcl:"injection_method,optional"`
}

type envVarBlock struct {
	Name        string `hcl:"name,label"`
	Value       string `hcl:"value"`
	Description string `hcl:"description,optional"`
}

type removeBlock struct {
	Attr    string   `hcl:"attr,label"`
	Pattern string   `hcl:"pattern"`
	Within  []string `hcl:"within,optional"`
}

type updateBlock struct {
	Attr    string            `hcl:"attr,label"`
	Pattern string            `hcl:"pattern"`
	Set     map[string]string `hcl:"set"`
	Within  []string          `hcl:"within,optional"`
}

type purgeBlock struct {
	Attr string `hcl:"attr,label"`
}

// Load discovers .hcl manifests under the given paths, translates every
// definition block into directives, and registers the resulting types.
// Types using inherits are defined after their parents regardless of file
// order; a parent may also come from an earlier Load or a Go-defined type.
func Load(ctx context.Context, reg *lang.Registry, paths ...string) error {
	logger := ctxlog.FromContext(ctx)

	files, err := findManifests(paths)
	if err != nil {
		return err
	}
	logger.Debug("discovered definition manifests", "count", len(files))

	parser := hclparse.NewParser()
	var blocks []*typeBlock
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return fmt.Errorf("failed to parse %s: %s", file, diags.Error())
		}
		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return fmt.Errorf("failed to decode %s: %s", file, diags.Error())
		}
		for _, b := range root.Applications {
			b.kind = definition.Application
			blocks = append(blocks, b)
		}
		for _, b := range root.Modifiers {
			b.kind = definition.Modifier
			blocks = append(blocks, b)
		}
		for _, b := range root.PackageManagers {
			b.kind = definition.PackageManager
			blocks = append(blocks, b)
		}
	}

	return defineAll(reg, blocks)
}

// findManifests walks each path collecting .hcl files. A path naming a file
// is taken as-is.
func findManifests(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(p, ".hcl") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// defineAll registers blocks parents-first so inherits references resolve
// within one load.
func defineAll(reg *lang.Registry, blocks []*typeBlock) error {
	pending := make(map[string]*typeBlock, len(blocks))
	var order []string
	for _, b := range blocks {
		if _, dup := pending[b.Name]; dup {
			return fmt.Errorf("definition %q declared more than once", b.Name)
		}
		pending[b.Name] = b
		order = append(order, b.Name)
	}

	defined := make(map[string]bool)
	var define func(name string, seen map[string]bool) error
	define = func(name string, seen map[string]bool) error {
		if defined[name] {
			return nil
		}
		if seen[name] {
			return fmt.Errorf("definition %q inherits from itself transitively", name)
		}
		seen[name] = true
		b := pending[name]

		var parent *lang.TypeSpec
		if b.Inherits != nil {
			parentName := *b.Inherits
			if _, inBatch := pending[parentName]; inBatch {
				if err := define(parentName, seen); err != nil {
					return err
				}
			}
			p, ok := reg.Lookup(parentName)
			if !ok {
				return fmt.Errorf("definition %q inherits unknown type %q", name, parentName)
			}
			parent = p
		}

		if err := reg.Define(lang.NewType(b.Name, b.kind, parent, b.directives()...)); err != nil {
			return err
		}
		defined[name] = true
		return nil
	}

	for _, name := range order {
		if err := define(name, map[string]bool{}); err != nil {
			return err
		}
	}
	return nil
}

// directives translates one block into the directive API. Population
// directives replay first, then mutators, so a derived manifest can remove
// or rewrite what its parent declared.
func (b *typeBlock) directives() []lang.Directive {
	var ds []lang.Directive

	if len(b.Maintainers) > 0 {
		ds = append(ds, lang.Maintainers(b.Maintainers...))
	}
	if len(b.Tags) > 0 {
		ds = append(ds, lang.Tags(b.Tags...))
	}
	for _, pat := range b.ArchivePatterns {
		ds = append(ds, lang.ArchivePattern(pat))
	}
	for _, e := range b.Executables {
		ds = append(ds, lang.Executable(e.Name, lang.Exec{
			Template: e.Template,
			UseMPI:   e.UseMPI,
			Redirect: e.Redirect,
		}))
	}
	for _, w := range b.Workloads {
		ds = append(ds, lang.Workload(w.Name, lang.WorkloadDef{
			Executables: w.Executables,
			Inputs:      w.Inputs,
		}))
	}
	for _, v := range b.WorkloadVariables {
		ds = append(ds, lang.WorkloadVariable(v.Name, lang.WorkloadVar{
			Default:     v.Default,
			Description: v.Description,
			Workloads:   v.Workloads,
		}))
	}
	for _, c := range b.FomContexts {
		ds = append(ds, lang.FigureOfMeritContext(c.Name, c.Regex, c.OutputFormat))
	}
	for _, f := range b.FiguresOfMerit {
		ds = append(ds, lang.FigureOfMerit(f.Name, lang.FOM{
			LogFile:   f.LogFile,
			Regex:     f.Regex,
			GroupName: f.GroupName,
			Units:     f.Units,
			Contexts:  f.Contexts,
		}))
	}
	for _, in := range b.Inputs {
		ds = append(ds, lang.Input(in.Name, lang.InputFile{
			URL:         in.URL,
			SHA256:      in.SHA256,
			Description: in.Description,
		}))
	}
	for _, s := range b.SoftwareSpecs {
		ds = append(ds, lang.SoftwareSpec(s.Name, lang.PackageSpec{
			Spec:         s.PkgSpec,
			CompilerSpec: s.CompilerSpec,
			Compiler:     s.Compiler,
		}))
	}
	for _, s := range b.DefaultCompilers {
		ds = append(ds, lang.DefaultCompiler(s.Name, lang.PackageSpec{
			Spec:         s.PkgSpec,
			CompilerSpec: s.CompilerSpec,
			Compiler:     s.Compiler,
		}))
	}
	for _, c := range b.PMConfigs {
		ds = append(ds, lang.PackageManagerConfig(c.Name, c.Config))
	}
	for _, p := range b.RequiredPackages {
		ds = append(ds, lang.RequiredPackage(p))
	}
	for _, c := range b.SuccessCriteria {
		ds = append(ds, lang.SuccessCriteria(c.Name, lang.Criterion{
			Mode:       c.Mode,
			Match:      c.Match,
			File:       c.File,
			FOMName:    c.FOMName,
			FOMContext: c.FOMContext,
			Formula:    c.Formula,
		}))
	}
	for _, bi := range b.Builtins {
		ds = append(ds, lang.RegisterBuiltin(bi.Name, lang.Builtin{
			Required:        bi.Required,
			InjectionMethod: bi.InjectionMethod,
		}))
	}
	for _, e := range b.EnvVars {
		ds = append(ds, lang.EnvironmentVariable(e.Name, e.Value, e.Description))
	}

	for _, p := range b.Purges {
		ds = append(ds, lang.PurgeAttrVals(p.Attr))
	}
	for _, rm := range b.Removals {
		ds = append(ds, lang.RemoveAttrVal(rm.Attr, rm.Pattern, rm.Within...))
	}
	for _, up := range b.Updates {
		repl := make(map[string]any, len(up.Set))
		for k, v := range up.Set {
			repl[k] = v
		}
		ds = append(ds, lang.UpdateAttrVal(up.Attr, up.Pattern, repl, up.Within...))
	}
	return ds
}
