package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/expgrid/expgrid/internal/criteria"
	"github.com/expgrid/expgrid/internal/ctxlog"
	"github.com/expgrid/expgrid/internal/envvars"
	"github.com/expgrid/expgrid/internal/results"
)

// ExecuteScriptName is the rendered per-experiment execution script.
const ExecuteScriptName = "execute_experiment"

// SoftwareEnvName is the rendered per-experiment software environment file.
const SoftwareEnvName = "software_environment.yaml"

func (r *Runner) makeExperimentDir(ctx context.Context, st *instanceState, opts Options) error {
	dir := r.Workspace.ExperimentDir(st.exp.Name)
	if opts.DryRun {
		ctxlog.FromContext(ctx).Info("dry run: would create experiment directory", "dir", dir)
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// renderExecutables writes the experiment's execution script: env-vars
// actions first, then each executable's expanded command lines in injection
// order.
func (r *Runner) renderExecutables(ctx context.Context, st *instanceState, opts Options) error {
	var lines []string
	lines = append(lines, "#!/bin/sh")
	lines = append(lines, fmt.Sprintf("# Execution script for %s", st.exp.Name))

	for _, name := range st.exp.Executables {
		if isBuiltin(name) {
			rendered, err := r.renderBuiltin(st, name)
			if err != nil {
				return err
			}
			lines = append(lines, rendered...)
			continue
		}
		cmds, err := r.renderExecutable(st, name)
		if err != nil {
			return err
		}
		lines = append(lines, cmds...)
	}

	script := strings.Join(lines, "\n") + "\n"
	if opts.DryRun {
		ctxlog.FromContext(ctx).Info("dry run: would render execution script",
			"experiment", st.exp.Name, "commands", len(lines))
		return nil
	}
	path := filepath.Join(r.Workspace.ExperimentDir(st.exp.Name), ExecuteScriptName)
	return os.WriteFile(path, []byte(script), 0o755)
}

func isBuiltin(name string) bool {
	return strings.HasPrefix(name, "builtin::") || strings.HasPrefix(name, "modifier_builtin::")
}

// renderBuiltin expands one builtin into script lines. A renderer registered
// under the builtin's base name wins; env_vars emits the experiment's merged
// env-vars actions; a builtin with neither leaves a trace comment so script
// order stays visible.
func (r *Runner) renderBuiltin(st *instanceState, name string) ([]string, error) {
	if _, ok := st.def.Builtins.Get(name); !ok {
		return nil, fmt.Errorf("executable list references unknown builtin %q", name)
	}
	base := name[strings.LastIndex(name, "::")+2:]
	if render, ok := r.BuiltinRenderers[base]; ok {
		return render(st.exp)
	}
	if base == "env_vars" {
		return envvars.Commands(st.exp.EnvVars), nil
	}
	return []string{fmt.Sprintf("# %s", name)}, nil
}

func (r *Runner) renderExecutable(st *instanceState, name string) ([]string, error) {
	v, ok := st.def.Executables.Get(name)
	if !ok {
		return nil, fmt.Errorf("workload references unknown executable %q", name)
	}
	entry := v.(map[string]any)

	var cmds []string
	for _, tmpl := range entry["template"].([]string) {
		if entry["use_mpi"].(bool) {
			tmpl = "{mpi_command} " + tmpl
		}
		if redirect := entry["redirect"].(string); redirect != "" {
			tmpl = tmpl + " >> " + redirect
		}
		cmd, err := st.exp.Expand(tmpl)
		if err != nil {
			return nil, fmt.Errorf("executable %q: %w", name, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// renderEnvironment writes the software environment the experiment expects:
// package specs and default compilers, with variables expanded.
func (r *Runner) renderEnvironment(ctx context.Context, st *instanceState, opts Options) error {
	packages := make(map[string]map[string]string)
	for name, v := range st.def.SoftwareSpecs.All() {
		entry := v.(map[string]any)
		spec, err := st.exp.Expand(entry["pkg_spec"].(string))
		if err != nil {
			return fmt.Errorf("software spec %q: %w", name, err)
		}
		packages[name] = map[string]string{
			"spec":     spec,
			"compiler": entry["compiler"].(string),
		}
	}

	compilers := make(map[string]map[string]string)
	for name, v := range st.def.DefaultCompilers.All() {
		entry := v.(map[string]any)
		spec, err := st.exp.Expand(entry["pkg_spec"].(string))
		if err != nil {
			return fmt.Errorf("default compiler %q: %w", name, err)
		}
		compilers[name] = map[string]string{"spec": spec}
	}

	doc := map[string]any{
		"packages":  packages,
		"compilers": compilers,
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}

	if opts.DryRun {
		ctxlog.FromContext(ctx).Info("dry run: would render software environment",
			"experiment", st.exp.Name, "packages", len(packages))
		return nil
	}
	path := filepath.Join(r.Workspace.ExperimentDir(st.exp.Name), SoftwareEnvName)
	return os.WriteFile(path, data, 0o644)
}

func (r *Runner) extractFoms(st *instanceState) error {
	values, err := st.extractor.Extract(st.exp.Expand)
	if err != nil {
		return err
	}
	st.foms = values
	return nil
}

func (r *Runner) evaluateCriteria(st *instanceState) error {
	ev := r.Evaluator
	if ev == nil {
		ev = &criteria.Evaluator{}
	}
	outcomes, err := ev.Evaluate(st.exp, st.foms)
	if err != nil {
		return err
	}
	st.outcomes = outcomes
	return nil
}

// archiveExperiment copies every file matching the definition's archive
// patterns from the experiment's run directory into the workspace archive.
// A pattern matching nothing is not an error; logs may legitimately be
// absent before execution.
func (r *Runner) archiveExperiment(ctx context.Context, st *instanceState, opts Options) error {
	logger := ctxlog.FromContext(ctx)
	runDir := r.Workspace.ExperimentDir(st.exp.Name)
	destDir := filepath.Join(r.Workspace.ArchiveDir(), st.exp.Name)

	patterns := make([]string, 0, st.def.ArchivePatterns.Len()+1)
	patterns = append(patterns, ExecuteScriptName)
	for _, v := range st.def.ArchivePatterns.All() {
		patterns = append(patterns, v.(string))
	}

	for _, pat := range patterns {
		expanded, err := st.exp.Expand(pat)
		if err != nil {
			return fmt.Errorf("archive pattern %q: %w", pat, err)
		}
		if !filepath.IsAbs(expanded) {
			expanded = filepath.Join(runDir, expanded)
		}
		matches, err := filepath.Glob(expanded)
		if err != nil {
			return fmt.Errorf("archive pattern %q: %w", pat, err)
		}
		for _, src := range matches {
			if opts.DryRun {
				logger.Info("dry run: would archive file", "file", src)
				continue
			}
			if err := copyFile(src, filepath.Join(destDir, filepath.Base(src))); err != nil {
				return err
			}
		}
	}
	return nil
}

// mirrorInputs writes the application's input manifest (name, url, sha256)
// into the workspace input cache, so an external fetcher can populate the
// mirror. Experiments of one application share a manifest.
func (r *Runner) mirrorInputs(ctx context.Context, st *instanceState, opts Options) error {
	inputs := make(map[string]map[string]string)
	for name, v := range st.def.Inputs.All() {
		entry := v.(map[string]any)
		url, err := st.exp.Expand(entry["url"].(string))
		if err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
		inputs[name] = map[string]string{
			"url":    url,
			"sha256": entry["sha256"].(string),
		}
	}
	if len(inputs) == 0 {
		return nil
	}

	data, err := yaml.Marshal(map[string]any{"inputs": inputs})
	if err != nil {
		return err
	}

	if opts.DryRun {
		ctxlog.FromContext(ctx).Info("dry run: would write input manifest",
			"application", st.exp.Application, "inputs", len(inputs))
		return nil
	}

	dir := filepath.Join(r.Workspace.InputDir(), st.exp.Application)

	r.mirrorMu.Lock()
	defer r.mirrorMu.Unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "manifest.yaml"), data, 0o644)
}

// writeReports renders the analyze report into the workspace root, one file
// per requested format.
func (r *Runner) writeReports(report *results.Report, formats []string) error {
	ext := map[string]string{
		results.FormatText: "txt",
		results.FormatJSON: "json",
		results.FormatYAML: "yaml",
	}
	for _, format := range formats {
		e, ok := ext[format]
		if !ok {
			return fmt.Errorf("unknown results format %q", format)
		}
		path := filepath.Join(r.Workspace.Root, "results.latest."+e)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := report.Render(f, format); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
