package workspace

import (
	"context"
	"fmt"
	"sort"

	"github.com/expgrid/expgrid/internal/envvars"
	"github.com/expgrid/expgrid/internal/expset"
	"github.com/expgrid/expgrid/internal/lang"
)

// defaultVariables are workspace-scoped bindings every experiment can
// reference. They sit below user-declared workspace variables, so a
// configuration may override any of them.
func (w *Workspace) defaultVariables() map[string]any {
	return map[string]any{
		"workspace_root":     w.Root,
		"experiments_dir":    fmt.Sprintf("%s/%s", w.Root, experimentDirName),
		"experiment_run_dir": "{experiments_dir}/{experiment_name}",
		"log_file":           "{experiment_run_dir}/{experiment_name}.out",
	}
}

// Builders translates the configuration into one expansion builder per
// configured application. Applications, workloads and experiments are
// visited in sorted name order so repeated invocations produce identical
// experiment sets.
func (w *Workspace) Builders(reg *lang.Registry) ([]*expset.Builder, error) {
	workspaceVars := w.defaultVariables()
	for k, v := range w.Config.Expgrid.Variables {
		workspaceVars[k] = v
	}

	var builders []*expset.Builder
	for _, appName := range sortedConfigKeys(w.Config.Expgrid.Applications) {
		appCfg := w.Config.Expgrid.Applications[appName]

		def, err := reg.Build(appName)
		if err != nil {
			return nil, err
		}

		var selections []expset.WorkloadSelection
		for _, wlName := range sortedConfigKeys(appCfg.Workloads) {
			wlCfg := appCfg.Workloads[wlName]

			var specs []expset.ExperimentSpec
			for _, expName := range sortedConfigKeys(wlCfg.Experiments) {
				expCfg := wlCfg.Experiments[expName]

				matrices := expCfg.Matrices
				if len(expCfg.Matrix) > 0 {
					matrices = append([][]string{expCfg.Matrix}, matrices...)
				}
				template := expCfg.Template
				if template == "" {
					template = appCfg.Template
				}
				specs = append(specs, expset.ExperimentSpec{
					Name:               expName,
					Variables:          expCfg.Variables,
					Matrices:           matrices,
					Template:           template,
					ChainedExperiments: expCfg.ChainedExperiments,
					EnvVars:            expCfg.EnvVars,
				})
			}

			selections = append(selections, expset.WorkloadSelection{
				Name:               wlName,
				Variables:          wlCfg.Variables,
				Experiments:        specs,
				ChainedExperiments: append(append([]string(nil), appCfg.ChainedExperiments...), wlCfg.ChainedExperiments...),
				EnvVars:            wlCfg.EnvVars,
			})
		}

		builders = append(builders, &expset.Builder{
			Definition:      def,
			WorkspaceVars:   workspaceVars,
			ApplicationVars: appCfg.Variables,
			Workloads:       selections,
			EnvVars:         envvars.Merge(w.Config.Expgrid.EnvVars, appCfg.EnvVars),
		})
	}
	return builders, nil
}

// BuildExperimentSet translates the configuration and expands it into the
// full cross-application experiment set.
func (w *Workspace) BuildExperimentSet(ctx context.Context, reg *lang.Registry) (*expset.Set, error) {
	builders, err := w.Builders(reg)
	if err != nil {
		return nil, err
	}
	return expset.BuildAll(ctx, builders...)
}

func sortedConfigKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
