package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/expgrid/expgrid/internal/criteria"
	"github.com/expgrid/expgrid/internal/ctxlog"
	"github.com/expgrid/expgrid/internal/hcldefs"
	"github.com/expgrid/expgrid/internal/lang"
	"github.com/expgrid/expgrid/internal/pipeline"
	"github.com/expgrid/expgrid/internal/workspace"
)

type rootOptions struct {
	workspaceDir string
	logLevel     string
	logFormat    string

	dryRun  bool
	force   bool
	upload  bool
	workers int
	formats []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "expgrid",
		Short:         "Declarative benchmark experiment workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := ctxlog.New(opts.logLevel, opts.logFormat, os.Stderr)
			cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.workspaceDir, "workspace", "w", ".", "workspace root directory")
	pf.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", "text", "log format (text, json)")

	root.AddCommand(newInitCmd(opts))
	root.AddCommand(newInfoCmd(opts))
	for _, name := range pipeline.Names() {
		root.AddCommand(newPipelineCmd(opts, name))
	}
	return root
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create an empty workspace skeleton",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.workspaceDir
			if len(args) == 1 {
				dir = args[0]
			}
			ws, err := workspace.Init(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created workspace at %s\n", ws.Root)
			return nil
		},
	}
}

func newPipelineCmd(opts *rootOptions, name string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Run the %s pipeline over the workspace's experiments", name),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := buildRunner(cmd.Context(), opts)
			if err != nil {
				return err
			}
			res, err := runner.Run(cmd.Context(), name, pipeline.Options{
				DryRun:        opts.dryRun,
				Force:         opts.force,
				Upload:        opts.upload,
				Workers:       opts.workers,
				OutputFormats: opts.formats,
			})
			if err != nil {
				return err
			}
			if res.Failed() {
				for _, f := range res.Failures {
					fmt.Fprintln(cmd.ErrOrStderr(), f.Error())
				}
				return fmt.Errorf("%s failed for %d experiment(s)", name, len(res.Failures))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.dryRun, "dry-run", false, "plan every phase without touching disk")
	f.BoolVar(&opts.force, "force", false, "re-run phases that already completed")
	f.IntVar(&opts.workers, "workers", 4, "maximum concurrent experiments")
	if name == pipeline.Analyze {
		f.StringSliceVar(&opts.formats, "formats", []string{"text"}, "result formats (text, json, yaml)")
		f.BoolVar(&opts.upload, "upload", false, "upload the analysis report")
	}
	return cmd
}

func newInfoCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Summarize the workspace's expanded experiment set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, reg, err := openWorkspace(cmd.Context(), opts)
			if err != nil {
				return err
			}
			set, err := ws.BuildExperimentSet(cmd.Context(), reg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Workspace %s: %d experiment(s)\n", ws.Root, set.Len())
			for exp := range set.All() {
				fmt.Fprintf(out, "  %s\n", exp.Name)
				fmt.Fprintf(out, "    workload:    %s\n", exp.Workload)
				fmt.Fprintf(out, "    executables: %v\n", exp.Executables)
				if len(exp.ChainOrder) > 0 {
					fmt.Fprintf(out, "    after:       %v\n", exp.ChainOrder)
				}
			}
			return nil
		},
	}
}

// openWorkspace opens the workspace and loads every definition manifest it
// references: the workspace's own applications/ directory plus any
// configured application_directories.
func openWorkspace(ctx context.Context, opts *rootOptions) (*workspace.Workspace, *lang.Registry, error) {
	ws, err := workspace.Open(opts.workspaceDir)
	if err != nil {
		return nil, nil, err
	}

	dirs := make([]string, 0, len(ws.Config.Expgrid.ApplicationDirs)+1)
	if local := filepath.Join(ws.Root, "applications"); dirExists(local) {
		dirs = append(dirs, local)
	}
	for _, dir := range ws.Config.Expgrid.ApplicationDirs {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(ws.Root, dir)
		}
		dirs = append(dirs, dir)
	}

	reg := lang.NewRegistry()
	if len(dirs) > 0 {
		if err := hcldefs.Load(ctx, reg, dirs...); err != nil {
			return nil, nil, err
		}
	}
	return ws, reg, nil
}

func buildRunner(ctx context.Context, opts *rootOptions) (*pipeline.Runner, error) {
	ws, reg, err := openWorkspace(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &pipeline.Runner{
		Workspace: ws,
		Registry:  reg,
		Evaluator: &criteria.Evaluator{},
	}, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
