// Package pipeline drives the workspace pipelines (setup, analyze, archive,
// mirror) over a built experiment set. Phases of one experiment run strictly
// in order; independent experiments run concurrently. One experiment's
// failure is recorded and never aborts its siblings.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/expgrid/expgrid/internal/criteria"
	"github.com/expgrid/expgrid/internal/ctxlog"
	"github.com/expgrid/expgrid/internal/definition"
	"github.com/expgrid/expgrid/internal/expset"
	"github.com/expgrid/expgrid/internal/fom"
	"github.com/expgrid/expgrid/internal/lang"
	"github.com/expgrid/expgrid/internal/results"
	"github.com/expgrid/expgrid/internal/workspace"
)

// Recognized pipeline names.
const (
	Setup   = "setup"
	Analyze = "analyze"
	Archive = "archive"
	Mirror  = "mirror"
)

// phaseSpec declares one phase of a pipeline. Transient phases recompute
// their products from on-disk artifacts and carry no completion marker:
// the analyze phases must re-read the logs on every invocation, otherwise
// a re-run would assemble its report from phases that never ran.
type phaseSpec struct {
	name      string
	transient bool
}

// phaseOrder declares each pipeline's phases in execution order.
var phaseOrder = map[string][]phaseSpec{
	Setup:   {{name: "make_experiments"}, {name: "render_executables"}, {name: "render_environment"}},
	Analyze: {{name: "extract_foms", transient: true}, {name: "evaluate_criteria", transient: true}},
	Archive: {{name: "archive_experiments"}},
	Mirror:  {{name: "mirror_inputs"}},
}

// Names returns the recognized pipeline names, sorted.
func Names() []string {
	names := make([]string, 0, len(phaseOrder))
	for name := range phaseOrder {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options controls one pipeline invocation.
type Options struct {
	// DryRun runs every phase's planning logic without touching disk or
	// invoking anything external.
	DryRun bool

	// Force re-runs phases that already carry a completion marker.
	Force bool

	// Upload hands the analyze report to the configured uploader.
	Upload bool

	// Workers caps concurrent experiments. Zero or negative means one.
	Workers int

	// OutputFormats selects analyze report renderings (text, json, yaml).
	OutputFormats []string
}

// PhaseError records one experiment's failed phase.
type PhaseError struct {
	Experiment string
	Phase      string
	Err        error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("experiment %s: phase %s: %v", e.Experiment, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Result summarizes one pipeline invocation.
type Result struct {
	Pipeline string

	// Failures holds one entry per experiment whose phase failed. The
	// invocation succeeded only if this is empty.
	Failures []*PhaseError

	// Report is populated by the analyze pipeline.
	Report *results.Report
}

// Failed reports whether any experiment's phase failed.
func (r *Result) Failed() bool { return len(r.Failures) > 0 }

// BuiltinRenderer produces the execution script lines for one builtin of one
// experiment.
type BuiltinRenderer func(exp *expset.Experiment) ([]string, error)

// Runner executes pipelines against one workspace.
type Runner struct {
	Workspace *workspace.Workspace
	Registry  *lang.Registry

	// Evaluator judges success criteria during analyze. A zero evaluator
	// handles string and fom_comparison criteria.
	Evaluator *criteria.Evaluator

	// Uploader receives the analyze report when Options.Upload is set.
	Uploader results.Uploader

	// BuiltinRenderers maps a builtin's base name (the part after the last
	// "::") to the function that renders its script lines. Builtins without
	// a renderer fall back to the built-in env_vars handling or a trace
	// comment.
	BuiltinRenderers map[string]BuiltinRenderer

	// mirrorMu serializes per-application manifest writes; experiments of
	// one application run concurrently but share a manifest.
	mirrorMu sync.Mutex
}

// instanceState carries one experiment's artifacts between its phases.
type instanceState struct {
	exp       *expset.Experiment
	def       *definition.Definition
	extractor *fom.Extractor

	foms     []fom.Value
	outcomes []criteria.Outcome
	failure  *PhaseError
}

// Run executes the named pipeline over the workspace's full experiment set.
// The workspace write lock is held for the whole invocation; a concurrent
// invocation fails with workspace.ErrLocked rather than interleaving.
func (r *Runner) Run(ctx context.Context, pipeline string, opts Options) (*Result, error) {
	phases, ok := phaseOrder[pipeline]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline %q (expected one of %v)", pipeline, Names())
	}
	logger := ctxlog.FromContext(ctx).With("pipeline", pipeline)

	release, err := r.Workspace.WriteTransaction()
	if err != nil {
		return nil, err
	}
	defer release()

	set, err := r.Workspace.BuildExperimentSet(ctx, r.Registry)
	if err != nil {
		return nil, err
	}

	states, err := r.prepareInstances(set, pipeline)
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	logger.Info("pipeline starting", "experiments", len(states), "workers", workers, "dry_run", opts.DryRun)

	var mu sync.Mutex
	result := &Result{Pipeline: pipeline}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, st := range states {
		g.Go(func() error {
			r.runInstance(gctx, st, phases, opts)
			if st.failure != nil {
				mu.Lock()
				result.Failures = append(result.Failures, st.failure)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if pipeline == Analyze {
		report, err := r.finishAnalyze(ctx, states, opts)
		if err != nil {
			return nil, err
		}
		result.Report = report
	}

	if result.Failed() {
		logger.Error("pipeline finished with failures", "failed", len(result.Failures))
	} else {
		logger.Info("pipeline finished")
	}
	return result, nil
}

// prepareInstances resolves each experiment's definition up front so a
// configuration problem surfaces before any phase runs.
func (r *Runner) prepareInstances(set *expset.Set, pipeline string) ([]*instanceState, error) {
	defs := make(map[string]*definition.Definition)
	extractors := make(map[string]*fom.Extractor)

	var states []*instanceState
	for exp := range set.All() {
		def, ok := defs[exp.Application]
		if !ok {
			var err error
			def, err = r.Registry.Build(exp.Application)
			if err != nil {
				return nil, err
			}
			defs[exp.Application] = def
			if pipeline == Analyze {
				x, err := fom.NewExtractor(def)
				if err != nil {
					return nil, err
				}
				extractors[exp.Application] = x
			}
		}
		states = append(states, &instanceState{
			exp:       exp,
			def:       def,
			extractor: extractors[exp.Application],
		})
	}
	return states, nil
}

// runInstance executes the pipeline's phases for one experiment, in order.
// The first failing phase stops the instance; the failure is recorded on
// its state.
func (r *Runner) runInstance(ctx context.Context, st *instanceState, phases []phaseSpec, opts Options) {
	logger := ctxlog.FromContext(ctx).With("experiment", st.exp.Name)

	for _, ph := range phases {
		if ctx.Err() != nil {
			st.failure = &PhaseError{Experiment: st.exp.Name, Phase: ph.name, Err: ctx.Err()}
			return
		}
		if !ph.transient && !opts.Force && !opts.DryRun && r.Workspace.PhaseComplete(st.exp.Name, ph.name) {
			logger.Debug("phase already complete, skipping", "phase", ph.name)
			continue
		}

		logger.Debug("phase starting", "phase", ph.name, "dry_run", opts.DryRun)
		if err := r.runPhase(ctx, st, ph.name, opts); err != nil {
			logger.Error("phase failed", "phase", ph.name, "error", err)
			st.failure = &PhaseError{Experiment: st.exp.Name, Phase: ph.name, Err: err}
			return
		}

		if !ph.transient && !opts.DryRun {
			if err := r.Workspace.MarkPhaseComplete(st.exp.Name, ph.name); err != nil {
				st.failure = &PhaseError{Experiment: st.exp.Name, Phase: ph.name, Err: err}
				return
			}
		}
	}
}

func (r *Runner) runPhase(ctx context.Context, st *instanceState, phase string, opts Options) error {
	switch phase {
	case "make_experiments":
		return r.makeExperimentDir(ctx, st, opts)
	case "render_executables":
		return r.renderExecutables(ctx, st, opts)
	case "render_environment":
		return r.renderEnvironment(ctx, st, opts)
	case "extract_foms":
		return r.extractFoms(st)
	case "evaluate_criteria":
		return r.evaluateCriteria(st)
	case "archive_experiments":
		return r.archiveExperiment(ctx, st, opts)
	case "mirror_inputs":
		return r.mirrorInputs(ctx, st, opts)
	default:
		return fmt.Errorf("phase %q has no implementation", phase)
	}
}

// finishAnalyze assembles the report from every instance, renders the
// requested formats into the workspace, and optionally uploads.
func (r *Runner) finishAnalyze(ctx context.Context, states []*instanceState, opts Options) (*results.Report, error) {
	logger := ctxlog.FromContext(ctx)

	report := results.NewReport(r.Workspace.Root)
	for _, st := range states {
		res := results.ExperimentResult{
			Name:        st.exp.Name,
			Application: st.exp.Application,
			Workload:    st.exp.Workload,
			Criteria:    st.outcomes,
			Foms:        st.foms,
		}
		if st.failure != nil {
			res.Error = st.failure.Err.Error()
		}
		report.Add(res)
	}

	formats := opts.OutputFormats
	if len(formats) == 0 {
		formats = []string{results.FormatText}
	}
	if !opts.DryRun {
		if err := r.writeReports(report, formats); err != nil {
			return nil, err
		}
	}

	if opts.Upload {
		if r.Uploader == nil {
			return nil, fmt.Errorf("upload requested but no uploader is configured")
		}
		if opts.DryRun {
			logger.Info("dry run: skipping upload", "bulk_id", report.BulkID())
		} else if err := r.Uploader.Upload(report.BulkID(), report); err != nil {
			return nil, fmt.Errorf("failed to upload results: %w", err)
		}
	}
	return report, nil
}
