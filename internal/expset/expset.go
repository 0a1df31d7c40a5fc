// Package expset expands workload and experiment declarations into the
// concrete, uniquely named, ordered set of experiment instances a pipeline
// runs over.
//
// Expansion is deterministic: replaying the same declarations always yields
// the same names in the same order. Instances store unexpanded templates;
// {var} substitution happens lazily through the instance's namespace so a
// consumer always sees the final merged state.
package expset

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/expgrid/expgrid/internal/attrdict"
	"github.com/expgrid/expgrid/internal/ctxlog"
	"github.com/expgrid/expgrid/internal/definition"
	"github.com/expgrid/expgrid/internal/envvars"
	"github.com/expgrid/expgrid/internal/expander"
	"github.com/expgrid/expgrid/internal/pattern"
)

// Experiment is one concrete, uniquely named run.
type Experiment struct {
	Name        string
	Application string
	Workload    string

	// Variables is the fully merged namespace for this instance. Values
	// stay unexpanded until a consumer asks for them.
	Variables *expander.Namespace

	// Executables is the ordered executable name list after required
	// builtin injection.
	Executables []string

	// SuccessCriteria is this instance's own copy of the definition's
	// criteria container.
	SuccessCriteria *attrdict.Dict

	// Template names the render template for this instance, when declared.
	Template string

	// ChainOrder lists predecessor experiment names that must complete
	// before this instance is considered satisfied.
	ChainOrder []string

	// EnvVars holds the merged env-vars actions for this instance.
	EnvVars envvars.ActionSet

	chainRefs []string
}

// Expand resolves a template string against this instance's namespace.
func (e *Experiment) Expand(tmpl string) (string, error) {
	return expander.Expand(tmpl, e.Variables)
}

// ExpandAll resolves each template against this instance's namespace.
func (e *Experiment) ExpandAll(tmpls []string) ([]string, error) {
	return expander.ExpandAll(tmpls, e.Variables)
}

// Set is the ordered collection of experiment instances.
type Set struct {
	order  []string
	byName map[string]*Experiment
}

// NewSet creates an empty experiment set.
func NewSet() *Set {
	return &Set{byName: make(map[string]*Experiment)}
}

func (s *Set) add(e *Experiment) error {
	if _, exists := s.byName[e.Name]; exists {
		return fmt.Errorf("duplicate experiment name %q", e.Name)
	}
	s.byName[e.Name] = e
	s.order = append(s.order, e.Name)
	return nil
}

// Get returns the named experiment.
func (s *Set) Get(name string) (*Experiment, bool) {
	e, ok := s.byName[name]
	return e, ok
}

// Names returns experiment names in expansion order.
func (s *Set) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of experiments.
func (s *Set) Len() int { return len(s.order) }

// All iterates experiments in expansion order.
func (s *Set) All() iter.Seq[*Experiment] {
	return func(yield func(*Experiment) bool) {
		for _, name := range s.order {
			if !yield(s.byName[name]) {
				return
			}
		}
	}
}

// ExperimentSpec is one declared experiment under a workload.
type ExperimentSpec struct {
	Name               string
	Variables          map[string]any
	Matrices           [][]string
	Template           string
	ChainedExperiments []string
	EnvVars            envvars.ActionSet
}

// WorkloadSelection selects one of the definition's workloads along with
// workload-scoped variables and experiments.
type WorkloadSelection struct {
	Name               string
	Variables          map[string]any
	Experiments        []ExperimentSpec
	ChainedExperiments []string
	EnvVars            envvars.ActionSet
}

// Builder expands one application's declarations into a Set.
type Builder struct {
	Definition      *definition.Definition
	WorkspaceVars   map[string]any
	ApplicationVars map[string]any
	Workloads       []WorkloadSelection
	EnvVars         envvars.ActionSet
}

// Build runs the full expansion for a single application. Workspaces with
// several applications use BuildAll so chains can reference experiments
// across applications.
func (b *Builder) Build(ctx context.Context) (*Set, error) {
	return BuildAll(ctx, b)
}

// BuildAll expands every builder into one union set, then resolves chains
// over the full set: variable layer merging, matrix and vector expansion,
// builtin injection, and chain resolution. Malformed matrices and
// unresolvable or cyclic chains fail the build; nothing is ever silently
// dropped.
func BuildAll(ctx context.Context, builders ...*Builder) (*Set, error) {
	logger := ctxlog.FromContext(ctx)
	set := NewSet()

	for _, b := range builders {
		for _, sel := range b.Workloads {
			wlVal, ok := b.Definition.Workloads.Get(sel.Name)
			if !ok {
				return nil, fmt.Errorf("application %q has no workload %q", b.Definition.Name, sel.Name)
			}
			wlEntry := wlVal.(map[string]any)

			execs := b.injectBuiltins(wlEntry["executables"].([]string))

			for _, spec := range sel.Experiments {
				if err := b.expandExperiment(set, sel, spec, execs); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := resolveChains(set); err != nil {
		return nil, err
	}

	logger.Debug("experiment set built", "experiments", set.Len())
	return set, nil
}

// injectBuiltins returns the executable list with every required builtin
// that is absent from the explicit list injected per its declared policy.
func (b *Builder) injectBuiltins(execs []string) []string {
	present := make(map[string]bool, len(execs))
	for _, e := range execs {
		present[e] = true
	}

	var front, back []string
	for name, v := range b.Definition.Builtins.All() {
		conf := v.(map[string]any)
		if !conf["required"].(bool) || present[name] {
			continue
		}
		if conf["injection_method"] == "append" {
			back = append(back, name)
		} else {
			front = append(front, name)
		}
	}

	out := make([]string, 0, len(front)+len(execs)+len(back))
	out = append(out, front...)
	out = append(out, execs...)
	out = append(out, back...)
	return out
}

func (b *Builder) expandExperiment(set *Set, sel WorkloadSelection, spec ExperimentSpec, execs []string) error {
	scalarVars := make(map[string]any)
	listVars := make(map[string][]any)
	for name, val := range spec.Variables {
		if list, ok := asList(val); ok {
			listVars[name] = list
		} else {
			scalarVars[name] = val
		}
	}

	points, err := b.expansionPoints(spec, listVars)
	if err != nil {
		return err
	}

	for _, point := range points {
		ns := expander.NewNamespace()
		ns.Push("workspace", b.WorkspaceVars)
		ns.Push("application", b.ApplicationVars)
		ns.Push("workload", workloadDefaults(b.Definition, sel.Name))
		ns.Push("workload_config", sel.Variables)
		ns.Push("experiment", scalarVars)
		for _, bind := range point {
			ns.Set(bind.name, bind.value)
		}

		name := qualifiedName(b.Definition.Name, sel.Name, spec.Name, point)
		ns.Set("application_name", b.Definition.Name)
		ns.Set("workload_name", sel.Name)
		ns.Set("experiment_name", name)

		exp := &Experiment{
			Name:            name,
			Application:     b.Definition.Name,
			Workload:        sel.Name,
			Variables:       ns,
			Executables:     append([]string(nil), execs...),
			SuccessCriteria: b.Definition.SuccessCriteria.Copy(),
			Template:        spec.Template,
			EnvVars:         envvars.Merge(b.EnvVars, sel.EnvVars, spec.EnvVars),
			chainRefs:       append(append([]string(nil), sel.ChainedExperiments...), spec.ChainedExperiments...),
		}
		if err := set.add(exp); err != nil {
			return err
		}
	}
	return nil
}

// binding is one variable assignment of an expansion point.
type binding struct {
	name  string
	value any
}

// expansionPoints computes the cross product of every declared matrix and
// the zip of the remaining list-valued (vector) variables. With neither,
// a single empty point is returned.
func (b *Builder) expansionPoints(spec ExperimentSpec, listVars map[string][]any) ([][]binding, error) {
	inMatrix := make(map[string]bool)
	points := [][]binding{{}}

	for _, matrix := range spec.Matrices {
		var matrixPoints [][]binding
		cur := [][]binding{{}}
		for _, varName := range matrix {
			vals, ok := listVars[varName]
			if !ok {
				return nil, fmt.Errorf("experiment %q: matrix references variable %q, which is not a declared list variable",
					spec.Name, varName)
			}
			inMatrix[varName] = true
			var next [][]binding
			for _, prefix := range cur {
				for _, v := range vals {
					point := append(append([]binding(nil), prefix...), binding{varName, v})
					next = append(next, point)
				}
			}
			cur = next
		}
		matrixPoints = cur
		points = cross(points, matrixPoints)
	}

	// Remaining list variables are vectors: zipped together, one
	// experiment per element. Sorted for deterministic ordering.
	var vectorNames []string
	for name := range listVars {
		if !inMatrix[name] {
			vectorNames = append(vectorNames, name)
		}
	}
	sort.Strings(vectorNames)

	if len(vectorNames) > 0 {
		length := len(listVars[vectorNames[0]])
		for _, name := range vectorNames {
			if len(listVars[name]) != length {
				return nil, fmt.Errorf("experiment %q: vector variables must have equal lengths (%q has %d values, %q has %d)",
					spec.Name, vectorNames[0], length, name, len(listVars[name]))
			}
		}
		var vectorPoints [][]binding
		for i := 0; i < length; i++ {
			var point []binding
			for _, name := range vectorNames {
				point = append(point, binding{name, listVars[name][i]})
			}
			vectorPoints = append(vectorPoints, point)
		}
		points = cross(points, vectorPoints)
	}

	return points, nil
}

func cross(a, b [][]binding) [][]binding {
	out := make([][]binding, 0, len(a)*len(b))
	for _, left := range a {
		for _, right := range b {
			point := append(append([]binding(nil), left...), right...)
			out = append(out, point)
		}
	}
	return out
}

// qualifiedName builds the stable instance name: application.workload.base,
// suffixed with each bound value in binding order.
func qualifiedName(app, workload, base string, point []binding) string {
	var sb strings.Builder
	sb.WriteString(app)
	sb.WriteByte('.')
	sb.WriteString(workload)
	sb.WriteByte('.')
	sb.WriteString(base)
	for _, bind := range point {
		sb.WriteByte('_')
		sb.WriteString(fmt.Sprint(bind.value))
	}
	return sb.String()
}

// resolveChains resolves every chain reference (glob-matched against the
// full set of experiment names), records predecessor order, and rejects
// unresolvable references and cycles.
func resolveChains(set *Set) error {
	graph := newChainGraph()
	for _, name := range set.Names() {
		graph.addNode(name)
	}

	for exp := range set.All() {
		seen := make(map[string]bool)
		for _, ref := range exp.chainRefs {
			matched := pattern.Filter(set.Names(), ref)
			// A glob can match the experiment itself; only an explicit
			// self-reference is an error.
			var preds []string
			for _, m := range matched {
				if m != exp.Name {
					preds = append(preds, m)
				}
			}
			if len(preds) == 0 {
				return fmt.Errorf("experiment %q: chained experiment %q does not resolve to any known experiment",
					exp.Name, ref)
			}
			// Overlapping globs can match the same predecessor; record
			// it once.
			for _, pred := range preds {
				if seen[pred] {
					continue
				}
				seen[pred] = true
				if err := graph.addEdge(pred, exp.Name); err != nil {
					return fmt.Errorf("experiment %q: %w", exp.Name, err)
				}
				exp.ChainOrder = append(exp.ChainOrder, pred)
			}
		}
	}

	if err := graph.detectCycles(); err != nil {
		return err
	}
	return nil
}

func workloadDefaults(def *definition.Definition, workload string) map[string]any {
	out := make(map[string]any)
	v, ok := def.WorkloadVariables.Get(workload)
	if !ok {
		return out
	}
	for name, entry := range v.(*attrdict.Dict).All() {
		out[name] = entry.(map[string]any)["default"]
	}
	return out
}

func asList(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}
