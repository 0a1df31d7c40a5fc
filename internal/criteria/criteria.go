// Package criteria evaluates experiment success criteria against rendered
// logs and extracted figures of merit. Criteria come in three modes:
// a string searched for in a log file, a comparison formula applied to a
// figure of merit, and a caller-supplied predicate.
package criteria

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/expgrid/expgrid/internal/expset"
	"github.com/expgrid/expgrid/internal/fom"
	"github.com/expgrid/expgrid/internal/lang"
)

// Outcome is the result of one criterion for one experiment.
type Outcome struct {
	Name   string `json:"name" yaml:"name"`
	Mode   string `json:"mode" yaml:"mode"`
	Passed bool   `json:"passed" yaml:"passed"`

	// Detail explains failures: the searched file, the formula that was
	// evaluated, or the missing figure of merit.
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// ApplicationFunc is the externally supplied predicate behind
// application_function criteria. It receives the criterion name and the
// experiment being judged.
type ApplicationFunc func(criterion string, exp *expset.Experiment) (bool, error)

// Evaluator judges one experiment set's criteria. AppFunc may be nil when
// no definition declares application_function criteria.
type Evaluator struct {
	AppFunc ApplicationFunc
}

// Evaluate runs every criterion of the experiment in declaration order.
// The figure-of-merit values must already be extracted for this experiment.
func (ev *Evaluator) Evaluate(exp *expset.Experiment, values []fom.Value) ([]Outcome, error) {
	var outcomes []Outcome
	for name, v := range exp.SuccessCriteria.All() {
		entry := v.(map[string]any)
		mode := entry["mode"].(string)

		var (
			outcome Outcome
			err     error
		)
		switch mode {
		case lang.CriteriaModeString:
			outcome, err = ev.evalString(exp, name, entry)
		case lang.CriteriaModeFOMComparison:
			outcome, err = ev.evalComparison(exp, name, entry, values)
		case lang.CriteriaModeApplicationFunction:
			outcome, err = ev.evalApplicationFunction(exp, name)
		default:
			// Unknown modes are rejected at directive time; a value that
			// slips through means the container was mutated by hand.
			err = fmt.Errorf("success criterion %q has unknown mode %q", name, mode)
		}
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// Passed reports whether every outcome passed.
func Passed(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if !o.Passed {
			return false
		}
	}
	return true
}

func (ev *Evaluator) evalString(exp *expset.Experiment, name string, entry map[string]any) (Outcome, error) {
	match, err := exp.Expand(entry["match"].(string))
	if err != nil {
		return Outcome{}, fmt.Errorf("success criterion %q: %w", name, err)
	}
	file, err := exp.Expand(entry["file"].(string))
	if err != nil {
		return Outcome{}, fmt.Errorf("success criterion %q: %w", name, err)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return Outcome{}, fmt.Errorf("success criterion %q: %w", name, err)
	}

	passed := strings.Contains(string(data), match)
	detail := ""
	if !passed {
		detail = fmt.Sprintf("%q not found in %s", match, file)
	}
	return Outcome{Name: name, Mode: lang.CriteriaModeString, Passed: passed, Detail: detail}, nil
}

func (ev *Evaluator) evalComparison(exp *expset.Experiment, name string, entry map[string]any, values []fom.Value) (Outcome, error) {
	namePat := entry["fom_name"].(string)
	contextPat := entry["fom_context"].(string)
	formula := entry["formula"].(string)

	matched := fom.Select(values, namePat, contextPat)
	if len(matched) == 0 {
		return Outcome{
			Name:   name,
			Mode:   lang.CriteriaModeFOMComparison,
			Passed: false,
			Detail: fmt.Sprintf("no figure of merit matches name %q in context %q", namePat, contextPat),
		}, nil
	}

	// Every matched value must satisfy the formula.
	for _, v := range matched {
		expr, err := exp.Expand(strings.ReplaceAll(formula, "{value}", v.Value))
		if err != nil {
			return Outcome{}, fmt.Errorf("success criterion %q: %w", name, err)
		}
		ok, err := evalFormula(expr)
		if err != nil {
			return Outcome{}, fmt.Errorf("success criterion %q: %w", name, err)
		}
		if !ok {
			return Outcome{
				Name:   name,
				Mode:   lang.CriteriaModeFOMComparison,
				Passed: false,
				Detail: fmt.Sprintf("%s (value %s, context %s)", expr, v.Value, v.Context),
			}, nil
		}
	}
	return Outcome{Name: name, Mode: lang.CriteriaModeFOMComparison, Passed: true}, nil
}

func (ev *Evaluator) evalApplicationFunction(exp *expset.Experiment, name string) (Outcome, error) {
	if ev.AppFunc == nil {
		return Outcome{}, fmt.Errorf("success criterion %q requires an application function, but none was supplied", name)
	}
	passed, err := ev.AppFunc(name, exp)
	if err != nil {
		return Outcome{}, fmt.Errorf("success criterion %q: %w", name, err)
	}
	return Outcome{Name: name, Mode: lang.CriteriaModeApplicationFunction, Passed: passed}, nil
}

// evalFormula parses and evaluates a comparison expression. A boolean
// result passes when true; a numeric result passes when non-zero.
func evalFormula(src string) (bool, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(src), "formula", hcl.InitialPos)
	if diags.HasErrors() {
		return false, fmt.Errorf("invalid formula %q: %s", src, diags.Error())
	}
	val, diags := expr.Value(&hcl.EvalContext{})
	if diags.HasErrors() {
		return false, fmt.Errorf("failed to evaluate formula %q: %s", src, diags.Error())
	}

	switch val.Type() {
	case cty.Bool:
		return val.True(), nil
	case cty.Number:
		return val.AsBigFloat().Sign() != 0, nil
	default:
		return false, fmt.Errorf("formula %q evaluated to %s, expected bool or number", src, val.Type().FriendlyName())
	}
}
