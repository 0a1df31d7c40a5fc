// Package expander resolves {name} placeholders inside declarative string
// values against a layered variable namespace.
//
// Expansion is recursive: a substituted value may itself contain
// placeholders, which are resolved against the same namespace until a fixed
// point is reached. The in-progress resolution chain is tracked so cyclic
// references fail with an error naming the chain rather than looping.
// Expansion is pure and idempotent; re-expanding a fully resolved string
// returns it unchanged.
package expander

import (
	"fmt"
	"regexp"
	"strings"
)

// Layer is one precedence level of the variable namespace.
type Layer struct {
	Name string
	Vars map[string]any
}

// Namespace is a layered variable mapping. Layers pushed later take
// precedence, so callers push workspace variables first and experiment
// variables last.
type Namespace struct {
	layers []Layer
}

// NewNamespace creates a namespace from layers ordered lowest precedence
// first.
func NewNamespace(layers ...Layer) *Namespace {
	ns := &Namespace{}
	for _, l := range layers {
		ns.Push(l.Name, l.Vars)
	}
	return ns
}

// Push adds a layer that takes precedence over every existing layer.
// The variable map is copied.
func (ns *Namespace) Push(name string, vars map[string]any) {
	copied := make(map[string]any, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	ns.layers = append(ns.layers, Layer{Name: name, Vars: copied})
}

// Set defines a variable in the highest-precedence layer, creating one if
// the namespace is empty.
func (ns *Namespace) Set(name string, val any) {
	if len(ns.layers) == 0 {
		ns.Push("default", nil)
	}
	ns.layers[len(ns.layers)-1].Vars[name] = val
}

// Lookup returns the effective value of name: the value from the
// highest-precedence layer that defines it.
func (ns *Namespace) Lookup(name string) (any, bool) {
	for i := len(ns.layers) - 1; i >= 0; i-- {
		if v, ok := ns.layers[i].Vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Flatten returns the effective (unexpanded) value of every defined
// variable.
func (ns *Namespace) Flatten() map[string]any {
	out := make(map[string]any)
	for _, layer := range ns.layers {
		for k, v := range layer.Vars {
			out[k] = v
		}
	}
	return out
}

// Copy returns an independent namespace with the same layers.
func (ns *Namespace) Copy() *Namespace {
	out := &Namespace{}
	for _, l := range ns.layers {
		out.Push(l.Name, l.Vars)
	}
	return out
}

// MissingVariableError reports a placeholder absent from every layer.
type MissingVariableError struct {
	Name     string
	Template string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("undefined variable %q in template %q", e.Name, e.Template)
}

func (e *MissingVariableError) resolution() {}

// CycleError reports a variable whose expansion depends, transitively, on
// itself.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("variable expansion cycle: %s", strings.Join(e.Chain, " -> "))
}

func (e *CycleError) resolution() {}

// ResolutionError is implemented by every expansion failure. A resolution
// error is fatal for the experiment instance being expanded but does not
// affect sibling instances.
type ResolutionError interface {
	error
	resolution()
}

var placeholderRE = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.-]*)\}`)

// Expand resolves every {identifier} placeholder in tmpl against the
// namespace. Text without placeholders passes through untouched.
func Expand(tmpl string, ns *Namespace) (string, error) {
	return expand(tmpl, ns, nil)
}

// ExpandAll expands each template in order, failing on the first error.
func ExpandAll(tmpls []string, ns *Namespace) ([]string, error) {
	out := make([]string, len(tmpls))
	for i, tmpl := range tmpls {
		expanded, err := Expand(tmpl, ns)
		if err != nil {
			return nil, err
		}
		out[i] = expanded
	}
	return out, nil
}

func expand(tmpl string, ns *Namespace, inProgress []string) (string, error) {
	matches := placeholderRE.FindAllStringSubmatchIndex(tmpl, -1)
	if len(matches) == 0 {
		return tmpl, nil
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		name := tmpl[m[2]:m[3]]
		sb.WriteString(tmpl[last:start])
		last = end

		for _, seen := range inProgress {
			if seen == name {
				return "", &CycleError{Chain: append(append([]string(nil), inProgress...), name)}
			}
		}

		val, ok := ns.Lookup(name)
		if !ok {
			return "", &MissingVariableError{Name: name, Template: tmpl}
		}

		resolved, err := expand(stringify(val), ns, append(inProgress, name))
		if err != nil {
			return "", err
		}
		sb.WriteString(resolved)
	}
	sb.WriteString(tmpl[last:])
	return sb.String(), nil
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
