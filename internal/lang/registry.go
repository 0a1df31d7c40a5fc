// Package lang implements the declarative definition language: named
// directives queued on a type, replayed ancestors-first when an instance is
// built, plus the generic attribute mutators derived types use to edit
// inherited declarations.
//
// A TypeSpec is the Go rendition of a declarative type body. Authors list
// directives in declaration order; the registry replays the full
// inheritance chain onto a fresh Definition, so a subtype's own directives
// always observe the fully populated base state.
package lang

import (
	"fmt"

	"github.com/expgrid/expgrid/internal/definition"
)

// Directive is an ordered pair of a directive name and the mutation it
// applies to an instance under construction. Directives are inert until the
// registry replays them.
type Directive struct {
	Name  string
	Apply func(d *definition.Definition) error
}

// TypeSpec describes one declarative type: its name, kind, optional parent
// type, and its own directives in declaration order.
type TypeSpec struct {
	Name       string
	Kind       definition.Kind
	Parent     *TypeSpec
	Directives []Directive
}

// NewType assembles a TypeSpec. A child type inherits its parent's kind.
func NewType(name string, kind definition.Kind, parent *TypeSpec, directives ...Directive) *TypeSpec {
	if parent != nil {
		kind = parent.Kind
	}
	return &TypeSpec{Name: name, Kind: kind, Parent: parent, Directives: directives}
}

// Chain returns the inheritance chain, ancestors first.
func (t *TypeSpec) Chain() []*TypeSpec {
	var chain []*TypeSpec
	for s := t; s != nil; s = s.Parent {
		chain = append([]*TypeSpec{s}, chain...)
	}
	return chain
}

// Registry owns the known type specs and builds instances from them. It is
// an explicit object with its lifetime tied to configuration loading; there
// is no ambient global registry.
type Registry struct {
	types      map[string]*TypeSpec
	order      []string
	prototypes map[string]*definition.Definition
}

// NewRegistry creates an empty type registry.
func NewRegistry() *Registry {
	return &Registry{
		types:      make(map[string]*TypeSpec),
		prototypes: make(map[string]*definition.Definition),
	}
}

// Define registers a type spec. Duplicate names are a configuration error.
func (r *Registry) Define(spec *TypeSpec) error {
	if _, exists := r.types[spec.Name]; exists {
		return &ConfigurationError{
			TypeName:  spec.Name,
			Directive: "define",
			Err:       fmt.Errorf("type %q already registered", spec.Name),
		}
	}
	r.types[spec.Name] = spec
	r.order = append(r.order, spec.Name)
	return nil
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (*TypeSpec, bool) {
	spec, ok := r.types[name]
	return spec, ok
}

// Names returns the registered type names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Build constructs a fresh instance of the named type by replaying every
// directive across its inheritance chain, ancestors first. The replayed
// prototype is cached per type; each call returns a deep copy, so sibling
// instances never share container state.
//
// The first failing directive aborts construction; no partially mutated
// instance is ever exposed to the caller.
func (r *Registry) Build(name string) (*definition.Definition, error) {
	spec, ok := r.types[name]
	if !ok {
		return nil, &ConfigurationError{
			TypeName:  name,
			Directive: "build",
			Err:       fmt.Errorf("unknown type %q", name),
		}
	}

	if proto, ok := r.prototypes[name]; ok {
		return proto.Copy(), nil
	}

	inst := definition.New(spec.Name, spec.Kind)
	for _, ancestor := range spec.Chain() {
		for _, dir := range ancestor.Directives {
			if err := dir.Apply(inst); err != nil {
				return nil, &ConfigurationError{
					TypeName:  ancestor.Name,
					Directive: dir.Name,
					Err:       err,
				}
			}
		}
	}

	r.prototypes[name] = inst
	return inst.Copy(), nil
}
