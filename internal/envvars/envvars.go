// Package envvars renders workspace env-vars actions (set, unset, append,
// prepend) into shell export commands used by the rendered experiment
// scripts. Path-style entries always join with ":"; plain variables join
// with the group's declared separator.
package envvars

import (
	"fmt"
	"sort"
	"strings"
)

const defaultSeparator = ","

// VarGroup is one append or prepend action group. Vars join with Separator;
// Paths always join with ":".
type VarGroup struct {
	Separator string `yaml:"var-separator"`
	Vars      map[string]string `yaml:"vars"`
	Paths     map[string]string `yaml:"paths"`
}

// ActionSet holds every env-vars action recognized in a workspace config.
type ActionSet struct {
	Set     map[string]string `yaml:"set"`
	Unset   []string          `yaml:"unset"`
	Append  []VarGroup        `yaml:"append"`
	Prepend []VarGroup        `yaml:"prepend"`
}

// Merge folds action sets together in precedence order: later sets win for
// plain assignments, and their append/prepend/unset actions accumulate.
func Merge(sets ...ActionSet) ActionSet {
	var out ActionSet
	for _, s := range sets {
		if len(s.Set) > 0 {
			if out.Set == nil {
				out.Set = make(map[string]string)
			}
			for k, v := range s.Set {
				out.Set[k] = v
			}
		}
		out.Unset = append(out.Unset, s.Unset...)
		out.Append = append(out.Append, s.Append...)
		out.Prepend = append(out.Prepend, s.Prepend...)
	}
	return out
}

// Commands renders the full action set in set, unset, append, prepend
// order. Output is deterministic: variables are emitted sorted by name.
func Commands(a ActionSet) []string {
	var cmds []string
	cmds = append(cmds, SetCommands(a.Set)...)
	cmds = append(cmds, UnsetCommands(a.Unset)...)
	cmds = append(cmds, AppendCommands(a.Append)...)
	cmds = append(cmds, PrependCommands(a.Prepend)...)
	return cmds
}

// SetCommands renders plain variable assignments.
func SetCommands(vars map[string]string) []string {
	cmds := make([]string, 0, len(vars))
	for _, name := range sortedKeys(vars) {
		cmds = append(cmds, fmt.Sprintf("export %s=%s;", name, vars[name]))
	}
	return cmds
}

// UnsetCommands renders unset statements.
func UnsetCommands(names []string) []string {
	cmds := make([]string, 0, len(names))
	for _, name := range names {
		cmds = append(cmds, fmt.Sprintf("unset %s;", name))
	}
	return cmds
}

type accumulated struct {
	sep  string
	vals []string
}

// AppendCommands renders append groups. Values from successive groups
// accumulate after the variable's current value.
func AppendCommands(groups []VarGroup) []string {
	acc, order := accumulate(groups)
	cmds := make([]string, 0, len(order))
	for _, name := range order {
		a := acc[name]
		cmds = append(cmds, fmt.Sprintf("export %s=\"${%s}%s%s\";",
			name, name, a.sep, strings.Join(a.vals, a.sep)))
	}
	return cmds
}

// PrependCommands renders prepend groups. Values from successive groups
// accumulate before the variable's current value, most recent group first.
func PrependCommands(groups []VarGroup) []string {
	acc, order := accumulate(groups)
	cmds := make([]string, 0, len(order))
	for _, name := range order {
		a := acc[name]
		reversed := make([]string, len(a.vals))
		for i, v := range a.vals {
			reversed[len(a.vals)-1-i] = v
		}
		cmds = append(cmds, fmt.Sprintf("export %s=\"%s%s${%s}\";",
			name, strings.Join(reversed, a.sep), a.sep, name))
	}
	return cmds
}

func accumulate(groups []VarGroup) (map[string]*accumulated, []string) {
	acc := make(map[string]*accumulated)
	var order []string

	add := func(name, val, sep string) {
		a, ok := acc[name]
		if !ok {
			a = &accumulated{sep: sep}
			acc[name] = a
			order = append(order, name)
		}
		a.sep = sep
		a.vals = append(a.vals, val)
	}

	for _, g := range groups {
		sep := g.Separator
		if sep == "" {
			sep = defaultSeparator
		}
		for _, name := range sortedKeys(g.Vars) {
			add(name, g.Vars[name], sep)
		}
		for _, name := range sortedKeys(g.Paths) {
			add(name, g.Paths[name], ":")
		}
	}
	return acc, order
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
