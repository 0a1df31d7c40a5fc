// Package fom extracts figures of merit from experiment log files. Each
// figure of merit is a named regex with one capture group; context regexes
// scope repeated measurements (per timestep, per iteration) so a single log
// can yield many values of the same figure.
package fom

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/expgrid/expgrid/internal/definition"
	"github.com/expgrid/expgrid/internal/pattern"
)

// NullContext marks values extracted outside any declared context.
const NullContext = "null"

// Value is one extracted measurement.
type Value struct {
	Name    string `json:"name" yaml:"name"`
	Value   string `json:"value" yaml:"value"`
	Units   string `json:"units" yaml:"units"`
	Context string `json:"context" yaml:"context"`
}

type fomSpec struct {
	name     string
	logFile  string
	group    string
	units    string
	contexts []string
	re       *regexp.Regexp
}

type contextSpec struct {
	name   string
	format string
	re     *regexp.Regexp
}

type fileGroup struct {
	path string
	foms []fomSpec
}

// Extractor holds the compiled figure-of-merit and context patterns of one
// application definition.
type Extractor struct {
	foms     []fomSpec
	contexts []contextSpec
}

// NewExtractor compiles every figure-of-merit and context regex of the
// definition. A pattern that does not compile, or a figure referencing an
// undeclared context, fails here rather than during analysis.
func NewExtractor(def *definition.Definition) (*Extractor, error) {
	x := &Extractor{}

	declared := make(map[string]bool)
	for name, v := range def.FigureOfMeritContexts.All() {
		entry := v.(map[string]any)
		re, err := regexp.Compile(entry["regex"].(string))
		if err != nil {
			return nil, fmt.Errorf("figure of merit context %q: invalid regex: %w", name, err)
		}
		x.contexts = append(x.contexts, contextSpec{
			name:   name,
			format: entry["output_format"].(string),
			re:     re,
		})
		declared[name] = true
	}

	for name, v := range def.FiguresOfMerit.All() {
		entry := v.(map[string]any)
		re, err := regexp.Compile(entry["regex"].(string))
		if err != nil {
			return nil, fmt.Errorf("figure of merit %q: invalid regex: %w", name, err)
		}
		contexts := entry["contexts"].([]string)
		for _, c := range contexts {
			if !declared[c] {
				return nil, fmt.Errorf("figure of merit %q references undeclared context %q", name, c)
			}
		}
		x.foms = append(x.foms, fomSpec{
			name:     name,
			logFile:  entry["log_file"].(string),
			group:    entry["group_name"].(string),
			units:    entry["units"].(string),
			contexts: contexts,
			re:       re,
		})
	}
	return x, nil
}

// Extract scans every referenced log file and returns the measurements in
// file order. Log file templates are resolved through expand, so figures
// may reference {log_file} or any experiment variable.
func (x *Extractor) Extract(expand func(string) (string, error)) ([]Value, error) {
	// Group figures by resolved file so each log is scanned once.
	var order []string
	groups := make(map[string]*fileGroup)
	for _, f := range x.foms {
		path, err := expand(f.logFile)
		if err != nil {
			return nil, fmt.Errorf("figure of merit %q: %w", f.name, err)
		}
		g, ok := groups[path]
		if !ok {
			g = &fileGroup{path: path}
			groups[path] = g
			order = append(order, path)
		}
		g.foms = append(g.foms, f)
	}

	var values []Value
	for _, path := range order {
		vals, err := x.scanFile(groups[path])
		if err != nil {
			return nil, err
		}
		values = append(values, vals...)
	}
	return values, nil
}

func (x *Extractor) scanFile(g *fileGroup) ([]Value, error) {
	f, err := os.Open(g.path)
	if err != nil {
		return nil, fmt.Errorf("cannot read log file for analysis: %w", err)
	}
	defer f.Close()

	active := make(map[string]string)
	var values []Value

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()

		for _, c := range x.contexts {
			if m := c.re.FindStringSubmatch(line); m != nil {
				active[c.name] = renderGroups(c.format, c.re, m)
			}
		}

		for _, spec := range g.foms {
			m := spec.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			val, ok := namedGroup(spec.re, m, spec.group)
			if !ok {
				return nil, fmt.Errorf("figure of merit %q: regex has no group %q", spec.name, spec.group)
			}
			if len(spec.contexts) == 0 {
				values = append(values, Value{spec.name, val, spec.units, NullContext})
				continue
			}
			// A context regex must have matched earlier in the file before
			// the figure's value can be attributed to it.
			for _, cname := range spec.contexts {
				cur, seen := active[cname]
				if !seen {
					continue
				}
				values = append(values, Value{spec.name, val, spec.units, cur})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed scanning %s: %w", g.path, err)
	}
	return values, nil
}

var groupPlaceholderRE = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// renderGroups substitutes {group} placeholders in a context output format
// with the capture groups of the matched line.
func renderGroups(format string, re *regexp.Regexp, match []string) string {
	return groupPlaceholderRE.ReplaceAllStringFunc(format, func(ph string) string {
		name := strings.Trim(ph, "{}")
		if v, ok := namedGroup(re, match, name); ok {
			return v
		}
		return ph
	})
}

func namedGroup(re *regexp.Regexp, match []string, name string) (string, bool) {
	for i, n := range re.SubexpNames() {
		if n == name && i < len(match) {
			return match[i], true
		}
	}
	return "", false
}

// Select filters values by glob patterns over figure name and context,
// preserving extraction order.
func Select(values []Value, namePat, contextPat string) []Value {
	var out []Value
	for _, v := range values {
		if pattern.Match(namePat, v.Name) && pattern.Match(contextPat, v.Context) {
			out = append(out, v)
		}
	}
	return out
}
