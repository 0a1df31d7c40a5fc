// Package results assembles the analysis report: per experiment, the
// extracted figures of merit and the outcome of every success criterion.
// Reports render as text, JSON or YAML and can be handed to an Uploader.
package results

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/expgrid/expgrid/internal/criteria"
	"github.com/expgrid/expgrid/internal/fom"
)

// Experiment status values carried in the report.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// ExperimentResult is the analysis product of one experiment instance.
type ExperimentResult struct {
	Name        string             `json:"name" yaml:"name"`
	Application string             `json:"application" yaml:"application"`
	Workload    string             `json:"workload" yaml:"workload"`
	Status      string             `json:"status" yaml:"status"`
	Criteria    []criteria.Outcome `json:"criteria" yaml:"criteria"`
	Foms        []fom.Value        `json:"figures_of_merit" yaml:"figures_of_merit"`

	// Error records a failed analysis phase (unreadable log, unresolvable
	// variable). A result with an Error has no criteria or figures.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is the full analysis product, keyed by experiment in set order.
type Report struct {
	Workspace   string             `json:"workspace" yaml:"workspace"`
	GeneratedAt time.Time          `json:"generated_at" yaml:"generated_at"`
	Experiments []ExperimentResult `json:"experiments" yaml:"experiments"`
}

// NewReport starts an empty report for the named workspace.
func NewReport(workspace string) *Report {
	return &Report{Workspace: workspace, GeneratedAt: time.Now().UTC()}
}

// Add appends one experiment's result, deriving its status from the
// criteria outcomes.
func (r *Report) Add(res ExperimentResult) {
	if res.Status == "" {
		if res.Error == "" && criteria.Passed(res.Criteria) {
			res.Status = StatusSuccess
		} else {
			res.Status = StatusFailed
		}
	}
	r.Experiments = append(r.Experiments, res)
}

// Get returns the named experiment's result.
func (r *Report) Get(name string) (ExperimentResult, bool) {
	for _, res := range r.Experiments {
		if res.Name == name {
			return res, true
		}
	}
	return ExperimentResult{}, false
}

// Success reports whether every experiment analyzed cleanly and passed all
// of its criteria.
func (r *Report) Success() bool {
	for _, res := range r.Experiments {
		if res.Status != StatusSuccess {
			return false
		}
	}
	return true
}

// Recognized render formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Render writes the report in the requested format.
func (r *Report) Render(w io.Writer, format string) error {
	switch format {
	case FormatText:
		return r.renderText(w)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(r)
	default:
		return fmt.Errorf("unknown results format %q (expected text, json or yaml)", format)
	}
}

func (r *Report) renderText(w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Results for workspace %s\n", r.Workspace)
	for _, res := range r.Experiments {
		fmt.Fprintf(&sb, "\nExperiment %s (%s)\n", res.Name, res.Status)
		if res.Error != "" {
			fmt.Fprintf(&sb, "  error: %s\n", res.Error)
			continue
		}
		for _, o := range res.Criteria {
			state := "PASS"
			if !o.Passed {
				state = "FAIL"
			}
			fmt.Fprintf(&sb, "  criterion %-30s %s", o.Name, state)
			if o.Detail != "" {
				fmt.Fprintf(&sb, " (%s)", o.Detail)
			}
			sb.WriteByte('\n')
		}
		for _, v := range res.Foms {
			fmt.Fprintf(&sb, "  fom %-36s = %s", v.Name, v.Value)
			if v.Units != "" {
				fmt.Fprintf(&sb, " %s", v.Units)
			}
			if v.Context != fom.NullContext {
				fmt.Fprintf(&sb, " [%s]", v.Context)
			}
			sb.WriteByte('\n')
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// BulkID derives the stable identifier an upload batch shares: every
// experiment of one invocation carries the same workspace-scoped hash.
func (r *Report) BulkID() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s::%s", r.Workspace, r.GeneratedAt.Format(time.RFC3339))))
	return hex.EncodeToString(sum[:8])
}

// Uploader pushes a finished report to an external sink. Implementations
// live outside this package; analyze invokes the hook when uploading is
// requested.
type Uploader interface {
	Upload(bulkID string, report *Report) error
}
