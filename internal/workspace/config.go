package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/expgrid/expgrid/internal/envvars"
)

// Config is the parsed workspace configuration document. Schema validation
// beyond what decoding enforces belongs to an external collaborator.
type Config struct {
	Expgrid Root `yaml:"expgrid"`
}

// Root holds the recognized top-level keys of the workspace document.
type Root struct {
	Include         []string                      `yaml:"include"`
	Variables       map[string]any                `yaml:"variables"`
	EnvVars         envvars.ActionSet             `yaml:"env-vars"`
	Applications    map[string]*ApplicationConfig `yaml:"applications"`
	ApplicationDirs []string                      `yaml:"application_directories"`
}

// ApplicationConfig scopes variables, env-vars and workloads to one
// application.
type ApplicationConfig struct {
	Variables          map[string]any             `yaml:"variables"`
	EnvVars            envvars.ActionSet          `yaml:"env-vars"`
	Template           string                     `yaml:"template"`
	ChainedExperiments []string                   `yaml:"chained_experiments"`
	Workloads          map[string]*WorkloadConfig `yaml:"workloads"`
}

// WorkloadConfig scopes variables and experiments to one workload.
type WorkloadConfig struct {
	Variables          map[string]any               `yaml:"variables"`
	EnvVars            envvars.ActionSet            `yaml:"env-vars"`
	ChainedExperiments []string                     `yaml:"chained_experiments"`
	Experiments        map[string]*ExperimentConfig `yaml:"experiments"`
}

// ExperimentConfig declares one experiment, possibly expanded by matrices
// or vectors.
type ExperimentConfig struct {
	Variables          map[string]any    `yaml:"variables"`
	Matrix             []string          `yaml:"matrix"`
	Matrices           [][]string        `yaml:"matrices"`
	Template           string            `yaml:"template"`
	ChainedExperiments []string          `yaml:"chained_experiments"`
	EnvVars            envvars.ActionSet `yaml:"env-vars"`
}

// LoadConfig reads and decodes a workspace configuration file, then merges
// every included fragment. Included fragments have lower precedence than
// the including document.
func LoadConfig(path string) (*Config, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(path)
	for _, inc := range cfg.Expgrid.Include {
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(baseDir, incPath)
		}
		fragment, err := readConfig(incPath)
		if err != nil {
			return nil, fmt.Errorf("include %q: %w", inc, err)
		}
		mergeConfig(cfg, fragment)
	}
	return cfg, nil
}

func readConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode workspace config %s: %w", path, err)
	}
	return &cfg, nil
}

// mergeConfig folds a lower-precedence fragment into cfg: variables and
// applications already present in cfg win, env-vars action lists append.
func mergeConfig(cfg, fragment *Config) {
	if cfg.Expgrid.Variables == nil {
		cfg.Expgrid.Variables = make(map[string]any)
	}
	for k, v := range fragment.Expgrid.Variables {
		if _, ok := cfg.Expgrid.Variables[k]; !ok {
			cfg.Expgrid.Variables[k] = v
		}
	}

	if cfg.Expgrid.Applications == nil {
		cfg.Expgrid.Applications = make(map[string]*ApplicationConfig)
	}
	for name, app := range fragment.Expgrid.Applications {
		if _, ok := cfg.Expgrid.Applications[name]; !ok {
			cfg.Expgrid.Applications[name] = app
		}
	}

	cfg.Expgrid.ApplicationDirs = append(cfg.Expgrid.ApplicationDirs, fragment.Expgrid.ApplicationDirs...)

	if len(fragment.Expgrid.EnvVars.Set) > 0 {
		if cfg.Expgrid.EnvVars.Set == nil {
			cfg.Expgrid.EnvVars.Set = make(map[string]string)
		}
		for k, v := range fragment.Expgrid.EnvVars.Set {
			if _, ok := cfg.Expgrid.EnvVars.Set[k]; !ok {
				cfg.Expgrid.EnvVars.Set[k] = v
			}
		}
	}
	cfg.Expgrid.EnvVars.Unset = append(cfg.Expgrid.EnvVars.Unset, fragment.Expgrid.EnvVars.Unset...)
	cfg.Expgrid.EnvVars.Append = append(cfg.Expgrid.EnvVars.Append, fragment.Expgrid.EnvVars.Append...)
	cfg.Expgrid.EnvVars.Prepend = append(cfg.Expgrid.EnvVars.Prepend, fragment.Expgrid.EnvVars.Prepend...)
}
