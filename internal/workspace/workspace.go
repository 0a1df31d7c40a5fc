// Package workspace manages the on-disk experiment workspace: the YAML
// configuration under configs/, the rendered experiment tree, archives,
// downloaded inputs, and the metadata directory that carries the invocation
// lock and per-phase completion markers.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	configDirName  = "configs"
	configFileName = "expgrid.yaml"

	metadataDirName = ".expgrid"
	lockFileName    = "invocation.lock"
	phaseDirName    = "phases"

	experimentDirName = "experiments"
	archiveDirName    = "archive"
	inputDirName      = "inputs"
)

// Workspace is an opened experiment workspace rooted at Root.
type Workspace struct {
	Root   string
	Config *Config
}

// Open reads the workspace configuration at root/configs/expgrid.yaml and
// returns the opened workspace.
func Open(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(filepath.Join(abs, configDirName, configFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace at %s: %w", abs, err)
	}
	return &Workspace{Root: abs, Config: cfg}, nil
}

// Init creates the workspace skeleton at root along with a starter
// configuration. It fails if a configuration already exists.
func Init(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{
		filepath.Join(abs, configDirName),
		filepath.Join(abs, experimentDirName),
		filepath.Join(abs, archiveDirName),
		filepath.Join(abs, inputDirName),
		filepath.Join(abs, metadataDirName, phaseDirName),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	cfgPath := filepath.Join(abs, configDirName, configFileName)
	f, err := os.OpenFile(cfgPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("workspace at %s already has a configuration", abs)
		}
		return nil, err
	}
	defer f.Close()
	if _, err := f.WriteString(starterConfig); err != nil {
		return nil, err
	}
	return &Workspace{Root: abs, Config: &Config{}}, nil
}

const starterConfig = `expgrid:
  variables: {}
  applications: {}
`

// ConfigPath returns the path of the primary configuration file.
func (w *Workspace) ConfigPath() string {
	return filepath.Join(w.Root, configDirName, configFileName)
}

// ExperimentDir returns the run directory of the named experiment.
func (w *Workspace) ExperimentDir(experiment string) string {
	return filepath.Join(w.Root, experimentDirName, experiment)
}

// ArchiveDir returns the workspace archive directory.
func (w *Workspace) ArchiveDir() string {
	return filepath.Join(w.Root, archiveDirName)
}

// InputDir returns the workspace input cache directory.
func (w *Workspace) InputDir() string {
	return filepath.Join(w.Root, inputDirName)
}

// ErrLocked is returned when another invocation holds the workspace lock.
var ErrLocked = errors.New("workspace is locked by another invocation")

// WriteTransaction acquires the exclusive invocation lock and returns a
// release function. A second invocation against the same workspace fails
// with ErrLocked until the first releases it.
func (w *Workspace) WriteTransaction() (release func() error, err error) {
	dir := filepath.Join(w.Root, metadataDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	lockPath := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w (lock file %s)", ErrLocked, lockPath)
		}
		return nil, err
	}
	fmt.Fprintf(f, "pid=%d\nstarted=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := f.Close(); err != nil {
		os.Remove(lockPath)
		return nil, err
	}
	return func() error { return os.Remove(lockPath) }, nil
}

// markerPath locates the completion marker of one phase of one experiment.
func (w *Workspace) markerPath(experiment, phase string) string {
	return filepath.Join(w.Root, metadataDirName, phaseDirName, experiment, phase)
}

// PhaseComplete reports whether a completion marker exists for the phase.
func (w *Workspace) PhaseComplete(experiment, phase string) bool {
	_, err := os.Stat(w.markerPath(experiment, phase))
	return err == nil
}

// MarkPhaseComplete writes the phase completion marker.
func (w *Workspace) MarkPhaseComplete(experiment, phase string) error {
	path := w.markerPath(experiment, phase)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	stamp := strconv.FormatInt(time.Now().Unix(), 10) + "\n"
	return os.WriteFile(path, []byte(stamp), 0o644)
}

// ClearPhaseMarkers removes every completion marker of one experiment,
// forcing its phases to run again.
func (w *Workspace) ClearPhaseMarkers(experiment string) error {
	err := os.RemoveAll(filepath.Join(w.Root, metadataDirName, phaseDirName, experiment))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
