package experiment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoRuns signals that the base directory holds no run directories yet.
var ErrNoRuns = errors.New("no experiment runs found")

// Standard artifact names inside a run directory.
const (
	TraceFileName    = "evolution_trace.csv"
	RollbackFileName = "rollback_events.jsonl"
	VisualizationDir = "visualizations"
	TracePlotName    = "evolution_trace.png"
)

// Run identifies a single experiment run directory.
type Run struct {
	// Name is the directory name, e.g. run_20250131_142530.
	Name string
	// Path is the full path to the run directory.
	Path string
}

// NewRun builds a Run for a named directory under baseDir.
func NewRun(baseDir, name string) Run {
	return Run{Name: name, Path: filepath.Join(baseDir, name)}
}

// TracePath returns the path of the evolution trace inside the run.
func (r Run) TracePath() string {
	return filepath.Join(r.Path, TraceFileName)
}

// RollbackPath returns the path of the rollback event log inside the run.
func (r Run) RollbackPath() string {
	return filepath.Join(r.Path, RollbackFileName)
}

// VisualizationPath returns the expected path of the trace plot. The file is
// produced by the optimizer and may not exist.
func (r Run) VisualizationPath() string {
	return filepath.Join(r.Path, VisualizationDir, TracePlotName)
}

// FindLatestRun returns the lexicographically last run directory under
// baseDir whose name starts with prefix. Run names embed a zero-padded
// timestamp, so lexicographic order is creation order. It returns ErrNoRuns
// when baseDir is missing or holds no matching directories.
func FindLatestRun(baseDir, prefix string) (Run, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Run{}, ErrNoRuns
		}
		return Run{}, fmt.Errorf("read base dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return Run{}, ErrNoRuns
	}
	sort.Strings(names)
	latest := names[len(names)-1]
	return Run{Name: latest, Path: filepath.Join(baseDir, latest)}, nil
}

// RunInfo describes one run directory for inventory listings.
type RunInfo struct {
	Run
	// SizeBytes is the total size of all files under the run directory.
	SizeBytes int64
	// HasVisualizations reports whether the visualizations directory exists
	// and is non-empty.
	HasVisualizations bool
}

// ListRuns returns all run directories under baseDir in name order, with
// their on-disk size and visualization status. A missing base directory
// yields an empty list, not an error, so inventory commands can run before
// the first experiment starts.
func ListRuns(baseDir, prefix string) ([]RunInfo, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read base dir: %w", err)
	}

	var infos []RunInfo
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		run := Run{Name: entry.Name(), Path: filepath.Join(baseDir, entry.Name())}
		size, err := dirSize(run.Path)
		if err != nil {
			return nil, fmt.Errorf("size run %s: %w", run.Name, err)
		}
		infos = append(infos, RunInfo{
			Run:               run,
			SizeBytes:         size,
			HasVisualizations: hasVisualizations(run.Path),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", root, err)
	}
	return total, nil
}

func hasVisualizations(runPath string) bool {
	entries, err := os.ReadDir(filepath.Join(runPath, VisualizationDir))
	return err == nil && len(entries) > 0
}
