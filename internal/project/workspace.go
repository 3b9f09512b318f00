// Package project maps taskforge's artifacts onto the filesystem.
//
// Layout under the project root (directory names configurable):
//
//	functions/<name>.go     project-owned functions
//	libs/<name>.go          shared library code
//	tasks/<name>.md         natural-language task descriptions
//	.taskforge/code/<task>.go    generated code
//	.taskforge/meta/<task>.json  compile metadata
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"taskforge/internal/config"
	"taskforge/internal/logging"
	"taskforge/internal/types"
)

const (
	sourceExt   = ".go"
	taskExt     = ".md"
	metadataExt = ".json"
	codeDir     = "code"
	metaDir     = "meta"
)

// ErrTaskNotFound is returned when a task file does not exist.
var ErrTaskNotFound = errors.New("task not found")

// ErrInvalidName is returned for artifact names that would escape their directory.
var ErrInvalidName = errors.New("invalid artifact name")

// ErrCorruptMetadata is returned when a metadata file cannot be decoded.
var ErrCorruptMetadata = errors.New("corrupt metadata")

// Metadata is the compile record stored next to generated code.
type Metadata struct {
	Task         string    `json:"task"`
	Dependencies []string  `json:"dependencies"`
	Schema       string    `json:"schema"`
	CompiledAt   time.Time `json:"compiled_at"`
	ExampleID    string    `json:"example_id,omitempty"`
}

// Workspace reads and writes a project's artifacts.
type Workspace struct {
	root   string
	layout config.ProjectConfig
}

// Open returns a workspace rooted at root. The root must exist.
func Open(root string, layout config.ProjectConfig) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open project: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", abs)
	}
	return &Workspace{root: abs, layout: layout}, nil
}

// Root returns the absolute project root.
func (w *Workspace) Root() string { return w.root }

// Dirs returns the directories whose contents drive staleness.
func (w *Workspace) Dirs() []string {
	return []string{w.dir(w.layout.FunctionsDir), w.dir(w.layout.LibsDir), w.dir(w.layout.TasksDir)}
}

// EnsureLayout creates the directory skeleton.
func (w *Workspace) EnsureLayout() error {
	for _, d := range append(w.Dirs(), w.stateDir(codeDir), w.stateDir(metaDir)) {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	return nil
}

// Functions returns every function artifact with its content.
func (w *Workspace) Functions() ([]types.Artifact, error) {
	return w.list(w.dir(w.layout.FunctionsDir), sourceExt, types.KindFunction)
}

// Libraries returns every library artifact with its content.
func (w *Workspace) Libraries() ([]types.Artifact, error) {
	return w.list(w.dir(w.layout.LibsDir), sourceExt, types.KindLibrary)
}

// Tasks returns every task artifact with its content.
func (w *Workspace) Tasks() ([]types.Artifact, error) {
	return w.list(w.dir(w.layout.TasksDir), taskExt, types.KindTask)
}

// Task loads a single task. A missing file is a StaleInputError wrapping ErrTaskNotFound.
func (w *Workspace) Task(name string) (types.Artifact, error) {
	if err := validName(name); err != nil {
		return types.Artifact{}, err
	}
	path := w.TaskPath(name)
	a, err := readArtifact(path, name, types.KindTask)
	if errors.Is(err, os.ErrNotExist) {
		return types.Artifact{}, &types.StaleInputError{Task: name, Path: path, Err: ErrTaskNotFound}
	}
	return a, err
}

// Code loads a task's generated code.
func (w *Workspace) Code(task string) (types.Artifact, error) {
	if err := validName(task); err != nil {
		return types.Artifact{}, err
	}
	path := w.CodePath(task)
	a, err := readArtifact(path, task, types.KindGeneratedCode)
	if errors.Is(err, os.ErrNotExist) {
		return types.Artifact{}, &types.StaleInputError{Task: task, Path: path, Err: err}
	}
	return a, err
}

// CompiledTasks pairs every task with its generated code and metadata, if any.
// A task whose metadata cannot be decoded is reported without metadata, so
// it counts as unprocessed and the remaining tasks are still assessed.
func (w *Workspace) CompiledTasks() ([]types.CompiledTask, error) {
	tasks, err := w.Tasks()
	if err != nil {
		return nil, err
	}
	out := make([]types.CompiledTask, 0, len(tasks))
	for _, t := range tasks {
		ct := types.CompiledTask{Task: t}
		if code, err := stat(w.CodePath(t.Name), t.Name, types.KindGeneratedCode); err == nil {
			ct.Code = &code
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		meta, metaArtifact, err := w.readMetadata(t.Name)
		switch {
		case err == nil:
			ct.Metadata = &metaArtifact
			ct.Dependencies = meta.Dependencies
		case errors.Is(err, os.ErrNotExist):
		case errors.Is(err, ErrCorruptMetadata):
			logging.Get(logging.CategoryStaleness).Warn("treating %s as unprocessed: %v", t.Name, err)
		default:
			return nil, err
		}
		out = append(out, ct)
	}
	return out, nil
}

// Metadata loads a task's compile record.
func (w *Workspace) Metadata(task string) (*Metadata, error) {
	if err := validName(task); err != nil {
		return nil, err
	}
	meta, _, err := w.readMetadata(task)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &types.StaleInputError{Task: task, Path: w.MetadataPath(task), Err: err}
	}
	return meta, err
}

// WriteCode stores generated code for task.
func (w *Workspace) WriteCode(task, code string) error {
	if err := validName(task); err != nil {
		return err
	}
	return writeFile(w.CodePath(task), []byte(code))
}

// WriteMetadata stores meta. Written after the code so its timestamp is not older.
func (w *Workspace) WriteMetadata(meta Metadata) error {
	if err := validName(meta.Task); err != nil {
		return err
	}
	if meta.Dependencies == nil {
		meta.Dependencies = []string{}
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return writeFile(w.MetadataPath(meta.Task), data)
}

// RemoveMetadata deletes a task's metadata. Missing files are not an error.
func (w *Workspace) RemoveMetadata(task string) error {
	if err := validName(task); err != nil {
		return err
	}
	if err := os.Remove(w.MetadataPath(task)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove metadata for %s: %w", task, err)
	}
	return nil
}

// PruneOrphanedMetadata deletes metadata whose task or generated code no
// longer exists and returns the affected task names in sorted order.
func (w *Workspace) PruneOrphanedMetadata() ([]string, error) {
	entries, err := os.ReadDir(w.stateDir(metaDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}

	var pruned []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != metadataExt {
			continue
		}
		task := strings.TrimSuffix(e.Name(), metadataExt)
		if exists(w.TaskPath(task)) && exists(w.CodePath(task)) {
			continue
		}
		if err := w.RemoveMetadata(task); err != nil {
			return pruned, err
		}
		logging.StalenessDebug("pruned orphaned metadata for %s", task)
		pruned = append(pruned, task)
	}
	sort.Strings(pruned)
	return pruned, nil
}

// TaskPath is where task name's description lives.
func (w *Workspace) TaskPath(name string) string {
	return filepath.Join(w.dir(w.layout.TasksDir), name+taskExt)
}

// CodePath is where task's generated code lives.
func (w *Workspace) CodePath(task string) string {
	return filepath.Join(w.stateDir(codeDir), task+sourceExt)
}

// MetadataPath is where task's metadata lives.
func (w *Workspace) MetadataPath(task string) string {
	return filepath.Join(w.stateDir(metaDir), task+metadataExt)
}

func (w *Workspace) readMetadata(task string) (*Metadata, types.Artifact, error) {
	a, err := readArtifact(w.MetadataPath(task), task, types.KindMetadata)
	if err != nil {
		return nil, types.Artifact{}, err
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(a.Content), &meta); err != nil {
		return nil, types.Artifact{}, fmt.Errorf("%w for %s: %v", ErrCorruptMetadata, task, err)
	}
	return &meta, a, nil
}

func (w *Workspace) dir(name string) string {
	return filepath.Join(w.root, name)
}

func (w *Workspace) stateDir(sub string) string {
	return filepath.Join(w.root, w.layout.StateDir, sub)
}

func (w *Workspace) list(dir, ext string, kind types.ArtifactKind) ([]types.Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var out []types.Artifact
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext || strings.HasSuffix(e.Name(), "_test.go") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		a, err := readArtifact(filepath.Join(dir, e.Name()), name, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func readArtifact(path, name string, kind types.ArtifactKind) (types.Artifact, error) {
	a, err := stat(path, name, kind)
	if err != nil {
		return a, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Artifact{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	a.Content = string(data)
	return a, nil
}

func stat(path, name string, kind types.ArtifactKind) (types.Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.Artifact{}, err
	}
	return types.Artifact{Kind: kind, Name: name, Path: path, LastModified: info.ModTime()}, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func validName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
