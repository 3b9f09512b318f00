package staleness

import (
	"fmt"
	"strings"

	"taskforge/internal/types"
)

// Action is what a caller should do with an outdated task.
type Action int

const (
	// ActionRefreshMetadata re-derives metadata from the existing code.
	ActionRefreshMetadata Action = iota
	// ActionRecompile regenerates the code.
	ActionRecompile
)

func (a Action) String() string {
	if a == ActionRecompile {
		return "recompile"
	}
	return "refresh-metadata"
}

// Reasons records which comparisons failed.
type Reasons struct {
	FunctionsNewerThanCode bool `json:"functionsNewerThanCode"`
	LibsNewerThanCode      bool `json:"libsNewerThanCode"`
	CodeNewerThanMetadata  bool `json:"codeNewerThanMetadata"`
}

// Any reports whether at least one reason holds.
func (r Reasons) Any() bool {
	return r.FunctionsNewerThanCode || r.LibsNewerThanCode || r.CodeNewerThanMetadata
}

// List returns the reasons that hold, in fixed order.
func (r Reasons) List() []Reason {
	var out []Reason
	if r.FunctionsNewerThanCode {
		out = append(out, FunctionsNewerThanCode)
	}
	if r.LibsNewerThanCode {
		out = append(out, LibsNewerThanCode)
	}
	if r.CodeNewerThanMetadata {
		out = append(out, CodeNewerThanMetadata)
	}
	return out
}

// Outdated describes one out-of-date task.
type Outdated struct {
	Task             string   `json:"task"`
	Reasons          Reasons  `json:"reasons"`
	Functions        []string `json:"functions,omitempty"`         // newer than code
	MissingFunctions []string `json:"missing_functions,omitempty"` // recorded but gone
	Libraries        []string `json:"libraries,omitempty"`         // newer than code
	Message          string   `json:"message"`
}

// Action classifies the fix: only a metadata lag needs a metadata refresh,
// anything involving functions or libraries needs a full recompile.
func (o Outdated) Action() Action {
	if o.Reasons.FunctionsNewerThanCode || o.Reasons.LibsNewerThanCode {
		return ActionRecompile
	}
	return ActionRefreshMetadata
}

// ComputeOutdatedTasks returns every processed task with at least one stale
// edge, in input order. Tasks missing code or metadata are never reported.
func ComputeOutdatedTasks(tasks []types.CompiledTask, functions, libs []types.Artifact) []Outdated {
	var out []Outdated
	for _, g := range BuildGraphs(tasks, functions, libs) {
		if o, ok := evaluate(g); ok {
			out = append(out, o)
		}
	}
	return out
}

// Classify splits tasks into those with both code and metadata and the rest.
func Classify(tasks []types.CompiledTask) (processed, unprocessed []types.CompiledTask) {
	for _, t := range tasks {
		if t.IsProcessed() {
			processed = append(processed, t)
		} else {
			unprocessed = append(unprocessed, t)
		}
	}
	return processed, unprocessed
}

func evaluate(g TaskGraph) (Outdated, bool) {
	o := Outdated{Task: g.Task}
	for _, e := range g.Edges {
		if !e.Stale() {
			continue
		}
		switch e.Reason {
		case FunctionsNewerThanCode:
			o.Reasons.FunctionsNewerThanCode = true
			if e.Dependency.Missing {
				o.MissingFunctions = append(o.MissingFunctions, e.Dependency.Name)
			} else {
				o.Functions = append(o.Functions, e.Dependency.Name)
			}
		case LibsNewerThanCode:
			o.Reasons.LibsNewerThanCode = true
			o.Libraries = append(o.Libraries, e.Dependency.Name)
		case CodeNewerThanMetadata:
			o.Reasons.CodeNewerThanMetadata = true
		}
	}
	if !o.Reasons.Any() {
		return Outdated{}, false
	}
	o.Message = message(o)
	return o, true
}

func message(o Outdated) string {
	var parts []string
	if len(o.Functions) > 0 {
		parts = append(parts, fmt.Sprintf("functions changed since code was generated: %s", strings.Join(o.Functions, ", ")))
	}
	if len(o.MissingFunctions) > 0 {
		parts = append(parts, fmt.Sprintf("functions no longer exist: %s", strings.Join(o.MissingFunctions, ", ")))
	}
	if len(o.Libraries) > 0 {
		parts = append(parts, fmt.Sprintf("libraries changed since code was generated: %s", strings.Join(o.Libraries, ", ")))
	}
	if o.Reasons.CodeNewerThanMetadata {
		parts = append(parts, "generated code is newer than its metadata")
	}
	return fmt.Sprintf("task %s is outdated: %s", o.Task, strings.Join(parts, "; "))
}
