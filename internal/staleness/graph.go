// Package staleness decides which compiled tasks are out of date.
//
// Each processed task contributes a small dependency graph: its generated
// code depends on every function in its dependency record and on every
// library, and its metadata depends on its code. An edge is stale when the
// dependency was modified strictly after the dependent. Everything here is
// pure; callers load artifacts and act on the results.
package staleness

import (
	"sort"
	"time"

	"taskforge/internal/types"
)

// Reason is why a task is outdated.
type Reason string

const (
	FunctionsNewerThanCode Reason = "functionsNewerThanCode"
	LibsNewerThanCode      Reason = "libsNewerThanCode"
	CodeNewerThanMetadata  Reason = "codeNewerThanMetadata"
)

// Node is one artifact in the graph.
type Node struct {
	Kind     types.ArtifactKind
	Name     string
	Modified time.Time
	Missing  bool // referenced but absent from the project
}

// Edge says Dependent was derived from Dependency.
type Edge struct {
	Dependent  Node
	Dependency Node
	Reason     Reason
}

// Stale reports whether the dependency changed after the dependent was
// produced. A missing dependency is always stale.
func (e Edge) Stale() bool {
	return e.Dependency.Missing || e.Dependency.Modified.After(e.Dependent.Modified)
}

// TaskGraph holds the edges of one processed task.
type TaskGraph struct {
	Task  string
	Edges []Edge
}

// BuildGraphs builds a graph for every processed task. Unprocessed tasks are
// skipped: they have nothing to be stale against.
func BuildGraphs(tasks []types.CompiledTask, functions, libs []types.Artifact) []TaskGraph {
	fnByName := make(map[string]types.Artifact, len(functions))
	for _, f := range functions {
		fnByName[f.Name] = f
	}

	graphs := make([]TaskGraph, 0, len(tasks))
	for _, t := range tasks {
		if !t.IsProcessed() {
			continue
		}
		code := nodeOf(*t.Code)
		g := TaskGraph{Task: t.Task.Name}

		for _, dep := range uniqueSorted(t.Dependencies) {
			n := Node{Kind: types.KindFunction, Name: dep, Missing: true}
			if f, ok := fnByName[dep]; ok {
				n = nodeOf(f)
			}
			g.Edges = append(g.Edges, Edge{Dependent: code, Dependency: n, Reason: FunctionsNewerThanCode})
		}
		// Every library counts, whether or not the code uses it. This
		// over-invalidates but never misses a change.
		for _, lib := range libs {
			g.Edges = append(g.Edges, Edge{Dependent: code, Dependency: nodeOf(lib), Reason: LibsNewerThanCode})
		}
		g.Edges = append(g.Edges, Edge{Dependent: nodeOf(*t.Metadata), Dependency: code, Reason: CodeNewerThanMetadata})

		graphs = append(graphs, g)
	}
	return graphs
}

func nodeOf(a types.Artifact) Node {
	return Node{Kind: a.Kind, Name: a.Name, Modified: a.LastModified}
}

func uniqueSorted(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
