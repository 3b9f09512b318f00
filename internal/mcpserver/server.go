// Package mcpserver exposes outdated-task detection, example retrieval and
// the improvement loop as MCP tools over stdio.
package mcpserver

import (
	"context"

	"taskforge/internal/logging"
	"taskforge/internal/retrieval"
	"taskforge/internal/staleness"
	"taskforge/internal/training"
	"taskforge/internal/types"

	"github.com/mark3labs/mcp-go/server"
)

// Outdater reports which compiled tasks are stale. *compiler.Compiler satisfies it.
type Outdater interface {
	Outdated(ctx context.Context) (pruned []string, outdated []staleness.Outdated, unprocessed []types.CompiledTask, err error)
}

// Searcher retrieves examples. *retrieval.Retriever satisfies it.
type Searcher interface {
	Search(ctx context.Context, q retrieval.Query) ([]types.Example, error)
}

// Improver answers a question through the improvement loop.
type Improver interface {
	Improve(ctx context.Context, req training.Request) (*training.Result, error)
}

// Deps are the collaborators behind the tools. A nil collaborator leaves
// its tool unregistered.
type Deps struct {
	Outdater Outdater
	Searcher Searcher
	Improver Improver
	Query    retrieval.Query // default k and weights for retrieve_examples
}

// New builds the MCP server with every available tool registered.
func New(name, version string, deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	registered := 0
	if deps.Outdater != nil {
		t := NewOutdatedTool(deps.Outdater)
		s.AddTool(t.Definition(), t.Handle)
		registered++
	}
	if deps.Searcher != nil {
		t := NewRetrieveTool(deps.Searcher, deps.Query)
		s.AddTool(t.Definition(), t.Handle)
		registered++
	}
	if deps.Improver != nil {
		t := NewImproveTool(deps.Improver)
		s.AddTool(t.Definition(), t.Handle)
		registered++
	}
	logging.Server("MCP server %s %s ready with %d tools", name, version, registered)
	return s
}

// ServeStdio runs s on stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

const instructions = `taskforge keeps generated task code in step with project functions.
Use outdated_tasks to see which tasks need a refresh or recompile,
retrieve_examples to find stored (task, code) examples similar to a task,
and improve_task to search for a program answering a question.`
