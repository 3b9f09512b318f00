package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskforge/internal/analysis"
	"taskforge/internal/sandbox"
	"taskforge/internal/types"
)

// Project is the slice of the workspace the built-in tools read.
type Project interface {
	Functions() ([]types.Artifact, error)
	Libraries() ([]types.Artifact, error)
}

// Builtins wires the generation tools to a project and an executor.
type Builtins struct {
	Project  Project
	Parser   *analysis.Parser
	Executor sandbox.Executor
}

// NewBuiltinRegistry returns a sealed registry holding list_functions,
// read_function and, when an executor is configured, run_code.
func NewBuiltinRegistry(b Builtins) (*Registry, error) {
	r := NewRegistry()
	tools := []*Tool{b.listFunctions(), b.readFunction()}
	if b.Executor != nil {
		tools = append(tools, b.runCode())
	}
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r.Seal(), nil
}

func (b Builtins) listFunctions() *Tool {
	return &Tool{
		Name:        "list_functions",
		Description: "List the project functions generated code may call, one per line with its signature.",
		Category:    CategoryProject,
		Execute: func(ctx context.Context, _ map[string]any) (string, error) {
			fns, err := b.Project.Functions()
			if err != nil {
				return "", err
			}
			if len(fns) == 0 {
				return "no project functions", nil
			}
			table, err := b.Parser.BuildFunctionTable(ctx, fns)
			if err != nil {
				return "", err
			}
			var lines []string
			for _, name := range table.Artifacts() {
				sig, _ := table.Signature(name)
				lines = append(lines, fmt.Sprintf("%s: %s", name, sig))
			}
			return strings.Join(lines, "\n"), nil
		},
	}
}

func (b Builtins) readFunction() *Tool {
	return &Tool{
		Name:        "read_function",
		Description: "Return the full source of a project function or library.",
		Category:    CategoryProject,
		Schema: ToolSchema{
			Required: []string{"name"},
			Properties: map[string]Property{
				"name": {Type: "string", Description: "Function or library name as listed by list_functions"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			name, err := StringArg(args, "name")
			if err != nil {
				return "", err
			}
			fns, err := b.Project.Functions()
			if err != nil {
				return "", err
			}
			libs, err := b.Project.Libraries()
			if err != nil {
				return "", err
			}
			for _, a := range append(fns, libs...) {
				if a.Name == name {
					return a.Content, nil
				}
			}
			return "", fmt.Errorf("no function or library named %q", name)
		},
	}
}

func (b Builtins) runCode() *Tool {
	return &Tool{
		Name:        "run_code",
		Description: "Execute Go code defining func Run() (string, error) against the project functions and return its output.",
		Category:    CategoryExecution,
		Schema: ToolSchema{
			Required: []string{"code"},
			Properties: map[string]Property{
				"code": {Type: "string", Description: "A complete package main source file"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			code, err := StringArg(args, "code")
			if err != nil {
				return "", err
			}
			support, err := SupportSources(b.Project)
			if err != nil {
				return "", err
			}
			res, err := b.Executor.Execute(ctx, sandbox.Program{Support: support, Code: code})
			if err != nil {
				var execErr *types.ExecutionError
				if errors.As(err, &execErr) && execErr.Stderr != "" {
					return execErr.Stderr, err
				}
				return "", err
			}
			return res.Output(), nil
		},
	}
}

// SupportSources returns every function and library source, in that order.
func SupportSources(p Project) ([]string, error) {
	fns, err := p.Functions()
	if err != nil {
		return nil, err
	}
	libs, err := p.Libraries()
	if err != nil {
		return nil, err
	}
	sources := make([]string, 0, len(fns)+len(libs))
	for _, a := range append(fns, libs...) {
		sources = append(sources, a.Content)
	}
	return sources, nil
}
