// Package sandbox executes generated programs with their project functions
// and libraries, either in the yaegi interpreter or in a docker container.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"taskforge/internal/analysis"
	"taskforge/internal/config"
	"taskforge/internal/types"
)

// ErrForbiddenImport is returned when a program imports a package outside
// the allowlist.
var ErrForbiddenImport = errors.New("forbidden import")

// DefaultAllowedPackages are the stdlib packages programs may import.
// os, os/exec, net, net/http, syscall and unsafe are deliberately absent.
var DefaultAllowedPackages = []string{
	"bytes",
	"encoding/base64",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"path",
	"path/filepath",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
}

// Program is what gets executed: the generated code plus the project
// sources it may call.
type Program struct {
	// Support holds function and library sources, each a package main file.
	Support []string
	// Code is the generated code; it must define func Run() (string, error).
	Code string
}

// Result is the captured output of a run. Stdout holds everything the
// program printed followed by the value Run returned.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Output is the text a judge sees.
func (r *Result) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + "\nstderr:\n" + r.Stderr
}

// Executor runs programs. Every failure, including timeouts, is a
// *types.ExecutionError.
type Executor interface {
	Execute(ctx context.Context, prog Program) (*Result, error)
	Name() string
}

// New builds the configured executor.
func New(cfg config.SandboxConfig, timeout time.Duration, parser *analysis.Parser) (Executor, error) {
	allow := cfg.AllowedPackages
	if len(allow) == 0 {
		allow = DefaultAllowedPackages
	}
	switch cfg.Backend {
	case "", "yaegi":
		return NewYaegiExecutor(parser, allow, timeout), nil
	case "docker":
		return NewDockerExecutor(parser, allow, timeout, cfg.DockerImage)
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
	}
}

// runnerSource adapts Run to an entry point the executors call. It prints
// the output and returns the error text, or "" on success.
const runnerSource = `package main

import "fmt"

func taskforgeMain() string {
	out, err := Run()
	if out != "" {
		fmt.Println(out)
	}
	if err != nil {
		if msg := err.Error(); msg != "" {
			return msg
		}
		return "Run returned an error"
	}
	return ""
}
`

// assemble validates prog's imports and returns a single source file with
// the runner appended.
func assemble(ctx context.Context, parser *analysis.Parser, allowed map[string]bool, prog Program, extra ...string) (string, error) {
	sources := append(append([]string{}, prog.Support...), prog.Code)
	merged, err := parser.Merge(ctx, sources...)
	if err != nil {
		return "", err
	}
	imports, err := parser.Imports(ctx, merged)
	if err != nil {
		return "", err
	}
	var forbidden []string
	for _, pkg := range imports {
		if !allowed[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		sort.Strings(forbidden)
		return "", fmt.Errorf("%w: %s", ErrForbiddenImport, strings.Join(forbidden, ", "))
	}
	return parser.Merge(ctx, append([]string{merged, runnerSource}, extra...)...)
}

func allowSet(pkgs []string) map[string]bool {
	set := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		set[p] = true
	}
	return set
}

// failure wraps err as an execution error, marking deadline overruns.
func failure(ctx context.Context, stderr string, err error) *types.ExecutionError {
	timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	return &types.ExecutionError{Stderr: stderr, TimedOut: timedOut, Err: err}
}
