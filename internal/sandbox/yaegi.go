package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskforge/internal/analysis"
	"taskforge/internal/logging"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// YaegiExecutor interprets programs in-process. Only allowlisted stdlib
// packages may be imported, so programs get no filesystem, network or
// process access.
type YaegiExecutor struct {
	parser  *analysis.Parser
	allowed map[string]bool
	timeout time.Duration
}

// NewYaegiExecutor creates an interpreter-backed executor. A zero timeout
// relies on the caller's context alone.
func NewYaegiExecutor(parser *analysis.Parser, allowed []string, timeout time.Duration) *YaegiExecutor {
	return &YaegiExecutor{parser: parser, allowed: allowSet(allowed), timeout: timeout}
}

// Name returns the backend name.
func (e *YaegiExecutor) Name() string { return "yaegi" }

// Execute runs prog's Run function and captures its output.
func (e *YaegiExecutor) Execute(ctx context.Context, prog Program) (*Result, error) {
	timer := logging.StartTimer(logging.CategorySandbox, "YaegiExecute")
	defer timer.Stop()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	src, err := assemble(ctx, e.parser, e.allowed, prog)
	if err != nil {
		return nil, failure(ctx, "", err)
	}

	var stdout, stderr bytes.Buffer
	i := interp.New(interp.Options{Stdout: &stdout, Stderr: &stderr})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, failure(ctx, "", fmt.Errorf("failed to load stdlib: %w", err))
	}

	start := time.Now()
	if _, err := i.EvalWithContext(ctx, src); err != nil {
		return nil, failure(ctx, stderr.String(), fmt.Errorf("code evaluation failed: %w", err))
	}

	v, err := i.EvalWithContext(ctx, "main.taskforgeMain()")
	result := &Result{Stdout: strings.TrimRight(stdout.String(), "\n"), Stderr: stderr.String(), Duration: time.Since(start)}
	if err != nil {
		logging.SandboxDebug("yaegi run failed after %v: %v", result.Duration, err)
		return nil, failure(ctx, result.Stderr, err)
	}
	msg, isString := v.Interface().(string)
	if !isString {
		return nil, failure(ctx, result.Stderr, errors.New("entry point returned an unexpected value"))
	}
	if msg != "" {
		// Run's error never reaches the interpreter's stderr, so carry it
		// over as the captured stderr.
		detail := strings.TrimSpace(strings.Join([]string{result.Stderr, msg}, "\n"))
		return nil, failure(ctx, detail, errors.New(msg))
	}
	logging.SandboxDebug("yaegi run ok in %v (%d bytes stdout)", result.Duration, len(result.Stdout))
	return result, nil
}
