package types

import (
	"errors"
	"fmt"
	"strings"
)

// StaleInputError reports a missing or out-of-date input file. It is
// reported to the caller and never retried.
type StaleInputError struct {
	Task string
	Path string
	Err  error
}

func (e *StaleInputError) Error() string {
	var b strings.Builder
	b.WriteString("stale input")
	if e.Task != "" {
		fmt.Fprintf(&b, " for task %q", e.Task)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StaleInputError) Unwrap() error { return e.Err }

// GenerationError means the model produced no usable output after Attempts tries.
type GenerationError struct {
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ExecutionError marks a candidate whose code raised or timed out. It fails
// the candidate, never the round.
type ExecutionError struct {
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("execution timed out: %v", e.Err)
	}
	if e.Err == nil {
		return "execution failed: " + firstLine(e.Stderr)
	}
	return fmt.Sprintf("execution failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// JudgeParseError means the judge's verdict could not be parsed; the
// candidate is discarded from comparison.
type JudgeParseError struct {
	Raw string
	Err error
}

func (e *JudgeParseError) Error() string {
	return fmt.Sprintf("failed to parse judge verdict: %v", e.Err)
}

func (e *JudgeParseError) Unwrap() error { return e.Err }

// RetrievalUnavailableError means example retrieval could not run. Callers
// degrade to generating without examples.
type RetrievalUnavailableError struct {
	Err error
}

func (e *RetrievalUnavailableError) Error() string {
	return fmt.Sprintf("retrieval unavailable: %v", e.Err)
}

func (e *RetrievalUnavailableError) Unwrap() error { return e.Err }

// IsTerminal reports whether err should stop the pipeline rather than fail
// a single candidate.
func IsTerminal(err error) bool {
	var stale *StaleInputError
	var gen *GenerationError
	return errors.As(err, &stale) || errors.As(err, &gen)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
