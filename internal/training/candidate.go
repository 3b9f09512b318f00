package training

import (
	"context"

	"taskforge/internal/types"
)

// Draft is what a generator returns.
type Draft struct {
	Code string
	Plan string
}

// ExecutionResult is what executing a candidate produced.
type ExecutionResult struct {
	Stdout string
	Stderr string
}

// Output is the text shown to the judge.
func (r ExecutionResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + "\nstderr:\n" + r.Stderr
}

// Candidate is one attempt at answering the question. Err records why a
// candidate dropped out; such candidates never compete for best.
type Candidate struct {
	Round      int
	Index      int
	Code       string
	Plan       string
	Execution  ExecutionResult
	Evaluation JudgeEvaluation
	Score      float64
	Err        error
}

// Comparable reports whether c has a verdict and can compete.
func (c *Candidate) Comparable() bool {
	return c != nil && c.Err == nil && c.Evaluation != nil
}

// GenerateRequest seeds one generation.
type GenerateRequest struct {
	Question       string
	ExpectedAnswer string
	Instructions   string
	Best           *Candidate // nil in the first round
	Examples       []types.Example
	Feedback       []string
	Round          int
	Index          int
}

// JudgeRequest is what the judge evaluates.
type JudgeRequest struct {
	Question       string
	ExpectedAnswer string
	Instructions   string
	Code           string
	ToolOutput     string
}

// GenerateFunc produces a candidate program.
type GenerateFunc func(ctx context.Context, req GenerateRequest) (Draft, error)

// ExecuteFunc runs a candidate program. Errors fail the candidate only.
type ExecuteFunc func(ctx context.Context, code string) (ExecutionResult, error)

// JudgeFunc grades a candidate.
type JudgeFunc func(ctx context.Context, req JudgeRequest) (JudgeEvaluation, error)

// ExampleFunc retrieves examples for a question. It must not fail; an
// unavailable index yields none.
type ExampleFunc func(ctx context.Context, question string) []types.Example

// Persister appends a winning candidate to the example store.
type Persister interface {
	Persist(ctx context.Context, question string, c *Candidate) error
}

// PersistFunc adapts a function to Persister.
type PersistFunc func(ctx context.Context, question string, c *Candidate) error

// Persist calls f.
func (f PersistFunc) Persist(ctx context.Context, question string, c *Candidate) error {
	return f(ctx, question, c)
}
