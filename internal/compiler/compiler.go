// Package compiler turns task descriptions into generated code and keeps
// that code in step with the project's functions and libraries.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskforge/internal/analysis"
	"taskforge/internal/llm"
	"taskforge/internal/logging"
	"taskforge/internal/metrics"
	"taskforge/internal/project"
	"taskforge/internal/prompt"
	"taskforge/internal/retrieval"
	"taskforge/internal/types"
)

// DefaultMaxAttempts bounds generation retries per task.
const DefaultMaxAttempts = 3

// Compiler generates code for tasks.
type Compiler struct {
	Workspace   *project.Workspace
	Parser      *analysis.Parser
	Session     llm.Session
	Retriever   *retrieval.Retriever // optional
	Corpus      *Corpus              // optional; nil skips example recording
	Query       retrieval.Query      // k and weights; texts are filled per task
	MaxAttempts int
	Metrics     *metrics.Metrics
}

// Result describes one compilation.
type Result struct {
	Task         string
	Code         string
	Plan         string
	Dependencies []string
	Schema       string
	Attempts     int
	Examples     int
	ExampleID    string
}

type generated struct {
	code     string
	plan     string
	report   *analysis.Report
	attempts int
}

// Compile generates code for the named task and writes code and metadata.
// Failures are a *types.StaleInputError for missing inputs or a
// *types.GenerationError once retries are exhausted.
func (c *Compiler) Compile(ctx context.Context, name string) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryCompiler, "Compile")
	defer timer.Stop()

	task, err := c.Workspace.Task(name)
	if err != nil {
		return nil, err
	}
	fns, err := c.Workspace.Functions()
	if err != nil {
		return nil, err
	}
	table, err := c.Parser.BuildFunctionTable(ctx, fns)
	if err != nil {
		return nil, err
	}
	functionsText := table.SignatureText(table.Artifacts())

	var examples []types.Example
	if c.Retriever != nil {
		q := c.query(task.Content, functionsText)
		examples = c.Retriever.SearchOrEmpty(ctx, q)
	}
	logging.Compiler("compiling %s with %d examples", name, len(examples))

	system := prompt.GenerationSystemPrompt(functionsText, examples, c.Session.Tools != nil)
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	gen, err := types.Retry(ctx, maxAttempts, func(ctx context.Context, attempt int, prior []error) types.Outcome[generated] {
		return c.attempt(ctx, system, task.Content, table, attempt, prior)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.Metrics.GenerationFailed()
		return nil, &types.GenerationError{Attempts: maxAttempts, Err: err}
	}

	if err := c.Workspace.WriteCode(name, gen.code); err != nil {
		return nil, err
	}
	meta := project.Metadata{
		Task:         name,
		Dependencies: gen.report.Dependencies,
		Schema:       gen.report.Schema,
		CompiledAt:   time.Now().UTC(),
	}
	res := &Result{
		Task:         name,
		Code:         gen.code,
		Plan:         gen.plan,
		Dependencies: gen.report.Dependencies,
		Schema:       gen.report.Schema,
		Attempts:     gen.attempts,
		Examples:     len(examples),
	}

	if c.Corpus != nil {
		ex, err := c.Corpus.RecordWithSignature(ctx, task.Content, gen.code, table.SignatureText(gen.report.Dependencies), "compile")
		if err != nil {
			logging.Get(logging.CategoryCompiler).Warn("compiled %s but could not record example: %v", name, err)
		} else {
			meta.ExampleID = ex.ID
			res.ExampleID = ex.ID
			c.Metrics.ExamplePersisted("compile")
		}
	}
	if err := c.Workspace.WriteMetadata(meta); err != nil {
		return nil, err
	}
	c.Metrics.TaskCompiled("compile")
	logging.Compiler("compiled %s in %d attempt(s): deps=%v", name, gen.attempts, gen.report.Dependencies)
	return res, nil
}

// attempt runs one generation. Unparseable replies are retryable and their
// errors are fed back on the next attempt.
func (c *Compiler) attempt(ctx context.Context, system, taskText string, table *analysis.FunctionTable, attempt int, prior []error) types.Outcome[generated] {
	feedback := make([]string, 0, len(prior))
	for _, err := range prior {
		feedback = append(feedback, err.Error())
	}
	user := prompt.CompileUserPrompt(taskText, feedback)

	reply, err := c.Session.Converse(ctx, system, types.NewConversation(types.UserMessage(user)))
	if err != nil {
		if ctx.Err() != nil {
			return types.Fatal[generated](ctx.Err())
		}
		return types.Retryable[generated](fmt.Errorf("attempt %d: %w", attempt, err))
	}
	code, plan, err := prompt.ExtractCode(reply.Completion.Content)
	if err != nil {
		return types.Retryable[generated](fmt.Errorf("attempt %d: %w", attempt, err))
	}
	report, err := c.Parser.Analyze(ctx, code, table)
	if err != nil {
		return types.Retryable[generated](fmt.Errorf("attempt %d: %w", attempt, err))
	}
	logging.CompilerDebug("attempt %d produced %d bytes of code after %d tool turn(s)", attempt, len(code), reply.ToolTurns)
	return types.Success(generated{code: code, plan: plan, report: report, attempts: attempt})
}

func (c *Compiler) query(taskText, depSignature string) retrieval.Query {
	q := c.Query
	def := retrieval.DefaultQuery(taskText, depSignature)
	if q.K <= 0 {
		q.K = def.K
	}
	if q.TaskWeight == 0 && q.DepWeight == 0 {
		q.TaskWeight, q.DepWeight = def.TaskWeight, def.DepWeight
	}
	q.TaskText, q.DependencySignature = taskText, depSignature
	return q
}

// RefreshMetadata re-derives a task's dependency record and schema from its
// existing code without regenerating it.
func (c *Compiler) RefreshMetadata(ctx context.Context, name string) (*project.Metadata, error) {
	timer := logging.StartTimer(logging.CategoryCompiler, "RefreshMetadata")
	defer timer.Stop()

	if _, err := c.Workspace.Task(name); err != nil {
		return nil, err
	}
	code, err := c.Workspace.Code(name)
	if err != nil {
		return nil, err
	}
	fns, err := c.Workspace.Functions()
	if err != nil {
		return nil, err
	}
	table, err := c.Parser.BuildFunctionTable(ctx, fns)
	if err != nil {
		return nil, err
	}
	report, err := c.Parser.Analyze(ctx, code.Content, table)
	if err != nil {
		return nil, &types.StaleInputError{Task: name, Path: code.Path, Err: err}
	}

	meta := project.Metadata{Task: name}
	var stale *types.StaleInputError
	if prev, err := c.Workspace.Metadata(name); err == nil {
		meta = *prev
	} else if !errors.As(err, &stale) {
		return nil, err
	}
	meta.Task = name
	meta.Dependencies = report.Dependencies
	meta.Schema = report.Schema
	meta.CompiledAt = time.Now().UTC()
	if err := c.Workspace.WriteMetadata(meta); err != nil {
		return nil, err
	}
	c.Metrics.TaskCompiled("refresh")
	logging.Compiler("refreshed metadata for %s: deps=%v", name, meta.Dependencies)
	return &meta, nil
}
