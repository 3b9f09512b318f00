package compiler

import (
	"context"
	"fmt"

	"taskforge/internal/analysis"
	"taskforge/internal/logging"
	"taskforge/internal/retrieval"
	"taskforge/internal/tools"
	"taskforge/internal/types"
)

// ExampleWriter appends examples. The example store satisfies it.
type ExampleWriter interface {
	Add(ctx context.Context, ex types.Example) (types.Example, error)
}

// Corpus turns accepted (task, code) pairs into stored examples, embedding
// both the task text and the dependency signature, then rebuilds the
// retrieval index.
type Corpus struct {
	Store     ExampleWriter
	Embedder  retrieval.Embedder
	Retriever *retrieval.Retriever // optional
	Parser    *analysis.Parser
	Project   tools.Project
}

// FunctionTable parses the project's current functions.
func (c *Corpus) FunctionTable(ctx context.Context) (*analysis.FunctionTable, error) {
	fns, err := c.Project.Functions()
	if err != nil {
		return nil, err
	}
	return c.Parser.BuildFunctionTable(ctx, fns)
}

// Record stores an example for code answering taskText.
func (c *Corpus) Record(ctx context.Context, taskText, code, source string) (types.Example, error) {
	table, err := c.FunctionTable(ctx)
	if err != nil {
		return types.Example{}, err
	}
	report, err := c.Parser.Analyze(ctx, code, table)
	if err != nil {
		return types.Example{}, fmt.Errorf("analyze example code: %w", err)
	}
	return c.RecordWithSignature(ctx, taskText, code, table.SignatureText(report.Dependencies), source)
}

// RecordWithSignature stores an example whose dependency signature is
// already known.
func (c *Corpus) RecordWithSignature(ctx context.Context, taskText, code, depSignature, source string) (types.Example, error) {
	taskEmb, err := c.Embedder.Embed(ctx, taskText)
	if err != nil {
		return types.Example{}, fmt.Errorf("embed task: %w", err)
	}
	var depEmb []float32
	if depSignature != "" {
		if depEmb, err = c.Embedder.Embed(ctx, depSignature); err != nil {
			return types.Example{}, fmt.Errorf("embed dependency signature: %w", err)
		}
	}

	ex, err := c.Store.Add(ctx, types.Example{
		TaskText:            taskText,
		Code:                code,
		DependencySignature: depSignature,
		TaskEmbedding:       taskEmb,
		DepEmbedding:        depEmb,
		Source:              source,
	})
	if err != nil {
		return types.Example{}, err
	}
	logging.Compiler("recorded example %s (source=%s)", ex.ID, source)

	if c.Retriever != nil {
		if err := c.Retriever.Reload(ctx); err != nil {
			logging.Get(logging.CategoryRetrieval).Warn("index reload after new example failed: %v", err)
		}
	}
	return ex, nil
}
