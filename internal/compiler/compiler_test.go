package compiler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"taskforge/internal/analysis"
	"taskforge/internal/config"
	"taskforge/internal/embedding"
	"taskforge/internal/llm"
	"taskforge/internal/project"
	"taskforge/internal/retrieval"
	"taskforge/internal/staleness"
	"taskforge/internal/store"
	"taskforge/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weatherFn = "package main\n\nfunc FetchWeather(city string) (string, error) { return \"sunny\", nil }\n"

const goodReply = "Call FetchWeather.\n\n```go\npackage main\n\nfunc Run() (string, error) {\n\treturn FetchWeather(\"Oslo\")\n}\n```"

type scriptedClient struct {
	mu      sync.Mutex
	replies []string
	prompts []string
}

func (c *scriptedClient) Complete(_ context.Context, _ string, conv types.Conversation, _ []types.ToolDefinition) (*types.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, _ := conv.Last()
	c.prompts = append(c.prompts, last.Content)
	if len(c.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	next := c.replies[0]
	c.replies = c.replies[1:]
	return &types.Completion{Content: next}, nil
}

type fixture struct {
	root      string
	ws        *project.Workspace
	client    *scriptedClient
	store     *store.ExampleStore
	retriever *retrieval.Retriever
	compiler  *Compiler
}

func newFixture(t *testing.T, replies ...string) *fixture {
	t.Helper()
	root := t.TempDir()
	ws, err := project.Open(root, config.DefaultConfig().Project)
	require.NoError(t, err)
	require.NoError(t, ws.EnsureLayout())

	write(t, filepath.Join(root, "functions", "fetch_weather.go"), weatherFn)
	write(t, filepath.Join(root, "libs", "util.go"), "package main\n\nfunc clamp(x int) int { return x }\n")
	write(t, filepath.Join(root, "tasks", "weather.md"), "Report the weather in Oslo.")

	st, err := store.OpenExampleStore("sqlite", filepath.Join(root, ".taskforge", "examples.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	parser := analysis.NewParser()
	t.Cleanup(parser.Close)
	hash := embedding.NewHashEngine(64)
	retriever := retrieval.NewRetriever(st, hash, "exact")

	client := &scriptedClient{replies: replies}
	c := &Compiler{
		Workspace: ws,
		Parser:    parser,
		Session:   llm.Session{Client: client},
		Retriever: retriever,
		Corpus:    &Corpus{Store: st, Embedder: hash, Retriever: retriever, Parser: parser, Project: ws},
	}
	return &fixture{root: root, ws: ws, client: client, store: st, retriever: retriever, compiler: c}
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func age(t *testing.T, path string, d time.Duration) {
	t.Helper()
	ts := time.Now().Add(-d)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

func TestCompileWritesCodeMetadataAndExample(t *testing.T) {
	f := newFixture(t, goodReply)
	ctx := context.Background()

	res, err := f.compiler.Compile(ctx, "weather")
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch_weather"}, res.Dependencies)
	assert.Equal(t, "func Run() (string, error)", res.Schema)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "Call FetchWeather.", res.Plan)

	code, err := f.ws.Code("weather")
	require.NoError(t, err)
	assert.Contains(t, code.Content, "FetchWeather(\"Oslo\")")

	meta, err := f.ws.Metadata("weather")
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch_weather"}, meta.Dependencies)
	assert.Equal(t, res.ExampleID, meta.ExampleID)

	ex, err := f.store.Get(ctx, res.ExampleID)
	require.NoError(t, err)
	assert.Equal(t, "compile", ex.Source)
	assert.Equal(t, "fetch_weather(func FetchWeather(city string) (string, error))", ex.DependencySignature)
	assert.Equal(t, 1, f.retriever.Index().Len())

	// Freshly compiled tasks are not outdated.
	_, outdated, _, err := f.compiler.Outdated(ctx)
	require.NoError(t, err)
	assert.Empty(t, outdated)
}

func TestCompileRetriesWithFeedback(t *testing.T) {
	f := newFixture(t, "I am not sure.", goodReply)

	res, err := f.compiler.Compile(context.Background(), "weather")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	require.Len(t, f.client.prompts, 2)
	assert.NotContains(t, f.client.prompts[0], "Earlier attempts failed")
	assert.Contains(t, f.client.prompts[1], "no fenced code block")
}

func TestCompileExhaustionIsGenerationError(t *testing.T) {
	f := newFixture(t, "nope", "```go\npackage main\n\nfunc main() {}\n```", "still nope")
	f.compiler.MaxAttempts = 3

	_, err := f.compiler.Compile(context.Background(), "weather")
	var genErr *types.GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, 3, genErr.Attempts)
	assert.ErrorIs(t, err, types.ErrRetriesExhausted)
	assert.True(t, types.IsTerminal(err))

	_, err = f.ws.Code("weather")
	assert.Error(t, err, "no code is written on failure")
}

func TestCompileMissingTaskIsStaleInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.compiler.Compile(context.Background(), "nosuch")
	var stale *types.StaleInputError
	require.True(t, errors.As(err, &stale))
	assert.ErrorIs(t, err, project.ErrTaskNotFound)
	assert.Empty(t, f.client.prompts)
}

func TestCompileUsesRetrievedExamples(t *testing.T) {
	f := newFixture(t, goodReply, goodReply)
	ctx := context.Background()
	_, err := f.compiler.Compile(ctx, "weather")
	require.NoError(t, err)

	write(t, filepath.Join(f.root, "tasks", "weather2.md"), "Report the weather in Bergen.")
	res, err := f.compiler.Compile(ctx, "weather2")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Examples)
}

func TestRefreshMetadataKeepsExampleID(t *testing.T) {
	f := newFixture(t, goodReply)
	ctx := context.Background()
	res, err := f.compiler.Compile(ctx, "weather")
	require.NoError(t, err)

	meta, err := f.compiler.RefreshMetadata(ctx, "weather")
	require.NoError(t, err)
	assert.Equal(t, res.ExampleID, meta.ExampleID)
	assert.Equal(t, []string{"fetch_weather"}, meta.Dependencies)
	assert.Len(t, f.client.prompts, 1, "refresh never calls the model")
}

func TestSyncRefreshesRecompilesAndPrunes(t *testing.T) {
	f := newFixture(t, goodReply, goodReply, goodReply)
	ctx := context.Background()

	write(t, filepath.Join(f.root, "tasks", "other.md"), "Say hello.")
	_, err := f.compiler.Compile(ctx, "weather")
	require.NoError(t, err)
	_, err = f.compiler.Compile(ctx, "other")
	require.NoError(t, err)

	// weather: the function changed after its code was generated -> recompile.
	age(t, filepath.Join(f.root, "libs", "util.go"), 4*time.Hour)
	age(t, f.ws.MetadataPath("weather"), 3*time.Hour)
	age(t, f.ws.CodePath("weather"), 3*time.Hour)
	age(t, filepath.Join(f.root, "functions", "fetch_weather.go"), 2*time.Hour)

	// other: only the code moved past its metadata -> refresh.
	age(t, f.ws.MetadataPath("other"), 90*time.Minute)
	age(t, f.ws.CodePath("other"), time.Hour)

	// orphan: metadata whose task is gone.
	require.NoError(t, f.ws.WriteMetadata(project.Metadata{Task: "ghost"}))

	report, err := f.compiler.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, report.Pruned)
	require.Len(t, report.Tasks, 2)

	byTask := map[string]TaskReport{}
	for _, tr := range report.Tasks {
		byTask[tr.Task] = tr
		assert.NoError(t, tr.Err)
	}
	assert.Equal(t, ActionRefresh, byTask["other"].Action)
	assert.Equal(t, []staleness.Reason{staleness.CodeNewerThanMetadata}, byTask["other"].Reasons)
	assert.Equal(t, ActionRecompile, byTask["weather"].Action)
	assert.Len(t, f.client.prompts, 3, "only weather was regenerated")

	_, outdated, _, err := f.compiler.Outdated(ctx)
	require.NoError(t, err)
	assert.Empty(t, outdated)
}

func TestSyncCompilesNewTasksAndRecordsFailures(t *testing.T) {
	f := newFixture(t, "no code here")
	f.compiler.MaxAttempts = 1

	report, err := f.compiler.Sync(context.Background(), SyncOptions{CompileNew: true})
	require.NoError(t, err)
	require.Len(t, report.Tasks, 1)
	assert.Equal(t, ActionCompile, report.Tasks[0].Action)
	require.Len(t, report.Failed(), 1)

	var genErr *types.GenerationError
	assert.True(t, errors.As(report.Failed()[0].Err, &genErr))
}

func TestSyncDryRunChangesNothing(t *testing.T) {
	f := newFixture(t)

	report, err := f.compiler.Sync(context.Background(), SyncOptions{CompileNew: true, DryRun: true})
	require.NoError(t, err)
	require.Len(t, report.Tasks, 1)
	assert.True(t, strings.Contains(report.Tasks[0].Message, "weather"))
	assert.Empty(t, f.client.prompts)
}
