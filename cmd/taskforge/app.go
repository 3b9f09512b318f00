package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"taskforge/internal/analysis"
	"taskforge/internal/compiler"
	"taskforge/internal/config"
	ctxbudget "taskforge/internal/context"
	"taskforge/internal/embedding"
	"taskforge/internal/llm"
	"taskforge/internal/logging"
	"taskforge/internal/metrics"
	"taskforge/internal/project"
	"taskforge/internal/retrieval"
	"taskforge/internal/sandbox"
	"taskforge/internal/store"
	"taskforge/internal/tools"
	"taskforge/internal/training"
	"taskforge/internal/types"
)

// app holds every collaborator a command may need. Model-backed pieces are
// only built when a command asks for them.
type app struct {
	cfg       *config.Config
	ws        *project.Workspace
	parser    *analysis.Parser
	engine    embedding.EmbeddingEngine
	store     *store.ExampleStore
	retriever *retrieval.Retriever
	corpus    *compiler.Corpus
	metrics   *metrics.Metrics

	// set by withModel
	executor sandbox.Executor
	client   *llm.GeminiClient
	session  llm.Session
	compiler *compiler.Compiler

	closers []func() error
}

// newApp loads configuration and opens the workspace.
func newApp(ctx context.Context) (*app, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "newApp")
	defer timer.Stop()

	root, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, err
	}
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(root, config.DefaultPath)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Initialize(root, cfg.Logging); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, metrics: metrics.New("taskforge")}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if a.ws, err = project.Open(root, cfg.Project); err != nil {
		return nil, err
	}
	if err := a.ws.EnsureLayout(); err != nil {
		return nil, err
	}

	a.parser = analysis.NewParser()
	a.closers = append(a.closers, func() error { a.parser.Close(); return nil })

	if cfg.Metrics.Addr != "" {
		mctx, cancel := context.WithCancel(context.Background())
		a.closers = append(a.closers, func() error { cancel(); return nil })
		go func() {
			if err := a.metrics.Serve(mctx, cfg.Metrics.Addr); err != nil {
				logging.Get(logging.CategoryBoot).Error("metrics server: %v", err)
			}
		}()
	}

	ok = true
	logging.Boot("project %s ready", root)
	return a, nil
}

// withCorpus opens the embedding engine, the example store and the
// retrieval index.
func (a *app) withCorpus(ctx context.Context) error {
	if a.corpus != nil {
		return nil
	}
	cfg := a.cfg
	var err error
	if a.engine, err = a.newEngine(ctx); err != nil {
		return err
	}

	dsn := cfg.Store.DSN
	if cfg.Store.Driver == "sqlite" && dsn != ":memory:" && !filepath.IsAbs(dsn) {
		dsn = filepath.Join(a.ws.Root(), dsn)
	}
	if a.store, err = store.OpenExampleStore(cfg.Store.Driver, dsn); err != nil {
		return err
	}
	a.closers = append(a.closers, a.store.Close)

	a.retriever = retrieval.NewRetriever(a.store, a.engine, cfg.Retrieval.Backend)
	if err := a.retriever.Reload(ctx); err != nil {
		logging.Get(logging.CategoryBoot).Warn("starting with an empty example index: %v", err)
	}
	a.corpus = &compiler.Corpus{Store: a.store, Embedder: a.engine, Retriever: a.retriever, Parser: a.parser, Project: a.ws}

	logging.Boot("example corpus ready (store=%s, retrieval=%s, examples=%d)", cfg.Store.Driver, cfg.Retrieval.Backend, a.retriever.Index().Len())
	return nil
}

func (a *app) newEngine(ctx context.Context) (embedding.EmbeddingEngine, error) {
	inner, err := embedding.NewEngine(ctx, a.cfg.Embedding)
	if err != nil {
		return nil, err
	}
	var caches []embedding.VectorCache
	if n := a.cfg.Embedding.CacheSize; n > 0 {
		lru, err := embedding.NewLRUCache(n)
		if err != nil {
			return nil, err
		}
		caches = append(caches, lru)
	}
	if url := a.cfg.Embedding.RedisURL; url != "" {
		rc, err := embedding.NewRedisCache(ctx, url, a.cfg.GetEmbeddingCacheTTL())
		if err != nil {
			logging.Get(logging.CategoryEmbedding).Warn("redis cache unavailable, continuing without it: %v", err)
		} else {
			caches = append(caches, rc)
			a.closers = append(a.closers, rc.Close)
		}
	}
	if len(caches) == 0 {
		return inner, nil
	}
	return embedding.NewCachedEngine(inner, caches...), nil
}

// withModel builds the executor, the completion client, the tool-augmented
// session and the compiler.
func (a *app) withModel(ctx context.Context) error {
	if a.compiler != nil {
		return nil
	}
	if err := a.cfg.RequireAPIKey(); err != nil {
		return err
	}
	if err := a.withCorpus(ctx); err != nil {
		return err
	}

	exec, err := sandbox.New(a.cfg.Sandbox, a.cfg.GetSandboxTimeout(), a.parser)
	if err != nil {
		return err
	}
	a.executor = exec
	if d, ok := exec.(*sandbox.DockerExecutor); ok {
		a.closers = append(a.closers, d.Close)
		if err := d.Ping(ctx); err != nil {
			return fmt.Errorf("docker sandbox unavailable: %w", err)
		}
	}

	registry, err := tools.NewBuiltinRegistry(tools.Builtins{Project: a.ws, Parser: a.parser, Executor: exec})
	if err != nil {
		return err
	}

	if a.client, err = llm.NewGeminiClient(ctx, a.cfg.LLM, a.cfg.GetLLMTimeout()); err != nil {
		return err
	}

	cc := a.cfg.Context
	var factory ctxbudget.TokenizerFactory
	if cc.Tokenizer != "" {
		factory = func(string) ctxbudget.Tokenizer { return ctxbudget.TokenizerFor(cc.Tokenizer) }
	}
	tokenizers, err := ctxbudget.NewTokenizerCache(cc.TokenizerCacheSize, cc.TokenizerRecycle, factory)
	if err != nil {
		return err
	}

	a.session = llm.Session{
		Client:       a.client,
		Tools:        registry,
		Fitter:       ctxbudget.NewBudgeter(tokenizers, cc.ReserveTokens),
		Model:        a.client.Model(),
		ContextLimit: cc.ModelContextLimit,
		MaxToolTurns: a.cfg.LLM.MaxToolTurns,
	}
	a.compiler = &compiler.Compiler{
		Workspace:   a.ws,
		Parser:      a.parser,
		Session:     a.session,
		Retriever:   a.retriever,
		Corpus:      a.corpus,
		Query:       a.query("", ""),
		MaxAttempts: a.cfg.Compiler.MaxAttempts,
		Metrics:     a.metrics,
	}
	return nil
}

// offlineCompiler is a compiler that can refresh metadata and compute
// staleness but has no model to generate with.
func (a *app) offlineCompiler() *compiler.Compiler {
	if a.compiler != nil {
		return a.compiler
	}
	return &compiler.Compiler{Workspace: a.ws, Parser: a.parser, Metrics: a.metrics}
}

func (a *app) query(taskText, depSignature string) retrieval.Query {
	q := retrieval.DefaultQuery(taskText, depSignature)
	r := a.cfg.Retrieval
	if r.K > 0 {
		q.K = r.K
	}
	if r.TaskWeight != 0 || r.DepWeight != 0 {
		q.TaskWeight, q.DepWeight = r.TaskWeight, r.DepWeight
	}
	return q
}

// improver wires the training loop to the model, the sandbox and the
// example corpus. Requires withModel.
func (a *app) improver(ctx context.Context) (*training.Improver, error) {
	if a.compiler == nil {
		return nil, errors.New("improver needs a model; call withModel first")
	}
	table, err := a.corpus.FunctionTable(ctx)
	if err != nil {
		return nil, err
	}
	functionsText := table.SignatureText(table.Artifacts())
	support, err := tools.SupportSources(a.ws)
	if err != nil {
		return nil, err
	}

	im := &training.Improver{
		Options:  training.OptionsFromConfig(a.cfg.Training),
		Generate: training.LLMGenerator(a.session, functionsText),
		Execute:  training.SandboxExecute(a.executor, support),
		Judge:    training.LLMJudge(a.client),
		Persister: training.PersistFunc(func(ctx context.Context, question string, c *training.Candidate) error {
			_, err := a.corpus.Record(ctx, question, c.Code, "improve")
			return err
		}),
		Metrics: a.metrics,
		OnTransition: func(round int, s training.State) {
			logging.TrainingDebug("round %d -> %s", round, s)
		},
	}
	if a.cfg.Training.RetrieveExamples {
		im.Examples = func(ctx context.Context, question string) []types.Example {
			return a.retriever.SearchOrEmpty(ctx, a.query(question, functionsText))
		}
	}
	return im, nil
}

// Close releases everything newApp and withModel opened, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logging.Get(logging.CategoryBoot).Warn("close: %v", err)
		}
	}
	a.closers = nil
	logging.Sync()
}
