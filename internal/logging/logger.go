// Package logging provides categorized structured logging for taskforge.
// Every category shares one zap core; the category travels as a field so a
// single log stream can be filtered per subsystem. Until Initialize or
// SetLogger is called every logger is a silent no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup and configuration
	CategoryAPI       Category = "api"       // LLM completion calls
	CategoryEmbedding Category = "embedding" // Embedding engine and caches
	CategoryStore     Category = "store"     // Example store
	CategoryRetrieval Category = "retrieval" // Example retrieval index
	CategoryContext   Category = "context"   // Context budgeting
	CategoryTools     Category = "tools"     // Tool registry and dispatch
	CategorySandbox   Category = "sandbox"   // Code execution
	CategoryStaleness Category = "staleness" // Outdated task detection
	CategoryCompiler  Category = "compiler"  // Task compilation
	CategoryTraining  Category = "training"  // Generate-execute-judge loop
	CategoryServer    Category = "server"    // MCP server
	CategoryWatch     Category = "watch"     // File watcher
)

// Config controls the logging core.
type Config struct {
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	File       string          `yaml:"file"`
	Categories map[string]bool `yaml:"categories"`
}

// Logger is a category-scoped printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	base       *zap.Logger
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
)

// Initialize builds the shared zap core from cfg. Relative file paths are
// resolved against workspace.
func Initialize(workspace string, cfg Config) error {
	level, err := zapcore.ParseLevel(strings.ToLower(defaultString(cfg.Level, "info")))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if !cfg.JSONFormat {
		zc.Encoding = "console"
	}
	zc.OutputPaths = []string{"stderr"}
	if cfg.File != "" {
		path := cfg.File
		if !filepath.IsAbs(path) && workspace != "" {
			path = filepath.Join(workspace, path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		zc.OutputPaths = []string{path}
	}

	logger, err := zc.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	install(logger, cfg.Categories)

	Get(CategoryBoot).Debug("logging initialized: level=%s json=%v file=%q", level, cfg.JSONFormat, cfg.File)
	return nil
}

// SetLogger installs an already built zap logger, as the CLI does from its
// persistent pre-run hook. Passing nil restores the no-op state.
func SetLogger(l *zap.Logger) {
	install(l, nil)
}

func install(l *zap.Logger, cats map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	categories = cats
	loggers = make(map[Category]*Logger)
}

// IsCategoryEnabled reports whether logs for category are emitted.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabledLocked(category)
}

func enabledLocked(category Category) bool {
	if base == nil {
		return false
	}
	if categories == nil {
		return true
	}
	enabled, ok := categories[string(category)]
	return !ok || enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if logging is not initialized or the category is disabled.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{category: category}
	if enabledLocked(category) {
		l.sugar = base.With(zap.String("category", string(category))).Sugar()
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar != nil {
		l.sugar.Debugf(format, args...)
	}
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar != nil {
		l.sugar.Infof(format, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar != nil {
		l.sugar.Warnf(format, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar != nil {
		l.sugar.Errorf(format, args...)
	}
}

// With returns a logger carrying extra key-value fields.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Sync flushes buffered entries. Safe to call when uninitialized.
func Sync() {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// API logs to the api category
func API(format string, args ...interface{}) {
	Get(CategoryAPI).Info(format, args...)
}

// APIDebug logs debug to the api category
func APIDebug(format string, args ...interface{}) {
	Get(CategoryAPI).Debug(format, args...)
}

// Embedding logs to the embedding category
func Embedding(format string, args ...interface{}) {
	Get(CategoryEmbedding).Info(format, args...)
}

// EmbeddingDebug logs debug to the embedding category
func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debug(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// Retrieval logs to the retrieval category
func Retrieval(format string, args ...interface{}) {
	Get(CategoryRetrieval).Info(format, args...)
}

// RetrievalDebug logs debug to the retrieval category
func RetrievalDebug(format string, args ...interface{}) {
	Get(CategoryRetrieval).Debug(format, args...)
}

// ContextDebug logs debug to the context category
func ContextDebug(format string, args ...interface{}) {
	Get(CategoryContext).Debug(format, args...)
}

// Tools logs to the tools category
func Tools(format string, args ...interface{}) {
	Get(CategoryTools).Info(format, args...)
}

// ToolsDebug logs debug to the tools category
func ToolsDebug(format string, args ...interface{}) {
	Get(CategoryTools).Debug(format, args...)
}

// Sandbox logs to the sandbox category
func Sandbox(format string, args ...interface{}) {
	Get(CategorySandbox).Info(format, args...)
}

// SandboxDebug logs debug to the sandbox category
func SandboxDebug(format string, args ...interface{}) {
	Get(CategorySandbox).Debug(format, args...)
}

// Staleness logs to the staleness category
func Staleness(format string, args ...interface{}) {
	Get(CategoryStaleness).Info(format, args...)
}

// StalenessDebug logs debug to the staleness category
func StalenessDebug(format string, args ...interface{}) {
	Get(CategoryStaleness).Debug(format, args...)
}

// Compiler logs to the compiler category
func Compiler(format string, args ...interface{}) {
	Get(CategoryCompiler).Info(format, args...)
}

// CompilerDebug logs debug to the compiler category
func CompilerDebug(format string, args ...interface{}) {
	Get(CategoryCompiler).Debug(format, args...)
}

// Training logs to the training category
func Training(format string, args ...interface{}) {
	Get(CategoryTraining).Info(format, args...)
}

// TrainingDebug logs debug to the training category
func TrainingDebug(format string, args ...interface{}) {
	Get(CategoryTraining).Debug(format, args...)
}

// Server logs to the server category
func Server(format string, args ...interface{}) {
	Get(CategoryServer).Info(format, args...)
}

// Watch logs to the watch category
func Watch(format string, args ...interface{}) {
	Get(CategoryWatch).Info(format, args...)
}

// =============================================================================
// TIMING
// =============================================================================

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
