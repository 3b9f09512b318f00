// Command taskforge compiles task descriptions into Go programs that call
// project functions, keeps them current as functions change and grows a
// corpus of worked examples through a generate-execute-judge loop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"taskforge/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose     bool
	projectDir  string
	configPath  string
	metricsAddr string
	timeout     time.Duration
	plain       bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "taskforge",
	Short: "Compile task descriptions into Go programs over your project functions",
	Long: `taskforge turns Markdown task descriptions into Go programs that call the
functions in your project, tracks when generated code falls behind the
functions and libraries it depends on, and improves a corpus of examples
by generating, executing and judging candidate programs.

Project layout:
  functions/*.go   callable functions
  libs/*.go        shared helpers
  tasks/*.md       task descriptions
  .taskforge/      generated code, metadata, config and the example store`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadDotEnv(); err != nil {
			return err
		}

		// Bootstrap logger until the project config is read.
		config := zap.NewProductionConfig()
		config.Encoding = "console"
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err := config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.SetLogger(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", ".", "Project root directory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <project>/.taskforge/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Operation timeout")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "Disable styled output")

	rootCmd.AddCommand(outdatedCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(improveCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(examplesCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadDotEnv reads .env from the project root, then the working directory.
// Missing files are fine; variables already set win.
func loadDotEnv() error {
	for _, path := range []string{filepath.Join(projectDir, ".env"), ".env"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// commandContext returns a context bounded by --timeout and cancelled on
// SIGINT or SIGTERM.
func commandContext(d time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if d <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	return ctx, func() {
		cancel()
		stop()
	}
}

// runWithApp builds the app, runs fn and closes the app.
func runWithApp(d time.Duration, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := commandContext(d)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
