package main

import (
	"context"
	"path/filepath"

	"taskforge/internal/compiler"
	"taskforge/internal/logging"
	"taskforge/internal/watch"

	"github.com/spf13/cobra"
)

var watchSync bool

// watchCmd re-checks staleness whenever a project artifact changes
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Report outdated tasks whenever functions, libraries or tasks change",
	Long: `Watches the functions, libraries and tasks directories. After each burst of
changes the outdated report is printed again; with --sync outdated tasks are
brought up to date automatically. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Watching has no deadline; only a signal stops it.
		return runWithApp(0, func(ctx context.Context, a *app) error {
			c := a.offlineCompiler()
			if watchSync {
				if err := a.withModel(ctx); err != nil {
					return err
				}
				c = a.compiler
			}
			p := newPrinter(cmd.OutOrStdout())

			check := func(ctx context.Context, paths []string) {
				for _, path := range paths {
					p.muted("changed: %s", relTo(a.ws.Root(), path))
				}
				if watchSync {
					report, err := c.Sync(ctx, compiler.SyncOptions{})
					if report != nil {
						printSync(p, report, false)
					}
					if err != nil && ctx.Err() == nil {
						p.fail("sync: %v", err)
					}
					return
				}
				pruned, outdated, unprocessed, err := c.Outdated(ctx)
				if err != nil {
					p.fail("outdated: %v", err)
					return
				}
				printOutdated(p, pruned, outdated, taskNames(unprocessed))
			}

			w, err := watch.New(a.ws.Dirs(), []string{".go", ".md"}, check)
			if err != nil {
				return err
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer w.Stop()

			check(ctx, nil)
			logging.Watch("watching %s (sync=%v)", a.ws.Root(), watchSync)
			select {
			case <-ctx.Done():
			case <-w.Done():
			}
			return nil
		})
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchSync, "sync", false, "Refresh or recompile outdated tasks on change")
}

func relTo(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}
