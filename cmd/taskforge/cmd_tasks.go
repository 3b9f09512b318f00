package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"taskforge/internal/compiler"
	"taskforge/internal/staleness"
	"taskforge/internal/types"

	"github.com/spf13/cobra"
)

var (
	outdatedJSON   bool
	syncCompileNew bool
	syncDryRun     bool
	compileQuiet   bool
)

// outdatedCmd lists stale compiled tasks
var outdatedCmd = &cobra.Command{
	Use:   "outdated",
	Short: "List compiled tasks whose code or metadata is out of date",
	Long: `Compares every compiled task against the functions it calls, the project
libraries and its own metadata. A task whose functions or libraries changed
after its code was generated needs a recompile; a task whose code changed
after its metadata was written only needs a metadata refresh.

Orphaned metadata (task or code deleted) is pruned first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(timeout, func(ctx context.Context, a *app) error {
			pruned, outdated, unprocessed, err := a.offlineCompiler().Outdated(ctx)
			if err != nil {
				return err
			}
			if outdatedJSON {
				return writeJSON(cmd, struct {
					Pruned      []string             `json:"pruned"`
					Outdated    []staleness.Outdated `json:"outdated"`
					Unprocessed []string             `json:"unprocessed"`
				}{pruned, outdated, taskNames(unprocessed)})
			}
			printOutdated(newPrinter(cmd.OutOrStdout()), pruned, outdated, taskNames(unprocessed))
			return nil
		})
	},
}

// syncCmd refreshes or recompiles every outdated task
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Bring every outdated task up to date",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(timeout, func(ctx context.Context, a *app) error {
			c := a.offlineCompiler()
			if !syncDryRun {
				if err := a.withModel(ctx); err != nil {
					return err
				}
				c = a.compiler
			}
			report, err := c.Sync(ctx, compiler.SyncOptions{CompileNew: syncCompileNew, DryRun: syncDryRun})
			if report != nil {
				printSync(newPrinter(cmd.OutOrStdout()), report, syncDryRun)
			}
			if err != nil {
				return err
			}
			if failed := report.Failed(); len(failed) > 0 {
				return fmt.Errorf("%d task(s) failed to sync", len(failed))
			}
			return nil
		})
	},
}

// compileCmd generates code for one task
var compileCmd = &cobra.Command{
	Use:   "compile [task]",
	Short: "Generate code for a task and record it as an example",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(timeout, func(ctx context.Context, a *app) error {
			if err := a.withModel(ctx); err != nil {
				return err
			}
			res, err := a.compiler.Compile(ctx, args[0])
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			p.ok("compiled %s in %d attempt(s) using %d example(s)", res.Task, res.Attempts, res.Examples)
			p.muted("dependencies: %s", strings.Join(res.Dependencies, ", "))
			p.muted("schema: %s", res.Schema)
			if !compileQuiet {
				if res.Plan != "" {
					p.markdown(res.Plan)
				}
				p.code(res.Code)
			}
			return nil
		})
	},
}

func init() {
	outdatedCmd.Flags().BoolVar(&outdatedJSON, "json", false, "Print the report as JSON")

	syncCmd.Flags().BoolVar(&syncCompileNew, "new", false, "Also compile tasks that were never compiled")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Report what would change without generating")

	compileCmd.Flags().BoolVarP(&compileQuiet, "quiet", "q", false, "Do not print the generated code")
}

func printOutdated(p *printer, pruned []string, outdated []staleness.Outdated, unprocessed []string) {
	for _, name := range pruned {
		p.muted("pruned orphaned metadata for %s", name)
	}
	if len(outdated) == 0 {
		p.ok("all compiled tasks are up to date")
	} else {
		p.title("%d outdated task(s)", len(outdated))
		for _, o := range outdated {
			p.line("%s %s  %s", p.badge(o.Action().String()), o.Task, o.Message)
		}
	}
	if len(unprocessed) > 0 {
		p.warn("never compiled: %s", strings.Join(unprocessed, ", "))
	}
}

func printSync(p *printer, report *compiler.SyncReport, dryRun bool) {
	for _, name := range report.Pruned {
		p.muted("pruned orphaned metadata for %s", name)
	}
	if len(report.Tasks) == 0 {
		p.ok("nothing to do")
		return
	}
	for _, t := range report.Tasks {
		switch {
		case dryRun:
			p.line("%s %s  %s", p.badge(t.Action), t.Task, t.Message)
		case t.Err != nil:
			p.fail("%s %s: %v", t.Action, t.Task, t.Err)
		default:
			p.ok("%s %s", t.Action, t.Task)
		}
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func taskNames(tasks []types.CompiledTask) []string {
	names := make([]string, 0, len(tasks))
	for _, t := range tasks {
		names = append(names, t.Task.Name)
	}
	return names
}
