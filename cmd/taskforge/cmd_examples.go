package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskforge/internal/types"

	"github.com/spf13/cobra"
)

var (
	retrieveK         int
	retrieveFunctions []string
	examplesJSON      bool
)

// retrieveCmd queries the example index
var retrieveCmd = &cobra.Command{
	Use:   "retrieve [task text]",
	Short: "Show the stored examples most similar to a task description",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(timeout, func(ctx context.Context, a *app) error {
			if err := a.withCorpus(ctx); err != nil {
				return err
			}
			depSignature := ""
			if len(retrieveFunctions) > 0 {
				table, err := a.corpus.FunctionTable(ctx)
				if err != nil {
					return err
				}
				depSignature = table.SignatureText(table.Resolve(retrieveFunctions))
			}
			q := a.query(strings.Join(args, " "), depSignature)
			if retrieveK > 0 {
				q.K = retrieveK
			}
			examples, err := a.retriever.Search(ctx, q)
			if err != nil {
				return err
			}
			if examplesJSON {
				return writeJSON(cmd, examples)
			}
			p := newPrinter(cmd.OutOrStdout())
			if len(examples) == 0 {
				p.muted("no examples (%d stored)", a.retriever.Index().Len())
				return nil
			}
			for i, ex := range examples {
				p.title("%d. %s", i+1, firstLine(ex.TaskText))
				p.muted("%s  source=%s", ex.ID, ex.Source)
				p.code(ex.Code)
			}
			return nil
		})
	},
}

// examplesCmd manages the example store
var examplesCmd = &cobra.Command{
	Use:   "examples",
	Short: "List, add and remove stored examples",
}

var examplesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored examples",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(timeout, func(ctx context.Context, a *app) error {
			if err := a.withCorpus(ctx); err != nil {
				return err
			}
			all, err := a.store.All(ctx)
			if err != nil {
				return err
			}
			if examplesJSON {
				return writeJSON(cmd, all)
			}
			p := newPrinter(cmd.OutOrStdout())
			if len(all) == 0 {
				p.muted("no examples stored")
				return nil
			}
			p.title("%d example(s)", len(all))
			for _, ex := range all {
				p.line("%s %s  %s  %s", p.badge(sourceOf(ex)), ex.ID, ex.CreatedAt.Local().Format(time.DateTime), firstLine(ex.TaskText))
			}
			return nil
		})
	},
}

var examplesRemoveCmd = &cobra.Command{
	Use:   "remove [id...]",
	Short: "Remove examples by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(timeout, func(ctx context.Context, a *app) error {
			if err := a.withCorpus(ctx); err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			var failed int
			for _, id := range args {
				if err := a.store.Remove(ctx, id); err != nil {
					p.fail("%v", err)
					failed++
					continue
				}
				p.ok("removed %s", id)
			}
			if err := a.retriever.Reload(ctx); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d example(s) could not be removed", failed)
			}
			return nil
		})
	},
}

var examplesAddCmd = &cobra.Command{
	Use:   "add [task]",
	Short: "Store a compiled task's code as an example",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(timeout, func(ctx context.Context, a *app) error {
			if err := a.withCorpus(ctx); err != nil {
				return err
			}
			task, err := a.ws.Task(args[0])
			if err != nil {
				return err
			}
			code, err := a.ws.Code(args[0])
			if err != nil {
				return err
			}
			ex, err := a.corpus.Record(ctx, task.Content, code.Content, "manual")
			if err != nil {
				return err
			}
			a.metrics.ExamplePersisted("manual")
			newPrinter(cmd.OutOrStdout()).ok("stored %s as example %s", args[0], ex.ID)
			return nil
		})
	},
}

func init() {
	retrieveCmd.Flags().IntVarP(&retrieveK, "limit", "k", 0, "Number of examples (default from config)")
	retrieveCmd.Flags().StringSliceVarP(&retrieveFunctions, "function", "f", nil, "Functions the code will call, for dependency weighting")
	retrieveCmd.Flags().BoolVar(&examplesJSON, "json", false, "Print examples as JSON")

	examplesListCmd.Flags().BoolVar(&examplesJSON, "json", false, "Print examples as JSON")

	examplesCmd.AddCommand(examplesListCmd)
	examplesCmd.AddCommand(examplesRemoveCmd)
	examplesCmd.AddCommand(examplesAddCmd)
}

func sourceOf(ex types.Example) string {
	if ex.Source == "" {
		return "unknown"
	}
	return ex.Source
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
