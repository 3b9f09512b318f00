package main

import (
	"context"
	"strings"

	"taskforge/internal/training"

	"github.com/spf13/cobra"
)

var (
	improveExpected     string
	improveInstructions string
	improveFromTask     bool
)

// improveCmd runs the generate-execute-judge loop for one question
var improveCmd = &cobra.Command{
	Use:   "improve [question]",
	Short: "Search for a program answering a question and store the winner as an example",
	Long: `Runs rounds of concurrently generated candidate programs. Each candidate is
executed in the sandbox and graded by a judge model; the best candidate seeds
the next round. The search stops when a candidate has no negative verdicts,
when improvement stalls, or when the attempt budget runs out.

With --task the question is read from tasks/<name>.md.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(timeout, func(ctx context.Context, a *app) error {
			question := strings.Join(args, " ")
			if improveFromTask {
				task, err := a.ws.Task(args[0])
				if err != nil {
					return err
				}
				question = task.Content
			}
			if err := a.withModel(ctx); err != nil {
				return err
			}
			im, err := a.improver(ctx)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			im.OnTransition = func(round int, s training.State) {
				p.muted("round %d: %s", round, s)
			}

			res, err := im.Improve(ctx, training.Request{
				Question:       question,
				ExpectedAnswer: improveExpected,
				Instructions:   improveInstructions,
			})
			if err != nil {
				return err
			}
			printImprove(p, res)
			return nil
		})
	},
}

func init() {
	improveCmd.Flags().StringVar(&improveExpected, "expected", "", "Known correct answer")
	improveCmd.Flags().StringVar(&improveInstructions, "instructions", "", "Extra instructions for generator and judge")
	improveCmd.Flags().BoolVar(&improveFromTask, "task", false, "Treat the argument as a task name")
}

func printImprove(p *printer, res *training.Result) {
	switch {
	case res.Accepted:
		p.ok("accepted after %d round(s), %d candidate(s)", res.Rounds, res.Candidates)
	case res.Best != nil:
		p.warn("no candidate was accepted after %d round(s); best score %.2f", res.Rounds, res.Best.Score)
	default:
		p.fail("no candidate survived after %d round(s)", res.Rounds)
	}
	if res.Persisted {
		p.ok("stored as an example")
	} else if res.Reason != "" {
		p.muted("not stored: %s", res.Reason)
	}
	if res.Best == nil {
		return
	}
	p.title("score %.2f", res.Best.Score)
	if neg := res.Best.Evaluation.Negatives(); len(neg) > 0 {
		p.warn("unresolved: %s", strings.Join(neg, "; "))
	}
	p.code(res.Best.Code)
	if out := strings.TrimSpace(res.Best.Execution.Output()); out != "" {
		p.muted("output:")
		p.line("%s", out)
	}
}
