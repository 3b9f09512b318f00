package compiler

import (
	"context"

	"taskforge/internal/logging"
	"taskforge/internal/staleness"
	"taskforge/internal/types"
)

// Actions a sync can take for a task.
const (
	ActionCompile   = "compile"
	ActionRecompile = "recompile"
	ActionRefresh   = "refresh-metadata"
)

// SyncOptions control Sync.
type SyncOptions struct {
	// CompileNew also compiles tasks that have never been compiled.
	CompileNew bool
	// DryRun reports what would happen without generating anything.
	DryRun bool
}

// TaskReport is the outcome for one task.
type TaskReport struct {
	Task    string
	Action  string
	Reasons []staleness.Reason
	Message string
	Err     error
}

// SyncReport summarises a sync pass.
type SyncReport struct {
	Pruned   []string
	Outdated []staleness.Outdated
	Tasks    []TaskReport
}

// Failed returns the reports that ended in an error.
func (r *SyncReport) Failed() []TaskReport {
	var out []TaskReport
	for _, t := range r.Tasks {
		if t.Err != nil {
			out = append(out, t)
		}
	}
	return out
}

// Outdated prunes orphaned metadata and computes the outdated set.
func (c *Compiler) Outdated(ctx context.Context) (pruned []string, outdated []staleness.Outdated, unprocessed []types.CompiledTask, err error) {
	pruned, err = c.Workspace.PruneOrphanedMetadata()
	if err != nil {
		return nil, nil, nil, err
	}
	tasks, err := c.Workspace.CompiledTasks()
	if err != nil {
		return pruned, nil, nil, err
	}
	fns, err := c.Workspace.Functions()
	if err != nil {
		return pruned, nil, nil, err
	}
	libs, err := c.Workspace.Libraries()
	if err != nil {
		return pruned, nil, nil, err
	}
	_, unprocessed = staleness.Classify(tasks)
	outdated = staleness.ComputeOutdatedTasks(tasks, fns, libs)
	c.Metrics.SetOutdated(len(outdated))
	return pruned, outdated, unprocessed, nil
}

// Sync brings every task up to date: metadata-only staleness is refreshed
// in place and function or library changes trigger a recompile. Per-task
// failures are recorded in the report; only cancellation aborts.
func (c *Compiler) Sync(ctx context.Context, opts SyncOptions) (*SyncReport, error) {
	timer := logging.StartTimer(logging.CategoryCompiler, "Sync")
	defer timer.Stop()

	pruned, outdated, unprocessed, err := c.Outdated(ctx)
	if err != nil {
		return nil, err
	}
	report := &SyncReport{Pruned: pruned, Outdated: outdated}
	logging.Compiler("sync: pruned=%d outdated=%d unprocessed=%d", len(pruned), len(outdated), len(unprocessed))

	for _, o := range outdated {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		tr := TaskReport{Task: o.Task, Reasons: o.Reasons.List(), Message: o.Message}
		switch o.Action() {
		case staleness.ActionRefreshMetadata:
			tr.Action = ActionRefresh
			if !opts.DryRun {
				_, tr.Err = c.RefreshMetadata(ctx, o.Task)
			}
		default:
			tr.Action = ActionRecompile
			if !opts.DryRun {
				_, tr.Err = c.Compile(ctx, o.Task)
			}
		}
		report.Tasks = append(report.Tasks, c.logReport(tr))
	}

	if opts.CompileNew {
		for _, t := range unprocessed {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			tr := TaskReport{Task: t.Task.Name, Action: ActionCompile, Message: "task " + t.Task.Name + " has not been compiled"}
			if !opts.DryRun {
				_, tr.Err = c.Compile(ctx, t.Task.Name)
			}
			report.Tasks = append(report.Tasks, c.logReport(tr))
		}
	}

	return report, ctx.Err()
}

func (c *Compiler) logReport(tr TaskReport) TaskReport {
	if tr.Err != nil {
		logging.Get(logging.CategoryCompiler).Warn("sync %s (%s) failed: %v", tr.Task, tr.Action, tr.Err)
	} else {
		logging.CompilerDebug("sync %s: %s", tr.Task, tr.Action)
	}
	return tr
}

