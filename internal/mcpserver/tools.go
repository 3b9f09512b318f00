package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"taskforge/internal/retrieval"
	"taskforge/internal/staleness"
	"taskforge/internal/training"

	"github.com/mark3labs/mcp-go/mcp"
)

// ─── outdated_tasks ─────────────────────────────────────────────────────────

// OutdatedTool handles the outdated_tasks MCP tool.
type OutdatedTool struct {
	outdater Outdater
}

// NewOutdatedTool creates an OutdatedTool.
func NewOutdatedTool(o Outdater) *OutdatedTool {
	return &OutdatedTool{outdater: o}
}

// Definition returns the MCP tool definition for outdated_tasks.
func (t *OutdatedTool) Definition() mcp.Tool {
	return mcp.NewTool("outdated_tasks",
		mcp.WithDescription(
			"List compiled tasks whose generated code or metadata is older than the functions, "+
				"libraries or code it depends on, with the reason and required action for each.",
		),
		mcp.WithBoolean("include_unprocessed",
			mcp.Description("Also list tasks that have never been compiled (default: false)"),
		),
	)
}

type outdatedEntry struct {
	Task    string             `json:"task"`
	Action  string             `json:"action"`
	Reasons []staleness.Reason `json:"reasons"`
	Message string             `json:"message"`
}

type outdatedReport struct {
	Pruned      []string        `json:"pruned,omitempty"`
	Outdated    []outdatedEntry `json:"outdated"`
	Unprocessed []string        `json:"unprocessed,omitempty"`
}

// Handle processes the outdated_tasks tool call.
func (t *OutdatedTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pruned, outdated, unprocessed, err := t.outdater.Outdated(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("outdated check failed: %v", err)), nil
	}

	report := outdatedReport{Pruned: pruned, Outdated: make([]outdatedEntry, 0, len(outdated))}
	for _, o := range outdated {
		report.Outdated = append(report.Outdated, outdatedEntry{
			Task:    o.Task,
			Action:  o.Action().String(),
			Reasons: o.Reasons.List(),
			Message: o.Message,
		})
	}
	if boolArg(req, "include_unprocessed", false) {
		for _, u := range unprocessed {
			report.Unprocessed = append(report.Unprocessed, u.Task.Name)
		}
	}
	return jsonResult(report)
}

// ─── retrieve_examples ──────────────────────────────────────────────────────

// RetrieveTool handles the retrieve_examples MCP tool.
type RetrieveTool struct {
	searcher Searcher
	defaults retrieval.Query
}

// NewRetrieveTool creates a RetrieveTool. Zero fields of defaults fall back
// to the retrieval package defaults.
func NewRetrieveTool(s Searcher, defaults retrieval.Query) *RetrieveTool {
	def := retrieval.DefaultQuery("", "")
	if defaults.K <= 0 {
		defaults.K = def.K
	}
	if defaults.TaskWeight == 0 && defaults.DepWeight == 0 {
		defaults.TaskWeight, defaults.DepWeight = def.TaskWeight, def.DepWeight
	}
	return &RetrieveTool{searcher: s, defaults: defaults}
}

// Definition returns the MCP tool definition for retrieve_examples.
func (t *RetrieveTool) Definition() mcp.Tool {
	return mcp.NewTool("retrieve_examples",
		mcp.WithDescription(
			"Find stored (task, code) examples most similar to a task description, "+
				"optionally weighted by the signatures of the functions the code will call.",
		),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("Task description to match"),
		),
		mcp.WithString("dependencies",
			mcp.Description("Dependency signature text: one name(signature) line per function"),
		),
		mcp.WithNumber("k",
			mcp.Description(fmt.Sprintf("Max examples (default: %d)", t.defaults.K)),
		),
	)
}

type exampleEntry struct {
	ID     string `json:"id"`
	Task   string `json:"task"`
	Code   string `json:"code"`
	Source string `json:"source,omitempty"`
}

// Handle processes the retrieve_examples tool call.
func (t *RetrieveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task := strings.TrimSpace(req.GetString("task", ""))
	if task == "" {
		return mcp.NewToolResultError("'task' is required"), nil
	}
	q := t.defaults
	q.TaskText = task
	q.DependencySignature = req.GetString("dependencies", "")
	if k := intArg(req, "k", 0); k > 0 {
		q.K = k
	}

	examples, err := t.searcher.Search(ctx, q)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("retrieval unavailable: %v", err)), nil
	}
	entries := make([]exampleEntry, 0, len(examples))
	for _, ex := range examples {
		entries = append(entries, exampleEntry{ID: ex.ID, Task: ex.TaskText, Code: ex.Code, Source: ex.Source})
	}
	return jsonResult(entries)
}

// ─── improve_task ───────────────────────────────────────────────────────────

// ImproveTool handles the improve_task MCP tool.
type ImproveTool struct {
	improver Improver
}

// NewImproveTool creates an ImproveTool.
func NewImproveTool(im Improver) *ImproveTool {
	return &ImproveTool{improver: im}
}

// Definition returns the MCP tool definition for improve_task.
func (t *ImproveTool) Definition() mcp.Tool {
	return mcp.NewTool("improve_task",
		mcp.WithDescription(
			"Generate, execute and judge candidate programs for a question until one is accepted "+
				"or improvement stalls. The winner is stored as an example.",
		),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question the program must answer"),
		),
		mcp.WithString("expected_answer",
			mcp.Description("Known correct answer, if any"),
		),
		mcp.WithString("instructions",
			mcp.Description("Extra instructions for generator and judge"),
		),
	)
}

type improveReport struct {
	Accepted   bool    `json:"accepted"`
	Persisted  bool    `json:"persisted"`
	Rounds     int     `json:"rounds"`
	Candidates int     `json:"candidates"`
	Score      float64 `json:"score"`
	Code       string  `json:"code,omitempty"`
	Output     string  `json:"output,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// Handle processes the improve_task tool call.
func (t *ImproveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question := strings.TrimSpace(req.GetString("question", ""))
	if question == "" {
		return mcp.NewToolResultError("'question' is required"), nil
	}
	res, err := t.improver.Improve(ctx, training.Request{
		Question:       question,
		ExpectedAnswer: req.GetString("expected_answer", ""),
		Instructions:   req.GetString("instructions", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("improve failed: %v", err)), nil
	}

	report := improveReport{
		Accepted:   res.Accepted,
		Persisted:  res.Persisted,
		Rounds:     res.Rounds,
		Candidates: res.Candidates,
		Reason:     res.Reason,
	}
	if res.Best != nil {
		report.Score = res.Best.Score
		report.Code = res.Best.Code
		report.Output = res.Best.Execution.Output()
	}
	return jsonResult(report)
}

// ─── helpers ────────────────────────────────────────────────────────────────

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// intArg extracts an integer argument; JSON numbers arrive as float64.
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}
