package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"taskforge/internal/retrieval"
	"taskforge/internal/staleness"
	"taskforge/internal/training"
	"taskforge/internal/types"

	"github.com/mark3labs/mcp-go/mcp"
)

type fakeOutdater struct {
	outdated    []staleness.Outdated
	unprocessed []types.CompiledTask
	err         error
}

func (f *fakeOutdater) Outdated(context.Context) ([]string, []staleness.Outdated, []types.CompiledTask, error) {
	return []string{"ghost"}, f.outdated, f.unprocessed, f.err
}

type fakeSearcher struct {
	got retrieval.Query
	err error
}

func (f *fakeSearcher) Search(_ context.Context, q retrieval.Query) ([]types.Example, error) {
	f.got = q
	if f.err != nil {
		return nil, f.err
	}
	return []types.Example{{ID: "ex-1", TaskText: "weather in Oslo", Code: "package main\n", Source: "compile"}}, nil
}

type fakeImprover struct {
	got training.Request
	res *training.Result
	err error
}

func (f *fakeImprover) Improve(_ context.Context, req training.Request) (*training.Result, error) {
	f.got = req
	return f.res, f.err
}

func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func mustNotError(t *testing.T, r *mcp.CallToolResult, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if r.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(r))
	}
}

func mustBeToolError(t *testing.T, r *mcp.CallToolResult, err error, wantSubstr string) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if !r.IsError {
		t.Fatalf("expected tool error, got: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), wantSubstr) {
		t.Errorf("error %q does not mention %q", resultText(r), wantSubstr)
	}
}

func TestOutdatedTool(t *testing.T) {
	o := &fakeOutdater{
		outdated: []staleness.Outdated{{
			Task:    "weather",
			Reasons: staleness.Reasons{FunctionsNewerThanCode: true},
			Message: "fetch_weather changed",
		}},
		unprocessed: []types.CompiledTask{{Task: types.Artifact{Name: "fresh"}}},
	}
	tool := NewOutdatedTool(o)
	if tool.Definition().Name != "outdated_tasks" {
		t.Fatalf("name = %q", tool.Definition().Name)
	}

	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{"include_unprocessed": true}))
	mustNotError(t, res, err)

	var got outdatedReport
	if err := json.Unmarshal([]byte(resultText(res)), &got); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if len(got.Outdated) != 1 || got.Outdated[0].Action != "recompile" {
		t.Errorf("outdated = %+v", got.Outdated)
	}
	if len(got.Unprocessed) != 1 || got.Unprocessed[0] != "fresh" {
		t.Errorf("unprocessed = %v", got.Unprocessed)
	}
	if len(got.Pruned) != 1 {
		t.Errorf("pruned = %v", got.Pruned)
	}
}

func TestOutdatedToolHidesUnprocessedByDefault(t *testing.T) {
	o := &fakeOutdater{unprocessed: []types.CompiledTask{{Task: types.Artifact{Name: "fresh"}}}}
	res, err := NewOutdatedTool(o).Handle(context.Background(), makeReq(nil))
	mustNotError(t, res, err)
	if strings.Contains(resultText(res), "fresh") {
		t.Errorf("unprocessed tasks listed without being asked: %s", resultText(res))
	}
}

func TestOutdatedToolError(t *testing.T) {
	res, err := NewOutdatedTool(&fakeOutdater{err: errors.New("disk gone")}).Handle(context.Background(), makeReq(nil))
	mustBeToolError(t, res, err, "disk gone")
}

func TestRetrieveTool(t *testing.T) {
	s := &fakeSearcher{}
	tool := NewRetrieveTool(s, retrieval.Query{})
	def := tool.Definition()
	if len(def.InputSchema.Required) != 1 || def.InputSchema.Required[0] != "task" {
		t.Fatalf("required = %v", def.InputSchema.Required)
	}

	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"task":         "weather in Bergen",
		"dependencies": "fetch_weather(func FetchWeather(city string) (string, error))",
		"k":            float64(2),
	}))
	mustNotError(t, res, err)
	if s.got.K != 2 || s.got.TaskText != "weather in Bergen" || s.got.DependencySignature == "" {
		t.Errorf("query = %+v", s.got)
	}
	if s.got.TaskWeight != retrieval.DefaultTaskWeight {
		t.Errorf("task weight = %v, want default", s.got.TaskWeight)
	}
	if !strings.Contains(resultText(res), "ex-1") {
		t.Errorf("result missing example: %s", resultText(res))
	}
}

func TestRetrieveToolValidation(t *testing.T) {
	tool := NewRetrieveTool(&fakeSearcher{}, retrieval.Query{})
	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{"task": "  "}))
	mustBeToolError(t, res, err, "'task' is required")

	failing := NewRetrieveTool(&fakeSearcher{err: &types.RetrievalUnavailableError{Err: errors.New("index down")}}, retrieval.Query{})
	res, err = failing.Handle(context.Background(), makeReq(map[string]interface{}{"task": "x"}))
	mustBeToolError(t, res, err, "index down")
}

func TestImproveTool(t *testing.T) {
	im := &fakeImprover{res: &training.Result{
		Best:       &training.Candidate{Code: "package main\n", Score: 6.75, Execution: training.ExecutionResult{Stdout: "42"}},
		Accepted:   true,
		Persisted:  true,
		Rounds:     1,
		Candidates: 4,
	}}
	res, err := NewImproveTool(im).Handle(context.Background(), makeReq(map[string]interface{}{
		"question":        "What is six times seven?",
		"expected_answer": "42",
	}))
	mustNotError(t, res, err)
	if im.got.ExpectedAnswer != "42" {
		t.Errorf("request = %+v", im.got)
	}

	var got improveReport
	if err := json.Unmarshal([]byte(resultText(res)), &got); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if !got.Accepted || got.Score != 6.75 || got.Output != "42" {
		t.Errorf("report = %+v", got)
	}
}

func TestImproveToolErrors(t *testing.T) {
	tool := NewImproveTool(&fakeImprover{err: &types.GenerationError{Attempts: 2, Err: errors.New("model offline")}})
	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{"question": "hi"}))
	mustBeToolError(t, res, err, "model offline")

	res, err = tool.Handle(context.Background(), makeReq(map[string]interface{}{}))
	mustBeToolError(t, res, err, "'question' is required")
}

func TestNewRegistersOnlyAvailableTools(t *testing.T) {
	s := New("taskforge", "test", Deps{Searcher: &fakeSearcher{}})
	tools := s.ListTools()
	if len(tools) != 1 {
		t.Fatalf("registered %d tools, want 1", len(tools))
	}
	if _, ok := tools["retrieve_examples"]; !ok {
		t.Errorf("retrieve_examples missing: %v", tools)
	}
}
