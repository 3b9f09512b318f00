package llm

import (
	"testing"

	"taskforge/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	genai "google.golang.org/genai"
)

func TestToContentsMergesToolResults(t *testing.T) {
	call1 := types.ToolCall{ID: "1", Name: "list_functions"}
	call2 := types.ToolCall{ID: "2", Name: "read_function", Input: map[string]interface{}{"name": "f"}}
	conv := types.NewConversation(
		types.UserMessage("write code"),
		types.AssistantMessage("", call1, call2),
		types.ToolMessage(call1, "f: func F()"),
		types.ToolMessage(call2, "package main"),
	)

	contents := toContents(conv)
	require.Len(t, contents, 3)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	require.Len(t, contents[1].Parts, 2)
	assert.Equal(t, "read_function", contents[1].Parts[1].FunctionCall.Name)

	require.Len(t, contents[2].Parts, 2)
	assert.Equal(t, "2", contents[2].Parts[1].FunctionResponse.ID)
	assert.Equal(t, "package main", contents[2].Parts[1].FunctionResponse.Response["output"])
}

func TestFromResponseExtractsToolCalls(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "let me look"},
				{FunctionCall: &genai.FunctionCall{Name: "list_functions"}},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 3, TotalTokenCount: 13},
	}

	c, err := fromResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, "let me look", c.Content)
	assert.Equal(t, "tool_use", c.StopReason)
	require.Len(t, c.ToolCalls, 1)
	assert.NotEmpty(t, c.ToolCalls[0].ID)
	assert.Equal(t, 13, c.Usage.TotalTokens)
}

func TestFromResponseEmpty(t *testing.T) {
	_, err := fromResponse(&genai.GenerateContentResponse{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
