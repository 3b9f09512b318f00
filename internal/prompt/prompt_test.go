package prompt

import (
	"testing"

	"taskforge/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCodePrefersGoBlock(t *testing.T) {
	reply := "Plan: call the helper.\n\n```text\nnot code\n```\n\n```go\npackage main\n\nfunc Run() (string, error) { return \"x\", nil }\n```\nDone."

	code, plan, err := ExtractCode(reply)
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc Run() (string, error) { return \"x\", nil }\n", code)
	assert.Contains(t, plan, "Plan: call the helper.")
	assert.Contains(t, plan, "Done.")
}

func TestExtractCodeUntaggedFence(t *testing.T) {
	code, _, err := ExtractCode("```\npackage main\n```")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", code)
}

func TestExtractCodeMissing(t *testing.T) {
	_, _, err := ExtractCode("I cannot help with that.")
	assert.ErrorIs(t, err, ErrNoCodeBlock)

	_, _, err = ExtractCode("```go\n\n```")
	assert.ErrorIs(t, err, ErrNoCodeBlock)
}

func TestFindJSONObjectsSkipsStrings(t *testing.T) {
	s := `verdict: {"a": {"pass": true, "positive": ["uses } fine"]}} trailing {"b": 1}`
	objs := FindJSONObjects(s)
	require.Len(t, objs, 2)
	assert.Equal(t, `{"a": {"pass": true, "positive": ["uses } fine"]}}`, objs[0])
	assert.Equal(t, `{"b": 1}`, objs[1])
}

func TestGenerationSystemPromptSections(t *testing.T) {
	p := GenerationSystemPrompt("greet(func Greet(name string) string)", []types.Example{
		{TaskText: "say hi", Code: "package main"},
	}, true)

	assert.Contains(t, p, "func Run() (string, error)")
	assert.Contains(t, p, "## Tools")
	assert.Contains(t, p, "## Project functions\n\ngreet(")
	assert.Contains(t, p, "### Example 1\n\nTask: say hi")

	bare := GenerationSystemPrompt("", nil, false)
	assert.NotContains(t, bare, "## Examples")
	assert.NotContains(t, bare, "## Tools")
}

func TestImproveUserPromptOmitsEmptySections(t *testing.T) {
	p := ImproveUserPrompt("what is 2+2?", "", "", nil)
	assert.Equal(t, "## Question\n\nwhat is 2+2?", p)

	p = ImproveUserPrompt("q", "", "package main", []string{"timed out"})
	assert.Contains(t, p, "## Best so far")
	assert.Contains(t, p, "- timed out")
}
