package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"taskforge/internal/tools"
	"taskforge/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient replays completions in order and records what it was sent.
type scriptedClient struct {
	mu      sync.Mutex
	replies []*types.Completion
	sent    []types.Conversation
	offered [][]types.ToolDefinition
}

func (c *scriptedClient) Complete(_ context.Context, _ string, conv types.Conversation, defs []types.ToolDefinition) (*types.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, conv)
	c.offered = append(c.offered, defs)
	if len(c.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	next := c.replies[0]
	c.replies = c.replies[1:]
	return next, nil
}

func toolCompletion(calls ...types.ToolCall) *types.Completion {
	return &types.Completion{ToolCalls: calls, StopReason: "tool_use"}
}

func newRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	reg.MustRegister(&tools.Tool{
		Name: "upper",
		Schema: tools.ToolSchema{
			Required:   []string{"s"},
			Properties: map[string]tools.Property{"s": {Type: "string"}},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			s, err := tools.StringArg(args, "s")
			if err != nil {
				return "", err
			}
			return "UPPER:" + s, nil
		},
	})
	return reg.Seal()
}

func TestConverseRunsToolsUntilAnswer(t *testing.T) {
	client := &scriptedClient{replies: []*types.Completion{
		toolCompletion(types.ToolCall{ID: "c1", Name: "upper", Input: map[string]interface{}{"s": "go"}}),
		{Content: "done"},
	}}
	s := Session{Client: client, Tools: newRegistry(t)}

	reply, err := s.Converse(context.Background(), "sys", types.NewConversation(types.UserMessage("hi")))
	require.NoError(t, err)

	assert.Equal(t, "done", reply.Completion.Content)
	assert.Equal(t, 1, reply.ToolTurns)
	require.Equal(t, 4, reply.Conversation.Len())
	toolMsg := reply.Conversation.At(2)
	assert.Equal(t, types.RoleTool, toolMsg.Role)
	assert.Equal(t, "c1", toolMsg.ToolCallID)
	assert.Equal(t, "UPPER:go", toolMsg.Content)

	// The second request carries the complete tool block.
	assert.Equal(t, 3, client.sent[1].Len())
}

func TestConverseReportsToolErrorsToModel(t *testing.T) {
	client := &scriptedClient{replies: []*types.Completion{
		toolCompletion(
			types.ToolCall{ID: "a", Name: "missing"},
			types.ToolCall{ID: "b", Name: "upper", Input: map[string]interface{}{}},
		),
		{Content: "ok"},
	}}
	s := Session{Client: client, Tools: newRegistry(t)}

	reply, err := s.Converse(context.Background(), "", types.NewConversation(types.UserMessage("x")))
	require.NoError(t, err)

	assert.Contains(t, reply.Conversation.At(2).Content, `unknown tool "missing"`)
	assert.Contains(t, reply.Conversation.At(3).Content, "missing required argument")
}

func TestConverseStopsOfferingToolsAfterLimit(t *testing.T) {
	call := types.ToolCall{ID: "c", Name: "upper", Input: map[string]interface{}{"s": "a"}}
	client := &scriptedClient{replies: []*types.Completion{
		toolCompletion(call),
		toolCompletion(call),
		{Content: "final"},
	}}
	s := Session{Client: client, Tools: newRegistry(t), MaxToolTurns: 2}

	reply, err := s.Converse(context.Background(), "", types.NewConversation(types.UserMessage("x")))
	require.NoError(t, err)

	assert.Equal(t, 2, reply.ToolTurns)
	require.Len(t, client.offered, 3)
	assert.NotEmpty(t, client.offered[0])
	assert.Empty(t, client.offered[2])
}

type countingFitter struct{ calls int }

func (f *countingFitter) Fit(conv types.Conversation, _ string, _ int, _ string) types.Conversation {
	f.calls++
	return conv
}

func TestConverseFitsEveryRequest(t *testing.T) {
	client := &scriptedClient{replies: []*types.Completion{
		toolCompletion(types.ToolCall{ID: "c", Name: "upper", Input: map[string]interface{}{"s": "a"}}),
		{Content: "final"},
	}}
	fitter := &countingFitter{}
	s := Session{Client: client, Tools: newRegistry(t), Fitter: fitter}

	_, err := s.Converse(context.Background(), "", types.NewConversation(types.UserMessage("x")))
	require.NoError(t, err)
	assert.Equal(t, 2, fitter.calls)
}

func TestConverseInputIsNotMutated(t *testing.T) {
	client := &scriptedClient{replies: []*types.Completion{{Content: "a"}}}
	conv := types.NewConversation(types.UserMessage("x"))

	_, err := Session{Client: client}.Converse(context.Background(), "", conv)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.Len())
}
