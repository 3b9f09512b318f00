package llm

import (
	"context"
	"errors"
	"fmt"

	"taskforge/internal/logging"
	"taskforge/internal/tools"
	"taskforge/internal/types"
)

// DefaultMaxToolTurns bounds the tool loop when the caller sets no limit.
const DefaultMaxToolTurns = 6

// Fitter prunes a conversation to a model's context window.
type Fitter interface {
	Fit(conv types.Conversation, model string, contextLimit int, systemPrompt string) types.Conversation
}

// Dispatcher resolves and runs tool calls.
type Dispatcher interface {
	Definitions() []types.ToolDefinition
	Invoke(ctx context.Context, call types.ToolCall) (string, error)
}

// Session is one tool-augmented exchange.
type Session struct {
	Client       types.LLMClient
	Tools        Dispatcher // nil disables tools
	Fitter       Fitter     // nil sends the conversation unpruned
	Model        string
	ContextLimit int
	MaxToolTurns int
}

// Reply is the outcome of Converse.
type Reply struct {
	Completion   *types.Completion
	Conversation types.Conversation // the full history including the final turn
	ToolTurns    int
}

// Converse completes conv, running requested tools and feeding their
// results back until the model answers without tool calls. After
// MaxToolTurns rounds of tools the model is asked once more with no tools
// offered.
func (s Session) Converse(ctx context.Context, systemPrompt string, conv types.Conversation) (*Reply, error) {
	maxTurns := s.MaxToolTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxToolTurns
	}

	var defs []types.ToolDefinition
	if s.Tools != nil {
		defs = s.Tools.Definitions()
	}

	turns := 0
	for {
		offered := defs
		if turns >= maxTurns {
			offered = nil
		}

		sent := conv
		if s.Fitter != nil {
			sent = s.Fitter.Fit(conv, s.Model, s.ContextLimit, systemPrompt)
		}
		completion, err := s.Client.Complete(ctx, systemPrompt, sent, offered)
		if err != nil {
			return nil, err
		}
		if len(completion.ToolCalls) == 0 || len(offered) == 0 {
			// Unanswerable tool calls are dropped so no partial block is kept.
			conv = conv.Append(types.AssistantMessage(completion.Content))
			return &Reply{Completion: completion, Conversation: conv, ToolTurns: turns}, nil
		}
		conv = conv.Append(completion.Message())

		turns++
		logging.ToolsDebug("tool turn %d: %d calls", turns, len(completion.ToolCalls))
		results := make([]types.Message, 0, len(completion.ToolCalls))
		for _, call := range completion.ToolCalls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results = append(results, types.ToolMessage(call, s.dispatch(ctx, call)))
		}
		conv = conv.Append(results...)
	}
}

// dispatch runs call and renders any failure as text for the model.
func (s Session) dispatch(ctx context.Context, call types.ToolCall) string {
	out, err := s.Tools.Invoke(ctx, call)
	if err == nil {
		return out
	}

	var invErr *tools.InvocationError
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		logging.Get(logging.CategoryTools).Warn("model requested unknown tool %q", call.Name)
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	case errors.As(err, &invErr):
		logging.ToolsDebug("tool %s failed: %v", call.Name, invErr.Err)
		if out != "" {
			return fmt.Sprintf("error: %v\n%s", invErr.Err, out)
		}
		return fmt.Sprintf("error: %v", invErr.Err)
	default:
		return fmt.Sprintf("error: %v", err)
	}
}
