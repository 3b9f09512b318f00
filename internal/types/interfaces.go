package types

import "context"

// LLMClient defines the interface for LLM interactions.
type LLMClient interface {
	// Complete sends the conversation with an optional tool set and returns
	// the assistant turn. A non-empty ToolCalls means the model wants tools run.
	Complete(ctx context.Context, systemPrompt string, conv Conversation, tools []ToolDefinition) (*Completion, error)
}

// ToolDefinition describes a tool that the LLM can invoke.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"` // JSON Schema for parameters
}

// UsageMetadata captures token usage metrics from the LLM.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Completion contains both text response and tool calls from the LLM.
type Completion struct {
	Content    string        `json:"content"`     // Text response (may be empty if only tool calls)
	ToolCalls  []ToolCall    `json:"tool_calls"`  // Tool invocations requested by LLM
	StopReason string        `json:"stop_reason"` // "end_turn", "tool_use", etc.
	Usage      UsageMetadata `json:"usage"`
}

// Message converts the completion into the assistant turn it represents.
func (c *Completion) Message() Message {
	return AssistantMessage(c.Content, c.ToolCalls...)
}

// CompleteText is a convenience for single-prompt, tool-free completions.
func CompleteText(ctx context.Context, client LLMClient, systemPrompt, userPrompt string) (string, error) {
	resp, err := client.Complete(ctx, systemPrompt, NewConversation(UserMessage(userPrompt)), nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
