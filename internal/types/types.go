// Package types holds the value types shared across taskforge's pipeline:
// artifacts, conversation messages, tool calls and the error taxonomy.
package types

import "time"

// =============================================================================
// ARTIFACTS
// =============================================================================

// ArtifactKind identifies what an artifact is in the project.
type ArtifactKind string

const (
	KindFunction      ArtifactKind = "function"
	KindLibrary       ArtifactKind = "library"
	KindTask          ArtifactKind = "task"
	KindGeneratedCode ArtifactKind = "code"
	KindMetadata      ArtifactKind = "metadata"
)

// Artifact is a named piece of project content with a modification time.
// Functions and libraries are project-owned; generated code and metadata
// are derived from tasks.
type Artifact struct {
	Kind         ArtifactKind `json:"kind"`
	Name         string       `json:"name"`
	Path         string       `json:"path,omitempty"`
	Content      string       `json:"-"`
	LastModified time.Time    `json:"last_modified"`
}

// NewerThan reports whether a was modified strictly after b.
func (a Artifact) NewerThan(b Artifact) bool {
	return a.LastModified.After(b.LastModified)
}

// =============================================================================
// MESSAGES
// =============================================================================

// Role is the speaker of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID    string                 `json:"id"`    // Unique ID for this tool use
	Name  string                 `json:"name"`  // Tool name to invoke
	Input map[string]interface{} `json:"input"` // Tool arguments
}

// Message is one turn of a conversation. Tool messages answer the assistant
// tool call whose ID equals ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// HasToolCalls reports whether m is an assistant message requesting tools.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message, optionally carrying tool calls.
func AssistantMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolMessage builds the tool result answering call.
func ToolMessage(call ToolCall, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID, Name: call.Name}
}

func (m Message) clone() Message {
	if m.ToolCalls != nil {
		calls := make([]ToolCall, len(m.ToolCalls))
		copy(calls, m.ToolCalls)
		m.ToolCalls = calls
	}
	return m
}

// CompiledTask is a task together with whatever derived artifacts exist
// for it. Code or Metadata is nil when that file has not been produced yet.
type CompiledTask struct {
	Task         Artifact
	Code         *Artifact
	Metadata     *Artifact
	Dependencies []string // function names recorded at compile time
}

// IsProcessed reports whether both generated code and metadata exist.
func (t CompiledTask) IsProcessed() bool {
	return t.Code != nil && t.Metadata != nil
}

// =============================================================================
// EXAMPLES
// =============================================================================

// Example is a persisted (task, code) pair used to steer later generations.
// Examples are immutable once stored; they are only ever removed whole.
type Example struct {
	ID                  string    `json:"id"`
	TaskText            string    `json:"task_text"`
	Code                string    `json:"code"`
	DependencySignature string    `json:"dependency_signature"`
	TaskEmbedding       []float32 `json:"-"`
	DepEmbedding        []float32 `json:"-"`
	Source              string    `json:"source,omitempty"` // "compile", "improve", "manual"
	CreatedAt           time.Time `json:"created_at"`
}
