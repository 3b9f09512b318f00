// Package tools provides the typed registry of tools the model may call
// while generating code.
package tools

import (
	"context"
	"fmt"

	"taskforge/internal/types"
)

// ToolCategory classifies tools.
type ToolCategory string

const (
	// CategoryProject covers reading the project's functions and libraries.
	CategoryProject ToolCategory = "/project"

	// CategoryExecution covers running code.
	CategoryExecution ToolCategory = "/execution"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Enum        []any  `json:"enum,omitempty"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc is the signature for tool execution.
// Returns the result string and any error.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool defines a tool the model can call.
type Tool struct {
	// Name is the unique identifier for the tool.
	Name string

	// Description explains what the tool does to the model.
	Description string

	Category ToolCategory

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// Definition renders the tool for the model's function-calling API.
func (t *Tool) Definition() types.ToolDefinition {
	props := make(map[string]interface{}, len(t.Schema.Properties))
	for name, p := range t.Schema.Properties {
		prop := map[string]interface{}{"type": p.Type, "description": p.Description}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	required := t.Schema.Required
	if required == nil {
		required = []string{}
	}
	return types.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

// StringArg extracts a string argument.
func StringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingRequiredArg, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidArgType, name, v)
	}
	return s, nil
}
