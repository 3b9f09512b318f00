package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"taskforge/internal/logging"
	"taskforge/internal/types"
)

// Registry holds the tools available to a generation run. Tools are
// registered at startup and the registry is then sealed; dispatch resolves
// names against the sealed set only.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	sealed bool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot add %s", ErrRegistrySealed, tool.Name)
	}
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool

	logging.ToolsDebug("Registered tool: %s (category=%s)", tool.Name, tool.Category)
	return nil
}

// MustRegister registers a tool and panics on error.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Seal prevents further registration.
func (r *Registry) Seal() *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	return r
}

// Resolve returns the named tool or ErrToolNotFound.
func (r *Registry) Resolve(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns every tool's function-calling definition, sorted by name.
func (r *Registry) Definitions() []types.ToolDefinition {
	names := r.Names()
	defs := make([]types.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool, _ := r.Resolve(name)
		defs = append(defs, tool.Definition())
	}
	return defs
}

// Invoke resolves and runs call. Errors are either ErrToolNotFound or an
// *InvocationError.
func (r *Registry) Invoke(ctx context.Context, call types.ToolCall) (string, error) {
	tool, err := r.Resolve(call.Name)
	if err != nil {
		return "", err
	}

	start := time.Now()
	if err := validateArgs(tool, call.Input); err != nil {
		return "", &InvocationError{Tool: tool.Name, Err: err}
	}
	result, err := tool.Execute(ctx, call.Input)
	logging.ToolsDebug("Tool %s completed in %v (success=%v)", tool.Name, time.Since(start), err == nil)
	if err != nil {
		return result, &InvocationError{Tool: tool.Name, Err: err}
	}
	return result, nil
}

// validateArgs checks that all required arguments are present.
func validateArgs(tool *Tool, args map[string]any) error {
	for _, required := range tool.Schema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, required)
		}
	}
	return nil
}
