package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"taskforge/internal/analysis"
	"taskforge/internal/sandbox"
	"taskforge/internal/types"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echoes its text argument",
		Category:    CategoryProject,
		Schema: ToolSchema{
			Required:   []string{"text"},
			Properties: map[string]Property{"text": {Type: "string", Description: "text to echo"}},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return StringArg(args, "text")
		},
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg.Count() != 0 {
		t.Errorf("new registry should be empty, got %d tools", reg.Count())
	}
}

func TestRegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := reg.Resolve("echo")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Name != "echo" {
		t.Errorf("got name %q, want %q", got.Name, "echo")
	}

	if _, err := reg.Resolve("missing"); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("Resolve(missing) error = %v, want ErrToolNotFound", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(echoTool("dupe"))

	if err := reg.Register(echoTool("dupe")); !errors.Is(err, ErrToolAlreadyRegistered) {
		t.Fatalf("expected ErrToolAlreadyRegistered, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	noop := func(ctx context.Context, args map[string]any) (string, error) { return "", nil }
	tests := []struct {
		name    string
		tool    *Tool
		wantErr error
	}{
		{name: "empty name", tool: &Tool{Name: "", Execute: noop}, wantErr: ErrToolNameEmpty},
		{name: "nil execute", tool: &Tool{Name: "broken"}, wantErr: ErrToolExecuteNil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.tool)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got error %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSealedRegistryRejectsRegistration(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(echoTool("a"))
	reg.Seal()

	if err := reg.Register(echoTool("b")); !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("expected ErrRegistrySealed, got %v", err)
	}
	if reg.Count() != 1 {
		t.Errorf("sealed registry count = %d, want 1", reg.Count())
	}
}

func TestInvokeErrorVariants(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(echoTool("echo"))
	reg.MustRegister(&Tool{
		Name: "fails",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("boom")
		},
	})
	ctx := context.Background()

	out, err := reg.Invoke(ctx, types.ToolCall{Name: "echo", Input: map[string]interface{}{"text": "hi"}})
	if err != nil || out != "hi" {
		t.Fatalf("Invoke(echo) = %q, %v", out, err)
	}

	_, err = reg.Invoke(ctx, types.ToolCall{Name: "nope"})
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("unknown tool error = %v, want ErrToolNotFound", err)
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		t.Error("lookup failure must not be an InvocationError")
	}

	_, err = reg.Invoke(ctx, types.ToolCall{Name: "echo", Input: map[string]interface{}{}})
	if !errors.As(err, &invErr) || !errors.Is(err, ErrMissingRequiredArg) {
		t.Errorf("missing arg error = %v, want InvocationError wrapping ErrMissingRequiredArg", err)
	}

	_, err = reg.Invoke(ctx, types.ToolCall{Name: "echo", Input: map[string]interface{}{"text": 3}})
	if !errors.Is(err, ErrInvalidArgType) {
		t.Errorf("wrong type error = %v, want ErrInvalidArgType", err)
	}

	_, err = reg.Invoke(ctx, types.ToolCall{Name: "fails"})
	if !errors.As(err, &invErr) || invErr.Tool != "fails" {
		t.Errorf("execute failure = %v, want InvocationError for fails", err)
	}
}

func TestDefinitionsSortedWithSchema(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(echoTool("zeta"))
	reg.MustRegister(echoTool("alpha"))

	defs := reg.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Fatalf("unexpected definitions order: %+v", defs)
	}
	schema := defs[0].InputSchema
	if schema["type"] != "object" {
		t.Errorf("schema type = %v, want object", schema["type"])
	}
	props, ok := schema["properties"].(map[string]interface{})
	if !ok || props["text"] == nil {
		t.Errorf("schema properties missing text: %v", schema["properties"])
	}
}

type fakeProject struct {
	functions []types.Artifact
	libs      []types.Artifact
}

func (p fakeProject) Functions() ([]types.Artifact, error) { return p.functions, nil }
func (p fakeProject) Libraries() ([]types.Artifact, error) { return p.libs, nil }

func TestBuiltinTools(t *testing.T) {
	parser := analysis.NewParser()
	defer parser.Close()

	project := fakeProject{
		functions: []types.Artifact{{
			Kind:    types.KindFunction,
			Name:    "greet",
			Content: "package main\n\nfunc Greet(name string) string { return \"hello \" + name }\n",
		}},
	}
	reg, err := NewBuiltinRegistry(Builtins{
		Project:  project,
		Parser:   parser,
		Executor: sandbox.NewYaegiExecutor(parser, sandbox.DefaultAllowedPackages, 5*time.Second),
	})
	if err != nil {
		t.Fatalf("NewBuiltinRegistry: %v", err)
	}
	ctx := context.Background()

	want := []string{"list_functions", "read_function", "run_code"}
	if got := reg.Names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Names() = %v, want %v", got, want)
	}

	out, err := reg.Invoke(ctx, types.ToolCall{Name: "list_functions"})
	if err != nil || out != "greet: func Greet(name string) string" {
		t.Errorf("list_functions = %q, %v", out, err)
	}

	out, err = reg.Invoke(ctx, types.ToolCall{Name: "read_function", Input: map[string]interface{}{"name": "greet"}})
	if err != nil || !strings.Contains(out, "func Greet") {
		t.Errorf("read_function = %q, %v", out, err)
	}

	code := "package main\n\nfunc Run() (string, error) { return Greet(\"ada\"), nil }\n"
	out, err = reg.Invoke(ctx, types.ToolCall{Name: "run_code", Input: map[string]interface{}{"code": code}})
	if err != nil || out != "hello ada" {
		t.Errorf("run_code = %q, %v", out, err)
	}
}
