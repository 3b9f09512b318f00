// Package analysis extracts dependency records and entry-point schemas from
// Go source using tree-sitter.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"taskforge/internal/logging"
	"taskforge/internal/types"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// EntryPoint is the function generated code must define.
const EntryPoint = "Run"

// ErrSyntax is returned when source does not parse cleanly.
var ErrSyntax = errors.New("syntax error")

// FuncDecl is a top-level function declaration.
type FuncDecl struct {
	Name      string
	Signature string
}

// File is the parsed shape of one Go source file.
type File struct {
	Package   string
	Imports   []string
	Functions []FuncDecl
	// Calls holds every called identifier; selector calls contribute the
	// selected name.
	Calls []string
}

// Func returns the named declaration.
func (f *File) Func(name string) (FuncDecl, bool) {
	for _, fn := range f.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return FuncDecl{}, false
}

// Parser wraps a tree-sitter Go parser. Safe for concurrent use.
type Parser struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

// NewParser creates a Go parser.
func NewParser() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(golang.GetLanguage())
	return &Parser{parser: p}
}

// Close releases the underlying parser.
func (p *Parser) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.parser.Close()
}

// Parse parses src. Sources with syntax errors return ErrSyntax along with
// whatever could be recovered.
func (p *Parser) Parse(ctx context.Context, src []byte) (*File, error) {
	p.mu.Lock()
	tree, err := p.parser.ParseCtx(ctx, nil, src)
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	file := extract(root, src)
	if root.HasError() {
		return file, fmt.Errorf("%w: %s", ErrSyntax, firstError(root, src))
	}
	return file, nil
}

func extract(root *sitter.Node, src []byte) *File {
	file := &File{}
	text := func(n *sitter.Node) string { return n.Content(src) }
	seenCalls := make(map[string]bool)

	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "package_clause":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				if c := n.NamedChild(i); c.Type() == "package_identifier" {
					file.Package = text(c)
				}
			}
		case "import_spec":
			if path := n.ChildByFieldName("path"); path != nil {
				if unq, err := strconv.Unquote(text(path)); err == nil {
					file.Imports = append(file.Imports, unq)
				}
			}
		case "function_declaration":
			if name := n.ChildByFieldName("name"); name != nil {
				sig := "func " + text(name)
				if params := n.ChildByFieldName("parameters"); params != nil {
					sig += text(params)
				}
				if result := n.ChildByFieldName("result"); result != nil {
					sig += " " + text(result)
				}
				file.Functions = append(file.Functions, FuncDecl{Name: text(name), Signature: sig})
			}
		case "call_expression":
			if fn := n.ChildByFieldName("function"); fn != nil {
				var name string
				switch fn.Type() {
				case "identifier":
					name = text(fn)
				case "selector_expression":
					if field := fn.ChildByFieldName("field"); field != nil {
						name = text(field)
					}
				}
				if name != "" && !seenCalls[name] {
					seenCalls[name] = true
					file.Calls = append(file.Calls, name)
				}
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)
	return file
}

func firstError(n *sitter.Node, src []byte) string {
	if n.IsError() || n.IsMissing() {
		p := n.StartPoint()
		return fmt.Sprintf("line %d col %d near %q", p.Row+1, p.Column+1, truncate(n.Content(src), 40))
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c.HasError() || c.IsMissing() {
			return firstError(c, src)
		}
	}
	return "unknown location"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// =============================================================================
// FUNCTION TABLE
// =============================================================================

// Symbol is a function declared by a project function artifact.
type Symbol struct {
	Artifact  string
	Signature string
}

// FunctionTable maps declared function names to the project function that
// declares them.
type FunctionTable struct {
	symbols map[string]Symbol
	// primary is the signature each artifact is described by.
	primary map[string]string
}

// BuildFunctionTable parses every function artifact. An artifact is
// reachable by its own name and by every function it declares.
func (p *Parser) BuildFunctionTable(ctx context.Context, functions []types.Artifact) (*FunctionTable, error) {
	timer := logging.StartTimer(logging.CategoryCompiler, "BuildFunctionTable")
	defer timer.Stop()

	table := &FunctionTable{
		symbols: make(map[string]Symbol),
		primary: make(map[string]string),
	}
	for _, fn := range functions {
		file, err := p.Parse(ctx, []byte(fn.Content))
		if err != nil && file == nil {
			return nil, fmt.Errorf("function %s: %w", fn.Name, err)
		}
		if err != nil {
			logging.CompilerDebug("function %s parsed with errors: %v", fn.Name, err)
		}
		for _, decl := range file.Functions {
			if _, taken := table.symbols[decl.Name]; !taken {
				table.symbols[decl.Name] = Symbol{Artifact: fn.Name, Signature: decl.Signature}
			}
		}
		table.primary[fn.Name] = primarySignature(fn.Name, file)
		if _, taken := table.symbols[fn.Name]; !taken {
			table.symbols[fn.Name] = Symbol{Artifact: fn.Name, Signature: table.primary[fn.Name]}
		}
	}
	return table, nil
}

// primarySignature picks the declaration matching the artifact name, else
// the first exported one, else the first declared.
func primarySignature(artifact string, file *File) string {
	if len(file.Functions) == 0 {
		return ""
	}
	for _, decl := range file.Functions {
		if strings.EqualFold(decl.Name, strings.ReplaceAll(artifact, "_", "")) {
			return decl.Signature
		}
	}
	for _, decl := range file.Functions {
		if decl.Name != "" && decl.Name[0] >= 'A' && decl.Name[0] <= 'Z' {
			return decl.Signature
		}
	}
	return file.Functions[0].Signature
}

// Len returns the number of functions in the table.
func (t *FunctionTable) Len() int { return len(t.primary) }

// Signature returns the signature an artifact is described by.
func (t *FunctionTable) Signature(artifact string) (string, bool) {
	sig, ok := t.primary[artifact]
	return sig, ok
}

// Artifacts returns all artifact names, sorted.
func (t *FunctionTable) Artifacts() []string {
	names := make([]string, 0, len(t.primary))
	for name := range t.primary {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps called identifiers to the unique, sorted set of artifacts
// they reach.
func (t *FunctionTable) Resolve(calls []string) []string {
	seen := make(map[string]bool)
	var deps []string
	for _, call := range calls {
		sym, ok := t.symbols[call]
		if !ok || seen[sym.Artifact] {
			continue
		}
		seen[sym.Artifact] = true
		deps = append(deps, sym.Artifact)
	}
	sort.Strings(deps)
	return deps
}

// SignatureText renders the dependency signature text for a set of artifacts:
// sorted "name(signature)" lines.
func (t *FunctionTable) SignatureText(artifacts []string) string {
	lines := make([]string, 0, len(artifacts))
	for _, name := range artifacts {
		lines = append(lines, fmt.Sprintf("%s(%s)", name, t.primary[name]))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// =============================================================================
// GENERATED CODE
// =============================================================================

// Report is what compilation records about generated code.
type Report struct {
	Dependencies []string
	Schema       string
	Imports      []string
}

// Analyze derives the dependency record and schema of generated code.
func (p *Parser) Analyze(ctx context.Context, code string, table *FunctionTable) (*Report, error) {
	file, err := p.Parse(ctx, []byte(code))
	if err != nil {
		return nil, err
	}
	entry, ok := file.Func(EntryPoint)
	if !ok {
		return nil, fmt.Errorf("generated code must define func %s", EntryPoint)
	}
	report := &Report{
		Schema:  entry.Signature,
		Imports: file.Imports,
	}
	if table != nil {
		report.Dependencies = table.Resolve(file.Calls)
	}
	logging.CompilerDebug("Analyze: %d calls resolved to %d dependencies", len(file.Calls), len(report.Dependencies))
	return report, nil
}

// Imports returns the import paths of src.
func (p *Parser) Imports(ctx context.Context, src string) ([]string, error) {
	file, err := p.Parse(ctx, []byte(src))
	if err != nil {
		return nil, err
	}
	return file.Imports, nil
}
