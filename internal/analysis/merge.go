package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Merge combines Go sources into a single package main file. Package
// clauses are dropped, imports are deduplicated into one block, and all
// other top-level declarations are kept in source order.
func (p *Parser) Merge(ctx context.Context, sources ...string) (string, error) {
	imports := make(map[string]bool)
	var decls []string

	for idx, src := range sources {
		if strings.TrimSpace(src) == "" {
			continue
		}
		content := []byte(src)

		p.mu.Lock()
		tree, err := p.parser.ParseCtx(ctx, nil, content)
		p.mu.Unlock()
		if err != nil {
			return "", fmt.Errorf("source %d: %w", idx, err)
		}
		root := tree.RootNode()
		if root.HasError() {
			msg := firstError(root, content)
			tree.Close()
			return "", fmt.Errorf("source %d: %w: %s", idx, ErrSyntax, msg)
		}

		for i := 0; i < int(root.NamedChildCount()); i++ {
			node := root.NamedChild(i)
			switch node.Type() {
			case "package_clause":
			case "import_declaration":
				collectImportSpecs(node, content, imports)
			default:
				decls = append(decls, node.Content(content))
			}
		}
		tree.Close()
	}

	var b strings.Builder
	b.WriteString("package main\n")
	if len(imports) > 0 {
		specs := make([]string, 0, len(imports))
		for spec := range imports {
			specs = append(specs, spec)
		}
		sort.Strings(specs)
		b.WriteString("\nimport (\n")
		for _, spec := range specs {
			b.WriteString("\t" + spec + "\n")
		}
		b.WriteString(")\n")
	}
	for _, decl := range decls {
		b.WriteString("\n" + decl + "\n")
	}
	return b.String(), nil
}

func collectImportSpecs(node *sitter.Node, src []byte, into map[string]bool) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "import_spec":
			into[child.Content(src)] = true
		case "import_spec_list":
			collectImportSpecs(child, src, into)
		}
	}
}
