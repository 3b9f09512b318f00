package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// styles is the CLI palette.
type styles struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Badge   lipgloss.Style
}

func newStyles() styles {
	if plain {
		s := lipgloss.NewStyle()
		return styles{Title: s, Muted: s, Success: s, Warning: s, Error: s, Badge: s}
	}
	return styles{
		Title:   lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true),
		Badge: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffffff")).
			Background(lipgloss.Color("#4B5563")).
			Padding(0, 1),
	}
}

// printer writes styled CLI output.
type printer struct {
	w        io.Writer
	st       styles
	renderer *glamour.TermRenderer
}

func newPrinter(w io.Writer) *printer {
	p := &printer{w: w, st: newStyles()}
	if !plain {
		p.renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
	}
	return p
}

func (p *printer) title(format string, args ...any) {
	fmt.Fprintln(p.w, p.st.Title.Render(fmt.Sprintf(format, args...)))
}

func (p *printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) muted(format string, args ...any) {
	fmt.Fprintln(p.w, p.st.Muted.Render(fmt.Sprintf(format, args...)))
}

func (p *printer) ok(format string, args ...any) {
	fmt.Fprintln(p.w, p.st.Success.Render("✓ ")+fmt.Sprintf(format, args...))
}

func (p *printer) warn(format string, args ...any) {
	fmt.Fprintln(p.w, p.st.Warning.Render("! ")+fmt.Sprintf(format, args...))
}

func (p *printer) fail(format string, args ...any) {
	fmt.Fprintln(p.w, p.st.Error.Render("✗ ")+fmt.Sprintf(format, args...))
}

func (p *printer) badge(s string) string { return p.st.Badge.Render(s) }

// markdown renders md through glamour, falling back to the raw text.
func (p *printer) markdown(md string) {
	if p.renderer != nil {
		if out, err := p.renderer.Render(md); err == nil {
			fmt.Fprint(p.w, out)
			return
		}
	}
	fmt.Fprintln(p.w, md)
}

// code renders Go source as a fenced block.
func (p *printer) code(src string) {
	p.markdown("```go\n" + strings.TrimRight(src, "\n") + "\n```\n")
}
