// Package style renders controller output with Lipgloss, falling back to
// plain text when the destination is not a color-capable terminal.
package style

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	colorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	colorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	colorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	colorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

// Icons prefixed to status lines.
const (
	IconPass  = "✓"
	IconWarn  = "⚠"
	IconFail  = "✗"
	IconArrow = "→"
)

// Palette styles lines for one writer.
type Palette struct {
	plain bool

	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	info    lipgloss.Style
	dim     lipgloss.Style
	bold    lipgloss.Style
}

// For returns a Palette suited to w.
func For(w io.Writer) *Palette {
	return New(!ShouldUseColor(w))
}

// New returns a Palette; plain disables all styling.
func New(plain bool) *Palette {
	return &Palette{
		plain:   plain,
		success: lipgloss.NewStyle().Foreground(colorPass).Bold(true),
		warning: lipgloss.NewStyle().Foreground(colorWarn).Bold(true),
		failure: lipgloss.NewStyle().Foreground(colorFail).Bold(true),
		info:    lipgloss.NewStyle().Foreground(colorAccent),
		dim:     lipgloss.NewStyle().Foreground(colorMuted),
		bold:    lipgloss.NewStyle().Bold(true),
	}
}

// ShouldUseColor reports whether w should receive colored output. NO_COLOR
// and CLICOLOR=0 disable color, CLICOLOR_FORCE enables it, otherwise only
// terminals are colored.
func ShouldUseColor(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if _, ok := os.LookupEnv("CLICOLOR_FORCE"); ok {
		return true
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Plain reports whether styling is disabled.
func (p *Palette) Plain() bool { return p.plain }

func (p *Palette) render(s lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return s.Render(text)
}

func (p *Palette) Success(text string) string { return p.render(p.success, text) }
func (p *Palette) Warning(text string) string { return p.render(p.warning, text) }
func (p *Palette) Error(text string) string   { return p.render(p.failure, text) }
func (p *Palette) Info(text string) string    { return p.render(p.info, text) }
func (p *Palette) Dim(text string) string     { return p.render(p.dim, text) }
func (p *Palette) Bold(text string) string    { return p.render(p.bold, text) }

// Pass formats a passing status line.
func (p *Palette) Pass(format string, args ...any) string {
	return p.Success(IconPass) + " " + fmt.Sprintf(format, args...)
}

// Warn formats a warning status line.
func (p *Palette) Warn(format string, args ...any) string {
	return p.Warning(IconWarn+" Warning:") + " " + fmt.Sprintf(format, args...)
}

// Fail formats a failing status line.
func (p *Palette) Fail(format string, args ...any) string {
	return p.Error(IconFail) + " " + fmt.Sprintf(format, args...)
}

// Step formats a progress line in the "  → ..." shape.
func (p *Palette) Step(format string, args ...any) string {
	return "  " + p.Info(IconArrow) + " " + fmt.Sprintf(format, args...)
}

// Field formats one aligned "label: value" summary line.
func (p *Palette) Field(label, value string) string {
	return fmt.Sprintf("  %s %s", p.Dim(fmt.Sprintf("%-10s", label+":")), value)
}
