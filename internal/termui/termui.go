// Package termui renders corrections and history for the terminal.
//
// Colours follow the output's capabilities as detected by lipgloss; when the
// output is not a terminal the text comes out unstyled. Enable markers to get
// a word diff that stays readable without colour:
//
//	He [-go-]{+went+} to school.
package termui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/voxfix/internal/feedback"
	"github.com/MrWong99/voxfix/internal/history"
	"github.com/MrWong99/voxfix/pkg/textdiff"
)

// Theme holds the styles a [Printer] uses.
type Theme struct {
	Removed   lipgloss.Style
	Inserted  lipgloss.Style
	Label     lipgloss.Style
	Dim       lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
}

// DefaultTheme returns the standard styles bound to r.
func DefaultTheme(r *lipgloss.Renderer) Theme {
	return Theme{
		Removed:   r.NewStyle().Foreground(lipgloss.Color("#FF5F5F")).Strikethrough(true),
		Inserted:  r.NewStyle().Foreground(lipgloss.Color("#5FD75F")).Bold(true),
		Label:     r.NewStyle().Foreground(lipgloss.Color("#00D7D7")).Bold(true),
		Dim:       r.NewStyle().Foreground(lipgloss.Color("#767676")),
		Error:     r.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true),
		Highlight: r.NewStyle().Foreground(lipgloss.Color("#FFD700")),
		Box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#626262")).
			Padding(0, 1),
	}
}

// Option configures a [Printer].
type Option func(*Printer)

// WithMarkers wraps removed words in [-...-] and inserted words in {+...+}.
func WithMarkers(on bool) Option {
	return func(p *Printer) { p.markers = on }
}

// WithWidth wraps long sentences at width columns. Zero disables wrapping.
func WithWidth(width int) Option {
	return func(p *Printer) { p.width = width }
}

// WithTheme replaces the default styles.
func WithTheme(t Theme) Option {
	return func(p *Printer) { p.theme = t }
}

// Printer renders VoxFix output for one writer.
type Printer struct {
	w       io.Writer
	theme   Theme
	markers bool
	width   int
}

// New returns a Printer writing to w.
func New(w io.Writer, opts ...Option) *Printer {
	p := &Printer{
		w:     w,
		theme: DefaultTheme(lipgloss.NewRenderer(w)),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Diff renders segs as one line of text.
func (p *Printer) Diff(segs []textdiff.Segment) string {
	var sb strings.Builder
	for _, s := range segs {
		switch s.Kind {
		case textdiff.Removed:
			text := s.Text
			if p.markers {
				text = "[-" + text + "-]"
			}
			sb.WriteString(p.theme.Removed.Render(text))
		case textdiff.Inserted:
			text := s.Text
			if p.markers {
				text = "{+" + text + "+}"
			}
			sb.WriteString(p.theme.Inserted.Render(text))
		default:
			sb.WriteString(s.Text)
		}
	}
	return p.wrap(sb.String())
}

func (p *Printer) wrap(s string) string {
	if p.width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(p.width).Render(s)
}

// Correction is what [Printer.PrintCorrection] shows.
type Correction struct {
	Original  string
	Corrected string
	Diff      []textdiff.Segment
	Changes   []feedback.Change
}

// PrintCorrection writes the original, the diff and a list of changes.
func (p *Printer) PrintCorrection(c Correction) error {
	var sb strings.Builder
	sb.WriteString(p.theme.Label.Render("You wrote: "))
	sb.WriteString(p.wrap(c.Original))
	sb.WriteString("\n")
	sb.WriteString(p.theme.Label.Render("Corrected: "))
	sb.WriteString(p.wrap(c.Corrected))
	sb.WriteString("\n")

	if !textdiff.Changed(c.Diff) {
		sb.WriteString(p.theme.Dim.Render("No changes needed."))
		sb.WriteString("\n")
		_, err := io.WriteString(p.w, sb.String())
		return err
	}

	sb.WriteString(p.theme.Label.Render("Changes:   "))
	sb.WriteString(p.Diff(c.Diff))
	sb.WriteString("\n")
	for _, ch := range c.Changes {
		sb.WriteString("  • ")
		sb.WriteString(p.describe(ch))
		sb.WriteString("\n")
	}
	_, err := io.WriteString(p.w, sb.String())
	return err
}

func (p *Printer) describe(ch feedback.Change) string {
	cat := p.theme.Highlight.Render(string(ch.Category))
	switch ch.Category {
	case feedback.Insertion:
		return fmt.Sprintf("%s: added %q", cat, ch.Corrected)
	case feedback.Deletion:
		return fmt.Sprintf("%s: removed %q", cat, ch.Original)
	default:
		return fmt.Sprintf("%s: %q → %q", cat, ch.Original, ch.Corrected)
	}
}

// PrintHistory writes recs as a list, one record per block.
func (p *Printer) PrintHistory(recs []history.Record) error {
	if len(recs) == 0 {
		_, err := io.WriteString(p.w, p.theme.Dim.Render("No saved corrections.")+"\n")
		return err
	}
	var sb strings.Builder
	for i, r := range recs {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(p.theme.Dim.Render(r.Timestamp.Local().Format("2006-01-02 15:04") + "  " + r.ID))
		sb.WriteString("\n  ")
		sb.WriteString(p.wrap(r.Input))
		sb.WriteString("\n  ")
		sb.WriteString(p.Diff(textdiff.Diff(r.Input, r.CorrectedText)))
		sb.WriteString("\n")
	}
	_, err := io.WriteString(p.w, sb.String())
	return err
}

// PrintError writes err in the error style.
func (p *Printer) PrintError(err error) {
	_, _ = io.WriteString(p.w, p.theme.Error.Render("Error: ")+err.Error()+"\n")
}

// Row is one key/value line of [Printer.PrintSummary].
type Row struct {
	Key   string
	Value string
}

// PrintSummary writes rows inside a rounded box headed by title.
func (p *Printer) PrintSummary(title string, rows []Row) {
	keyWidth := 0
	for _, r := range rows {
		keyWidth = max(keyWidth, lipgloss.Width(r.Key))
	}
	lines := []string{p.theme.Label.Render(title), ""}
	for _, r := range rows {
		key := r.Key + strings.Repeat(" ", keyWidth-lipgloss.Width(r.Key))
		lines = append(lines, p.theme.Dim.Render(key)+" : "+r.Value)
	}
	box := p.theme.Box.Render(strings.Join(lines, "\n"))
	_, _ = io.WriteString(p.w, box+"\n")
}
