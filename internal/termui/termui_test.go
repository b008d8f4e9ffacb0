package termui_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxfix/internal/feedback"
	"github.com/MrWong99/voxfix/internal/history"
	"github.com/MrWong99/voxfix/internal/termui"
	"github.com/MrWong99/voxfix/pkg/textdiff"
)

// A bytes.Buffer is not a terminal, so every style renders as plain text.

func TestDiff_Markers(t *testing.T) {
	t.Parallel()

	segs := []textdiff.Segment{
		{Text: "He ", Kind: textdiff.Unchanged},
		{Text: "go", Kind: textdiff.Removed},
		{Text: "went", Kind: textdiff.Inserted},
		{Text: " to school.", Kind: textdiff.Unchanged},
	}

	tests := []struct {
		name    string
		markers bool
		want    string
	}{
		{name: "plain", markers: false, want: "He gowent to school."},
		{name: "markers", markers: true, want: "He [-go-]{+went+} to school."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := termui.New(&bytes.Buffer{}, termui.WithMarkers(tt.markers))
			if got := p.Diff(segs); got != tt.want {
				t.Errorf("Diff = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintCorrection(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := termui.New(&buf, termui.WithMarkers(true))
	orig, corr := "He go to school.", "He went to school."
	err := p.PrintCorrection(termui.Correction{
		Original:  orig,
		Corrected: corr,
		Diff:      textdiff.Diff(orig, corr),
		Changes:   []feedback.Change{{Category: feedback.Word, Original: "go", Corrected: "went"}},
	})
	if err != nil {
		t.Fatalf("PrintCorrection: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"You wrote: He go to school.",
		"Corrected: He went to school.",
		"[-go-]",
		"{+went+}",
		`word: "go" → "went"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintCorrection_Unchanged(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := termui.New(&buf)
	s := "He went to school."
	if err := p.PrintCorrection(termui.Correction{Original: s, Corrected: s, Diff: textdiff.Diff(s, s)}); err != nil {
		t.Fatalf("PrintCorrection: %v", err)
	}
	if !strings.Contains(buf.String(), "No changes needed.") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestPrintHistory(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := termui.New(&buf, termui.WithMarkers(true))
	if err := p.PrintHistory(nil); err != nil {
		t.Fatalf("PrintHistory(nil): %v", err)
	}
	if !strings.Contains(buf.String(), "No saved corrections.") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	recs := []history.Record{
		{ID: "id-2", Input: "She don't like apples.", CorrectedText: "She doesn't like apples.", Timestamp: time.Now()},
		{ID: "id-1", Input: "Hello there.", CorrectedText: "Hello there.", Timestamp: time.Now().Add(-time.Hour)},
	}
	if err := p.PrintHistory(recs); err != nil {
		t.Fatalf("PrintHistory: %v", err)
	}
	out := buf.String()
	if strings.Index(out, "id-2") > strings.Index(out, "id-1") {
		t.Errorf("records out of order:\n%s", out)
	}
	if !strings.Contains(out, "{+doesn't+}") {
		t.Errorf("history diff missing:\n%s", out)
	}
}

func TestPrintError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	termui.New(&buf).PrintError(errors.New("boom"))
	if got := buf.String(); got != "Error: boom\n" {
		t.Errorf("PrintError = %q", got)
	}
}

func TestWithWidth(t *testing.T) {
	t.Parallel()

	p := termui.New(&bytes.Buffer{}, termui.WithWidth(10))
	got := p.Diff([]textdiff.Segment{{Text: "one two three four five", Kind: textdiff.Unchanged}})
	if !strings.Contains(got, "\n") {
		t.Errorf("Diff with width 10 not wrapped: %q", got)
	}
}

func TestPrintSummary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	termui.New(&buf).PrintSummary("Startup", []termui.Row{
		{Key: "LLM", Value: "gemini"},
		{Key: "Listen addr", Value: ":8080"},
	})
	out := buf.String()
	for _, want := range []string{"Startup", "LLM         : gemini", "Listen addr : :8080", "╭", "╯"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
