package textdiff

import (
	"html"
	"strings"
)

// RenderHTML renders segs as an HTML fragment in which inserted text is wrapped
// in <ins> and removed text in <del>. All text is HTML-escaped.
func RenderHTML(segs []Segment) string {
	var sb strings.Builder
	for _, s := range segs {
		text := html.EscapeString(s.Text)
		switch s.Kind {
		case Inserted:
			sb.WriteString("<ins>")
			sb.WriteString(text)
			sb.WriteString("</ins>")
		case Removed:
			sb.WriteString("<del>")
			sb.WriteString(text)
			sb.WriteString("</del>")
		default:
			sb.WriteString(text)
		}
	}
	return sb.String()
}

// RenderCorrectedHTML renders only the corrected side of segs, marking
// inserted text with <mark>. Removed text is omitted.
func RenderCorrectedHTML(segs []Segment) string {
	var sb strings.Builder
	for _, s := range segs {
		switch s.Kind {
		case Removed:
			continue
		case Inserted:
			sb.WriteString("<mark>")
			sb.WriteString(html.EscapeString(s.Text))
			sb.WriteString("</mark>")
		default:
			sb.WriteString(html.EscapeString(s.Text))
		}
	}
	return sb.String()
}
