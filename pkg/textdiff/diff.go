// Package textdiff computes word-level edit scripts between two strings.
//
// [Diff] tokenises both inputs on whitespace (punctuation stays attached to
// its word), aligns the word sequences with a longest-common-subsequence
// table and returns an ordered list of [Segment] values. Whitespace is
// carried inside segment text so that both inputs can be rebuilt exactly:
//
//   - concatenating every segment whose Kind is not [Removed] yields the
//     corrected text;
//   - concatenating every segment whose Kind is not [Inserted] yields the
//     original text.
//
// When several minimal alignments exist the one that keeps the longest
// common prefix is chosen, so output is stable for identical inputs. The
// table is bounded: after the common prefix and suffix are set aside, a
// middle region too large to tabulate is reported as removed and inserted
// whole.
//
// All functions are pure and safe for concurrent use.
package textdiff

import (
	"fmt"
	"strings"
	"unicode"
)

// Kind classifies a [Segment].
type Kind int

const (
	// Unchanged text is present in both the original and the corrected input.
	Unchanged Kind = iota

	// Inserted text is present only in the corrected input.
	Inserted

	// Removed text is present only in the original input.
	Removed
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case Inserted:
		return "inserted"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler] so kinds serialise as
// their names in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "unchanged":
		*k = Unchanged
	case "inserted":
		*k = Inserted
	case "removed":
		*k = Removed
	default:
		return &UnknownKindError{Value: string(b)}
	}
	return nil
}

// UnknownKindError is returned by [Kind.UnmarshalText] for unrecognised names.
type UnknownKindError struct {
	Value string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("textdiff: unknown segment kind %q", e.Value)
}

// Segment is one contiguous run of an edit script.
type Segment struct {
	Text string `json:"text"`
	Kind Kind   `json:"kind"`
}

// tokens is a whitespace-split view of a string. words[i] is preceded by
// gaps[i]; gaps[len(words)] is the trailing whitespace.
type tokens struct {
	words []string
	gaps  []string
}

func tokenize(s string) tokens {
	var t tokens
	start := 0
	inWord := false
	for i, r := range s {
		space := unicode.IsSpace(r)
		switch {
		case inWord && space:
			t.words = append(t.words, s[start:i])
			start = i
			inWord = false
		case !inWord && !space:
			t.gaps = append(t.gaps, s[start:i])
			start = i
			inWord = true
		}
	}
	if inWord {
		t.words = append(t.words, s[start:])
		t.gaps = append(t.gaps, "")
	} else {
		t.gaps = append(t.gaps, s[start:])
	}
	return t
}

// opKind is a single alignment step.
type opKind int

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

type op struct {
	kind opKind
	a, b int // indexes into the original and corrected word lists
}

// align returns the edit steps between a and b. Matches are taken as early as
// possible, and within each unmatched region deletions precede insertions.
func align(a, b []string) []op {
	p := 0
	for p < len(a) && p < len(b) && a[p] == b[p] {
		p++
	}
	ops := make([]op, 0, len(a)+len(b)-p)
	for k := range p {
		ops = append(ops, op{kind: opEqual, a: k, b: k})
	}
	ra, rb := a[p:], b[p:]
	if fits(ra, rb) {
		return appendAligned(ops, ra, rb, p)
	}

	// Too large for the table. Trimming the common suffix can move a match
	// later than the table would have put it, which is acceptable here.
	s := 0
	for s < len(ra) && s < len(rb) && ra[len(ra)-1-s] == rb[len(rb)-1-s] {
		s++
	}
	ma, mb := ra[:len(ra)-s], rb[:len(rb)-s]
	if fits(ma, mb) {
		ops = appendAligned(ops, ma, mb, p)
	} else {
		for i := range ma {
			ops = append(ops, op{kind: opDelete, a: p + i})
		}
		for j := range mb {
			ops = append(ops, op{kind: opInsert, b: p + j})
		}
	}
	for k := range s {
		ops = append(ops, op{kind: opEqual, a: p + len(ma) + k, b: p + len(mb) + k})
	}
	return ops
}

// maxCells bounds the LCS table built by [appendAligned]. Regions larger
// than this are replaced wholesale.
const maxCells = 1 << 22

func fits(a, b []string) bool {
	return (len(a)+1)*(len(b)+1) <= maxCells
}

// appendAligned appends the table alignment of a and b to ops. Both slices
// start at word index off of their full inputs.
func appendAligned(ops []op, a, b []string, off int) []op {
	n, m := len(a), len(b)
	width := m + 1
	// lcs[i*width+j] is the LCS length of a[i:] and b[j:].
	lcs := make([]int32, (n+1)*width)
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i*width+j] = lcs[(i+1)*width+j+1] + 1
			} else {
				lcs[i*width+j] = max(lcs[(i+1)*width+j], lcs[i*width+j+1])
			}
		}
	}

	var dels, ins []op
	flush := func() {
		ops = append(ops, dels...)
		ops = append(ops, ins...)
		dels, ins = dels[:0], ins[:0]
	}

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			flush()
			ops = append(ops, op{kind: opEqual, a: off + i, b: off + j})
			i++
			j++
		case lcs[(i+1)*width+j] >= lcs[i*width+j+1]:
			dels = append(dels, op{kind: opDelete, a: off + i})
			i++
		default:
			ins = append(ins, op{kind: opInsert, b: off + j})
			j++
		}
	}
	for ; i < n; i++ {
		dels = append(dels, op{kind: opDelete, a: off + i})
	}
	for ; j < m; j++ {
		ins = append(ins, op{kind: opInsert, b: off + j})
	}
	flush()
	return ops
}

// builder accumulates segments, merging adjacent runs of the same kind.
type builder struct {
	segs []Segment
	run  strings.Builder
	kind Kind
	open bool
}

func (b *builder) add(kind Kind, text string) {
	if text == "" {
		return
	}
	if b.open && b.kind != kind {
		b.flush()
	}
	b.kind, b.open = kind, true
	b.run.WriteString(text)
}

func (b *builder) flush() {
	if !b.open {
		return
	}
	b.segs = append(b.segs, Segment{Text: b.run.String(), Kind: b.kind})
	b.run.Reset()
	b.open = false
}

func (b *builder) done() []Segment {
	b.flush()
	return b.segs
}

// pair emits whitespace that sits between two positions shared by both texts.
func (b *builder) pair(orig, corr string) {
	if orig == corr {
		b.add(Unchanged, orig)
		return
	}
	b.add(Removed, orig)
	b.add(Inserted, corr)
}

// Diff returns the word-level edit script that turns original into corrected.
// It never fails; two empty inputs yield a nil slice.
func Diff(original, corrected string) []Segment {
	if original == "" && corrected == "" {
		return nil
	}
	if original == corrected {
		return []Segment{{Text: original, Kind: Unchanged}}
	}

	ta, tb := tokenize(original), tokenize(corrected)
	var b builder

	// Pending whitespace on each side. At a shared boundary (start of input
	// or right after a matched word) both gaps are emitted together.
	gapA, gapB := ta.gaps[0], tb.gaps[0]
	shared := true

	for _, o := range align(ta.words, tb.words) {
		switch o.kind {
		case opEqual:
			b.pair(gapA, gapB)
			b.add(Unchanged, ta.words[o.a])
			gapA, gapB = ta.gaps[o.a+1], tb.gaps[o.b+1]
			shared = true
		case opDelete:
			if shared {
				b.pair(gapA, gapB)
				gapB = ""
				shared = false
			} else {
				b.add(Removed, gapA)
			}
			b.add(Removed, ta.words[o.a])
			gapA = ta.gaps[o.a+1]
		case opInsert:
			if shared {
				b.pair(gapA, gapB)
				gapA = ""
				shared = false
			} else {
				b.add(Inserted, gapB)
			}
			b.add(Inserted, tb.words[o.b])
			gapB = tb.gaps[o.b+1]
		}
	}
	b.pair(gapA, gapB)
	return b.done()
}

// Original rebuilds the original text from segs.
func Original(segs []Segment) string {
	return join(segs, Inserted)
}

// Corrected rebuilds the corrected text from segs.
func Corrected(segs []Segment) string {
	return join(segs, Removed)
}

func join(segs []Segment, skip Kind) string {
	var sb strings.Builder
	for _, s := range segs {
		if s.Kind != skip {
			sb.WriteString(s.Text)
		}
	}
	return sb.String()
}

// Changed reports whether segs contains any insertion or removal.
func Changed(segs []Segment) bool {
	for _, s := range segs {
		if s.Kind != Unchanged {
			return true
		}
	}
	return false
}
