// Package feedback explains a correction by classifying each change in a
// word-level diff.
//
// A removed run directly followed by an inserted run is a replacement. Each
// replaced word is compared with its counterpart: when the two share a
// Double Metaphone code and are close by Jaro-Winkler similarity, or are
// very close lexically, the change is a [Spelling] fix; otherwise it is a
// [Word] change. Removed runs with no replacement are [Deletion]s and
// inserted runs with no counterpart are [Insertion]s.
package feedback

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/voxfix/pkg/textdiff"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultLexicalThreshold  = 0.85
)

// Category names the kind of a [Change].
type Category string

const (
	Spelling  Category = "spelling"
	Word      Category = "word"
	Insertion Category = "insertion"
	Deletion  Category = "deletion"
)

// Change is one classified edit.
type Change struct {
	Category  Category `json:"category"`
	Original  string   `json:"original,omitempty"`
	Corrected string   `json:"corrected,omitempty"`
	// Similarity is the Jaro-Winkler score of a replacement, 0 otherwise.
	Similarity float64 `json:"similarity,omitempty"`
}

// Summary is the classified change list of one correction.
type Summary struct {
	Changes []Change         `json:"changes"`
	Counts  map[Category]int `json:"counts"`
}

// Option configures a [Classifier].
type Option func(*Classifier)

// WithPhoneticThreshold sets the Jaro-Winkler score a phonetically matching
// pair must reach to count as a spelling fix. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Classifier) { c.phoneticThreshold = threshold }
}

// WithLexicalThreshold sets the Jaro-Winkler score at which a pair counts as
// a spelling fix without a phonetic match. Default: 0.85.
func WithLexicalThreshold(threshold float64) Option {
	return func(c *Classifier) { c.lexicalThreshold = threshold }
}

// Classifier turns diffs into change summaries. It is read-only after
// construction and safe for concurrent use.
type Classifier struct {
	phoneticThreshold float64
	lexicalThreshold  float64
}

// New returns a Classifier configured by opts.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		phoneticThreshold: defaultPhoneticThreshold,
		lexicalThreshold:  defaultLexicalThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Summarize diffs original against corrected and classifies the result.
func (c *Classifier) Summarize(original, corrected string) Summary {
	return c.summary(c.Classify(textdiff.Diff(original, corrected)))
}

// SummarizeSegments classifies an existing diff.
func (c *Classifier) SummarizeSegments(segs []textdiff.Segment) Summary {
	return c.summary(c.Classify(segs))
}

func (c *Classifier) summary(changes []Change) Summary {
	s := Summary{Changes: changes, Counts: make(map[Category]int, 4)}
	if s.Changes == nil {
		s.Changes = []Change{}
	}
	for _, ch := range changes {
		s.Counts[ch.Category]++
	}
	return s
}

// Classify returns the changes in segs in order. Whitespace-only edits are
// ignored.
func (c *Classifier) Classify(segs []textdiff.Segment) []Change {
	var out []Change
	for i := 0; i < len(segs); i++ {
		seg := segs[i]
		switch seg.Kind {
		case textdiff.Removed:
			if i+1 < len(segs) && segs[i+1].Kind == textdiff.Inserted {
				out = append(out, c.replacement(seg.Text, segs[i+1].Text)...)
				i++
				continue
			}
			out = appendRun(out, Deletion, seg.Text)
		case textdiff.Inserted:
			out = appendRun(out, Insertion, seg.Text)
		}
	}
	return out
}

func appendRun(out []Change, cat Category, text string) []Change {
	text = strings.TrimSpace(text)
	if text == "" {
		return out
	}
	ch := Change{Category: cat}
	if cat == Deletion {
		ch.Original = text
	} else {
		ch.Corrected = text
	}
	return append(out, ch)
}

// replacement classifies a removed run against the inserted run that
// replaced it. Runs with equal word counts are compared word by word.
func (c *Classifier) replacement(removed, inserted string) []Change {
	from, to := strings.Fields(removed), strings.Fields(inserted)
	switch {
	case len(from) == 0:
		return appendRun(nil, Insertion, inserted)
	case len(to) == 0:
		return appendRun(nil, Deletion, removed)
	case len(from) != len(to):
		return []Change{c.pair(strings.Join(from, " "), strings.Join(to, " "))}
	}
	out := make([]Change, 0, len(from))
	for i := range from {
		if from[i] == to[i] {
			continue
		}
		out = append(out, c.pair(from[i], to[i]))
	}
	return out
}

func (c *Classifier) pair(from, to string) Change {
	ch := Change{Category: Word, Original: from, Corrected: to}

	a, b := normalize(from), normalize(to)
	if a == b {
		// Only case or punctuation differs.
		ch.Category = Spelling
		ch.Similarity = 1
		return ch
	}
	if a == "" || b == "" {
		return ch
	}

	ch.Similarity = matchr.JaroWinkler(a, b, false)
	phonetic := codesOverlap(codesFor(a), codesFor(b))
	if (phonetic && ch.Similarity >= c.phoneticThreshold) || ch.Similarity >= c.lexicalThreshold {
		ch.Category = Spelling
	}
	return ch
}

// normalize lower-cases s and drops everything but letters, digits and
// spaces.
func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		}
		return -1
	}, s)
}

// codesFor returns the Double Metaphone codes of every word in s.
func codesFor(s string) map[string]struct{} {
	words := strings.Fields(s)
	codes := make(map[string]struct{}, len(words)*2)
	for _, w := range words {
		p, alt := matchr.DoubleMetaphone(w)
		if p != "" {
			codes[p] = struct{}{}
		}
		if alt != "" {
			codes[alt] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
