package session

import (
	"encoding/json"
	"time"

	"github.com/MrWong99/voxfix/internal/feedback"
	"github.com/MrWong99/voxfix/pkg/textdiff"
)

// Display texts shown by a session. They match the strings the web client
// has always rendered.
const (
	InputPlaceholder  = "Your sentence appears here."
	OutputPlaceholder = "Your corrected sentence will appear here..."

	StatusListening     = "Listening..."
	StatusNoCorrection  = "No correction returned from backend."
	StatusServiceFailed = "Error while checking grammar. Please try again."
	StatusCaptureFailed = "Error occurred. Please try again."
	StatusNoRecognition = "Speech recognition not supported in this browser."
	StatusEmptySentence = "Please enter a sentence first!"
	StatusTooLong       = "Please enter a shorter text."
	youSaidPrefix       = "You said: "
	correctedPrefix     = "Corrected: "
)

// State is the position of a [Controller] in its state machine.
type State int

const (
	Empty State = iota
	Capturing
	Correcting
	Corrected
	Speaking
	Failed
)

var stateNames = [...]string{"empty", "capturing", "correcting", "corrected", "speaking", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Source tells where submitted text came from.
type Source int

const (
	Text Source = iota
	Voice
)

func (s Source) String() string {
	if s == Voice {
		return "voice"
	}
	return "text"
}

// Identity is the logged-in user a session belongs to. Sessions without one
// never write history.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
}

// Request is one submission. It is immutable once created.
type Request struct {
	RawText     string
	Source      Source
	SubmittedAt time.Time
}

// Result is the current correction of a session.
type Result struct {
	OriginalText  string             `json:"originalText"`
	CorrectedText string             `json:"correctedText"`
	Diff          []textdiff.Segment `json:"diff"`
}

// Output is what a session shows in its output area. It is exactly one of
// [Placeholder], [Rendered] or [Failure].
type Output interface {
	// Text is the plain display text.
	Text() string
	isOutput()
}

// Placeholder is shown before any result exists.
type Placeholder struct {
	Message string `json:"message"`
}

func (p Placeholder) Text() string { return p.Message }
func (Placeholder) isOutput() {}

func (p Placeholder) MarshalJSON() ([]byte, error) {
	type plain Placeholder
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{"placeholder", plain(p)})
}

// Rendered is a successful correction.
type Rendered struct {
	Diff          []textdiff.Segment `json:"diff"`
	CorrectedText string             `json:"correctedText"`
	// HTML is the corrected sentence with inserted words wrapped in <mark>.
	HTML    string            `json:"html"`
	Changes []feedback.Change `json:"changes"`
}

func (r Rendered) Text() string { return correctedPrefix + r.CorrectedText }
func (Rendered) isOutput() {}

func (r Rendered) MarshalJSON() ([]byte, error) {
	type plain Rendered
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{"rendered", plain(r)})
}

// FailureKind classifies a [Failure].
type FailureKind string

const (
	FailureValidation   FailureKind = "validation"
	FailureUnavailable  FailureKind = "capability_unavailable"
	FailureCapture      FailureKind = "capture"
	FailureService      FailureKind = "service"
	FailureNoCorrection FailureKind = "no_correction"
)

// Failure is a failed capture or correction.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f Failure) Text() string { return f.Message }
func (Failure) isOutput() {}

func (f Failure) MarshalJSON() ([]byte, error) {
	type plain Failure
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{"failure", plain(f)})
}

// Snapshot is a consistent copy of a session's visible state.
type Snapshot struct {
	ID       string    `json:"sessionId"`
	State    State     `json:"state"`
	Input    string    `json:"input"`
	Output   Output    `json:"output"`
	Result   *Result   `json:"result,omitempty"`
	Identity *Identity `json:"identity,omitempty"`
	// Replay is set while a history item is displayed.
	Replay bool `json:"replay,omitempty"`
}

// EventKind discriminates [Event].
type EventKind int

const (
	// EventStateChanged follows every transition and every change of the
	// displayed input or output.
	EventStateChanged EventKind = iota
	// EventHistorySaved reports a completed background save.
	EventHistorySaved
)

func (k EventKind) String() string {
	if k == EventHistorySaved {
		return "history_saved"
	}
	return "state_changed"
}

// Event is published on [Controller.Events].
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	RecordID string // EventHistorySaved
}

// PersistFailure reports a background save that failed. The correction it
// belonged to is unaffected.
type PersistFailure struct {
	SessionID string
	Input     string
	Err       error
}
