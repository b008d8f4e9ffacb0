package llmcorrect

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/voxfix/internal/correction"
	"github.com/MrWong99/voxfix/pkg/provider/llm"
	"github.com/MrWong99/voxfix/pkg/provider/llm/mock"
)

func TestCorrect_SendsGrammarPrompt(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		NameValue:        "gemini/gemini-1.5-flash",
		CompleteResponse: &llm.CompletionResponse{Content: "He went to school yesterday."},
	}
	c := New(p, WithTemperature(0.3))

	got, err := c.Correct(context.Background(), "  He go to school yesterday ")
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if got != "He went to school yesterday." {
		t.Errorf("Correct = %q", got)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("Complete calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if want := "Correct the grammar of this sentence: He go to school yesterday"; req.Messages[0].Content != want {
		t.Errorf("user message = %q, want %q", req.Messages[0].Content, want)
	}
	if req.Temperature != 0.3 || req.MaxTokens != defaultMaxTokens {
		t.Errorf("temperature/max tokens = %v/%d", req.Temperature, req.MaxTokens)
	}
	if !strings.Contains(req.SystemPrompt, "corrected sentence only") {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if c.Name() != "llm/gemini/gemini-1.5-flash" {
		t.Errorf("Name = %q", c.Name())
	}
}

func TestCorrect_EmptyInputSkipsModel(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	_, err := New(p).Correct(context.Background(), " \t")
	var ve *correction.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(p.Calls()) != 0 {
		t.Error("model called for empty input")
	}
}

func TestCorrect_ProviderError(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteErr: errors.New("503 unavailable")}
	_, err := New(p).Correct(context.Background(), "hello")
	var se *correction.ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want ServiceError", err)
	}
	if se.Backend != "llm/mock" {
		t.Errorf("backend = %q", se.Backend)
	}
}

func TestCorrect_ProviderStatusKept(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteErr: &llm.StatusError{Provider: "openai/gpt-4o", StatusCode: 429, Err: errors.New("slow down")}}
	_, err := New(p).Correct(context.Background(), "hello")
	var se *correction.ServiceError
	if !errors.As(err, &se) || se.StatusCode != 429 {
		t.Fatalf("err = %v, want ServiceError with status 429", err)
	}
}

func TestCorrect_NoCorrection(t *testing.T) {
	t.Parallel()

	for name, resp := range map[string]*llm.CompletionResponse{
		"nil response":  nil,
		"blank content": {Content: "  \n"},
		"only a label":  {Content: "Corrected:"},
	} {
		p := &mock.Provider{CompleteResponse: resp}
		if _, err := New(p).Correct(context.Background(), "hello"); !errors.Is(err, correction.ErrNoCorrectionReturned) {
			t.Errorf("%s: err = %v, want ErrNoCorrectionReturned", name, err)
		}
	}
}

func TestCleanReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"He went home.", "He went home."},
		{"  He went home.\n", "He went home."},
		{`"He went home."`, "He went home."},
		{"“He went home.”", "He went home."},
		{"Corrected: He went home.", "He went home."},
		{"Corrected sentence: \"He went home.\"", "He went home."},
		{"```\nHe went home.\n```", "He went home."},
		{"```text\nHe went home.\n```", "He went home."},
		{"It's John's.", "It's John's."},
		{`""`, `""`},
	}
	for _, tc := range tests {
		if got := cleanReply(tc.in); got != tc.want {
			t.Errorf("cleanReply(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
