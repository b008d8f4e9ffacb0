// Package llmcorrect implements a grammar correction backend on top of any
// [llm.Provider].
//
// The model receives a short instruction followed by "Correct the grammar of
// this sentence: <text>" and is expected to answer with the corrected
// sentence only. Chatty replies are trimmed: code fences, surrounding
// quotes and a leading "Corrected:" style label are removed before the
// result is returned.
package llmcorrect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voxfix/internal/correction"
	"github.com/MrWong99/voxfix/pkg/provider/llm"
)

const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 512

	userPromptPrefix = "Correct the grammar of this sentence: "
)

const systemPrompt = `You are a grammar correction assistant.
Rewrite the sentence you are given so that it is grammatically correct English.
Keep the meaning, the wording and the tone as close to the original as possible.
Respond with the corrected sentence only: no explanations, no quotes, no labels.
If the sentence is already correct, respond with it unchanged.`

// Option configures a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(t float64) Option {
	return func(c *Corrector) { c.temperature = t }
}

// WithMaxTokens caps the reply length. Default: 512.
func WithMaxTokens(n int) Option {
	return func(c *Corrector) { c.maxTokens = n }
}

// WithSystemPrompt replaces the default instruction.
func WithSystemPrompt(p string) Option {
	return func(c *Corrector) { c.system = p }
}

// Corrector is a [correction.Client] backed by a language model.
type Corrector struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
	system      string
}

var _ correction.Client = (*Corrector)(nil)

// New returns a Corrector using provider.
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{
		llm:         provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		system:      systemPrompt,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the underlying provider name.
func (c *Corrector) Name() string { return "llm/" + c.llm.Name() }

// Correct implements [correction.Client].
func (c *Corrector) Correct(ctx context.Context, text string) (string, error) {
	if err := correction.Validate(text); err != nil {
		return "", err
	}

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: c.system,
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
		Messages: []llm.Message{
			{Role: "user", Content: userPromptPrefix + strings.TrimSpace(text)},
		},
	})
	if err != nil {
		var se *llm.StatusError
		if errors.As(err, &se) {
			return "", &correction.ServiceError{Backend: c.Name(), StatusCode: se.StatusCode, Err: err}
		}
		return "", correction.Unavailable(c.Name(), fmt.Errorf("complete: %w", err))
	}
	if resp == nil {
		return "", correction.ErrNoCorrectionReturned
	}

	out := cleanReply(resp.Content)
	if out == "" {
		return "", correction.ErrNoCorrectionReturned
	}
	return out, nil
}

// replyLabels are prefixes some models put in front of the sentence.
var replyLabels = []string{
	"corrected sentence:",
	"corrected:",
	"correction:",
}

// cleanReply strips formatting the model was asked not to produce.
func cleanReply(s string) string {
	s = strings.TrimSpace(s)
	for _, fence := range []string{"```text", "```"} {
		if after, ok := strings.CutPrefix(s, fence); ok {
			s = after
			break
		}
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, "```"))

	lower := strings.ToLower(s)
	for _, label := range replyLabels {
		if strings.HasPrefix(lower, label) {
			s = strings.TrimSpace(s[len(label):])
			break
		}
	}

	if len(s) >= 2 {
		for _, q := range [][2]string{{`"`, `"`}, {"“", "”"}, {"'", "'"}} {
			if strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) && len(s) > len(q[0])+len(q[1]) {
				s = strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
				break
			}
		}
	}
	return s
}
