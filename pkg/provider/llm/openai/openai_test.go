package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/voxfix/pkg/provider/llm"
)

const completionJSON = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 0,
  "model": "gpt-4o-mini",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "He went home."}}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
}`

// fakeAPI serves /v1/chat/completions and records the last request body.
func fakeAPI(t *testing.T, status int, body string, got *map[string]any) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got != nil {
			_ = json.NewDecoder(r.Body).Decode(got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestComplete(t *testing.T) {
	t.Parallel()

	var sent map[string]any
	ts := fakeAPI(t, http.StatusOK, completionJSON, &sent)
	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(ts.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "Fix grammar.",
		Messages:     []llm.Message{{Role: "user", Content: "He go home"}},
		MaxTokens:    32,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "He went home." || resp.Usage.TotalTokens != 16 {
		t.Errorf("response = %+v", resp)
	}

	if sent["model"] != "gpt-4o-mini" {
		t.Errorf("model sent = %v", sent["model"])
	}
	msgs, _ := sent["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages sent = %v", sent["messages"])
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message = %v", msgs[0])
	}
	if _, ok := sent["temperature"]; ok {
		t.Error("temperature sent for zero value")
	}
}

func TestComplete_StatusError(t *testing.T) {
	t.Parallel()

	ts := fakeAPI(t, http.StatusTooManyRequests, `{"error": {"message": "slow down", "type": "rate_limit_exceeded"}}`, nil)
	p, _ := New("sk-test", "gpt-4o-mini", WithBaseURL(ts.URL+"/v1/"))

	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	var se *llm.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if se.StatusCode != http.StatusTooManyRequests || se.Provider != "openai/gpt-4o-mini" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestParams_UnknownRole(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o-mini"}
	if _, err := p.params(llm.CompletionRequest{Messages: []llm.Message{{Role: "narrator", Content: "x"}}}); err == nil {
		t.Error("params accepted an unknown role")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("New accepted an empty api key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("New accepted an empty model")
	}
	p, err := New("sk-test", "gpt-4o", WithOrganization("org-1"), WithMaxRetries(1), WithHTTPClient(http.DefaultClient))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != "openai/gpt-4o" {
		t.Errorf("Name() = %q", p.Name())
	}
}
