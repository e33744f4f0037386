package workersai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ZXZCAT/bot-worker/pkg/config"
	"github.com/ZXZCAT/bot-worker/pkg/history"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	cfg := config.DefaultConfig().WorkersAI
	cfg.APIBase = ts.URL
	cfg.AccountID = "acct"
	cfg.APIToken = "token"
	return NewClient(cfg, "you are a test bot")
}

func TestChatCompleteNative(t *testing.T) {
	var gotReq chatRequest
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/ai/run/"+config.DefaultConfig().WorkersAI.ChatModel) {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("authorization: got %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"result": {"response": "  hello from the model  "}}`))
	}))

	got := c.ChatComplete(context.Background(), []history.Turn{
		{Role: history.RoleUser, Content: "hi"},
	})
	if got != "hello from the model" {
		t.Errorf("reply: got %q", got)
	}

	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("expected system prompt followed by turns, got %+v", gotReq.Messages)
	}
	if gotReq.Stream {
		t.Error("stream must be off")
	}
	if gotReq.MaxTokens != config.DefaultConfig().WorkersAI.MaxTokens {
		t.Errorf("max_tokens: got %d", gotReq.MaxTokens)
	}
}

func TestChatCompleteBareEnvelope(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response": "bare shape"}`))
	}))

	if got := c.ChatComplete(context.Background(), nil); got != "bare shape" {
		t.Errorf("reply: got %q", got)
	}
}

func TestChatCompleteBlankReplyFallsBack(t *testing.T) {
	// An answered request with nothing to say is not a failure: the backend
	// spoke, so the user gets the fallback token, not the outage notice.
	for _, body := range []string{
		`{"result": {"response": ""}}`,
		`{"result": {"response": "   "}}`,
		`{"response": ""}`,
	} {
		c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))

		if got := c.ChatComplete(context.Background(), nil); got != fallbackReply {
			t.Errorf("body %s: got %q, want fallback token %q", body, got, fallbackReply)
		}
	}
}

func testOpenAIClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	cfg := config.DefaultConfig().WorkersAI
	cfg.APIBase = ts.URL
	cfg.AccountID = "acct"
	cfg.APIToken = "token"
	cfg.APIFlavor = "openai"
	return NewClient(cfg, "you are a test bot")
}

func TestChatCompleteOpenAIFlavor(t *testing.T) {
	c := testOpenAIClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "compat reply"}}]}`))
	}))

	if got := c.ChatComplete(context.Background(), []history.Turn{
		{Role: history.RoleUser, Content: "hi"},
		{Role: history.RoleAssistant, Content: "hello"},
		{Role: history.RoleUser, Content: "again"},
	}); got != "compat reply" {
		t.Errorf("reply: got %q", got)
	}
}

func TestChatCompleteOpenAIEmptyContentFallsBack(t *testing.T) {
	c := testOpenAIClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": ""}}]}`))
	}))

	if got := c.ChatComplete(context.Background(), nil); got != fallbackReply {
		t.Errorf("expected fallback reply, got %q", got)
	}
}

func TestChatCompleteBackendErrorBecomesNotice(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))

	if got := c.ChatComplete(context.Background(), nil); got != ChatUnavailableNotice {
		t.Errorf("expected unavailability notice, got %q", got)
	}
}

func TestChatCompleteUnknownEnvelopeBecomesNotice(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"something": "else"}`))
	}))

	if got := c.ChatComplete(context.Background(), nil); got != ChatUnavailableNotice {
		t.Errorf("expected unavailability notice, got %q", got)
	}
}

func TestGenerateImageRawBytes(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', 0x00, 0x01}
	var gotReq imageRequest
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write(raw)
	}))

	b64, ok := c.GenerateImage(context.Background(), "a cat")
	if !ok {
		t.Fatal("expected success")
	}
	if b64 != base64.StdEncoding.EncodeToString(raw) {
		t.Errorf("unexpected base64 payload %q", b64)
	}

	if gotReq.Prompt != qualityBoost+"a cat" {
		t.Errorf("prompt: got %q", gotReq.Prompt)
	}
	if gotReq.NumSteps != config.DefaultConfig().WorkersAI.NumSteps {
		t.Errorf("num_steps: got %d", gotReq.NumSteps)
	}
}

func TestGenerateImageJSONEnvelope(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": {"image": "QUJD"}}`))
	}))

	b64, ok := c.GenerateImage(context.Background(), "a dog")
	if !ok {
		t.Fatal("expected success")
	}
	if b64 != "QUJD" {
		t.Errorf("base64: got %q", b64)
	}
}

func TestGenerateImageFailure(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))

	if _, ok := c.GenerateImage(context.Background(), "a fish"); ok {
		t.Error("expected failure")
	}
}

func TestGenerateImageEnvelopeWithoutPayload(t *testing.T) {
	for _, body := range []string{
		`{"result": {}}`,
		`{"result": {"image": ""}}`,
	} {
		c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))

		if _, ok := c.GenerateImage(context.Background(), "a bird"); ok {
			t.Errorf("body %s: expected failure", body)
		}
	}
}
