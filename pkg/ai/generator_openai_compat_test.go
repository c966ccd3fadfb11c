package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAICompatGenerateText(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "  summary text  "}},
			},
		})
	}))
	defer srv.Close()

	g := NewOpenAICompatGenerator(srv.URL+"/v1", "sk-test", "gpt-4o-mini")
	out, err := g.GenerateText(context.Background(), "you summarize chats", "summarize this")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if out != "summary text" {
		t.Fatalf("unexpected output %q", out)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages: %+v", gotReq.Messages)
	}
}

func TestOpenAICompatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "rate limited", "type": "rate_limit"},
		})
	}))
	defer srv.Close()

	g := NewOpenAICompatGenerator(srv.URL+"/v1", "", "gpt-4o-mini")
	if _, err := g.GenerateText(context.Background(), "", "hello"); err == nil {
		t.Fatal("expected api error")
	}
}

func TestOpenAICompatRequiresModel(t *testing.T) {
	g := NewOpenAICompatGenerator("http://localhost:9/v1", "", "")
	if _, err := g.GenerateText(context.Background(), "", "hello"); err == nil {
		t.Fatal("expected missing model error")
	}
}
