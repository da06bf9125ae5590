package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func TestOpenAILanguageModel(t *testing.T) {
	t.Parallel()

	var gotAuth, gotPath string
	var gotBody struct {
		Model    string `json:"model"`
		Stream   bool   `json:"stream"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "llama3-70b-8192",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": " Happy to help! "},
				"finish_reason": "stop"
			}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`)
	}))
	defer srv.Close()

	m := NewOpenAILanguageModel(srv.URL+"/openai/v1", "", nil)
	got, err := m.Complete(context.Background(), "gsk_1", Prompt{System: "be brief", User: "hello"})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	if got != "Happy to help!" {
		t.Errorf("Complete() = %q", got)
	}
	if gotAuth != "Bearer gsk_1" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/openai/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody.Model != DefaultModel || gotBody.Stream {
		t.Errorf("model=%q stream=%v", gotBody.Model, gotBody.Stream)
	}
	if len(gotBody.Messages) != 2 ||
		gotBody.Messages[0].Role != "system" || gotBody.Messages[0].Content != "be brief" ||
		gotBody.Messages[1].Role != "user" || gotBody.Messages[1].Content != "hello" {
		t.Errorf("messages = %+v", gotBody.Messages)
	}
}

func TestOpenAILanguageModelError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Invalid API Key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	m := NewOpenAILanguageModel(srv.URL, "", nil)
	if _, err := m.Complete(context.Background(), "bad", Prompt{User: "x"}); err == nil {
		t.Fatal("expected error for 401")
	}
}

func TestGeminiResponseText(t *testing.T) {
	t.Parallel()

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("Hi "), genai.Text("there ")}}},
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("ignored")}}},
		},
	}
	if got := responseText(resp); got != "Hi there" {
		t.Errorf("responseText() = %q, want %q", got, "Hi there")
	}
	if got := responseText(&genai.GenerateContentResponse{}); got != "" {
		t.Errorf("responseText(empty) = %q", got)
	}
}
