package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIProviderCollectsContentIDAndUsage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected auth header")
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream || req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			t.Errorf("expected streaming with usage")
		}
		if req.MaxTokens != 300 {
			t.Errorf("expected per-call max tokens, got %d", req.MaxTokens)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"chatcmpl-1\",\"choices\":[{\"delta\":{\"content\":\"Hello \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"id\":\"chatcmpl-1\",\"choices\":[{\"delta\":{\"content\":\"world\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"id\":\"chatcmpl-1\",\"choices\":[],\"usage\":{\"prompt_tokens\":12,\"completion_tokens\":2,\"total_tokens\":14}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	provider := NewOpenAIProvider(Config{
		APIURL:    server.URL,
		APIKey:    "test-key",
		Model:     "gpt-test",
		MaxTokens: 1000,
	})

	completion, err := Collect(context.Background(), provider, []Message{{Role: "user", Content: "hi"}}, Options{MaxTokens: 300})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if completion.Content != "Hello world" {
		t.Fatalf("unexpected content %q", completion.Content)
	}
	if completion.ID != "chatcmpl-1" {
		t.Fatalf("unexpected id %q", completion.ID)
	}
	if completion.Usage.TotalTokens != 14 {
		t.Fatalf("unexpected usage %+v", completion.Usage)
	}
}

func TestOpenAIProviderSurfacesHTTPErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	provider := NewOpenAIProvider(Config{APIURL: server.URL, Model: "gpt-test"})
	if _, err := Collect(context.Background(), provider, nil, Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenAIProviderRequiresModel(t *testing.T) {
	t.Parallel()

	provider := NewOpenAIProvider(Config{})
	if _, err := provider.Complete(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected missing model error")
	}
}

func TestNewProvider(t *testing.T) {
	t.Parallel()

	if _, err := NewProvider(Config{Provider: "ollama", Model: "llama3"}); err != nil {
		t.Fatalf("ollama: %v", err)
	}
	if _, err := NewProvider(Config{Provider: "mystery"}); err == nil {
		t.Fatal("expected unknown provider error")
	}
}

func TestOllamaProviderDefaultsURL(t *testing.T) {
	t.Parallel()

	p := NewOllamaProvider(Config{Model: "llama3"})
	if p.openai.apiURL != "http://localhost:11434/v1" {
		t.Fatalf("unexpected url %s", p.openai.apiURL)
	}
}
