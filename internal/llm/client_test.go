package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestCompleteSendsChatRequest(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  SELECT 1  "}}]}`))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL + "/", APIKey: "secret", Model: "test-model", Temperature: 0.2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	content, err := client.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "system"},
		{Role: RoleUser, Content: "user"},
	}, 256)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if content != "SELECT 1" {
		t.Fatalf("Complete() = %q", content)
	}
	if captured["model"] != "test-model" {
		t.Fatalf("model = %#v", captured["model"])
	}
	if captured["max_tokens"] != float64(256) {
		t.Fatalf("max_tokens = %#v", captured["max_tokens"])
	}
	messages, ok := captured["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("messages = %#v", captured["messages"])
	}
}

func TestCompleteReturnsStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(strings.Repeat("x", 2000)))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, 0)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Complete() error = %v, want StatusError", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests || !statusErr.Retryable() {
		t.Fatalf("StatusError = %#v", statusErr)
	}
	if len(statusErr.Body) > 520 {
		t.Fatalf("body was not truncated: %d bytes", len(statusErr.Body))
	}
}

func TestCompleteRejectsEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, 0); err == nil {
		t.Fatal("Complete() expected error for empty choices")
	}
}

func TestCompleteHonorsRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, APIKey: "secret", RequestsPerSecond: 0.001, Burst: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	messages := []Message{{Role: RoleUser, Content: "hi"}}
	if _, err := client.Complete(context.Background(), messages, 0); err != nil {
		t.Fatalf("first Complete() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.Complete(ctx, messages, 0); err == nil {
		t.Fatal("second Complete() expected rate limiter error")
	}
	if calls.Load() != 1 {
		t.Fatalf("server calls = %d, want 1", calls.Load())
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{APIKey: "k"}); err == nil {
		t.Fatal("New() expected base URL error")
	}
	if _, err := New(Config{BaseURL: "http://x"}); err == nil {
		t.Fatal("New() expected api key error")
	}
	client, err := New(Config{BaseURL: "http://x", APIKey: "k"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if client.Model() != "gpt-5" {
		t.Fatalf("Model() = %q", client.Model())
	}
}
