package openrouter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/robinglory/lingo-core/core/llms"
)

func testConfig(endpoint string) llms.ProviderConfig {
	return llms.ProviderConfig{
		Name:           "test",
		Model:          "test/model",
		Endpoint:       endpoint,
		APIKey:         "key",
		RequestTimeout: 2 * time.Second,
	}
}

func sseHandler(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
	}
}

func collect(t *testing.T, stream llms.Stream) ([]llms.TextIncrement, error) {
	t.Helper()

	var increments []llms.TextIncrement
	for increment, err := range stream.Increments(context.Background()) {
		if err != nil {
			return increments, err
		}
		increments = append(increments, increment)
	}
	return increments, nil
}

func TestStreamYieldsOrderedIncrements(t *testing.T) {
	server := httptest.NewServer(sseHandler(
		`{"choices":[{"delta":{"content":"Hello"}}]}`,
		`{"choices":[{"delta":{"content":" there"}}]}`,
		endMessage,
	))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	increments, err := collect(t, client.Stream(context.Background(), llms.Request{Prompt: "hi"}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(increments) != 2 {
		t.Fatalf("expected 2 increments, got %d", len(increments))
	}
	if increments[0].Content != "Hello" || increments[1].Content != " there" {
		t.Fatalf("unexpected increment contents: %q, %q", increments[0].Content, increments[1].Content)
	}
	if increments[0].Seq != 0 || increments[1].Seq != 1 {
		t.Fatalf("expected sequence numbers 0,1, got %d,%d", increments[0].Seq, increments[1].Seq)
	}
	if increments[0].Provider != "test" {
		t.Fatalf("expected increments tagged with provider name, got %q", increments[0].Provider)
	}
}

func TestStreamClassifiesAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	_, err := collect(t, client.Stream(context.Background(), llms.Request{Prompt: "hi"}))
	if err == nil {
		t.Fatal("expected an error for 401 response")
	}

	var providerErr *llms.ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected a ProviderError, got %T", err)
	}
	if providerErr.Kind != llms.ErrKindAuth {
		t.Fatalf("expected auth error kind, got %s", providerErr.Kind)
	}
}

func TestStreamClassifiesRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	_, err := collect(t, client.Stream(context.Background(), llms.Request{Prompt: "hi"}))
	if llms.Classify(err) != llms.ErrKindRateLimited {
		t.Fatalf("expected rate limited classification, got %s", llms.Classify(err))
	}
}

func TestStreamSendsHistoryAndPrompt(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		body = string(buf[:n])
		sseHandler(endMessage)(w, r)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	_, err := collect(t, client.Stream(context.Background(), llms.Request{
		Prompt:       "continue",
		Instructions: "You are Lingo.",
		History: []llms.Turn{
			{Role: llms.RoleUser, Content: "hello"},
			{Role: llms.RoleAssistant, Content: "hi there"},
		},
	}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	for _, fragment := range []string{`"system"`, `"You are Lingo."`, `"hello"`, `"hi there"`, `"continue"`, `"stream":true`} {
		if !strings.Contains(body, fragment) {
			t.Fatalf("expected request body to contain %s, got %s", fragment, body)
		}
	}
}
