package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qiangli/mychat/api"
	"github.com/qiangli/mychat/llm"
)

var binarySearchLines = []string{
	`{"model":"llama3.2","message":{"role":"assistant","content":"Binary"},"done":false}`,
	``,
	`{"model":"llama3.2","message":{"role":"assistant","content":" search"},"done":false}`,
	`{"model":"llama3.2","done":true}`,
}

func newServer(t *testing.T, hits *int32, stream []string, complete string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/chat" {
			t.Errorf("expected path /api/chat, got %s", r.URL.Path)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if body["model"] != "llama3.2" {
			t.Errorf("expected model llama3.2, got %v", body["model"])
		}

		if body["stream"] == true {
			w.Header().Set("Content-Type", "application/x-ndjson")
			for _, line := range stream {
				fmt.Fprintln(w, line)
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"model":"llama3.2","message":{"role":"assistant","content":%q},"done":true}`, complete)
	}))
}

func newClient(t *testing.T, baseUrl string) *Client {
	t.Helper()
	c, err := New(&api.ProviderConfig{BaseUrl: baseUrl + "/api/chat", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func messages() []*api.Message {
	return []*api.Message{
		api.SystemMessage("You are terse."),
		api.UserMessage("What is binary search?"),
	}
}

func TestChatStreamStopsAtDone(t *testing.T) {
	var hits int32
	server := newServer(t, &hits, binarySearchLines, "")
	defer server.Close()

	c := newClient(t, server.URL)
	resp, err := c.Chat(context.Background(), &llm.Request{Messages: messages(), Stream: true})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !resp.IsStream() {
		t.Fatalf("expected a streaming response")
	}

	var got []string
	for resp.Stream.Next() {
		got = append(got, resp.Stream.Text())
	}
	if err := resp.Stream.Err(); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(got) != 2 || got[0] != "Binary" || got[1] != " search" {
		t.Fatalf("unexpected fragments %q", got)
	}
	if strings.Join(got, "") != "Binary search" {
		t.Errorf("unexpected text %q", strings.Join(got, ""))
	}
	if hits != 1 {
		t.Errorf("expected exactly one request, got %d", hits)
	}
}

func TestChatStreamMatchesComplete(t *testing.T) {
	var hits int32
	server := newServer(t, &hits, binarySearchLines, "Binary search")
	defer server.Close()
	c := newClient(t, server.URL)

	complete, err := c.Chat(context.Background(), &llm.Request{Messages: messages()})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if complete.IsStream() {
		t.Fatalf("expected a complete response")
	}
	streamed, err := c.Chat(context.Background(), &llm.Request{Messages: messages(), Stream: true})
	if err != nil {
		t.Fatalf("Chat stream: %v", err)
	}
	text, err := streamed.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if text != complete.Content {
		t.Errorf("stream %q != complete %q", text, complete.Content)
	}
}

func TestChatOptionsMerged(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"ok"},"done":true}`)
	}))
	defer server.Close()
	c := newClient(t, server.URL)

	_, err := c.Chat(context.Background(), &llm.Request{
		Messages: messages(),
		Options:  api.Options{"keep_alive": "5m", "options": map[string]any{"temperature": 0.1}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got["keep_alive"] != "5m" {
		t.Errorf("expected keep_alive merged, got %v", got)
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %v", got["messages"])
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" {
		t.Errorf("message order not preserved: %v", msgs)
	}

	_, err = c.Chat(context.Background(), &llm.Request{Messages: messages(), Options: api.Options{"stream": true}})
	if !api.IsConfigurationError(err) {
		t.Errorf("reserved option should be rejected, got %v", err)
	}
}

func TestChatAbandonReleasesConnection(t *testing.T) {
	released := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"content":"first"},"done":false}`)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(released)
	}))
	defer server.Close()
	c := newClient(t, server.URL)

	resp, err := c.Chat(context.Background(), &llm.Request{Messages: messages(), Stream: true})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !resp.Stream.Next() || resp.Stream.Text() != "first" {
		t.Fatalf("expected first fragment")
	}
	if err := resp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("connection not released after abandoning the stream")
	}
	if resp.Stream.Next() {
		t.Errorf("abandoned stream yielded a fragment")
	}
	if resp.Stream.Err() != nil {
		t.Errorf("abandoning must not raise, got %v", resp.Stream.Err())
	}
}

func TestChatStreamErrors(t *testing.T) {
	tests := []struct {
		name      string
		lines     []string
		retryable bool
	}{
		{"malformed frame", []string{`{"message":{"content":"a"}}`, `{not json`}, true},
		{"truncated", []string{`{"message":{"content":"a"}}`}, true},
		{"in-band error", []string{`{"message":{"content":"a"}}`, `{"error":"model crashed"}`}, false},
		{"oversized frame", []string{`{"message":{"content":"a"}}`, `{"message":{"content":"` + strings.Repeat("x", maxLineSize) + `"}}`}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var hits int32
			server := newServer(t, &hits, tc.lines, "")
			defer server.Close()
			c := newClient(t, server.URL)

			resp, err := c.Chat(context.Background(), &llm.Request{Messages: messages(), Stream: true})
			if err != nil {
				t.Fatalf("first fragment should arrive before the failure: %v", err)
			}
			text, err := resp.Text()
			if text != "a" {
				t.Errorf("expected partial text, got %q", text)
			}
			if !api.IsProviderError(err) {
				t.Fatalf("expected provider error at iteration, got %v", err)
			}
			if got := api.IsRetryable(err); got != tc.retryable {
				t.Errorf("retryable = %v, want %v (%v)", got, tc.retryable, err)
			}
		})
	}
}

func TestChatStatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, `{"error":"model \"nope\" not found"}`)
			}))
			defer server.Close()
			c := newClient(t, server.URL)

			for _, stream := range []bool{false, true} {
				_, err := c.Chat(context.Background(), &llm.Request{Messages: messages(), Stream: stream})
				if !api.IsProviderError(err) {
					t.Fatalf("expected provider error, got %v", err)
				}
				if api.IsRetryable(err) != tc.retryable {
					t.Errorf("stream=%v retryable = %v, want %v", stream, api.IsRetryable(err), tc.retryable)
				}
				if !strings.Contains(err.Error(), "not found") {
					t.Errorf("expected daemon message, got %q", err.Error())
				}
			}
		})
	}
}

func TestChatTimeoutIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"content":"a"},"done":false}`)
		w.(http.Flusher).Flush()
		// stall
		<-r.Context().Done()
	}))
	defer server.Close()

	c, err := New(&api.ProviderConfig{BaseUrl: server.URL + "/api/chat", Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	resp, err := c.Chat(context.Background(), &llm.Request{Messages: messages(), Stream: true})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	_, err = resp.Text()
	if !api.IsRetryable(err) {
		t.Fatalf("stall beyond the deadline should be retryable, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"message":{"content":"ok"},"done":true}`)
	}))
	defer server.Close()

	c, err := New(&api.ProviderConfig{BaseUrl: server.URL + "/api/chat", ApiKey: "tok"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	if _, err := c.Chat(context.Background(), &llm.Request{Messages: messages()}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if auth != "Bearer tok" {
		t.Errorf("expected bearer token, got %q", auth)
	}
}

func TestNewDefaultsAndValidation(t *testing.T) {
	c, err := New(&api.ProviderConfig{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.cfg.BaseUrl != DefaultBaseUrl || c.cfg.Model != DefaultModel || c.cfg.Timeout != DefaultTimeout {
		t.Errorf("defaults not applied: %+v", c.cfg)
	}

	if _, err := New(&api.ProviderConfig{BaseUrl: "localhost"}); !api.IsConfigurationError(err) {
		t.Errorf("expected configuration error for invalid endpoint, got %v", err)
	}
}

func TestInvalidRequestMakesNoCall(t *testing.T) {
	var hits int32
	server := newServer(t, &hits, nil, "")
	defer server.Close()
	c := newClient(t, server.URL)

	_, err := c.Chat(context.Background(), &llm.Request{})
	if !api.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if hits != 0 {
		t.Errorf("expected no outbound call, got %d", hits)
	}
}

func TestChatCancelStalledStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"content":"first"},"done":false}`)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()
	c := newClient(t, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp, err := c.Chat(ctx, &llm.Request{Messages: messages(), Stream: true})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	defer resp.Close()
	if !resp.Stream.Next() {
		t.Fatalf("expected first fragment")
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan bool)
	go func() {
		done <- resp.Stream.Next()
	}()
	select {
	case more := <-done:
		if more {
			t.Errorf("canceled stream yielded a fragment")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not unblock the stalled stream")
	}
	err = resp.Stream.Err()
	if !api.IsRetryable(err) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected retryable cancellation, got %v", err)
	}
}
