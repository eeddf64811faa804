package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaName(t *testing.T) {
	c := NewOllama("http://localhost:11434", "phi3.5")
	if c.Name() != "ollama/phi3.5" {
		t.Errorf("Name = %q", c.Name())
	}
}

func TestOllamaChat(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(chatResponse{
			Message: Message{Role: "assistant", Content: "pong"},
			Done:    true,
		})
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "testmodel")
	got, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "ping"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "pong" {
		t.Errorf("response = %q", got)
	}
	if gotReq.Model != "testmodel" || gotReq.Stream {
		t.Errorf("request = %+v", gotReq)
	}
	if gotReq.Format != nil {
		t.Errorf("format should be omitted without a schema, got %v", gotReq.Format)
	}
}

func TestOllamaChatWithSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["format"] == nil {
			t.Error("format missing from structured request")
		}
		json.NewEncoder(w).Encode(chatResponse{Message: Message{Content: `{"ok":true}`}, Done: true})
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "testmodel")
	schema := &Schema{Type: "object", Properties: map[string]SchemaProperty{"ok": {Type: "boolean"}}}
	got, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "x"}}, schema)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != `{"ok":true}` {
		t.Errorf("response = %q", got)
	}
}

func TestOllamaChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "missing")
	if _, err := c.Chat(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestOllamaStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunks := []chatResponse{
			{Message: Message{Content: "Hel"}},
			{Message: Message{Content: "lo"}},
			{Done: true},
		}
		enc := json.NewEncoder(w)
		for _, chunk := range chunks {
			enc.Encode(chunk)
		}
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "testmodel")
	ts, err := c.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer ts.Close()

	var out strings.Builder
	for {
		frag, err := ts.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		out.WriteString(frag)
	}
	if out.String() != "Hello" {
		t.Errorf("streamed = %q", out.String())
	}
}

func TestOllamaStreamFinalContent(t *testing.T) {
	// The terminal chunk may itself carry content; it must not be dropped.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"almost"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":" done"},"done":true}`)
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "testmodel")
	ts, err := c.Stream(context.Background(), nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer ts.Close()

	var out strings.Builder
	for {
		frag, err := ts.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		out.WriteString(frag)
	}
	if out.String() != "almost done" {
		t.Errorf("streamed = %q", out.String())
	}
}

func TestOllamaHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tagsResponse{Models: []modelEntry{
			{Name: "phi3.5:latest"},
			{Name: "nomic-embed-text:latest"},
		}})
	}))
	defer srv.Close()

	tests := []struct {
		model string
		want  bool
	}{
		{"phi3.5", true},
		{"phi3.5:latest", true},
		{"nomic-embed-text", true},
		{"mistral", false},
	}
	for _, tt := range tests {
		c := NewOllama(srv.URL, tt.model)
		if got := c.HasModel(context.Background()); got != tt.want {
			t.Errorf("HasModel(%s) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestOllamaIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	c := NewOllama(srv.URL, "m")
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning should be true")
	}
	srv.Close()
	if c.IsRunning(context.Background()) {
		t.Error("IsRunning should be false after server shutdown")
	}
}

func TestEnsureOllamaReadyNotRunning(t *testing.T) {
	c := NewOllama("http://127.0.0.1:1", "m")
	err := EnsureOllamaReady(context.Background(), c, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "not running") {
		t.Errorf("err = %v", err)
	}
}

func TestEnsureOllamaReadyMissingModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tagsResponse{Models: []modelEntry{{Name: "other:latest"}}})
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "wanted")
	err := EnsureOllamaReady(context.Background(), c, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "not available") {
		t.Errorf("err = %v", err)
	}
}
