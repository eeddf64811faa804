// Package backend provides the reasoning backends: opaque producers of
// incremental token-fragment streams. Two implementations are supplied, a
// cloud OpenRouter client and a local Ollama client; the router arbitrates
// between them.
package backend

import "context"

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the expected JSON output structure for structured chat
// responses.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// TokenStream yields the fragments of one response in order. Recv returns
// io.EOF after the final fragment. A stream may fail with a transient error
// at any point; callers must Close the stream when done with it.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Backend is a reasoning service producing an incremental fragment stream
// from a conversation.
type Backend interface {
	// Name identifies the backend for logging and conversation records.
	Name() string

	// Stream starts a completion and returns its fragment stream. It may
	// fail before iteration begins (connection errors, bad status) or the
	// returned stream may fail partway through.
	Stream(ctx context.Context, messages []Message) (TokenStream, error)
}

// Chatter is the non-streaming single-shot interface used for structured
// calls such as profile extraction and batch summaries. When schema is
// non-nil, structured JSON output is requested.
type Chatter interface {
	Chat(ctx context.Context, messages []Message, schema *Schema) (string, error)
}
