package backend

import (
	"context"
	"fmt"
	"io"
	"time"
)

// EnsureOllamaReady checks that Ollama is reachable and the configured model
// is available, then warms the model up so the first conversational turn
// doesn't pay the cold-load penalty. Returns a non-nil error if Ollama is
// unreachable or the model is missing.
func EnsureOllamaReady(ctx context.Context, c *Ollama, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return fmt.Errorf("Ollama is not running. Start it with: ollama serve")
	}

	if !c.HasModel(ctx) {
		return fmt.Errorf("model for %s is not available. Pull it with: ollama pull", c.Name())
	}
	fmt.Fprintf(w, "%s: ready\n", c.Name())

	// Warm up with a trivial chat request so the model stays loaded for
	// low-latency deep-reasoning turns.
	fmt.Fprintf(w, "%s: warming up...\n", c.Name())
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := c.Chat(warmCtx, []Message{
		{Role: "user", Content: "ping"},
	}, nil)
	if err != nil {
		fmt.Fprintf(w, "%s: warm-up failed (non-fatal): %v\n", c.Name(), err)
	} else {
		fmt.Fprintf(w, "%s: warm\n", c.Name())
	}

	return nil
}
