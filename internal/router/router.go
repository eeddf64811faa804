// Package router arbitrates between the two reasoning backends: a default
// conversational backend and a deep-reasoning backend selected by a keyword
// heuristic. A transient failure in the chosen backend triggers exactly one
// fallback to the other, restarting the turn from the beginning.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kalambet/aide/internal/backend"
)

// ErrNoBackend is returned when no reasoning backend is configured.
var ErrNoBackend = errors.New("no reasoning backend available")

// deepReasoningKeywords routes analysis-style requests to the
// deep-reasoning backend.
var deepReasoningKeywords = []string{"analyze", "analyse", "compare", "evaluate", "synthesize"}

// Router selects a backend per turn and performs single-level fallback.
// Either backend may be nil.
type Router struct {
	conversational backend.Backend
	deep           backend.Backend
}

// New creates a Router over the two backends. Pass nil for a backend that
// is not configured.
func New(conversational, deep backend.Backend) *Router {
	return &Router{conversational: conversational, deep: deep}
}

// RequiresDeepReasoning reports whether the input should be routed to the
// deep-reasoning backend.
func RequiresDeepReasoning(input string) bool {
	lower := strings.ToLower(input)
	for _, kw := range deepReasoningKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Run streams one turn: it picks a backend for the input, collects the
// complete fragment sequence, and returns it together with the name of the
// backend that produced it. Fragments are collected in full before being
// returned so that a mid-stream failure and fallback never surface a
// truncated-then-restarted response to the caller.
func (r *Router) Run(ctx context.Context, input string, messages []backend.Message) ([]string, string, error) {
	primary, secondary := r.order(input)
	if primary == nil && secondary == nil {
		return nil, "", ErrNoBackend
	}
	if primary == nil {
		primary, secondary = secondary, nil
	}

	fragments, err := collect(ctx, primary, messages)
	if err == nil {
		return fragments, primary.Name(), nil
	}
	if ctx.Err() != nil {
		return nil, "", err
	}

	if secondary == nil {
		return nil, "", fmt.Errorf("backend %s failed: %w", primary.Name(), err)
	}

	slog.Warn("backend failed, falling back", "backend", primary.Name(), "fallback", secondary.Name(), "error", err)
	fragments, fbErr := collect(ctx, secondary, messages)
	if fbErr != nil {
		return nil, "", fmt.Errorf("both backends failed: %s: %v; %s: %w",
			primary.Name(), err, secondary.Name(), fbErr)
	}
	return fragments, secondary.Name(), nil
}

// order returns the backend chosen for this input first and the fallback
// second.
func (r *Router) order(input string) (backend.Backend, backend.Backend) {
	if RequiresDeepReasoning(input) && r.deep != nil {
		return r.deep, r.conversational
	}
	return r.conversational, r.deep
}

// collect drains a backend's stream into an ordered fragment slice.
func collect(ctx context.Context, b backend.Backend, messages []backend.Message) ([]string, error) {
	ts, err := b.Stream(ctx, messages)
	if err != nil {
		return nil, err
	}
	defer ts.Close()

	var fragments []string
	for {
		frag, err := ts.Recv()
		if err == io.EOF {
			return fragments, nil
		}
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, frag)
	}
}
