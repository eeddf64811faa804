// Package stream separates user-visible prose from embedded action
// directives in an incrementally produced fragment stream. The Buffer is a
// pure state machine with no goroutines or I/O, so turns can be abandoned
// at any fragment boundary and the classifier is testable without a live
// backend.
package stream

import (
	"strings"

	"github.com/kalambet/aide/internal/directive"
)

// Buffer consumes ordered text fragments and splits them into visible text
// and completed directives, preserving arrival order. A candidate directive
// is withheld from visible output only while it can still complete; text
// that turns out not to be a directive is always surfaced.
type Buffer struct {
	pending    string
	directives []directive.Directive
}

// Feed appends one fragment and returns any visible text released by it.
// Completed directives are accumulated and available via Directives.
func (b *Buffer) Feed(fragment string) string {
	b.pending += fragment

	var visible strings.Builder
	for b.pending != "" {
		open := strings.IndexByte(b.pending, '[')
		if open != 0 {
			// Everything before the next bracket (or the whole buffer) is
			// plain prose.
			if open == -1 {
				visible.WriteString(b.pending)
				b.pending = ""
				break
			}
			visible.WriteString(b.pending[:open])
			b.pending = b.pending[open:]
			continue
		}

		close := strings.IndexByte(b.pending, ']')
		if close == -1 {
			// Accumulating: a directive may still complete on a later
			// fragment.
			break
		}

		candidate := b.pending[:close+1]
		remainder := b.pending[close+1:]
		if d, ok := directive.Parse(candidate); ok {
			b.directives = append(b.directives, d)
			b.pending = remainder
			continue
		}

		// Not a directive: the bracketed text is ordinary prose. Surface
		// it up to any bracket nested inside the candidate, which may open
		// a real directive (e.g. "[x [ACTION:...]"), and keep classifying.
		if nested := strings.IndexByte(candidate[1:], '['); nested != -1 {
			visible.WriteString(candidate[:nested+1])
			b.pending = candidate[nested+1:] + remainder
			continue
		}
		visible.WriteString(candidate)
		b.pending = remainder
	}

	return visible.String()
}

// Flush returns any residual buffered text at end of stream. A backend may
// terminate mid-bracket; whatever is left must be shown to the user, never
// silently dropped.
func (b *Buffer) Flush() string {
	residue := b.pending
	b.pending = ""
	return residue
}

// Directives returns the completed directives in arrival order.
func (b *Buffer) Directives() []directive.Directive {
	return b.directives
}
