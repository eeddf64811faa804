// Package profile extracts user-specific facts from arbitrary text and
// merges them into the persistent structured profile. Both model calls
// tolerate malformed responses: on any parse failure the profile is
// returned unchanged and no insight is produced.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/aide/internal/backend"
	"github.com/kalambet/aide/internal/storage"
)

// Store defines the storage operations the Reconciler needs.
// Implemented by storage.Store.
type Store interface {
	GetProfile() (storage.Profile, error)
	ReplaceProfile(structured, journalEntry string) error
	ClearProfile() error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Reconciler runs the two-phase extraction/merge workflow against the
// conversational backend and persists accepted updates.
type Reconciler struct {
	store Store
	chat  backend.Chatter
	clock Clock

	// minConfidence is an advisory floor: extractions below it are skipped.
	// Zero accepts everything the model flags as relevant.
	minConfidence float64
}

// NewReconciler creates a Reconciler using the given store and chat backend.
func NewReconciler(store Store, chat backend.Chatter, minConfidence float64) *Reconciler {
	return &Reconciler{
		store:         store,
		chat:          chat,
		clock:         realClock{},
		minConfidence: minConfidence,
	}
}

// NewReconcilerWithClock creates a Reconciler with a custom clock (for testing).
func NewReconcilerWithClock(store Store, chat backend.Chatter, minConfidence float64, clock Clock) *Reconciler {
	r := NewReconciler(store, chat, minConfidence)
	r.clock = clock
	return r
}

// Current returns the current structured profile document. A missing or
// unreadable document yields an empty one.
func (r *Reconciler) Current() map[string]any {
	p, err := r.store.GetProfile()
	if err != nil {
		if err != storage.ErrNotFound {
			slog.Warn("loading profile", "error", err)
		}
		return map[string]any{}
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(p.Structured), &doc); err != nil {
		slog.Warn("malformed structured profile, treating as empty", "error", err)
		return map[string]any{}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc
}

// Clear truncates both the journal and the structured document.
func (r *Reconciler) Clear() error {
	return r.store.ClearProfile()
}

// ProcessInput runs extraction and, when relevant facts are found, merge and
// persistence. It returns the resulting profile document and a
// human-readable insight for optional disclosure; the insight is empty when
// nothing was learned. Model or parse failures never propagate: the current
// profile is returned unchanged.
func (r *Reconciler) ProcessInput(ctx context.Context, input string, src Source) (map[string]any, string) {
	current := r.Current()
	if strings.TrimSpace(input) == "" {
		return current, ""
	}

	ext, ok := r.extract(ctx, input, src)
	if !ok || !ext.HasRelevantInfo {
		return current, ""
	}
	if ext.Confidence < r.minConfidence {
		slog.Debug("extraction below confidence floor, skipping",
			"confidence", ext.Confidence, "floor", r.minConfidence)
		return current, ""
	}

	merged, insight, ok := r.merge(ctx, current, ext)
	if !ok {
		return current, ""
	}

	now := r.clock.Now().UTC()
	meta, _ := merged["_meta"].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["last_updated"] = now.Format(time.RFC3339)
	meta["last_update_type"] = string(src)
	meta["last_update_confidence"] = ext.Confidence
	merged["_meta"] = meta

	structured, err := json.Marshal(merged)
	if err != nil {
		slog.Error("marshaling merged profile", "error", err)
		return current, ""
	}
	entry := fmt.Sprintf("\n\n--- %s (%s) ---\n%s", src.label(), now.Format(time.RFC3339), input)
	if err := r.store.ReplaceProfile(string(structured), entry); err != nil {
		// The merged document is still returned; persistence failure does
		// not abort the turn.
		slog.Error("persisting profile", "error", err)
	}

	return merged, insight
}

func (r *Reconciler) extract(ctx context.Context, input string, src Source) (extraction, bool) {
	raw, err := r.chat.Chat(ctx, buildExtractionMessages(input, src), extractionSchema())
	if err != nil {
		slog.Warn("profile extraction chat failed", "error", err)
		return extraction{}, false
	}

	var ext extraction
	if err := json.Unmarshal([]byte(stripFences(raw)), &ext); err != nil {
		slog.Warn("failed to unmarshal extraction response", "error", err, "response", raw)
		return extraction{}, false
	}
	return ext, true
}

func (r *Reconciler) merge(ctx context.Context, current map[string]any, ext extraction) (map[string]any, string, bool) {
	messages, err := buildMergeMessages(current, ext.ExtractedInfo, ext.Confidence)
	if err != nil {
		slog.Warn("building merge prompt", "error", err)
		return nil, "", false
	}

	raw, err := r.chat.Chat(ctx, messages, mergeSchema())
	if err != nil {
		slog.Warn("profile merge chat failed", "error", err)
		return nil, "", false
	}

	var res mergeResult
	if err := json.Unmarshal([]byte(stripFences(raw)), &res); err != nil {
		slog.Warn("failed to unmarshal merge response", "error", err, "response", raw)
		return nil, "", false
	}
	if res.Profile == nil {
		slog.Warn("merge response missing profile document")
		return nil, "", false
	}
	return res.Profile, res.Insight, true
}

// stripFences extracts the JSON object from a response that may wrap it in
// markdown code fences or surrounding prose.
func stripFences(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start == -1 || end <= start {
		return raw
	}
	return raw[start : end+1]
}

// maxSummaryChars caps the summary to stay under ~500 tokens (4 chars/token).
const maxSummaryChars = 2000

// Summary returns a compact string rendering of the profile suitable for
// injection into a system prompt.
func (r *Reconciler) Summary() string {
	return summarize(r.Current())
}

func summarize(doc map[string]any) string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		if k == "_meta" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "User profile: not yet configured."
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		if v := renderValue(doc[k]); v != "" {
			parts = append(parts, fmt.Sprintf("%s: %s.", k, v))
		}
	}
	if len(parts) == 0 {
		return "User profile: not yet configured."
	}

	summary := strings.Join(parts, " ")
	if len(summary) > maxSummaryChars {
		// Ensure we don't split a multi-byte UTF-8 character.
		end := maxSummaryChars
		for end > 0 && !utf8.RuneStart(summary[end]) {
			end--
		}
		if idx := strings.LastIndex(summary[:end], " "); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:end]
		}
	}
	return summary
}

func renderValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		items := make([]string, 0, len(val))
		for _, item := range val {
			if s := renderValue(item); s != "" {
				items = append(items, s)
			}
		}
		return strings.Join(items, ", ")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := renderValue(val[k]); s != "" {
				pairs = append(pairs, k+"="+s)
			}
		}
		return strings.Join(pairs, ", ")
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", val), "0"), ".")
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
