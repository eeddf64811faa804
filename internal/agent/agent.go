// Package agent runs conversational turns: it routes input to a reasoning
// backend, classifies the resulting fragment stream into prose and
// directives, dispatches the directives in order, and reconciles the user
// profile opportunistically. One turn is a sequential pipeline; turns on
// the same conversation are serialized, and concurrent turns on distinct
// conversations share nothing but the store.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/aide/internal/backend"
	"github.com/kalambet/aide/internal/composer"
	"github.com/kalambet/aide/internal/dispatch"
	"github.com/kalambet/aide/internal/profile"
	"github.com/kalambet/aide/internal/router"
	"github.com/kalambet/aide/internal/storage"
	"github.com/kalambet/aide/internal/stream"
)

// Store defines the storage operations the Agent needs beyond what its
// collaborators hold themselves. Implemented by storage.Store.
type Store interface {
	ListTasks() ([]storage.Task, error)
	ListTasksByUrgency(urgency int) ([]storage.Task, error)
	SaveConversation(c storage.Conversation) error
}

// Conversation is the caller-held rolling state of one chat session. The
// core does not own it; each turn reads and extends it. Process holds mu
// for the whole turn, so callers may share one Conversation across
// goroutines without further locking.
type Conversation struct {
	mu      sync.Mutex
	History []backend.Message
	Tasks   dispatch.Context
}

// remember appends one exchange, trimming the window to bound prompt growth.
func (c *Conversation) remember(input, response string, maxHistory int) {
	c.History = append(c.History,
		backend.Message{Role: "user", Content: input},
		backend.Message{Role: "assistant", Content: response},
	)
	if len(c.History) > maxHistory {
		c.History = c.History[len(c.History)-maxHistory:]
	}
}

// Config tunes agent behavior.
type Config struct {
	// MaxBatchTasks and MaxBatchSize bound debrief batches.
	MaxBatchTasks int
	MaxBatchSize  int
	// DiscloseInsights appends profile insights to responses when set.
	DiscloseInsights bool
}

func (c Config) withDefaults() Config {
	if c.MaxBatchTasks <= 0 {
		c.MaxBatchTasks = 10
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 2000
	}
	return c
}

// Agent is the orchestration context for conversational turns. All
// dependencies are injected; there is no process-wide state.
type Agent struct {
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	reconciler *profile.Reconciler // optional
	composer   *composer.Composer
	store      Store
	summarizer backend.Chatter // optional; debrief summaries
	cfg        Config
}

// New creates an Agent. reconciler and summarizer may be nil; the
// corresponding features degrade gracefully.
func New(rt *router.Router, disp *dispatch.Dispatcher, rec *profile.Reconciler, comp *composer.Composer, store Store, summarizer backend.Chatter, cfg Config) *Agent {
	return &Agent{
		router:     rt,
		dispatcher: disp,
		reconciler: rec,
		composer:   comp,
		store:      store,
		summarizer: summarizer,
		cfg:        cfg.withDefaults(),
	}
}

// Process runs one conversational turn and returns the assembled visible
// response. Only backend unavailability or total backend failure is fatal;
// directive and profile processing failures degrade to annotations or are
// logged.
func (a *Agent) Process(ctx context.Context, input string, conv *Conversation) (string, error) {
	conv.mu.Lock()
	defer conv.mu.Unlock()

	var profileSummary string
	if a.reconciler != nil {
		profileSummary = a.reconciler.Summary()
	}

	tasks, err := a.store.ListTasks()
	if err != nil {
		slog.Warn("listing tasks for turn context", "error", err)
	}

	messages := a.composer.BuildTurn(profileSummary, tasks, conv.History, input)

	fragments, model, err := a.router.Run(ctx, input, messages)
	if err != nil {
		return "", err
	}

	// Classify the stream: visible prose out, directives collected in
	// arrival order.
	var buf stream.Buffer
	var visible strings.Builder
	for _, frag := range fragments {
		visible.WriteString(buf.Feed(frag))
	}
	visible.WriteString(buf.Flush())

	response := strings.TrimSpace(visible.String())

	// Dispatch directives strictly in order; annotations append after the
	// prose in dispatch order.
	for _, note := range a.dispatcher.DispatchAll(ctx, buf.Directives(), &conv.Tasks) {
		if response != "" {
			response += "\n\n"
		}
		response += note
	}

	// Opportunistic profile reconciliation on the user's input. Failures
	// never affect the response.
	if a.reconciler != nil {
		_, insight := a.reconciler.ProcessInput(ctx, input, profile.SourceConversation)
		if insight != "" && a.cfg.DiscloseInsights {
			response += "\n\n" + insight
		}
	}

	if err := a.store.SaveConversation(storage.Conversation{
		ID:            uuid.New().String(),
		UserInput:     input,
		AgentResponse: response,
		ModelUsed:     model,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		slog.Warn("saving conversation", "error", err)
	}

	conv.remember(input, response, 2*a.composer.MaxHistory)
	return response, nil
}
