// Package dispatch validates completed directives and applies them as
// mutations against the task and profile stores. Dispatch never raises:
// failures surface as short visible annotations or are logged and dropped,
// and the conversational turn always proceeds.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/aide/internal/directive"
	"github.com/kalambet/aide/internal/profile"
	"github.com/kalambet/aide/internal/storage"
)

// TaskStore defines the task mutations the Dispatcher needs.
// Implemented by storage.Store. Conversational flows may only append
// to a description, never rewrite it.
type TaskStore interface {
	CreateTask(description string, urgency int, status storage.TaskStatus, alert string) (int64, error)
	GetTask(id int64) (storage.Task, error)
	SetTaskStatus(id int64, status storage.TaskStatus, alert string) error
	AppendTaskNotes(id int64, notes string) error
}

// ProfileUpdater applies profile directives. Implemented by
// profile.Reconciler.
type ProfileUpdater interface {
	ProcessInput(ctx context.Context, input string, src profile.Source) (map[string]any, string)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Context carries the caller-held conversational context used to resolve
// directives that arrive without an explicit task id. RecentTaskIDs lists
// tasks discussed this conversation, most recent first.
type Context struct {
	RecentTaskIDs []int64
}

// NoteTask records id as the most recently discussed task.
func (c *Context) NoteTask(id int64) {
	ids := make([]int64, 0, len(c.RecentTaskIDs)+1)
	ids = append(ids, id)
	for _, existing := range c.RecentTaskIDs {
		if existing != id {
			ids = append(ids, existing)
		}
	}
	c.RecentTaskIDs = ids
}

// Dispatcher applies directives in arrival order.
type Dispatcher struct {
	tasks    TaskStore
	profiles ProfileUpdater // optional
	clock    Clock
}

// New creates a Dispatcher. profiles may be nil, in which case profile
// directives are dropped with a warning.
func New(tasks TaskStore, profiles ProfileUpdater) *Dispatcher {
	return &Dispatcher{tasks: tasks, profiles: profiles, clock: realClock{}}
}

// NewWithClock creates a Dispatcher with a custom clock (for testing).
func NewWithClock(tasks TaskStore, profiles ProfileUpdater, clock Clock) *Dispatcher {
	d := New(tasks, profiles)
	d.clock = clock
	return d
}

// DispatchAll applies directives strictly in order and returns the visible
// annotations they produced, in dispatch order. Directives dropped for lack
// of a resolvable target produce no annotation.
func (d *Dispatcher) DispatchAll(ctx context.Context, dirs []directive.Directive, conv *Context) []string {
	var notes []string
	for _, dir := range dirs {
		if note := d.Dispatch(ctx, dir, conv); note != "" {
			notes = append(notes, note)
		}
	}
	return notes
}

// Dispatch applies one directive and returns a short confirmation or
// failure annotation, or "" when there is nothing to show.
func (d *Dispatcher) Dispatch(ctx context.Context, dir directive.Directive, conv *Context) string {
	id := dir.TaskID
	if dir.Kind.RequiresTarget() {
		var ok bool
		id, ok = d.resolveTarget(dir, conv)
		if !ok {
			slog.Warn("dropping directive with unresolvable target", "kind", dir.Kind, "raw", dir.Raw)
			return ""
		}
		conv.NoteTask(id)
	}

	switch dir.Kind {
	case directive.KindComplete:
		return d.complete(id)
	case directive.KindHelp:
		return d.help(id)
	case directive.KindRemind:
		return d.remind(id, dir.Payload)
	case directive.KindNotes, directive.KindDescription:
		return d.appendNotes(id, dir.Payload)
	case directive.KindCreateTask:
		return d.createTask(dir.Payload, conv)
	case directive.KindDraftEmail:
		return d.draftEmail(dir.Payload)
	case directive.KindExplore:
		// Exploration is driven by the model's own prose; nothing to apply.
		slog.Info("explore directive noted", "payload", dir.Payload)
		return ""
	case directive.KindProfile:
		return d.updateProfile(ctx, dir)
	}

	slog.Warn("unhandled directive kind", "kind", dir.Kind)
	return ""
}

// resolveTarget picks the task a targetless directive refers to: the most
// recently discussed task that is not yet completed. Ties between equally
// recent tasks resolve to the one noted last.
func (d *Dispatcher) resolveTarget(dir directive.Directive, conv *Context) (int64, bool) {
	if dir.HasTaskID {
		return dir.TaskID, true
	}
	for _, id := range conv.RecentTaskIDs {
		t, err := d.tasks.GetTask(id)
		if err != nil {
			if err != storage.ErrNotFound {
				slog.Warn("looking up candidate task", "task", id, "error", err)
			}
			continue
		}
		if t.Status != storage.StatusCompleted {
			return id, true
		}
	}
	return 0, false
}

func (d *Dispatcher) complete(id int64) string {
	if err := d.tasks.SetTaskStatus(id, storage.StatusCompleted, ""); err != nil {
		return d.storeFailure("complete", id, err)
	}
	return fmt.Sprintf("Task #%d marked as completed", id)
}

func (d *Dispatcher) help(id int64) string {
	if err := d.tasks.SetTaskStatus(id, storage.StatusHalfCompleted, storage.AlertNextDebrief); err != nil {
		return d.storeFailure("flag", id, err)
	}
	return fmt.Sprintf("Task #%d marked as needing help; it will come up at the next debrief", id)
}

func (d *Dispatcher) remind(id int64, payload string) string {
	alert, err := directive.ParseAlert(strings.TrimSpace(payload), d.clock.Now())
	if err != nil {
		return fmt.Sprintf("Could not set a reminder for task #%d: %v", id, err)
	}

	t, err := d.tasks.GetTask(id)
	if err != nil {
		return d.storeFailure("set a reminder for", id, err)
	}

	alertValue := storage.AlertNextDebrief
	if !alert.NextDebrief {
		alertValue = alert.At.UTC().Format(time.RFC3339)
	}
	if err := d.tasks.SetTaskStatus(id, t.Status, alertValue); err != nil {
		return d.storeFailure("set a reminder for", id, err)
	}

	if alert.NextDebrief {
		return fmt.Sprintf("Task #%d will come up at the next debrief", id)
	}
	return fmt.Sprintf("Reminder set for task #%d (%s)", id, alert.At.UTC().Format(time.RFC3339))
}

func (d *Dispatcher) appendNotes(id int64, payload string) string {
	if strings.TrimSpace(payload) == "" {
		slog.Warn("dropping empty notes directive", "task", id)
		return ""
	}
	if err := d.tasks.AppendTaskNotes(id, payload); err != nil {
		return d.storeFailure("add notes to", id, err)
	}
	return fmt.Sprintf("Notes added to task #%d", id)
}

func (d *Dispatcher) createTask(payload string, conv *Context) string {
	p, err := directive.ParseCreateTask(payload)
	if err != nil {
		slog.Warn("invalid create_task payload", "error", err, "payload", payload)
		return fmt.Sprintf("Could not create task: %v", err)
	}

	id, err := d.tasks.CreateTask(p.Description, p.Urgency, storage.StatusPending, "")
	if err != nil {
		slog.Error("creating task", "error", err)
		return "Could not create task: storage error"
	}
	conv.NoteTask(id)
	return fmt.Sprintf("Created task #%d (urgency %d): %s", id, p.Urgency, p.Description)
}

func (d *Dispatcher) draftEmail(payload string) string {
	p, err := directive.ParseDraftEmail(payload)
	if err != nil {
		slog.Warn("invalid draft_email payload", "error", err, "payload", payload)
		return fmt.Sprintf("Could not draft email: %v", err)
	}

	var sb strings.Builder
	sb.WriteString("Email draft")
	if p.To != "" {
		fmt.Fprintf(&sb, " to %s", p.To)
	}
	if p.Subject != "" {
		fmt.Fprintf(&sb, " — %s", p.Subject)
	}
	sb.WriteString(":\n")
	sb.WriteString(p.Body)
	return sb.String()
}

func (d *Dispatcher) updateProfile(ctx context.Context, dir directive.Directive) string {
	if d.profiles == nil {
		slog.Warn("profile directive with no profile updater configured", "subtype", dir.Subtype)
		return ""
	}
	switch dir.Subtype {
	case directive.ProfileUpdate, directive.ProfilePreference, directive.ProfileGoal:
	default:
		slog.Warn("unknown profile directive subtype", "subtype", dir.Subtype)
		return ""
	}

	obj := directive.ParseProfilePayload(dir.Payload)
	input, err := json.Marshal(map[string]any{string(dir.Subtype): obj})
	if err != nil {
		slog.Error("marshaling profile payload", "error", err)
		return ""
	}

	_, insight := d.profiles.ProcessInput(ctx, string(input), profile.SourceDirect)
	if insight != "" {
		return insight
	}
	return "Profile updated"
}

func (d *Dispatcher) storeFailure(verb string, id int64, err error) string {
	slog.Error("store error during dispatch", "task", id, "error", err)
	return fmt.Sprintf("Could not %s task #%d", verb, id)
}
