// Package composer assembles the chat messages for a conversational turn
// and for batch task summaries: system prompt, profile summary, task
// snapshot, rolling history, and the user's input.
package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/aide/internal/backend"
	"github.com/kalambet/aide/internal/storage"
)

const systemPrompt = `You are Aide, a friendly and proactive assistant helping the user manage their tasks and opportunities.

Personality:
- Warm but professional; direct and clear.
- Present tasks in order of urgency, one at a time.
- Be proactive about reminders and follow-ups; honest about limitations.
- Never use emojis.

When you decide to act on a task, embed an action token in your response. Action tokens are never shown to the user; keep the surrounding prose natural. Available tokens:
- [ACTION:complete:<task_id>:<reason>] — mark a task completed
- [ACTION:help:<task_id>:<reason>] — mark a task as needing help
- [ACTION:remind:<task_id>:<time>] — set a reminder; time is <N>h, <N>d, next_debrief, or an absolute timestamp
- [ACTION:notes:<task_id>:<text>] — append notes to a task
- [ACTION:create_task:{"description":"...","urgency":1-5}] — create a task
- [ACTION:draft_email:<task_id>:{"to":"...","subject":"...","body":"..."}] — draft an email for a task
- [ACTION:explore:<topic>] — note an opportunity area to explore
- [ACTION:profile:update|preference|goal:<text or JSON>] — record something about the user

Use task_id in place of the id (e.g. [ACTION:remind:task_id:2h]) when no specific task has been selected yet.`

// Composer builds message lists for the reasoning backends.
type Composer struct {
	// MaxHistory bounds the rolling conversation window included per turn.
	MaxHistory int
}

const defaultMaxHistory = 20

// New creates a Composer. If maxHistory <= 0, the default (20) is used.
func New(maxHistory int) *Composer {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	return &Composer{MaxHistory: maxHistory}
}

// BuildTurn assembles the full message list for one conversational turn.
func (c *Composer) BuildTurn(profileSummary string, tasks []storage.Task, history []backend.Message, input string) []backend.Message {
	var sb strings.Builder
	sb.WriteString(systemPrompt)

	if profileSummary != "" {
		fmt.Fprintf(&sb, "\n\n[User Profile]\n%s", profileSummary)
	}

	if len(tasks) == 0 {
		sb.WriteString("\n\n[Tasks]\nThe user has no current tasks. Offer to help find opportunities.")
	} else {
		fmt.Fprintf(&sb, "\n\n[Tasks]\nThe user has %d task(s):\n%s", len(tasks), FormatTasks(tasks))
	}

	messages := []backend.Message{
		{Role: "system", Content: sb.String()},
	}

	if len(history) > c.MaxHistory {
		history = history[len(history)-c.MaxHistory:]
	}
	messages = append(messages, history...)

	messages = append(messages, backend.Message{
		Role:    "user",
		Content: input,
	})

	return messages
}

// FormatTasks renders tasks for inclusion in a prompt.
func FormatTasks(tasks []storage.Task) string {
	var sb strings.Builder
	for i, t := range tasks {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "Task %d: %s\nUrgency: %d\nStatus: %s\n", t.ID, t.Description, t.Urgency, t.Status)
		if t.Alert != "" {
			fmt.Fprintf(&sb, "Alert: %s\n", t.Alert)
		}
	}
	return sb.String()
}

const summarySystemPrompt = `You are a task management assistant. Summarize the following batch of tasks for the user: group related tasks, call out the most urgent items first, and keep the summary brief and actionable. Plain prose, no action tokens.`

// BuildBatchSummary assembles the messages for summarizing one task batch.
func (c *Composer) BuildBatchSummary(batch []storage.Task) []backend.Message {
	return []backend.Message{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: FormatTasks(batch)},
	}
}
