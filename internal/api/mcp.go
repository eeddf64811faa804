package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/aide/internal/directive"
	"github.com/kalambet/aide/internal/profile"
	"github.com/kalambet/aide/internal/storage"
)

// MCPTaskStore is the storage surface for MCP task tools.
type MCPTaskStore interface {
	TaskStore
	AppendTaskNotes(id int64, notes string) error
}

// MCPProfile abstracts the profile reconciler for the MCP layer.
type MCPProfile interface {
	Current() map[string]any
	ProcessInput(ctx context.Context, input string, src profile.Source) (map[string]any, string)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Tasks   MCPTaskStore
	Profile MCPProfile
}

// NewMCPServer creates an MCP server exposing task and profile tools so that
// external assistants can act on the same store the conversational loop uses.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"aide",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("aide — personal task and opportunity assistant: tracked tasks, reminders, and a learned user profile."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("create_task",
			mcp.WithDescription("Create a tracked task with an urgency level."),
			mcp.WithString("description", mcp.Description("What the task is about"), mcp.Required()),
			mcp.WithNumber("urgency", mcp.Description("Urgency 1 (lowest) to 5 (highest); default 3")),
		),
		mcpCreateTask(deps),
	)

	s.AddTool(
		mcp.NewTool("complete_task",
			mcp.WithDescription("Mark a task as completed."),
			mcp.WithNumber("task_id", mcp.Description("Numeric task ID"), mcp.Required()),
		),
		mcpCompleteTask(deps),
	)

	s.AddTool(
		mcp.NewTool("set_reminder",
			mcp.WithDescription("Set a reminder on a task. Accepts relative offsets like 2h or 3d, the keyword next_debrief, or an absolute timestamp."),
			mcp.WithNumber("task_id", mcp.Description("Numeric task ID"), mcp.Required()),
			mcp.WithString("when", mcp.Description("Reminder time: 2h, 3d, next_debrief, or RFC 3339 timestamp"), mcp.Required()),
		),
		mcpSetReminder(deps),
	)

	s.AddTool(
		mcp.NewTool("add_task_notes",
			mcp.WithDescription("Append timestamped notes to a task without altering its existing description."),
			mcp.WithNumber("task_id", mcp.Description("Numeric task ID"), mcp.Required()),
			mcp.WithString("notes", mcp.Description("Notes to append"), mcp.Required()),
		),
		mcpAddTaskNotes(deps),
	)

	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List tracked tasks, most urgent first."),
			mcp.WithNumber("urgency", mcp.Description("Optional urgency filter, 1 to 5")),
		),
		mcpListTasks(deps),
	)

	s.AddTool(
		mcp.NewTool("update_profile",
			mcp.WithDescription("Feed a statement about the user into the profile reconciler."),
			mcp.WithString("input", mcp.Description("A statement about the user's preferences, goals, or situation"), mcp.Required()),
		),
		mcpUpdateProfile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"aide://profile",
			"User Profile",
			mcp.WithResourceDescription("Current reconciled user profile as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"aide://tasks",
			"Open Tasks",
			mcp.WithResourceDescription("All non-completed tasks, most urgent first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTasks(deps),
	)

	return s
}

func mcpCreateTask(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		description, err := req.RequireString("description")
		if err != nil {
			return mcpError("description is required"), nil
		}

		urgency := req.GetInt("urgency", 3)
		if urgency < 1 || urgency > 5 {
			return mcpError("urgency must be between 1 and 5"), nil
		}

		id, err := deps.Tasks.CreateTask(description, urgency, storage.StatusPending, "")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to create task: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Created task #%d (urgency %d): %s", id, urgency, description)), nil
	}
}

func mcpCompleteTask(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, ok := requireTaskID(req)
		if !ok {
			return mcpError("task_id is required and must be a positive integer"), nil
		}

		if err := deps.Tasks.SetTaskStatus(id, storage.StatusCompleted, ""); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError(fmt.Sprintf("task %d not found", id)), nil
			}
			return mcpError(fmt.Sprintf("failed to complete task: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Task #%d marked as completed", id)), nil
	}
}

func mcpSetReminder(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, ok := requireTaskID(req)
		if !ok {
			return mcpError("task_id is required and must be a positive integer"), nil
		}
		when, err := req.RequireString("when")
		if err != nil {
			return mcpError("when is required"), nil
		}

		alert, err := directive.ParseAlert(when, time.Now().UTC())
		if err != nil {
			return mcpError(fmt.Sprintf("could not parse reminder time %q: %v", when, err)), nil
		}

		task, err := deps.Tasks.GetTask(id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError(fmt.Sprintf("task %d not found", id)), nil
			}
			return mcpError(fmt.Sprintf("failed to read task: %v", err)), nil
		}

		token := alertToken(alert)
		if err := deps.Tasks.SetTaskStatus(id, task.Status, token); err != nil {
			return mcpError(fmt.Sprintf("failed to set reminder: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Reminder set for task #%d (%s)", id, token)), nil
	}
}

func alertToken(a directive.Alert) string {
	if a.NextDebrief {
		return storage.AlertNextDebrief
	}
	return a.At.Format(time.RFC3339)
}

func mcpAddTaskNotes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, ok := requireTaskID(req)
		if !ok {
			return mcpError("task_id is required and must be a positive integer"), nil
		}
		notes, err := req.RequireString("notes")
		if err != nil {
			return mcpError("notes is required"), nil
		}

		if err := deps.Tasks.AppendTaskNotes(id, notes); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError(fmt.Sprintf("task %d not found", id)), nil
			}
			return mcpError(fmt.Sprintf("failed to add notes: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Notes added to task #%d", id)), nil
	}
}

func mcpListTasks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var (
			tasks []storage.Task
			err   error
		)
		if urgency := req.GetInt("urgency", 0); urgency != 0 {
			if urgency < 1 || urgency > 5 {
				return mcpError("urgency must be between 1 and 5"), nil
			}
			tasks, err = deps.Tasks.ListTasksByUrgency(urgency)
		} else {
			tasks, err = deps.Tasks.ListTasks()
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list tasks: %v", err)), nil
		}

		b, err := json.Marshal(taskSummaries(tasks))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal tasks: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpUpdateProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := req.RequireString("input")
		if err != nil {
			return mcpError("input is required"), nil
		}

		_, insight := deps.Profile.ProcessInput(ctx, input, profile.SourceDirect)
		if insight == "" {
			insight = "Profile updated"
		}
		return mcpText(insight), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Profile.Current())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceTasks(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		tasks, err := deps.Tasks.ListTasks()
		if err != nil {
			return nil, fmt.Errorf("failed to list tasks: %w", err)
		}

		open := tasks[:0:0]
		for _, t := range tasks {
			if t.Status != storage.StatusCompleted {
				open = append(open, t)
			}
		}

		b, err := json.Marshal(taskSummaries(open))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tasks: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

type taskSummary struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Urgency     int    `json:"urgency"`
	Status      string `json:"status"`
	Alert       string `json:"alert,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func taskSummaries(tasks []storage.Task) []taskSummary {
	out := make([]taskSummary, len(tasks))
	for i, t := range tasks {
		out[i] = taskSummary{
			ID:          t.ID,
			Description: t.Description,
			Urgency:     t.Urgency,
			Status:      string(t.Status),
			Alert:       t.Alert,
			CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		}
	}
	return out
}

func requireTaskID(req mcp.CallToolRequest) (int64, bool) {
	id := req.GetInt("task_id", 0)
	if id <= 0 {
		return 0, false
	}
	return int64(id), true
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
