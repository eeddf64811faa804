package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/aide/internal/config"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the assistant",
	Long: `Talk to the assistant.

With a message argument, sends a single turn and prints the response.
Without arguments, starts an interactive session; exit with Ctrl-D or "exit".`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) > 0 {
			_, err := sendChat(client, strings.Join(args, " "), "")
			return err
		}

		printStep("Interactive session. Type a message, or \"exit\" to quit.")
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		convID := ""
		for {
			fmt.Fprint(os.Stderr, "> ")
			if !scanner.Scan() {
				fmt.Fprintln(os.Stderr)
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "exit" || line == "quit" {
				return nil
			}
			id, err := sendChat(client, line, convID)
			if err != nil {
				printError("%v", err)
				continue
			}
			convID = id
		}
	},
}

func sendChat(client *apiClient, input, convID string) (string, error) {
	body := map[string]any{"input": input}
	if convID != "" {
		body["conversation_id"] = convID
	}

	resp, err := client.post("/v1/chat", body)
	if err != nil {
		return "", err
	}

	var result struct {
		Response       string `json:"response"`
		ConversationID string `json:"conversation_id"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return "", err
	}

	fmt.Fprintln(os.Stdout, result.Response)
	return result.ConversationID, nil
}

// --- tasks ---

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage tracked tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, most urgent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/v1/tasks"
		if urgency, _ := cmd.Flags().GetInt("urgency"); urgency != 0 {
			path = fmt.Sprintf("%s?urgency=%d", path, urgency)
		}

		resp, err := client.get(path)
		if err != nil {
			return err
		}

		var result struct {
			Tasks []struct {
				ID          int64  `json:"id"`
				Description string `json:"description"`
				Urgency     int    `json:"urgency"`
				Status      string `json:"status"`
				Alert       string `json:"alert"`
			} `json:"tasks"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Tasks) == 0 {
			fmt.Fprintln(os.Stdout, "No tasks.")
			return nil
		}

		showAll, _ := cmd.Flags().GetBool("all")
		for _, t := range result.Tasks {
			if !showAll && t.Status == "completed" {
				continue
			}
			line := fmt.Sprintf("#%d [u%d, %s] %s", t.ID, t.Urgency, t.Status, firstLine(t.Description))
			if t.Alert != "" {
				line += fmt.Sprintf(" (reminder: %s)", t.Alert)
			}
			fmt.Fprintln(os.Stdout, line)
		}
		return nil
	},
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i != -1 {
		return s[:i]
	}
	return s
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <description>",
	Short: "Create a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		urgency, _ := cmd.Flags().GetInt("urgency")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/v1/tasks", map[string]any{
			"description": strings.Join(args, " "),
			"urgency":     urgency,
		})
		if err != nil {
			return err
		}

		var task struct {
			ID      int64 `json:"id"`
			Urgency int   `json:"urgency"`
		}
		if err := decodeJSON(resp, &task); err != nil {
			return err
		}

		printSuccess("Created task #%d (urgency %d)", task.ID, task.Urgency)
		return nil
	},
}

var tasksDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task as completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid task id %q", args[0])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(fmt.Sprintf("/v1/tasks/%d/status", id), map[string]any{
			"status": "completed",
		})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}

		printSuccess("Task #%d marked as completed", id)
		return nil
	},
}

func init() {
	tasksListCmd.Flags().Int("urgency", 0, "filter by urgency (1-5)")
	tasksListCmd.Flags().Bool("all", false, "include completed tasks")
	tasksAddCmd.Flags().Int("urgency", 3, "urgency 1 (lowest) to 5 (highest)")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksAddCmd)
	tasksCmd.AddCommand(tasksDoneCmd)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the learned user profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/v1/profile")
		if err != nil {
			return err
		}

		var profile any
		if err := decodeJSON(resp, &profile); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(profile)
	},
}

var profileClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the stored profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to clear profile without --yes")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete("/v1/profile")
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}

		printSuccess("Profile cleared")
		return nil
	},
}

func init() {
	profileClearCmd.Flags().Bool("yes", false, "confirm deletion")

	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileClearCmd)
}

// --- debrief ---

var debriefCmd = &cobra.Command{
	Use:   "debrief",
	Short: "Walk through open tasks, most urgent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/v1/debrief", nil)
		if err != nil {
			return err
		}

		var result struct {
			Batches []struct {
				TaskIDs []int64 `json:"task_ids"`
				Summary string  `json:"summary"`
			} `json:"batches"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Batches) == 0 {
			fmt.Fprintln(os.Stdout, "Nothing to debrief.")
			return nil
		}

		for _, b := range result.Batches {
			ids := make([]string, len(b.TaskIDs))
			for i, id := range b.TaskIDs {
				ids[i] = fmt.Sprintf("#%d", id)
			}
			printStep("Tasks %s", strings.Join(ids, ", "))
			fmt.Fprintln(os.Stdout, b.Summary)
			fmt.Fprintln(os.Stdout)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		printStatus("Server port", "%d", cfg.Server.Port)
		printStatus("Ollama base URL", "%s", cfg.Ollama.BaseURL)
		printStatus("Deep model", "%s", cfg.Ollama.DeepModel)
		if cfg.Cloud.OpenRouterAPIKey != "" {
			printStatus("Cloud model", "%s", cfg.Cloud.Model)
		} else {
			printStatus("Cloud model", "disabled (no API key)")
		}
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		printStatus("Log level", "%s", cfg.Log.Level)
		printStatus("Batch bounds", "%d tasks / %d chars", cfg.Agent.MaxBatchTasks, cfg.Agent.MaxBatchSize)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration key",
	Long: `Set a configuration key.

Keys use dotted paths, e.g.:
  aide config set ollama.deep_model qwen3
  aide config set server.port 4700`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.Set(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
