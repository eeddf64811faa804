package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/aide/internal/agent"
	"github.com/kalambet/aide/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ChatAgent is the conversational surface the HTTP layer depends on.
type ChatAgent interface {
	Process(ctx context.Context, input string, conv *agent.Conversation) (string, error)
	Debrief(ctx context.Context) ([]agent.BatchSummary, error)
}

// TaskStore is the subset of storage used by the REST task endpoints.
type TaskStore interface {
	CreateTask(description string, urgency int, status storage.TaskStatus, alert string) (int64, error)
	GetTask(id int64) (storage.Task, error)
	ListTasks() ([]storage.Task, error)
	ListTasksByUrgency(urgency int) ([]storage.Task, error)
	SetTaskStatus(id int64, status storage.TaskStatus, alert string) error
}

// ProfileSource exposes the reconciled profile document.
type ProfileSource interface {
	Current() map[string]any
	Clear() error
}

// Server holds handler dependencies plus per-conversation state. Conversations
// are kept in memory and keyed by a caller-supplied or generated ID; SQLite
// holds the durable transcript.
type Server struct {
	agent   ChatAgent
	tasks   TaskStore
	profile ProfileSource

	mu    sync.Mutex
	convs map[string]*agent.Conversation
}

func NewServer(a ChatAgent, tasks TaskStore, profile ProfileSource) *Server {
	return &Server{
		agent:   a,
		tasks:   tasks,
		profile: profile,
		convs:   make(map[string]*agent.Conversation),
	}
}

// Handler returns the REST API router. When token is non-empty all routes
// except /health require a matching bearer token.
func (s *Server) Handler(token string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if token != "" {
			r.Use(BearerAuth(token))
		}
		r.Post("/v1/chat", s.handleChat)
		r.Post("/v1/debrief", s.handleDebrief)
		r.Get("/v1/tasks", s.handleListTasks)
		r.Post("/v1/tasks", s.handleCreateTask)
		r.Get("/v1/tasks/{id}", s.handleGetTask)
		r.Post("/v1/tasks/{id}/status", s.handleSetTaskStatus)
		r.Get("/v1/profile", s.handleGetProfile)
		r.Delete("/v1/profile", s.handleClearProfile)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type chatRequest struct {
	Input          string `json:"input"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type chatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.Input == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "input is required")
		return
	}

	convID := req.ConversationID
	if convID == "" {
		convID = uuid.New().String()
	}
	conv := s.conversation(convID)

	response, err := s.agent.Process(r.Context(), req.Input, conv)
	if err != nil {
		httpError(w, http.StatusBadGateway, "api_error", "chat failed: %v", err)
		return
	}

	writeJSON(w, chatResponse{Response: response, ConversationID: convID})
}

func (s *Server) conversation(id string) *agent.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		conv = &agent.Conversation{}
		s.convs[id] = conv
	}
	return conv
}

type debriefBatch struct {
	TaskIDs []int64 `json:"task_ids"`
	Summary string  `json:"summary"`
}

func (s *Server) handleDebrief(w http.ResponseWriter, r *http.Request) {
	batches, err := s.agent.Debrief(r.Context())
	if err != nil {
		httpError(w, http.StatusBadGateway, "api_error", "debrief failed: %v", err)
		return
	}

	out := make([]debriefBatch, len(batches))
	for i, b := range batches {
		ids := make([]int64, len(b.Tasks))
		for j, t := range b.Tasks {
			ids[j] = t.ID
		}
		out[i] = debriefBatch{TaskIDs: ids, Summary: b.Summary}
	}
	writeJSON(w, map[string]any{"batches": out})
}

type taskResponse struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Urgency     int    `json:"urgency"`
	Status      string `json:"status"`
	Alert       string `json:"alert,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toTaskResponse(t storage.Task) taskResponse {
	return taskResponse{
		ID:          t.ID,
		Description: t.Description,
		Urgency:     t.Urgency,
		Status:      string(t.Status),
		Alert:       t.Alert,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   t.UpdatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var (
		tasks []storage.Task
		err   error
	)
	if raw := r.URL.Query().Get("urgency"); raw != "" {
		urgency, convErr := strconv.Atoi(raw)
		if convErr != nil || urgency < 1 || urgency > 5 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "urgency must be an integer between 1 and 5")
			return
		}
		tasks, err = s.tasks.ListTasksByUrgency(urgency)
	} else {
		tasks, err = s.tasks.ListTasks()
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "listing tasks: %v", err)
		return
	}

	out := make([]taskResponse, len(tasks))
	for i, t := range tasks {
		out[i] = toTaskResponse(t)
	}
	writeJSON(w, map[string]any{"tasks": out})
}

type createTaskRequest struct {
	Description string `json:"description"`
	Urgency     int    `json:"urgency"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.Description == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "description is required")
		return
	}
	if req.Urgency == 0 {
		req.Urgency = 3
	}
	if req.Urgency < 1 || req.Urgency > 5 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "urgency must be between 1 and 5")
		return
	}

	id, err := s.tasks.CreateTask(req.Description, req.Urgency, storage.StatusPending, "")
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "creating task: %v", err)
		return
	}

	task, err := s.tasks.GetTask(id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "reading created task: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toTaskResponse(task))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := s.tasks.GetTask(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "task %d not found", id)
			return
		}
		httpError(w, http.StatusInternalServerError, "api_error", "reading task: %v", err)
		return
	}
	writeJSON(w, toTaskResponse(task))
}

type setStatusRequest struct {
	Status string `json:"status"`
	Alert  string `json:"alert,omitempty"`
}

func (s *Server) handleSetTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}

	status := storage.TaskStatus(req.Status)
	if !storage.ValidStatus(status) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "status must be one of pending, half-completed, completed")
		return
	}

	if err := s.tasks.SetTaskStatus(id, status, req.Alert); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "task %d not found", id)
			return
		}
		httpError(w, http.StatusInternalServerError, "api_error", "updating task: %v", err)
		return
	}

	task, err := s.tasks.GetTask(id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "reading task: %v", err)
		return
	}
	writeJSON(w, toTaskResponse(task))
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.profile.Current())
}

func (s *Server) handleClearProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.profile.Clear(); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "clearing profile: %v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid task id %q", raw)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
