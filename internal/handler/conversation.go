package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/conversagent/orchestrator/internal/agentgraph"
	"github.com/conversagent/orchestrator/internal/isolation"
	"github.com/conversagent/orchestrator/internal/middleware"
	"github.com/conversagent/orchestrator/internal/orchestrator"
	"github.com/conversagent/orchestrator/internal/stream"
	"github.com/conversagent/orchestrator/internal/workflow"
)

// APIResponse is the envelope every non-streaming endpoint responds with.
type APIResponse struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondAPIError(w http.ResponseWriter, status int, message, code string) {
	respondJSON(w, status, APIResponse{Success: false, Message: message, ErrorCode: code})
}

func checkRateLimit(w http.ResponseWriter, rl *isolation.RateLimiter, userID string) bool {
	if rl == nil {
		return true
	}
	allowed, retryAfter := rl.Allow(userID)
	if !allowed {
		w.Header().Set("Retry-After", time.Duration(retryAfter*int(time.Second)).String())
		respondAPIError(w, http.StatusTooManyRequests, "rate limit exceeded", isolation.CodeRateLimited)
		return false
	}
	return true
}

// ConversationDeps bundles everything the conversation handlers need.
type ConversationDeps struct {
	Store        *orchestrator.Store
	Engine       *workflow.Engine
	AgentDeps    func(token string, candidateKBs []string) *agentgraph.Deps
	Locks        *isolation.ConversationLocks
	RateLimiter  *isolation.RateLimiter
	Checkpoints  agentgraph.CheckpointStore
}

type createConversationRequest struct {
	UserID          string   `json:"user_id"`
	Mode            string   `json:"mode,omitempty"`
	ConversationID  string   `json:"conversation_id,omitempty"`
	KnowledgeBases  []string `json:"knowledge_bases,omitempty"`
	KnowledgeAPIURL string   `json:"knowledge_api_url,omitempty"`
	User            *struct {
		Token string `json:"token"`
	} `json:"user,omitempty"`
}

// CreateConversation handles POST /api/v1/conversations.
func CreateConversation(deps ConversationDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondAPIError(w, http.StatusBadRequest, "invalid request body", isolation.CodeValidation)
			return
		}
		if req.UserID == "" {
			respondAPIError(w, http.StatusBadRequest, "user_id is required", isolation.CodeValidation)
			return
		}
		mode := req.Mode
		if mode == "" {
			mode = "workflow"
		}

		isCustomID := req.ConversationID != ""
		id, err := deps.Store.Create(req.UserID, mode, req.ConversationID)
		if err != nil {
			respondAPIError(w, http.StatusBadRequest, err.Error(), isolation.CodeUnsupportedMode)
			return
		}

		respondJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Data: map[string]any{
				"conversation_id": id,
				"user_id":         req.UserID,
				"mode":            mode,
				"created_at":      time.Now(),
				"is_custom_id":    isCustomID,
			},
		})
	}
}

// ChatRequest is the shared body shape for the messages and stream
// endpoints.
type ChatRequest struct {
	ConversationID  string   `json:"conversation_id"`
	Message         string   `json:"message"`
	UserID          string   `json:"user_id"`
	Mode            string   `json:"mode,omitempty"`
	KnowledgeBases  []string `json:"knowledge_bases,omitempty"`
	KnowledgeAPIURL string   `json:"knowledge_api_url,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	User            *struct {
		Token string `json:"token"`
	} `json:"user,omitempty"`
}

func bearerCredential(r *http.Request, req ChatRequest) string {
	if t := middleware.BearerFromContext(r.Context()); t != "" {
		return t
	}
	if req.User != nil {
		return req.User.Token
	}
	return ""
}

// SendMessage handles POST /api/v1/conversations/{id}/messages, the
// non-streaming variant: it runs the driver to completion and returns the
// accumulated responses instead of streaming them.
func SendMessage(deps ConversationDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		task, err := deps.Store.Get(id)
		if err != nil {
			respondAPIError(w, http.StatusNotFound, "conversation not found", isolation.CodeConversationNotFound)
			return
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondAPIError(w, http.StatusBadRequest, "invalid request body", isolation.CodeValidation)
			return
		}
		if req.Message == "" {
			respondAPIError(w, http.StatusBadRequest, "message is required", isolation.CodeValidation)
			return
		}

		if !checkRateLimit(w, deps.RateLimiter, task.UserID) {
			return
		}
		release, ok := deps.Locks.TryAcquire(id)
		if !ok {
			respondAPIError(w, http.StatusConflict, "conversation already has an active stream", isolation.CodeStreamError)
			return
		}
		defer release()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		deps.Store.MarkRunning(id, cancel)

		token := bearerCredential(r, req)
		events := make(chan stream.Event, 64)
		var responses []stream.Event

		done := make(chan struct{})
		go func() {
			defer close(done)
			for e := range events {
				responses = append(responses, e)
			}
		}()

		answer, runErr := driveConversation(ctx, deps, task, req.Message, req.KnowledgeBases, token, events)
		close(events)
		<-done

		if runErr != nil {
			deps.Store.MarkDone(id, orchestrator.StatusFailed)
			respondAPIError(w, http.StatusInternalServerError, runErr.Error(), isolation.Classify(runErr))
			return
		}
		deps.Store.MarkDone(id, orchestrator.StatusCompleted)

		deps.Store.AppendMessage(id, "user", req.Message)
		deps.Store.AppendMessage(id, "assistant", answer)

		respondJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Data: map[string]any{
				"message":   answer,
				"responses": responses,
				"timestamp": time.Now(),
			},
		})
	}
}

// StreamMessage handles POST /api/v1/conversations/{id}/stream.
func StreamMessage(deps ConversationDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		task, err := deps.Store.Get(id)
		if err != nil {
			respondAPIError(w, http.StatusNotFound, "conversation not found", isolation.CodeConversationNotFound)
			return
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondAPIError(w, http.StatusBadRequest, "invalid request body", isolation.CodeValidation)
			return
		}
		if req.Message == "" {
			respondAPIError(w, http.StatusBadRequest, "message is required", isolation.CodeValidation)
			return
		}

		if !checkRateLimit(w, deps.RateLimiter, task.UserID) {
			return
		}
		release, ok := deps.Locks.TryAcquire(id)
		if !ok {
			respondAPIError(w, http.StatusConflict, "conversation already has an active stream", isolation.CodeStreamError)
			return
		}
		defer release()

		flusher, ok := w.(http.Flusher)
		if !ok {
			respondAPIError(w, http.StatusInternalServerError, "streaming not supported", isolation.CodeRuntime)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		deps.Store.MarkRunning(id, cancel)

		token := bearerCredential(r, req)
		events := make(chan stream.Event, 64)
		errCh := make(chan error, 1)

		go func() {
			defer close(events)
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("conversation driver panicked", "conversation_id", id, "panic", rec)
					deps.Store.MarkDone(id, orchestrator.StatusFailed)
					errCh <- &driverPanic{value: rec}
				}
				close(errCh)
			}()
			answer, err := driveConversation(ctx, deps, task, req.Message, req.KnowledgeBases, token, events)
			if err != nil {
				deps.Store.MarkDone(id, orchestrator.StatusFailed)
				errCh <- err
				return
			}
			deps.Store.MarkDone(id, orchestrator.StatusCompleted)
			deps.Store.AppendMessage(id, "user", req.Message)
			deps.Store.AppendMessage(id, "assistant", answer)
		}()

		mux := stream.NewMultiplexer(&flushWriter{w: w, f: flusher}, id)
		mux.Run(ctx, events, errCh)
	}
}

type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw *flushWriter) Write(p []byte) (int, error) { return fw.w.Write(p) }
func (fw *flushWriter) Flush()                       { fw.f.Flush() }

type driverPanic struct{ value any }

func (p *driverPanic) Error() string { return "conversation driver panicked" }

// driveConversation picks the workflow or agent-mode driver based on the
// task's mode and runs it to completion, returning the final answer text.
func driveConversation(ctx context.Context, deps ConversationDeps, task *orchestrator.ConversationTask, message string, candidateKBs []string, token string, events chan<- stream.Event) (string, error) {
	history := deps.Store.History(task.ConversationID)

	switch task.Mode {
	case "agent":
		d := deps.AgentDeps(token, candidateKBs)
		state := agentgraph.Drive(ctx, d, message, *history, events, task.ConversationID)
		if deps.Checkpoints != nil {
			_ = deps.Checkpoints.Save(ctx, agentgraph.Checkpoint{
				ThreadID:     task.ConversationID,
				CheckpointID: time.Now().UTC().Format(time.RFC3339Nano),
				State:        state,
				CreatedAt:    time.Now(),
			})
		}
		return state.FinalAnswer, nil
	default:
		return deps.Engine.Run(ctx, task.ConversationID, message, *history, candidateKBs, token, events)
	}
}

// History handles GET /api/v1/conversations/{id}/history.
func History(deps ConversationDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.Get(id); err != nil {
			respondAPIError(w, http.StatusNotFound, "conversation not found", isolation.CodeConversationNotFound)
			return
		}
		h := deps.Store.History(id)
		respondJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]any{"messages": h.Messages}})
	}
}

// Summary handles GET /api/v1/conversations/{id}/summary.
func Summary(deps ConversationDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.Get(id); err != nil {
			respondAPIError(w, http.StatusNotFound, "conversation not found", isolation.CodeConversationNotFound)
			return
		}
		h := deps.Store.History(id)
		respondJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]any{"summary": h.Summary, "message_count": len(h.Messages)}})
	}
}

// ListConversations handles GET /api/v1/conversations?user_id=.
func ListConversations(deps ConversationDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		respondJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]any{"conversations": deps.Store.List(userID)}})
	}
}

// DeleteConversation handles DELETE /api/v1/conversations/{id}.
func DeleteConversation(deps ConversationDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Store.Close(id); err != nil {
			respondAPIError(w, http.StatusNotFound, "conversation not found", isolation.CodeConversationNotFound)
			return
		}
		deps.Store.DeleteHistory(id)
		respondJSON(w, http.StatusOK, APIResponse{Success: true})
	}
}

// Statistics handles GET /api/v1/statistics.
func Statistics(deps ConversationDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, APIResponse{Success: true, Data: deps.Store.Statistics()})
	}
}
