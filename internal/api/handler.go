// Package api exposes the chatbot over HTTP: the ask endpoint backed by
// the question pipeline, memory management, and conversation CRUD.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hienhds/LegalSystem2/internal/conversation"
	"github.com/hienhds/LegalSystem2/internal/memory"
	"github.com/hienhds/LegalSystem2/internal/observability"
	"github.com/hienhds/LegalSystem2/internal/pipeline"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Asker runs the question pipeline.
type Asker interface {
	Process(ctx context.Context, userID, question string) pipeline.Result
}

// MemoryManager is the memory surface the API exposes directly.
type MemoryManager interface {
	Clear(ctx context.Context, userID string) error
	Stats(ctx context.Context, userID string) memory.Stats
	FullHistory(ctx context.Context, userID string) []memory.Turn
}

// Titler names a conversation after its first question.
type Titler interface {
	GenerateTitle(ctx context.Context, firstMessage string) string
}

// Deps holds dependencies for the HTTP handler.
type Deps struct {
	Pipeline      Asker
	Memory        MemoryManager
	Conversations *conversation.Store
	Titler        Titler
	JWTSecret     string
}

// NewHandler builds the full HTTP surface. Health and metrics are open;
// everything else requires a valid JWT.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	r.Group(func(r chi.Router) {
		r.Use(JWTAuth(deps.JWTSecret))

		r.Post("/api/chatbot/ask", handleAsk(deps))
		r.Delete("/api/chatbot/memory", handleClearMemory(deps))
		r.Get("/api/chatbot/memory/stats", handleMemoryStats(deps))
		r.Get("/api/chatbot/memory/history", handleMemoryHistory(deps))

		r.Get("/api/conversations", handleListConversations(deps))
		r.Post("/api/conversations", handleCreateConversation(deps))
		r.Get("/api/conversations/{id}", handleGetConversation(deps))
		r.Get("/api/conversations/{id}/messages", handleListMessages(deps))
		r.Patch("/api/conversations/{id}", handleRenameConversation(deps))
		r.Delete("/api/conversations/{id}", handleDeleteConversation(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type askRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id"`
}

type askResponse struct {
	pipeline.Result
	ConversationID string `json:"conversation_id"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		userID := UserID(r)

		conv, err := resolveConversation(r.Context(), deps, userID, req)
		if err != nil {
			if errors.Is(err, conversation.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "conversation not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to resolve conversation: %v", err)
			return
		}

		result := deps.Pipeline.Process(r.Context(), userID, req.Question)

		recordExchange(deps, conv, userID, req.Question, result)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(askResponse{Result: result, ConversationID: conv.ID})
	}
}

// resolveConversation returns the thread the exchange belongs to: the one
// the client named, the user's current active thread, or a fresh one
// titled after the first question.
func resolveConversation(ctx context.Context, deps Deps, userID string, req askRequest) (conversation.Conversation, error) {
	if req.ConversationID != "" {
		return deps.Conversations.Get(req.ConversationID, userID)
	}

	conv, err := deps.Conversations.ActiveConversation(userID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, conversation.ErrNotFound) {
		return conversation.Conversation{}, err
	}

	title := req.Question
	if deps.Titler != nil {
		title = deps.Titler.GenerateTitle(ctx, req.Question)
	}
	return deps.Conversations.Create(userID, title)
}

// recordExchange persists the question and answer pair. Persistence
// failures only cost the durable transcript, so they degrade to an OK
// response and the messages are dropped.
func recordExchange(deps Deps, conv conversation.Conversation, userID, question string, result pipeline.Result) {
	if _, err := deps.Conversations.AddMessage(conv.ID, userID, conversation.RoleUser, question, ""); err != nil {
		slog.Warn("api: failed to persist user message", "conversation_id", conv.ID, "error", err)
		return
	}

	meta, err := json.Marshal(map[string]interface{}{
		"status":         result.Status,
		"classification": result.Metadata.Classification,
		"num_queries":    result.Metadata.NumQueries,
		"num_docs":       result.Metadata.NumDocs,
	})
	if err != nil {
		meta = []byte("{}")
	}
	if _, err := deps.Conversations.AddMessage(conv.ID, userID, conversation.RoleAssistant, result.Answer, string(meta)); err != nil {
		slog.Warn("api: failed to persist assistant message", "conversation_id", conv.ID, "error", err)
	}
}

func handleClearMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Memory.Clear(r.Context(), UserID(r)); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear memory: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})
	}
}

func handleMemoryStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := deps.Memory.Stats(r.Context(), UserID(r))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

func handleMemoryHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		turns := deps.Memory.FullHistory(r.Context(), UserID(r))
		if turns == nil {
			turns = []memory.Turn{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"turns": turns})
	}
}

func handleListConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)
		activeOnly := r.URL.Query().Get("active_only") == "true"

		convs, err := deps.Conversations.List(UserID(r), activeOnly, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list conversations: %v", err)
			return
		}
		if convs == nil {
			convs = []conversation.Conversation{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(convs)
	}
}

type createConversationRequest struct {
	Title string `json:"title"`
}

func handleCreateConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		conv, err := deps.Conversations.Create(UserID(r), req.Title)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create conversation: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(conv)
	}
}

func handleGetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := deps.Conversations.Get(chi.URLParam(r, "id"), UserID(r))
		if errors.Is(err, conversation.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(conv)
	}
}

func handleListMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 100, 500)

		msgs, err := deps.Conversations.Messages(chi.URLParam(r, "id"), UserID(r), limit)
		if errors.Is(err, conversation.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list messages: %v", err)
			return
		}
		if msgs == nil {
			msgs = []conversation.Message{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(msgs)
	}
}

type renameConversationRequest struct {
	Title string `json:"title"`
}

func handleRenameConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req renameConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}

		err := deps.Conversations.SetTitle(chi.URLParam(r, "id"), UserID(r), req.Title)
		if errors.Is(err, conversation.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to rename conversation: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
	}
}

func handleDeleteConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		userID := UserID(r)

		var err error
		if r.URL.Query().Get("hard") == "true" {
			err = deps.Conversations.Delete(id, userID)
		} else {
			err = deps.Conversations.Deactivate(id, userID)
		}
		if errors.Is(err, conversation.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete conversation: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
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
