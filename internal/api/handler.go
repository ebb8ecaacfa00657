// Package api implements the HTTP surface: document ingestion, chunking,
// topics, conversations, templates, and provider configuration.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/sift/internal/chunker"
	"github.com/kalambet/sift/internal/conversation"
	"github.com/kalambet/sift/internal/llm"
	"github.com/kalambet/sift/internal/provider"
	"github.com/kalambet/sift/internal/storage"
)

const maxRequestBodySize = 1 << 20  // 1MB
const maxIngestBodySize = 10 << 20  // 10MB
const maxURLFetchSize = 5 << 20     // 5MB

type AppDeps struct {
	Store         *storage.Store
	Gateway       *llm.Gateway
	Conversations *conversation.Service
	Token         string
	HTTPClient    *http.Client
	ChunkMinSize  int
	ChunkMaxSize  int
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	// Health stays outside the auth group so process supervisors and the
	// CLI status probe can hit it without a token.
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/chunk", handleChunk(deps))
		r.Post("/invoke", handleInvoke(deps))

		r.Post("/documents", handleIngest(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))
		r.Get("/documents/{id}/segments", handleListSegments(deps))
		r.Post("/documents/{id}/summary", handleSummary(deps))

		r.Get("/documents/{id}/topics", handleListTopics(deps))
		r.Post("/documents/{id}/topics", handleCreateTopic(deps))
		r.Post("/documents/{id}/topics/extract", handleExtractTopics(deps))
		r.Delete("/topics/{id}", handleDeleteTopic(deps))

		r.Post("/topics/{id}/conversations", handleStartConversation(deps))
		r.Get("/topics/{id}/conversations", handleListConversations(deps))
		r.Get("/conversations/{id}", handleGetConversation(deps))
		r.Post("/conversations/{id}/messages", handleContinueConversation(deps))
		r.Delete("/conversations/{id}", handleDeleteConversation(deps))

		r.Get("/templates", handleListTemplates(deps))
		r.Get("/templates/{id}", handleGetTemplate(deps))
		r.Post("/templates", handleCreateTemplate(deps))

		r.Get("/config", handleGetConfig(deps))
		r.Put("/config", handlePutConfig(deps))
		r.Delete("/config", handleDeleteConfig(deps))
	})

	return r
}

type chunkRequest struct {
	Text    string `json:"text"`
	MinSize int    `json:"minSize"`
	MaxSize int    `json:"maxSize"`
}

type chunkSegment struct {
	Content  string `json:"content"`
	Position int    `json:"position"`
	Size     int    `json:"size"`
}

func handleChunk(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req chunkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.MinSize < 0 || req.MaxSize < 0 || (req.MaxSize > 0 && req.MinSize > req.MaxSize) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid chunk bounds")
			return
		}

		minSize, maxSize := req.MinSize, req.MaxSize
		if minSize == 0 {
			minSize = deps.ChunkMinSize
		}
		if maxSize == 0 {
			maxSize = deps.ChunkMaxSize
		}

		segments := chunker.Chunk(req.Text, minSize, maxSize)
		out := make([]chunkSegment, 0, len(segments))
		for _, seg := range segments {
			out = append(out, chunkSegment{
				Content:  seg.Content,
				Position: seg.Position,
				Size:     len([]rune(seg.Content)),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"segments": out})
	}
}

type invokeRequest struct {
	Task     string        `json:"task"`
	Messages []llm.Message `json:"messages"`
}

func handleInvoke(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req invokeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Task == "" {
			req.Task = provider.TaskExplore
		}
		if len(req.Messages) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages is required and must not be empty")
			return
		}

		reply, err := deps.Gateway.Invoke(r.Context(), req.Task, req.Messages)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"reply": reply})
	}
}

// writeServiceError maps domain errors onto the HTTP envelope.
func writeServiceError(w http.ResponseWriter, err error) {
	var cfgErr *provider.ConfigError
	if errors.As(err, &cfgErr) {
		httpError(w, http.StatusUnprocessableEntity, "config_error", "%v", cfgErr)
		return
	}

	var invErr *llm.Error
	if errors.As(err, &invErr) {
		httpError(w, http.StatusBadGateway, "provider_error", "%v", invErr)
		return
	}

	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
		return
	}

	httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
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
