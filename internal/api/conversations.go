package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/sift/internal/storage"
)

type startConversationRequest struct {
	TemplateID string `json:"templateId"`
	Title      string `json:"title"`
}

func handleStartConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		topicID := chi.URLParam(r, "id")

		// All fields are optional, so an empty body is fine.
		var req startConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.TemplateID == "" {
			req.TemplateID = "preset-explore"
		}

		segments, err := topicSegments(deps.Store, topicID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if len(segments) == 0 {
			httpError(w, http.StatusConflict, "invalid_request_error", "topic has no segments; chunking may still be in progress")
			return
		}

		record, err := deps.Conversations.Start(r.Context(), topicID, req.TemplateID, req.Title, segments)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(record)
	}
}

// topicSegments returns the contents of the segments a topic spans. An
// EndPos of -1 means through the last segment.
func topicSegments(store *storage.Store, topicID string) ([]string, error) {
	topic, err := store.GetTopic(topicID)
	if err != nil {
		return nil, err
	}

	segs, err := store.ListSegments(topic.DocumentID)
	if err != nil {
		return nil, err
	}

	var contents []string
	for _, seg := range segs {
		if seg.Position < topic.StartPos {
			continue
		}
		if topic.EndPos >= 0 && seg.Position > topic.EndPos {
			continue
		}
		contents = append(contents, seg.Content)
	}
	return contents, nil
}

func handleListConversations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topicID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetTopic(topicID); err != nil {
			writeServiceError(w, err)
			return
		}

		records, err := deps.Conversations.List(topicID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list conversations: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}
}

func handleGetConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, err := deps.Conversations.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(record)
	}
}

type continueConversationRequest struct {
	Content string `json:"content"`
}

func handleContinueConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req continueConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		record, err := deps.Conversations.Continue(r.Context(), chi.URLParam(r, "id"), req.Content)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(record)
	}
}

func handleDeleteConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Conversations.Delete(chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func handleListTemplates(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templates, err := deps.Store.ListTemplates()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list templates: %v", err)
			return
		}

		out := make([]map[string]any, 0, len(templates))
		for _, t := range templates {
			out = append(out, map[string]any{
				"id":           t.ID,
				"name":         t.Name,
				"systemPrompt": t.SystemPrompt,
				"isPreset":     t.IsPreset,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleGetTemplate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Store.GetTemplate(chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":           t.ID,
			"name":         t.Name,
			"systemPrompt": t.SystemPrompt,
			"isPreset":     t.IsPreset,
		})
	}
}

type createTemplateRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SystemPrompt string `json:"systemPrompt"`
}

func handleCreateTemplate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createTemplateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" || req.SystemPrompt == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name and systemPrompt are required")
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}

		template := storage.PromptTemplate{
			ID:           req.ID,
			Name:         req.Name,
			SystemPrompt: req.SystemPrompt,
		}
		if err := deps.Store.CreateTemplate(template); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create template: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":           template.ID,
			"name":         template.Name,
			"systemPrompt": template.SystemPrompt,
			"isPreset":     false,
		})
	}
}
