package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/sift/internal/llm"
	"github.com/kalambet/sift/internal/provider"
	"github.com/kalambet/sift/internal/storage"
)

type topicResponse struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Name       string    `json:"name"`
	StartPos   int       `json:"startPos"`
	EndPos     int       `json:"endPos"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toTopicResponse(t storage.Topic) topicResponse {
	return topicResponse{
		ID: t.ID, DocumentID: t.DocumentID, Name: t.Name,
		StartPos: t.StartPos, EndPos: t.EndPos, CreatedAt: t.CreatedAt,
	}
}

func handleListTopics(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetDocument(id); err != nil {
			writeServiceError(w, err)
			return
		}

		topics, err := deps.Store.ListTopics(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list topics: %v", err)
			return
		}

		out := make([]topicResponse, 0, len(topics))
		for _, t := range topics {
			out = append(out, toTopicResponse(t))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

type createTopicRequest struct {
	Name     string `json:"name"`
	StartPos int    `json:"startPos"`
	EndPos   int    `json:"endPos"`
}

func handleCreateTopic(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		docID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetDocument(docID); err != nil {
			writeServiceError(w, err)
			return
		}

		var req createTopicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		if req.EndPos == 0 {
			req.EndPos = -1 // open-ended: through the last segment
		}

		topic := storage.Topic{
			ID:         uuid.New().String(),
			DocumentID: docID,
			Name:       req.Name,
			StartPos:   req.StartPos,
			EndPos:     req.EndPos,
			CreatedAt:  time.Now().UTC(),
		}
		if err := deps.Store.CreateTopic(topic); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create topic: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toTopicResponse(topic))
	}
}

func handleDeleteTopic(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteTopic(chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

const topicExtractPrompt = `You segment documents into topics. Given numbered document excerpts, respond with a JSON array only, no prose. Each element is {"name": string, "startPos": int, "endPos": int} where positions are the excerpt numbers the topic spans, inclusive. Cover every excerpt, keep topics contiguous and non-overlapping.`

type extractedTopic struct {
	Name     string `json:"name"`
	StartPos int    `json:"startPos"`
	EndPos   int    `json:"endPos"`
}

// handleExtractTopics asks the model to segment the document into topics
// and replaces nothing: extracted topics are appended alongside any manual
// ones.
func handleExtractTopics(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetDocument(docID); err != nil {
			writeServiceError(w, err)
			return
		}

		segs, err := deps.Store.ListSegments(docID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list segments: %v", err)
			return
		}
		if len(segs) == 0 {
			httpError(w, http.StatusConflict, "invalid_request_error", "document has no segments yet; chunking may still be in progress")
			return
		}

		var b strings.Builder
		for _, seg := range segs {
			fmt.Fprintf(&b, "[%d]\n%s\n\n", seg.Position, seg.Content)
		}

		reply, err := deps.Gateway.Invoke(r.Context(), provider.TaskTopicExtract, []llm.Message{
			{Role: llm.RoleSystem, Content: topicExtractPrompt},
			{Role: llm.RoleUser, Content: b.String()},
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		extracted, err := parseExtractedTopics(reply)
		if err != nil {
			httpError(w, http.StatusBadGateway, "provider_error", "model returned unusable topic list: %v", err)
			return
		}

		now := time.Now().UTC()
		out := make([]topicResponse, 0, len(extracted))
		for _, e := range extracted {
			topic := storage.Topic{
				ID:         uuid.New().String(),
				DocumentID: docID,
				Name:       e.Name,
				StartPos:   e.StartPos,
				EndPos:     e.EndPos,
				CreatedAt:  now,
			}
			if err := deps.Store.CreateTopic(topic); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to save topic: %v", err)
				return
			}
			out = append(out, toTopicResponse(topic))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

// parseExtractedTopics tolerates a fenced code block around the JSON array.
func parseExtractedTopics(reply string) ([]extractedTopic, error) {
	text := strings.TrimSpace(reply)
	if start := strings.Index(text, "["); start >= 0 {
		if end := strings.LastIndex(text, "]"); end > start {
			text = text[start : end+1]
		}
	}

	var topics []extractedTopic
	if err := json.Unmarshal([]byte(text), &topics); err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("empty topic list")
	}
	for _, t := range topics {
		if t.Name == "" || t.StartPos < 0 || t.EndPos < t.StartPos {
			return nil, fmt.Errorf("invalid topic entry %+v", t)
		}
	}
	return topics, nil
}
