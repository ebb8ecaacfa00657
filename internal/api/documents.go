package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/sift/internal/extract"
	"github.com/kalambet/sift/internal/ingest"
	"github.com/kalambet/sift/internal/llm"
	"github.com/kalambet/sift/internal/provider"
	"github.com/kalambet/sift/internal/storage"
)

type IngestRequest struct {
	Source  string `json:"source"`
	Type    string `json:"type"` // "text", "file", "pdf", "url"
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

func handleIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Content == "" && req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of content or url is required")
			return
		}
		if req.Type == "" {
			req.Type = "text"
		}
		if req.Source == "" {
			req.Source = "api"
		}

		var resolvedContent string
		switch {
		case req.Type == "url" && req.URL != "":
			body, err := fetchURL(r.Context(), deps.HTTPClient, req.URL)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "failed to fetch url: %v", err)
				return
			}
			text, err := extract.FromHTML(strings.NewReader(string(body)))
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "failed to extract page text: %v", err)
				return
			}
			resolvedContent = text
			if req.Title == "" {
				req.Title = req.URL
			}

		case req.Type == "pdf" && req.Content != "":
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			text, err := extract.FromPDF(decoded)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to extract pdf text: %v", err)
				return
			}
			resolvedContent = text

		case req.Type == "file" && req.Content != "":
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			resolvedContent = extract.FromText(string(decoded))

		default:
			resolvedContent = extract.FromText(req.Content)
		}

		docID := uuid.New().String()
		doc := storage.Document{
			ID:        docID,
			Title:     req.Title,
			Source:    req.Source,
			Content:   resolvedContent,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.SaveDocument(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}

		job, err := ingest.NewChunkJob(uuid.New().String(), docID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
			return
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id":     docID,
			"status": "queued",
		})
	}
}

func fetchURL(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New("url returned status " + resp.Status)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxURLFetchSize))
}

type documentSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		docs, err := deps.Store.ListDocuments(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		out := make([]documentSummary, 0, len(docs))
		for _, d := range docs {
			out = append(out, documentSummary{
				ID: d.ID, Title: d.Title, Source: d.Source,
				Size: len([]rune(d.Content)), CreatedAt: d.CreatedAt,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleGetDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Store.GetDocument(chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":        doc.ID,
			"title":     doc.Title,
			"source":    doc.Source,
			"content":   doc.Content,
			"createdAt": doc.CreatedAt,
		})
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteDocument(chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func handleListSegments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetDocument(id); err != nil {
			writeServiceError(w, err)
			return
		}

		segs, err := deps.Store.ListSegments(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list segments: %v", err)
			return
		}

		out := make([]chunkSegment, 0, len(segs))
		for _, seg := range segs {
			out = append(out, chunkSegment{
				Content:  seg.Content,
				Position: seg.Position,
				Size:     len([]rune(seg.Content)),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"documentId": id, "segments": out})
	}
}

// handleSummary merges a document's segments into one summary via the
// chunk_merge task: each segment is summarized into the running context so
// arbitrarily long documents fit the model window.
func handleSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		doc, err := deps.Store.GetDocument(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		segs, err := deps.Store.ListSegments(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list segments: %v", err)
			return
		}
		if len(segs) == 0 {
			httpError(w, http.StatusConflict, "invalid_request_error", "document has no segments yet; chunking may still be in progress")
			return
		}

		summary := ""
		for _, seg := range segs {
			messages := []llm.Message{
				{Role: llm.RoleSystem, Content: "You merge document excerpts into a running summary. Fold the new excerpt into the summary so far, keeping it faithful and compact."},
			}
			if summary == "" {
				messages = append(messages, llm.Message{Role: llm.RoleUser, Content: "Summarize this excerpt:\n\n" + seg.Content})
			} else {
				messages = append(messages, llm.Message{Role: llm.RoleUser, Content: "Summary so far:\n\n" + summary + "\n\nNew excerpt:\n\n" + seg.Content})
			}

			summary, err = deps.Gateway.Invoke(r.Context(), provider.TaskChunkMerge, messages)
			if err != nil {
				writeServiceError(w, err)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"documentId": doc.ID,
			"summary":    summary,
		})
	}
}
