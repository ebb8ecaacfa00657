package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/sift/internal/conversation"
	"github.com/kalambet/sift/internal/ingest"
	"github.com/kalambet/sift/internal/llm"
	"github.com/kalambet/sift/internal/provider"
	"github.com/kalambet/sift/internal/storage"
)

const testToken = "test-token"

// newTestApp wires a full handler against an in-memory store and a stub
// provider endpoint.
func newTestApp(t *testing.T, providerHandler http.HandlerFunc) (http.Handler, *storage.Store) {
	t.Helper()

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	stub := httptest.NewServer(providerHandler)
	t.Cleanup(stub.Close)

	resolver := provider.NewResolver(store, provider.BuiltinProvider{
		BaseURL: stub.URL,
		APIKey:  "builtin-key",
	})
	gateway := llm.NewGateway(resolver, llm.NewClient())
	conversations := conversation.NewService(store, gateway)

	handler := NewAppHandler(AppDeps{
		Store:         store,
		Gateway:       gateway,
		Conversations: conversations,
		Token:         testToken,
		HTTPClient:    http.DefaultClient,
		ChunkMinSize:  500,
		ChunkMaxSize:  800,
	})
	return handler, store
}

func stubReply(reply string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		})
		w.Write(body)
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth_Unauthenticated(t *testing.T) {
	handler, _ := newTestApp(t, stubReply("x"))

	// No Authorization header: the health route sits outside the auth group
	// on the one router the server binds.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decodeBody[map[string]string](t, rec); got["status"] != "ok" {
		t.Errorf("body = %v", got)
	}
}

func TestAuth_RejectsMissingAndWrongToken(t *testing.T) {
	handler, _ := newTestApp(t, stubReply("x"))

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}
}

func TestChunkEndpoint(t *testing.T) {
	handler, _ := newTestApp(t, stubReply("x"))

	p := strings.Repeat("x", 300)
	rec := doJSON(t, handler, http.MethodPost, "/chunk", map[string]any{
		"text": p + "\n\n" + p + "\n\n" + p,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[struct {
		Segments []chunkSegment `json:"segments"`
	}](t, rec)
	if len(resp.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(resp.Segments))
	}
	if resp.Segments[0].Size != 601 || resp.Segments[1].Size != 300 {
		t.Errorf("sizes = %d, %d; want 601, 300", resp.Segments[0].Size, resp.Segments[1].Size)
	}
}

func TestChunkEndpoint_InvalidBounds(t *testing.T) {
	handler, _ := newTestApp(t, stubReply("x"))

	rec := doJSON(t, handler, http.MethodPost, "/chunk", map[string]any{
		"text": "hello", "minSize": 900, "maxSize": 500,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestIngestAndSegments(t *testing.T) {
	handler, store := newTestApp(t, stubReply("x"))

	p := strings.Repeat("y", 600)
	rec := doJSON(t, handler, http.MethodPost, "/documents", map[string]any{
		"title":   "Test",
		"content": p,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[map[string]string](t, rec)
	if created["status"] != "queued" || created["id"] == "" {
		t.Fatalf("response = %v", created)
	}

	// Drain the queue the way the serve loop's worker does.
	w := ingest.NewWorker(store, 500, 800, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("worker: %v", err)
	}

	rec = doJSON(t, handler, http.MethodGet, "/documents/"+created["id"]+"/segments", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("segments status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[struct {
		Segments []chunkSegment `json:"segments"`
	}](t, rec)
	if len(resp.Segments) != 1 || resp.Segments[0].Size != 600 {
		t.Errorf("segments = %+v", resp.Segments)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	handler, _ := newTestApp(t, stubReply("x"))

	rec := doJSON(t, handler, http.MethodGet, "/documents/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestConfigLifecycle(t *testing.T) {
	handler, _ := newTestApp(t, stubReply("x"))

	// No stored config: builtin.
	rec := doJSON(t, handler, http.MethodGet, "/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeBody[map[string]any](t, rec); got["provider"] != "builtin" {
		t.Errorf("empty config = %v", got)
	}

	rec = doJSON(t, handler, http.MethodPut, "/config", map[string]any{
		"provider": "openrouter",
		"apiKey":   "sk-or-secret",
		"model":    "openrouter/auto",
		"taskModels": map[string]string{
			"summarize": "anthropic/claude-sonnet-4",
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/config", nil)
	cfg := decodeBody[providerConfigResponse](t, rec)
	if cfg.Provider != "openrouter" || !cfg.HasAPIKey {
		t.Errorf("config = %+v", cfg)
	}
	if strings.Contains(rec.Body.String(), "sk-or-secret") {
		t.Error("response leaked the credential")
	}

	rec = doJSON(t, handler, http.MethodDelete, "/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/config", nil)
	if got := decodeBody[map[string]any](t, rec); got["provider"] != "builtin" {
		t.Errorf("after delete = %v", got)
	}
}

func TestGetConfig_CorruptTaskModelsStillServed(t *testing.T) {
	handler, store := newTestApp(t, stubReply("x"))

	// Corrupt map written around the API.
	err := store.SaveProviderConfig(storage.ProviderConfig{
		ID: "cfg-tm", Provider: "openrouter",
		TaskModelsJSON: "{not json", UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveProviderConfig: %v", err)
	}

	rec := doJSON(t, handler, http.MethodGet, "/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	cfg := decodeBody[providerConfigResponse](t, rec)
	if cfg.Provider != "openrouter" || len(cfg.TaskModels) != 0 {
		t.Errorf("config = %+v", cfg)
	}
}

func TestPutConfig_Validation(t *testing.T) {
	handler, _ := newTestApp(t, stubReply("x"))

	rec := doJSON(t, handler, http.MethodPut, "/config", map[string]any{"provider": "nonsense"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown provider: status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPut, "/config", map[string]any{"provider": "custom"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("custom without baseUrl: status = %d, want 400", rec.Code)
	}
}

func TestInvoke_CorruptConfigIsConfigError(t *testing.T) {
	handler, store := newTestApp(t, stubReply("x"))

	// Corrupt credential written around the API.
	err := store.SaveProviderConfig(storage.ProviderConfig{
		ID: "cfg-bad", Provider: "openrouter",
		APIKeySecret: "corrupted-not-encoded", TaskModelsJSON: "{}",
		UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveProviderConfig: %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/invoke", map[string]any{
		"task":     "summarize",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "config_error") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestConversationFlow(t *testing.T) {
	handler, store := newTestApp(t, stubReply("model answer"))

	if err := store.SaveDocument(storage.Document{ID: "doc-1", Content: "text", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := store.ReplaceSegments("doc-1", []storage.Segment{
		{DocumentID: "doc-1", Position: 0, Content: "segment zero"},
		{DocumentID: "doc-1", Position: 1, Content: "segment one"},
	}); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}
	if err := store.CreateTopic(storage.Topic{
		ID: "topic-1", DocumentID: "doc-1", Name: "All", StartPos: 0, EndPos: -1, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/topics/topic-1/conversations", map[string]any{
		"templateId": "preset-summarize",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body.String())
	}
	started := decodeBody[conversation.Record](t, rec)
	if len(started.Messages) != 3 || started.Messages[2].Content != "model answer" {
		t.Fatalf("started = %+v", started)
	}

	rec = doJSON(t, handler, http.MethodPost, "/conversations/"+started.ID+"/messages", map[string]any{
		"content": "go on",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("continue status = %d: %s", rec.Code, rec.Body.String())
	}
	continued := decodeBody[conversation.Record](t, rec)
	if len(continued.Messages) != 5 {
		t.Errorf("got %d messages, want 5", len(continued.Messages))
	}

	rec = doJSON(t, handler, http.MethodGet, "/topics/topic-1/conversations", nil)
	listed := decodeBody[[]conversation.Record](t, rec)
	if len(listed) != 1 {
		t.Errorf("listed %d conversations, want 1", len(listed))
	}

	rec = doJSON(t, handler, http.MethodDelete, "/conversations/"+started.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
}

func TestStartConversation_ProviderDownReturns502(t *testing.T) {
	handler, store := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	if err := store.SaveDocument(storage.Document{ID: "doc-1", Content: "text", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := store.ReplaceSegments("doc-1", []storage.Segment{
		{DocumentID: "doc-1", Position: 0, Content: "segment"},
	}); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}
	if err := store.CreateTopic(storage.Topic{
		ID: "topic-1", DocumentID: "doc-1", Name: "All", EndPos: -1, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/topics/topic-1/conversations", map[string]any{})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502: %s", rec.Code, rec.Body.String())
	}

	convs, err := store.ListConversations("topic-1")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 0 {
		t.Error("conversation persisted despite provider failure")
	}
}

func TestExtractTopics(t *testing.T) {
	handler, store := newTestApp(t, stubReply(`[{"name":"Opening","startPos":0,"endPos":0},{"name":"Closing","startPos":1,"endPos":1}]`))

	if err := store.SaveDocument(storage.Document{ID: "doc-1", Content: "text", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := store.ReplaceSegments("doc-1", []storage.Segment{
		{DocumentID: "doc-1", Position: 0, Content: "first part"},
		{DocumentID: "doc-1", Position: 1, Content: "second part"},
	}); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/documents/doc-1/topics/extract", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	topics := decodeBody[[]topicResponse](t, rec)
	if len(topics) != 2 || topics[0].Name != "Opening" || topics[1].EndPos != 1 {
		t.Errorf("topics = %+v", topics)
	}
}

func TestSummary_MergesSegments(t *testing.T) {
	handler, store := newTestApp(t, stubReply("running summary"))

	if err := store.SaveDocument(storage.Document{ID: "doc-1", Content: "text", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := store.ReplaceSegments("doc-1", []storage.Segment{
		{DocumentID: "doc-1", Position: 0, Content: "a"},
		{DocumentID: "doc-1", Position: 1, Content: "b"},
	}); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/documents/doc-1/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[map[string]string](t, rec)
	if resp["summary"] != "running summary" {
		t.Errorf("summary = %q", resp["summary"])
	}
}
