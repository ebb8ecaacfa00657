package storage

import (
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustSaveDocument(t *testing.T, s *Store, id, content string) Document {
	t.Helper()
	d := Document{
		ID:        id,
		Title:     "doc " + id,
		Source:    "api",
		Content:   content,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveDocument(d); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	return d
}

func TestDocumentLifecycle(t *testing.T) {
	s := newTestStore(t)

	want := mustSaveDocument(t, s, "doc-1", "hello world")

	got, err := s.GetDocument("doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Title != want.Title || got.Content != want.Content || got.Source != want.Source {
		t.Errorf("GetDocument = %+v, want %+v", got, want)
	}

	docs, err := s.ListDocuments(10, 0)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("ListDocuments returned %d docs, want 1", len(docs))
	}

	if err := s.DeleteDocument("doc-1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := s.GetDocument("doc-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDocument after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteDocument("doc-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteDocument: err = %v, want ErrNotFound", err)
	}
}

func TestReplaceSegments(t *testing.T) {
	s := newTestStore(t)
	mustSaveDocument(t, s, "doc-1", "text")

	first := []Segment{
		{DocumentID: "doc-1", Position: 0, Content: "alpha"},
		{DocumentID: "doc-1", Position: 1, Content: "beta"},
		{DocumentID: "doc-1", Position: 2, Content: "gamma"},
	}
	if err := s.ReplaceSegments("doc-1", first); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}

	second := []Segment{
		{DocumentID: "doc-1", Position: 0, Content: "replaced"},
	}
	if err := s.ReplaceSegments("doc-1", second); err != nil {
		t.Fatalf("second ReplaceSegments: %v", err)
	}

	segs, err := s.ListSegments("doc-1")
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segs) != 1 || segs[0].Content != "replaced" {
		t.Errorf("ListSegments = %+v, want single replaced segment", segs)
	}
}

func TestDeleteDocumentCascadesSegments(t *testing.T) {
	s := newTestStore(t)
	mustSaveDocument(t, s, "doc-1", "text")

	if err := s.ReplaceSegments("doc-1", []Segment{{DocumentID: "doc-1", Position: 0, Content: "a"}}); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}
	if err := s.DeleteDocument("doc-1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	segs, err := s.ListSegments("doc-1")
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segs) != 0 {
		t.Errorf("segments survived document delete: %+v", segs)
	}
}

func TestTopicLifecycle(t *testing.T) {
	s := newTestStore(t)
	mustSaveDocument(t, s, "doc-1", "text")

	topic := Topic{
		ID:         "topic-1",
		DocumentID: "doc-1",
		Name:       "Introduction",
		StartPos:   0,
		EndPos:     3,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreateTopic(topic); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	got, err := s.GetTopic("topic-1")
	if err != nil {
		t.Fatalf("GetTopic: %v", err)
	}
	if got.Name != "Introduction" || got.StartPos != 0 || got.EndPos != 3 {
		t.Errorf("GetTopic = %+v", got)
	}

	topics, err := s.ListTopics("doc-1")
	if err != nil {
		t.Fatalf("ListTopics: %v", err)
	}
	if len(topics) != 1 {
		t.Fatalf("ListTopics returned %d topics, want 1", len(topics))
	}

	if err := s.DeleteTopic("topic-1"); err != nil {
		t.Fatalf("DeleteTopic: %v", err)
	}
	if _, err := s.GetTopic("topic-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTopic after delete: err = %v, want ErrNotFound", err)
	}
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestStore(t)
	mustSaveDocument(t, s, "doc-1", "text")
	if err := s.CreateTopic(Topic{ID: "topic-1", DocumentID: "doc-1", Name: "t", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	conv := Conversation{
		ID:           "conv-1",
		TopicID:      "topic-1",
		Title:        "first pass",
		TemplateID:   "preset-summarize",
		MessagesJSON: `[{"role":"system","content":"sys"}]`,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreateConversation(conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	got, err := s.GetConversation("conv-1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.MessagesJSON != conv.MessagesJSON {
		t.Errorf("MessagesJSON = %q, want %q", got.MessagesJSON, conv.MessagesJSON)
	}

	later := now.Add(time.Minute)
	updated := `[{"role":"system","content":"sys"},{"role":"user","content":"hi"}]`
	if err := s.UpdateConversationMessages("conv-1", updated, later); err != nil {
		t.Fatalf("UpdateConversationMessages: %v", err)
	}

	got, err = s.GetConversation("conv-1")
	if err != nil {
		t.Fatalf("GetConversation after update: %v", err)
	}
	if got.MessagesJSON != updated {
		t.Errorf("MessagesJSON = %q, want %q", got.MessagesJSON, updated)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, later)
	}

	convs, err := s.ListConversations("topic-1")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("ListConversations returned %d, want 1", len(convs))
	}

	if err := s.DeleteConversation("conv-1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if err := s.UpdateConversationMessages("conv-1", "[]", later); !errors.Is(err, ErrNotFound) {
		t.Errorf("update after delete: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteTopicCascadesConversations(t *testing.T) {
	s := newTestStore(t)
	mustSaveDocument(t, s, "doc-1", "text")
	if err := s.CreateTopic(Topic{ID: "topic-1", DocumentID: "doc-1", Name: "t", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	now := time.Now()
	if err := s.CreateConversation(Conversation{ID: "conv-1", TopicID: "topic-1", MessagesJSON: "[]", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	if err := s.DeleteTopic("topic-1"); err != nil {
		t.Fatalf("DeleteTopic: %v", err)
	}
	if _, err := s.GetConversation("conv-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("conversation survived topic delete: err = %v", err)
	}
}

func TestPresetTemplatesSeeded(t *testing.T) {
	s := newTestStore(t)

	templates, err := s.ListTemplates()
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	if len(templates) < 3 {
		t.Fatalf("ListTemplates returned %d templates, want at least 3 presets", len(templates))
	}

	tpl, err := s.GetTemplate("preset-summarize")
	if err != nil {
		t.Fatalf("GetTemplate(preset-summarize): %v", err)
	}
	if !tpl.IsPreset || tpl.SystemPrompt == "" {
		t.Errorf("preset-summarize = %+v", tpl)
	}
}

func TestCreateTemplate(t *testing.T) {
	s := newTestStore(t)

	tpl := PromptTemplate{ID: "custom-1", Name: "Critique", SystemPrompt: "Critique the excerpts."}
	if err := s.CreateTemplate(tpl); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	got, err := s.GetTemplate("custom-1")
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}
	if got.IsPreset {
		t.Error("custom template marked preset")
	}
	if got.SystemPrompt != tpl.SystemPrompt {
		t.Errorf("SystemPrompt = %q", got.SystemPrompt)
	}
}

func TestProviderConfigSingleActive(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetActiveProviderConfig(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store: err = %v, want ErrNotFound", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	first := ProviderConfig{
		ID: "cfg-1", Provider: "openai", APIKeySecret: "obf1:abc",
		DefaultModel: "gpt-4o-mini", TaskModelsJSON: "{}", UpdatedAt: now,
	}
	if err := s.SaveProviderConfig(first); err != nil {
		t.Fatalf("SaveProviderConfig: %v", err)
	}

	second := ProviderConfig{
		ID: "cfg-2", Provider: "openrouter", APIKeySecret: "obf1:def",
		TaskModelsJSON: `{"summarize":"anthropic/claude-sonnet-4"}`, UpdatedAt: now.Add(time.Minute),
	}
	if err := s.SaveProviderConfig(second); err != nil {
		t.Fatalf("second SaveProviderConfig: %v", err)
	}

	active, err := s.GetActiveProviderConfig()
	if err != nil {
		t.Fatalf("GetActiveProviderConfig: %v", err)
	}
	if active.ID != "cfg-2" || active.Provider != "openrouter" {
		t.Errorf("active = %+v, want cfg-2", active)
	}

	// Re-saving an existing id updates it in place.
	first.DefaultModel = "gpt-4o"
	first.UpdatedAt = now.Add(2 * time.Minute)
	if err := s.SaveProviderConfig(first); err != nil {
		t.Fatalf("re-save cfg-1: %v", err)
	}
	active, err = s.GetActiveProviderConfig()
	if err != nil {
		t.Fatalf("GetActiveProviderConfig: %v", err)
	}
	if active.ID != "cfg-1" || active.DefaultModel != "gpt-4o" {
		t.Errorf("active = %+v, want updated cfg-1", active)
	}

	if err := s.DeactivateProviderConfig(); err != nil {
		t.Fatalf("DeactivateProviderConfig: %v", err)
	}
	if _, err := s.GetActiveProviderConfig(); !errors.Is(err, ErrNotFound) {
		t.Errorf("after deactivate: err = %v, want ErrNotFound", err)
	}
}

func TestJobQueueLifecycle(t *testing.T) {
	s := newTestStore(t)

	job := Job{ID: "job-1", Type: "document_chunk", PayloadJSON: `{"document_id":"doc-1"}`}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"document_chunk"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed == nil {
		t.Fatal("ClaimNextJob returned nil, want job")
	}
	if claimed.ID != "job-1" || claimed.Status != "running" {
		t.Errorf("claimed = %+v", claimed)
	}

	// A running job cannot be claimed again.
	again, err := s.ClaimNextJob([]string{"document_chunk"})
	if err != nil {
		t.Fatalf("second ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("claimed running job again: %+v", again)
	}

	if err := s.CompleteJob("job-1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
}

func TestClaimNextJobFiltersByType(t *testing.T) {
	s := newTestStore(t)

	if err := s.EnqueueJob(Job{ID: "job-1", Type: "other_type", PayloadJSON: "{}"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"document_chunk"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed != nil {
		t.Errorf("claimed job of wrong type: %+v", claimed)
	}
}

func TestFailJobRetriesThenFails(t *testing.T) {
	s := newTestStore(t)

	if err := s.EnqueueJob(Job{ID: "job-1", Type: "document_chunk", PayloadJSON: "{}", MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"document_chunk"})
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextJob: %v, %v", claimed, err)
	}

	// First failure reschedules with backoff, so it is pending but not yet
	// runnable.
	if err := s.FailJob("job-1", "provider timeout"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	claimed, err = s.ClaimNextJob([]string{"document_chunk"})
	if err != nil {
		t.Fatalf("ClaimNextJob after fail: %v", err)
	}
	if claimed != nil {
		t.Errorf("claimed job before backoff elapsed: %+v", claimed)
	}

	// Second failure exhausts max_attempts.
	if err := s.FailJob("job-1", "provider timeout"); err != nil {
		t.Fatalf("second FailJob: %v", err)
	}
	var status string
	var attempts int
	if err := s.db.QueryRow("SELECT status, attempts FROM jobs WHERE id = ?", "job-1").Scan(&status, &attempts); err != nil {
		t.Fatalf("query job: %v", err)
	}
	if status != "failed" || attempts != 2 {
		t.Errorf("status = %q attempts = %d, want failed/2", status, attempts)
	}
}
