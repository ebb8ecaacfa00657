// Package conversation manages persisted multi-turn exchanges anchored to
// document topics.
//
// The transcript is the unit of persistence: it is written only after a
// successful model invocation, so a failed turn leaves the stored record
// exactly as it was.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/sift/internal/llm"
	"github.com/kalambet/sift/internal/provider"
	"github.com/kalambet/sift/internal/storage"
)

// Storage is the subset of the storage layer the service needs.
type Storage interface {
	GetTopic(id string) (storage.Topic, error)
	GetTemplate(id string) (storage.PromptTemplate, error)
	CreateConversation(c storage.Conversation) error
	GetConversation(id string) (storage.Conversation, error)
	ListConversations(topicID string) ([]storage.Conversation, error)
	UpdateConversationMessages(id, messagesJSON string, updatedAt time.Time) error
	DeleteConversation(id string) error
}

// Invoker sends a transcript to the model gateway.
type Invoker interface {
	Invoke(ctx context.Context, task string, messages []llm.Message) (string, error)
}

// Record is a conversation with its transcript decoded.
type Record struct {
	ID         string        `json:"id"`
	TopicID    string        `json:"topicId"`
	Title      string        `json:"title"`
	TemplateID string        `json:"templateId"`
	Messages   []llm.Message `json:"messages"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// Service coordinates transcript assembly, model invocation, and
// persistence.
type Service struct {
	store   Storage
	invoker Invoker
	now     func() time.Time
}

func NewService(store Storage, invoker Invoker) *Service {
	return &Service{store: store, invoker: invoker, now: time.Now}
}

// Start opens a conversation on a topic. The opening transcript is the
// template's system prompt, one user turn carrying the segment contents,
// and the assistant reply. Nothing is persisted if the invocation fails.
func (s *Service) Start(ctx context.Context, topicID, templateID, title string, segments []string) (Record, error) {
	topic, err := s.store.GetTopic(topicID)
	if err != nil {
		return Record{}, fmt.Errorf("loading topic: %w", err)
	}

	template, err := s.store.GetTemplate(templateID)
	if err != nil {
		return Record{}, fmt.Errorf("loading template: %w", err)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: template.SystemPrompt},
		{Role: llm.RoleUser, Content: strings.Join(segments, "\n\n")},
	}

	reply, err := s.invoker.Invoke(ctx, provider.TaskExplore, messages)
	if err != nil {
		return Record{}, err
	}
	messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: reply})

	encoded, err := json.Marshal(messages)
	if err != nil {
		return Record{}, fmt.Errorf("encoding transcript: %w", err)
	}

	if title == "" {
		title = template.Name + ": " + topic.Name
	}

	now := s.now().UTC()
	record := storage.Conversation{
		ID:           uuid.NewString(),
		TopicID:      topic.ID,
		Title:        title,
		TemplateID:   template.ID,
		MessagesJSON: string(encoded),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateConversation(record); err != nil {
		return Record{}, fmt.Errorf("saving conversation: %w", err)
	}

	return Record{
		ID: record.ID, TopicID: record.TopicID, Title: record.Title,
		TemplateID: record.TemplateID, Messages: messages,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

// Continue appends a user turn, replays the full transcript to the model,
// and persists the extended transcript. A failed invocation leaves the
// stored transcript untouched.
func (s *Service) Continue(ctx context.Context, id, text string) (Record, error) {
	conv, err := s.store.GetConversation(id)
	if err != nil {
		return Record{}, fmt.Errorf("loading conversation: %w", err)
	}

	var messages []llm.Message
	if err := json.Unmarshal([]byte(conv.MessagesJSON), &messages); err != nil {
		return Record{}, fmt.Errorf("decoding stored transcript: %w", err)
	}

	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	reply, err := s.invoker.Invoke(ctx, provider.TaskExplore, messages)
	if err != nil {
		return Record{}, err
	}
	messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: reply})

	encoded, err := json.Marshal(messages)
	if err != nil {
		return Record{}, fmt.Errorf("encoding transcript: %w", err)
	}

	now := s.now().UTC()
	if err := s.store.UpdateConversationMessages(id, string(encoded), now); err != nil {
		return Record{}, fmt.Errorf("saving transcript: %w", err)
	}

	return Record{
		ID: conv.ID, TopicID: conv.TopicID, Title: conv.Title,
		TemplateID: conv.TemplateID, Messages: messages,
		CreatedAt: conv.CreatedAt, UpdatedAt: now,
	}, nil
}

// Get returns one conversation with its transcript decoded.
func (s *Service) Get(id string) (Record, error) {
	conv, err := s.store.GetConversation(id)
	if err != nil {
		return Record{}, err
	}
	return decode(conv)
}

// List returns a topic's conversations, most recently updated first.
func (s *Service) List(topicID string) ([]Record, error) {
	convs, err := s.store.ListConversations(topicID)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(convs))
	for _, conv := range convs {
		rec, err := decode(conv)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Delete removes a conversation.
func (s *Service) Delete(id string) error {
	return s.store.DeleteConversation(id)
}

func decode(conv storage.Conversation) (Record, error) {
	var messages []llm.Message
	if err := json.Unmarshal([]byte(conv.MessagesJSON), &messages); err != nil {
		return Record{}, fmt.Errorf("decoding transcript for %s: %w", conv.ID, err)
	}
	return Record{
		ID: conv.ID, TopicID: conv.TopicID, Title: conv.Title,
		TemplateID: conv.TemplateID, Messages: messages,
		CreatedAt: conv.CreatedAt, UpdatedAt: conv.UpdatedAt,
	}, nil
}
