package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is an ingested source document with its extracted plain text.
type Document struct {
	ID        string
	Title     string
	Source    string // "cli", "api", "url", ...
	Content   string
	CreatedAt time.Time
}

// Segment is one chunk of a document's text. Segments are produced once per
// ingestion and replaced wholesale on re-chunking, never edited in place.
type Segment struct {
	DocumentID string
	Position   int
	Content    string
}

// Topic is a named region of a document (a contiguous segment range) that
// conversations attach to. Deleting a topic cascades to its conversations.
type Topic struct {
	ID         string
	DocumentID string
	Name       string
	StartPos   int
	EndPos     int
	CreatedAt  time.Time
}

// Conversation is a persisted multi-turn exchange. MessagesJSON holds the
// transcript as a JSON array of {role, content} objects — the exact shape
// sent to the provider endpoint, so persistence and wire format coincide.
type Conversation struct {
	ID           string
	TopicID      string
	Title        string
	TemplateID   string
	MessagesJSON string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PromptTemplate supplies the system prompt that seeds a conversation.
// Preset templates are seeded by migration and treated as read-only.
type PromptTemplate struct {
	ID           string
	Name         string
	SystemPrompt string
	IsPreset     bool
}

// ProviderConfig is a stored provider configuration. APIKeySecret is the
// obfuscated credential (see internal/secret); the cleartext never touches
// this struct. At most one record is active at a time.
type ProviderConfig struct {
	ID             string
	Provider       string
	BaseURL        string
	APIKeySecret   string
	DefaultModel   string
	TaskModelsJSON string // mapping of task type -> model, stored as JSON text
	IsActive       bool
	UpdatedAt      time.Time
}

// Job is a queued background task (currently only document chunking).
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
