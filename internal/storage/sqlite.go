// Package storage persists documents, segments, topics, conversations,
// provider configuration, and the background job queue in SQLite.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "sift.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database handle for tests and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Documents ---

func (s *Store) SaveDocument(d Document) error {
	_, err := s.db.Exec(`
		INSERT INTO documents (id, title, source, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Title, d.Source, d.Content, d.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetDocument(id string) (Document, error) {
	var d Document
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, title, source, content, created_at
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Title, &d.Source, &d.Content, &createdAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return d, nil
}

func (s *Store) ListDocuments(limit, offset int) ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT id, title, source, content, created_at
		FROM documents ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var d Document
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Title, &d.Source, &d.Content, &createdAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

func (s *Store) DeleteDocument(id string) error {
	res, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Segments ---

// ReplaceSegments swaps a document's segments wholesale inside one
// transaction. Re-chunking a document replaces; it never edits in place.
func (s *Store) ReplaceSegments(documentID string, segments []Segment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning segment replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM segments WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("clearing segments: %w", err)
	}
	for _, seg := range segments {
		if _, err := tx.Exec(`
			INSERT INTO segments (document_id, position, content)
			VALUES (?, ?, ?)`,
			documentID, seg.Position, seg.Content,
		); err != nil {
			return fmt.Errorf("inserting segment %d: %w", seg.Position, err)
		}
	}

	return tx.Commit()
}

func (s *Store) ListSegments(documentID string) ([]Segment, error) {
	rows, err := s.db.Query(`
		SELECT document_id, position, content
		FROM segments WHERE document_id = ? ORDER BY position ASC`, documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.DocumentID, &seg.Position, &seg.Content); err != nil {
			return nil, err
		}
		results = append(results, seg)
	}
	return results, rows.Err()
}

// --- Topics ---

func (s *Store) CreateTopic(t Topic) error {
	_, err := s.db.Exec(`
		INSERT INTO topics (id, document_id, name, start_pos, end_pos, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.DocumentID, t.Name, t.StartPos, t.EndPos,
		t.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetTopic(id string) (Topic, error) {
	var t Topic
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, document_id, name, start_pos, end_pos, created_at
		FROM topics WHERE id = ?`, id,
	).Scan(&t.ID, &t.DocumentID, &t.Name, &t.StartPos, &t.EndPos, &createdAt)
	if err == sql.ErrNoRows {
		return Topic{}, ErrNotFound
	}
	if err != nil {
		return Topic{}, err
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Topic{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}

func (s *Store) ListTopics(documentID string) ([]Topic, error) {
	rows, err := s.db.Query(`
		SELECT id, document_id, name, start_pos, end_pos, created_at
		FROM topics WHERE document_id = ? ORDER BY start_pos ASC, created_at ASC`, documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Topic
	for rows.Next() {
		var t Topic
		var createdAt string
		if err := rows.Scan(&t.ID, &t.DocumentID, &t.Name, &t.StartPos, &t.EndPos, &createdAt); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// DeleteTopic removes a topic; its conversations cascade via the schema.
func (s *Store) DeleteTopic(id string) error {
	res, err := s.db.Exec(`DELETE FROM topics WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Conversations ---

func (s *Store) CreateConversation(c Conversation) error {
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, topic_id, title, template_id, messages, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TopicID, c.Title, c.TemplateID, c.MessagesJSON,
		c.CreatedAt.UTC().Format(time.RFC3339), c.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetConversation(id string) (Conversation, error) {
	var c Conversation
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, topic_id, title, template_id, messages, created_at, updated_at
		FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.TopicID, &c.Title, &c.TemplateID, &c.MessagesJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return c, nil
}

func (s *Store) ListConversations(topicID string) ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, topic_id, title, template_id, messages, created_at, updated_at
		FROM conversations WHERE topic_id = ? ORDER BY updated_at DESC`, topicID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Conversation
	for rows.Next() {
		var c Conversation
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.TopicID, &c.Title, &c.TemplateID, &c.MessagesJSON, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// UpdateConversationMessages replaces the stored transcript and bumps
// updated_at. The transcript is only ever written as a whole.
func (s *Store) UpdateConversationMessages(id, messagesJSON string, updatedAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE conversations SET messages = ?, updated_at = ? WHERE id = ?`,
		messagesJSON, updatedAt.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteConversation(id string) error {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Prompt templates ---

func (s *Store) GetTemplate(id string) (PromptTemplate, error) {
	var t PromptTemplate
	var preset int
	err := s.db.QueryRow(`
		SELECT id, name, system_prompt, is_preset
		FROM prompt_templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.SystemPrompt, &preset)
	if err == sql.ErrNoRows {
		return PromptTemplate{}, ErrNotFound
	}
	if err != nil {
		return PromptTemplate{}, err
	}
	t.IsPreset = preset != 0
	return t, nil
}

func (s *Store) ListTemplates() ([]PromptTemplate, error) {
	rows, err := s.db.Query(`
		SELECT id, name, system_prompt, is_preset
		FROM prompt_templates ORDER BY is_preset DESC, name ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []PromptTemplate
	for rows.Next() {
		var t PromptTemplate
		var preset int
		if err := rows.Scan(&t.ID, &t.Name, &t.SystemPrompt, &preset); err != nil {
			return nil, err
		}
		t.IsPreset = preset != 0
		results = append(results, t)
	}
	return results, rows.Err()
}

func (s *Store) CreateTemplate(t PromptTemplate) error {
	preset := 0
	if t.IsPreset {
		preset = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO prompt_templates (id, name, system_prompt, is_preset)
		VALUES (?, ?, ?, ?)`,
		t.ID, t.Name, t.SystemPrompt, preset,
	)
	return err
}

// --- Provider config ---

// GetActiveProviderConfig returns the single active configuration, or
// ErrNotFound when none is active (the built-in fallback case).
func (s *Store) GetActiveProviderConfig() (ProviderConfig, error) {
	var c ProviderConfig
	var active int
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT id, provider, base_url, api_key_secret, default_model, task_models, is_active, updated_at
		FROM provider_config WHERE is_active = 1 LIMIT 1`,
	).Scan(&c.ID, &c.Provider, &c.BaseURL, &c.APIKeySecret, &c.DefaultModel, &c.TaskModelsJSON, &active, &updatedAt)
	if err == sql.ErrNoRows {
		return ProviderConfig{}, ErrNotFound
	}
	if err != nil {
		return ProviderConfig{}, err
	}
	c.IsActive = active != 0
	if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return ProviderConfig{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return c, nil
}

// SaveProviderConfig deactivates any existing configuration and stores the
// given record as the single active one, in one transaction.
func (s *Store) SaveProviderConfig(c ProviderConfig) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning config save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE provider_config SET is_active = 0 WHERE is_active = 1`); err != nil {
		return fmt.Errorf("deactivating previous config: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO provider_config (id, provider, base_url, api_key_secret, default_model, task_models, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			base_url = excluded.base_url,
			api_key_secret = excluded.api_key_secret,
			default_model = excluded.default_model,
			task_models = excluded.task_models,
			is_active = 1,
			updated_at = excluded.updated_at`,
		c.ID, c.Provider, c.BaseURL, c.APIKeySecret, c.DefaultModel, c.TaskModelsJSON,
		c.UpdatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	return tx.Commit()
}

// DeactivateProviderConfig clears the active flag on all stored
// configurations, restoring the built-in fallback.
func (s *Store) DeactivateProviderConfig() error {
	_, err := s.db.Exec(`UPDATE provider_config SET is_active = 0 WHERE is_active = 1`)
	return err
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextJob atomically selects the oldest runnable pending job of the
// given types and marks it running. Returns nil when no job is available.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failure. Jobs under their attempt cap are rescheduled
// with exponential backoff; exhausted jobs are marked failed.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}
