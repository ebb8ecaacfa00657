// Package ingest runs the background chunking pipeline: documents are
// stored immediately on ingestion and segmented asynchronously by a worker
// polling the SQLite job queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/sift/internal/chunker"
	"github.com/kalambet/sift/internal/storage"
)

// JobType is the queue type for document chunking jobs.
const JobType = "document_chunk"

// JobStore abstracts the job queue and document operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetDocument(id string) (storage.Document, error)
	ReplaceSegments(documentID string, segments []storage.Segment) error
}

// Worker processes document_chunk jobs from the SQLite job queue.
type Worker struct {
	store   JobStore
	minSize int
	maxSize int
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given chunk bounds.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, minSize, maxSize int, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		minSize: minSize,
		maxSize: maxSize,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single document_chunk job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type chunkPayload struct {
	DocumentID string `json:"document_id"`
}

// NewChunkJob builds a queue entry for chunking a document.
func NewChunkJob(jobID, documentID string) (storage.Job, error) {
	payload, err := json.Marshal(chunkPayload{DocumentID: documentID})
	if err != nil {
		return storage.Job{}, fmt.Errorf("encoding payload: %w", err)
	}
	return storage.Job{ID: jobID, Type: JobType, PayloadJSON: string(payload)}, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload chunkPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetDocument(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
	}

	chunks := chunker.Chunk(doc.Content, w.minSize, w.maxSize)

	segments := make([]storage.Segment, 0, len(chunks))
	for _, c := range chunks {
		segments = append(segments, storage.Segment{
			DocumentID: doc.ID,
			Position:   c.Position,
			Content:    c.Content,
		})
	}

	if err := w.store.ReplaceSegments(doc.ID, segments); err != nil {
		return fmt.Errorf("storing segments: %w", err)
	}

	w.logger.Info("document chunked", "document_id", doc.ID, "segments", len(segments))
	return nil
}
