package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chr8994/nova-email-service/internal/models"
)

// ExtractionCandidate is a thread eligible for LLM extraction, joined with
// the tenant owning its inbox.
type ExtractionCandidate struct {
	ThreadID       string
	RemoteThreadID string
	Subject        string
	InboxID        string
	TenantID       string
	SpamChecked    bool
}

// ExtractionRepository tracks threads through the extraction pipeline and
// persists the structured records the LLM produces. The durable
// extraction_jobs queue carries the work; the extraction_queue table exists
// for visibility and duplicate suppression.
type ExtractionRepository struct {
	db *sql.DB
}

func NewExtractionRepository(db *sql.DB) *ExtractionRepository {
	return &ExtractionRepository{db: db}
}

// ListCandidates retrieves threads that have at least one message, no
// extraction record yet, and no live tracking row. Threads confirmed as
// spam are excluded; unchecked threads are returned for the caller to
// classify first.
func (r *ExtractionRepository) ListCandidates(ctx context.Context, limit int) ([]ExtractionCandidate, error) {
	query := `
		SELECT t.id, t.remote_thread_id, t.subject, t.inbox_id,
		       COALESCE(i.tenant_id, ''), t.spam_checked_at IS NOT NULL
		FROM threads t
		LEFT JOIN inboxes i ON i.id = t.inbox_id
		WHERE EXISTS (SELECT 1 FROM messages m WHERE m.thread_id = t.id)
		  AND NOT EXISTS (SELECT 1 FROM thread_extractions e WHERE e.thread_id = t.id)
		  AND NOT EXISTS (
		      SELECT 1 FROM extraction_queue x
		      WHERE x.thread_id = t.id AND x.status IN ('queued', 'processing', 'retrying')
		  )
		  AND t.is_spam IS NOT TRUE
		ORDER BY t.last_message_at DESC NULLS LAST
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query extraction candidates: %w", err)
	}
	defer rows.Close()

	var candidates []ExtractionCandidate
	for rows.Next() {
		var c ExtractionCandidate
		if err := rows.Scan(&c.ThreadID, &c.RemoteThreadID, &c.Subject, &c.InboxID, &c.TenantID, &c.SpamChecked); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return candidates, nil
}

// Track inserts the tracking row for a thread entering the pipeline. A
// thread with a live or completed tracking row is left untouched; a
// terminally failed row is reset to queued so the thread gets a fresh run.
// The return value reports whether the thread should be published.
func (r *ExtractionRepository) Track(ctx context.Context, threadID, inboxID, tenantID string, priority int) (bool, error) {
	query := `
		INSERT INTO extraction_queue (thread_id, inbox_id, tenant_id, status, priority, enqueued_at)
		VALUES ($1, $2, $3, 'queued', $4, now())
		ON CONFLICT (thread_id) DO UPDATE
		SET status = 'queued', priority = EXCLUDED.priority,
		    last_error = NULL, enqueued_at = now(), processed_at = NULL
		WHERE extraction_queue.status = 'failed'
	`

	res, err := r.db.ExecContext(ctx, query, threadID, inboxID, tenantID, priority)
	if err != nil {
		return false, fmt.Errorf("failed to track extraction: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkProcessing flags the tracking row as claimed and counts the attempt
func (r *ExtractionRepository) MarkProcessing(ctx context.Context, threadID string) error {
	query := `
		UPDATE extraction_queue
		SET status = 'processing', attempts = attempts + 1
		WHERE thread_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, threadID); err != nil {
		return fmt.Errorf("failed to mark extraction processing: %w", err)
	}
	return nil
}

// MarkRetrying records a retryable failure; the queue message stays live
func (r *ExtractionRepository) MarkRetrying(ctx context.Context, threadID, lastError string) error {
	query := `
		UPDATE extraction_queue
		SET status = 'retrying', last_error = $2
		WHERE thread_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, threadID, lastError); err != nil {
		return fmt.Errorf("failed to mark extraction retrying: %w", err)
	}
	return nil
}

// MarkFailed records a terminal failure
func (r *ExtractionRepository) MarkFailed(ctx context.Context, threadID, lastError string) error {
	query := `
		UPDATE extraction_queue
		SET status = 'failed', last_error = $2, processed_at = now()
		WHERE thread_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, threadID, lastError); err != nil {
		return fmt.Errorf("failed to mark extraction failed: %w", err)
	}
	return nil
}

// NextVersion returns the version the next extraction of this thread should
// carry
func (r *ExtractionRepository) NextVersion(ctx context.Context, threadID string) (int, error) {
	var version int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(extraction_version), 0) + 1 FROM thread_extractions WHERE thread_id = $1`, threadID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next extraction version: %w", err)
	}
	return version, nil
}

// SaveExtraction atomically persists an extraction record with its entities,
// flips the thread's pending messages to extracted, and closes the tracking
// row.
func (r *ExtractionRepository) SaveExtraction(ctx context.Context, extraction *models.ThreadExtraction, entities []models.ExtractionEntity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin extraction transaction: %w", err)
	}
	defer tx.Rollback()

	insertExtraction := `
		INSERT INTO thread_extractions (
			id, thread_id, extraction_version, summary, intent, urgency, sentiment,
			needs_reply, actionability, urgency_score, importance_score,
			classification_tags, tasks, risks, keywords, participants,
			project_tag, message_type, is_reply, is_forward, reading_time_seconds,
			model, prompt_tokens, completion_tokens, raw_llm_response
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25
		)
	`
	_, err = tx.ExecContext(ctx, insertExtraction,
		extraction.ID,
		extraction.ThreadID,
		extraction.ExtractionVersion,
		extraction.Summary,
		extraction.Intent,
		extraction.Urgency,
		extraction.Sentiment,
		extraction.NeedsReply,
		extraction.Actionability,
		extraction.UrgencyScore,
		extraction.ImportanceScore,
		extraction.ClassificationTags,
		extraction.Tasks,
		extraction.Risks,
		extraction.Keywords,
		extraction.Participants,
		extraction.ProjectTag,
		extraction.MessageType,
		extraction.IsReply,
		extraction.IsForward,
		extraction.ReadingTimeSeconds,
		extraction.Model,
		extraction.PromptTokens,
		extraction.CompletionTokens,
		extraction.RawLlmResponse,
	)
	if err != nil {
		return fmt.Errorf("failed to insert extraction: %w", err)
	}

	insertEntity := `
		INSERT INTO extraction_entities (extraction_id, thread_id, entity_type, entity_value)
		VALUES ($1, $2, $3, $4)
	`
	for _, entity := range entities {
		if _, err := tx.ExecContext(ctx, insertEntity, extraction.ID, extraction.ThreadID, entity.EntityType, entity.EntityValue); err != nil {
			return fmt.Errorf("failed to insert extraction entity: %w", err)
		}
	}

	markMessages := `
		UPDATE messages
		SET extraction_status = 'completed', updated_at = now()
		WHERE thread_id = $1 AND extraction_status = 'pending'
	`
	if _, err := tx.ExecContext(ctx, markMessages, extraction.ThreadID); err != nil {
		return fmt.Errorf("failed to mark messages extracted: %w", err)
	}

	closeTracking := `
		UPDATE extraction_queue
		SET status = 'completed', last_error = NULL, processed_at = now()
		WHERE thread_id = $1
	`
	if _, err := tx.ExecContext(ctx, closeTracking, extraction.ThreadID); err != nil {
		return fmt.Errorf("failed to close extraction tracking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit extraction transaction: %w", err)
	}
	return nil
}
