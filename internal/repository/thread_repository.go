package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chr8994/nova-email-service/internal/models"
)

var ErrThreadNotFound = errors.New("thread not found")

// ThreadRepository persists threads and messages keyed by their remote
// identifiers. All writes are idempotent upserts, so replaying a queue
// message or webhook yields no new rows.
type ThreadRepository struct {
	db *sql.DB
}

func NewThreadRepository(db *sql.DB) *ThreadRepository {
	return &ThreadRepository{db: db}
}

// UpsertThread inserts or refreshes a thread row keyed on remote_thread_id.
// Metadata fields are overwritten with the incoming values; an empty
// incoming grant_id keeps the stored one. Returns the local thread id.
func (r *ThreadRepository) UpsertThread(ctx context.Context, thread *models.Thread) (string, error) {
	query := `
		INSERT INTO threads (
			id, remote_thread_id, inbox_id, grant_id, subject,
			participants, last_message_at, unread, starred
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (remote_thread_id) DO UPDATE
		SET subject = EXCLUDED.subject,
		    participants = EXCLUDED.participants,
		    last_message_at = EXCLUDED.last_message_at,
		    unread = EXCLUDED.unread,
		    starred = EXCLUDED.starred,
		    grant_id = CASE
		        WHEN EXCLUDED.grant_id <> '' THEN EXCLUDED.grant_id
		        ELSE threads.grant_id
		    END,
		    updated_at = now()
		RETURNING id
	`

	var id string
	err := r.db.QueryRowContext(ctx, query,
		thread.ID,
		thread.RemoteThreadID,
		thread.InboxID,
		thread.GrantID,
		thread.Subject,
		thread.Participants,
		thread.LastMessageAt,
		thread.Unread,
		thread.Starred,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to upsert thread: %w", err)
	}

	return id, nil
}

// GetByRemoteID retrieves a thread by its remote identifier
func (r *ThreadRepository) GetByRemoteID(ctx context.Context, remoteThreadID string) (*models.Thread, error) {
	query := `
		SELECT id, remote_thread_id, inbox_id, grant_id, subject, participants,
		       last_message_at, unread, starred, is_spam, is_promotional,
		       spam_confidence, spam_reason, spam_checked_at, created_at, updated_at
		FROM threads
		WHERE remote_thread_id = $1
	`

	return r.scanThread(r.db.QueryRowContext(ctx, query, remoteThreadID))
}

// ThreadExists reports whether a thread row exists for the remote id
func (r *ThreadRepository) ThreadExists(ctx context.Context, remoteThreadID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM threads WHERE remote_thread_id = $1)`, remoteThreadID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check thread: %w", err)
	}
	return exists, nil
}

// MessageExists reports whether a message row exists for the remote id
func (r *ThreadRepository) MessageExists(ctx context.Context, remoteMessageID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE remote_message_id = $1)`, remoteMessageID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check message: %w", err)
	}
	return exists, nil
}

// InsertMessage stores one message keyed on remote_message_id. A duplicate
// is a no-op; the return value reports whether a row was actually inserted.
func (r *ThreadRepository) InsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	query := `
		INSERT INTO messages (
			id, remote_message_id, thread_id, remote_thread_id,
			from_address, from_name, to_addresses, cc_addresses, bcc_addresses,
			subject, snippet, body_text, body_html, sent_at, extraction_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (remote_message_id) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, query,
		msg.ID,
		msg.RemoteMessageID,
		msg.ThreadID,
		msg.RemoteThreadID,
		msg.FromAddress,
		msg.FromName,
		msg.ToAddresses,
		msg.CcAddresses,
		msg.BccAddresses,
		msg.Subject,
		msg.Snippet,
		msg.BodyText,
		msg.BodyHTML,
		msg.SentAt,
		models.ExtractionPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// ListMessagesByThread retrieves the messages of a thread in chronological
// order, the shape the extraction transcript wants.
func (r *ThreadRepository) ListMessagesByThread(ctx context.Context, threadID string) ([]models.Message, error) {
	query := `
		SELECT id, remote_message_id, thread_id, remote_thread_id,
		       from_address, from_name, to_addresses, cc_addresses, bcc_addresses,
		       subject, snippet, body_text, body_html, sent_at, extraction_status,
		       created_at, updated_at
		FROM messages
		WHERE thread_id = $1
		ORDER BY sent_at ASC NULLS LAST, created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		err := rows.Scan(
			&m.ID,
			&m.RemoteMessageID,
			&m.ThreadID,
			&m.RemoteThreadID,
			&m.FromAddress,
			&m.FromName,
			&m.ToAddresses,
			&m.CcAddresses,
			&m.BccAddresses,
			&m.Subject,
			&m.Snippet,
			&m.BodyText,
			&m.BodyHTML,
			&m.SentAt,
			&m.ExtractionStatus,
			&m.CreatedAt,
			&m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return msgs, nil
}

// UpdateSpamVerdict records the spam classifier output on a thread
func (r *ThreadRepository) UpdateSpamVerdict(ctx context.Context, threadID string, isSpam, isPromotional bool, confidence float64, reason string) error {
	query := `
		UPDATE threads
		SET is_spam = $2, is_promotional = $3, spam_confidence = $4,
		    spam_reason = $5, spam_checked_at = $6, updated_at = now()
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, threadID, isSpam, isPromotional, confidence, reason, time.Now()); err != nil {
		return fmt.Errorf("failed to update spam verdict: %w", err)
	}
	return nil
}

// scanThread scans one thread row
func (r *ThreadRepository) scanThread(row *sql.Row) (*models.Thread, error) {
	var t models.Thread
	err := row.Scan(
		&t.ID,
		&t.RemoteThreadID,
		&t.InboxID,
		&t.GrantID,
		&t.Subject,
		&t.Participants,
		&t.LastMessageAt,
		&t.Unread,
		&t.Starred,
		&t.IsSpam,
		&t.IsPromotional,
		&t.SpamConfidence,
		&t.SpamReason,
		&t.SpamCheckedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrThreadNotFound
		}
		return nil, fmt.Errorf("failed to scan thread: %w", err)
	}
	return &t, nil
}
