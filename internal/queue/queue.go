package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Logical queue names.
const (
	InboxBackfillJobs    = "inbox_backfill_jobs"
	ThreadSyncJobs       = "thread_sync_jobs"
	WebhookNotifications = "webhook_notifications"
	ExtractionJobs       = "extraction_jobs"
)

// Message is a single delivery from a queue. ReadCt counts deliveries,
// including this one.
type Message struct {
	MsgID      int64
	ReadCt     int
	EnqueuedAt time.Time
	VT         time.Time
	Payload    []byte
}

// Unmarshal decodes the message payload into v.
func (m Message) Unmarshal(v interface{}) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to decode message %d: %w", m.MsgID, err)
	}
	return nil
}

// Queue is a durable message queue backed by a single Postgres table.
// Reading a message hides it for a visibility timeout and increments its
// read_ct; unless deleted it reappears after the timeout. Consumers are
// required to be idempotent. No ordering beyond best-effort FIFO.
type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Send enqueues one payload, visible immediately.
func (q *Queue) Send(ctx context.Context, queue string, payload interface{}) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO queue_messages (queue_name, message)
		VALUES ($1, $2)
		RETURNING msg_id
	`

	var msgID int64
	if err := q.db.QueryRowContext(ctx, query, queue, body).Scan(&msgID); err != nil {
		return 0, fmt.Errorf("failed to enqueue message: %w", err)
	}

	return msgID, nil
}

// SendBatch enqueues all payloads in a single round trip and returns their
// message ids in insertion order.
func (q *Queue) SendBatch(ctx context.Context, queue string, payloads []interface{}) ([]int64, error) {
	if len(payloads) == 0 {
		return nil, nil
	}

	values := make([]string, 0, len(payloads))
	args := make([]interface{}, 0, len(payloads)*2)
	for i, payload := range payloads {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload %d: %w", i, err)
		}
		values = append(values, fmt.Sprintf("($%d, $%d)", i*2+1, i*2+2))
		args = append(args, queue, body)
	}

	query := fmt.Sprintf(`
		INSERT INTO queue_messages (queue_name, message)
		VALUES %s
		RETURNING msg_id
	`, strings.Join(values, ", "))

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue batch: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan msg_id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return ids, nil
}

// Read claims up to limit visible messages and hides each for vtSeconds.
// Rows locked by a concurrent reader are skipped, so competing consumers
// never see the same delivery.
func (q *Queue) Read(ctx context.Context, queue string, vtSeconds int, limit int) ([]Message, error) {
	query := `
		WITH claimed AS (
			SELECT msg_id
			FROM queue_messages
			WHERE queue_name = $1 AND vt <= now()
			ORDER BY msg_id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE queue_messages qm
		SET vt = now() + make_interval(secs => $3),
		    read_ct = qm.read_ct + 1
		FROM claimed
		WHERE qm.msg_id = claimed.msg_id
		RETURNING qm.msg_id, qm.read_ct, qm.enqueued_at, qm.vt, qm.message
	`

	rows, err := q.db.QueryContext(ctx, query, queue, limit, vtSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to read from queue %s: %w", queue, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.MsgID, &m.ReadCt, &m.EnqueuedAt, &m.VT, &m.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return msgs, nil
}

// Delete acknowledges a delivered message, removing it permanently.
// Returns false if the message was already gone.
func (q *Queue) Delete(ctx context.Context, queue string, msgID int64) (bool, error) {
	query := `DELETE FROM queue_messages WHERE queue_name = $1 AND msg_id = $2`

	res, err := q.db.ExecContext(ctx, query, queue, msgID)
	if err != nil {
		return false, fmt.Errorf("failed to delete message %d: %w", msgID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// Archive moves a message to queue_archive, removing it from the live
// queue. Terminal failures go here instead of Delete so poison messages
// stay auditable.
func (q *Queue) Archive(ctx context.Context, queue string, msgID int64) (bool, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	copyQuery := `
		INSERT INTO queue_archive (msg_id, queue_name, read_ct, enqueued_at, message)
		SELECT msg_id, queue_name, read_ct, enqueued_at, message
		FROM queue_messages
		WHERE queue_name = $1 AND msg_id = $2
		ON CONFLICT (msg_id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, copyQuery, queue, msgID); err != nil {
		return false, fmt.Errorf("failed to copy message %d to archive: %w", msgID, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM queue_messages WHERE queue_name = $1 AND msg_id = $2`, queue, msgID)
	if err != nil {
		return false, fmt.Errorf("failed to delete archived message %d: %w", msgID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	return n > 0, nil
}

// SetVT reschedules a claimed message to become visible vtSeconds from now.
// Consumers use it to back off a retryable failure without waiting for the
// full visibility timeout.
func (q *Queue) SetVT(ctx context.Context, queue string, msgID int64, vtSeconds int) error {
	query := `
		UPDATE queue_messages
		SET vt = now() + make_interval(secs => $1)
		WHERE queue_name = $2 AND msg_id = $3
	`

	if _, err := q.db.ExecContext(ctx, query, vtSeconds, queue, msgID); err != nil {
		return fmt.Errorf("failed to set visibility timeout on message %d: %w", msgID, err)
	}
	return nil
}

// Depth returns the number of messages on the queue, visible or not.
func (q *Queue) Depth(ctx context.Context, queue string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT count(*) FROM queue_messages WHERE queue_name = $1`, queue).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue %s: %w", queue, err)
	}
	return n, nil
}
