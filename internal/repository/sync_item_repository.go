package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/chr8994/nova-email-service/internal/models"
)

var ErrSyncItemNotFound = errors.New("sync item not found")

// StatusCounts is a per-configuration breakdown of work rows by status.
type StatusCounts struct {
	Queued         int
	Processing     int
	Completed      int
	Failed         int
	MessagesSynced int
}

// Total returns the number of work rows across all statuses.
func (c StatusCounts) Total() int {
	return c.Queued + c.Processing + c.Completed + c.Failed
}

type SyncItemRepository struct {
	db *sql.DB
}

func NewSyncItemRepository(db *sql.DB) *SyncItemRepository {
	return &SyncItemRepository{db: db}
}

// UpsertQueued inserts a work row in queued state, or resets an existing row
// for the same (config_id, remote_thread_id) back to queued. A re-queue
// keeps the stored grant_id when the incoming one is empty, so a credential
// can never be nulled out by replays.
func (r *SyncItemRepository) UpsertQueued(ctx context.Context, configID, remoteThreadID, grantID string) error {
	query := `
		INSERT INTO thread_sync_items (config_id, remote_thread_id, grant_id, status, queued_at)
		VALUES ($1, $2, $3, 'queued', now())
		ON CONFLICT (config_id, remote_thread_id) DO UPDATE
		SET status = 'queued',
		    queued_at = now(),
		    grant_id = CASE
		        WHEN EXCLUDED.grant_id <> '' THEN EXCLUDED.grant_id
		        ELSE thread_sync_items.grant_id
		    END,
		    last_error = NULL,
		    started_at = NULL,
		    processed_at = NULL,
		    pgmq_queued_at = NULL
	`

	if _, err := r.db.ExecContext(ctx, query, configID, remoteThreadID, grantID); err != nil {
		return fmt.Errorf("failed to upsert work row: %w", err)
	}
	return nil
}

// MarkProcessing claims a queued work row for a worker. Returns false when
// the row is not in queued state, which is how a redelivered queue message
// for an already-finished thread gets detected.
func (r *SyncItemRepository) MarkProcessing(ctx context.Context, configID, remoteThreadID string) (bool, error) {
	query := `
		UPDATE thread_sync_items
		SET status = 'processing', started_at = now()
		WHERE config_id = $1 AND remote_thread_id = $2 AND status = 'queued'
	`

	res, err := r.db.ExecContext(ctx, query, configID, remoteThreadID)
	if err != nil {
		return false, fmt.Errorf("failed to mark work row processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkCompleted finishes a work row with the number of messages persisted
func (r *SyncItemRepository) MarkCompleted(ctx context.Context, configID, remoteThreadID string, messagesSynced int) error {
	query := `
		UPDATE thread_sync_items
		SET status = 'completed', messages_synced = $3, last_error = NULL, processed_at = now()
		WHERE config_id = $1 AND remote_thread_id = $2
	`

	if _, err := r.db.ExecContext(ctx, query, configID, remoteThreadID, messagesSynced); err != nil {
		return fmt.Errorf("failed to mark work row completed: %w", err)
	}
	return nil
}

// MarkFailed records a terminal failure on a work row
func (r *SyncItemRepository) MarkFailed(ctx context.Context, configID, remoteThreadID, lastError string, messagesSynced int) error {
	query := `
		UPDATE thread_sync_items
		SET status = 'failed', last_error = $3, messages_synced = $4, processed_at = now()
		WHERE config_id = $1 AND remote_thread_id = $2
	`

	if _, err := r.db.ExecContext(ctx, query, configID, remoteThreadID, lastError, messagesSynced); err != nil {
		return fmt.Errorf("failed to mark work row failed: %w", err)
	}
	return nil
}

// ListUnpublished retrieves queued work rows that were never published to
// thread_sync_jobs, across all configurations. The startup sweep drains
// these after a crash between row insertion and queue publication.
func (r *SyncItemRepository) ListUnpublished(ctx context.Context, limit int) ([]models.ThreadSyncItem, error) {
	query := `
		SELECT id, config_id, remote_thread_id, grant_id, status, messages_synced,
		       last_error, queued_at, started_at, processed_at, pgmq_queued_at
		FROM thread_sync_items
		WHERE status = 'queued' AND pgmq_queued_at IS NULL
		ORDER BY id ASC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpublished work rows: %w", err)
	}
	defer rows.Close()

	return r.scanItems(rows)
}

// ListUnpublishedByConfig retrieves the unpublished queued work rows for one
// configuration, in insertion order.
func (r *SyncItemRepository) ListUnpublishedByConfig(ctx context.Context, configID string, limit int) ([]models.ThreadSyncItem, error) {
	query := `
		SELECT id, config_id, remote_thread_id, grant_id, status, messages_synced,
		       last_error, queued_at, started_at, processed_at, pgmq_queued_at
		FROM thread_sync_items
		WHERE config_id = $1 AND status = 'queued' AND pgmq_queued_at IS NULL
		ORDER BY id ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, configID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpublished work rows: %w", err)
	}
	defer rows.Close()

	return r.scanItems(rows)
}

// StampPublished records that the given work rows were published to
// thread_sync_jobs
func (r *SyncItemRepository) StampPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(ids))
	args := make([]interface{}, 0, len(ids))
	for i, id := range ids {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		UPDATE thread_sync_items
		SET pgmq_queued_at = now()
		WHERE id IN (%s)
	`, strings.Join(placeholders, ", "))

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to stamp published rows: %w", err)
	}
	return nil
}

// CountByStatus aggregates the work rows of a configuration server-side
func (r *SyncItemRepository) CountByStatus(ctx context.Context, configID string) (StatusCounts, error) {
	query := `
		SELECT status, count(*), COALESCE(SUM(messages_synced), 0)
		FROM thread_sync_items
		WHERE config_id = $1
		GROUP BY status
	`

	rows, err := r.db.QueryContext(ctx, query, configID)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("failed to count work rows: %w", err)
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var status string
		var n, messages int
		if err := rows.Scan(&status, &n, &messages); err != nil {
			return StatusCounts{}, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts.MessagesSynced += messages
		switch models.SyncItemStatus(status) {
		case models.SyncItemQueued:
			counts.Queued = n
		case models.SyncItemProcessing:
			counts.Processing = n
		case models.SyncItemCompleted:
			counts.Completed = n
		case models.SyncItemFailed:
			counts.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return StatusCounts{}, fmt.Errorf("rows iteration error: %w", err)
	}

	return counts, nil
}

// HasOpenItems reports whether any work row of the configuration is still
// queued or processing
func (r *SyncItemRepository) HasOpenItems(ctx context.Context, configID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM thread_sync_items
			WHERE config_id = $1 AND status IN ('queued', 'processing')
		)
	`

	var open bool
	if err := r.db.QueryRowContext(ctx, query, configID).Scan(&open); err != nil {
		return false, fmt.Errorf("failed to check open work rows: %w", err)
	}
	return open, nil
}

// GetByConfigAndThread retrieves one work row
func (r *SyncItemRepository) GetByConfigAndThread(ctx context.Context, configID, remoteThreadID string) (*models.ThreadSyncItem, error) {
	query := `
		SELECT id, config_id, remote_thread_id, grant_id, status, messages_synced,
		       last_error, queued_at, started_at, processed_at, pgmq_queued_at
		FROM thread_sync_items
		WHERE config_id = $1 AND remote_thread_id = $2
	`

	var item models.ThreadSyncItem
	err := r.db.QueryRowContext(ctx, query, configID, remoteThreadID).Scan(
		&item.ID,
		&item.ConfigID,
		&item.RemoteThreadID,
		&item.GrantID,
		&item.Status,
		&item.MessagesSynced,
		&item.LastError,
		&item.QueuedAt,
		&item.StartedAt,
		&item.ProcessedAt,
		&item.PgmqQueuedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSyncItemNotFound
		}
		return nil, fmt.Errorf("failed to get work row: %w", err)
	}

	return &item, nil
}

// scanItems scans database rows into ThreadSyncItem slice
func (r *SyncItemRepository) scanItems(rows *sql.Rows) ([]models.ThreadSyncItem, error) {
	var items []models.ThreadSyncItem

	for rows.Next() {
		var item models.ThreadSyncItem
		err := rows.Scan(
			&item.ID,
			&item.ConfigID,
			&item.RemoteThreadID,
			&item.GrantID,
			&item.Status,
			&item.MessagesSynced,
			&item.LastError,
			&item.QueuedAt,
			&item.StartedAt,
			&item.ProcessedAt,
			&item.PgmqQueuedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work row: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return items, nil
}
