package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chr8994/nova-email-service/internal/models"
)

var ErrStatsNotFound = errors.New("stats row not found")

// SyncStatsRepository maintains the per-configuration counter row. Workers
// bump counters as threads finish; decrements saturate at zero so a missed
// update can never drive a counter negative. The completion monitor
// periodically recomputes the row from the work-row table, which makes it
// trustworthy at quiescence even if individual bumps were lost.
type SyncStatsRepository struct {
	db *sql.DB
}

func NewSyncStatsRepository(db *sql.DB) *SyncStatsRepository {
	return &SyncStatsRepository{db: db}
}

// InitForBackfill creates the stats row if missing and stamps the start
// time. An existing row keeps its counters and its original start time, so
// a checkpoint-resumed backfill does not reset progress.
func (r *SyncStatsRepository) InitForBackfill(ctx context.Context, configID string) error {
	query := `
		INSERT INTO sync_stats (config_id, sync_started_at, updated_at)
		VALUES ($1, now(), now())
		ON CONFLICT (config_id) DO UPDATE
		SET sync_started_at = COALESCE(sync_stats.sync_started_at, now()),
		    updated_at = now()
	`

	if _, err := r.db.ExecContext(ctx, query, configID); err != nil {
		return fmt.Errorf("failed to init stats row: %w", err)
	}
	return nil
}

// AddQueued bumps the cumulative queued counter as backfill pages land
func (r *SyncStatsRepository) AddQueued(ctx context.Context, configID string, n int) error {
	query := `
		UPDATE sync_stats
		SET threads_queued = threads_queued + $2, updated_at = now()
		WHERE config_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, configID, n); err != nil {
		return fmt.Errorf("failed to add queued threads: %w", err)
	}
	return nil
}

// MarkThreadProcessing counts a thread claimed by a worker
func (r *SyncStatsRepository) MarkThreadProcessing(ctx context.Context, configID string) error {
	query := `
		UPDATE sync_stats
		SET threads_processing = threads_processing + 1, updated_at = now()
		WHERE config_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, configID); err != nil {
		return fmt.Errorf("failed to mark thread processing: %w", err)
	}
	return nil
}

// MarkThreadCompleted moves one thread from processing to completed and adds
// its synced messages
func (r *SyncStatsRepository) MarkThreadCompleted(ctx context.Context, configID string, messagesSynced int) error {
	query := `
		UPDATE sync_stats
		SET threads_processing = GREATEST(threads_processing - 1, 0),
		    threads_completed = threads_completed + 1,
		    messages_synced = messages_synced + $2,
		    last_thread_at = now(),
		    updated_at = now()
		WHERE config_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, configID, messagesSynced); err != nil {
		return fmt.Errorf("failed to mark thread completed: %w", err)
	}
	return nil
}

// MarkThreadFailed moves one thread from processing to failed, keeping any
// messages that did land
func (r *SyncStatsRepository) MarkThreadFailed(ctx context.Context, configID string, messagesSynced int) error {
	query := `
		UPDATE sync_stats
		SET threads_processing = GREATEST(threads_processing - 1, 0),
		    threads_failed = threads_failed + 1,
		    messages_synced = messages_synced + $2,
		    last_thread_at = now(),
		    updated_at = now()
		WHERE config_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, configID, messagesSynced); err != nil {
		return fmt.Errorf("failed to mark thread failed: %w", err)
	}
	return nil
}

// Recompute rewrites the stats row from the work-row table. threads_queued
// becomes the total row count, which trues up any drift the incremental
// bumps accumulated.
func (r *SyncStatsRepository) Recompute(ctx context.Context, configID string) error {
	query := `
		UPDATE sync_stats
		SET threads_queued = agg.total,
		    threads_processing = agg.processing,
		    threads_completed = agg.completed,
		    threads_failed = agg.failed,
		    messages_synced = agg.messages,
		    updated_at = now()
		FROM (
			SELECT count(*) AS total,
			       count(*) FILTER (WHERE status = 'processing') AS processing,
			       count(*) FILTER (WHERE status = 'completed') AS completed,
			       count(*) FILTER (WHERE status = 'failed') AS failed,
			       COALESCE(SUM(messages_synced), 0) AS messages
			FROM thread_sync_items
			WHERE config_id = $1
		) agg
		WHERE sync_stats.config_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, configID); err != nil {
		return fmt.Errorf("failed to recompute stats: %w", err)
	}
	return nil
}

// Close stamps the completion time
func (r *SyncStatsRepository) Close(ctx context.Context, configID string) error {
	query := `
		UPDATE sync_stats
		SET sync_completed_at = now(), updated_at = now()
		WHERE config_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, configID); err != nil {
		return fmt.Errorf("failed to close stats row: %w", err)
	}
	return nil
}

// Reopen clears the completion time after a premature-completion revert
func (r *SyncStatsRepository) Reopen(ctx context.Context, configID string) error {
	query := `
		UPDATE sync_stats
		SET sync_completed_at = NULL, updated_at = now()
		WHERE config_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, configID); err != nil {
		return fmt.Errorf("failed to reopen stats row: %w", err)
	}
	return nil
}

// Get retrieves the stats row for a configuration
func (r *SyncStatsRepository) Get(ctx context.Context, configID string) (*models.SyncStats, error) {
	query := `
		SELECT config_id, threads_total, threads_queued, threads_processing,
		       threads_completed, threads_failed, messages_synced,
		       sync_started_at, last_thread_at, sync_completed_at, updated_at
		FROM sync_stats
		WHERE config_id = $1
	`

	var stats models.SyncStats
	err := r.db.QueryRowContext(ctx, query, configID).Scan(
		&stats.ConfigID,
		&stats.ThreadsTotal,
		&stats.ThreadsQueued,
		&stats.ThreadsProcessing,
		&stats.ThreadsCompleted,
		&stats.ThreadsFailed,
		&stats.MessagesSynced,
		&stats.SyncStartedAt,
		&stats.LastThreadAt,
		&stats.SyncCompletedAt,
		&stats.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrStatsNotFound
		}
		return nil, fmt.Errorf("failed to get stats row: %w", err)
	}

	return &stats, nil
}
