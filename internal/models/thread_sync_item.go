package models

import "time"

type SyncItemStatus string

const (
	SyncItemQueued     SyncItemStatus = "queued"     // Inserted by the orchestrator, awaiting dispatch
	SyncItemProcessing SyncItemStatus = "processing" // Claimed by a thread-sync worker
	SyncItemCompleted  SyncItemStatus = "completed"  // Thread and messages persisted
	SyncItemFailed     SyncItemStatus = "failed"     // Terminal failure recorded in last_error
)

// ThreadSyncItem is the orchestrator's per-thread work row. There is at most
// one row per (config_id, remote_thread_id); re-queueing resets the status
// instead of creating a new row.
type ThreadSyncItem struct {
	ID             int64          `gorm:"column:id;primaryKey;autoIncrement"`
	ConfigID       string         `gorm:"column:config_id;uniqueIndex:ux_config_remote_thread,priority:1"`
	RemoteThreadID string         `gorm:"column:remote_thread_id;uniqueIndex:ux_config_remote_thread,priority:2"`
	GrantID        string         `gorm:"column:grant_id"`
	Status         SyncItemStatus `gorm:"column:status;index"`
	MessagesSynced int            `gorm:"column:messages_synced"`
	LastError      *string        `gorm:"column:last_error"`
	QueuedAt       time.Time      `gorm:"column:queued_at"`
	StartedAt      *time.Time     `gorm:"column:started_at"`
	ProcessedAt    *time.Time     `gorm:"column:processed_at"`
	PgmqQueuedAt   *time.Time     `gorm:"column:pgmq_queued_at"` // NULL until published to thread_sync_jobs
}

// TableName specifies the table name for GORM
func (ThreadSyncItem) TableName() string {
	return "thread_sync_items"
}
