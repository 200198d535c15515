package models

import "time"

// SyncStats is the per-configuration counter row used for progress
// reporting. Counters are maintained with saturating SQL arithmetic and
// periodically recomputed from thread_sync_items by the completion monitor,
// which makes the row the operational source of truth at quiescence.
//
// ThreadsTotal is initialized to 0 and left there when the provider does not
// report a page total; progress percentages are computed over ThreadsQueued.
type SyncStats struct {
	ConfigID          string     `gorm:"column:config_id;primaryKey"`
	ThreadsTotal      int        `gorm:"column:threads_total"`
	ThreadsQueued     int        `gorm:"column:threads_queued"`
	ThreadsProcessing int        `gorm:"column:threads_processing"`
	ThreadsCompleted  int        `gorm:"column:threads_completed"`
	ThreadsFailed     int        `gorm:"column:threads_failed"`
	MessagesSynced    int        `gorm:"column:messages_synced"`
	SyncStartedAt     *time.Time `gorm:"column:sync_started_at"`
	LastThreadAt      *time.Time `gorm:"column:last_thread_at"`
	SyncCompletedAt   *time.Time `gorm:"column:sync_completed_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (SyncStats) TableName() string {
	return "sync_stats"
}

// Remaining returns how many queued threads still lack a terminal outcome.
func (s SyncStats) Remaining() int {
	remaining := s.ThreadsQueued - s.ThreadsCompleted - s.ThreadsFailed
	if remaining < 0 {
		return 0
	}
	return remaining
}
