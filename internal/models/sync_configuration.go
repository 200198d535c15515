package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type ConfigStatus string

const (
	ConfigStatusIdle       ConfigStatus = "idle"        // Created, nothing enqueued yet
	ConfigStatusBackfill   ConfigStatus = "backfill"    // Orchestrator is paginating the remote
	ConfigStatusThreadSync ConfigStatus = "thread_sync" // Work rows published, workers draining
	ConfigStatusCompleted  ConfigStatus = "completed"   // All work rows terminal
	ConfigStatusFailed     ConfigStatus = "failed"      // Orchestration failed, checkpoint preserved
)

// BackfillCheckpoint is the resumption blob stored on a configuration.
// A later checkpoint for the same configuration never has a smaller
// CurrentPage until the checkpoint is cleared on completion.
type BackfillCheckpoint struct {
	LastPageToken string `json:"last_page_token,omitempty"`
	ThreadsQueued int    `json:"threads_queued"`
	CurrentPage   int    `json:"current_page"`
	Error         string `json:"error,omitempty"`
}

// Value implements driver.Valuer so the checkpoint persists as JSONB
func (c BackfillCheckpoint) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner for JSONB checkpoint columns
func (c *BackfillCheckpoint) Scan(value interface{}) error {
	if value == nil {
		*c = BackfillCheckpoint{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, c)
}

// IsZero reports whether no checkpoint has been recorded yet.
func (c BackfillCheckpoint) IsZero() bool {
	return c.LastPageToken == "" && c.ThreadsQueued == 0 && c.CurrentPage == 0 && c.Error == ""
}

// SyncConfiguration represents one tenant inbox sync setup and its lifecycle
type SyncConfiguration struct {
	ID              string              `gorm:"column:id;primaryKey"`
	InboxID         string              `gorm:"column:inbox_id;index"`
	Status          ConfigStatus        `gorm:"column:status;index"`
	Checkpoint      *BackfillCheckpoint `gorm:"column:checkpoint;type:jsonb"`
	SyncStartedAt   *time.Time          `gorm:"column:sync_started_at"`
	SyncCompletedAt *time.Time          `gorm:"column:sync_completed_at"`
	CreatedAt       time.Time           `gorm:"column:created_at"`
	UpdatedAt       time.Time           `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (SyncConfiguration) TableName() string {
	return "sync_configurations"
}
