package models

import "time"

// Thread is persisted thread metadata, uniquely identified by the remote
// provider's thread id. The local id is incidental.
type Thread struct {
	ID             string     `gorm:"column:id;primaryKey"`
	RemoteThreadID string     `gorm:"column:remote_thread_id;uniqueIndex"`
	InboxID        string     `gorm:"column:inbox_id;index"`
	GrantID        string     `gorm:"column:grant_id"`
	Subject        string     `gorm:"column:subject"`
	Participants   JSONB      `gorm:"column:participants;type:jsonb"`
	LastMessageAt  *time.Time `gorm:"column:last_message_at"`
	Unread         bool       `gorm:"column:unread"`
	Starred        bool       `gorm:"column:starred"`
	IsSpam         *bool      `gorm:"column:is_spam"`
	IsPromotional  *bool      `gorm:"column:is_promotional"`
	SpamConfidence *float64   `gorm:"column:spam_confidence"`
	SpamReason     *string    `gorm:"column:spam_reason"`
	SpamCheckedAt  *time.Time `gorm:"column:spam_checked_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Thread) TableName() string {
	return "threads"
}
