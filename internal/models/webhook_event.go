package models

import "time"

type WebhookEventStatus string

const (
	WebhookEventPending   WebhookEventStatus = "pending"
	WebhookEventProcessed WebhookEventStatus = "processed"
	WebhookEventError     WebhookEventStatus = "error"
)

// Notification types delivered by the provider.
const (
	NotificationMessageCreated = "message.created"
	NotificationMessageUpdated = "message.updated"
	NotificationThreadReplied  = "thread.replied"
	NotificationGrantExpired   = "grant.expired"
)

// WebhookEvent is the audit row recorded for every received push
// notification. The durable webhook_notifications queue carries the work;
// this row carries the outcome.
type WebhookEvent struct {
	ID               string             `gorm:"column:id;primaryKey"`
	WebhookID        string             `gorm:"column:webhook_id"`
	InboxID          string             `gorm:"column:inbox_id;index"`
	NotificationType string             `gorm:"column:notification_type;index"`
	GrantID          string             `gorm:"column:grant_id"`
	Payload          JSONB              `gorm:"column:payload;type:jsonb"`
	Status           WebhookEventStatus `gorm:"column:status;index"`
	LastError        *string            `gorm:"column:last_error"`
	ReceivedAt       time.Time          `gorm:"column:received_at"`
	ProcessedAt      *time.Time         `gorm:"column:processed_at"`
}

// TableName specifies the table name for GORM
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
