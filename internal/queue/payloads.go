package queue

import "time"

// BackfillJob orchestrates one inbox backfill over a date range.
// Carried on inbox_backfill_jobs.
type BackfillJob struct {
	InboxID   string    `json:"inbox_id"`
	ConfigID  string    `json:"config_id"`
	GrantID   string    `json:"grant_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// ThreadSyncJob directs a worker to fetch one remote thread and all its
// messages. Carried on thread_sync_jobs. GrantID is always non-empty by the
// time the job is published.
type ThreadSyncJob struct {
	ThreadID string `json:"thread_id"`
	GrantID  string `json:"grant_id"`
	InboxID  string `json:"inbox_id"`
	ConfigID string `json:"config_id"`
}

// WebhookNotification wraps one provider push notification for the
// consumer. Payload keeps the raw provider object because the message id
// location varies by provider and notification type.
type WebhookNotification struct {
	NotificationID   string                 `json:"notification_id"`
	WebhookID        string                 `json:"webhook_id"`
	InboxID          string                 `json:"inbox_id"`
	NotificationType string                 `json:"notification_type"`
	GrantID          string                 `json:"grant_id"`
	Payload          map[string]interface{} `json:"payload"`
	ReceivedAt       time.Time              `json:"received_at"`
}

// ExtractionJob directs a worker to run LLM extraction over one thread.
// Carried on extraction_jobs. Priority runs 0..100, higher first; the queue
// itself does not order by it, the enqueuer just records it.
type ExtractionJob struct {
	ThreadID string `json:"thread_id"`
	InboxID  string `json:"inbox_id"`
	TenantID string `json:"tenant_id"`
	Priority int    `json:"priority"`
}
