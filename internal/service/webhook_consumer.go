package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/chr8994/nova-email-service/internal/config"
	"github.com/chr8994/nova-email-service/internal/models"
	"github.com/chr8994/nova-email-service/internal/provider"
	"github.com/chr8994/nova-email-service/internal/queue"
)

// WebhookConsumer drains webhook_notifications and dispatches per-event
// syncs through the same upsert path the thread-sync worker uses. Runs as a
// singleton.
type WebhookConsumer struct {
	cfg       *config.Config
	queue     JobQueue
	events    WebhookEventStore
	inboxRepo InboxStore
	syncer    *MessageSyncer
	provider  provider.Client
}

func NewWebhookConsumer(
	cfg *config.Config,
	jobQueue JobQueue,
	events WebhookEventStore,
	inboxRepo InboxStore,
	syncer *MessageSyncer,
	providerClient provider.Client,
) *WebhookConsumer {
	return &WebhookConsumer{
		cfg:       cfg,
		queue:     jobQueue,
		events:    events,
		inboxRepo: inboxRepo,
		syncer:    syncer,
		provider:  providerClient,
	}
}

// Run polls webhook_notifications until the context is cancelled.
func (c *WebhookConsumer) Run(ctx context.Context) error {
	log.Println("[webhook] consumer starting")

	ticker := time.NewTicker(time.Duration(c.cfg.WebhookPollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[webhook] consumer shutting down")
			return ctx.Err()
		case <-ticker.C:
			msgs, err := c.queue.Read(ctx, queue.WebhookNotifications, c.cfg.WebhookVisibilityTimeout, c.cfg.WebhookBatchSize)
			if err != nil {
				log.Printf("[webhook] read error: %v", err)
				continue
			}
			for _, msg := range msgs {
				if err := ctx.Err(); err != nil {
					return err
				}
				c.handleMessage(ctx, msg)
			}
		}
	}
}

func (c *WebhookConsumer) handleMessage(ctx context.Context, msg queue.Message) {
	var notif queue.WebhookNotification
	if err := msg.Unmarshal(&notif); err != nil {
		log.Printf("[webhook] bad payload on message %d: %v", msg.MsgID, err)
		c.discard(ctx, msg.MsgID)
		return
	}

	if msg.ReadCt > c.cfg.WebhookMaxRetries {
		reason := fmt.Sprintf("abandoned after %d deliveries", msg.ReadCt)
		log.Printf("[webhook] notification %s exceeded %d retries: %s", notif.NotificationID, c.cfg.WebhookMaxRetries, reason)
		if err := c.events.MarkError(ctx, notif.NotificationID, reason); err != nil {
			log.Printf("[webhook] failed to mark notification %s errored: %v", notif.NotificationID, err)
		}
		c.discard(ctx, msg.MsgID)
		return
	}

	if err := c.route(ctx, notif); err != nil {
		var permanent *payloadError
		if errors.As(err, &permanent) {
			// Payload errors do not improve with retries.
			log.Printf("[webhook] notification %s rejected: %v", notif.NotificationID, permanent)
			if err := c.events.MarkError(ctx, notif.NotificationID, permanent.Error()); err != nil {
				log.Printf("[webhook] failed to mark notification %s errored: %v", notif.NotificationID, err)
			}
			c.ack(ctx, msg.MsgID)
			return
		}
		log.Printf("[webhook] notification %s failed (delivery %d), will retry: %v", notif.NotificationID, msg.ReadCt, err)
		return
	}

	if err := c.events.MarkProcessed(ctx, notif.NotificationID); err != nil {
		log.Printf("[webhook] failed to mark notification %s processed: %v", notif.NotificationID, err)
	}
	c.ack(ctx, msg.MsgID)
}

// route dispatches one notification by type
func (c *WebhookConsumer) route(ctx context.Context, notif queue.WebhookNotification) error {
	switch notif.NotificationType {
	case models.NotificationMessageCreated, models.NotificationMessageUpdated:
		return c.syncMessage(ctx, notif)
	case models.NotificationThreadReplied:
		return c.syncThreadMetadata(ctx, notif)
	case models.NotificationGrantExpired:
		return c.expireGrant(ctx, notif)
	default:
		log.Printf("[webhook] unknown notification type %q (%s), acknowledging", notif.NotificationType, notif.NotificationID)
		return nil
	}
}

// syncMessage pulls the referenced message through the shared upsert path.
// Fetching the thread first implicitly handles threads the backfill has not
// seen yet.
func (c *WebhookConsumer) syncMessage(ctx context.Context, notif queue.WebhookNotification) error {
	messageID := extractObjectID(notif.Payload)
	if messageID == "" {
		return &payloadError{notificationID: notif.NotificationID, reason: "no message id in payload"}
	}

	inserted, err := c.syncer.SyncMessageByID(ctx, notif.GrantID, notif.InboxID, messageID)
	if err != nil {
		return err
	}
	if inserted {
		log.Printf("[webhook] message %s synced (notification %s)", messageID, notif.NotificationID)
	}
	return nil
}

// syncThreadMetadata refreshes thread metadata on thread.replied
func (c *WebhookConsumer) syncThreadMetadata(ctx context.Context, notif queue.WebhookNotification) error {
	threadID := extractObjectID(notif.Payload)
	if threadID == "" {
		return &payloadError{notificationID: notif.NotificationID, reason: "no thread id in payload"}
	}

	remote, err := c.provider.FindThread(ctx, notif.GrantID, threadID)
	if err != nil {
		return fmt.Errorf("failed to fetch thread %s: %w", threadID, err)
	}
	if _, err := c.syncer.UpsertRemoteThread(ctx, notif.GrantID, notif.InboxID, remote); err != nil {
		return err
	}

	log.Printf("[webhook] thread %s metadata refreshed (notification %s)", threadID, notif.NotificationID)
	return nil
}

// expireGrant marks every inbox bound to the grant as auth-expired
func (c *WebhookConsumer) expireGrant(ctx context.Context, notif queue.WebhookNotification) error {
	if notif.GrantID == "" {
		return &payloadError{notificationID: notif.NotificationID, reason: "grant.expired without grant id"}
	}

	n, err := c.inboxRepo.MarkAuthExpired(ctx, notif.GrantID)
	if err != nil {
		return err
	}

	log.Printf("[webhook] grant %s expired, %d inbox(es) flagged", notif.GrantID, n)
	return nil
}

// ack deletes the queue message unless testing mode keeps it for redelivery
func (c *WebhookConsumer) ack(ctx context.Context, msgID int64) {
	if c.cfg.TestingMode {
		log.Printf("[webhook] testing mode, leaving message %d on queue", msgID)
		return
	}
	if _, err := c.queue.Delete(ctx, queue.WebhookNotifications, msgID); err != nil {
		log.Printf("[webhook] failed to delete message %d: %v", msgID, err)
	}
}

// discard archives a terminally failed message; testing mode keeps it live
// for inspection like every other queue removal.
func (c *WebhookConsumer) discard(ctx context.Context, msgID int64) {
	if c.cfg.TestingMode {
		log.Printf("[webhook] testing mode, leaving message %d on queue", msgID)
		return
	}
	if _, err := c.queue.Archive(ctx, queue.WebhookNotifications, msgID); err != nil {
		log.Printf("[webhook] failed to archive message %d: %v", msgID, err)
	}
}

// payloadError is a permanent notification defect; retrying cannot fix it.
type payloadError struct {
	notificationID string
	reason         string
}

func (e *payloadError) Error() string {
	return fmt.Sprintf("notification %s: %s", e.notificationID, e.reason)
}

// extractObjectID digs the remote object id out of a provider payload,
// trying data.object.id, data.id, object.id, then id, in that order.
func extractObjectID(payload map[string]interface{}) string {
	paths := [][]string{
		{"data", "object", "id"},
		{"data", "id"},
		{"object", "id"},
		{"id"},
	}
	for _, path := range paths {
		if id := digString(payload, path); id != "" {
			return id
		}
	}
	return ""
}

// digString walks nested maps along the path and returns the string leaf
func digString(m map[string]interface{}, path []string) string {
	current := m
	for i, key := range path {
		value, ok := current[key]
		if !ok {
			return ""
		}
		if i == len(path)-1 {
			s, _ := value.(string)
			return s
		}
		current, ok = value.(map[string]interface{})
		if !ok {
			return ""
		}
	}
	return ""
}
