package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/chr8994/nova-email-service/internal/models"
	"gorm.io/gorm"
)

type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Create records the audit row for a received notification
func (r *WebhookEventRepository) Create(ctx context.Context, event *models.WebhookEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to create webhook event: %w", err)
	}
	return nil
}

// MarkProcessed closes the audit row successfully
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, eventID string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"status":       models.WebhookEventProcessed,
			"last_error":   nil,
			"processed_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", result.Error)
	}
	return nil
}

// MarkError records a failure on the audit row
func (r *WebhookEventRepository) MarkError(ctx context.Context, eventID, lastError string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"status":       models.WebhookEventError,
			"last_error":   lastError,
			"processed_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark webhook event errored: %w", result.Error)
	}
	return nil
}

// GetByID retrieves one audit row
func (r *WebhookEventRepository) GetByID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	result := r.db.WithContext(ctx).First(&event, "id = ?", eventID)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", result.Error)
	}
	return &event, nil
}
