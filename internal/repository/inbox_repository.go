package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chr8994/nova-email-service/internal/models"
	"gorm.io/gorm"
)

var ErrInboxNotFound = errors.New("inbox not found")

type InboxRepository struct {
	db *gorm.DB
}

func NewInboxRepository(db *gorm.DB) *InboxRepository {
	return &InboxRepository{db: db}
}

// GetByID retrieves an inbox by ID
func (r *InboxRepository) GetByID(ctx context.Context, inboxID string) (*models.Inbox, error) {
	var inbox models.Inbox
	result := r.db.WithContext(ctx).First(&inbox, "id = ?", inboxID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrInboxNotFound
		}
		return nil, fmt.Errorf("failed to get inbox: %w", result.Error)
	}
	return &inbox, nil
}

// GetByGrantID retrieves the inbox bound to a provider grant
func (r *InboxRepository) GetByGrantID(ctx context.Context, grantID string) (*models.Inbox, error) {
	var inbox models.Inbox
	result := r.db.WithContext(ctx).First(&inbox, "grant_id = ?", grantID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrInboxNotFound
		}
		return nil, fmt.Errorf("failed to get inbox by grant: %w", result.Error)
	}
	return &inbox, nil
}

// Create inserts a new inbox binding
func (r *InboxRepository) Create(ctx context.Context, inbox *models.Inbox) error {
	if err := r.db.WithContext(ctx).Create(inbox).Error; err != nil {
		return fmt.Errorf("failed to create inbox: %w", err)
	}
	return nil
}

// MarkAuthExpired flags every inbox on the given grant as auth-expired.
// Driven by grant.expired webhooks.
func (r *InboxRepository) MarkAuthExpired(ctx context.Context, grantID string) (int64, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.Inbox{}).
		Where("grant_id = ?", grantID).
		Updates(map[string]interface{}{
			"auth_status":     models.InboxAuthExpired,
			"auth_expired_at": &now,
			"updated_at":      now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark inbox auth expired: %w", result.Error)
	}
	return result.RowsAffected, nil
}
