package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chr8994/nova-email-service/internal/models"
	"gorm.io/gorm"
)

var ErrConfigurationNotFound = errors.New("configuration not found")

type ConfigurationRepository struct {
	db *gorm.DB
}

func NewConfigurationRepository(db *gorm.DB) *ConfigurationRepository {
	return &ConfigurationRepository{db: db}
}

// GetByID retrieves a sync configuration by ID
func (r *ConfigurationRepository) GetByID(ctx context.Context, configID string) (*models.SyncConfiguration, error) {
	var cfg models.SyncConfiguration
	result := r.db.WithContext(ctx).First(&cfg, "id = ?", configID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrConfigurationNotFound
		}
		return nil, fmt.Errorf("failed to get configuration: %w", result.Error)
	}
	return &cfg, nil
}

// Create inserts a new configuration
func (r *ConfigurationRepository) Create(ctx context.Context, cfg *models.SyncConfiguration) error {
	if err := r.db.WithContext(ctx).Create(cfg).Error; err != nil {
		return fmt.Errorf("failed to create configuration: %w", err)
	}
	return nil
}

// TransitionStatus moves a configuration to the given status, stamping the
// lifecycle timestamps that go with it: sync_started_at when entering
// backfill (kept if already set), sync_completed_at when entering completed.
func (r *ConfigurationRepository) TransitionStatus(ctx context.Context, configID string, status models.ConfigStatus) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}

	switch status {
	case models.ConfigStatusBackfill:
		updates["sync_started_at"] = gorm.Expr("COALESCE(sync_started_at, ?)", now)
	case models.ConfigStatusCompleted:
		updates["sync_completed_at"] = &now
	}

	result := r.db.WithContext(ctx).Model(&models.SyncConfiguration{}).
		Where("id = ?", configID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to transition configuration status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConfigurationNotFound
	}
	return nil
}

// SaveCheckpoint persists the backfill resumption blob
func (r *ConfigurationRepository) SaveCheckpoint(ctx context.Context, configID string, checkpoint *models.BackfillCheckpoint) error {
	result := r.db.WithContext(ctx).Model(&models.SyncConfiguration{}).
		Where("id = ?", configID).
		Updates(map[string]interface{}{
			"checkpoint": checkpoint,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save checkpoint: %w", result.Error)
	}
	return nil
}

// ClearCheckpoint removes the checkpoint blob once a backfill completes
func (r *ConfigurationRepository) ClearCheckpoint(ctx context.Context, configID string) error {
	result := r.db.WithContext(ctx).Model(&models.SyncConfiguration{}).
		Where("id = ?", configID).
		Updates(map[string]interface{}{
			"checkpoint": nil,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", result.Error)
	}
	return nil
}

// MarkFailed sets the status to failed and stores the error inside the
// checkpoint blob so a manual restart can resume from where it stopped.
func (r *ConfigurationRepository) MarkFailed(ctx context.Context, configID string, checkpoint *models.BackfillCheckpoint) error {
	result := r.db.WithContext(ctx).Model(&models.SyncConfiguration{}).
		Where("id = ?", configID).
		Updates(map[string]interface{}{
			"status":     models.ConfigStatusFailed,
			"checkpoint": checkpoint,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark configuration failed: %w", result.Error)
	}
	return nil
}

// ListByStatuses retrieves configurations in any of the given statuses
func (r *ConfigurationRepository) ListByStatuses(ctx context.Context, statuses ...models.ConfigStatus) ([]models.SyncConfiguration, error) {
	var configs []models.SyncConfiguration
	result := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Find(&configs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", result.Error)
	}
	return configs, nil
}

// ListCompletedStarted retrieves configurations that report completed and
// have actually been started, the candidates for premature-completion checks.
func (r *ConfigurationRepository) ListCompletedStarted(ctx context.Context) ([]models.SyncConfiguration, error) {
	var configs []models.SyncConfiguration
	result := r.db.WithContext(ctx).
		Where("status = ? AND sync_started_at IS NOT NULL", models.ConfigStatusCompleted).
		Find(&configs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list completed configurations: %w", result.Error)
	}
	return configs, nil
}

// RevertToThreadSync reopens a prematurely completed configuration
func (r *ConfigurationRepository) RevertToThreadSync(ctx context.Context, configID string) error {
	result := r.db.WithContext(ctx).Model(&models.SyncConfiguration{}).
		Where("id = ?", configID).
		Updates(map[string]interface{}{
			"status":            models.ConfigStatusThreadSync,
			"sync_completed_at": nil,
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to revert configuration: %w", result.Error)
	}
	return nil
}
