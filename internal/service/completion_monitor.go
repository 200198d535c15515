package service

import (
	"context"
	"log"
	"time"

	"github.com/chr8994/nova-email-service/internal/config"
	"github.com/chr8994/nova-email-service/internal/models"
	"github.com/chr8994/nova-email-service/internal/repository"
)

// CompletionMonitor derives progress for every active configuration, closes
// configurations once all their work rows are terminal, and reopens
// configurations that were completed while work was still pending. Stats are
// always computed server-side from the work-row table, never by iterating
// rows in the client. Runs as a singleton.
type CompletionMonitor struct {
	cfg        *config.Config
	configRepo ConfigurationStore
	itemRepo   SyncItemStore
	statsRepo  SyncStatsStore
}

func NewCompletionMonitor(
	cfg *config.Config,
	configRepo ConfigurationStore,
	itemRepo SyncItemStore,
	statsRepo SyncStatsStore,
) *CompletionMonitor {
	return &CompletionMonitor{
		cfg:        cfg,
		configRepo: configRepo,
		itemRepo:   itemRepo,
		statsRepo:  statsRepo,
	}
}

// Run drives the completion and recovery checks on their own intervals
// until the context is cancelled.
func (m *CompletionMonitor) Run(ctx context.Context) error {
	log.Println("[monitor] completion monitor starting")

	completionTicker := time.NewTicker(time.Duration(m.cfg.CompletionCheckInterval) * time.Second)
	defer completionTicker.Stop()
	recoveryTicker := time.NewTicker(time.Duration(m.cfg.RecoveryCheckInterval) * time.Second)
	defer recoveryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[monitor] completion monitor shutting down")
			return ctx.Err()
		case <-completionTicker.C:
			if err := m.CheckCompletions(ctx); err != nil {
				log.Printf("[monitor] completion check error: %v", err)
			}
		case <-recoveryTicker.C:
			if !m.cfg.AutoRecovery {
				continue
			}
			if err := m.RecoverPremature(ctx); err != nil {
				log.Printf("[monitor] recovery check error: %v", err)
			}
		}
	}
}

// CheckCompletions recomputes stats for every active configuration and
// closes the ones whose work is fully terminal.
func (m *CompletionMonitor) CheckCompletions(ctx context.Context) error {
	configs, err := m.configRepo.ListByStatuses(ctx, models.ConfigStatusBackfill, models.ConfigStatusThreadSync)
	if err != nil {
		return err
	}

	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return err
		}

		counts, err := m.itemRepo.CountByStatus(ctx, cfg.ID)
		if err != nil {
			log.Printf("[monitor] failed to count work rows for %s: %v", cfg.ID, err)
			continue
		}
		if err := m.statsRepo.Recompute(ctx, cfg.ID); err != nil {
			log.Printf("[monitor] failed to recompute stats for %s: %v", cfg.ID, err)
			continue
		}

		// Only a configuration past pagination can close; the orchestrator
		// may still be adding rows while status is backfill.
		if cfg.Status != models.ConfigStatusThreadSync || !isComplete(counts) {
			continue
		}

		if err := m.configRepo.TransitionStatus(ctx, cfg.ID, models.ConfigStatusCompleted); err != nil {
			log.Printf("[monitor] failed to close config %s: %v", cfg.ID, err)
			continue
		}
		if err := m.statsRepo.Close(ctx, cfg.ID); err != nil {
			log.Printf("[monitor] failed to close stats for %s: %v", cfg.ID, err)
		}

		log.Printf("[monitor] config %s completed: %d completed, %d failed of %d threads",
			cfg.ID, counts.Completed, counts.Failed, counts.Total())
	}
	return nil
}

// RecoverPremature reopens configurations that report completed while work
// rows are still queued or processing, guarding against trigger races and
// manual interference.
func (m *CompletionMonitor) RecoverPremature(ctx context.Context) error {
	configs, err := m.configRepo.ListCompletedStarted(ctx)
	if err != nil {
		return err
	}

	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return err
		}

		open, err := m.itemRepo.HasOpenItems(ctx, cfg.ID)
		if err != nil {
			log.Printf("[monitor] failed to check open work rows for %s: %v", cfg.ID, err)
			continue
		}
		if !open {
			continue
		}

		if err := m.configRepo.RevertToThreadSync(ctx, cfg.ID); err != nil {
			log.Printf("[monitor] failed to revert config %s: %v", cfg.ID, err)
			continue
		}
		if err := m.statsRepo.Reopen(ctx, cfg.ID); err != nil {
			log.Printf("[monitor] failed to reopen stats for %s: %v", cfg.ID, err)
		}

		log.Printf("[monitor] config %s completed prematurely, reverted to thread_sync", cfg.ID)
	}
	return nil
}

// isComplete holds when every queued thread has a terminal outcome: all
// counted rows are completed or failed, at least one row exists, and nothing
// is queued or processing.
func isComplete(counts repository.StatusCounts) bool {
	return counts.Total() > 0 &&
		counts.Queued == 0 &&
		counts.Processing == 0 &&
		counts.Completed+counts.Failed >= counts.Total()
}
